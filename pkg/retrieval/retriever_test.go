package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamerhq/roamer/pkg/db/models"
	"github.com/roamerhq/roamer/pkg/planner"
	"github.com/roamerhq/roamer/pkg/store"
)

func testRequest() *planner.Request {
	return &planner.Request{
		ThreadID: "thread-1",
		Question: "5 day trek",
		Time: planner.TimeBlock{
			Start: time.Date(2026, time.July, 3, 0, 0, 0, 0, time.UTC),
			Days:  3,
		},
		Geo: planner.GeoScope{
			Destination: planner.Destination{Type: "region", Name: "California", RegionCode: "US-CA"},
		},
		Constraints: planner.RequestConstraints{
			TripTypes: []string{"TREKKING"},
			Lodging:   planner.LodgingPref{Types: []string{"CAMPING"}},
		},
	}
}

func seedCatalog(t *testing.T, memStore *store.MemoryStore) {
	t.Helper()
	require.NoError(t, memStore.SeedPOIs(context.Background(), []models.PointOfInterest{
		{Name: "Half Dome Trail", Description: "Cable route", RegionCode: "US-CA", Tags: pq.StringArray{"TREKKING"}},
		{Name: "Mount Whitney Trail", Description: "High summit", RegionCode: "US-CA", Tags: pq.StringArray{"TREKKING"}},
		{Name: "Upper Pines Campground", RegionCode: "US-CA", Tags: pq.StringArray{"TREKKING", "CAMPING"}, Lodging: true},
		{Name: "Santa Cruz Boardwalk", RegionCode: "US-CA", Tags: pq.StringArray{"BEACH"}},
	}))
}

// unreachable keeps tests off the network; any request to it is a failure
// the client must degrade around.
func unreachable(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestRetrieveFromCatalog(t *testing.T) {
	memStore := store.NewMemory()
	seedCatalog(t, memStore)

	down := unreachable(t)
	client := New(memStore, nil)
	client.GeocodeURL = down.URL
	client.ForecastURL = down.URL
	client.WikiURL = down.URL

	grounding, err := client.Retrieve(context.Background(), testRequest())
	require.NoError(t, err)

	names := make([]string, 0, len(grounding.POIs))
	for _, poi := range grounding.POIs {
		names = append(names, poi.Name)
	}
	assert.Contains(t, names, "Half Dome Trail")
	assert.Contains(t, names, "Mount Whitney Trail")
	assert.NotContains(t, names, "Santa Cruz Boardwalk")

	require.Len(t, grounding.Lodging, 1)
	assert.Equal(t, "Upper Pines Campground", grounding.Lodging[0].Name)
	assert.Equal(t, "CAMPING", grounding.Lodging[0].Type)

	// Weather endpoints were down; the slot stays empty.
	assert.Nil(t, grounding.Weather)
}

func TestRetrieveHonorsExclusions(t *testing.T) {
	memStore := store.NewMemory()
	seedCatalog(t, memStore)

	down := unreachable(t)
	client := New(memStore, nil)
	client.GeocodeURL = down.URL
	client.ForecastURL = down.URL
	client.WikiURL = down.URL

	req := testRequest()
	req.Constraints.POITags.MustExclude = []string{"Half Dome Trail"}

	grounding, err := client.Retrieve(context.Background(), req)
	require.NoError(t, err)

	for _, poi := range grounding.POIs {
		assert.NotEqual(t, "Half Dome Trail", poi.Name)
	}
}

func TestRetrieveWikipediaFallback(t *testing.T) {
	wiki := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "query", r.URL.Query().Get("action"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"query":{"search":[
			{"title":"Yosemite Valley","snippet":"Granite <span class=\"hl\">cliffs</span> and waterfalls"},
			{"title":"Big Sur","snippet":"Coastal cliffs"}
		]}}`))
	}))
	defer wiki.Close()

	down := unreachable(t)
	client := New(store.NewMemory(), nil)
	client.WikiURL = wiki.URL
	client.GeocodeURL = down.URL
	client.ForecastURL = down.URL

	grounding, err := client.Retrieve(context.Background(), testRequest())
	require.NoError(t, err)

	require.Len(t, grounding.POIs, 2)
	assert.Equal(t, "Yosemite Valley", grounding.POIs[0].Name)
	assert.Equal(t, "Granite cliffs and waterfalls", grounding.POIs[0].Description)

	// No catalog lodging: the generic suggestion stands in.
	require.Len(t, grounding.Lodging, 1)
	assert.Contains(t, grounding.Lodging[0].Name, "California")
}

func TestRetrieveWeather(t *testing.T) {
	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "California", r.URL.Query().Get("name"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"latitude":36.77,"longitude":-119.41}]}`))
	}))
	defer geocode.Close()

	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"daily":{"temperature_2m_max":[30,32,28],"temperature_2m_min":[12,14,10]}}`))
	}))
	defer forecast.Close()

	down := unreachable(t)
	client := New(store.NewMemory(), nil)
	client.GeocodeURL = geocode.URL
	client.ForecastURL = forecast.URL
	client.WikiURL = down.URL

	grounding, err := client.Retrieve(context.Background(), testRequest())
	require.NoError(t, err)

	require.NotNil(t, grounding.Weather)
	assert.InDelta(t, 30.0, grounding.Weather.HighC, 0.01)
	assert.InDelta(t, 12.0, grounding.Weather.LowC, 0.01)
	assert.Contains(t, grounding.Weather.Summary, "California")
}

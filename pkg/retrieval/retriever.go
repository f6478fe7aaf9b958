// Package retrieval gathers the grounding context a plan is generated from:
// catalog points of interest, lodging candidates, and a weather summary for
// the travel window. Retrieval is a pure read with no ordering requirements;
// every source is optional and failures degrade to an emptier context rather
// than failing the job.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/roamerhq/roamer/pkg/apis/cache"
	"github.com/roamerhq/roamer/pkg/planner"
	"github.com/roamerhq/roamer/pkg/store"
)

const (
	defaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	defaultWikiURL     = "https://en.wikipedia.org/w/api.php"

	weatherCacheTTL = 6 * time.Hour
	poiCacheTTL     = 24 * time.Hour

	maxResponseBytes = 1 << 20
)

type Client struct {
	store store.Store
	cache cache.Cache
	http  *http.Client

	// Overridable in tests.
	GeocodeURL  string
	ForecastURL string
	WikiURL     string
}

// New builds a retrieval client. cacheClient may be nil to disable caching.
func New(storeClient store.Store, cacheClient cache.Cache) *Client {
	return &Client{
		store:       storeClient,
		cache:       cacheClient,
		http:        &http.Client{Timeout: 10 * time.Second},
		GeocodeURL:  defaultGeocodeURL,
		ForecastURL: defaultForecastURL,
		WikiURL:     defaultWikiURL,
	}
}

// Retrieve assembles grounding for the normalized request. Only context
// cancellation is returned as an error; source failures are logged and leave
// their slot empty.
func (c *Client) Retrieve(ctx context.Context, req *planner.Request) (*planner.Grounding, error) {
	grounding := &planner.Grounding{}

	pois, lodging := c.retrievePOIs(ctx, req)
	grounding.POIs = pois
	grounding.Lodging = lodging

	if weather := c.retrieveWeather(ctx, req); weather != nil {
		grounding.Weather = weather
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return grounding, nil
}

// retrievePOIs prefers the curated catalog and falls back to a Wikipedia
// search for the destination. Lodging candidates come from catalog rows
// flagged as lodging, with a generic suggestion as the last resort.
func (c *Client) retrievePOIs(ctx context.Context, req *planner.Request) ([]planner.POI, []planner.LodgingOption) {
	logger := log.WithField("thread_id", req.ThreadID)
	limit := req.Time.Days*3 + 5

	tags := append([]string{}, req.Constraints.TripTypes...)
	tags = append(tags, req.Constraints.Themes...)

	var pois []planner.POI
	var lodging []planner.LodgingOption

	excluded := map[string]bool{}
	for _, name := range req.Constraints.POITags.MustExclude {
		excluded[name] = true
	}

	rows, err := c.store.ListPOIs(ctx, req.Geo.Destination.RegionCode, tags, limit)
	if err != nil {
		logger.WithError(err).Warn("catalog POI lookup failed")
	}
	for _, row := range rows {
		if excluded[row.Name] {
			continue
		}
		if row.Lodging {
			lodging = append(lodging, planner.LodgingOption{
				Name:     row.Name,
				Type:     lodgingType(row.Tags),
				Location: row.RegionCode,
				Notes:    row.Description,
			})
			continue
		}
		pois = append(pois, planner.POI{
			Name:        row.Name,
			Description: row.Description,
			Tags:        row.Tags,
		})
	}

	if len(pois) == 0 {
		pois = c.searchWikipedia(ctx, req.Geo.Destination.Name, limit)
	}

	if len(lodging) == 0 && len(req.Constraints.Lodging.Types) > 0 {
		kind := req.Constraints.Lodging.Types[0]
		lodging = append(lodging, planner.LodgingOption{
			Name:  fmt.Sprintf("%s near %s", titleCase(kind), req.Geo.Destination.Name),
			Type:  kind,
			Notes: "Generic suggestion; no catalog lodging matched the request.",
		})
	}

	return pois, lodging
}

func (c *Client) searchWikipedia(ctx context.Context, place string, limit int) []planner.POI {
	cacheKey := "retrieval:pois:" + place
	if cached, ok := c.cacheGet(cacheKey); ok {
		var pois []planner.POI
		if err := json.Unmarshal(cached, &pois); err == nil {
			return pois
		}
	}

	query := url.Values{}
	query.Set("action", "query")
	query.Set("list", "search")
	query.Set("srsearch", "points of interest in "+place)
	query.Set("srlimit", fmt.Sprintf("%d", limit))
	query.Set("format", "json")

	body, err := c.fetch(ctx, c.WikiURL+"?"+query.Encode())
	if err != nil {
		log.WithError(err).WithField("place", place).Warn("wikipedia POI search failed")
		return nil
	}

	var pois []planner.POI
	for _, hit := range gjson.GetBytes(body, "query.search").Array() {
		pois = append(pois, planner.POI{
			Name:        hit.Get("title").String(),
			Description: stripTags(hit.Get("snippet").String()),
		})
	}

	if len(pois) > 0 {
		c.cacheSet(cacheKey, pois, poiCacheTTL)
	}
	return pois
}

// retrieveWeather geocodes the destination and summarizes the forecast for
// the travel window.
func (c *Client) retrieveWeather(ctx context.Context, req *planner.Request) *planner.Weather {
	place := req.Geo.Destination.Name
	cacheKey := fmt.Sprintf("retrieval:weather:%s:%s", place, req.Time.Start.Format("2006-01-02"))
	if cached, ok := c.cacheGet(cacheKey); ok {
		var weather planner.Weather
		if err := json.Unmarshal(cached, &weather); err == nil {
			return &weather
		}
	}

	logger := log.WithField("place", place)

	geoQuery := url.Values{}
	geoQuery.Set("name", place)
	geoQuery.Set("count", "1")
	geoBody, err := c.fetch(ctx, c.GeocodeURL+"?"+geoQuery.Encode())
	if err != nil {
		logger.WithError(err).Warn("geocoding failed")
		return nil
	}
	result := gjson.GetBytes(geoBody, "results.0")
	if !result.Exists() {
		logger.Warn("no geocoding result")
		return nil
	}

	fcQuery := url.Values{}
	fcQuery.Set("latitude", result.Get("latitude").String())
	fcQuery.Set("longitude", result.Get("longitude").String())
	fcQuery.Set("daily", "temperature_2m_max,temperature_2m_min")
	fcQuery.Set("forecast_days", "7")
	fcBody, err := c.fetch(ctx, c.ForecastURL+"?"+fcQuery.Encode())
	if err != nil {
		logger.WithError(err).Warn("forecast fetch failed")
		return nil
	}

	highs := gjson.GetBytes(fcBody, "daily.temperature_2m_max").Array()
	lows := gjson.GetBytes(fcBody, "daily.temperature_2m_min").Array()
	if len(highs) == 0 || len(lows) == 0 {
		return nil
	}

	weather := &planner.Weather{
		HighC: average(highs),
		LowC:  average(lows),
	}
	weather.Summary = fmt.Sprintf("Daytime highs around %.0f°C, overnight lows around %.0f°C near %s.",
		weather.HighC, weather.LowC, place)

	c.cacheSet(cacheKey, weather, weatherCacheTTL)
	return weather
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

func (c *Client) cacheGet(key string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	content, err := c.cache.Get(key)
	if err != nil || len(content) == 0 {
		return nil, false
	}
	return content, true
}

func (c *Client) cacheSet(key string, value interface{}, ttl time.Duration) {
	if c.cache == nil {
		return
	}
	content, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.cache.Set(key, content, ttl); err != nil {
		log.WithError(err).WithField("key", key).Debug("cache write failed")
	}
}

func average(values []gjson.Result) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v.Float()
	}
	return sum / float64(len(values))
}

func lodgingType(tags []string) string {
	for _, tag := range tags {
		switch tag {
		case "CAMPING", "CABIN", "HOTEL", "HOSTEL", "RV_PARK":
			return tag
		}
	}
	return ""
}

// stripTags removes the <span> highlight markup Wikipedia puts in snippets.
func stripTags(s string) string {
	var out []rune
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			out = append(out, r)
		}
	}
	return string(out)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	lowered := make([]rune, 0, len(s))
	for i, r := range s {
		if i == 0 {
			lowered = append(lowered, r)
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		if r == '_' {
			r = ' '
		}
		lowered = append(lowered, r)
	}
	return string(lowered)
}

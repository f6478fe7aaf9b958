package planner

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
)

var normalizeNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func validJob() *v1.Job {
	return &v1.Job{
		RequestID: "req-1",
		ThreadID:  "9f1c5fb2-3f6e-4e0f-a8ce-0b5a3c1de111",
		MessageID: 7,
		Content:   "Plan me a trip",
	}
}

func TestNormalizeRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*v1.Job)
		reason string
	}{
		{
			name:   "missing request id",
			mutate: func(j *v1.Job) { j.RequestID = "" },
			reason: "request_id",
		},
		{
			name:   "empty content",
			mutate: func(j *v1.Job) { j.Content = "   " },
			reason: "empty request content",
		},
		{
			name:   "negative duration",
			mutate: func(j *v1.Job) { j.Constraints.DurationDays = -3 },
			reason: "negative",
		},
		{
			name:   "excessive duration",
			mutate: func(j *v1.Job) { j.Constraints.DurationDays = 45 },
			reason: "maximum",
		},
		{
			name: "unparseable start date",
			mutate: func(j *v1.Job) {
				j.Constraints.Extra = map[string]json.RawMessage{
					"dates": json.RawMessage(`{"start":"03/15/2026"}`),
				}
			},
			reason: "unparseable start date",
		},
		{
			name: "end before start",
			mutate: func(j *v1.Job) {
				j.Constraints.Extra = map[string]json.RawMessage{
					"dates": json.RawMessage(`{"start":"2026-06-10","end":"2026-06-01"}`),
				}
			},
			reason: "end date precedes start date",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			job := validJob()
			tc.mutate(job)

			_, err := Normalize(job, normalizeNow)
			require.Error(t, err)

			var normErr *NormalizationError
			require.ErrorAs(t, err, &normErr)
			assert.Contains(t, normErr.Reason, tc.reason)
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	req, err := Normalize(validJob(), normalizeNow)
	require.NoError(t, err)

	assert.Equal(t, 5, req.Time.Days)
	assert.Equal(t, normalizeNow.AddDate(0, 0, 14).Truncate(24*time.Hour), req.Time.Start)
	assert.Equal(t, DefaultRegionCode, req.Geo.Destination.RegionCode)
	assert.False(t, req.Geo.OutOfScope)
	assert.Equal(t, []string{"CAMPING"}, req.Constraints.TripTypes)
	assert.Equal(t, "EASY", req.Constraints.Difficulty.Level)
	assert.Equal(t, "LOW", req.Constraints.Difficulty.EffortProfile)
	assert.Equal(t, []string{"CAR"}, req.Constraints.Transport.Allowed)
	assert.Equal(t, "USD_0_500", req.Constraints.Budget.Band)
	assert.GreaterOrEqual(t, req.Constraints.Budget.PerDay, 50)
}

func TestNormalizeExplicitConstraints(t *testing.T) {
	job := validJob()
	job.Constraints = v1.Constraints{
		TripTypes:    []string{"trekking", "SPELUNKING"},
		Difficulty:   "moderate",
		BudgetLevel:  "USD_500_1500",
		DurationDays: 5,
		TravelModes:  []string{"car", "TELEPORT"},
	}

	req, err := Normalize(job, normalizeNow)
	require.NoError(t, err)

	// Unsupported values are dropped, the rest uppercased.
	assert.Equal(t, []string{"TREKKING"}, req.Constraints.TripTypes)
	assert.Equal(t, "MODERATE", req.Constraints.Difficulty.Level)
	assert.Equal(t, "MEDIUM", req.Constraints.Difficulty.EffortProfile)
	assert.Equal(t, []string{"CAR"}, req.Constraints.Transport.Allowed)
	assert.Equal(t, 5, req.Time.Days)
	assert.Equal(t, "USD_500_1500", req.Constraints.Budget.Band)
	assert.Equal(t, 1500, req.Constraints.Budget.CeilingTotal)
	assert.Equal(t, 300, req.Constraints.Budget.PerDay)
}

func TestNormalizeDateWindow(t *testing.T) {
	job := validJob()
	job.Constraints.Extra = map[string]json.RawMessage{
		"dates": json.RawMessage(`{"start":"2026-07-03","end":"2026-07-10"}`),
	}

	req, err := Normalize(job, normalizeNow)
	require.NoError(t, err)

	assert.Equal(t, 7, req.Time.Days)
	assert.Equal(t, "SUMMER", req.Time.SeasonHint)
	assert.Equal(t, time.Date(2026, time.July, 3, 0, 0, 0, 0, time.UTC), req.Time.Start)
}

func TestNormalizeOutOfScopeDestination(t *testing.T) {
	job := validJob()
	job.Constraints.Extra = map[string]json.RawMessage{
		"destination": json.RawMessage(`{"type":"region","name":"Patagonia","region_code":"AR-Z"}`),
	}

	req, err := Normalize(job, normalizeNow)
	require.NoError(t, err)

	assert.True(t, req.Geo.OutOfScope)
	assert.Equal(t, DefaultDestinationName, req.Geo.Destination.Name)
	require.NotNil(t, req.Geo.OriginalDestination)
	assert.Equal(t, "Patagonia", req.Geo.OriginalDestination.Name)
}

package v1

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstraintsPreservesUnknownKeys(t *testing.T) {
	payload := `{
		"trip_types": ["TREKKING"],
		"difficulty": "MODERATE",
		"dates": {"start": "2026-07-03", "end": "2026-07-10"},
		"destination": {"name": "Patagonia"}
	}`

	var c Constraints
	require.NoError(t, json.Unmarshal([]byte(payload), &c))

	assert.Equal(t, []string{"TREKKING"}, c.TripTypes)
	assert.Equal(t, "MODERATE", c.Difficulty)
	require.Contains(t, c.Extra, "dates")
	require.Contains(t, c.Extra, "destination")

	// Round trip keeps the unknown keys.
	data, err := json.Marshal(c)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "dates")
	assert.Contains(t, decoded, "destination")
	assert.Contains(t, decoded, "trip_types")
}

func TestJobValidate(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr string
	}{
		{name: "valid", job: Job{RequestID: "r", ThreadID: "t", MessageID: 1}},
		{name: "missing request id", job: Job{ThreadID: "t", MessageID: 1}, wantErr: "request_id"},
		{name: "missing thread id", job: Job{RequestID: "r", MessageID: 1}, wantErr: "thread_id"},
		{name: "missing message id", job: Job{RequestID: "r", ThreadID: "t"}, wantErr: "message_id"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.job.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestMessageContentTextRoundTrip(t *testing.T) {
	data, err := json.Marshal(TextContent("hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text","text":"hello"}`, string(data))

	var decoded MessageContent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ContentTypeText, decoded.Type)
	assert.Equal(t, "hello", decoded.Text)
}

func TestMessageContentPlanRoundTrip(t *testing.T) {
	plan := &TripPlan{
		ThreadID:    "thread-1",
		MessageID:   4,
		Days:        2,
		Destination: "California",
		Itinerary: []DayPlan{
			{Day: 1, Title: "Day 1", Highlights: []string{"Yosemite Valley"}},
			{Day: 2, Title: "Day 2", Highlights: []string{"Glacier Point"}},
		},
	}

	data, err := json.Marshal(PlanContent(plan))
	require.NoError(t, err)

	// The discriminator and version are stamped on the wire even when unset.
	var head struct {
		Type    string `json:"type"`
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal(data, &head))
	assert.Equal(t, ContentTypeTripPlan, head.Type)
	assert.Equal(t, TripPlanVersion, head.Version)

	var decoded MessageContent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ContentTypeTripPlan, decoded.Type)
	require.NotNil(t, decoded.Plan)
	assert.Equal(t, "California", decoded.Plan.Destination)
	require.Len(t, decoded.Plan.Itinerary, 2)
}

func TestMessageContentAcceptsBareString(t *testing.T) {
	var decoded MessageContent
	require.NoError(t, json.Unmarshal([]byte(`"plain text"`), &decoded))
	assert.Equal(t, ContentTypeText, decoded.Type)
	assert.Equal(t, "plain text", decoded.Text)
}

func TestMessageContentRejectsUnknownType(t *testing.T) {
	var decoded MessageContent
	err := json.Unmarshal([]byte(`{"type":"carousel"}`), &decoded)
	assert.Error(t, err)
}

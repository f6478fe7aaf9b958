// Package v1 holds the wire types shared by the intake gateway, the job
// queue, and the planning worker: the job descriptor, the constraints object
// accepted on submission, and the structured trip plan a worker produces.
package v1

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Roles for messages within a thread.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content type discriminators for message payloads.
const (
	ContentTypeText     = "text"
	ContentTypeTripPlan = "trip_plan"
)

// TripPlanVersion is the current trip plan schema version.
const TripPlanVersion = "v1"

// Constraints is the structured filter set a client may attach to a trip
// request. All fields are optional. Unknown keys are preserved in Extra so
// newer clients can round-trip fields this version doesn't validate.
type Constraints struct {
	TripTypes       []string `json:"trip_types,omitempty"`
	Difficulty      string   `json:"difficulty,omitempty"`
	BudgetLevel     string   `json:"budget_level,omitempty"`
	DurationDays    int      `json:"duration_days,omitempty"`
	GroupType       string   `json:"group_type,omitempty"`
	TravelModes     []string `json:"travel_modes,omitempty"`
	Accommodation   []string `json:"accommodation,omitempty"`
	Accessibility   []string `json:"accessibility,omitempty"`
	MealPreferences []string `json:"meal_preferences,omitempty"`
	MustInclude     []string `json:"must_include,omitempty"`
	MustExclude     []string `json:"must_exclude,omitempty"`
	InterestTags    []string `json:"interest_tags,omitempty"`
	EventsOnly      *bool    `json:"events_only,omitempty"`
	Amenities       []string `json:"amenities,omitempty"`

	// Extra carries unrecognized keys verbatim.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownConstraintKeys = map[string]bool{
	"trip_types": true, "difficulty": true, "budget_level": true,
	"duration_days": true, "group_type": true, "travel_modes": true,
	"accommodation": true, "accessibility": true, "meal_preferences": true,
	"must_include": true, "must_exclude": true, "interest_tags": true,
	"events_only": true, "amenities": true,
}

// UnmarshalJSON decodes the recognized fields and stashes everything else in
// Extra.
func (c *Constraints) UnmarshalJSON(data []byte) error {
	type alias Constraints
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if knownConstraintKeys[key] {
			continue
		}
		if a.Extra == nil {
			a.Extra = map[string]json.RawMessage{}
		}
		a.Extra[key] = raw[key]
	}

	*c = Constraints(a)
	return nil
}

// MarshalJSON emits the recognized fields plus any preserved unknown keys.
func (c Constraints) MarshalJSON() ([]byte, error) {
	type alias Constraints
	data, err := json.Marshal(alias(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return data, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range c.Extra {
		if _, taken := merged[key]; !taken {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// Job is the queued unit of work produced by the intake gateway. It always
// references a user message that was durably written before the enqueue.
type Job struct {
	RequestID   string      `json:"request_id"`
	ThreadID    string      `json:"thread_id"`
	MessageID   uint        `json:"message_id"`
	Constraints Constraints `json:"constraints"`
	Content     string      `json:"content"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
}

// Validate checks the fields the worker cannot proceed without.
func (j *Job) Validate() error {
	if j.RequestID == "" {
		return errors.New("job missing request_id")
	}
	if j.ThreadID == "" {
		return errors.New("job missing thread_id")
	}
	if j.MessageID == 0 {
		return errors.New("job missing message_id")
	}
	return nil
}

// Activity is a single free-form activity within a day.
type Activity struct {
	Name               string   `json:"name"`
	Description        string   `json:"description,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	EstimatedTimeHours int      `json:"estimated_time_hours,omitempty"`
}

// DayPlan is one day of the itinerary. Day numbers are unique and run 1..N.
type DayPlan struct {
	Day        int        `json:"day"`
	Title      string     `json:"title"`
	Highlights []string   `json:"highlights"`
	Activities []Activity `json:"activities"`
}

// LodgingSummary describes the suggested place to stay, when one was found.
type LodgingSummary struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// TripPlan is the structured assistant output for a successful planning job.
type TripPlan struct {
	Type          string          `json:"type"`
	Version       string          `json:"version"`
	ThreadID      string          `json:"thread_id"`
	MessageID     uint            `json:"message_id"`
	Days          int             `json:"days"`
	Destination   string          `json:"destination"`
	Difficulty    string          `json:"difficulty"`
	TripTypes     []string        `json:"trip_types"`
	BudgetBand    string          `json:"budget_band"`
	WeatherHint   string          `json:"weather_hint,omitempty"`
	Lodging       *LodgingSummary `json:"lodging,omitempty"`
	WindowSummary string          `json:"window_summary,omitempty"`
	IntroText     string          `json:"intro_text,omitempty"`
	ClosingTips   string          `json:"closing_tips,omitempty"`
	Itinerary     []DayPlan       `json:"itinerary"`
}

// MessageContent is the discriminated union stored as a message's payload:
// either plain text or a structured trip plan.
type MessageContent struct {
	Type string
	Text string
	Plan *TripPlan
}

// TextContent wraps plain text as message content.
func TextContent(text string) MessageContent {
	return MessageContent{Type: ContentTypeText, Text: text}
}

// PlanContent wraps a trip plan as message content.
func PlanContent(plan *TripPlan) MessageContent {
	return MessageContent{Type: ContentTypeTripPlan, Plan: plan}
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MarshalJSON emits {"type":"text","text":...} or the trip plan object.
func (m MessageContent) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case ContentTypeText:
		return json.Marshal(textContent{Type: ContentTypeText, Text: m.Text})
	case ContentTypeTripPlan:
		if m.Plan == nil {
			return nil, errors.New("trip_plan content without a plan")
		}
		plan := *m.Plan
		plan.Type = ContentTypeTripPlan
		if plan.Version == "" {
			plan.Version = TripPlanVersion
		}
		return json.Marshal(plan)
	default:
		return nil, errors.Errorf("unknown content type %q", m.Type)
	}
}

// UnmarshalJSON dispatches on the "type" discriminator. Bare strings are
// accepted as plain text for compatibility with older clients.
func (m *MessageContent) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*m = TextContent(asString)
		return nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	switch head.Type {
	case ContentTypeTripPlan:
		var plan TripPlan
		if err := json.Unmarshal(data, &plan); err != nil {
			return err
		}
		*m = MessageContent{Type: ContentTypeTripPlan, Plan: &plan}
	case ContentTypeText, "":
		var tc textContent
		if err := json.Unmarshal(data, &tc); err != nil {
			return err
		}
		*m = TextContent(tc.Text)
	default:
		return errors.Errorf("unknown content type %q", head.Type)
	}
	return nil
}

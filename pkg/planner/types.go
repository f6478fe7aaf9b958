// Package planner turns a queued trip request into a structured trip plan:
// normalization to a canonical request, then generation with an LLM when one
// is configured, falling back to a deterministic rule-based plan.
package planner

import "time"

// Destination is a resolved place reference.
type Destination struct {
	Type       string `json:"type"` // region, city, or point
	Name       string `json:"name"`
	RegionCode string `json:"region_code,omitempty"`
}

// TimeBlock is the resolved travel window.
type TimeBlock struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Days       int       `json:"days"`
	Nights     int       `json:"nights"`
	SeasonHint string    `json:"season_hint,omitempty"`
}

// GeoScope is the effective destination after clamping to the supported
// region, with the user's original ask preserved when it was out of scope.
type GeoScope struct {
	Destination         Destination  `json:"destination"`
	Origin              *Destination `json:"origin,omitempty"`
	InScopeOnly         bool         `json:"in_scope_only"`
	OutOfScope          bool         `json:"out_of_scope"`
	OriginalDestination *Destination `json:"original_destination,omitempty"`
}

// Difficulty carries the requested level and the effort profile derived
// from it.
type Difficulty struct {
	Level         string `json:"level"`
	EffortProfile string `json:"effort_profile"`
}

// Transport is the allowed/forbidden travel mode set.
type Transport struct {
	Allowed         []string `json:"allowed"`
	Forbidden       []string `json:"forbidden,omitempty"`
	IntercityTravel bool     `json:"intercity_travel"`
}

// LodgingPref captures accommodation preferences.
type LodgingPref struct {
	Types               []string `json:"types"`
	PetFriendlyRequired bool     `json:"pet_friendly_required"`
	AmenitiesPrefer     []string `json:"amenities_prefer,omitempty"`
}

// Budget is the band plus derived spending ceilings.
type Budget struct {
	Band         string `json:"band"`
	CeilingTotal int    `json:"ceiling_total"`
	PerDay       int    `json:"per_day"`
}

// POITags are hard include/exclude lists for points of interest.
type POITags struct {
	MustInclude []string `json:"must_include,omitempty"`
	MustExclude []string `json:"must_exclude,omitempty"`
}

// RequestConstraints is the flattened, clamped filter set downstream stages
// rely on. Every field is populated (possibly with defaults) after Normalize.
type RequestConstraints struct {
	TripTypes  []string    `json:"trip_types"`
	Difficulty Difficulty  `json:"difficulty"`
	Transport  Transport   `json:"transport"`
	Lodging    LodgingPref `json:"lodging"`
	Diet       []string    `json:"diet,omitempty"`
	Themes     []string    `json:"themes,omitempty"`
	POITags    POITags     `json:"poi_tags"`
	Budget     Budget      `json:"budget"`
	EventsOnly bool        `json:"events_only"`
	GroupType  string      `json:"group_type,omitempty"`
}

// Request is the canonical normalized trip request.
type Request struct {
	ThreadID    string             `json:"thread_id"`
	MessageID   uint               `json:"message_id"`
	RequestID   string             `json:"request_id"`
	Question    string             `json:"question"`
	Time        TimeBlock          `json:"time"`
	Geo         GeoScope           `json:"geoscope"`
	Constraints RequestConstraints `json:"constraints"`
}

// POI is a retrieved point of interest.
type POI struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// LodgingOption is a retrieved place to stay.
type LodgingOption struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Weather is a summarized forecast for the travel window.
type Weather struct {
	Summary string  `json:"summary"`
	HighC   float64 `json:"high_c,omitempty"`
	LowC    float64 `json:"low_c,omitempty"`
}

// Grounding is the retrieved context a plan is built from. Any of the fields
// may be empty; generation degrades rather than fails.
type Grounding struct {
	Weather *Weather        `json:"weather,omitempty"`
	POIs    []POI           `json:"pois,omitempty"`
	Lodging []LodgingOption `json:"lodging,omitempty"`
}

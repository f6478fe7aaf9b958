package planner

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
)

// The region this deployment plans trips for. Requests for other regions are
// clamped here with the original ask preserved in the geo scope.
const (
	DefaultRegionCode      = "US-CA"
	DefaultDestinationName = "California"
)

// Default trip length when neither dates nor duration_days are given.
const defaultDays = 5

// MaxDurationDays bounds the duration_days constraint.
const MaxDurationDays = 30

var SupportedTripTypes = []string{"CAMPING", "TREKKING", "HIKING", "ROAD_TRIP", "BEACH", "WILDLIFE", "EVENTS"}

var SupportedDifficulty = []string{"EASY", "MODERATE", "HARD"}

var SupportedTravelModes = []string{"CAR", "RV", "TRAIN", "BUS", "BIKE", "WALK"}

var SupportedAccommodation = []string{"CAMPING", "CABIN", "HOTEL", "HOSTEL", "RV_PARK"}

var SupportedAmenities = []string{"SHOWERS", "WIFI", "FIRE_PIT", "PET_AREA", "PARKING", "EV_CHARGING"}

// BudgetBands maps a band name to its (low, high) total-USD range.
var BudgetBands = map[string][2]int{
	"USD_0_500":     {0, 500},
	"USD_500_1500":  {500, 1500},
	"USD_1500_5000": {1500, 5000},
	"USD_5000_PLUS": {5000, 20000},
}

const defaultBudgetBand = "USD_0_500"

const dateLayout = "2006-01-02"

// Normalize validates the job and flattens its free text plus constraints
// into the canonical Request the rest of the pipeline relies on. Every enum
// is clamped to the supported set and every field ends up populated, with
// defaults standing in for anything absent.
func Normalize(job *v1.Job, now time.Time) (*Request, error) {
	if job == nil {
		return nil, &NormalizationError{Reason: "nil job"}
	}
	if err := job.Validate(); err != nil {
		return nil, &NormalizationError{Reason: err.Error()}
	}
	if strings.TrimSpace(job.Content) == "" {
		return nil, &NormalizationError{Reason: "empty request content"}
	}

	uf := job.Constraints
	if uf.DurationDays < 0 {
		return nil, &NormalizationError{Reason: "duration_days must not be negative"}
	}
	if uf.DurationDays > MaxDurationDays {
		return nil, &NormalizationError{Reason: "duration_days exceeds the supported maximum"}
	}

	timeBlock, err := resolveTimeBlock(uf, now)
	if err != nil {
		return nil, err
	}

	geo := resolveGeoScope(uf)

	level := strings.ToUpper(uf.Difficulty)
	if !contains(SupportedDifficulty, level) {
		level = "EASY"
	}
	effort := map[string]string{"EASY": "LOW", "MODERATE": "MEDIUM", "HARD": "HIGH"}[level]

	band := uf.BudgetLevel
	if _, known := BudgetBands[band]; !known {
		band = defaultBudgetBand
	}
	ceiling := BudgetBands[band][1]
	perDay := ceiling / timeBlock.Days
	if perDay < 50 {
		perDay = 50
	}

	constraints := RequestConstraints{
		TripTypes:  clamp(uf.TripTypes, SupportedTripTypes, "CAMPING"),
		Difficulty: Difficulty{Level: level, EffortProfile: effort},
		Transport: Transport{
			Allowed:         clamp(uf.TravelModes, SupportedTravelModes, "CAR"),
			Forbidden:       uf.MustExclude,
			IntercityTravel: geo.Origin != nil,
		},
		Lodging: LodgingPref{
			Types:               clamp(uf.Accommodation, SupportedAccommodation, "CAMPING"),
			PetFriendlyRequired: contains(uf.Accessibility, "PET_FRIENDLY"),
			AmenitiesPrefer:     clamp(uf.Amenities, SupportedAmenities, ""),
		},
		Diet:   uf.MealPreferences,
		Themes: uf.InterestTags,
		POITags: POITags{
			MustInclude: uf.MustInclude,
			MustExclude: uf.MustExclude,
		},
		Budget:     Budget{Band: band, CeilingTotal: ceiling, PerDay: perDay},
		EventsOnly: uf.EventsOnly != nil && *uf.EventsOnly,
		GroupType:  uf.GroupType,
	}

	return &Request{
		ThreadID:    job.ThreadID,
		MessageID:   job.MessageID,
		RequestID:   job.RequestID,
		Question:    job.Content,
		Time:        timeBlock,
		Geo:         geo,
		Constraints: constraints,
	}, nil
}

func resolveTimeBlock(uf v1.Constraints, now time.Time) (TimeBlock, error) {
	var start, end time.Time

	if raw, ok := uf.Extra["dates"]; ok {
		startStr := gjson.GetBytes(raw, "start").String()
		endStr := gjson.GetBytes(raw, "end").String()

		var err error
		if startStr != "" {
			if start, err = time.Parse(dateLayout, startStr); err != nil {
				return TimeBlock{}, &NormalizationError{Reason: "unparseable start date " + startStr}
			}
		}
		if endStr != "" {
			if end, err = time.Parse(dateLayout, endStr); err != nil {
				return TimeBlock{}, &NormalizationError{Reason: "unparseable end date " + endStr}
			}
		}
	}

	days := uf.DurationDays
	if !start.IsZero() && !end.IsZero() {
		if end.Before(start) {
			return TimeBlock{}, &NormalizationError{Reason: "end date precedes start date"}
		}
		days = int(end.Sub(start).Hours() / 24)
		if days < 1 {
			days = 1
		}
	}
	if days == 0 {
		days = defaultDays
	}

	// No dates given: plan a window two weeks out.
	if start.IsZero() {
		start = now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, 14)
	}
	if end.IsZero() {
		end = start.AddDate(0, 0, days)
	}

	return TimeBlock{
		Start:      start,
		End:        end,
		Days:       days,
		Nights:     days,
		SeasonHint: seasonHint(start.Month()),
	}, nil
}

func resolveGeoScope(uf v1.Constraints) GeoScope {
	requested := parseDestination(uf, "destination")
	origin := parseDestination(uf, "origin")

	geo := GeoScope{
		Destination: Destination{Type: "region", Name: DefaultDestinationName, RegionCode: DefaultRegionCode},
		Origin:      origin,
		InScopeOnly: true,
	}
	if requested != nil {
		if requested.RegionCode == DefaultRegionCode {
			geo.Destination = *requested
		} else {
			geo.OutOfScope = true
			geo.OriginalDestination = requested
		}
	}
	return geo
}

func parseDestination(uf v1.Constraints, key string) *Destination {
	raw, ok := uf.Extra[key]
	if !ok {
		return nil
	}
	parsed := gjson.ParseBytes(raw)
	dest := Destination{
		Type:       parsed.Get("type").String(),
		Name:       parsed.Get("name").String(),
		RegionCode: parsed.Get("region_code").String(),
	}
	if dest.Type == "" {
		dest.Type = "region"
	}
	if dest.Name == "" && dest.RegionCode == "" {
		return nil
	}
	return &dest
}

func seasonHint(month time.Month) string {
	switch month {
	case time.December, time.January, time.February:
		return "WINTER"
	case time.March, time.April, time.May:
		return "SPRING"
	case time.June, time.July, time.August:
		return "SUMMER"
	default:
		return "FALL"
	}
}

// clamp filters values to the supported set, falling back to fallback when
// nothing survives. An empty fallback means an empty result is allowed.
func clamp(values, supported []string, fallback string) []string {
	var out []string
	for _, value := range values {
		upper := strings.ToUpper(value)
		if contains(supported, upper) {
			out = append(out, upper)
		}
	}
	if len(out) == 0 && fallback != "" {
		out = []string{fallback}
	}
	return out
}

func contains(values []string, wanted string) bool {
	for _, value := range values {
		if value == wanted {
			return true
		}
	}
	return false
}

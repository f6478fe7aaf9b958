package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
)

// LLM is the plan-generation provider. *ai.LLMClient satisfies it; a nil LLM
// means the planner is rule-based only.
type LLM interface {
	Chat(ctx context.Context, instructions, data string) (string, error)
}

type Planner struct {
	llm LLM
}

func New(llm LLM) *Planner {
	return &Planner{llm: llm}
}

const planInstructions = `You are a trip-planning assistant. Given a normalized trip request and
retrieved context (points of interest, lodging, weather), produce a day-by-day
itinerary as a single JSON object with exactly these fields:

{"destination": string, "days": number, "intro_text": string,
 "closing_tips": string,
 "itinerary": [{"day": number, "title": string, "highlights": [string],
   "activities": [{"name": string, "description": string}]}]}

The itinerary must contain exactly "days" entries numbered 1..days. Ground
activities in the provided points of interest; do not invent specific
businesses. Respond with JSON only.`

// Generate produces a trip plan for the normalized request. With an LLM
// configured it prompts the model and validates the response; any provider
// or parse failure comes back as a *GenerationError so the caller can retry
// before falling back.
func (p *Planner) Generate(ctx context.Context, req *Request, grounding *Grounding) (*v1.TripPlan, error) {
	if p.llm == nil {
		return p.Fallback(req, grounding), nil
	}

	input := struct {
		Request   *Request   `json:"request"`
		Grounding *Grounding `json:"grounding"`
	}{Request: req, Grounding: grounding}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, &GenerationError{Reason: "marshal prompt input", Err: err}
	}

	content, err := p.llm.Chat(ctx, planInstructions, string(data))
	if err != nil {
		return nil, &GenerationError{Reason: "plan provider call", Err: err}
	}

	jsonContent := ExtractJSON(content)
	if jsonContent == "" {
		return nil, &GenerationError{Reason: "no JSON object in provider response"}
	}

	var plan v1.TripPlan
	if err := json.Unmarshal([]byte(jsonContent), &plan); err != nil {
		return nil, &GenerationError{Reason: "parse provider response", Err: err}
	}

	finalizePlan(&plan, req, grounding)
	if err := validatePlan(&plan, req); err != nil {
		return nil, &GenerationError{Reason: err.Error()}
	}
	return &plan, nil
}

// Fallback builds a deterministic plan from the retrieved context alone.
// It never fails; it is both the no-LLM mode and the last resort after
// generation retries are exhausted.
func (p *Planner) Fallback(req *Request, grounding *Grounding) *v1.TripPlan {
	return RuleBasedPlan(req, grounding)
}

const maxPOIsPerDay = 3

// RuleBasedPlan schedules up to three retrieved points of interest per day
// and fills the plan's summary fields from the normalized request.
func RuleBasedPlan(req *Request, grounding *Grounding) *v1.TripPlan {
	if grounding == nil {
		grounding = &Grounding{}
	}
	destination := req.Geo.Destination.Name
	days := req.Time.Days

	pois := grounding.POIs
	if len(pois) > days*maxPOIsPerDay {
		pois = pois[:days*maxPOIsPerDay]
	}

	itinerary := make([]v1.DayPlan, 0, days)
	for dayIdx := 0; dayIdx < days; dayIdx++ {
		dayNumber := dayIdx + 1
		start := dayIdx * maxPOIsPerDay
		end := start + maxPOIsPerDay
		if start > len(pois) {
			start = len(pois)
		}
		if end > len(pois) {
			end = len(pois)
		}

		var activities []v1.Activity
		var highlights []string
		for _, poi := range pois[start:end] {
			activities = append(activities, v1.Activity{
				Name:               poi.Name,
				Description:        poi.Description,
				Tags:               poi.Tags,
				EstimatedTimeHours: 2,
			})
			highlights = append(highlights, poi.Name)
		}
		if len(highlights) == 0 {
			highlights = []string{"Explore " + destination}
		}

		title := fmt.Sprintf("Day %d in %s", dayNumber, destination)
		if dayNumber == 1 {
			title += " – Arrival & Scenic Intro"
		} else if dayNumber == days {
			title += " – Wrap-up & Relax"
		}

		itinerary = append(itinerary, v1.DayPlan{
			Day:        dayNumber,
			Title:      title,
			Highlights: highlights,
			Activities: activities,
		})
	}

	plan := &v1.TripPlan{
		Type:          v1.ContentTypeTripPlan,
		Version:       v1.TripPlanVersion,
		ThreadID:      req.ThreadID,
		MessageID:     req.MessageID,
		Days:          days,
		Destination:   destination,
		Difficulty:    req.Constraints.Difficulty.Level,
		TripTypes:     req.Constraints.TripTypes,
		BudgetBand:    req.Constraints.Budget.Band,
		WindowSummary: windowSummary(req.Time),
		Itinerary:     itinerary,
	}

	if grounding.Weather != nil {
		plan.WeatherHint = grounding.Weather.Summary
	}
	if len(grounding.Lodging) > 0 {
		primary := grounding.Lodging[0]
		plan.Lodging = &v1.LodgingSummary{
			Name:     primary.Name,
			Type:     primary.Type,
			Location: primary.Location,
			Notes:    primary.Notes,
		}
	}
	if req.Geo.OutOfScope && req.Geo.OriginalDestination != nil {
		plan.IntroText = fmt.Sprintf(
			"We currently plan trips within %s, so here is a %d-day plan there instead of %s.",
			destination, days, req.Geo.OriginalDestination.Name)
	} else {
		plan.IntroText = fmt.Sprintf("Here is a %d-day plan for %s.", days, destination)
	}
	plan.ClosingTips = "Check opening hours and conditions before you go, and book lodging early in peak season."

	return plan
}

func windowSummary(tb TimeBlock) string {
	summary := fmt.Sprintf("%s – %s", tb.Start.Format("Jan 2"), tb.End.Format("Jan 2"))
	if tb.SeasonHint != "" {
		summary += " (" + tb.SeasonHint + ")"
	}
	return summary
}

// finalizePlan stamps the fields the provider is not trusted to set.
func finalizePlan(plan *v1.TripPlan, req *Request, grounding *Grounding) {
	plan.Type = v1.ContentTypeTripPlan
	plan.Version = v1.TripPlanVersion
	plan.ThreadID = req.ThreadID
	plan.MessageID = req.MessageID
	plan.Difficulty = req.Constraints.Difficulty.Level
	plan.TripTypes = req.Constraints.TripTypes
	plan.BudgetBand = req.Constraints.Budget.Band
	if plan.Destination == "" {
		plan.Destination = req.Geo.Destination.Name
	}
	if plan.Days == 0 {
		plan.Days = req.Time.Days
	}
	if plan.WindowSummary == "" {
		plan.WindowSummary = windowSummary(req.Time)
	}
	if plan.WeatherHint == "" && grounding != nil && grounding.Weather != nil {
		plan.WeatherHint = grounding.Weather.Summary
	}
}

func validatePlan(plan *v1.TripPlan, req *Request) error {
	if len(plan.Itinerary) == 0 {
		return fmt.Errorf("empty itinerary")
	}
	if plan.Days != req.Time.Days {
		return fmt.Errorf("itinerary covers %d days, requested %d", plan.Days, req.Time.Days)
	}
	if len(plan.Itinerary) != plan.Days {
		return fmt.Errorf("itinerary has %d entries for %d days", len(plan.Itinerary), plan.Days)
	}
	for i, day := range plan.Itinerary {
		if day.Day != i+1 {
			return fmt.Errorf("day %d out of order at position %d", day.Day, i)
		}
	}
	return nil
}

// ExtractJSON pulls the first JSON object out of a model response,
// tolerating markdown code fences and surrounding prose.
func ExtractJSON(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "```"); idx >= 0 {
		content = content[idx+3:]
		content = strings.TrimPrefix(content, "json")
		if end := strings.Index(content, "```"); end >= 0 {
			content = content[:end]
		}
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	candidate := content[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}

package specialist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tripplanner/agentcore/internal/mapadapter"
	"github.com/tripplanner/agentcore/internal/orchestration"
)

var draftSchema = mustCompileSchema("draft-itinerary.json", `{
	"type": "object",
	"required": ["days"],
	"properties": {
		"days": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["dayIndex", "attractions"],
				"properties": {
					"dayIndex": {"type": "integer"},
					"date": {"type": "string"},
					"attractions": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["startTime", "name"],
							"properties": {
								"startTime": {"type": "string"},
								"name": {"type": "string"},
								"duration": {"type": "string"},
								"type": {"type": "string"}
							}
						}
					},
					"meals": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["time", "meal"],
							"properties": {
								"time": {"type": "string"},
								"meal": {"type": "string"},
								"cuisine": {"type": "string"}
							}
						}
					}
				}
			}
		}
	}
}`)

type draftLLMOutput struct {
	Days []struct {
		DayIndex    int    `json:"dayIndex"`
		Date        string `json:"date"`
		Attractions []struct {
			StartTime string `json:"startTime"`
			Name      string `json:"name"`
			Duration  string `json:"duration"`
			Type      string `json:"type"`
		} `json:"attractions"`
		Meals []struct {
			Time    string `json:"time"`
			Meal    string `json:"meal"`
			Cuisine string `json:"cuisine"`
		} `json:"meals"`
	} `json:"days"`
}

// ItineraryPlanner returns the Itinerary Planner NodeFunc. It produces a
// DraftItinerary either from the LLM (when configured) or a rule-based POI
// draw, then enriches every attraction missing coordinates via MapAdapter
// POI search, falling back to geocoding, and otherwise leaving it
// un-geocoded — never blocking the draft on a lookup failure.
func ItineraryPlanner(deps *Deps, metrics *MetricsTracker) orchestration.NodeFunc {
	return func(ctx context.Context, state *orchestration.TripState) (orchestration.StateUpdate, error) {
		start := time.Now()
		totalDays := state.Input.Days()
		confidence := 0.55

		var draft *orchestration.DraftItinerary
		if deps.LLM != nil {
			if d, err := draftFromLLM(ctx, deps, state); err == nil {
				draft = d
				confidence = 0.8
			} else {
				deps.Log.Debugw("itinerary_planner: LLM draft failed, using rule-based fallback", "error", err)
			}
		}
		if draft == nil {
			draft = ruleBasedDraft(ctx, deps, state, totalDays)
		}

		enrichDraftLocations(ctx, deps, draft, state.Input.Destination)
		draft.Renumber(state.Input.StartDate)
		recount(draft)

		metrics.Record(time.Since(start), confidence, true)
		return orchestration.StateUpdate{Draft: draft}, nil
	}
}

func draftFromLLM(ctx context.Context, deps *Deps, state *orchestration.TripState) (*orchestration.DraftItinerary, error) {
	var feedback string
	if state.Budget != nil && state.Budget.Feedback != nil {
		feedback = fmt.Sprintf("\nThe previous draft exceeded budget. Apply this feedback: %s (target reduction: %.0f).",
			state.Budget.Feedback.Suggestion, state.Budget.Feedback.TargetReduction)
	}
	var tags []string
	var advice string
	if state.Weather != nil {
		for _, t := range state.Weather.StrategyTags {
			tags = append(tags, string(t))
		}
		advice = state.Weather.ClothingAdvice
	}

	prompt := fmt.Sprintf(`Plan a %d-day trip to %s for %d travelers, arriving %s at %s and departing %s at %s.
Strategy tags: %s. Clothing advice: %s.%s
Respect these rules: 4-6 attractions per day (fewer on the arrival/departure days
if travel time is short), 2-3 meal slots per day, avoid outdoor attractions between
12:00 and 14:00 if hot_weather is present, schedule at least one indoor attraction
per day if indoor_priority is present, and keep each day's attractions
geographically close together.
Emit a single JSON object: {"days":[{"dayIndex":1,"date":"YYYY-MM-DD","attractions":[{"startTime":"HH:MM","name":"...","duration":"2h","type":"indoor|outdoor"}],"meals":[{"time":"HH:MM","meal":"breakfast|lunch|dinner|snack","cuisine":"..."}]}]}.
Reply with only the JSON object.`,
		state.Input.Days(), state.Input.Destination, state.Input.Travelers,
		state.Input.StartDate, state.Input.StartTime, state.Input.EndDate, state.Input.EndTime,
		strings.Join(tags, ", "), advice, feedback)

	text, err := deps.askLLM(ctx, prompt, 1800)
	if err != nil {
		return nil, err
	}
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var out draftLLMOutput
	if err := decodeAndValidate(raw, draftSchema, &out); err != nil {
		return nil, err
	}
	if len(out.Days) == 0 {
		return nil, fmt.Errorf("specialist: LLM returned no days")
	}

	draft := &orchestration.DraftItinerary{}
	for _, d := range out.Days {
		day := orchestration.DraftDay{DayIndex: d.DayIndex, Date: d.Date}
		for _, a := range d.Attractions {
			day.Attractions = append(day.Attractions, orchestration.AttractionSlot{
				StartTime: a.StartTime,
				Name:      a.Name,
				Duration:  a.Duration,
				Type:      a.Type,
			})
		}
		for _, m := range d.Meals {
			day.Meals = append(day.Meals, orchestration.MealSlot{Time: m.Time, Meal: m.Meal, Cuisine: m.Cuisine})
		}
		draft.Days = append(draft.Days, day)
	}
	return draft, nil
}

// ruleBasedDraft draws real POIs for the destination and lays them out
// across the trip, applying the arrival/departure/strategy-tag rules
// directly instead of through an LLM prompt.
func ruleBasedDraft(ctx context.Context, deps *Deps, state *orchestration.TripState, totalDays int) *orchestration.DraftItinerary {
	pois := searchAttractionPOIs(ctx, deps, state.Input.Destination, totalDays*6)

	reduceBy := 0
	if state.Budget != nil && state.Budget.Feedback != nil && state.Budget.Feedback.Action == "reduce_attractions" {
		reduceBy = 1
	}

	draft := &orchestration.DraftItinerary{}
	offset := 0
	for day := 1; day <= totalDays; day++ {
		count := attractionCountForDay(day, totalDays, state.Input) - reduceBy
		if count < 2 {
			count = 2
		}
		if offset+count > len(pois) {
			count = len(pois) - offset
		}
		if count < 0 {
			count = 0
		}
		dayPOIs := pois[offset : offset+count]
		offset += count

		draft.Days = append(draft.Days, buildRuleBasedDay(day, totalDays, dayPOIs, state.Input, state.Weather))
	}
	return draft
}

func searchAttractionPOIs(ctx context.Context, deps *Deps, destination string, want int) []mapadapter.POI {
	res := deps.Adapter.SearchPOI(ctx, mapadapter.POISearchParams{
		City:     destination,
		Keyword:  "attraction",
		Type:     "attraction",
		PageSize: want,
	})
	if res == nil || len(res.POIs) == 0 {
		return nil
	}
	return res.POIs
}

func buildRuleBasedDay(dayIdx, totalDays int, pois []mapadapter.POI, input orchestration.TripInput, weather *orchestration.WeatherReport) orchestration.DraftDay {
	hot := weather != nil && weather.HasStrategy(orchestration.StrategyHotWeather)
	indoorPriority := weather != nil && weather.HasStrategy(orchestration.StrategyIndoorPriority)

	slots := candidateAttractionTimes(len(pois))
	attractions := make([]orchestration.AttractionSlot, 0, len(pois))
	indoorSeen := false
	for i, poi := range pois {
		kind := classifyIndoorOutdoor(poi.Category, poi.Name)
		t := slots[i]
		if hot && kind == "outdoor" && inHotWindow(t) {
			t = shiftOutOfHotWindow(t)
		}
		if kind == "indoor" {
			indoorSeen = true
		}
		loc := poi.Location
		attractions = append(attractions, orchestration.AttractionSlot{
			StartTime: t,
			Name:      poi.Name,
			Duration:  "2h",
			Type:      kind,
			POIID:     poi.ID,
			Location:  &loc,
		})
	}
	if indoorPriority && !indoorSeen && len(attractions) > 0 {
		attractions[0].Type = "indoor"
	}

	return orchestration.DraftDay{
		DayIndex:    dayIdx,
		Attractions: attractions,
		Meals:       mealsForDay(dayIdx, totalDays, input),
	}
}

func attractionCountForDay(dayIdx, totalDays int, input orchestration.TripInput) int {
	if totalDays == 1 {
		return 4
	}
	if dayIdx == 1 && arrivesAfternoon(input.StartTime) {
		return 3
	}
	if dayIdx == totalDays && departsMorning(input.EndTime) {
		return 2
	}
	return 5
}

func mealsForDay(dayIdx, totalDays int, input orchestration.TripInput) []orchestration.MealSlot {
	var meals []orchestration.MealSlot
	skipBreakfast := dayIdx == 1 && arrivesAfternoon(input.StartTime)
	skipDinner := dayIdx == totalDays && departsMorning(input.EndTime)
	if !skipBreakfast {
		meals = append(meals, orchestration.MealSlot{Time: "08:00", Meal: "breakfast"})
	}
	meals = append(meals, orchestration.MealSlot{Time: "12:30", Meal: "lunch"})
	if !skipDinner {
		meals = append(meals, orchestration.MealSlot{Time: "18:30", Meal: "dinner"})
	}
	return meals
}

func arrivesAfternoon(startTime string) bool {
	t, err := time.Parse("15:04", startTime)
	if err != nil {
		return false
	}
	return t.Hour() >= 13
}

func departsMorning(endTime string) bool {
	t, err := time.Parse("15:04", endTime)
	if err != nil {
		return false
	}
	return t.Hour() < 11
}

func candidateAttractionTimes(count int) []string {
	pool := []string{"09:00", "10:30", "12:00", "13:30", "15:00", "16:30"}
	if count > len(pool) {
		count = len(pool)
	}
	return pool[:count]
}

func inHotWindow(t string) bool {
	parsed, err := time.Parse("15:04", t)
	if err != nil {
		return false
	}
	mins := parsed.Hour()*60 + parsed.Minute()
	return mins >= 12*60 && mins < 14*60
}

func shiftOutOfHotWindow(string) string { return "14:30" }

func classifyIndoorOutdoor(category, name string) string {
	l := strings.ToLower(category + " " + name)
	indoorKeywords := []string{"museum", "gallery", "aquarium", "indoor", "博物馆", "美术馆", "展览"}
	for _, k := range indoorKeywords {
		if strings.Contains(l, k) {
			return "indoor"
		}
	}
	return "outdoor"
}

// enrichDraftLocations fills in every attraction's coordinates that the
// planning step left empty, one lookup at a time, paced by the shared
// enrichment limiter: POI search first, geocode second, left un-geocoded
// if both fail.
func enrichDraftLocations(ctx context.Context, deps *Deps, draft *orchestration.DraftItinerary, destination string) {
	for di := range draft.Days {
		for ai := range draft.Days[di].Attractions {
			a := &draft.Days[di].Attractions[ai]
			if a.Location != nil {
				continue
			}
			if err := deps.throttleEnrichCall(ctx); err != nil {
				return
			}
			if res := deps.Adapter.SearchPOI(ctx, mapadapter.POISearchParams{
				City: destination, Keyword: a.Name, PageSize: 1,
			}); res != nil && len(res.POIs) > 0 {
				poi := res.POIs[0]
				loc := poi.Location
				a.Location = &loc
				if a.POIID == "" {
					a.POIID = poi.ID
				}
				continue
			}
			if err := deps.throttleEnrichCall(ctx); err != nil {
				return
			}
			if geo := deps.Adapter.Geocode(ctx, destination+" "+a.Name); geo != nil {
				loc := geo.Location
				a.Location = &loc
			}
		}
	}
}

func recount(d *orchestration.DraftItinerary) {
	total := 0
	for _, day := range d.Days {
		total += len(day.Attractions)
	}
	d.TotalAttractionCount = total
}

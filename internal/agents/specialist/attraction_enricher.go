package specialist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tripplanner/agentcore/internal/mapadapter"
	"github.com/tripplanner/agentcore/internal/orchestration"
)

var enrichmentSchema = mustCompileSchema("enrichment.json", `{
	"type": "object",
	"required": ["attractions"],
	"properties": {
		"attractions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"description": {"type": "string"},
					"tips": {"type": "string"},
					"recommendedMinutes": {"type": "integer"},
					"tags": {"type": "array", "items": {"type": "string"}},
					"ticketPrice": {"type": "number"}
				}
			}
		}
	}
}`)

type enrichmentLLMOutput struct {
	Attractions []struct {
		Name               string   `json:"name"`
		Description        string   `json:"description"`
		Tips               string   `json:"tips"`
		RecommendedMinutes int      `json:"recommendedMinutes"`
		Tags               []string `json:"tags"`
		TicketPrice        float64  `json:"ticketPrice"`
	} `json:"attractions"`
}

// themeParkKeywords mark theme parks, billed at a flat 300 and checked
// before the free and famous-site (150) keyword lists.
var themeParkKeywords = []string{"theme park", "disney", "universal studios", "迪士尼", "环球影城", "主题公园"}
var freeKeywords = []string{"park", "square", "street", "公园", "广场", "街"}
var famousKeywords = []string{"museum", "palace", "temple", "cathedral", "tower", "博物馆", "宫", "寺", "教堂", "塔"}

// AttractionEnricher returns the Attraction Enricher NodeFunc: for every
// draft attraction it performs a city-limited POI lookup, layers on
// heuristic ticket-price/opening-hours/duration estimates, and — when an
// LLM is configured — merges the LLM's richer description over the
// heuristic one while keeping the heuristic's POI identifiers, photos,
// and rating.
func AttractionEnricher(deps *Deps, metrics *MetricsTracker) orchestration.NodeFunc {
	return func(ctx context.Context, state *orchestration.TripState) (orchestration.StateUpdate, error) {
		start := time.Now()
		confidence := 0.6

		if state.Draft == nil {
			metrics.Record(time.Since(start), 0, false)
			return orchestration.StateUpdate{}, fmt.Errorf("%w: attraction_enricher requires a draft itinerary", orchestration.ErrValidationFailure)
		}

		var enriched []orchestration.EnrichedAttraction
		for _, day := range state.Draft.Days {
			for _, a := range day.Attractions {
				enriched = append(enriched, heuristicEnrich(ctx, deps, state.Input.Destination, a))
			}
		}

		if deps.LLM != nil {
			if merged, err := mergeLLMEnrichment(ctx, deps, enriched); err == nil {
				enriched = merged
				confidence = 0.82
			} else {
				deps.Log.Debugw("attraction_enricher: LLM merge failed, keeping heuristic enrichment", "error", err)
			}
		}

		total := 0.0
		for _, a := range enriched {
			total += a.TicketPrice * float64(state.Input.Travelers)
		}

		metrics.Record(time.Since(start), confidence, true)
		return orchestration.StateUpdate{
			Enrichment: &orchestration.EnrichmentResult{Attractions: enriched, TotalTicketCost: total},
		}, nil
	}
}

func heuristicEnrich(ctx context.Context, deps *Deps, destination string, a orchestration.AttractionSlot) orchestration.EnrichedAttraction {
	result := orchestration.EnrichedAttraction{
		Name:               a.Name,
		TicketPrice:        priceFromKeywords(a.Name),
		OpeningHours:       "09:00-17:00",
		RecommendedMinutes: 120,
		POIID:              a.POIID,
		Category:           a.Type,
	}
	if a.Location != nil {
		result.Location = *a.Location
	}

	_ = deps.throttleEnrichCall(ctx)
	if res := deps.Adapter.SearchPOI(ctx, mapadapter.POISearchParams{
		City: destination, Keyword: a.Name, PageSize: 1,
	}); res != nil && len(res.POIs) > 0 {
		poi := res.POIs[0]
		result.Address = poi.Address
		result.Rating = poi.Rating
		result.Tel = poi.Tel
		result.Photos = poi.Photos
		if poi.OpeningHours != "" {
			result.OpeningHours = poi.OpeningHours
		}
		if result.POIID == "" {
			result.POIID = poi.ID
		}
		if a.Location == nil {
			result.Location = poi.Location
		}
	}
	return result
}

// priceFromKeywords maps an attraction name to a ticket price bucket via
// the keyword table in §4.3: free for parks/squares/streets, 150 for a
// closed set of world-famous sites, 300 for theme parks, 60 otherwise.
func priceFromKeywords(name string) float64 {
	l := strings.ToLower(name)
	for _, k := range themeParkKeywords {
		if strings.Contains(l, k) {
			return 300
		}
	}
	for _, k := range freeKeywords {
		if strings.Contains(l, k) {
			return 0
		}
	}
	for _, k := range famousKeywords {
		if strings.Contains(l, k) {
			return 150
		}
	}
	return 60
}

func mergeLLMEnrichment(ctx context.Context, deps *Deps, heuristic []orchestration.EnrichedAttraction) ([]orchestration.EnrichedAttraction, error) {
	var names strings.Builder
	for _, a := range heuristic {
		fmt.Fprintf(&names, "- %s\n", a.Name)
	}
	prompt := fmt.Sprintf(`For each of these attractions, write a one-sentence description, a
one-sentence visitor tip, a recommended visit duration in minutes, and up to
four tags. Attractions:
%s
Emit a single JSON object: {"attractions":[{"name":"...","description":"...","tips":"...","recommendedMinutes":90,"tags":["..."]}]}.
Reply with only the JSON object.`, names.String())

	text, err := deps.askLLM(ctx, prompt, 1200)
	if err != nil {
		return nil, err
	}
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var out enrichmentLLMOutput
	if err := decodeAndValidate(raw, enrichmentSchema, &out); err != nil {
		return nil, err
	}

	byName := make(map[string]int, len(out.Attractions))
	for i, a := range out.Attractions {
		byName[a.Name] = i
	}
	merged := make([]orchestration.EnrichedAttraction, len(heuristic))
	for i, h := range heuristic {
		merged[i] = h
		idx, ok := byName[h.Name]
		if !ok {
			continue
		}
		llm := out.Attractions[idx]
		if llm.Description != "" {
			merged[i].Description = llm.Description
		}
		if llm.Tips != "" {
			merged[i].Tips = llm.Tips
		}
		if llm.RecommendedMinutes > 0 {
			merged[i].RecommendedMinutes = llm.RecommendedMinutes
		}
		if len(llm.Tags) > 0 {
			merged[i].Tags = llm.Tags
		}
		// POIID, Photos, and Rating are kept from the heuristic pass.
	}
	return merged, nil
}

package specialist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tripplanner/agentcore/internal/mapadapter"
	"github.com/tripplanner/agentcore/internal/orchestration"
)

var accommodationSchema = mustCompileSchema("accommodation.json", `{
	"type": "object",
	"required": ["recommendations"],
	"properties": {
		"recommendations": {
			"type": "array",
			"maxItems": 3,
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string"},
					"pricePerNight": {"type": "number"}
				}
			}
		}
	}
}`)

type accommodationLLMOutput struct {
	Recommendations []struct {
		Name          string  `json:"name"`
		PricePerNight float64 `json:"pricePerNight"`
	} `json:"recommendations"`
}

// priceTierRanges gives the synthesized per-night price band for each tier
// when recommendations are built directly from POIs without an LLM.
var priceTierRanges = map[string][2]float64{
	"economy":  {40, 90},
	"standard": {90, 220},
	"luxury":   {220, 600},
}

// Accommodation returns the Accommodation NodeFunc: it centers a hotel
// search on the draft's attraction centroid (radius 3km), falls back to a
// keyword search when the centroid is undefined or the radius search is
// empty, picks a price tier from budget math or preference keywords, and
// either asks the LLM to rank up to three candidates or synthesizes them
// directly from the POI list.
func Accommodation(deps *Deps, metrics *MetricsTracker) orchestration.NodeFunc {
	return func(ctx context.Context, state *orchestration.TripState) (orchestration.StateUpdate, error) {
		start := time.Now()
		confidence := 0.6

		centroid, ok := attractionCentroid(state)
		tier := priceTier(state.Input)

		var pois []mapadapter.POI
		if ok {
			if res := deps.Adapter.SearchNearby(ctx, mapadapter.POISearchParams{
				City: state.Input.Destination, Location: &centroid, RadiusM: 3000, Type: "hotel",
			}); res != nil {
				pois = res.POIs
			}
		}
		if len(pois) == 0 {
			if res := deps.Adapter.SearchPOI(ctx, mapadapter.POISearchParams{
				City: state.Input.Destination, Keyword: "hotel " + tier, Type: "hotel", PageSize: 10,
			}); res != nil {
				pois = res.POIs
			}
		}

		var recs []orchestration.HotelRecommendation
		if deps.LLM != nil && len(pois) > 0 {
			if llmRecs, err := rankHotelsWithLLM(ctx, deps, pois, tier); err == nil {
				recs = llmRecs
				confidence = 0.82
			} else {
				deps.Log.Debugw("accommodation: LLM ranking failed, synthesizing from POIs", "error", err)
			}
		}
		if len(recs) == 0 {
			recs = synthesizeHotelRecs(pois, tier)
		}

		result := &orchestration.AccommodationResult{Recommendations: recs}
		if ok {
			result.Centroid = centroid
		}
		if len(recs) > 0 {
			selected := recs[0]
			result.Selected = &selected
			result.TotalCost = selected.PricePerNight * float64(state.Input.Nights())
		}

		metrics.Record(time.Since(start), confidence, true)
		return orchestration.StateUpdate{Accommodation: result}, nil
	}
}

// attractionCentroid averages the coordinates of every attraction with a
// valid Location, preferring the enriched list when available. Returns
// ok=false when no attraction has a valid coordinate.
func attractionCentroid(state *orchestration.TripState) (mapadapter.GeoPoint, bool) {
	var sumLat, sumLng float64
	var n int
	if state.Enrichment != nil {
		for _, a := range state.Enrichment.Attractions {
			if a.Location.Lat == 0 && a.Location.Lng == 0 {
				continue
			}
			sumLat += a.Location.Lat
			sumLng += a.Location.Lng
			n++
		}
	}
	if n == 0 && state.Draft != nil {
		for _, day := range state.Draft.Days {
			for _, a := range day.Attractions {
				if a.Location == nil {
					continue
				}
				sumLat += a.Location.Lat
				sumLng += a.Location.Lng
				n++
			}
		}
	}
	if n == 0 {
		return mapadapter.GeoPoint{}, false
	}
	return mapadapter.GeoPoint{Lat: sumLat / float64(n), Lng: sumLng / float64(n)}, true
}

// priceTier picks economy/standard/luxury, preferring an explicit
// preference keyword over the budget-derived estimate.
func priceTier(input orchestration.TripInput) string {
	all := strings.ToLower(strings.Join(append(append([]string{}, input.HotelPreferences...), input.Preferences...), " "))
	for _, k := range []string{"豪华", "奢华", "luxury"} {
		if strings.Contains(all, strings.ToLower(k)) {
			return "luxury"
		}
	}
	for _, k := range []string{"经济", "实惠", "economy", "budget"} {
		if strings.Contains(all, strings.ToLower(k)) {
			return "economy"
		}
	}

	nights := input.Nights()
	travelers := input.Travelers
	if travelers <= 0 {
		travelers = 1
	}
	perNightPerTraveler := input.Budget * 0.3 / float64(nights) / float64(travelers)
	switch {
	case perNightPerTraveler < 80:
		return "economy"
	case perNightPerTraveler < 400:
		return "standard"
	default:
		return "luxury"
	}
}

func rankHotelsWithLLM(ctx context.Context, deps *Deps, pois []mapadapter.POI, tier string) ([]orchestration.HotelRecommendation, error) {
	var listing strings.Builder
	for _, p := range pois {
		fmt.Fprintf(&listing, "- %s (rating %.1f, address %s)\n", p.Name, p.Rating, p.Address)
	}
	prompt := fmt.Sprintf(`Rank up to three hotels from this list for a %s-tier traveler:
%s
Emit a single JSON object: {"recommendations":[{"name":"...","pricePerNight":120}]}.
Reply with only the JSON object.`, tier, listing.String())

	text, err := deps.askLLM(ctx, prompt, 500)
	if err != nil {
		return nil, err
	}
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}
	var out accommodationLLMOutput
	if err := decodeAndValidate(raw, accommodationSchema, &out); err != nil {
		return nil, err
	}
	if len(out.Recommendations) == 0 {
		return nil, fmt.Errorf("specialist: LLM returned no hotel recommendations")
	}

	byName := make(map[string]mapadapter.POI, len(pois))
	for _, p := range pois {
		byName[p.Name] = p
	}
	recs := make([]orchestration.HotelRecommendation, 0, len(out.Recommendations))
	for _, r := range out.Recommendations {
		poi, ok := byName[r.Name]
		rec := orchestration.HotelRecommendation{Name: r.Name, PriceTier: tier, PricePerNight: r.PricePerNight}
		if ok {
			rec.Location = poi.Location
			rec.Address = poi.Address
			rec.Rating = poi.Rating
			rec.POIID = poi.ID
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func synthesizeHotelRecs(pois []mapadapter.POI, tier string) []orchestration.HotelRecommendation {
	band := priceTierRanges[tier]
	recs := make([]orchestration.HotelRecommendation, 0, 3)
	for i, p := range pois {
		if i >= 3 {
			break
		}
		price := band[0]
		if band[1] > band[0] {
			price = band[0] + (band[1]-band[0])*0.5
		}
		recs = append(recs, orchestration.HotelRecommendation{
			Name:          p.Name,
			Location:      p.Location,
			Address:       p.Address,
			PriceTier:     tier,
			PricePerNight: price,
			Rating:        p.Rating,
			POIID:         p.ID,
		})
	}
	return recs
}

package specialist

import (
	"math"
	"time"

	"context"

	"github.com/tripplanner/agentcore/internal/mapadapter"
	"github.com/tripplanner/agentcore/internal/orchestration"
)

// Dining returns the Dining NodeFunc: for every meal slot it anchors a
// nearby restaurant search on that day's nearest prior attraction,
// derives a search keyword from the meal type, and prices the slot from a
// fixed share of the trip budget split across all meals and scaled by a
// per-meal factor.
func Dining(deps *Deps, metrics *MetricsTracker) orchestration.NodeFunc {
	return func(ctx context.Context, state *orchestration.TripState) (orchestration.StateUpdate, error) {
		start := time.Now()

		if state.Draft == nil {
			metrics.Record(time.Since(start), 0, false)
			return orchestration.StateUpdate{}, nil
		}

		totalMeals := 0
		for _, day := range state.Draft.Days {
			totalMeals += len(day.Meals)
		}
		if totalMeals == 0 {
			metrics.Record(time.Since(start), 0.5, true)
			return orchestration.StateUpdate{Dining: &orchestration.DiningResult{}}, nil
		}
		diningBudget := state.Input.Budget * 0.25

		var recs []orchestration.DiningRecommendation
		for _, day := range state.Draft.Days {
			anchor := firstAttractionLocation(day)
			for _, meal := range day.Meals {
				price := math.Round(diningBudget / float64(totalMeals) * mealFactor(meal.Meal))
				anchorPoint := nearestAttractionLocation(day, meal.Time, anchor)
				rec := orchestration.DiningRecommendation{Day: day.DayIndex, Meal: meal.Meal, Price: price}

				if poi := findRestaurant(ctx, deps, state.Input.Destination, meal.Meal, anchorPoint); poi != nil {
					rec.Name = poi.Name
					rec.Location = poi.Location
					rec.POIID = poi.ID
				}
				recs = append(recs, rec)
			}
		}

		total := 0.0
		for _, r := range recs {
			total += r.Price * float64(state.Input.Travelers)
		}

		metrics.Record(time.Since(start), 0.65, true)
		return orchestration.StateUpdate{
			Dining: &orchestration.DiningResult{Recommendations: recs, TotalCost: total},
		}, nil
	}
}

// mealFactor scales a meal slot's even share of the trip's dining budget.
func mealFactor(meal string) float64 {
	switch meal {
	case "breakfast":
		return 0.5
	case "dinner":
		return 1.3
	case "snack":
		return 0.4
	default: // lunch
		return 1.0
	}
}

// cuisineKeyword maps a meal type to its search keyword per §4.3.
func cuisineKeyword(meal string) string {
	switch meal {
	case "breakfast":
		return "早餐"
	case "snack":
		return "小吃/甜品"
	default:
		return "餐厅"
	}
}

func firstAttractionLocation(day orchestration.DraftDay) *mapadapter.GeoPoint {
	for _, a := range day.Attractions {
		if a.Location != nil {
			return a.Location
		}
	}
	return nil
}

// nearestAttractionLocation finds the located attraction with the latest
// start time at or before mealTime, falling back to the day's first located
// attraction when none starts before the meal.
func nearestAttractionLocation(day orchestration.DraftDay, mealTime string, fallback *mapadapter.GeoPoint) *mapadapter.GeoPoint {
	best := fallback
	bestDiff := math.MaxFloat64
	mealMins, ok := minutesOf(mealTime)
	if !ok {
		return fallback
	}
	for _, a := range day.Attractions {
		if a.Location == nil {
			continue
		}
		mins, ok := minutesOf(a.StartTime)
		if !ok || mins > mealMins {
			continue
		}
		diff := float64(mealMins - mins)
		if diff < bestDiff {
			bestDiff = diff
			best = a.Location
		}
	}
	return best
}

func minutesOf(hhmm string) (int, bool) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func findRestaurant(ctx context.Context, deps *Deps, destination, meal string, anchor *mapadapter.GeoPoint) *mapadapter.POI {
	keyword := cuisineKeyword(meal)
	if anchor != nil {
		if res := deps.Adapter.SearchNearby(ctx, mapadapter.POISearchParams{
			City: destination, Location: anchor, Keyword: keyword, Type: "restaurant", RadiusM: 1500,
		}); res != nil && len(res.POIs) > 0 {
			return &res.POIs[0]
		}
	}
	if res := deps.Adapter.SearchPOI(ctx, mapadapter.POISearchParams{
		City: destination, Keyword: keyword, Type: "restaurant", PageSize: 1,
	}); res != nil && len(res.POIs) > 0 {
		return &res.POIs[0]
	}
	return nil
}

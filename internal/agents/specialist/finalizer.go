package specialist

import (
	"context"
	"fmt"
	"time"

	"github.com/tripplanner/agentcore/internal/mapadapter"
	"github.com/tripplanner/agentcore/internal/orchestration"
)

// Finalizer returns the Finalizer NodeFunc: it materializes the draft
// itinerary plus every resource agent's output into a presentable
// FinalItinerary, filling gaps with the defaults named in §4.3 and adding
// a 5% "other" cost reserve.
func Finalizer(deps *Deps, metrics *MetricsTracker) orchestration.NodeFunc {
	return func(ctx context.Context, state *orchestration.TripState) (orchestration.StateUpdate, error) {
		start := time.Now()

		if state.Draft == nil {
			metrics.Record(time.Since(start), 0, false)
			return orchestration.StateUpdate{}, fmt.Errorf("%w: finalize requires a draft itinerary", orchestration.ErrValidationFailure)
		}

		enrichedByName := make(map[string]orchestration.EnrichedAttraction)
		if state.Enrichment != nil {
			for _, a := range state.Enrichment.Attractions {
				enrichedByName[a.Name] = a
			}
		}
		diningByDayMeal := make(map[string]orchestration.DiningRecommendation)
		if state.Dining != nil {
			for _, d := range state.Dining.Recommendations {
				diningByDayMeal[fmt.Sprintf("%d|%s", d.Day, d.Meal)] = d
			}
		}

		var days []orchestration.FinalDay
		var topAttractions []string
		for _, d := range state.Draft.Days {
			final := orchestration.FinalDay{DayIndex: d.DayIndex, Date: d.Date}
			for _, a := range d.Attractions {
				final.Activities = append(final.Activities, materializeActivity(a, enrichedByName[a.Name]))
				if len(topAttractions) < 3 {
					topAttractions = append(topAttractions, a.Name)
				}
			}
			for _, m := range d.Meals {
				if rec, ok := diningByDayMeal[fmt.Sprintf("%d|%s", d.DayIndex, m.Meal)]; ok {
					final.Meals = append(final.Meals, orchestration.FinalMeal{Time: m.Time, Meal: m.Meal, Name: rec.Name, Price: rec.Price})
				} else {
					final.Meals = append(final.Meals, orchestration.FinalMeal{Time: m.Time, Meal: m.Meal, Price: 50})
				}
			}
			days = append(days, final)
		}

		var accommodation []orchestration.HotelRecommendation
		hotelName := "an unassigned hotel"
		if state.Accommodation != nil {
			accommodation = state.Accommodation.Recommendations
			if state.Accommodation.Selected != nil {
				hotelName = state.Accommodation.Selected.Name
			}
		}

		transportCost := 0.0
		var methods []string
		if state.Transport != nil {
			transportCost = state.Transport.TotalCost
			methods = localMethods(state.Transport.Segments)
		}
		hotelCost := 0.0
		if state.Accommodation != nil {
			hotelCost = state.Accommodation.TotalCost
		}
		attractionCost := 0.0
		if state.Enrichment != nil {
			attractionCost = state.Enrichment.TotalTicketCost
		}
		diningCost := 0.0
		if state.Dining != nil {
			diningCost = state.Dining.TotalCost
		}

		subtotal := attractionCost + hotelCost + transportCost + diningCost
		other := subtotal * 0.05
		cost := orchestration.CostBreakdown{
			Attractions: attractionCost,
			Hotel:       hotelCost,
			Transport:   transportCost,
			Dining:      diningCost,
			Other:       other,
			Total:       subtotal + other,
		}

		final := &orchestration.FinalItinerary{
			Destination:   state.Input.Destination,
			Days:          days,
			Accommodation: accommodation,
			Transportation: orchestration.FinalTransportation{
				LocalMethods:       methods,
				EstimatedLocalCost: transportCost,
			},
			Cost:    cost,
			Summary: summarize(state.Input.Destination, len(days), topAttractions, hotelName),
		}

		metrics.Record(time.Since(start), 0.9, true)
		return orchestration.StateUpdate{Final: final, Status: orchestration.StatusCompleted}, nil
	}
}

func materializeActivity(a orchestration.AttractionSlot, enriched orchestration.EnrichedAttraction) orchestration.FinalActivity {
	act := orchestration.FinalActivity{
		Time:        a.StartTime,
		Name:        a.Name,
		Type:        a.Type,
		Duration:    a.Duration,
		Description: fmt.Sprintf("游览%s", a.Name),
		TicketPrice: enriched.TicketPrice,
	}
	if act.Time == "" {
		act.Time = "10:00"
	}
	if act.Duration == "" {
		act.Duration = "2小时"
	}
	if enriched.Description != "" {
		act.Description = enriched.Description
	}
	if a.Location != nil {
		act.Location = *a.Location
	} else {
		act.Location = enriched.Location
	}
	return act
}

func localMethods(segments []orchestration.TransportSegment) []string {
	seen := make(map[mapadapter.RouteMode]bool)
	var methods []string
	for _, s := range segments {
		if seen[s.Mode] {
			continue
		}
		seen[s.Mode] = true
		methods = append(methods, string(s.Mode))
	}
	return methods
}

func summarize(destination string, dayCount int, topAttractions []string, hotelName string) string {
	highlights := "a curated selection of local highlights"
	if len(topAttractions) > 0 {
		highlights = topAttractions[0]
		for i := 1; i < len(topAttractions); i++ {
			highlights += ", " + topAttractions[i]
		}
	}
	return fmt.Sprintf("A %d-day trip to %s featuring %s. You'll be staying at %s.",
		dayCount, destination, highlights, hotelName)
}

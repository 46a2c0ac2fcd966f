package specialist

import (
	"context"
	"sort"
	"time"

	"github.com/tripplanner/agentcore/internal/orchestration"
)

type budgetCategory struct {
	action string
	cost   float64
}

var budgetSuggestions = map[string]string{
	"downgrade_hotel":    "Consider a lower hotel price tier to reduce nightly cost.",
	"reduce_attractions": "Trim one attraction per day to reduce ticket spend.",
	"cheaper_transport":  "Favor walking/cycling/transit over driving where distance allows.",
	"adjust_meals":       "Shift toward lower-cost meal options to reduce dining spend.",
}

// BudgetCritic returns the Budget Critic NodeFunc. It sums the four
// resource categories, accepts the plan if the total is within a
// retry-widened tolerance of the budget, and otherwise names the single
// largest-reducible category as feedback, rotating to the next-largest on
// repeated retries so the same lever isn't suggested twice in a row.
func BudgetCritic(deps *Deps, metrics *MetricsTracker) orchestration.NodeFunc {
	return func(ctx context.Context, state *orchestration.TripState) (orchestration.StateUpdate, error) {
		start := time.Now()

		attractions := 0.0
		if state.Enrichment != nil {
			attractions = state.Enrichment.TotalTicketCost
		}
		hotel := 0.0
		if state.Accommodation != nil {
			hotel = state.Accommodation.TotalCost
		}
		transport := 0.0
		if state.Transport != nil {
			transport = state.Transport.TotalCost
		}
		dining := 0.0
		if state.Dining != nil {
			dining = state.Dining.TotalCost
		}

		total := attractions + hotel + transport + dining
		utilization := 0.0
		if state.Input.Budget > 0 {
			utilization = total / state.Input.Budget
		}

		threshold := state.Input.Budget * (1.10 + 0.05*float64(state.RetryCount))
		withinBudget := state.Input.Budget <= 0 || total <= threshold

		result := &orchestration.BudgetResult{
			TotalCost:   total,
			Utilization: utilization,
			IsWithinBudget: withinBudget,
			Breakdown: map[string]float64{
				"attractions": attractions,
				"hotel":       hotel,
				"transport":   transport,
				"dining":      dining,
			},
		}

		if !withinBudget {
			categories := []budgetCategory{
				{"reduce_attractions", attractions},
				{"downgrade_hotel", hotel},
				{"cheaper_transport", transport},
				{"adjust_meals", dining},
			}
			sort.SliceStable(categories, func(i, j int) bool { return categories[i].cost > categories[j].cost })
			pick := categories[state.RetryCount%len(categories)]
			result.Feedback = &orchestration.BudgetFeedback{
				Action:          pick.action,
				TargetReduction: total - threshold,
				Suggestion:      budgetSuggestions[pick.action],
			}
		}

		metrics.Record(time.Since(start), 0.9, true)
		return orchestration.StateUpdate{Budget: result}, nil
	}
}

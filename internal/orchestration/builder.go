package orchestration

// Node IDs for the fixed trip-planning topology.
const (
	NodeWeatherScout        = "weather_scout"
	NodeItineraryPlanner    = "itinerary_planner"
	NodeAttractionEnricher  = "attraction_enricher"
	NodeAccommodation       = "accommodation"
	NodeTransport           = "transport"
	NodeDining              = "dining"
	NodeBudgetCritic        = "budget_critic"
	NodeFinalize            = "finalize"
)

// Nodes bundles the specialist agent bodies the builder wires into the
// fixed graph shape. HITLEnabled is a build-time flag, not a per-run one:
// when true, itinerary_planner and budget_critic are expected to be the
// HITL-wrapping variants (see internal/agents/specialist) that may emit
// an Interrupt instead of completing silently.
type Nodes struct {
	WeatherScout       NodeFunc
	ItineraryPlanner   NodeFunc
	AttractionEnricher NodeFunc
	Accommodation      NodeFunc
	Transport          NodeFunc
	Dining             NodeFunc
	BudgetCritic       NodeFunc
	Finalize           NodeFunc

	// EnableAttractionEnricher wires attraction_enricher between the
	// planner and the resource fan-out, matching the HITL build's node
	// list in §4.4 ("attraction_enricher (HITL-enabled build only)").
	EnableAttractionEnricher bool

	MaxRetries int
}

// BuildTripPlanningGraph assembles the graph described in §4.4:
//
//	START -> weather_scout -> itinerary_planner
//	itinerary_planner -> {accommodation, transport, dining}  (fan-out)
//	{accommodation, transport, dining} -> budget_critic       (fan-in)
//	budget_critic -> finalize | itinerary_planner (retryCount += 1)
//	finalize -> END
func BuildTripPlanningGraph(n Nodes) (*Graph, error) {
	maxRetries := n.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	g := NewGraph()
	must := func(err error) error { return err }

	nodeDefs := []Node{
		{ID: NodeWeatherScout, Fn: n.WeatherScout},
		{ID: NodeItineraryPlanner, Fn: n.ItineraryPlanner},
		{ID: NodeAccommodation, Fn: n.Accommodation},
		{ID: NodeTransport, Fn: n.Transport},
		{ID: NodeDining, Fn: n.Dining},
		{ID: NodeBudgetCritic, Fn: n.BudgetCritic},
		{ID: NodeFinalize, Fn: n.Finalize},
	}
	if n.EnableAttractionEnricher {
		nodeDefs = append(nodeDefs, Node{ID: NodeAttractionEnricher, Fn: n.AttractionEnricher})
	}
	for _, node := range nodeDefs {
		if err := must(g.AddNode(node)); err != nil {
			return nil, err
		}
	}

	if err := g.SetEntry(NodeWeatherScout); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeWeatherScout, Edge{To: NodeItineraryPlanner}); err != nil {
		return nil, err
	}

	fanOutFrom := NodeItineraryPlanner
	if n.EnableAttractionEnricher {
		if err := g.AddEdge(NodeItineraryPlanner, Edge{To: NodeAttractionEnricher}); err != nil {
			return nil, err
		}
		fanOutFrom = NodeAttractionEnricher
	}

	if err := g.AddFanOut(FanOutSpec{
		From:    fanOutFrom,
		Targets: []string{NodeAccommodation, NodeTransport, NodeDining},
		Join:    NodeBudgetCritic,
	}); err != nil {
		return nil, err
	}

	acceptedOrExhausted := func(state *TripState) bool {
		if state.Budget == nil {
			return true
		}
		return state.Budget.IsWithinBudget || state.RetryCount >= maxRetries
	}
	if err := g.AddEdge(NodeBudgetCritic, Edge{To: NodeFinalize, Condition: acceptedOrExhausted}); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeBudgetCritic, Edge{To: NodeItineraryPlanner, Retry: true}); err != nil {
		return nil, err
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

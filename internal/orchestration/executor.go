package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hooks are optional observation callbacks the executor invokes around
// node execution; a nil hook is skipped. The concrete Tracer/
// MetricsCollector wire themselves in here rather than the executor
// depending on those packages directly, avoiding an import cycle.
type Hooks struct {
	NodeStart func(node string, state *TripState)
	NodeEnd   func(node, threadID string, update StateUpdate, err error)
	FanOut    func(nodes []string)
}

// DefaultMaxRetries bounds the budget_critic -> itinerary_planner loop
// when no other limit is configured; after it
// is exhausted the graph proceeds to finalize regardless of budget
// outcome (BudgetUnsatisfiable is never surfaced as an error, per §7).
const DefaultMaxRetries = 2

// Executor runs a Graph against a Checkpointer, one goroutine per
// in-flight run, matching the "single-threaded cooperative, one
// goroutine per run" scheduling model.
type Executor struct {
	checkpointer Checkpointer
	hooks        Hooks
	maxRetries   int
	log          *zap.SugaredLogger
}

// NewExecutor builds an executor. A nil checkpointer defaults to an
// in-memory one.
func NewExecutor(checkpointer Checkpointer, maxRetries int, hooks Hooks, log *zap.SugaredLogger) *Executor {
	if checkpointer == nil {
		checkpointer = NewMemoryCheckpointer()
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Executor{checkpointer: checkpointer, hooks: hooks, maxRetries: maxRetries, log: log}
}

// Run starts a new thread for input against g, stepping until the graph
// completes or suspends on an HITL interrupt.
func (e *Executor) Run(ctx context.Context, g *Graph, input TripInput) (*TripState, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	state := &TripState{
		ThreadID:    uuid.New().String(),
		Input:       input,
		Status:      StatusRunning,
		Meta:        RunMeta{},
		CurrentNode: g.entry,
	}
	return e.loop(ctx, g, state)
}

// Resume supplies a decision for a suspended thread and continues
// stepping. It is an error to resume a thread that isn't suspended.
func (e *Executor) Resume(ctx context.Context, g *Graph, threadID string, decision Decision) (*TripState, error) {
	cp, err := e.checkpointer.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	state := cp.State
	if state.Interrupt == nil {
		return nil, ErrGraphNotRunning
	}

	next, resumeNode, err := e.applyDecision(state, decision)
	if err != nil {
		return nil, err
	}
	if next.Status == StatusTerminatedCancelled {
		if saveErr := e.checkpointer.Save(ctx, Checkpoint{ThreadID: threadID, State: next, CurrentNode: resumeNode}); saveErr != nil {
			e.log.Warnw("orchestration: failed to persist terminal checkpoint", "thread", threadID, "error", saveErr)
		}
		return nil, ErrHITLCancelled
	}
	next.CurrentNode = resumeNode
	return e.loop(ctx, g, next)
}

// applyDecision translates a reviewer Decision into a state patch and the
// node execution should resume at, per the transition table in §4.4.
func (e *Executor) applyDecision(state *TripState, decision Decision) (*TripState, string, error) {
	interrupt := state.Interrupt
	switch interrupt.Type {
	case InterruptItineraryReview:
		switch decision.Kind {
		case DecisionApprove, DecisionRetry:
			return Reduce(state, StateUpdate{ClearInterrupt: true, Status: StatusRunning}), interrupt.Node, nil
		case DecisionModify:
			patched := applyModification(state.Draft, state.Input.StartDate, decision.Changes)
			return Reduce(state, StateUpdate{Draft: patched, ClearInterrupt: true, Status: StatusRunning}), interrupt.Node, nil
		case DecisionCancel:
			return Reduce(state, StateUpdate{ClearInterrupt: true, Status: StatusTerminatedCancelled}), "", nil
		default:
			return nil, "", fmt.Errorf("%w: unsupported decision %q for itinerary_review", ErrValidationFailure, decision.Kind)
		}
	case InterruptBudgetDecision:
		switch decision.Kind {
		case DecisionAccept:
			budget := *state.Budget
			budget.IsWithinBudget = true
			return Reduce(state, StateUpdate{Budget: &budget, ClearInterrupt: true, Status: StatusRunning}), "budget_critic", nil
		case DecisionOption:
			return Reduce(state, StateUpdate{RetryDelta: 1, ClearInterrupt: true, Status: StatusRunning, Meta: RunMeta{"budget_adjustment_option": decision.AdjustmentOption}}), "budget_critic", nil
		default:
			return nil, "", fmt.Errorf("%w: unsupported decision %q for budget_decision", ErrValidationFailure, decision.Kind)
		}
	default:
		return nil, "", fmt.Errorf("%w: unknown interrupt type %q", ErrValidationFailure, interrupt.Type)
	}
}

// loop drives state through the graph from state.CurrentNode until an
// exit, an HITL suspension, or an error.
func (e *Executor) loop(ctx context.Context, g *Graph, state *TripState) (*TripState, error) {
	current := state.CurrentNode
	// resumeAtFanOut marks that current already produced its update in a
	// prior pass (e.g. itinerary_planner before an itinerary_review
	// suspension) and the fan-out/edge-follow step should run without
	// re-invoking the node body.
	resumeAtFanOut := state.Interrupt == nil && current != "" && current != g.entry && state.Status == StatusRunning && isPostExecution(g, current, state)

	for {
		if current == "" {
			state.Status = StatusCompleted
			return state, nil
		}

		if !resumeAtFanOut {
			node, ok := g.nodes[current]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownNode, current)
			}
			if e.hooks.NodeStart != nil {
				e.hooks.NodeStart(current, state)
			}
			update, err := node.Fn(ctx, state)
			if e.hooks.NodeEnd != nil {
				e.hooks.NodeEnd(current, state.ThreadID, update, err)
			}
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", current, err)
			}
			state = Reduce(state, update)
			state.CurrentNode = current

			if state.Interrupt != nil {
				state.Status = interruptStatus(state.Interrupt.Type)
				if saveErr := e.checkpointer.Save(ctx, Checkpoint{ThreadID: state.ThreadID, State: state, CurrentNode: current}); saveErr != nil {
					e.log.Warnw("orchestration: failed to persist suspended checkpoint", "thread", state.ThreadID, "error", saveErr)
				}
				return state, nil
			}
		}
		resumeAtFanOut = false

		if saveErr := e.checkpointer.Save(ctx, Checkpoint{ThreadID: state.ThreadID, State: state, CurrentNode: current}); saveErr != nil {
			e.log.Warnw("orchestration: failed to persist checkpoint", "thread", state.ThreadID, "error", saveErr)
		}

		if spec, ok := g.fanOutFor(current); ok {
			next, err := e.runFanOut(ctx, g, spec, state)
			if err != nil {
				return nil, err
			}
			state = next
			current = spec.Join
			continue
		}

		nextID, err := e.nextNode(g, current, state)
		if err != nil {
			return nil, err
		}
		current = nextID
	}
}

// isPostExecution reports whether state already reflects node's own
// update, which is true exactly when node is one of the two HITL
// suspension points (itinerary_planner, budget_critic): a Resume call
// supplies a decision for work that already ran, so the loop must not
// re-invoke that node's body, only continue past it.
func isPostExecution(g *Graph, node string, state *TripState) bool {
	return node == NodeItineraryPlanner || node == NodeBudgetCritic
}

func interruptStatus(t InterruptType) RunStatus {
	switch t {
	case InterruptBudgetDecision:
		return StatusSuspendedBudget
	default:
		return StatusSuspendedItinerary
	}
}

// runFanOut executes spec.Targets concurrently against state (each gets
// its own clone) and merges their updates in arrival order; since the
// three resource agents write disjoint fields the merged result is
// order-independent (fan-in determinism, §8).
func (e *Executor) runFanOut(ctx context.Context, g *Graph, spec FanOutSpec, state *TripState) (*TripState, error) {
	if e.hooks.FanOut != nil {
		e.hooks.FanOut(spec.Targets)
	}

	type result struct {
		update StateUpdate
		err    error
	}
	results := make([]result, len(spec.Targets))
	var wg sync.WaitGroup
	for i, nodeID := range spec.Targets {
		wg.Add(1)
		go func(i int, nodeID string) {
			defer wg.Done()
			node, ok := g.nodes[nodeID]
			if !ok {
				results[i] = result{err: fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)}
				return
			}
			snapshot := state.Clone()
			if e.hooks.NodeStart != nil {
				e.hooks.NodeStart(nodeID, snapshot)
			}
			update, err := node.Fn(ctx, snapshot)
			if e.hooks.NodeEnd != nil {
				e.hooks.NodeEnd(nodeID, snapshot.ThreadID, update, err)
			}
			results[i] = result{update: update, err: err}
		}(i, nodeID)
	}
	wg.Wait()

	updates := make([]StateUpdate, 0, len(results))
	for i, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("node %s: %w", spec.Targets[i], r.err)
		}
		updates = append(updates, r.update)
	}
	return MergeFanIn(state, updates...), nil
}

// nextNode evaluates the outgoing edges of current in order and returns
// the first matching target, or "" if execution should end.
func (e *Executor) nextNode(g *Graph, current string, state *TripState) (string, error) {
	edges := g.edges[current]
	for _, edge := range edges {
		if edge.Condition == nil || edge.Condition(state) {
			return edge.To, nil
		}
	}
	return "", nil
}

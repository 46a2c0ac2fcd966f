package orchestration

import (
	"context"
	"fmt"
)

// NodeFunc is a specialist agent body: a pure function from a read-only
// state snapshot to a partial update. It must never mutate state.
type NodeFunc func(ctx context.Context, state *TripState) (StateUpdate, error)

// Node is one named step of the graph.
type Node struct {
	ID string
	Fn NodeFunc
}

// EdgeCondition decides whether a conditional edge is taken, given the
// state after its source node's update has been merged.
type EdgeCondition func(state *TripState) bool

// Edge is a possible transition out of a node. Edges from the same
// source are evaluated in order; the first matching (or unconditional)
// edge is taken. Retry marks the single edge this graph tolerates as
// part of a cycle (budget_critic -> itinerary_planner): Validate forbids
// every other cycle.
type Edge struct {
	To        string
	Condition EdgeCondition
	Retry     bool
}

// FanOutSpec declares that, immediately after From's own update is
// merged, Targets run concurrently against the resulting state and their
// updates are merged (in any order — they write disjoint fields) before
// execution resumes at Join.
type FanOutSpec struct {
	From    string
	Targets []string
	Join    string
}

// Graph is a fixed, named topology over TripState: the seven specialist
// nodes plus Finalizer, one declared fan-out/fan-in, and a bounded retry
// edge. Grounded in the teacher's internal/workflow.Graph (typed
// Node/Edge, hasCycle DFS validation) generalized with the fan-out
// concept internal/llm/chains.ParallelChain uses for concurrent work.
type Graph struct {
	nodes   map[string]*Node
	edges   map[string][]*Edge
	fanOuts []FanOutSpec
	entry   string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string][]*Edge),
	}
}

// AddNode registers a node. Re-adding the same ID is an error.
func (g *Graph) AddNode(n Node) error {
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("orchestration: node %q already exists", n.ID)
	}
	g.nodes[n.ID] = &n
	return nil
}

// AddEdge adds a transition out of from. Order matters for conditional
// edges: the first condition that matches (or the first unconditional
// edge) wins.
func (g *Graph) AddEdge(from string, edge Edge) error {
	if _, exists := g.nodes[from]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownNode, from)
	}
	if edge.To != "" {
		if _, exists := g.nodes[edge.To]; !exists {
			return fmt.Errorf("%w: %s", ErrUnknownNode, edge.To)
		}
	}
	g.edges[from] = append(g.edges[from], &edge)
	return nil
}

// AddFanOut registers a fan-out/fan-in group.
func (g *Graph) AddFanOut(spec FanOutSpec) error {
	for _, id := range append(append([]string{spec.From, spec.Join}), spec.Targets...) {
		if _, exists := g.nodes[id]; !exists {
			return fmt.Errorf("%w: %s", ErrUnknownNode, id)
		}
	}
	g.fanOuts = append(g.fanOuts, spec)
	return nil
}

// SetEntry sets the graph's starting node.
func (g *Graph) SetEntry(id string) error {
	if _, exists := g.nodes[id]; !exists {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	g.entry = id
	return nil
}

// fanOutFor returns the FanOutSpec whose From matches id, if any.
func (g *Graph) fanOutFor(id string) (FanOutSpec, bool) {
	for _, spec := range g.fanOuts {
		if spec.From == id {
			return spec, true
		}
	}
	return FanOutSpec{}, false
}

// Validate checks structural integrity and the bounded-cycle rule: the
// teacher's workflow.Graph.hasCycle forbids every cycle unconditionally;
// this graph requires exactly one (budget_critic -> itinerary_planner).
// Validate therefore runs the same DFS cycle check with Retry-marked
// edges removed first, so only that edge may ever close a loop.
func (g *Graph) Validate() error {
	if g.entry == "" {
		return fmt.Errorf("orchestration: no entry point set")
	}
	if _, exists := g.nodes[g.entry]; !exists {
		return fmt.Errorf("%w: entry point %s", ErrUnknownNode, g.entry)
	}

	acyclicEdges := make(map[string][]string)
	for from, edges := range g.edges {
		for _, e := range edges {
			if e.Retry {
				continue
			}
			acyclicEdges[from] = append(acyclicEdges[from], e.To)
		}
	}
	for _, spec := range g.fanOuts {
		acyclicEdges[spec.From] = append(acyclicEdges[spec.From], spec.Targets...)
		for _, t := range spec.Targets {
			acyclicEdges[t] = append(acyclicEdges[t], spec.Join)
		}
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	var hasCycle func(id string) bool
	hasCycle = func(id string) bool {
		visited[id] = true
		recStack[id] = true
		for _, next := range acyclicEdges[id] {
			if !visited[next] {
				if hasCycle(next) {
					return true
				}
			} else if recStack[next] {
				return true
			}
		}
		recStack[id] = false
		return false
	}
	for id := range g.nodes {
		if !visited[id] {
			if hasCycle(id) {
				return ErrInvalidCycle
			}
		}
	}
	return nil
}

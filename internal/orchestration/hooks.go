package orchestration

// MergeHooks combines any number of Hooks into one, calling every
// non-nil callback of the same name in argument order. NewExecutor takes
// exactly one Hooks value, but a server typically wants both the tracer
// and the metrics collector observing every node transition.
func MergeHooks(hs ...Hooks) Hooks {
	var merged Hooks

	merged.NodeStart = func(node string, state *TripState) {
		for _, h := range hs {
			if h.NodeStart != nil {
				h.NodeStart(node, state)
			}
		}
	}
	merged.NodeEnd = func(node, threadID string, update StateUpdate, err error) {
		for _, h := range hs {
			if h.NodeEnd != nil {
				h.NodeEnd(node, threadID, update, err)
			}
		}
	}
	merged.FanOut = func(nodes []string) {
		for _, h := range hs {
			if h.FanOut != nil {
				h.FanOut(nodes)
			}
		}
	}

	return merged
}

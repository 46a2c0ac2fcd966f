package specialist

import (
	"sync"
	"time"
)

// AgentMetrics holds one specialist's running request counters.
type AgentMetrics struct {
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	AverageLatency     time.Duration
	AverageConfidence  float64
	LastRequestTime    time.Time
}

// MetricsTracker wraps AgentMetrics with a mutex so a single specialist can
// be invoked concurrently (e.g. Accommodation/Transport/Dining during
// fan-out) without racing on its counters. The running-average math mirrors
// HotelAgent.updateMetrics.
type MetricsTracker struct {
	mu sync.Mutex
	m  AgentMetrics
}

// NewMetricsTracker returns a zeroed tracker.
func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{}
}

// Record folds one invocation's outcome into the running counters.
func (t *MetricsTracker) Record(dur time.Duration, confidence float64, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.m.TotalRequests++
	if success {
		t.m.SuccessfulRequests++
	} else {
		t.m.FailedRequests++
	}

	n := time.Duration(t.m.TotalRequests)
	if t.m.TotalRequests > 1 {
		t.m.AverageLatency = (t.m.AverageLatency*(n-1) + dur) / n
		t.m.AverageConfidence = (t.m.AverageConfidence*float64(t.m.TotalRequests-1) + confidence) / float64(t.m.TotalRequests)
	} else {
		t.m.AverageLatency = dur
		t.m.AverageConfidence = confidence
	}
	t.m.LastRequestTime = time.Now()
}

// Snapshot returns a copy of the current counters.
func (t *MetricsTracker) Snapshot() AgentMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m
}

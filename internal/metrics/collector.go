// Package metrics exposes a Prometheus-backed Collector for the trip
// planning service: tool cache effectiveness, MapAdapter transport
// health, per-agent outcomes, orchestration node latency, and
// modification preview outcomes, all served at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tripplanner/agentcore/internal/cache"
	"github.com/tripplanner/agentcore/internal/orchestration"
)

// Collector owns a dedicated prometheus.Registry (rather than the
// global DefaultRegisterer) so a process can build more than one in
// tests without collector-already-registered panics.
type Collector struct {
	registry *prometheus.Registry

	toolCacheHits      prometheus.Counter
	toolCacheMisses    prometheus.Counter
	toolCacheEvictions prometheus.Counter
	toolCacheSize      prometheus.Gauge

	transportFallbacks prometheus.Counter
	reconnectAttempts  *prometheus.CounterVec // label: transport

	agentRequests *prometheus.CounterVec // labels: agent, outcome

	nodeDuration *prometheus.HistogramVec // label: node

	modificationOutcomes *prometheus.CounterVec // label: outcome
}

// NewCollector builds and registers every metric.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	c := &Collector{registry: reg}

	c.toolCacheHits = f.NewCounter(prometheus.CounterOpts{
		Namespace: "tripplanner", Subsystem: "tool_cache", Name: "hits_total",
		Help: "MapAdapter tool cache hits.",
	})
	c.toolCacheMisses = f.NewCounter(prometheus.CounterOpts{
		Namespace: "tripplanner", Subsystem: "tool_cache", Name: "misses_total",
		Help: "MapAdapter tool cache misses.",
	})
	c.toolCacheEvictions = f.NewCounter(prometheus.CounterOpts{
		Namespace: "tripplanner", Subsystem: "tool_cache", Name: "evictions_total",
		Help: "MapAdapter tool cache FIFO evictions.",
	})
	c.toolCacheSize = f.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripplanner", Subsystem: "tool_cache", Name: "size",
		Help: "Current MapAdapter tool cache entry count.",
	})

	c.transportFallbacks = f.NewCounter(prometheus.CounterOpts{
		Namespace: "tripplanner", Subsystem: "mapadapter", Name: "transport_fallbacks_total",
		Help: "Times the MapAdapter fell back from the RPC transport to direct HTTP.",
	})
	c.reconnectAttempts = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripplanner", Subsystem: "mapadapter", Name: "reconnect_attempts_total",
		Help: "MapAdapter transport reconnect attempts, by transport name.",
	}, []string{"transport"})

	c.agentRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripplanner", Subsystem: "agent", Name: "requests_total",
		Help: "Specialist agent invocations, by agent and outcome.",
	}, []string{"agent", "outcome"})

	c.nodeDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tripplanner", Subsystem: "orchestration", Name: "node_duration_seconds",
		Help:    "Orchestration graph node execution duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"node"})

	c.modificationOutcomes = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripplanner", Subsystem: "modification", Name: "outcomes_total",
		Help: "Itinerary modification preview outcomes (confirmed, cancelled, expired).",
	}, []string{"outcome"})

	return c
}

// Handler serves the registry's metrics in the Prometheus exposition
// format, mounted at /metrics by the caller.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordToolCacheHit/Miss/Eviction track ToolCache outcomes.
func (c *Collector) RecordToolCacheHit()      { c.toolCacheHits.Inc() }
func (c *Collector) RecordToolCacheMiss()     { c.toolCacheMisses.Inc() }
func (c *Collector) RecordToolCacheEviction() { c.toolCacheEvictions.Inc() }

// SampleToolCache pushes a ToolCache.Stats() snapshot into the
// corresponding counters/gauge. Counters are monotonic in Prometheus,
// so this only advances them by the delta since the last sample.
func (c *Collector) SampleToolCache(stats cache.ToolCacheStats, prev cache.ToolCacheStats) {
	if d := stats.Hits - prev.Hits; d > 0 {
		c.toolCacheHits.Add(float64(d))
	}
	if d := stats.Misses - prev.Misses; d > 0 {
		c.toolCacheMisses.Add(float64(d))
	}
	if d := stats.Evictions - prev.Evictions; d > 0 {
		c.toolCacheEvictions.Add(float64(d))
	}
	c.toolCacheSize.Set(float64(stats.Size))
}

// RecordTransportFallback marks one MapAdapter call falling back from
// the RPC transport to direct HTTP.
func (c *Collector) RecordTransportFallback() { c.transportFallbacks.Inc() }

// RecordReconnectAttempt marks one reconnect attempt by a named
// transport (wired via the transport's OnStateChange hook).
func (c *Collector) RecordReconnectAttempt(transport string) {
	c.reconnectAttempts.WithLabelValues(transport).Inc()
}

// RecordAgentRequest marks one specialist agent invocation outcome.
func (c *Collector) RecordAgentRequest(agent string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.agentRequests.WithLabelValues(agent, outcome).Inc()
}

// ObserveNodeDuration records one orchestration node's execution time.
func (c *Collector) ObserveNodeDuration(node string, d time.Duration) {
	c.nodeDuration.WithLabelValues(node).Observe(d.Seconds())
}

// RecordModificationOutcome marks a modification preview resolving as
// "confirmed", "cancelled", or "expired".
func (c *Collector) RecordModificationOutcome(outcome string) {
	c.modificationOutcomes.WithLabelValues(outcome).Inc()
}

// OrchestrationHooks builds orchestration.Hooks that record per-node
// duration and success/failure, keyed by threadID+node the same way
// tracing.Tracer.OrchestrationHooks is, since NodeStart/NodeEnd pairs
// arrive strictly sequentially per thread+node.
func (c *Collector) OrchestrationHooks() orchestration.Hooks {
	starts := newStartTracker()

	return orchestration.Hooks{
		NodeStart: func(node string, state *orchestration.TripState) {
			starts.mark(state.ThreadID, node)
		},
		NodeEnd: func(node, threadID string, update orchestration.StateUpdate, err error) {
			d := starts.elapsed(threadID, node)
			c.ObserveNodeDuration(node, d)
			c.RecordAgentRequest(node, err == nil)
		},
	}
}

// Package tracing records hierarchical traces of a chat turn or an
// orchestration run and exports them to a pluggable Sink.
package tracing

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tripplanner/agentcore/internal/config"
	"github.com/tripplanner/agentcore/internal/orchestration"

	"go.uber.org/zap"
)

// SpanType names the kind of work a Span covers.
type SpanType string

const (
	SpanWorkflow  SpanType = "workflow"
	SpanNode      SpanType = "node"
	SpanTool      SpanType = "tool"
	SpanLLM       SpanType = "llm"
	SpanRetriever SpanType = "retriever"
)

// SpanStatus tracks a Span's lifecycle.
type SpanStatus string

const (
	StatusRunning   SpanStatus = "running"
	StatusCompleted SpanStatus = "completed"
	StatusError     SpanStatus = "error"
)

// TokenUsage is attached to LLM spans when token accounting is enabled.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Span is one unit of traced work, optionally nested under a parent.
type Span struct {
	ID         string      `json:"id"`
	ParentID   string      `json:"parent_id,omitempty"`
	TraceID    string      `json:"trace_id"`
	Name       string      `json:"name"`
	Type       SpanType    `json:"type"`
	StartTime  time.Time   `json:"start_time"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Status     SpanStatus  `json:"status"`
	Input      interface{} `json:"input,omitempty"`
	Output     interface{} `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	TokenUsage *TokenUsage `json:"token_usage,omitempty"`
}

// TraceRecord is the ordered span list produced by one trace.
type TraceRecord struct {
	TraceID   string     `json:"trace_id"`
	Name      string     `json:"name"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Spans     []*Span    `json:"spans"`
}

// Sink receives a completed TraceRecord. Implementations that hold
// background resources (an exporter, an open file handle) should also
// implement io.Closer; Tracer.Close calls it if present.
type Sink interface {
	WriteTrace(record *TraceRecord)
}

// Tracer tracks in-flight traces and hands each one to its Sink once
// ended. Safe for concurrent use; the active-trace map is the only
// shared mutable state and is never held across a Sink call.
type Tracer struct {
	mu     sync.Mutex
	sink   Sink
	traces map[string]*TraceRecord
}

// New builds a Tracer backed by the sink selected by cfg.Type, matching
// the TRACER_TYPE environment contract (console | json | remote |
// langsmith | none). serviceName/environment label the console sink's
// otel resource; redisURL backs the remote sink's stream (empty means
// the remote sink logs-and-drops instead of pushing anywhere).
func New(cfg config.TracerConfig, redisURL, serviceName, environment string, log *zap.SugaredLogger) (*Tracer, error) {
	if !cfg.Enabled {
		return NewWithSink(NoopSink{}), nil
	}
	switch cfg.Type {
	case "console":
		sink, err := NewConsoleSink(serviceName, environment, log)
		if err != nil {
			return nil, err
		}
		return NewWithSink(sink), nil
	case "json":
		sink, err := NewJSONFileSink(cfg.OutputDir, log)
		if err != nil {
			return nil, err
		}
		return NewWithSink(sink), nil
	case "remote", "langsmith":
		// "langsmith" has no vendor-specific wire format here; it is
		// mapped onto the generic remote sink.
		sink, err := NewRemoteSink(redisURL, log)
		if err != nil {
			return nil, err
		}
		return NewWithSink(sink), nil
	case "none", "":
		return NewWithSink(NoopSink{}), nil
	default:
		return NewWithSink(NoopSink{}), nil
	}
}

// NewWithSink builds a Tracer around an already-constructed Sink, mainly
// for tests that want to inspect recorded TraceRecords directly.
func NewWithSink(sink Sink) *Tracer {
	return &Tracer{sink: sink, traces: make(map[string]*TraceRecord)}
}

// StartTrace begins a new trace and returns its id.
func (t *Tracer) StartTrace(name string) string {
	id := uuid.NewString()
	t.mu.Lock()
	t.traces[id] = &TraceRecord{TraceID: id, Name: name, StartTime: time.Now()}
	t.mu.Unlock()
	return id
}

// EndTrace closes traceID and hands the finished record to the sink. A
// second call, or a call with an unknown id, is a no-op.
func (t *Tracer) EndTrace(traceID string) {
	t.mu.Lock()
	rec, ok := t.traces[traceID]
	if ok {
		delete(t.traces, traceID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	now := time.Now()
	rec.EndTime = &now
	t.sink.WriteTrace(rec)
}

// StartSpan opens a span under traceID (parentID may be "" for a
// trace-root span) and appends it to the trace's span list.
func (t *Tracer) StartSpan(traceID, parentID, name string, typ SpanType, input interface{}) *Span {
	span := &Span{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		TraceID:   traceID,
		Name:      name,
		Type:      typ,
		StartTime: time.Now(),
		Status:    StatusRunning,
		Input:     input,
	}
	t.mu.Lock()
	if rec, ok := t.traces[traceID]; ok {
		rec.Spans = append(rec.Spans, span)
	}
	t.mu.Unlock()
	return span
}

// EndSpan closes span with its output and error, if any. err == nil
// marks it completed; non-nil marks it error and records err.Error().
func (t *Tracer) EndSpan(span *Span, output interface{}, err error) {
	if span == nil {
		return
	}
	now := time.Now()
	span.EndTime = &now
	span.Duration = now.Sub(span.StartTime)
	span.Output = output
	if err != nil {
		span.Status = StatusError
		span.Error = err.Error()
		return
	}
	span.Status = StatusCompleted
}

// RecordTokenUsage attaches token accounting to an LLM span.
func (t *Tracer) RecordTokenUsage(span *Span, usage TokenUsage) {
	if span == nil {
		return
	}
	span.TokenUsage = &usage
}

// Close releases the underlying sink's resources, if it holds any.
func (t *Tracer) Close() error {
	if closer, ok := t.sink.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// OrchestrationHooks builds orchestration.Hooks that record one trace
// per graph run (keyed by TripState.ThreadID) and one span per node
// execution; fan-outs record no span of their own. NodeStart/NodeEnd pairs
// arrive strictly sequentially per thread+node (the executor calls them
// back to back around a single node.Fn invocation, even across
// concurrent fan-out goroutines for distinct node names), so a
// mutex-guarded map keyed by "threadID/node" is sufficient.
func (t *Tracer) OrchestrationHooks() orchestration.Hooks {
	var mu sync.Mutex
	traceByThread := make(map[string]string)
	spanByKey := make(map[string]*Span)

	traceFor := func(threadID string) string {
		mu.Lock()
		defer mu.Unlock()
		id, ok := traceByThread[threadID]
		if !ok {
			id = t.StartTrace("trip_planning:" + threadID)
			traceByThread[threadID] = id
		}
		return id
	}

	return orchestration.Hooks{
		NodeStart: func(node string, state *orchestration.TripState) {
			traceID := traceFor(state.ThreadID)
			span := t.StartSpan(traceID, "", node, SpanNode, nil)
			mu.Lock()
			spanByKey[state.ThreadID+"/"+node] = span
			mu.Unlock()
		},
		NodeEnd: func(node, threadID string, update orchestration.StateUpdate, err error) {
			key := threadID + "/" + node
			mu.Lock()
			span := spanByKey[key]
			delete(spanByKey, key)
			mu.Unlock()
			t.EndSpan(span, update, err)
			if node == orchestration.NodeFinalize {
				mu.Lock()
				traceID := traceByThread[threadID]
				delete(traceByThread, threadID)
				mu.Unlock()
				t.EndTrace(traceID)
			}
		},
		FanOut: func(nodes []string) {
			// The fan-out spec names targets but not the calling
			// thread, so there is no trace to attach a span to; the
			// targets' own NodeStart/NodeEnd spans cover the fan-out.
			_ = nodes
		},
	}
}

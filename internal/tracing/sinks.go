package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"go.uber.org/zap"
)

// NoopSink discards every trace; selected by TRACER_TYPE=none or when
// tracing is disabled.
type NoopSink struct{}

func (NoopSink) WriteTrace(*TraceRecord) {}

// ConsoleSink re-emits each TraceRecord as a real otel span tree through
// stdouttrace, continuing the pretty-printed console exporter the
// teacher's pkg/observability.InitTracing already wires up.
type ConsoleSink struct {
	tp     *sdktrace.TracerProvider
	tracer oteltrace.Tracer
	log    *zap.SugaredLogger
}

// NewConsoleSink builds a ConsoleSink with its own TracerProvider and
// registers it as the global otel provider.
func NewConsoleSink(serviceName, environment string, log *zap.SugaredLogger) (*ConsoleSink, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion("1.0.0"),
		semconv.DeploymentEnvironment(environment),
	)

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("tracing: console sink: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return &ConsoleSink{tp: tp, tracer: tp.Tracer("tripplanner"), log: log}, nil
}

// WriteTrace recreates record's span tree as real otel spans, stamped
// with the original start/end times, then prints it via stdouttrace.
func (s *ConsoleSink) WriteTrace(record *TraceRecord) {
	ctx, root := s.tracer.Start(context.Background(), record.Name, oteltrace.WithTimestamp(record.StartTime))
	ctxByParent := map[string]context.Context{"": ctx}

	for _, sp := range record.Spans {
		parentCtx, ok := ctxByParent[sp.ParentID]
		if !ok {
			parentCtx = ctx
		}
		spanCtx, otelSpan := s.tracer.Start(parentCtx, sp.Name, oteltrace.WithTimestamp(sp.StartTime))
		otelSpan.SetAttributes(
			attribute.String("span.type", string(sp.Type)),
			attribute.String("span.status", string(sp.Status)),
		)
		if sp.Error != "" {
			otelSpan.SetAttributes(attribute.String("span.error", sp.Error))
		}
		if sp.TokenUsage != nil {
			otelSpan.SetAttributes(attribute.Int("llm.usage.total_tokens", sp.TokenUsage.TotalTokens))
		}
		end := sp.StartTime
		if sp.EndTime != nil {
			end = *sp.EndTime
		}
		otelSpan.End(oteltrace.WithTimestamp(end))
		ctxByParent[sp.ID] = spanCtx
	}

	rootEnd := record.StartTime
	if record.EndTime != nil {
		rootEnd = *record.EndTime
	}
	root.End(oteltrace.WithTimestamp(rootEnd))

	if s.log != nil {
		s.log.Infow("trace recorded", "trace_id", record.TraceID, "name", record.Name, "spans", len(record.Spans))
	}
}

// Close shuts down the underlying TracerProvider, flushing the exporter.
func (s *ConsoleSink) Close() error {
	return s.tp.Shutdown(context.Background())
}

// JSONFileSink writes one JSON file per trace into dir, which is
// created if it doesn't exist.
type JSONFileSink struct {
	dir string
	log *zap.SugaredLogger
}

// NewJSONFileSink builds a JSONFileSink writing under dir.
func NewJSONFileSink(dir string, log *zap.SugaredLogger) (*JSONFileSink, error) {
	if dir == "" {
		dir = "./traces"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tracing: create trace output dir %q: %w", dir, err)
	}
	return &JSONFileSink{dir: dir, log: log}, nil
}

func (s *JSONFileSink) WriteTrace(record *TraceRecord) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		s.warn("marshal trace failed", record.TraceID, err)
		return
	}
	path := filepath.Join(s.dir, record.TraceID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		s.warn("write trace file failed", record.TraceID, err)
	}
}

func (s *JSONFileSink) warn(msg, traceID string, err error) {
	if s.log != nil {
		s.log.Warnw("tracing: "+msg, "trace_id", traceID, "error", err)
	}
}

// remoteTraceStream is the Redis stream every RemoteSink pushes into;
// a single well-known key keeps multiple process instances' traces
// interleaved in arrival order for one external collector to drain.
const remoteTraceStream = "tripplanner:traces"

// remoteTraceStreamMaxLen caps the stream so an unread backlog can't
// grow without bound; XAdd trims approximately (Approx: true), which
// is cheap and is the idiomatic way to bound a Redis stream's size.
const remoteTraceStreamMaxLen = 1000

// RemoteSink pushes each trace as one Redis stream entry, fire-and-
// forget: failures are demoted to a warning log rather than surfaced to
// the caller, per the "remote sink never blocks the traced operation"
// design. With no redisURL configured it logs-and-drops instead of
// pushing anywhere, standing in for any LangSmith-style vendor this
// trace data might otherwise be forwarded to.
type RemoteSink struct {
	client *redis.Client
	log    *zap.SugaredLogger
}

// NewRemoteSink builds a RemoteSink against redisURL. An empty redisURL
// is valid and makes WriteTrace a log-and-drop no-op.
func NewRemoteSink(redisURL string, log *zap.SugaredLogger) (*RemoteSink, error) {
	if redisURL == "" {
		return &RemoteSink{log: log}, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("tracing: parse redis url for remote sink: %w", err)
	}
	return &RemoteSink{client: redis.NewClient(opts), log: log}, nil
}

func (s *RemoteSink) WriteTrace(record *TraceRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("tracing: marshal remote trace failed", "trace_id", record.TraceID, "error", err)
		}
		return
	}

	if s.client == nil {
		if s.log != nil {
			s.log.Warnw("tracing: remote sink has no REDIS_URL configured, dropping trace", "trace_id", record.TraceID)
		}
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: remoteTraceStream,
			MaxLen: remoteTraceStreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"trace_id": record.TraceID, "payload": string(data)},
		}).Err()
		if err != nil && s.log != nil {
			s.log.Warnw("tracing: remote trace push failed", "trace_id", record.TraceID, "error", err)
		}
	}()
}

// Close releases the Redis client, if one was configured.
func (s *RemoteSink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

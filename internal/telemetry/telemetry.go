// Package telemetry defines the Logger/Metrics/Tracer capabilities consumed
// throughout the orchestration core, modeled on agents/runtime/telemetry in
// the teacher repository: a small interface set with noop defaults so every
// component can accept telemetry without requiring it.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
)

// Logger emits structured, leveled log lines. Implementations must accept an
// even number of trailing key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, msg string, kv ...any)
}

// Metrics records counters, timers, and gauges.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, d time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Span represents one unit of traced work.
type Span interface {
	AddEvent(name string, kv ...any)
	SetStatus(code codes.Code, msg string)
	RecordError(err error)
	End()
}

// Tracer starts spans for traced operations (task dispatch, router sweeps).
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(context.Context, string, ...any) {}
func (NoopLogger) Info(context.Context, string, ...any)  {}
func (NoopLogger) Warn(context.Context, string, ...any)  {}
func (NoopLogger) Error(context.Context, string, ...any) {}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) IncCounter(string, float64, ...string)         {}
func (NoopMetrics) RecordTimer(string, time.Duration, ...string)  {}
func (NoopMetrics) RecordGauge(string, float64, ...string)        {}

// NoopTracer returns a Span that does nothing.
type NoopTracer struct{}

func (NoopTracer) Start(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) AddEvent(string, ...any)          {}
func (noopSpan) SetStatus(codes.Code, string)     {}
func (noopSpan) RecordError(error)                {}
func (noopSpan) End()                             {}

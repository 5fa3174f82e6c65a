package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OtelTracer backs Tracer with an otel trace.Tracer.
type OtelTracer struct {
	tracer oteltrace.Tracer
}

// NewOtelTracer wraps the given otel tracer.
func NewOtelTracer(t oteltrace.Tracer) *OtelTracer {
	return &OtelTracer{tracer: t}
}

func (o *OtelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span oteltrace.Span
}

func (s *otelSpan) AddEvent(name string, kv ...any) {
	s.span.AddEvent(name)
	_ = kv // attributes omitted for brevity; kept for interface symmetry with Logger
}

func (s *otelSpan) SetStatus(code codes.Code, msg string) { s.span.SetStatus(code, msg) }
func (s *otelSpan) RecordError(err error)                 { s.span.RecordError(err) }
func (s *otelSpan) End()                                  { s.span.End() }

// OtelMetrics backs Metrics with otel instruments created lazily per name.
type OtelMetrics struct {
	meter    otelmetric.Meter
	counters map[string]otelmetric.Float64Counter
	gauges   map[string]otelmetric.Float64Gauge
}

// NewOtelMetrics wraps the given otel meter.
func NewOtelMetrics(m otelmetric.Meter) *OtelMetrics {
	return &OtelMetrics{
		meter:    m,
		counters: make(map[string]otelmetric.Float64Counter),
		gauges:   make(map[string]otelmetric.Float64Gauge),
	}
}

func (o *OtelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := o.counters[name]
	if !ok {
		var err error
		c, err = o.meter.Float64Counter(name)
		if err != nil {
			return
		}
		o.counters[name] = c
	}
	c.Add(context.Background(), value)
	_ = tags
}

func (o *OtelMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	o.RecordGauge(name+".seconds", d.Seconds(), tags...)
}

func (o *OtelMetrics) RecordGauge(name string, value float64, tags ...string) {
	g, ok := o.gauges[name]
	if !ok {
		var err error
		g, err = o.meter.Float64Gauge(name)
		if err != nil {
			return
		}
		o.gauges[name] = g
	}
	g.Record(context.Background(), value)
	_ = tags
}

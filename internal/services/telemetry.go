package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hanko-field/marketplace/internal/services"

var tracer = otel.Tracer(instrumentationName)

// outcomeCounter counts operation outcomes by name. A counter that failed to register is skipped.
type outcomeCounter struct {
	counter metric.Int64Counter
	enabled bool
}

func newOutcomeCounter(meter metric.Meter, name, description string) outcomeCounter {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	return outcomeCounter{counter: counter, enabled: err == nil}
}

func (c outcomeCounter) record(ctx context.Context, outcome string, attrs ...attribute.KeyValue) {
	if !c.enabled {
		return
	}
	attrs = append(attrs, attribute.String("outcome", outcome))
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
	}
	span.End()
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(KindOf(err))
}

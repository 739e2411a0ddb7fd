package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Operation ties a span to a duration metric for one tracked call.
type Operation struct {
	Component string
	Name      string
	SuiteID   string
	StartTime time.Time

	span    trace.Span
	metrics *Metrics
}

// StartOperation starts a span named spanName and returns the derived context.
// metrics may be nil.
func StartOperation(ctx context.Context, spanName, component, name, suiteID string, metrics *Metrics) (context.Context, *Operation) {
	ctx, span := StartSpan(ctx, spanName, trace.WithAttributes(
		attribute.String(AttrComponent, component),
		attribute.String(AttrOperation, name),
		attribute.String(AttrSuiteID, suiteID),
	))
	return ctx, &Operation{
		Component: component,
		Name:      name,
		SuiteID:   suiteID,
		StartTime: time.Now(),
		span:      span,
		metrics:   metrics,
	}
}

// SetAttributes adds attributes to the operation span.
func (o *Operation) SetAttributes(kv ...attribute.KeyValue) {
	o.span.SetAttributes(kv...)
}

// End closes the span and records the outcome. It returns err unchanged so
// callers can write `return op.End(ctx, err)`.
func (o *Operation) End(ctx context.Context, err error) error {
	status := "ok"
	if err != nil {
		status = "error"
		SetSpanError(trace.ContextWithSpan(ctx, o.span), err)
	}
	o.span.SetAttributes(attribute.String(AttrStatus, status))
	o.span.End()
	o.metrics.RecordOperation(ctx, o.Component, o.Name, o.SuiteID, status, o.Duration())
	return err
}

// Duration returns the time elapsed since the operation started.
func (o *Operation) Duration() time.Duration {
	return time.Since(o.StartTime)
}

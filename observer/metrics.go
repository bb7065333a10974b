package observer

import (
	"context"
	"time"

	oxy "github.com/oxyrun/oxy"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// otelMetrics implements oxy.Metrics against the package instruments.
type otelMetrics struct {
	inst *Instruments
}

// NewMetrics returns an oxy.Metrics backed by inst, as returned from
// Init(). Wire it into a registry with oxy.WithMetrics.
func NewMetrics(inst *Instruments) oxy.Metrics {
	return &otelMetrics{inst: inst}
}

func (m *otelMetrics) Dispatch(ctx context.Context, callee string, category oxy.Category, state oxy.State, took time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("oxy.callee", callee),
		attribute.String("oxy.category", string(category)),
		attribute.String("oxy.state", state.String()),
	)
	m.inst.Dispatches.Add(ctx, 1, attrs)
	if state == oxy.StateFailed {
		m.inst.DispatchFailures.Add(ctx, 1, attrs)
	}
	m.inst.DispatchDuration.Record(ctx, float64(took.Milliseconds()), attrs)
}

func (m *otelMetrics) Message(ctx context.Context, msgType string) {
	m.inst.Messages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("oxy.message_type", msgType),
	))
}

func (m *otelMetrics) AdmissionWait(ctx context.Context, component string, waited time.Duration, timedOut bool) {
	attrs := metric.WithAttributes(attribute.String("oxy.component", component))
	m.inst.AdmissionWait.Record(ctx, float64(waited.Milliseconds()), attrs)
	if timedOut {
		m.inst.SemaphoreTimeouts.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) TransportRetry(ctx context.Context, component string) {
	m.inst.TransportRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("oxy.component", component),
	))
}

var _ oxy.Metrics = (*otelMetrics)(nil)

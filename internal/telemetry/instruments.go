package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const engineScope = "github.com/FCisco95/organic-app-sub000/engine"

// Instruments are the engine's counters and tracer. The zero value is not
// usable; call NewInstruments.
type Instruments struct {
	tracer      trace.Tracer
	transitions metric.Int64Counter
	blocked     metric.Int64Counter
	escalations metric.Int64Counter
	finalize    metric.Int64Counter
}

// NewInstruments builds instruments against the global providers. Counter
// creation errors fall back to no-op counters from the same meter.
func NewInstruments() *Instruments {
	m := Meter(engineScope)
	transitions, _ := m.Int64Counter("organic.sprint.transitions",
		metric.WithDescription("Sprint phase transitions committed"))
	blocked, _ := m.Int64Counter("organic.settlement.blocked",
		metric.WithDescription("Settlement attempts blocked by the guard"))
	escalations, _ := m.Int64Counter("organic.dispute.escalations",
		metric.WithDescription("Disputes escalated by the reviewer SLA sweep"))
	finalize, _ := m.Int64Counter("organic.proposal.finalize",
		metric.WithDescription("Proposal finalize attempts by outcome"))
	return &Instruments{
		tracer:      Tracer(engineScope),
		transitions: transitions,
		blocked:     blocked,
		escalations: escalations,
		finalize:    finalize,
	}
}

// Start opens a span for an engine operation.
func (i *Instruments) Start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if i == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return i.tracer.Start(ctx, "engine."+op, trace.WithAttributes(attrs...))
}

func (i *Instruments) Transition(ctx context.Context, from, to string) {
	if i == nil || i.transitions == nil {
		return
	}
	i.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("from", from), attribute.String("to", to)))
}

func (i *Instruments) SettlementBlocked(ctx context.Context, code string) {
	if i == nil || i.blocked == nil {
		return
	}
	i.blocked.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (i *Instruments) Escalated(ctx context.Context, n int) {
	if i == nil || i.escalations == nil || n == 0 {
		return
	}
	i.escalations.Add(ctx, int64(n))
}

func (i *Instruments) Finalize(ctx context.Context, outcome string) {
	if i == nil || i.finalize == nil {
		return
	}
	i.finalize.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

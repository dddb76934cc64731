package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInstrumentsRecordCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	ctx := context.Background()
	inst := NewInstruments()
	inst.Transition(ctx, "planning", "active")
	inst.Transition(ctx, "active", "review")
	inst.SettlementBlocked(ctx, "EMISSION_CAP_BREACH")
	inst.Escalated(ctx, 3)
	inst.Escalated(ctx, 0)
	inst.Finalize(ctx, "finalized")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	assert.Equal(t, int64(2), totals["organic.sprint.transitions"])
	assert.Equal(t, int64(1), totals["organic.settlement.blocked"])
	assert.Equal(t, int64(3), totals["organic.dispute.escalations"])
	assert.Equal(t, int64(1), totals["organic.proposal.finalize"])
}

func TestNilInstrumentsAreSafe(t *testing.T) {
	var inst *Instruments
	ctx, span := inst.Start(context.Background(), "noop")
	span.End()
	inst.Transition(ctx, "a", "b")
	inst.SettlementBlocked(ctx, "x")
	inst.Escalated(ctx, 1)
	inst.Finalize(ctx, "y")
}

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("ORGANIC_OTEL_ENABLED", "")
	require.NoError(t, Init(context.Background(), "organic", "test"))
	assert.False(t, Enabled())
	Shutdown(context.Background())
}

package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FCisco95/organic-app-sub000/internal/engine"
)

type fakeJobs struct {
	sweeps        atomic.Int32
	finalizes     atomic.Int32
	sweepFailures int32
	finalizeErr   error
}

func (f *fakeJobs) SweepOverdueDisputeReviewerSLA(ctx context.Context, _ int) (engine.SweepResult, error) {
	n := f.sweeps.Add(1)
	if n <= f.sweepFailures {
		return engine.SweepResult{}, errors.New("database is locked")
	}
	return engine.SweepResult{EscalatedCount: 1, Escalated: []string{"d1"}}, nil
}

func (f *fakeJobs) FinalizeDueProposals(ctx context.Context) (engine.DueSweepResult, error) {
	f.finalizes.Add(1)
	if f.finalizeErr != nil {
		return engine.DueSweepResult{}, f.finalizeErr
	}
	return engine.DueSweepResult{Finalized: []string{"p1"}}, nil
}

func newTestSweeper(jobs *fakeJobs) *Sweeper {
	return New(func(context.Context) (Jobs, error) { return jobs, nil }, Config{
		Interval:        10 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxElapsed:      200 * time.Millisecond,
		Logger:          slog.New(slog.DiscardHandler),
	})
}

func TestTickRunsBothJobs(t *testing.T) {
	jobs := &fakeJobs{}
	rep, err := newTestSweeper(jobs).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Disputes.EscalatedCount)
	assert.Equal(t, []string{"p1"}, rep.Proposals.Finalized)
	assert.Equal(t, int32(1), jobs.sweeps.Load())
	assert.Equal(t, int32(1), jobs.finalizes.Load())
}

func TestTickRetriesTransientFailures(t *testing.T) {
	jobs := &fakeJobs{sweepFailures: 2}
	rep, err := newTestSweeper(jobs).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), jobs.sweeps.Load())
	assert.Equal(t, []string{"d1"}, rep.Disputes.Escalated)
}

func TestTickGivesUpAfterMaxElapsed(t *testing.T) {
	jobs := &fakeJobs{finalizeErr: errors.New("disk I/O error")}
	_, err := newTestSweeper(jobs).Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proposal finalize sweep")
	assert.Greater(t, jobs.finalizes.Load(), int32(1))
}

func TestTickReportsLoaderError(t *testing.T) {
	s := New(func(context.Context) (Jobs, error) { return nil, errors.New("no org config") }, Config{Logger: slog.New(slog.DiscardHandler)})
	_, err := s.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load jobs")
}

func TestRunStopsWithContext(t *testing.T) {
	jobs := &fakeJobs{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- newTestSweeper(jobs).Run(ctx) }()

	require.Eventually(t, func() bool { return jobs.sweeps.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

// Package sweeper runs the periodic background jobs: the dispute reviewer
// SLA escalation and auto-finalization of proposals whose voting closed.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/FCisco95/organic-app-sub000/internal/engine"
)

const (
	DefaultInterval   = time.Minute
	defaultMaxElapsed = 30 * time.Second
)

// Jobs is the part of the engine a tick drives.
type Jobs interface {
	SweepOverdueDisputeReviewerSLA(ctx context.Context, extensionHours int) (engine.SweepResult, error)
	FinalizeDueProposals(ctx context.Context) (engine.DueSweepResult, error)
}

// Loader builds the jobs for one tick so that every tick runs against the
// org config stored at that moment.
type Loader func(ctx context.Context) (Jobs, error)

type Config struct {
	Interval time.Duration
	// MaxElapsed bounds the retries of one failing job within a tick.
	MaxElapsed      time.Duration
	InitialInterval time.Duration
	Logger          *slog.Logger
}

type Sweeper struct {
	load Loader
	cfg  Config
}

// Report is the outcome of one tick.
type Report struct {
	Disputes  engine.SweepResult
	Proposals engine.DueSweepResult
}

func New(load Loader, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = defaultMaxElapsed
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{load: load, cfg: cfg}
}

// Run ticks until ctx is done. A failed tick is logged and the loop goes on.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.cfg.Logger.Info("sweeper started", "interval", s.cfg.Interval)
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.cfg.Logger.Error("sweep tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			s.cfg.Logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs both jobs once, concurrently.
func (s *Sweeper) Tick(ctx context.Context) (Report, error) {
	jobs, err := s.load(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load jobs: %w", err)
	}
	var rep Report
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.retry(gctx, "dispute sla sweep", func() error {
			res, err := jobs.SweepOverdueDisputeReviewerSLA(gctx, 0)
			rep.Disputes = res
			return err
		})
	})
	g.Go(func() error {
		return s.retry(gctx, "proposal finalize sweep", func() error {
			res, err := jobs.FinalizeDueProposals(gctx)
			rep.Proposals = res
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return rep, err
	}
	if n := rep.Disputes.EscalatedCount + len(rep.Proposals.Finalized); n > 0 {
		s.cfg.Logger.Info("sweep tick",
			"escalated", rep.Disputes.EscalatedCount,
			"finalized", len(rep.Proposals.Finalized),
			"failed", len(rep.Disputes.Failed)+len(rep.Proposals.Failed))
	}
	return rep, nil
}

func (s *Sweeper) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.cfg.MaxElapsed
	if s.cfg.InitialInterval > 0 {
		bo.InitialInterval = s.cfg.InitialInterval
	}
	return bo
}

func (s *Sweeper) retry(ctx context.Context, name string, op func() error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		s.cfg.Logger.Warn("sweep job failed, retrying", "job", name, "attempt", attempt, "err", err)
		return err
	}, backoff.WithContext(s.newBackoff(), ctx))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

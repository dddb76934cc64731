package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/FCisco95/organic-app-sub000/internal/config"
	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine/auth"
	"github.com/FCisco95/organic-app-sub000/internal/events"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

// FlagDuplicateEpoch is recorded in settlement_integrity_flags when an epoch
// distribution already exists at settlement time.
const FlagDuplicateEpoch = "duplicate_epoch_distribution"

// CapBreakdown shows how the emission cap for a sprint was derived.
type CapBreakdown struct {
	SprintID        string  `json:"sprint_id"`
	FixedCap        int64   `json:"fixed_cap"`
	Carryover       int64   `json:"carryover"`
	EmissionPercent float64 `json:"emission_percent"`
	TreasuryBalance int64   `json:"treasury_balance"`
	TreasuryCap     int64   `json:"treasury_cap"`
	Cap             int64   `json:"cap"`
	RewardPool      int64   `json:"reward_pool"`
}

// SettlementCheck is the guard's verdict. Code is empty when settlement may
// proceed.
type SettlementCheck struct {
	Cap         CapBreakdown `json:"cap"`
	Killed      bool         `json:"killed"`
	EpochExists bool         `json:"epoch_exists"`
	Code        string       `json:"code,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

func (c SettlementCheck) Blocked() bool { return c.Code != "" }

func (c SettlementCheck) details() map[string]any {
	return map[string]any{
		"cap":          c.Cap.Cap,
		"reward_pool":  c.Cap.RewardPool,
		"epoch_exists": c.EpochExists,
	}
}

// emissionCap computes min(fixed + carryover, emission% of treasury). The
// carryover banks the unused part of the fixed cap over the last N completed
// sprints when enabled.
func (e Engine) emissionCap(ctx context.Context, q repo.Querier, cfg *config.Config, s domain.Sprint) (CapBreakdown, error) {
	r := cfg.Rewards
	b := CapBreakdown{
		SprintID:        s.ID,
		FixedCap:        r.FixedCapPerSprint,
		EmissionPercent: r.EmissionPercent,
		TreasuryBalance: r.TreasuryBalance,
		TreasuryCap:     int64(math.Floor(r.EmissionPercent / 100 * float64(r.TreasuryBalance))),
		RewardPool:      s.RewardPool,
	}
	if r.Carryover.Enabled {
		paid, err := e.Repo.RecentEpochTotals(ctx, q, s.ID, r.Carryover.Sprints)
		if err != nil {
			return b, fmt.Errorf("carryover: %w", err)
		}
		for _, p := range paid {
			if unused := r.FixedCapPerSprint - p; unused > 0 {
				b.Carryover += unused
			}
		}
	}
	b.Cap = b.FixedCap + b.Carryover
	if b.TreasuryCap < b.Cap {
		b.Cap = b.TreasuryCap
	}
	return b, nil
}

// evaluateSettlement runs both guard checks against fresh reads. The kill
// switch takes precedence over the cap.
func (e Engine) evaluateSettlement(ctx context.Context, q repo.Querier, s domain.Sprint) (SettlementCheck, error) {
	cfg, err := e.config()
	if err != nil {
		return SettlementCheck{}, err
	}
	var c SettlementCheck
	c.EpochExists, err = e.Repo.HasEpochDistribution(ctx, q, s.ID)
	if err != nil {
		return c, fmt.Errorf("epoch lookup: %w", err)
	}
	c.Killed = s.RewardSettlementStatus == domain.SettlementKilled || c.EpochExists
	c.Cap, err = e.emissionCap(ctx, q, cfg, s)
	if err != nil {
		return c, err
	}
	switch {
	case c.Killed:
		c.Code = CodeSettlementKillSwitch
		if c.EpochExists {
			c.Reason = "an epoch distribution already exists for this sprint"
		} else {
			c.Reason = "settlement kill switch is engaged"
		}
	case c.Cap.RewardPool > c.Cap.Cap:
		c.Code = CodeEmissionCapBreach
		c.Reason = fmt.Sprintf("reward pool %d exceeds emission cap %d", c.Cap.RewardPool, c.Cap.Cap)
	}
	return c, nil
}

// blockSettlement persists the guard's verdict on the sprint. The caller
// commits so that the held or killed state survives the returned conflict.
func (e Engine) blockSettlement(ctx context.Context, tx *sql.Tx, s domain.Sprint, c SettlementCheck, actorID string) error {
	now := e.now()
	var err error
	if c.Code == CodeSettlementKillSwitch {
		flag := ""
		if c.EpochExists {
			flag = FlagDuplicateEpoch
		}
		err = e.Repo.KillSettlement(ctx, tx, s.ID, c.Reason, flag, now)
	} else {
		err = e.Repo.HoldSettlement(ctx, tx, s.ID, c.Reason, now)
	}
	if err != nil {
		return err
	}
	return e.emit(ctx, tx, "sprint.settlement_blocked", "sprint", s.ID, actorID, events.EventPayload{
		"code": c.Code, "reason": c.Reason, "cap": c.Cap.Cap, "reward_pool": c.Cap.RewardPool,
	})
}

// recordDistributions writes the epoch row and the per-contributor payouts.
// The pool is split by earned points, rounding down.
func (e Engine) recordDistributions(ctx context.Context, tx *sql.Tx, s domain.Sprint, contributors []domain.ContributorSnapshot) ([]domain.RewardDistribution, error) {
	now := e.now()
	out := []domain.RewardDistribution{{
		ID:          newID(""),
		SprintID:    s.ID,
		Type:        domain.DistributionEpoch,
		TokenAmount: s.RewardPool,
		CreatedAt:   now,
	}}
	var totalEarned int64
	for _, c := range contributors {
		totalEarned += c.EarnedPoints
	}
	if totalEarned > 0 && s.RewardPool > 0 {
		for _, c := range contributors {
			amount := s.RewardPool * c.EarnedPoints / totalEarned
			if amount <= 0 {
				continue
			}
			out = append(out, domain.RewardDistribution{
				ID:          newID(""),
				SprintID:    s.ID,
				MemberID:    strRef(c.MemberID),
				Type:        domain.DistributionContributor,
				TokenAmount: amount,
				CreatedAt:   now,
			})
		}
	}
	for _, d := range out {
		if err := e.Repo.InsertDistribution(ctx, tx, d); err != nil {
			return nil, fmt.Errorf("insert distribution: %w", err)
		}
		if d.MemberID != nil {
			if err := e.Repo.AddTokens(ctx, tx, *d.MemberID, d.TokenAmount); err != nil {
				return nil, fmt.Errorf("credit %s: %w", *d.MemberID, err)
			}
		}
	}
	return out, nil
}

// EmissionCap returns the current cap breakdown for a sprint.
func (e Engine) EmissionCap(ctx context.Context, sprintID string) (CapBreakdown, error) {
	cfg, err := e.config()
	if err != nil {
		return CapBreakdown{}, err
	}
	s, err := e.Repo.GetSprint(ctx, nil, sprintID)
	if err != nil {
		return CapBreakdown{}, err
	}
	return e.emissionCap(ctx, nil, cfg, s)
}

// EvaluateSettlement previews the guard without writing anything.
func (e Engine) EvaluateSettlement(ctx context.Context, sprintID string) (SettlementCheck, error) {
	s, err := e.Repo.GetSprint(ctx, nil, sprintID)
	if err != nil {
		return SettlementCheck{}, err
	}
	return e.evaluateSettlement(ctx, nil, s)
}

func (e Engine) ListDistributions(ctx context.Context, sprintID string) ([]domain.RewardDistribution, error) {
	return e.Repo.ListDistributions(ctx, nil, sprintID)
}

// UpdateRewardPool lets an operator lower or raise the pool of an
// uncompleted sprint, typically after a cap breach.
func (e Engine) UpdateRewardPool(ctx context.Context, sprintID string, pool int64, actorID string) (domain.Sprint, error) {
	if pool < 0 {
		return domain.Sprint{}, validationf(map[string]any{"reward_pool": pool}, "reward pool must not be negative")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Sprint{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermSettlementAdmin); err != nil {
		return domain.Sprint{}, err
	}
	old, err := e.Repo.GetSprint(ctx, tx, sprintID)
	if err != nil {
		return domain.Sprint{}, err
	}
	ok, err := e.Repo.SetRewardPool(ctx, tx, sprintID, pool, e.now())
	if err != nil {
		return domain.Sprint{}, err
	}
	if !ok {
		return domain.Sprint{}, conflict(CodeSprintCompleted, "reward pool of a completed sprint is immutable", map[string]any{"sprint_id": sprintID})
	}
	if err := e.emit(ctx, tx, "sprint.reward_pool_updated", "sprint", sprintID, actorID, events.EventPayload{"from": old.RewardPool, "to": pool}); err != nil {
		return domain.Sprint{}, err
	}
	s, err := e.Repo.GetSprint(ctx, tx, sprintID)
	if err != nil {
		return domain.Sprint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Sprint{}, err
	}
	return s, nil
}

// ReconcileEpochDistribution removes duplicate epoch rows from a sprint that
// never completed. The kill switch stays engaged until it is cleared
// separately.
func (e Engine) ReconcileEpochDistribution(ctx context.Context, sprintID, actorID string) ([]int64, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermSettlementAdmin); err != nil {
		return nil, err
	}
	s, err := e.Repo.GetSprint(ctx, tx, sprintID)
	if err != nil {
		return nil, err
	}
	if s.Status == domain.PhaseCompleted {
		return nil, conflict(CodeSprintCompleted, "distributions of a completed sprint are final", map[string]any{"sprint_id": sprintID})
	}
	removed, err := e.Repo.DeleteEpochDistributions(ctx, tx, sprintID)
	if err != nil {
		return nil, err
	}
	if err := e.emit(ctx, tx, "sprint.epoch_reconciled", "sprint", sprintID, actorID, events.EventPayload{"removed": removed}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.log().Warn("epoch distributions reconciled", "sprint_id", sprintID, "removed", len(removed), "actor_id", actorID)
	return removed, nil
}

// ClearSettlementKillSwitch resets a killed sprint to pending. It refuses
// while an epoch distribution is still recorded for the sprint.
func (e Engine) ClearSettlementKillSwitch(ctx context.Context, sprintID, actorID string) (domain.Sprint, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Sprint{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermSettlementAdmin); err != nil {
		return domain.Sprint{}, err
	}
	if _, err := e.Repo.GetSprint(ctx, tx, sprintID); err != nil {
		return domain.Sprint{}, err
	}
	exists, err := e.Repo.HasEpochDistribution(ctx, tx, sprintID)
	if err != nil {
		return domain.Sprint{}, err
	}
	if exists {
		return domain.Sprint{}, conflict(CodeSettlementKillSwitch, "epoch distribution still recorded; reconcile it first", map[string]any{"sprint_id": sprintID})
	}
	ok, err := e.Repo.ClearSettlementKill(ctx, tx, sprintID, e.now())
	if err != nil {
		return domain.Sprint{}, err
	}
	if !ok {
		return domain.Sprint{}, conflict(CodeInvalidStatus, "settlement kill switch is not engaged", map[string]any{"sprint_id": sprintID})
	}
	if err := e.emit(ctx, tx, "sprint.kill_switch_cleared", "sprint", sprintID, actorID, nil); err != nil {
		return domain.Sprint{}, err
	}
	s, err := e.Repo.GetSprint(ctx, tx, sprintID)
	if err != nil {
		return domain.Sprint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Sprint{}, err
	}
	e.log().Warn("settlement kill switch cleared", "sprint_id", sprintID, "actor_id", actorID)
	return s, nil
}

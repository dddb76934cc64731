package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/FCisco95/organic-app-sub000/internal/clock"
	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine/auth"
	"github.com/FCisco95/organic-app-sub000/internal/events"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

// Incomplete task policies applied at completion.
const (
	IncompleteBacklog    = "backlog"
	IncompleteNextSprint = "next_sprint"
)

type SprintCreateOptions struct {
	ID             string
	Name           string
	Goal           string
	CapacityPoints int64
	RewardPool     int64
	StartAt        *time.Time
	EndAt          *time.Time
	ActorID        string
}

func (e Engine) CreateSprint(ctx context.Context, opts SprintCreateOptions) (domain.Sprint, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Sprint{}, validationf(nil, "name is required")
	}
	if opts.CapacityPoints < 0 || opts.RewardPool < 0 {
		return domain.Sprint{}, validationf(nil, "capacity and reward pool must not be negative")
	}
	if opts.StartAt != nil && opts.EndAt != nil && !opts.EndAt.After(*opts.StartAt) {
		return domain.Sprint{}, validationf(nil, "end_at must be after start_at")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Sprint{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermSprintManage); err != nil {
		return domain.Sprint{}, err
	}
	now := e.now()
	s := domain.Sprint{
		ID:                     newID(opts.ID),
		Name:                   opts.Name,
		Goal:                   opts.Goal,
		Status:                 domain.PhasePlanning,
		CapacityPoints:         opts.CapacityPoints,
		StartAt:                opts.StartAt,
		EndAt:                  opts.EndAt,
		RewardPool:             opts.RewardPool,
		RewardSettlementStatus: domain.SettlementPending,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := e.Repo.InsertSprint(ctx, tx, s); err != nil {
		return domain.Sprint{}, fmt.Errorf("insert sprint: %w", err)
	}
	if err := e.emit(ctx, tx, "sprint.created", "sprint", s.ID, opts.ActorID, events.EventPayload{
		"name": s.Name, "capacity_points": s.CapacityPoints, "reward_pool": s.RewardPool,
	}); err != nil {
		return domain.Sprint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Sprint{}, err
	}
	return s, nil
}

func (e Engine) GetSprint(ctx context.Context, id string) (domain.Sprint, error) {
	return e.Repo.GetSprint(ctx, nil, id)
}

func (e Engine) ListSprints(ctx context.Context, status string) ([]domain.Sprint, error) {
	return e.Repo.ListSprints(ctx, nil, status)
}

func (e Engine) GetSnapshot(ctx context.Context, sprintID string) (domain.SprintSnapshot, error) {
	return e.Repo.GetSnapshot(ctx, nil, sprintID)
}

// StartSprint moves a planning sprint to active. At most one sprint may be
// open at a time; a second start observes ACTIVE_SPRINT_EXISTS.
func (e Engine) StartSprint(ctx context.Context, id, actorID string) (domain.Sprint, error) {
	ctx, span := e.Metrics.Start(ctx, "start_sprint", attribute.String("sprint.id", id))
	defer span.End()
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Sprint{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermSprintManage); err != nil {
		return domain.Sprint{}, err
	}
	s, err := e.Repo.GetSprint(ctx, tx, id)
	if err != nil {
		return domain.Sprint{}, err
	}
	if err := ensurePhaseTransition(s.Status, domain.PhaseActive); err != nil {
		return domain.Sprint{}, err
	}
	now := e.now()
	ok, err := e.Repo.ActivateSprint(ctx, tx, id, now)
	if err != nil {
		return domain.Sprint{}, err
	}
	if !ok {
		details := map[string]any{"sprint_id": id}
		open, err := e.Repo.OpenSprint(ctx, tx)
		switch {
		case err == nil:
			details["open_sprint_id"] = open.ID
		case !errors.Is(err, repo.ErrNotFound):
			return domain.Sprint{}, err
		default:
			return domain.Sprint{}, conflict(CodeStaleState, "sprint changed concurrently", details)
		}
		e.log().Warn("sprint start blocked", "sprint_id", id, "open_sprint_id", open.ID)
		return domain.Sprint{}, conflict(CodeActiveSprintExists, "another sprint is already open", details)
	}
	if err := e.emit(ctx, tx, "sprint.phase_changed", "sprint", id, actorID, events.EventPayload{
		"from": domain.PhasePlanning, "to": domain.PhaseActive,
	}); err != nil {
		return domain.Sprint{}, err
	}
	started, err := e.Repo.GetSprint(ctx, tx, id)
	if err != nil {
		return domain.Sprint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Sprint{}, err
	}
	e.Metrics.Transition(ctx, domain.PhasePlanning, domain.PhaseActive)
	return started, nil
}

func ensurePhaseTransition(oldPhase, newPhase string) error {
	if oldPhase == domain.PhaseCompleted {
		return conflict(CodeSprintCompleted, "sprint is completed", map[string]any{"status": oldPhase})
	}
	if next := domain.NextPhase(oldPhase); next == "" || next != newPhase {
		return conflict(CodeInvalidPhaseTransition, fmt.Sprintf("cannot move sprint from %s to %s", oldPhase, newPhase),
			map[string]any{"from": oldPhase, "to": newPhase, "next": next})
	}
	return nil
}

type AdvanceOptions struct {
	// Target, when set, must name the immediate next phase.
	Target           string
	IncompleteAction string
	NextSprintID     string
	ActorID          string
}

type AdvanceResult struct {
	Sprint        domain.Sprint               `json:"sprint"`
	Snapshot      *domain.SprintSnapshot      `json:"snapshot,omitempty"`
	Distributions []domain.RewardDistribution `json:"distributions,omitempty"`
	Sweep         *SweepResult                `json:"sweep,omitempty"`
}

// AdvanceSprintPhase moves a sprint to its next phase after checking that
// phase's preconditions. Guard blocks at settlement are persisted before the
// conflict is returned.
func (e Engine) AdvanceSprintPhase(ctx context.Context, id string, opts AdvanceOptions) (AdvanceResult, error) {
	ctx, span := e.Metrics.Start(ctx, "advance_sprint_phase", attribute.String("sprint.id", id))
	defer span.End()
	cfg, err := e.config()
	if err != nil {
		return AdvanceResult{}, err
	}
	if _, err := e.Auth.Require(ctx, nil, opts.ActorID, auth.PermSprintManage); err != nil {
		return AdvanceResult{}, err
	}
	cur, err := e.Repo.GetSprint(ctx, nil, id)
	if err != nil {
		return AdvanceResult{}, err
	}
	next := domain.NextPhase(cur.Status)
	target := opts.Target
	if target == "" {
		target = next
	}
	if err := ensurePhaseTransition(cur.Status, target); err != nil {
		return AdvanceResult{}, err
	}
	if cur.Status == domain.PhasePlanning {
		s, err := e.StartSprint(ctx, id, opts.ActorID)
		return AdvanceResult{Sprint: s}, err
	}

	var res AdvanceResult
	if cur.Status == domain.PhaseReview {
		sweep, err := e.SweepOverdueDisputeReviewerSLA(ctx, 0)
		if err != nil {
			return AdvanceResult{}, fmt.Errorf("sla sweep: %w", err)
		}
		res.Sweep = &sweep
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return AdvanceResult{}, err
	}
	defer tx.Rollback()
	s, err := e.Repo.GetSprint(ctx, tx, id)
	if err != nil {
		return AdvanceResult{}, err
	}
	if s.Status != cur.Status {
		return AdvanceResult{}, conflict(CodeStaleState, "sprint changed concurrently", map[string]any{"expected": cur.Status, "status": s.Status})
	}
	now := e.now()
	stamps := map[string]time.Time{}
	switch s.Status {
	case domain.PhaseActive:
		stamps["review_started_at"] = now
	case domain.PhaseReview:
		stamps["dispute_window_started_at"] = now
		stamps["dispute_window_ends_at"] = clock.Deadline(now, cfg.Sprints.DisputeWindowHours)
	case domain.PhaseDisputeWindow:
		if s.DisputeWindowEndsAt == nil || now.Before(*s.DisputeWindowEndsAt) {
			details := map[string]any{"sprint_id": s.ID}
			if s.DisputeWindowEndsAt != nil {
				details["dispute_window_ends_at"] = *s.DisputeWindowEndsAt
			}
			return AdvanceResult{}, conflict(CodeDisputeWindowOpen, "dispute window is still open", details)
		}
		open, err := e.Repo.CountActiveDisputes(ctx, tx, s.ID)
		if err != nil {
			return AdvanceResult{}, err
		}
		if open > 0 {
			return AdvanceResult{}, conflict(CodeDisputesUnresolved, fmt.Sprintf("%d disputes are unresolved", open),
				map[string]any{"sprint_id": s.ID, "open_disputes": open})
		}
		stamps["settlement_started_at"] = now
	case domain.PhaseSettlement:
		return e.completeSprint(ctx, tx, s, opts)
	}
	ok, err := e.Repo.UpdateSprintPhase(ctx, tx, s.ID, repo.PhaseUpdate{From: s.Status, To: next, Stamps: stamps, Now: now})
	if err != nil {
		return AdvanceResult{}, err
	}
	if !ok {
		return AdvanceResult{}, conflict(CodeStaleState, "sprint changed concurrently", map[string]any{"sprint_id": s.ID})
	}
	if err := e.emit(ctx, tx, "sprint.phase_changed", "sprint", s.ID, opts.ActorID, events.EventPayload{"from": s.Status, "to": next}); err != nil {
		return AdvanceResult{}, err
	}
	if res.Sprint, err = e.Repo.GetSprint(ctx, tx, s.ID); err != nil {
		return AdvanceResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AdvanceResult{}, err
	}
	e.Metrics.Transition(ctx, s.Status, next)
	return res, nil
}

// completeSprint runs the settlement guard and, when it clears, settles the
// sprint in the caller's transaction.
func (e Engine) completeSprint(ctx context.Context, tx *sql.Tx, s domain.Sprint, opts AdvanceOptions) (AdvanceResult, error) {
	cfg, err := e.config()
	if err != nil {
		return AdvanceResult{}, err
	}
	action := opts.IncompleteAction
	if action == "" {
		action = cfg.Sprints.IncompleteAction
	}
	var target *string
	switch action {
	case IncompleteBacklog:
	case IncompleteNextSprint:
		if opts.NextSprintID == "" {
			return AdvanceResult{}, validationf(nil, "next_sprint_id is required for incomplete_action next_sprint")
		}
		if opts.NextSprintID == s.ID {
			return AdvanceResult{}, validationf(nil, "next sprint must differ from the completing sprint")
		}
		nextSprint, err := e.Repo.GetSprint(ctx, tx, opts.NextSprintID)
		if err != nil {
			return AdvanceResult{}, fmt.Errorf("next sprint %s: %w", opts.NextSprintID, err)
		}
		if nextSprint.Status != domain.PhasePlanning {
			return AdvanceResult{}, validationf(map[string]any{"next_sprint_status": nextSprint.Status}, "next sprint must be in planning")
		}
		target = &nextSprint.ID
	default:
		return AdvanceResult{}, validationf(map[string]any{"incomplete_action": action}, "unknown incomplete action %s", action)
	}

	check, err := e.evaluateSettlement(ctx, tx, s)
	if err != nil {
		return AdvanceResult{}, err
	}
	if check.Blocked() {
		if err := e.blockSettlement(ctx, tx, s, check, opts.ActorID); err != nil {
			return AdvanceResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return AdvanceResult{}, err
		}
		e.Metrics.SettlementBlocked(ctx, check.Code)
		e.log().Warn("settlement blocked", "sprint_id", s.ID, "code", check.Code, "reason", check.Reason)
		return AdvanceResult{}, conflict(check.Code, check.Reason, check.details())
	}

	now := e.now()
	snap, err := e.computeSnapshot(ctx, tx, s, now)
	if err != nil {
		return AdvanceResult{}, err
	}
	moved, err := e.Repo.MoveIncompleteTasks(ctx, tx, s.ID, target, now)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("move incomplete tasks: %w", err)
	}
	if err := e.Repo.InsertSnapshot(ctx, tx, snap); err != nil {
		return AdvanceResult{}, fmt.Errorf("insert snapshot: %w", err)
	}
	dists, err := e.recordDistributions(ctx, tx, s, snap.Contributors)
	if err != nil {
		return AdvanceResult{}, err
	}
	ok, err := e.Repo.UpdateSprintPhase(ctx, tx, s.ID, repo.PhaseUpdate{
		From:   domain.PhaseSettlement,
		To:     domain.PhaseCompleted,
		Stamps: map[string]time.Time{"completed_at": now},
		Now:    now,
	})
	if err != nil {
		return AdvanceResult{}, err
	}
	if !ok {
		return AdvanceResult{}, conflict(CodeStaleState, "sprint changed concurrently", map[string]any{"sprint_id": s.ID})
	}
	if err := e.emit(ctx, tx, "sprint.completed", "sprint", s.ID, opts.ActorID, events.EventPayload{
		"incomplete_action": action,
		"tasks_moved":       moved,
		"completion_rate":   snap.CompletionRate,
		"reward_pool":       s.RewardPool,
		"distributions":     len(dists),
	}); err != nil {
		return AdvanceResult{}, err
	}
	completed, err := e.Repo.GetSprint(ctx, tx, s.ID)
	if err != nil {
		return AdvanceResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return AdvanceResult{}, err
	}
	e.Metrics.Transition(ctx, domain.PhaseSettlement, domain.PhaseCompleted)
	return AdvanceResult{Sprint: completed, Snapshot: &snap, Distributions: dists}, nil
}

// computeSnapshot reads the sprint's task state before the incomplete task
// policy moves anything.
func (e Engine) computeSnapshot(ctx context.Context, q repo.Querier, s domain.Sprint, now time.Time) (domain.SprintSnapshot, error) {
	counts, err := e.Repo.CountSprintTasks(ctx, q, s.ID)
	if err != nil {
		return domain.SprintSnapshot{}, fmt.Errorf("count tasks: %w", err)
	}
	points, err := e.Repo.SprintPointsCompleted(ctx, q, s.ID)
	if err != nil {
		return domain.SprintSnapshot{}, err
	}
	totals, err := e.Repo.SprintContributors(ctx, q, s.ID)
	if err != nil {
		return domain.SprintSnapshot{}, err
	}
	snap := domain.SprintSnapshot{
		SprintID:        s.ID,
		TasksTotal:      counts.Total,
		TasksCompleted:  counts.Done,
		CompletionRate:  completionRate(counts.Done, counts.Total),
		PointsCompleted: points,
		CapacityPoints:  s.CapacityPoints,
		Contributors:    make([]domain.ContributorSnapshot, 0, len(totals)),
		CreatedAt:       now,
	}
	for _, c := range totals {
		snap.Contributors = append(snap.Contributors, domain.ContributorSnapshot{
			MemberID:       c.MemberID,
			TasksCompleted: c.TasksCompleted,
			Points:         c.Points,
			EarnedPoints:   c.EarnedPoints,
		})
	}
	return snap, nil
}

// completionRate is a percentage rounded to two decimals.
func completionRate(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(done)/float64(total)*10000) / 100
}

// SprintBlockers derives the blockers view from current state.
func (e Engine) SprintBlockers(ctx context.Context, id string) (domain.SprintBlockers, error) {
	s, err := e.Repo.GetSprint(ctx, nil, id)
	if err != nil {
		return domain.SprintBlockers{}, err
	}
	counts, err := e.Repo.CountSprintTasks(ctx, nil, id)
	if err != nil {
		return domain.SprintBlockers{}, err
	}
	open, err := e.Repo.CountActiveDisputes(ctx, nil, id)
	if err != nil {
		return domain.SprintBlockers{}, err
	}
	return computeBlockers(s, counts, open, e.now()), nil
}

func computeBlockers(s domain.Sprint, counts repo.SprintTaskCounts, openDisputes int, now time.Time) domain.SprintBlockers {
	b := domain.SprintBlockers{
		SprintID:           s.ID,
		Status:             s.Status,
		HasUnassignedTasks: counts.Unassigned > 0,
		HasIncompleteTasks: counts.Done < counts.Total,
		SettlementBlocked:  s.RewardSettlementStatus == domain.SettlementHeld || s.RewardSettlementStatus == domain.SettlementKilled,
		OpenDisputes:       openDisputes,
	}
	switch s.Status {
	case domain.PhaseActive, domain.PhaseReview:
		b.DeadlineOpen = s.EndAt != nil && now.Before(*s.EndAt)
	case domain.PhaseDisputeWindow:
		b.DeadlineOpen = s.DisputeWindowEndsAt == nil || now.Before(*s.DisputeWindowEndsAt)
	}
	return b
}

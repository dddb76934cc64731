package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
)

const sprintColumns = `id,name,COALESCE(goal,''),status,capacity_points,start_at,end_at,review_started_at,
dispute_window_started_at,dispute_window_ends_at,settlement_started_at,COALESCE(settlement_blocked_reason,''),
reward_pool,reward_settlement_status,reward_settlement_kill_switch_at,settlement_integrity_flags,completed_at,created_at,updated_at`

func scanSprint(row interface{ Scan(...any) error }) (domain.Sprint, error) {
	var (
		s                                              domain.Sprint
		startAt, endAt, reviewAt, windowAt, windowEnds sql.NullString
		settlementAt, killAt, completedAt, flags       sql.NullString
		created, updated                               string
	)
	err := row.Scan(&s.ID, &s.Name, &s.Goal, &s.Status, &s.CapacityPoints, &startAt, &endAt, &reviewAt,
		&windowAt, &windowEnds, &settlementAt, &s.SettlementBlockedReason,
		&s.RewardPool, &s.RewardSettlementStatus, &killAt, &flags, &completedAt, &created, &updated)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{startAt, &s.StartAt},
		{endAt, &s.EndAt},
		{reviewAt, &s.ReviewStartedAt},
		{windowAt, &s.DisputeWindowStartedAt},
		{windowEnds, &s.DisputeWindowEndsAt},
		{settlementAt, &s.SettlementStartedAt},
		{killAt, &s.RewardSettlementKillSwitchAt},
		{completedAt, &s.CompletedAt},
	} {
		if *f.dst, err = timePtr(f.src); err != nil {
			return s, err
		}
	}
	if s.SettlementIntegrityFlags, err = unmarshalStrings(flags.String); err != nil {
		return s, fmt.Errorf("decode integrity flags: %w", err)
	}
	if s.CreatedAt, err = ParseTime(created); err != nil {
		return s, err
	}
	s.UpdatedAt, err = ParseTime(updated)
	return s, err
}

func (r Repo) InsertSprint(ctx context.Context, q Querier, s domain.Sprint) error {
	flags, err := marshalStrings(s.SettlementIntegrityFlags)
	if err != nil {
		return err
	}
	_, err = r.q(q).ExecContext(ctx, `
INSERT INTO sprints(id,name,goal,status,capacity_points,start_at,end_at,reward_pool,reward_settlement_status,settlement_integrity_flags,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.Name, nullable(s.Goal), s.Status, s.CapacityPoints, nullableTime(s.StartAt), nullableTime(s.EndAt),
		s.RewardPool, s.RewardSettlementStatus, flags, FormatTime(s.CreatedAt), FormatTime(s.UpdatedAt))
	return err
}

func (r Repo) GetSprint(ctx context.Context, q Querier, id string) (domain.Sprint, error) {
	return scanSprint(r.q(q).QueryRowContext(ctx, `SELECT `+sprintColumns+` FROM sprints WHERE id=?`, id))
}

func (r Repo) ListSprints(ctx context.Context, q Querier, status string) ([]domain.Sprint, error) {
	query := `SELECT ` + sprintColumns + ` FROM sprints`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sprint
	for rows.Next() {
		s, err := scanSprint(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// OpenSprint returns the sprint currently in an open phase, if any.
func (r Repo) OpenSprint(ctx context.Context, q Querier) (domain.Sprint, error) {
	return scanSprint(r.q(q).QueryRowContext(ctx,
		`SELECT `+sprintColumns+` FROM sprints WHERE status IN (`+placeholders(len(domain.OpenPhases))+`) ORDER BY created_at LIMIT 1`,
		stringArgs(domain.OpenPhases)...))
}

// ActivateSprint moves a planning sprint to active only when no other sprint
// is in an open phase. The check and the write are one statement.
func (r Repo) ActivateSprint(ctx context.Context, q Querier, id string, now time.Time) (bool, error) {
	ts := FormatTime(now)
	args := []any{domain.PhaseActive, ts, ts, id, domain.PhasePlanning}
	args = append(args, stringArgs(domain.OpenPhases)...)
	res, err := r.q(q).ExecContext(ctx, `
UPDATE sprints SET status=?, start_at=COALESCE(start_at,?), updated_at=?
WHERE id=? AND status=?
  AND NOT EXISTS (SELECT 1 FROM sprints o WHERE o.status IN (`+placeholders(len(domain.OpenPhases))+`))`, args...)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// phaseStampColumns are the timestamp columns a phase change may set.
var phaseStampColumns = map[string]bool{
	"review_started_at":         true,
	"dispute_window_started_at": true,
	"dispute_window_ends_at":    true,
	"settlement_started_at":     true,
	"completed_at":              true,
}

// PhaseUpdate is a conditional phase change: it applies only while the row
// is still in From.
type PhaseUpdate struct {
	From   string
	To     string
	Stamps map[string]time.Time
	Now    time.Time
}

func (r Repo) UpdateSprintPhase(ctx context.Context, q Querier, id string, u PhaseUpdate) (bool, error) {
	sets := []string{"status=?", "updated_at=?"}
	args := []any{u.To, FormatTime(u.Now)}
	for col, ts := range u.Stamps {
		if !phaseStampColumns[col] {
			return false, fmt.Errorf("unknown sprint timestamp column %s", col)
		}
		sets = append(sets, col+"=?")
		args = append(args, FormatTime(ts))
	}
	if u.To == domain.PhaseCompleted {
		sets = append(sets, "reward_settlement_status=?", "settlement_blocked_reason=NULL")
		args = append(args, domain.SettlementCompleted)
	}
	args = append(args, id, u.From)
	res, err := r.q(q).ExecContext(ctx, fmt.Sprintf(`UPDATE sprints SET %s WHERE id=? AND status=?`, strings.Join(sets, ",")), args...)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// HoldSettlement records a cap breach. A killed sprint stays killed.
func (r Repo) HoldSettlement(ctx context.Context, q Querier, id, reason string, now time.Time) error {
	_, err := r.q(q).ExecContext(ctx, `
UPDATE sprints SET reward_settlement_status=?, settlement_blocked_reason=?, updated_at=?
WHERE id=? AND reward_settlement_status<>?`,
		domain.SettlementHeld, reason, FormatTime(now), id, domain.SettlementKilled)
	return err
}

// KillSettlement marks the sprint killed and records flag in its integrity
// flags. The first kill timestamp is kept.
func (r Repo) KillSettlement(ctx context.Context, q Querier, id, reason, flag string, now time.Time) error {
	s, err := r.GetSprint(ctx, q, id)
	if err != nil {
		return err
	}
	flags := s.SettlementIntegrityFlags
	found := false
	for _, f := range flags {
		if f == flag {
			found = true
			break
		}
	}
	if !found && flag != "" {
		flags = append(flags, flag)
	}
	data, err := marshalStrings(flags)
	if err != nil {
		return err
	}
	ts := FormatTime(now)
	_, err = r.q(q).ExecContext(ctx, `
UPDATE sprints SET reward_settlement_status=?, settlement_blocked_reason=?,
  reward_settlement_kill_switch_at=COALESCE(reward_settlement_kill_switch_at,?),
  settlement_integrity_flags=?, updated_at=?
WHERE id=?`,
		domain.SettlementKilled, reason, ts, data, ts, id)
	return err
}

// ClearSettlementKill resets a killed sprint to pending.
func (r Repo) ClearSettlementKill(ctx context.Context, q Querier, id string, now time.Time) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `
UPDATE sprints SET reward_settlement_status=?, settlement_blocked_reason=NULL,
  reward_settlement_kill_switch_at=NULL, updated_at=?
WHERE id=? AND reward_settlement_status=?`,
		domain.SettlementPending, FormatTime(now), id, domain.SettlementKilled)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r Repo) SetRewardPool(ctx context.Context, q Querier, id string, pool int64, now time.Time) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `UPDATE sprints SET reward_pool=?, updated_at=? WHERE id=? AND status<>?`,
		pool, FormatTime(now), id, domain.PhaseCompleted)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r Repo) InsertSnapshot(ctx context.Context, q Querier, s domain.SprintSnapshot) error {
	contributors := s.Contributors
	if contributors == nil {
		contributors = []domain.ContributorSnapshot{}
	}
	data, err := json.Marshal(contributors)
	if err != nil {
		return fmt.Errorf("marshal contributors: %w", err)
	}
	_, err = r.q(q).ExecContext(ctx, `
INSERT INTO sprint_snapshots(sprint_id,tasks_total,tasks_completed,completion_rate,points_completed,capacity_points,contributors_json,created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		s.SprintID, s.TasksTotal, s.TasksCompleted, s.CompletionRate, s.PointsCompleted, s.CapacityPoints, string(data), FormatTime(s.CreatedAt))
	return err
}

func (r Repo) GetSnapshot(ctx context.Context, q Querier, sprintID string) (domain.SprintSnapshot, error) {
	var (
		s                domain.SprintSnapshot
		contributors, ts string
	)
	err := r.q(q).QueryRowContext(ctx, `
SELECT sprint_id,tasks_total,tasks_completed,completion_rate,points_completed,capacity_points,contributors_json,created_at
FROM sprint_snapshots WHERE sprint_id=?`, sprintID).Scan(
		&s.SprintID, &s.TasksTotal, &s.TasksCompleted, &s.CompletionRate, &s.PointsCompleted, &s.CapacityPoints, &contributors, &ts)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(contributors), &s.Contributors); err != nil {
		return s, fmt.Errorf("decode contributors: %w", err)
	}
	s.CreatedAt, err = ParseTime(ts)
	return s, err
}

package repo

import (
	"context"
	"database/sql"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
)

func (r Repo) InsertDistribution(ctx context.Context, q Querier, d domain.RewardDistribution) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO reward_distributions(id,sprint_id,member_id,type,token_amount,created_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.SprintID, nullableStr(d.MemberID), d.Type, d.TokenAmount, FormatTime(d.CreatedAt))
	return err
}

// HasEpochDistribution reports whether an epoch row already exists for the
// sprint. It is always read fresh inside the caller's transaction.
func (r Repo) HasEpochDistribution(ctx context.Context, q Querier, sprintID string) (bool, error) {
	var n int
	err := r.q(q).QueryRowContext(ctx, `SELECT COUNT(*) FROM reward_distributions WHERE sprint_id=? AND type=?`,
		sprintID, domain.DistributionEpoch).Scan(&n)
	return n > 0, err
}

func (r Repo) ListDistributions(ctx context.Context, q Querier, sprintID string) ([]domain.RewardDistribution, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT id,sprint_id,member_id,type,token_amount,created_at
FROM reward_distributions WHERE sprint_id=? ORDER BY type DESC, created_at, id`, sprintID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RewardDistribution
	for rows.Next() {
		var (
			d       domain.RewardDistribution
			member  sql.NullString
			created string
		)
		if err := rows.Scan(&d.ID, &d.SprintID, &member, &d.Type, &d.TokenAmount, &created); err != nil {
			return nil, err
		}
		d.MemberID = strPtr(member)
		if d.CreatedAt, err = ParseTime(created); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// RecentEpochTotals returns the epoch amount paid by each of the last n
// completed sprints other than exclude, newest first. Sprints that paid no
// epoch report zero.
func (r Repo) RecentEpochTotals(ctx context.Context, q Querier, exclude string, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.q(q).QueryContext(ctx, `
SELECT COALESCE((SELECT SUM(d.token_amount) FROM reward_distributions d WHERE d.sprint_id=s.id AND d.type=?),0)
FROM sprints s
WHERE s.status=? AND s.id<>?
ORDER BY s.completed_at DESC, s.id DESC
LIMIT ?`, domain.DistributionEpoch, domain.PhaseCompleted, exclude, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// DeleteEpochDistributions removes epoch rows of a sprint that has not
// completed, returning the amounts removed. Completed sprints are never
// touched.
func (r Repo) DeleteEpochDistributions(ctx context.Context, q Querier, sprintID string) ([]int64, error) {
	rows, err := r.q(q).QueryContext(ctx, `
SELECT d.token_amount FROM reward_distributions d JOIN sprints s ON s.id=d.sprint_id
WHERE d.sprint_id=? AND d.type=? AND s.status<>?`, sprintID, domain.DistributionEpoch, domain.PhaseCompleted)
	if err != nil {
		return nil, err
	}
	var amounts []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, err
		}
		amounts = append(amounts, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(amounts) == 0 {
		return nil, nil
	}
	_, err = r.q(q).ExecContext(ctx, `DELETE FROM reward_distributions WHERE sprint_id=? AND type=?`, sprintID, domain.DistributionEpoch)
	return amounts, err
}

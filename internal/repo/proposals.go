package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
)

const proposalColumns = `id,title,COALESCE(body,''),status,created_by,voting_starts_at,voting_ends_at,snapshot_taken_at,
total_snapshot_power,votes_for,votes_against,votes_abstain,COALESCE(result,''),COALESCE(finalize_dedupe_key,''),finalized_at,
finalization_failure_count,COALESCE(finalization_last_error,''),finalization_frozen_at,created_at`

func scanProposal(row interface{ Scan(...any) error }) (domain.Proposal, error) {
	var (
		p                            domain.Proposal
		startsAt, endsAt, snapshotAt sql.NullString
		finalizedAt, frozenAt        sql.NullString
		created                      string
	)
	err := row.Scan(&p.ID, &p.Title, &p.Body, &p.Status, &p.CreatedBy, &startsAt, &endsAt, &snapshotAt,
		&p.TotalSnapshotPower, &p.VotesFor, &p.VotesAgainst, &p.VotesAbstain, &p.Result, &p.FinalizeDedupeKey, &finalizedAt,
		&p.FinalizationFailureCount, &p.FinalizationLastError, &frozenAt, &created)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{startsAt, &p.VotingStartsAt},
		{endsAt, &p.VotingEndsAt},
		{snapshotAt, &p.SnapshotTakenAt},
		{finalizedAt, &p.FinalizedAt},
		{frozenAt, &p.FinalizationFrozenAt},
	} {
		if *f.dst, err = timePtr(f.src); err != nil {
			return p, err
		}
	}
	p.CreatedAt, err = ParseTime(created)
	return p, err
}

func (r Repo) InsertProposal(ctx context.Context, q Querier, p domain.Proposal) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO proposals(id,title,body,status,created_by,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Body), p.Status, p.CreatedBy, FormatTime(p.CreatedAt))
	return err
}

func (r Repo) GetProposal(ctx context.Context, q Querier, id string) (domain.Proposal, error) {
	return scanProposal(r.q(q).QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id=?`, id))
}

func (r Repo) ListProposals(ctx context.Context, q Querier, status string) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals`
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
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// OpenVoting moves a draft proposal to voting and stamps its window and
// snapshot time.
func (r Repo) OpenVoting(ctx context.Context, q Querier, id string, startsAt, endsAt time.Time, totalPower int64) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `
UPDATE proposals SET status=?, voting_starts_at=?, voting_ends_at=?, snapshot_taken_at=?, total_snapshot_power=?
WHERE id=? AND status=?`,
		domain.ProposalVoting, FormatTime(startsAt), FormatTime(endsAt), FormatTime(startsAt), totalPower, id, domain.ProposalDraft)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// SnapshotHolders copies every member's token balance into the proposal's
// holder snapshot and returns the total power.
func (r Repo) SnapshotHolders(ctx context.Context, q Querier, proposalID string) (int64, error) {
	if _, err := r.q(q).ExecContext(ctx, `
INSERT INTO holder_snapshots(proposal_id,member_id,voting_power)
SELECT ?, id, token_balance FROM members WHERE token_balance > 0`, proposalID); err != nil {
		return 0, err
	}
	var total int64
	err := r.q(q).QueryRowContext(ctx, `SELECT COALESCE(SUM(voting_power),0) FROM holder_snapshots WHERE proposal_id=?`, proposalID).Scan(&total)
	return total, err
}

func (r Repo) InsertHolderSnapshot(ctx context.Context, q Querier, h domain.HolderSnapshot) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO holder_snapshots(proposal_id,member_id,voting_power) VALUES (?,?,?)`,
		h.ProposalID, h.MemberID, h.VotingPower)
	return err
}

func (r Repo) ListHolderSnapshots(ctx context.Context, q Querier, proposalID string) ([]domain.HolderSnapshot, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT proposal_id,member_id,voting_power FROM holder_snapshots WHERE proposal_id=? ORDER BY member_id`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HolderSnapshot
	for rows.Next() {
		var h domain.HolderSnapshot
		if err := rows.Scan(&h.ProposalID, &h.MemberID, &h.VotingPower); err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

func (r Repo) HolderPower(ctx context.Context, q Querier, proposalID, memberID string) (int64, error) {
	var p int64
	err := r.q(q).QueryRowContext(ctx, `SELECT voting_power FROM holder_snapshots WHERE proposal_id=? AND member_id=?`, proposalID, memberID).Scan(&p)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return p, err
}

func (r Repo) UpsertVote(ctx context.Context, q Querier, v domain.Vote) error {
	_, err := r.q(q).ExecContext(ctx, `
INSERT INTO proposal_votes(proposal_id,voter_id,value,weight,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(proposal_id,voter_id) DO UPDATE SET value=excluded.value, weight=excluded.weight, created_at=excluded.created_at`,
		v.ProposalID, v.VoterID, v.Value, v.Weight, FormatTime(v.CreatedAt))
	return err
}

func (r Repo) ListVotes(ctx context.Context, q Querier, proposalID string) ([]domain.Vote, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT proposal_id,voter_id,value,weight,created_at FROM proposal_votes WHERE proposal_id=? ORDER BY voter_id`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vote
	for rows.Next() {
		var (
			v  domain.Vote
			ts string
		)
		if err := rows.Scan(&v.ProposalID, &v.VoterID, &v.Value, &v.Weight, &ts); err != nil {
			return nil, err
		}
		if v.CreatedAt, err = ParseTime(ts); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// Tally sums snapshot-weighted votes by value. Weights come from the holder
// snapshot, not from the vote row.
type Tally struct {
	For     int64
	Against int64
	Abstain int64
}

func (r Repo) TallyVotes(ctx context.Context, q Querier, proposalID string) (Tally, error) {
	var t Tally
	err := r.q(q).QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(CASE WHEN v.value=? THEN h.voting_power ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN v.value=? THEN h.voting_power ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN v.value=? THEN h.voting_power ELSE 0 END),0)
FROM proposal_votes v
JOIN holder_snapshots h ON h.proposal_id=v.proposal_id AND h.member_id=v.voter_id
WHERE v.proposal_id=?`, domain.VoteFor, domain.VoteAgainst, domain.VoteAbstain, proposalID).Scan(&t.For, &t.Against, &t.Abstain)
	return t, err
}

// ClaimFinalizeKey records a dedupe key. It reports false when the key is
// already taken.
func (r Repo) ClaimFinalizeKey(ctx context.Context, q Querier, key, proposalID string, now time.Time) (bool, error) {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO proposal_finalize_keys(dedupe_key,proposal_id,created_at) VALUES (?,?,?)`,
		key, proposalID, FormatTime(now))
	if err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FinalizeKeyOwner returns the proposal a dedupe key was recorded for.
func (r Repo) FinalizeKeyOwner(ctx context.Context, q Querier, key string) (string, error) {
	var id string
	err := r.q(q).QueryRowContext(ctx, `SELECT proposal_id FROM proposal_finalize_keys WHERE dedupe_key=?`, key).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

// FinalizeResult carries the tally written when a proposal closes.
type FinalizeResult struct {
	Tally     Tally
	Result    string
	DedupeKey string
	Now       time.Time
}

// MarkFinalized closes a voting proposal that is not frozen.
func (r Repo) MarkFinalized(ctx context.Context, q Querier, id string, f FinalizeResult) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `
UPDATE proposals SET status=?, votes_for=?, votes_against=?, votes_abstain=?, result=?, finalize_dedupe_key=?,
  finalized_at=?, finalization_failure_count=0, finalization_last_error=NULL
WHERE id=? AND status=? AND finalization_frozen_at IS NULL`,
		domain.ProposalFinalized, f.Tally.For, f.Tally.Against, f.Tally.Abstain, f.Result, f.DedupeKey, FormatTime(f.Now),
		id, domain.ProposalVoting)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// RecordFinalizeFailure bumps the failure count and freezes the proposal once
// the count reaches threshold. It returns the new count and whether the
// proposal is now frozen.
func (r Repo) RecordFinalizeFailure(ctx context.Context, q Querier, id, msg string, threshold int, now time.Time) (int, bool, error) {
	ts := FormatTime(now)
	_, err := r.q(q).ExecContext(ctx, `
UPDATE proposals SET finalization_failure_count=finalization_failure_count+1, finalization_last_error=?,
  finalization_frozen_at=CASE WHEN finalization_failure_count+1>=? THEN COALESCE(finalization_frozen_at,?) ELSE finalization_frozen_at END
WHERE id=? AND status=?`, msg, threshold, ts, id, domain.ProposalVoting)
	if err != nil {
		return 0, false, err
	}
	var (
		count  int
		frozen sql.NullString
	)
	err = r.q(q).QueryRowContext(ctx, `SELECT finalization_failure_count, finalization_frozen_at FROM proposals WHERE id=?`, id).Scan(&count, &frozen)
	if err == sql.ErrNoRows {
		return 0, false, ErrNotFound
	}
	return count, frozen.Valid, err
}

// Unfreeze clears the freeze and the failure count.
func (r Repo) Unfreeze(ctx context.Context, q Querier, id string) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `
UPDATE proposals SET finalization_frozen_at=NULL, finalization_failure_count=0, finalization_last_error=NULL
WHERE id=? AND finalization_frozen_at IS NOT NULL`, id)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
)

const disputeColumns = `id,submission_id,task_id,sprint_id,disputant_id,reviewer_id,arbitrator_id,status,tier,reason,
COALESCE(evidence_text,''),evidence_links,evidence_file_urls,response_deadline,COALESCE(response_text,''),response_links,
response_submitted_at,COALESCE(resolution,''),COALESCE(resolution_notes,''),new_quality_score,xp_stake,xp_stake_status,
reviewer_penalized,COALESCE(appeal_reason,''),appeal_count,escalated_at,sla_escalations,resolved_at,created_at,updated_at`

func scanDispute(row interface{ Scan(...any) error }) (domain.Dispute, error) {
	var (
		d                                    domain.Dispute
		sprintID, arbitratorID               sql.NullString
		evLinks, evFiles, respLinks          string
		deadline, created, updated           string
		respondedAt, escalatedAt, resolvedAt sql.NullString
		newScore                             sql.NullInt64
		penalized                            int
	)
	err := row.Scan(&d.ID, &d.SubmissionID, &d.TaskID, &sprintID, &d.DisputantID, &d.ReviewerID, &arbitratorID,
		&d.Status, &d.Tier, &d.Reason, &d.EvidenceText, &evLinks, &evFiles, &deadline, &d.ResponseText, &respLinks,
		&respondedAt, &d.Resolution, &d.ResolutionNotes, &newScore, &d.XPStake, &d.XPStakeStatus,
		&penalized, &d.AppealReason, &d.AppealCount, &escalatedAt, &d.SLAEscalations, &resolvedAt, &created, &updated)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.SprintID = strPtr(sprintID)
	d.ArbitratorID = strPtr(arbitratorID)
	d.NewQualityScore = intPtr(newScore)
	d.ReviewerPenalized = penalized != 0
	if d.EvidenceLinks, err = unmarshalStrings(evLinks); err != nil {
		return d, fmt.Errorf("decode evidence links: %w", err)
	}
	if d.EvidenceFileURLs, err = unmarshalStrings(evFiles); err != nil {
		return d, fmt.Errorf("decode evidence files: %w", err)
	}
	if d.ResponseLinks, err = unmarshalStrings(respLinks); err != nil {
		return d, fmt.Errorf("decode response links: %w", err)
	}
	if d.ResponseDeadline, err = ParseTime(deadline); err != nil {
		return d, err
	}
	if d.ResponseSubmittedAt, err = timePtr(respondedAt); err != nil {
		return d, err
	}
	if d.EscalatedAt, err = timePtr(escalatedAt); err != nil {
		return d, err
	}
	if d.ResolvedAt, err = timePtr(resolvedAt); err != nil {
		return d, err
	}
	if d.CreatedAt, err = ParseTime(created); err != nil {
		return d, err
	}
	d.UpdatedAt, err = ParseTime(updated)
	return d, err
}

func (r Repo) InsertDispute(ctx context.Context, q Querier, d domain.Dispute) error {
	evLinks, err := marshalStrings(d.EvidenceLinks)
	if err != nil {
		return err
	}
	evFiles, err := marshalStrings(d.EvidenceFileURLs)
	if err != nil {
		return err
	}
	_, err = r.q(q).ExecContext(ctx, `
INSERT INTO disputes(id,submission_id,task_id,sprint_id,disputant_id,reviewer_id,status,tier,reason,evidence_text,
  evidence_links,evidence_file_urls,response_deadline,xp_stake,xp_stake_status,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.SubmissionID, d.TaskID, nullableStr(d.SprintID), d.DisputantID, d.ReviewerID, d.Status, d.Tier, d.Reason,
		nullable(d.EvidenceText), evLinks, evFiles, FormatTime(d.ResponseDeadline), d.XPStake, d.XPStakeStatus,
		FormatTime(d.CreatedAt), FormatTime(d.UpdatedAt))
	return err
}

func (r Repo) GetDispute(ctx context.Context, q Querier, id string) (domain.Dispute, error) {
	return scanDispute(r.q(q).QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id=?`, id))
}

// DisputeFilter narrows ListDisputes; zero fields match everything.
type DisputeFilter struct {
	SprintID      string
	SubmissionID  string
	Statuses      []string
	ParticipantID string
}

func (r Repo) ListDisputes(ctx context.Context, q Querier, f DisputeFilter) ([]domain.Dispute, error) {
	var (
		where []string
		args  []any
	)
	if f.SprintID != "" {
		where = append(where, "sprint_id=?")
		args = append(args, f.SprintID)
	}
	if f.SubmissionID != "" {
		where = append(where, "submission_id=?")
		args = append(args, f.SubmissionID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		args = append(args, stringArgs(f.Statuses)...)
	}
	if f.ParticipantID != "" {
		where = append(where, "(disputant_id=? OR reviewer_id=? OR arbitrator_id=?)")
		args = append(args, f.ParticipantID, f.ParticipantID, f.ParticipantID)
	}
	query := `SELECT ` + disputeColumns + ` FROM disputes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// CountActiveDisputes counts non-terminal disputes tied to a sprint.
func (r Repo) CountActiveDisputes(ctx context.Context, q Querier, sprintID string) (int, error) {
	var n int
	args := append([]any{sprintID}, stringArgs(domain.TerminalDisputeStatuses)...)
	err := r.q(q).QueryRowContext(ctx, `SELECT COUNT(*) FROM disputes WHERE sprint_id=? AND status NOT IN (`+
		placeholders(len(domain.TerminalDisputeStatuses))+`)`, args...).Scan(&n)
	return n, err
}

// ActiveDisputeForSubmission returns the non-terminal dispute on a
// submission, if any.
func (r Repo) ActiveDisputeForSubmission(ctx context.Context, q Querier, submissionID string) (domain.Dispute, error) {
	args := append([]any{submissionID}, stringArgs(domain.TerminalDisputeStatuses)...)
	return scanDispute(r.q(q).QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE submission_id=? AND status NOT IN (`+
		placeholders(len(domain.TerminalDisputeStatuses))+`) LIMIT 1`, args...))
}

// OverdueDisputes lists disputes still waiting on the reviewer whose
// deadline is before now.
func (r Repo) OverdueDisputes(ctx context.Context, q Querier, now time.Time) ([]domain.Dispute, error) {
	args := stringArgs(domain.AwaitingReviewerStatuses)
	args = append(args, FormatTime(now))
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+disputeColumns+` FROM disputes
WHERE status IN (`+placeholders(len(domain.AwaitingReviewerStatuses))+`)
  AND response_submitted_at IS NULL AND response_deadline < ?
ORDER BY response_deadline, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// DisputeChange is a compare-and-swap on a dispute row. ExpectStatus and
// ExpectUpdatedAt must still match for the write to land. Nil pointer
// fields are left untouched.
type DisputeChange struct {
	ExpectStatus    string
	ExpectUpdatedAt time.Time

	Status              *string
	Tier                *string
	ArbitratorID        *string
	ClearArbitrator     bool
	ResponseDeadline    *time.Time
	ResponseText        *string
	ResponseLinks       []string
	ResponseSubmittedAt *time.Time
	ClearResponse       bool
	Resolution          *string
	ResolutionNotes     *string
	NewQualityScore     *int
	XPStakeStatus       *string
	ReviewerPenalized   *bool
	AppealReason        *string
	IncAppealCount      bool
	EscalatedAt         *time.Time
	IncSLAEscalations   bool
	ResolvedAt          *time.Time
	ClearResolution     bool
	EvidenceFileURLs    []string
	Now                 time.Time
}

func (r Repo) UpdateDispute(ctx context.Context, q Querier, id string, c DisputeChange) (bool, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+"=?")
		args = append(args, v)
	}
	if c.Status != nil {
		set("status", *c.Status)
	}
	if c.Tier != nil {
		set("tier", *c.Tier)
	}
	if c.ClearArbitrator {
		sets = append(sets, "arbitrator_id=NULL")
	} else if c.ArbitratorID != nil {
		set("arbitrator_id", *c.ArbitratorID)
	}
	if c.ResponseDeadline != nil {
		set("response_deadline", FormatTime(*c.ResponseDeadline))
	}
	if c.ClearResponse {
		sets = append(sets, "response_text=NULL", "response_submitted_at=NULL", "response_links='[]'")
	} else {
		if c.ResponseText != nil {
			set("response_text", *c.ResponseText)
		}
		if c.ResponseLinks != nil {
			links, err := marshalStrings(c.ResponseLinks)
			if err != nil {
				return false, err
			}
			set("response_links", links)
		}
		if c.ResponseSubmittedAt != nil {
			set("response_submitted_at", FormatTime(*c.ResponseSubmittedAt))
		}
	}
	if c.ClearResolution {
		sets = append(sets, "resolution=NULL", "resolution_notes=NULL", "new_quality_score=NULL", "resolved_at=NULL")
	} else {
		if c.Resolution != nil {
			set("resolution", *c.Resolution)
		}
		if c.ResolutionNotes != nil {
			set("resolution_notes", *c.ResolutionNotes)
		}
		if c.NewQualityScore != nil {
			set("new_quality_score", *c.NewQualityScore)
		}
		if c.ResolvedAt != nil {
			set("resolved_at", FormatTime(*c.ResolvedAt))
		}
	}
	if c.XPStakeStatus != nil {
		set("xp_stake_status", *c.XPStakeStatus)
	}
	if c.ReviewerPenalized != nil {
		v := 0
		if *c.ReviewerPenalized {
			v = 1
		}
		set("reviewer_penalized", v)
	}
	if c.AppealReason != nil {
		set("appeal_reason", *c.AppealReason)
	}
	if c.IncAppealCount {
		sets = append(sets, "appeal_count=appeal_count+1")
	}
	if c.EscalatedAt != nil {
		set("escalated_at", FormatTime(*c.EscalatedAt))
	}
	if c.IncSLAEscalations {
		sets = append(sets, "sla_escalations=sla_escalations+1")
	}
	if c.EvidenceFileURLs != nil {
		files, err := marshalStrings(c.EvidenceFileURLs)
		if err != nil {
			return false, err
		}
		set("evidence_file_urls", files)
	}
	set("updated_at", FormatTime(c.Now))
	args = append(args, id, c.ExpectStatus, FormatTime(c.ExpectUpdatedAt))
	res, err := r.q(q).ExecContext(ctx,
		`UPDATE disputes SET `+strings.Join(sets, ",")+` WHERE id=? AND status=? AND updated_at=?`, args...)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// EscalateOverdue pushes a dispute still awaiting its reviewer to the admin
// tier and releases any lower-tier arbitrator. It only lands if the row is in
// the exact state it was read in.
func (r Repo) EscalateOverdue(ctx context.Context, q Querier, d domain.Dispute, deadline, now time.Time) (bool, error) {
	ts := FormatTime(now)
	res, err := r.q(q).ExecContext(ctx, `
UPDATE disputes SET tier=?, status=?, arbitrator_id=NULL, response_deadline=?, escalated_at=?,
  sla_escalations=sla_escalations+1, updated_at=?
WHERE id=? AND status=? AND response_deadline=? AND response_submitted_at IS NULL AND response_deadline < ?`,
		domain.TierAdmin, domain.DisputeUnderReview, FormatTime(deadline), ts, ts,
		d.ID, d.Status, FormatTime(d.ResponseDeadline), ts)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// ClaimArbitrator sets the arbitrator only when none is assigned.
func (r Repo) ClaimArbitrator(ctx context.Context, q Querier, id, arbitratorID, fromStatus, toStatus string, now time.Time) (bool, error) {
	res, err := r.q(q).ExecContext(ctx, `
UPDATE disputes SET arbitrator_id=?, status=?, updated_at=?
WHERE id=? AND status=? AND arbitrator_id IS NULL`,
		arbitratorID, toStatus, FormatTime(now), id, fromStatus)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r Repo) InsertEvidenceEvent(ctx context.Context, q Querier, ev domain.EvidenceEvent) error {
	late := 0
	if ev.IsLate {
		late = 1
	}
	_, err := r.q(q).ExecContext(ctx, `
INSERT INTO dispute_evidence_events(id,dispute_id,uploaded_by,file_name,mime_type,size_bytes,file_url,is_late,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.DisputeID, ev.UploadedBy, ev.FileName, ev.MimeType, ev.SizeBytes, ev.FileURL, late, FormatTime(ev.CreatedAt))
	return err
}

func (r Repo) ListEvidenceEvents(ctx context.Context, q Querier, disputeID string) ([]domain.EvidenceEvent, error) {
	rows, err := r.q(q).QueryContext(ctx, `
SELECT id,dispute_id,uploaded_by,file_name,mime_type,size_bytes,file_url,is_late,created_at
FROM dispute_evidence_events WHERE dispute_id=? ORDER BY created_at, id`, disputeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EvidenceEvent
	for rows.Next() {
		var (
			ev      domain.EvidenceEvent
			late    int
			created string
		)
		if err := rows.Scan(&ev.ID, &ev.DisputeID, &ev.UploadedBy, &ev.FileName, &ev.MimeType, &ev.SizeBytes, &ev.FileURL, &late, &created); err != nil {
			return nil, err
		}
		ev.IsLate = late != 0
		if ev.CreatedAt, err = ParseTime(created); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

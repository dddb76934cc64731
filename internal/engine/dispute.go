package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/FCisco95/organic-app-sub000/internal/clock"
	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine/auth"
	"github.com/FCisco95/organic-app-sub000/internal/events"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

// minResolutionNotes is the shortest accepted resolution note, after
// trimming.
const minResolutionNotes = 10

type FileDisputeOptions struct {
	ID            string
	SubmissionID  string
	Reason        string
	EvidenceText  string
	EvidenceLinks []string
	ActorID       string
}

// FileDispute opens a dispute against a rejected submission and stakes the
// disputant's XP.
func (e Engine) FileDispute(ctx context.Context, opts FileDisputeOptions) (domain.Dispute, error) {
	ctx, span := e.Metrics.Start(ctx, "file_dispute", attribute.String("submission.id", opts.SubmissionID))
	defer span.End()
	cfg, err := e.config()
	if err != nil {
		return domain.Dispute{}, err
	}
	if !contains(domain.DisputeReasons, opts.Reason) {
		return domain.Dispute{}, validationf(map[string]any{"reason": opts.Reason}, "unknown dispute reason %q", opts.Reason)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer tx.Rollback()
	actor, err := e.Auth.Member(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Dispute{}, err
	}
	sub, err := e.Repo.GetSubmission(ctx, tx, opts.SubmissionID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if sub.SubmitterID != actor.ID {
		return domain.Dispute{}, auth.ForbiddenError{Permission: "submission.owner"}
	}
	if sub.ReviewStatus != domain.ReviewRejected && sub.ReviewStatus != domain.ReviewDisputed {
		return domain.Dispute{}, conflict(CodeInvalidStatus, "only rejected submissions can be disputed", map[string]any{"review_status": sub.ReviewStatus})
	}
	if active, err := e.Repo.ActiveDisputeForSubmission(ctx, tx, sub.ID); err == nil {
		return domain.Dispute{}, conflict(CodeActiveDisputeExists, "submission already has an active dispute", map[string]any{"dispute_id": active.ID})
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Dispute{}, err
	}
	if sub.ReviewerID == nil {
		return domain.Dispute{}, validationf(nil, "submission has no reviewer")
	}
	required := cfg.Disputes.MinXPToDispute
	if cfg.Disputes.XPStake > required {
		required = cfg.Disputes.XPStake
	}
	if actor.XPTotal < required {
		return domain.Dispute{}, validationf(map[string]any{"xp_total": actor.XPTotal, "required": required}, "at least %d XP is required to file a dispute", required)
	}
	task, err := e.Repo.GetTask(ctx, tx, sub.TaskID)
	if err != nil {
		return domain.Dispute{}, err
	}
	now := e.now()
	if task.SprintID == nil {
		return domain.Dispute{}, validationf(nil, "task is not part of a sprint")
	}
	sprint, err := e.Repo.GetSprint(ctx, tx, *task.SprintID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if !cfg.PhaseEligibleForDisputes(sprint.Status) {
		return domain.Dispute{}, validationf(map[string]any{"sprint_status": sprint.Status}, "sprint phase %s does not accept disputes", sprint.Status)
	}
	if windowClosed(sprint, now) {
		return domain.Dispute{}, validationf(map[string]any{"sprint_id": sprint.ID}, "sprint dispute window has closed")
	}
	d := domain.Dispute{
		ID:               newID(opts.ID),
		SubmissionID:     sub.ID,
		TaskID:           task.ID,
		SprintID:         task.SprintID,
		DisputantID:      actor.ID,
		ReviewerID:       *sub.ReviewerID,
		Status:           domain.DisputeOpen,
		Tier:             cfg.Disputes.InitialTier,
		Reason:           opts.Reason,
		EvidenceText:     opts.EvidenceText,
		EvidenceLinks:    opts.EvidenceLinks,
		ResponseDeadline: clock.Deadline(now, cfg.Disputes.ReviewerSLAHours),
		XPStake:          cfg.Disputes.XPStake,
		XPStakeStatus:    domain.StakeLocked,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertDispute(ctx, tx, d); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Dispute{}, conflict(CodeActiveDisputeExists, "submission already has an active dispute", map[string]any{"submission_id": sub.ID})
		}
		return domain.Dispute{}, fmt.Errorf("insert dispute: %w", err)
	}
	if _, err := e.adjustXP(ctx, tx, actor.ID, -d.XPStake, "dispute.stake", actor.ID); err != nil {
		return domain.Dispute{}, err
	}
	if _, err := e.Repo.SetSubmissionStatus(ctx, tx, sub.ID, []string{domain.ReviewRejected, domain.ReviewDisputed}, domain.ReviewDisputed); err != nil {
		return domain.Dispute{}, err
	}
	if err := e.emit(ctx, tx, "dispute.filed", "dispute", d.ID, actor.ID, events.EventPayload{
		"submission_id": sub.ID, "reason": d.Reason, "tier": d.Tier, "xp_stake": d.XPStake,
		"response_deadline": d.ResponseDeadline,
	}); err != nil {
		return domain.Dispute{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, err
	}
	return d, nil
}

// windowClosed reports whether a sprint no longer accepts dispute activity.
func windowClosed(s domain.Sprint, now time.Time) bool {
	switch s.Status {
	case domain.PhaseSettlement, domain.PhaseCompleted:
		return true
	}
	return s.DisputeWindowEndsAt != nil && !now.Before(*s.DisputeWindowEndsAt)
}

func isParty(d domain.Dispute, memberID string) bool {
	return d.DisputantID == memberID || d.ReviewerID == memberID
}

// changeDispute applies c conditioned on d being unchanged since it was read.
func (e Engine) changeDispute(ctx context.Context, tx *sql.Tx, d domain.Dispute, c repo.DisputeChange) (domain.Dispute, error) {
	c.ExpectStatus = d.Status
	c.ExpectUpdatedAt = d.UpdatedAt
	if c.Now.IsZero() {
		c.Now = e.now()
	}
	ok, err := e.Repo.UpdateDispute(ctx, tx, d.ID, c)
	if err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Dispute{}, conflict(CodeActiveDisputeExists, "submission already has an active dispute", map[string]any{"submission_id": d.SubmissionID})
		}
		return domain.Dispute{}, err
	}
	if !ok {
		return domain.Dispute{}, conflict(CodeStaleState, "dispute changed concurrently", map[string]any{"dispute_id": d.ID})
	}
	return e.Repo.GetDispute(ctx, tx, d.ID)
}

// loadActive reads a dispute and rejects terminal ones.
func (e Engine) loadActive(ctx context.Context, q repo.Querier, id string) (domain.Dispute, error) {
	d, err := e.Repo.GetDispute(ctx, q, id)
	if err != nil {
		return domain.Dispute{}, err
	}
	if domain.IsTerminalDispute(d.Status) {
		return domain.Dispute{}, conflict(CodeDisputeTerminal, "dispute is closed", map[string]any{"status": d.Status})
	}
	return d, nil
}

type EvidenceFile struct {
	DisputeID string
	FileName  string
	MimeType  string
	SizeBytes int64
	FileURL   string
	ActorID   string
}

// SubmitEvidence records an evidence upload. Uploads after the response
// deadline are accepted and tagged late; uploads after the sprint's dispute
// window closed are rejected.
func (e Engine) SubmitEvidence(ctx context.Context, f EvidenceFile) (domain.EvidenceEvent, error) {
	cfg, err := e.config()
	if err != nil {
		return domain.EvidenceEvent{}, err
	}
	if strings.TrimSpace(f.FileName) == "" {
		return domain.EvidenceEvent{}, validationf(nil, "file name is required")
	}
	if !cfg.MimeAllowed(f.MimeType) {
		return domain.EvidenceEvent{}, validationf(map[string]any{"mime_type": f.MimeType}, "unsupported evidence type %s", f.MimeType)
	}
	if f.SizeBytes <= 0 || f.SizeBytes > cfg.Disputes.Evidence.MaxBytes {
		return domain.EvidenceEvent{}, validationf(map[string]any{"size_bytes": f.SizeBytes, "max_bytes": cfg.Disputes.Evidence.MaxBytes}, "evidence size out of range")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.EvidenceEvent{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Member(ctx, tx, f.ActorID); err != nil {
		return domain.EvidenceEvent{}, err
	}
	d, err := e.Repo.GetDispute(ctx, tx, f.DisputeID)
	if err != nil {
		return domain.EvidenceEvent{}, err
	}
	if !isParty(d, f.ActorID) {
		return domain.EvidenceEvent{}, auth.ForbiddenError{Permission: "dispute.party"}
	}
	if domain.IsTerminalDispute(d.Status) {
		return domain.EvidenceEvent{}, conflict(CodeDisputeTerminal, "dispute is closed", map[string]any{"status": d.Status})
	}
	now := e.now()
	if d.SprintID != nil {
		s, err := e.Repo.GetSprint(ctx, tx, *d.SprintID)
		if err != nil {
			return domain.EvidenceEvent{}, err
		}
		if windowClosed(s, now) {
			details := map[string]any{"sprint_id": s.ID, "sprint_status": s.Status}
			if s.DisputeWindowEndsAt != nil {
				details["dispute_window_ends_at"] = *s.DisputeWindowEndsAt
			}
			return domain.EvidenceEvent{}, conflict(CodeDisputeWindowClosed, "sprint dispute window has closed", details)
		}
	}
	ev := domain.EvidenceEvent{
		ID:         newID(""),
		DisputeID:  d.ID,
		UploadedBy: f.ActorID,
		FileName:   f.FileName,
		MimeType:   f.MimeType,
		SizeBytes:  f.SizeBytes,
		FileURL:    f.FileURL,
		IsLate:     now.After(d.ResponseDeadline),
		CreatedAt:  now,
	}
	if ev.FileURL == "" {
		ev.FileURL = path.Join("evidence", d.ID, ev.ID, path.Base(f.FileName))
	}
	if err := e.Repo.InsertEvidenceEvent(ctx, tx, ev); err != nil {
		return domain.EvidenceEvent{}, fmt.Errorf("insert evidence: %w", err)
	}
	files := append(append([]string{}, d.EvidenceFileURLs...), ev.FileURL)
	if _, err := e.changeDispute(ctx, tx, d, repo.DisputeChange{EvidenceFileURLs: files, Now: now}); err != nil {
		return domain.EvidenceEvent{}, err
	}
	if err := e.emit(ctx, tx, "dispute.evidence_added", "dispute", d.ID, f.ActorID, events.EventPayload{
		"evidence_id": ev.ID, "mime_type": ev.MimeType, "size_bytes": ev.SizeBytes, "is_late": ev.IsLate,
	}); err != nil {
		return domain.EvidenceEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EvidenceEvent{}, err
	}
	return ev, nil
}

type RespondOptions struct {
	DisputeID string
	Text      string
	Links     []string
	ActorID   string
}

// RespondToDispute records the reviewer's response and moves the dispute
// under review.
func (e Engine) RespondToDispute(ctx context.Context, opts RespondOptions) (domain.Dispute, error) {
	if strings.TrimSpace(opts.Text) == "" {
		return domain.Dispute{}, validationf(nil, "response text is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer tx.Rollback()
	d, err := e.loadActive(ctx, tx, opts.DisputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if d.ReviewerID != opts.ActorID {
		return domain.Dispute{}, auth.ForbiddenError{Permission: "dispute.reviewer"}
	}
	if d.ResponseSubmittedAt != nil {
		return domain.Dispute{}, conflict(CodeResponseAlreadySubmitted, "reviewer already responded", map[string]any{"response_submitted_at": *d.ResponseSubmittedAt})
	}
	if !domain.IsAwaitingReviewer(d.Status) {
		return domain.Dispute{}, conflict(CodeInvalidStatus, "dispute is not awaiting a response", map[string]any{"status": d.Status})
	}
	now := e.now()
	links := opts.Links
	if links == nil {
		links = []string{}
	}
	updated, err := e.changeDispute(ctx, tx, d, repo.DisputeChange{
		Status:              strRef(domain.DisputeUnderReview),
		ResponseText:        &opts.Text,
		ResponseLinks:       links,
		ResponseSubmittedAt: timePtr(now),
		Now:                 now,
	})
	if err != nil {
		return domain.Dispute{}, err
	}
	if err := e.emit(ctx, tx, "dispute.responded", "dispute", d.ID, opts.ActorID, events.EventPayload{
		"from": d.Status, "to": updated.Status, "late": now.After(d.ResponseDeadline),
	}); err != nil {
		return domain.Dispute{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, err
	}
	return updated, nil
}

// StartMediation moves an open mediation-tier dispute into mediation.
func (e Engine) StartMediation(ctx context.Context, disputeID, actorID string) (domain.Dispute, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer tx.Rollback()
	d, err := e.loadActive(ctx, tx, disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if !isParty(d, actorID) {
		return domain.Dispute{}, auth.ForbiddenError{Permission: "dispute.party"}
	}
	if d.Tier != domain.TierMediation {
		return domain.Dispute{}, validationf(map[string]any{"tier": d.Tier}, "mediation is only available at the mediation tier")
	}
	if d.Status != domain.DisputeOpen {
		return domain.Dispute{}, conflict(CodeInvalidStatus, "only open disputes can enter mediation", map[string]any{"status": d.Status})
	}
	updated, err := e.changeDispute(ctx, tx, d, repo.DisputeChange{Status: strRef(domain.DisputeMediation)})
	if err != nil {
		return domain.Dispute{}, err
	}
	if err := e.emit(ctx, tx, "dispute.mediation_started", "dispute", d.ID, actorID, nil); err != nil {
		return domain.Dispute{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, err
	}
	return updated, nil
}

// arbitrationStatus is the status a dispute moves to once an arbitrator
// takes it.
func arbitrationStatus(d domain.Dispute) string {
	switch d.Status {
	case domain.DisputeAppealed, domain.DisputeAppealReview:
		return domain.DisputeAppealReview
	case domain.DisputeUnderReview:
		return domain.DisputeUnderReview
	}
	if d.ResponseSubmittedAt == nil {
		return domain.DisputeAwaitingResponse
	}
	return domain.DisputeUnderReview
}

// AssignArbitrator lets an eligible council or admin member take the
// dispute. Only one arbitrator may be assigned.
func (e Engine) AssignArbitrator(ctx context.Context, disputeID, actorID string) (domain.Dispute, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer tx.Rollback()
	actor, err := e.Auth.Member(ctx, tx, actorID)
	if err != nil {
		return domain.Dispute{}, err
	}
	d, err := e.loadActive(ctx, tx, disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if !auth.CanArbitrateTier(actor.Role, d.Tier) {
		return domain.Dispute{}, auth.ForbiddenError{Permission: auth.PermDisputeArbitrate}
	}
	if isParty(d, actor.ID) {
		return domain.Dispute{}, conflict(CodeConflictOfInterest, "parties to a dispute cannot arbitrate it", map[string]any{"actor_id": actor.ID})
	}
	if d.ArbitratorID != nil {
		return domain.Dispute{}, conflict(CodeArbitratorAssigned, "dispute already has an arbitrator", map[string]any{"arbitrator_id": *d.ArbitratorID})
	}
	to := arbitrationStatus(d)
	ok, err := e.Repo.ClaimArbitrator(ctx, tx, d.ID, actor.ID, d.Status, to, e.now())
	if err != nil {
		return domain.Dispute{}, err
	}
	if !ok {
		return domain.Dispute{}, conflict(CodeArbitratorAssigned, "dispute already has an arbitrator", map[string]any{"dispute_id": d.ID})
	}
	if err := e.emit(ctx, tx, "dispute.arbitrator_assigned", "dispute", d.ID, actor.ID, events.EventPayload{"from": d.Status, "to": to}); err != nil {
		return domain.Dispute{}, err
	}
	updated, err := e.Repo.GetDispute(ctx, tx, d.ID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, err
	}
	return updated, nil
}

type ResolveOptions struct {
	DisputeID    string
	Resolution   string
	Notes        string
	QualityScore *int
	ActorID      string
}

// ResolutionImpact summarises the XP and submission side effects of a
// resolution.
type ResolutionImpact struct {
	StakeRefunded      int64 `json:"stake_refunded"`
	StakeForfeited     int64 `json:"stake_forfeited"`
	ReviewerPenalty    int64 `json:"reviewer_penalty"`
	ArbitratorReward   int64 `json:"arbitrator_reward"`
	SubmissionApproved bool  `json:"submission_approved"`
	QualityScore       *int  `json:"quality_score,omitempty"`
	EarnedPoints       int64 `json:"earned_points"`
	SubmitterXPDelta   int64 `json:"submitter_xp_delta"`
	TaskCompleted      bool  `json:"task_completed"`
}

type ResolveResult struct {
	Dispute domain.Dispute   `json:"dispute"`
	Impact  ResolutionImpact `json:"impact"`
}

func validateResolution(opts ResolveOptions) error {
	switch opts.Resolution {
	case domain.ResolutionOverturned, domain.ResolutionUpheld, domain.ResolutionCompromise, domain.ResolutionDismissed:
	default:
		return validationf(map[string]any{"resolution": opts.Resolution}, "unknown resolution %q", opts.Resolution)
	}
	if len([]rune(strings.TrimSpace(opts.Notes))) < minResolutionNotes {
		return validationf(nil, "resolution notes must be at least %d characters", minResolutionNotes)
	}
	if opts.Resolution == domain.ResolutionCompromise {
		if opts.QualityScore == nil || *opts.QualityScore < 1 || *opts.QualityScore > 5 {
			return validationf(nil, "compromise requires a quality score between 1 and 5")
		}
	} else if opts.QualityScore != nil {
		return validationf(nil, "quality score is only accepted for compromise")
	}
	return nil
}

// canResolve reports whether actor may resolve d. Admins always may;
// otherwise the actor must be eligible for the tier and be the assigned
// arbitrator when there is one.
func canResolve(d domain.Dispute, actor domain.Member) bool {
	if actor.Role == domain.RoleAdmin {
		return true
	}
	if d.ArbitratorID != nil && *d.ArbitratorID != actor.ID {
		return false
	}
	return auth.CanArbitrateTier(actor.Role, d.Tier)
}

// ResolveDispute closes a dispute with an outcome and applies its XP and
// submission effects in the same transaction.
func (e Engine) ResolveDispute(ctx context.Context, opts ResolveOptions) (ResolveResult, error) {
	ctx, span := e.Metrics.Start(ctx, "resolve_dispute", attribute.String("dispute.id", opts.DisputeID))
	defer span.End()
	cfg, err := e.config()
	if err != nil {
		return ResolveResult{}, err
	}
	if err := validateResolution(opts); err != nil {
		return ResolveResult{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return ResolveResult{}, err
	}
	defer tx.Rollback()
	actor, err := e.Auth.Member(ctx, tx, opts.ActorID)
	if err != nil {
		return ResolveResult{}, err
	}
	d, err := e.loadActive(ctx, tx, opts.DisputeID)
	if err != nil {
		return ResolveResult{}, err
	}
	if isParty(d, actor.ID) {
		return ResolveResult{}, conflict(CodeConflictOfInterest, "parties to a dispute cannot resolve it", map[string]any{"actor_id": actor.ID})
	}
	if !canResolve(d, actor) {
		return ResolveResult{}, auth.ForbiddenError{Permission: auth.PermDisputeArbitrate}
	}
	if d.Status != domain.DisputeUnderReview && d.Status != domain.DisputeAppealReview {
		return ResolveResult{}, conflict(CodeInvalidStatus, "only disputes under review can be resolved", map[string]any{"status": d.Status})
	}

	var impact ResolutionImpact
	change := repo.DisputeChange{
		Resolution:      strRef(opts.Resolution),
		ResolutionNotes: strRef(strings.TrimSpace(opts.Notes)),
		NewQualityScore: opts.QualityScore,
	}
	favorable := opts.Resolution == domain.ResolutionOverturned || opts.Resolution == domain.ResolutionCompromise
	if d.XPStakeStatus == domain.StakeLocked {
		if favorable {
			if _, err := e.adjustXP(ctx, tx, d.DisputantID, d.XPStake, "dispute.stake_refund", actor.ID); err != nil {
				return ResolveResult{}, err
			}
			impact.StakeRefunded = d.XPStake
			change.XPStakeStatus = strRef(domain.StakeRefunded)
		} else {
			impact.StakeForfeited = d.XPStake
			change.XPStakeStatus = strRef(domain.StakeForfeited)
		}
	}
	if opts.Resolution == domain.ResolutionOverturned && !d.ReviewerPenalized {
		applied, err := e.adjustXP(ctx, tx, d.ReviewerID, -cfg.Disputes.ReviewerPenaltyXP, "dispute.reviewer_penalty", actor.ID)
		if err != nil {
			return ResolveResult{}, err
		}
		impact.ReviewerPenalty = -applied
		penalized := true
		change.ReviewerPenalized = &penalized
	}
	// An admin stepping in for the assigned arbitrator earns nothing.
	if d.ArbitratorID != nil && *d.ArbitratorID == actor.ID && cfg.Disputes.ArbitratorRewardXP > 0 {
		if _, err := e.adjustXP(ctx, tx, *d.ArbitratorID, cfg.Disputes.ArbitratorRewardXP, "dispute.arbitrator_reward", actor.ID); err != nil {
			return ResolveResult{}, err
		}
		impact.ArbitratorReward = cfg.Disputes.ArbitratorRewardXP
	}
	if favorable {
		if err := e.approveOnResolution(ctx, tx, d, opts, actor.ID, &impact); err != nil {
			return ResolveResult{}, err
		}
	} else if _, err := e.Repo.SetSubmissionStatus(ctx, tx, d.SubmissionID, []string{domain.ReviewDisputed}, domain.ReviewRejected); err != nil {
		return ResolveResult{}, err
	}

	status := domain.DisputeResolved
	if opts.Resolution == domain.ResolutionDismissed {
		status = domain.DisputeDismissed
	}
	now := e.now()
	change.Status = &status
	change.ResolvedAt = timePtr(now)
	change.Now = now
	updated, err := e.changeDispute(ctx, tx, d, change)
	if err != nil {
		return ResolveResult{}, err
	}
	if err := e.emit(ctx, tx, "dispute.resolved", "dispute", d.ID, actor.ID, events.EventPayload{
		"from": d.Status, "to": status, "resolution": opts.Resolution, "tier": d.Tier, "impact": impact,
	}); err != nil {
		return ResolveResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{Dispute: updated, Impact: impact}, nil
}

// approveOnResolution re-approves the disputed submission. Overturned work
// earns full base points at score 5; a compromise uses the chosen score.
func (e Engine) approveOnResolution(ctx context.Context, tx *sql.Tx, d domain.Dispute, opts ResolveOptions, actorID string, impact *ResolutionImpact) error {
	sub, err := e.Repo.GetSubmission(ctx, tx, d.SubmissionID)
	if err != nil {
		return err
	}
	score := 5
	earned := sub.BasePoints
	if opts.Resolution == domain.ResolutionCompromise {
		score = *opts.QualityScore
		earned = e.earnedPoints(sub.BasePoints, score)
	}
	ok, err := e.Repo.UpdateSubmissionReview(ctx, tx, sub.ID, repo.ReviewUpdate{
		From:         []string{domain.ReviewDisputed, domain.ReviewRejected, domain.ReviewApproved},
		To:           domain.ReviewApproved,
		QualityScore: &score,
		EarnedPoints: &earned,
		Now:          e.now(),
	})
	if err != nil {
		return err
	}
	if !ok {
		return conflict(CodeStaleState, "submission changed concurrently", map[string]any{"submission_id": sub.ID})
	}
	impact.SubmissionApproved = true
	impact.QualityScore = &score
	impact.EarnedPoints = earned
	if delta := earned - sub.EarnedPoints; delta != 0 {
		applied, err := e.adjustXP(ctx, tx, sub.SubmitterID, delta, "dispute."+opts.Resolution, actorID)
		if err != nil {
			return err
		}
		impact.SubmitterXPDelta = applied
	}
	open, err := e.Repo.OpenDependencies(ctx, tx, sub.TaskID)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		if err := e.completeTask(ctx, tx, sub.TaskID, actorID); err != nil {
			return err
		}
		impact.TaskCompleted = true
	}
	return nil
}

// WithdrawDispute lets the disputant abandon a dispute. The stake is
// returned and the submission goes back to rejected.
func (e Engine) WithdrawDispute(ctx context.Context, disputeID, actorID string) (domain.Dispute, error) {
	return e.exitDispute(ctx, disputeID, actorID, domain.DisputeWithdrawn)
}

// MediateDispute closes a dispute by agreement reached in mediation.
func (e Engine) MediateDispute(ctx context.Context, disputeID, actorID string) (domain.Dispute, error) {
	return e.exitDispute(ctx, disputeID, actorID, domain.DisputeMediated)
}

func (e Engine) exitDispute(ctx context.Context, disputeID, actorID, to string) (domain.Dispute, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer tx.Rollback()
	d, err := e.loadActive(ctx, tx, disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if d.DisputantID != actorID {
		return domain.Dispute{}, auth.ForbiddenError{Permission: "dispute.disputant"}
	}
	change := repo.DisputeChange{Status: &to}
	if d.XPStakeStatus == domain.StakeLocked {
		if _, err := e.adjustXP(ctx, tx, d.DisputantID, d.XPStake, "dispute.stake_refund", actorID); err != nil {
			return domain.Dispute{}, err
		}
		change.XPStakeStatus = strRef(domain.StakeRefunded)
	}
	if _, err := e.Repo.SetSubmissionStatus(ctx, tx, d.SubmissionID, []string{domain.ReviewDisputed}, domain.ReviewRejected); err != nil {
		return domain.Dispute{}, err
	}
	updated, err := e.changeDispute(ctx, tx, d, change)
	if err != nil {
		return domain.Dispute{}, err
	}
	if err := e.emit(ctx, tx, "dispute."+to, "dispute", d.ID, actorID, events.EventPayload{"from": d.Status, "to": to}); err != nil {
		return domain.Dispute{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, err
	}
	return updated, nil
}

type AppealOptions struct {
	DisputeID string
	Reason    string
	ActorID   string
}

// AppealDispute reopens a resolved or dismissed dispute one tier up. The
// admin tier is final.
func (e Engine) AppealDispute(ctx context.Context, opts AppealOptions) (domain.Dispute, error) {
	cfg, err := e.config()
	if err != nil {
		return domain.Dispute{}, err
	}
	reason := strings.TrimSpace(opts.Reason)
	if reason == "" {
		return domain.Dispute{}, validationf(nil, "appeal reason is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Dispute{}, err
	}
	defer tx.Rollback()
	actor, err := e.Auth.Member(ctx, tx, opts.ActorID)
	if err != nil {
		return domain.Dispute{}, err
	}
	d, err := e.Repo.GetDispute(ctx, tx, opts.DisputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if d.DisputantID != actor.ID {
		return domain.Dispute{}, auth.ForbiddenError{Permission: "dispute.disputant"}
	}
	if d.Status != domain.DisputeResolved && d.Status != domain.DisputeDismissed {
		return domain.Dispute{}, conflict(CodeInvalidStatus, "only resolved or dismissed disputes can be appealed", map[string]any{"status": d.Status})
	}
	if d.Tier == domain.TierAdmin {
		return domain.Dispute{}, validationf(map[string]any{"tier": d.Tier}, "admin tier decisions are final")
	}
	now := e.now()
	if d.SprintID != nil {
		s, err := e.Repo.GetSprint(ctx, tx, *d.SprintID)
		if err != nil {
			return domain.Dispute{}, err
		}
		if windowClosed(s, now) {
			return domain.Dispute{}, conflict(CodeDisputeWindowClosed, "sprint dispute window has closed", map[string]any{"sprint_id": s.ID})
		}
	}
	if d.ResolvedAt != nil && now.After(clock.Deadline(*d.ResolvedAt, cfg.Disputes.AppealWindowHours)) {
		return domain.Dispute{}, validationf(map[string]any{"resolved_at": *d.ResolvedAt}, "appeal window of %d hours has passed", cfg.Disputes.AppealWindowHours)
	}
	if active, err := e.Repo.ActiveDisputeForSubmission(ctx, tx, d.SubmissionID); err == nil {
		return domain.Dispute{}, conflict(CodeActiveDisputeExists, "submission already has an active dispute", map[string]any{"dispute_id": active.ID})
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Dispute{}, err
	}
	// A refunded stake is taken again; a forfeited one is put back at risk.
	if d.XPStakeStatus == domain.StakeRefunded && d.XPStake > 0 {
		if actor.XPTotal < d.XPStake {
			return domain.Dispute{}, validationf(map[string]any{"xp_total": actor.XPTotal, "required": d.XPStake}, "at least %d XP is required to appeal", d.XPStake)
		}
		if _, err := e.adjustXP(ctx, tx, actor.ID, -d.XPStake, "dispute.stake", actor.ID); err != nil {
			return domain.Dispute{}, err
		}
	}
	tier := domain.NextTier(d.Tier)
	updated, err := e.changeDispute(ctx, tx, d, repo.DisputeChange{
		Status:           strRef(domain.DisputeAppealed),
		Tier:             &tier,
		ClearArbitrator:  true,
		ResponseDeadline: timePtr(clock.Deadline(now, cfg.Disputes.ReviewerSLAHours)),
		ClearResponse:    true,
		ClearResolution:  true,
		XPStakeStatus:    strRef(domain.StakeLocked),
		AppealReason:     &reason,
		IncAppealCount:   true,
		Now:              now,
	})
	if err != nil {
		return domain.Dispute{}, err
	}
	if _, err := e.Repo.SetSubmissionStatus(ctx, tx, d.SubmissionID, []string{domain.ReviewRejected}, domain.ReviewDisputed); err != nil {
		return domain.Dispute{}, err
	}
	if err := e.emit(ctx, tx, "dispute.appealed", "dispute", d.ID, actor.ID, events.EventPayload{
		"from": d.Status, "from_tier": d.Tier, "to_tier": tier, "appeal_count": updated.AppealCount,
	}); err != nil {
		return domain.Dispute{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dispute{}, err
	}
	return updated, nil
}

// SweepFailure is one dispute the sweep could not escalate.
type SweepFailure struct {
	DisputeID string `json:"dispute_id"`
	Error     string `json:"error"`
}

type SweepResult struct {
	EscalatedCount int            `json:"escalated_count"`
	Escalated      []string       `json:"escalated,omitempty"`
	Failed         []SweepFailure `json:"failed,omitempty"`
}

// SweepOverdueDisputeReviewerSLA escalates every dispute whose reviewer
// missed the response deadline to the admin tier under review with a fresh
// deadline. Each dispute is escalated in its own transaction; a failure on
// one does not stop the others. Running it again is a no-op for disputes
// already escalated.
func (e Engine) SweepOverdueDisputeReviewerSLA(ctx context.Context, extensionHours int) (SweepResult, error) {
	ctx, span := e.Metrics.Start(ctx, "sweep_dispute_sla")
	defer span.End()
	cfg, err := e.config()
	if err != nil {
		return SweepResult{}, err
	}
	if extensionHours <= 0 {
		extensionHours = cfg.Disputes.SLAExtensionHours
	}
	now := e.now()
	overdue, err := e.Repo.OverdueDisputes(ctx, nil, now)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list overdue disputes: %w", err)
	}
	var res SweepResult
	for _, d := range overdue {
		ok, err := e.escalateOverdue(ctx, d, clock.Deadline(now, extensionHours), now)
		if err != nil {
			e.log().Error("dispute escalation failed", "dispute_id", d.ID, "err", err)
			res.Failed = append(res.Failed, SweepFailure{DisputeID: d.ID, Error: err.Error()})
			continue
		}
		if ok {
			res.Escalated = append(res.Escalated, d.ID)
		}
	}
	res.EscalatedCount = len(res.Escalated)
	e.Metrics.Escalated(ctx, res.EscalatedCount)
	if res.EscalatedCount > 0 {
		e.log().Warn("disputes escalated for missed reviewer sla", "count", res.EscalatedCount, "failed", len(res.Failed))
	}
	return res, nil
}

func (e Engine) escalateOverdue(ctx context.Context, d domain.Dispute, deadline, now time.Time) (bool, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.EscalateOverdue(ctx, tx, d, deadline, now)
	if err != nil || !ok {
		return false, err
	}
	if err := e.emit(ctx, tx, "dispute.sla_escalated", "dispute", d.ID, SystemActor, events.EventPayload{
		"from": d.Status, "from_tier": d.Tier, "previous_deadline": d.ResponseDeadline, "response_deadline": deadline,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// DisputeUrgency classifies the dispute's response deadline against now.
func (e Engine) DisputeUrgency(d domain.Dispute) clock.Urgency {
	var lead time.Duration
	if e.Config != nil {
		lead = e.Config.SLAAtRiskLead()
	}
	return clock.Classify(d.ResponseDeadline, e.now(), lead)
}

func (e Engine) GetDispute(ctx context.Context, id string) (domain.Dispute, error) {
	return e.Repo.GetDispute(ctx, nil, id)
}

func (e Engine) ListDisputes(ctx context.Context, f repo.DisputeFilter) ([]domain.Dispute, error) {
	return e.Repo.ListDisputes(ctx, nil, f)
}

func (e Engine) ListEvidence(ctx context.Context, disputeID string) ([]domain.EvidenceEvent, error) {
	if _, err := e.Repo.GetDispute(ctx, nil, disputeID); err != nil {
		return nil, err
	}
	return e.Repo.ListEvidenceEvents(ctx, nil, disputeID)
}

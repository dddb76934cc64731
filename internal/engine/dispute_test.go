package engine_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/FCisco95/organic-app-sub000/internal/clock"
	"github.com/FCisco95/organic-app-sub000/internal/config"
	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/events"
)

func intRef(v int) *int { return &v }

const notes = "checked the diff against the acceptance criteria"

func TestFileDispute(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	sub := env.rejectedSubmission(t, "s1", alice, 10)

	_, err := env.Engine.FileDispute(env.Ctx, engine.FileDisputeOptions{SubmissionID: sub.ID, Reason: "rejected_unfairly", ActorID: bob})
	assert.True(t, engine.IsForbidden(err))
	_, err = env.Engine.FileDispute(env.Ctx, engine.FileDisputeOptions{SubmissionID: sub.ID, Reason: "bad vibes", ActorID: alice})
	assert.True(t, engine.IsValidation(err))

	d := env.fileDispute(t, sub)
	assert.Equal(t, domain.DisputeOpen, d.Status)
	assert.Equal(t, domain.TierMediation, d.Tier)
	assert.Equal(t, reviewer, d.ReviewerID)
	assert.Equal(t, int64(50), d.XPStake)
	assert.Equal(t, domain.StakeLocked, d.XPStakeStatus)
	assert.True(t, t0.Add(72*time.Hour).Equal(d.ResponseDeadline))
	assert.Equal(t, int64(450), env.xp(t, alice))

	got, err := env.Engine.GetSubmission(env.Ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewDisputed, got.ReviewStatus)

	_, err = env.Engine.FileDispute(env.Ctx, engine.FileDisputeOptions{SubmissionID: sub.ID, Reason: "reviewer_bias", ActorID: alice})
	requireConflict(t, err, engine.CodeActiveDisputeExists)
}

func TestFileDisputeEligibility(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateMember(env.Ctx, engine.MemberCreateOptions{ID: "carol", DisplayName: "Carol", XP: 60, ActorID: admin})
	require.NoError(t, err)
	env.activeSprint(t, "s1", 0)

	poor := env.rejectedSubmission(t, "s1", "carol", 5)
	_, err = env.Engine.FileDispute(env.Ctx, engine.FileDisputeOptions{SubmissionID: poor.ID, Reason: "other", ActorID: "carol"})
	assert.True(t, engine.IsValidation(err))

	_, approved := env.submittedTask(t, "s1", bob, 5)
	_, err = env.Engine.ReviewSubmission(env.Ctx, engine.ReviewOptions{SubmissionID: approved.ID, Approve: true, QualityScore: 4, ActorID: reviewer})
	require.NoError(t, err)
	_, err = env.Engine.FileDispute(env.Ctx, engine.FileDisputeOptions{SubmissionID: approved.ID, Reason: "low_quality_score", ActorID: bob})
	requireConflict(t, err, engine.CodeInvalidStatus)

	late := env.rejectedSubmission(t, "s1", alice, 5)
	env.toSettlement(t, "s1")
	_, err = env.Engine.FileDispute(env.Ctx, engine.FileDisputeOptions{SubmissionID: late.ID, Reason: "other", ActorID: alice})
	assert.True(t, engine.IsValidation(err))
}

func TestEvidenceLateTaggingAndWindowClose(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Disputes.ReviewerSLAHours = 12 })
	env.activeSprint(t, "s1", 0)
	d := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 10))

	env.Clock.Set(t0.Add(time.Hour))
	ev, err := env.Engine.SubmitEvidence(env.Ctx, engine.EvidenceFile{
		DisputeID: d.ID, FileName: "ci-log.txt", MimeType: "text/plain", SizeBytes: 2048, ActorID: alice,
	})
	require.NoError(t, err)
	assert.False(t, ev.IsLate)
	assert.Equal(t, "evidence/"+d.ID+"/"+ev.ID+"/ci-log.txt", ev.FileURL)

	env.Clock.Set(t0.Add(2 * time.Hour))
	env.advance(t, "s1")
	env.advance(t, "s1")

	env.Clock.Set(t0.Add(13 * time.Hour))
	ev, err = env.Engine.SubmitEvidence(env.Ctx, engine.EvidenceFile{
		DisputeID: d.ID, FileName: "review.pdf", MimeType: "application/pdf", SizeBytes: 4096, ActorID: reviewer,
	})
	require.NoError(t, err)
	assert.True(t, ev.IsLate)

	_, err = env.Engine.SubmitEvidence(env.Ctx, engine.EvidenceFile{
		DisputeID: d.ID, FileName: "x.exe", MimeType: "application/x-msdownload", SizeBytes: 10, ActorID: alice,
	})
	assert.True(t, engine.IsValidation(err))
	_, err = env.Engine.SubmitEvidence(env.Ctx, engine.EvidenceFile{
		DisputeID: d.ID, FileName: "a.png", MimeType: "image/png", SizeBytes: 10, ActorID: arb,
	})
	assert.True(t, engine.IsForbidden(err))

	list, err := env.Engine.ListEvidence(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	got, err := env.Engine.GetDispute(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, got.EvidenceFileURLs, 2)

	// The sprint window closes at t0+50h regardless of the dispute deadline.
	env.Clock.Set(t0.Add(50 * time.Hour))
	_, err = env.Engine.SubmitEvidence(env.Ctx, engine.EvidenceFile{
		DisputeID: d.ID, FileName: "late.png", MimeType: "image/png", SizeBytes: 10, ActorID: alice,
	})
	requireConflict(t, err, engine.CodeDisputeWindowClosed)
}

func TestSLASweepEscalatesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	first := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 10))
	second := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 6))
	answered := env.fileDispute(t, env.rejectedSubmission(t, "s1", bob, 4))
	_, err := env.Engine.RespondToDispute(env.Ctx, engine.RespondOptions{DisputeID: answered.ID, Text: "scope was agreed in the issue", ActorID: reviewer})
	require.NoError(t, err)

	now := env.Clock.Advance(73 * time.Hour)

	var total atomic.Int32
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			res, err := env.Engine.SweepOverdueDisputeReviewerSLA(env.Ctx, 0)
			if err != nil {
				return err
			}
			total.Add(int32(res.EscalatedCount))
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(2), total.Load())

	for _, id := range []string{first.ID, second.ID} {
		d, err := env.Engine.GetDispute(env.Ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TierAdmin, d.Tier)
		assert.Equal(t, domain.DisputeUnderReview, d.Status)
		assert.Equal(t, 1, d.SLAEscalations)
		require.NotNil(t, d.EscalatedAt)
		assert.True(t, now.Add(24*time.Hour).Equal(d.ResponseDeadline))
	}
	d, err := env.Engine.GetDispute(env.Ctx, answered.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierMediation, d.Tier)

	res, err := env.Engine.SweepOverdueDisputeReviewerSLA(env.Ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, res.EscalatedCount)

	evts, err := env.Engine.Events.List(env.Ctx, events.Filter{Type: "dispute.sla_escalated"})
	require.NoError(t, err)
	require.Len(t, evts, 2)
	for _, e := range evts {
		assert.Equal(t, engine.SystemActor, e.ActorID)
	}
}

func TestDisputeUrgency(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	d := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 10))

	assert.Equal(t, clock.OnTrack, env.Engine.DisputeUrgency(d))
	env.Clock.Set(t0.Add(61 * time.Hour))
	assert.Equal(t, clock.AtRisk, env.Engine.DisputeUrgency(d))
	env.Clock.Set(t0.Add(73 * time.Hour))
	assert.Equal(t, clock.Overdue, env.Engine.DisputeUrgency(d))
}

func TestReviewerRespondsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	d := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 10))

	_, err := env.Engine.RespondToDispute(env.Ctx, engine.RespondOptions{DisputeID: d.ID, Text: "not mine", ActorID: bob})
	assert.True(t, engine.IsForbidden(err))

	d, err = env.Engine.RespondToDispute(env.Ctx, engine.RespondOptions{DisputeID: d.ID, Text: "missing tests", Links: []string{"https://example.org/ci"}, ActorID: reviewer})
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeUnderReview, d.Status)
	require.NotNil(t, d.ResponseSubmittedAt)
	assert.Equal(t, []string{"https://example.org/ci"}, d.ResponseLinks)

	_, err = env.Engine.RespondToDispute(env.Ctx, engine.RespondOptions{DisputeID: d.ID, Text: "again", ActorID: reviewer})
	requireConflict(t, err, engine.CodeResponseAlreadySubmitted)
}

func TestAssignArbitrator(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	d := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 10))

	_, err := env.Engine.AssignArbitrator(env.Ctx, d.ID, reviewer)
	requireConflict(t, err, engine.CodeConflictOfInterest)
	_, err = env.Engine.AssignArbitrator(env.Ctx, d.ID, bob)
	assert.True(t, engine.IsForbidden(err))

	var assigned, lost atomic.Int32
	var g errgroup.Group
	for _, who := range []string{arb, arb2} {
		g.Go(func() error {
			_, err := env.Engine.AssignArbitrator(env.Ctx, d.ID, who)
			switch {
			case err == nil:
				assigned.Add(1)
			case engine.IsConflict(err, engine.CodeArbitratorAssigned), engine.IsConflict(err, engine.CodeStaleState):
				lost.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), assigned.Load())
	assert.Equal(t, int32(1), lost.Load())

	got, err := env.Engine.GetDispute(env.Ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ArbitratorID)
	assert.Equal(t, domain.DisputeAwaitingResponse, got.Status)
}

func TestResolveCompromise(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	sub := env.rejectedSubmission(t, "s1", alice, 10)
	d := env.fileDispute(t, sub)
	_, err := env.Engine.AssignArbitrator(env.Ctx, d.ID, arb)
	require.NoError(t, err)
	_, err = env.Engine.RespondToDispute(env.Ctx, engine.RespondOptions{DisputeID: d.ID, Text: "coverage too low", ActorID: reviewer})
	require.NoError(t, err)

	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionCompromise, Notes: "short", QualityScore: intRef(3), ActorID: arb})
	assert.True(t, engine.IsValidation(err))
	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionCompromise, Notes: notes, ActorID: arb})
	assert.True(t, engine.IsValidation(err))
	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionCompromise, Notes: notes, QualityScore: intRef(3), ActorID: arb2})
	assert.True(t, engine.IsForbidden(err))
	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionCompromise, Notes: notes, QualityScore: intRef(3), ActorID: alice})
	requireConflict(t, err, engine.CodeConflictOfInterest)

	res, err := env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionCompromise, Notes: notes, QualityScore: intRef(3), ActorID: arb})
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeResolved, res.Dispute.Status)
	require.NotNil(t, res.Dispute.ResolvedAt)
	assert.Equal(t, int64(50), res.Impact.StakeRefunded)
	assert.Equal(t, int64(10), res.Impact.ArbitratorReward)
	assert.Zero(t, res.Impact.ReviewerPenalty)
	assert.True(t, res.Impact.SubmissionApproved)
	assert.Equal(t, int64(7), res.Impact.EarnedPoints)
	assert.True(t, res.Impact.TaskCompleted)

	assert.Equal(t, int64(507), env.xp(t, alice))
	assert.Equal(t, int64(10), env.xp(t, arb))
	assert.Equal(t, int64(200), env.xp(t, reviewer))

	got, err := env.Engine.GetSubmission(env.Ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewApproved, got.ReviewStatus)
	require.NotNil(t, got.QualityScore)
	assert.Equal(t, 3, *got.QualityScore)
	task, err := env.Engine.GetTask(env.Ctx, sub.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskDone, task.Status)

	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionUpheld, Notes: notes, ActorID: arb})
	requireConflict(t, err, engine.CodeDisputeTerminal)
}

func TestResolveOverturnedPenalizesReviewer(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	d := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 10))
	_, err := env.Engine.RespondToDispute(env.Ctx, engine.RespondOptions{DisputeID: d.ID, Text: "tests were missing", ActorID: reviewer})
	require.NoError(t, err)

	res, err := env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionOverturned, Notes: notes, ActorID: admin})
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.Impact.ReviewerPenalty)
	assert.Equal(t, int64(10), res.Impact.EarnedPoints)
	assert.True(t, res.Dispute.ReviewerPenalized)
	assert.Equal(t, int64(175), env.xp(t, reviewer))
	assert.Equal(t, int64(510), env.xp(t, alice))
}

func TestAppealClimbsTiers(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	sub := env.rejectedSubmission(t, "s1", alice, 10)
	d := env.fileDispute(t, sub)
	_, err := env.Engine.AssignArbitrator(env.Ctx, d.ID, arb)
	require.NoError(t, err)
	_, err = env.Engine.RespondToDispute(env.Ctx, engine.RespondOptions{DisputeID: d.ID, Text: "coverage too low", ActorID: reviewer})
	require.NoError(t, err)

	res, err := env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionUpheld, Notes: notes, ActorID: arb})
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Impact.StakeForfeited)
	assert.Equal(t, int64(450), env.xp(t, alice))
	got, err := env.Engine.GetSubmission(env.Ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewRejected, got.ReviewStatus)

	_, err = env.Engine.AppealDispute(env.Ctx, engine.AppealOptions{DisputeID: d.ID, Reason: "new evidence", ActorID: bob})
	assert.True(t, engine.IsForbidden(err))
	_, err = env.Engine.AppealDispute(env.Ctx, engine.AppealOptions{DisputeID: d.ID, ActorID: alice})
	assert.True(t, engine.IsValidation(err))

	appealed, err := env.Engine.AppealDispute(env.Ctx, engine.AppealOptions{DisputeID: d.ID, Reason: "new evidence", ActorID: alice})
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeAppealed, appealed.Status)
	assert.Equal(t, domain.TierCouncil, appealed.Tier)
	assert.Nil(t, appealed.ArbitratorID)
	assert.Empty(t, appealed.Resolution)
	assert.Equal(t, domain.StakeLocked, appealed.XPStakeStatus)
	assert.Equal(t, 1, appealed.AppealCount)
	assert.Equal(t, int64(450), env.xp(t, alice), "a forfeited stake is relocked without a second deduction")
	got, err = env.Engine.GetSubmission(env.Ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewDisputed, got.ReviewStatus)

	review, err := env.Engine.AssignArbitrator(env.Ctx, d.ID, arb2)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeAppealReview, review.Status)
	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionDismissed, Notes: notes, ActorID: arb2})
	require.NoError(t, err)

	appealed, err = env.Engine.AppealDispute(env.Ctx, engine.AppealOptions{DisputeID: d.ID, Reason: "council ignored the logs", ActorID: alice})
	require.NoError(t, err)
	assert.Equal(t, domain.TierAdmin, appealed.Tier)

	_, err = env.Engine.AssignArbitrator(env.Ctx, d.ID, arb)
	assert.True(t, engine.IsForbidden(err))
	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionUpheld, Notes: notes, ActorID: admin})
	requireConflict(t, err, engine.CodeInvalidStatus)
	review, err = env.Engine.AssignArbitrator(env.Ctx, d.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeAppealReview, review.Status)
	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionUpheld, Notes: notes, ActorID: admin})
	require.NoError(t, err)

	_, err = env.Engine.AppealDispute(env.Ctx, engine.AppealOptions{DisputeID: d.ID, Reason: "once more", ActorID: alice})
	assert.True(t, engine.IsValidation(err))
}

func TestAppealWindow(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	d := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 10))
	_, err := env.Engine.RespondToDispute(env.Ctx, engine.RespondOptions{DisputeID: d.ID, Text: "coverage too low", ActorID: reviewer})
	require.NoError(t, err)
	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionUpheld, Notes: notes, ActorID: arb})
	require.NoError(t, err)

	env.Clock.Advance(73 * time.Hour)
	_, err = env.Engine.AppealDispute(env.Ctx, engine.AppealOptions{DisputeID: d.ID, Reason: "too late", ActorID: alice})
	assert.True(t, engine.IsValidation(err))
}

func TestResolveRequiresReview(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	d := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 10))

	_, err := env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionOverturned, Notes: notes, ActorID: admin})
	requireConflict(t, err, engine.CodeInvalidStatus)

	assigned, err := env.Engine.AssignArbitrator(env.Ctx, d.ID, arb)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeAwaitingResponse, assigned.Status)
	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionUpheld, Notes: notes, ActorID: arb})
	requireConflict(t, err, engine.CodeInvalidStatus)

	got, err := env.Engine.GetDispute(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeAwaitingResponse, got.Status)
	assert.Equal(t, domain.StakeLocked, got.XPStakeStatus)
	assert.Equal(t, int64(200), env.xp(t, reviewer))
	assert.Equal(t, int64(450), env.xp(t, alice))

	_, err = env.Engine.RespondToDispute(env.Ctx, engine.RespondOptions{DisputeID: d.ID, Text: "coverage too low", ActorID: reviewer})
	require.NoError(t, err)
	res, err := env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionUpheld, Notes: notes, ActorID: arb})
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeResolved, res.Dispute.Status)
}

func TestAppealClosedAfterSprintSettles(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	d := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 10))
	_, err := env.Engine.RespondToDispute(env.Ctx, engine.RespondOptions{DisputeID: d.ID, Text: "coverage too low", ActorID: reviewer})
	require.NoError(t, err)
	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionUpheld, Notes: notes, ActorID: arb})
	require.NoError(t, err)

	env.toSettlement(t, "s1")
	_, err = env.Engine.AppealDispute(env.Ctx, engine.AppealOptions{DisputeID: d.ID, Reason: "new evidence", ActorID: alice})
	requireConflict(t, err, engine.CodeDisputeWindowClosed)

	res := env.advance(t, "s1")
	require.Equal(t, domain.PhaseCompleted, res.Sprint.Status)
	_, err = env.Engine.AppealDispute(env.Ctx, engine.AppealOptions{DisputeID: d.ID, Reason: "new evidence", ActorID: alice})
	requireConflict(t, err, engine.CodeDisputeWindowClosed)

	got, err := env.Engine.GetDispute(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeResolved, got.Status)
	assert.Zero(t, got.AppealCount)
	assert.Equal(t, int64(450), env.xp(t, alice))
}

func TestAdminOverrideSkipsArbitratorReward(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	d := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 10))
	_, err := env.Engine.AssignArbitrator(env.Ctx, d.ID, arb)
	require.NoError(t, err)
	before := env.xp(t, arb)

	env.Clock.Advance(73 * time.Hour)
	sweep, err := env.Engine.SweepOverdueDisputeReviewerSLA(env.Ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, sweep.EscalatedCount)

	escalated, err := env.Engine.GetDispute(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierAdmin, escalated.Tier)
	assert.Equal(t, domain.DisputeUnderReview, escalated.Status)
	assert.Nil(t, escalated.ArbitratorID)

	res, err := env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionOverturned, Notes: notes, ActorID: admin})
	require.NoError(t, err)
	assert.Zero(t, res.Impact.ArbitratorReward)
	assert.Equal(t, before, env.xp(t, arb))
}

func TestWithdrawRefundsStake(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	sub := env.rejectedSubmission(t, "s1", alice, 10)
	d := env.fileDispute(t, sub)
	assert.Equal(t, int64(450), env.xp(t, alice))

	_, err := env.Engine.WithdrawDispute(env.Ctx, d.ID, bob)
	assert.True(t, engine.IsForbidden(err))
	w, err := env.Engine.WithdrawDispute(env.Ctx, d.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeWithdrawn, w.Status)
	assert.Equal(t, domain.StakeRefunded, w.XPStakeStatus)
	assert.Equal(t, int64(500), env.xp(t, alice))

	got, err := env.Engine.GetSubmission(env.Ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewRejected, got.ReviewStatus)

	_, err = env.Engine.WithdrawDispute(env.Ctx, d.ID, alice)
	requireConflict(t, err, engine.CodeDisputeTerminal)

	again := env.fileDispute(t, sub)
	assert.NotEqual(t, d.ID, again.ID)
}

func TestMediation(t *testing.T) {
	env := newTestEnv(t)
	env.activeSprint(t, "s1", 0)
	d := env.fileDispute(t, env.rejectedSubmission(t, "s1", alice, 10))

	_, err := env.Engine.StartMediation(env.Ctx, d.ID, arb)
	assert.True(t, engine.IsForbidden(err))
	m, err := env.Engine.StartMediation(env.Ctx, d.ID, reviewer)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeMediation, m.Status)
	_, err = env.Engine.StartMediation(env.Ctx, d.ID, alice)
	requireConflict(t, err, engine.CodeInvalidStatus)

	done, err := env.Engine.MediateDispute(env.Ctx, d.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeMediated, done.Status)
	assert.Equal(t, int64(500), env.xp(t, alice))
}

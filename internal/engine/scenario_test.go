package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
)

// TestSprintLifecycleWithEscalatedDispute walks one sprint from planning to
// completion with a dispute that misses its reviewer deadline.
func TestSprintLifecycleWithEscalatedDispute(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{ID: "s1", Name: "Sprint 1", CapacityPoints: 200, RewardPool: 1000, ActorID: admin})
	require.NoError(t, err)
	res := env.advance(t, "s1")
	require.Equal(t, domain.PhaseActive, res.Sprint.Status)

	_, good := env.submittedTask(t, "s1", alice, 100)
	_, err = env.Engine.ReviewSubmission(env.Ctx, engine.ReviewOptions{SubmissionID: good.ID, Approve: true, QualityScore: 4, ActorID: reviewer})
	require.NoError(t, err)
	rejected := env.rejectedSubmission(t, "s1", bob, 50)
	d := env.fileDispute(t, rejected)

	env.advance(t, "s1")

	env.Clock.Set(t0.Add(73 * time.Hour))
	res = env.advance(t, "s1")
	require.Equal(t, domain.PhaseDisputeWindow, res.Sprint.Status)
	require.NotNil(t, res.Sweep)
	assert.Equal(t, 1, res.Sweep.EscalatedCount)
	assert.Equal(t, []string{d.ID}, res.Sweep.Escalated)

	d, err = env.Engine.GetDispute(env.Ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TierAdmin, d.Tier)
	assert.Equal(t, domain.DisputeUnderReview, d.Status)

	_, err = env.Engine.AdvanceSprintPhase(env.Ctx, "s1", engine.AdvanceOptions{ActorID: admin})
	requireConflict(t, err, engine.CodeDisputeWindowOpen)

	env.Clock.Advance(48 * time.Hour)
	_, err = env.Engine.AdvanceSprintPhase(env.Ctx, "s1", engine.AdvanceOptions{ActorID: admin})
	requireConflict(t, err, engine.CodeDisputesUnresolved)

	b, err := env.Engine.SprintBlockers(env.Ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.OpenDisputes)
	assert.False(t, b.DeadlineOpen)

	_, err = env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionOverturned, Notes: notes, ActorID: arb})
	assert.True(t, engine.IsForbidden(err), "the admin tier is reserved to admins")
	resolved, err := env.Engine.ResolveDispute(env.Ctx, engine.ResolveOptions{DisputeID: d.ID, Resolution: domain.ResolutionOverturned, Notes: notes, ActorID: admin})
	require.NoError(t, err)
	assert.True(t, resolved.Impact.TaskCompleted)

	res = env.advance(t, "s1")
	require.Equal(t, domain.PhaseSettlement, res.Sprint.Status)
	res = env.advance(t, "s1")
	require.Equal(t, domain.PhaseCompleted, res.Sprint.Status)

	require.NotNil(t, res.Snapshot)
	assert.Equal(t, 2, res.Snapshot.TasksTotal)
	assert.Equal(t, 2, res.Snapshot.TasksCompleted)
	assert.Equal(t, 100.0, res.Snapshot.CompletionRate)
	assert.Equal(t, int64(150), res.Snapshot.PointsCompleted)
	require.Len(t, res.Snapshot.Contributors, 2)
	assert.Equal(t, alice, res.Snapshot.Contributors[0].MemberID)
	assert.Equal(t, int64(90), res.Snapshot.Contributors[0].EarnedPoints)
	assert.Equal(t, int64(50), res.Snapshot.Contributors[1].EarnedPoints)

	paid := map[string]int64{}
	for _, dist := range res.Distributions {
		if dist.Type == domain.DistributionEpoch {
			assert.Equal(t, int64(1000), dist.TokenAmount)
			continue
		}
		paid[*dist.MemberID] = dist.TokenAmount
	}
	assert.Equal(t, map[string]int64{alice: 642, bob: 357}, paid)

	aliceM, err := env.Engine.GetMember(env.Ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(642), aliceM.TokenBalance)
	assert.Equal(t, int64(590), aliceM.XPTotal)
	assert.Equal(t, int64(550), env.xp(t, bob))
	assert.Equal(t, int64(175), env.xp(t, reviewer))

	_, err = env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{ID: "s2", Name: "Sprint 2", ActorID: admin})
	require.NoError(t, err)
	_, err = env.Engine.StartSprint(env.Ctx, "s2", admin)
	require.NoError(t, err)
}

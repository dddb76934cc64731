package engine_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/events"
)

// votingProposal seeds two token holders and opens voting on a proposal.
func (env testEnv) votingProposal(t *testing.T, id string) domain.Proposal {
	t.Helper()
	for _, h := range []engine.MemberCreateOptions{
		{ID: "whale", DisplayName: "Whale", TokenBalance: 100},
		{ID: "minnow", DisplayName: "Minnow", TokenBalance: 50},
	} {
		h.ActorID = admin
		_, err := env.Engine.CreateMember(env.Ctx, h)
		require.NoError(t, err)
	}
	return env.openProposal(t, id)
}

func (env testEnv) openProposal(t *testing.T, id string) domain.Proposal {
	t.Helper()
	_, err := env.Engine.CreateProposal(env.Ctx, engine.ProposalCreateOptions{ID: id, Title: "Fund the docs bounty", ActorID: alice})
	require.NoError(t, err)
	p, err := env.Engine.StartVoting(env.Ctx, id, 0, admin)
	require.NoError(t, err)
	require.Equal(t, domain.ProposalVoting, p.Status)
	return p
}

func TestVotingUsesSnapshotPower(t *testing.T) {
	env := newTestEnv(t)
	p := env.votingProposal(t, "p1")
	assert.Equal(t, int64(150), p.TotalSnapshotPower)
	require.NotNil(t, p.VotingEndsAt)
	assert.True(t, t0.Add(5*24*time.Hour).Equal(*p.VotingEndsAt))

	_, err := env.Engine.StartVoting(env.Ctx, "p1", 0, admin)
	requireConflict(t, err, engine.CodeInvalidStatus)

	v, err := env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{ProposalID: "p1", Value: domain.VoteFor, ActorID: "whale"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), v.Weight)
	_, err = env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{ProposalID: "p1", Value: domain.VoteFor, ActorID: alice})
	assert.True(t, engine.IsValidation(err), "no balance at snapshot time")
	_, err = env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{ProposalID: "p1", Value: "maybe", ActorID: "minnow"})
	assert.True(t, engine.IsValidation(err))

	// A vote may be changed while voting is open.
	_, err = env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{ProposalID: "p1", Value: domain.VoteAgainst, ActorID: "whale"})
	require.NoError(t, err)
	votes, err := env.Engine.ListVotes(env.Ctx, "p1")
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, domain.VoteAgainst, votes[0].Value)

	holders, err := env.Engine.ListHolderSnapshot(env.Ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, holders, 2)

	env.Clock.Advance(5*24*time.Hour + time.Second)
	_, err = env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{ProposalID: "p1", Value: domain.VoteFor, ActorID: "minnow"})
	requireConflict(t, err, engine.CodeVotingClosed)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.votingProposal(t, "p1")
	_, err := env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{ProposalID: "p1", Value: domain.VoteFor, ActorID: "whale"})
	require.NoError(t, err)
	_, err = env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{ProposalID: "p1", Value: domain.VoteAgainst, ActorID: "minnow"})
	require.NoError(t, err)

	_, err = env.Engine.FinalizeProposal(env.Ctx, "p1", "k1", engine.FinalizeOptions{ActorID: admin})
	requireConflict(t, err, engine.CodeVotingOpen)
	_, err = env.Engine.FinalizeProposal(env.Ctx, "p1", "k1", engine.FinalizeOptions{Early: true, ActorID: reviewer})
	assert.True(t, engine.IsForbidden(err))

	env.Clock.Advance(5*24*time.Hour + time.Second)

	var fresh, dupes atomic.Int32
	var g errgroup.Group
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			res, err := env.Engine.FinalizeProposal(env.Ctx, "p1", "k1", engine.FinalizeOptions{ActorID: admin})
			if err != nil {
				return err
			}
			if res.Idempotency.AlreadyFinalized {
				dupes.Add(1)
			} else {
				fresh.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), fresh.Load())
	assert.Equal(t, int32(2), dupes.Load())

	p, err := env.Engine.GetProposal(env.Ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalFinalized, p.Status)
	assert.Equal(t, engine.ResultPassed, p.Result)
	assert.Equal(t, int64(100), p.VotesFor)
	assert.Equal(t, int64(50), p.VotesAgainst)
	assert.Equal(t, "k1", p.FinalizeDedupeKey)

	// A different key on a finalized proposal reports the original key.
	res, err := env.Engine.FinalizeProposal(env.Ctx, "p1", "k2", engine.FinalizeOptions{ActorID: admin})
	require.NoError(t, err)
	assert.True(t, res.Idempotency.AlreadyFinalized)
	assert.Equal(t, "k1", res.Idempotency.DedupeKey)

	evts, err := env.Engine.Events.List(env.Ctx, events.Filter{EntityID: "p1", Type: "proposal.finalized"})
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestFinalizeKeyBelongsToOneProposal(t *testing.T) {
	env := newTestEnv(t)
	env.votingProposal(t, "p1")
	env.openProposal(t, "p2")
	env.Clock.Advance(6 * 24 * time.Hour)

	_, err := env.Engine.FinalizeProposal(env.Ctx, "p1", "shared", engine.FinalizeOptions{ActorID: admin})
	require.NoError(t, err)
	_, err = env.Engine.FinalizeProposal(env.Ctx, "p2", "shared", engine.FinalizeOptions{ActorID: admin})
	assert.True(t, engine.IsValidation(err))

	p, err := env.Engine.GetProposal(env.Ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, engine.ResultQuorumNotMet, p.Result)
}

func TestFinalizeFreezesAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	// Nobody holds tokens, so the snapshot is empty and finalize fails.
	env.openProposal(t, "p1")
	env.Clock.Advance(6 * 24 * time.Hour)

	_, err := env.Engine.FinalizeProposal(env.Ctx, "p1", "a", engine.FinalizeOptions{ActorID: admin})
	require.Error(t, err)
	assert.False(t, engine.IsFrozen(err))
	p, err := env.Engine.GetProposal(env.Ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.FinalizationFailureCount)
	assert.NotEmpty(t, p.FinalizationLastError)
	assert.Nil(t, p.FinalizationFrozenAt)

	_, err = env.Engine.FinalizeProposal(env.Ctx, "p1", "b", engine.FinalizeOptions{ActorID: admin})
	require.Error(t, err)
	p, err = env.Engine.GetProposal(env.Ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, p.FinalizationFailureCount)
	require.NotNil(t, p.FinalizationFrozenAt)

	_, err = env.Engine.FinalizeProposal(env.Ctx, "p1", "c", engine.FinalizeOptions{ActorID: admin})
	assert.True(t, engine.IsFrozen(err))
	p, err = env.Engine.GetProposal(env.Ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalVoting, p.Status)
	assert.Equal(t, 2, p.FinalizationFailureCount)

	due, err := env.Engine.FinalizeDueProposals(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, due.Finalized)
	assert.Empty(t, due.Failed)

	_, err = env.Engine.UnfreezeProposal(env.Ctx, "p1", reviewer)
	assert.True(t, engine.IsForbidden(err))
	p, err = env.Engine.UnfreezeProposal(env.Ctx, "p1", admin)
	require.NoError(t, err)
	assert.Nil(t, p.FinalizationFrozenAt)
	assert.Zero(t, p.FinalizationFailureCount)
	_, err = env.Engine.UnfreezeProposal(env.Ctx, "p1", admin)
	requireConflict(t, err, engine.CodeInvalidStatus)
}

func TestFinalizeDueProposals(t *testing.T) {
	env := newTestEnv(t)
	env.votingProposal(t, "p1")
	_, err := env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{ProposalID: "p1", Value: domain.VoteFor, ActorID: "minnow"})
	require.NoError(t, err)

	due, err := env.Engine.FinalizeDueProposals(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, due.Finalized)

	env.Clock.Advance(6 * 24 * time.Hour)
	due, err = env.Engine.FinalizeDueProposals(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, due.Finalized)

	p, err := env.Engine.GetProposal(env.Ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, engine.ResultPassed, p.Result)
	assert.Equal(t, "auto:p1", p.FinalizeDedupeKey)

	due, err = env.Engine.FinalizeDueProposals(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, due.Finalized)
}

func TestEarlyFinalizeNeedsAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.votingProposal(t, "p1")
	_, err := env.Engine.CastVote(env.Ctx, engine.CastVoteOptions{ProposalID: "p1", Value: domain.VoteFor, ActorID: "whale"})
	require.NoError(t, err)

	res, err := env.Engine.FinalizeProposal(env.Ctx, "p1", "early", engine.FinalizeOptions{Early: true, ActorID: admin})
	require.NoError(t, err)
	assert.Equal(t, engine.ResultPassed, res.Proposal.Result)
	assert.False(t, res.Idempotency.AlreadyFinalized)
}

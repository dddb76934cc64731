package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

func TestComputeBlockers(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)

	cases := []struct {
		name   string
		sprint domain.Sprint
		counts repo.SprintTaskCounts
		want   domain.SprintBlockers
	}{
		{
			name:   "active before end",
			sprint: domain.Sprint{ID: "s", Status: domain.PhaseActive, EndAt: &later, RewardSettlementStatus: domain.SettlementPending},
			counts: repo.SprintTaskCounts{Total: 3, Done: 1, Unassigned: 1},
			want:   domain.SprintBlockers{SprintID: "s", Status: domain.PhaseActive, HasUnassignedTasks: true, HasIncompleteTasks: true, DeadlineOpen: true},
		},
		{
			name:   "review after end",
			sprint: domain.Sprint{ID: "s", Status: domain.PhaseReview, EndAt: &earlier},
			counts: repo.SprintTaskCounts{Total: 2, Done: 2},
			want:   domain.SprintBlockers{SprintID: "s", Status: domain.PhaseReview},
		},
		{
			name:   "dispute window without end stays open",
			sprint: domain.Sprint{ID: "s", Status: domain.PhaseDisputeWindow},
			want:   domain.SprintBlockers{SprintID: "s", Status: domain.PhaseDisputeWindow, DeadlineOpen: true},
		},
		{
			name:   "dispute window elapsed",
			sprint: domain.Sprint{ID: "s", Status: domain.PhaseDisputeWindow, DisputeWindowEndsAt: &now},
			want:   domain.SprintBlockers{SprintID: "s", Status: domain.PhaseDisputeWindow},
		},
		{
			name:   "held settlement",
			sprint: domain.Sprint{ID: "s", Status: domain.PhaseSettlement, RewardSettlementStatus: domain.SettlementHeld},
			want:   domain.SprintBlockers{SprintID: "s", Status: domain.PhaseSettlement, SettlementBlocked: true},
		},
		{
			name:   "killed settlement",
			sprint: domain.Sprint{ID: "s", Status: domain.PhaseSettlement, RewardSettlementStatus: domain.SettlementKilled},
			want:   domain.SprintBlockers{SprintID: "s", Status: domain.PhaseSettlement, SettlementBlocked: true},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, computeBlockers(tc.sprint, tc.counts, 0, now))
		})
	}
}

func TestCompletionRate(t *testing.T) {
	assert.Equal(t, 0.0, completionRate(0, 0))
	assert.Equal(t, 33.33, completionRate(1, 3))
	assert.Equal(t, 66.67, completionRate(2, 3))
	assert.Equal(t, 100.0, completionRate(4, 4))
}

func TestDecideResult(t *testing.T) {
	cases := []struct {
		name  string
		tally repo.Tally
		total int64
		want  string
	}{
		{"below quorum", repo.Tally{For: 9}, 100, ResultQuorumNotMet},
		{"quorum exactly", repo.Tally{For: 10}, 100, ResultPassed},
		{"abstain counts toward quorum", repo.Tally{Abstain: 20}, 100, ResultFailed},
		{"tie fails", repo.Tally{For: 10, Against: 10}, 100, ResultFailed},
		{"majority passes", repo.Tally{For: 11, Against: 10}, 100, ResultPassed},
		{"majority against", repo.Tally{For: 5, Against: 30, Abstain: 50}, 100, ResultFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, decideResult(tc.tally, tc.total, 10, 50))
		})
	}
}

func TestPhaseTransitions(t *testing.T) {
	assert.NoError(t, ensurePhaseTransition(domain.PhasePlanning, domain.PhaseActive))
	assert.NoError(t, ensurePhaseTransition(domain.PhaseSettlement, domain.PhaseCompleted))
	assert.True(t, IsConflict(ensurePhaseTransition(domain.PhaseActive, domain.PhaseDisputeWindow), CodeInvalidPhaseTransition))
	assert.True(t, IsConflict(ensurePhaseTransition(domain.PhaseReview, domain.PhaseActive), CodeInvalidPhaseTransition))
	assert.True(t, IsConflict(ensurePhaseTransition(domain.PhaseCompleted, domain.PhaseActive), CodeSprintCompleted))
}

func TestTaskTransitions(t *testing.T) {
	assert.NoError(t, ensureTaskTransition(domain.TaskBacklog, domain.TaskTodo))
	assert.NoError(t, ensureTaskTransition(domain.TaskReview, domain.TaskInProgress))
	assert.True(t, IsValidation(ensureTaskTransition(domain.TaskBacklog, domain.TaskDone)))
	assert.True(t, IsValidation(ensureTaskTransition(domain.TaskDone, domain.TaskReview)))
}

func TestWindowClosed(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	ends := now.Add(time.Minute)
	assert.False(t, windowClosed(domain.Sprint{Status: domain.PhaseActive}, now))
	assert.False(t, windowClosed(domain.Sprint{Status: domain.PhaseDisputeWindow, DisputeWindowEndsAt: &ends}, now))
	assert.True(t, windowClosed(domain.Sprint{Status: domain.PhaseDisputeWindow, DisputeWindowEndsAt: &now}, now))
	assert.True(t, windowClosed(domain.Sprint{Status: domain.PhaseSettlement}, now))
}

func TestCanResolve(t *testing.T) {
	arb := "arb"
	council := domain.Member{ID: "c", Role: domain.RoleCouncil}
	admin := domain.Member{ID: "a", Role: domain.RoleAdmin}

	assert.True(t, canResolve(domain.Dispute{Tier: domain.TierCouncil}, council))
	assert.False(t, canResolve(domain.Dispute{Tier: domain.TierAdmin}, council))
	assert.False(t, canResolve(domain.Dispute{Tier: domain.TierCouncil, ArbitratorID: &arb}, council))
	assert.True(t, canResolve(domain.Dispute{Tier: domain.TierCouncil, ArbitratorID: &arb}, admin))
	assert.False(t, canResolve(domain.Dispute{Tier: domain.TierMediation}, domain.Member{ID: "m", Role: domain.RoleMember}))
}

func TestArbitrationStatus(t *testing.T) {
	at := time.Now()
	assert.Equal(t, domain.DisputeAwaitingResponse, arbitrationStatus(domain.Dispute{Status: domain.DisputeOpen}))
	assert.Equal(t, domain.DisputeUnderReview, arbitrationStatus(domain.Dispute{Status: domain.DisputeMediation, ResponseSubmittedAt: &at}))
	assert.Equal(t, domain.DisputeAppealReview, arbitrationStatus(domain.Dispute{Status: domain.DisputeAppealed}))
}

package engine_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/FCisco95/organic-app-sub000/internal/clock"
	"github.com/FCisco95/organic-app-sub000/internal/config"
	"github.com/FCisco95/organic-app-sub000/internal/db"
	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/migrate"
)

var t0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

// Seeded members.
const (
	admin    = "admin"
	reviewer = "rev"
	arb      = "arb"
	arb2     = "arb2"
	alice    = "alice"
	bob      = "bob"
)

type testEnv struct {
	Engine engine.Engine
	Clock  *clock.Manual
	Ctx    context.Context
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default("org-1")
	for _, m := range mutate {
		m(cfg)
	}
	require.NoError(t, cfg.Validate())

	eng := engine.New(conn, cfg)
	clk := clock.NewManual(t0)
	eng.Clock = clk
	eng.Logger = slog.New(slog.DiscardHandler)
	env := testEnv{Engine: eng, Clock: clk, Ctx: context.Background()}

	_, err = eng.CreateMember(env.Ctx, engine.MemberCreateOptions{ID: admin, DisplayName: "Admin", Role: domain.RoleAdmin})
	require.NoError(t, err)
	for _, m := range []engine.MemberCreateOptions{
		{ID: reviewer, DisplayName: "Reviewer", Role: domain.RoleCouncil, XP: 200},
		{ID: arb, DisplayName: "Arbiter", Role: domain.RoleCouncil},
		{ID: arb2, DisplayName: "Second Arbiter", Role: domain.RoleCouncil},
		{ID: alice, DisplayName: "Alice", Role: domain.RoleMember, XP: 500},
		{ID: bob, DisplayName: "Bob", Role: domain.RoleMember, XP: 500},
	} {
		m.ActorID = admin
		_, err := eng.CreateMember(env.Ctx, m)
		require.NoError(t, err)
	}
	return env
}

func (env testEnv) xp(t *testing.T, id string) int64 {
	t.Helper()
	m, err := env.Engine.GetMember(env.Ctx, id)
	require.NoError(t, err)
	return m.XPTotal
}

// activeSprint creates and starts a sprint.
func (env testEnv) activeSprint(t *testing.T, id string, pool int64) domain.Sprint {
	t.Helper()
	_, err := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{
		ID: id, Name: "Sprint " + id, CapacityPoints: 200, RewardPool: pool, ActorID: admin,
	})
	require.NoError(t, err)
	s, err := env.Engine.StartSprint(env.Ctx, id, admin)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseActive, s.Status)
	return s
}

func (env testEnv) advance(t *testing.T, id string) engine.AdvanceResult {
	t.Helper()
	res, err := env.Engine.AdvanceSprintPhase(env.Ctx, id, engine.AdvanceOptions{ActorID: admin})
	require.NoError(t, err)
	return res
}

// toSettlement walks an active sprint through review and the dispute window.
func (env testEnv) toSettlement(t *testing.T, id string) {
	t.Helper()
	env.advance(t, id)
	res := env.advance(t, id)
	require.NotNil(t, res.Sprint.DisputeWindowEndsAt)
	env.Clock.Set(*res.Sprint.DisputeWindowEndsAt)
	res = env.advance(t, id)
	require.Equal(t, domain.PhaseSettlement, res.Sprint.Status)
}

// submittedTask creates a task in the sprint for owner and submits work on
// it, leaving it in review.
func (env testEnv) submittedTask(t *testing.T, sprintID, owner string, points int64) (domain.Task, domain.Submission) {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		SprintID: sprintID, Title: "work for " + owner, Points: points, AssigneeID: owner, ActorID: admin,
	})
	require.NoError(t, err)
	_, err = env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.TaskInProgress, owner)
	require.NoError(t, err)
	sub, err := env.Engine.SubmitWork(env.Ctx, engine.SubmitWorkOptions{TaskID: task.ID, Content: "https://example.org/pr/1", ActorID: owner})
	require.NoError(t, err)
	return task, sub
}

// rejectedSubmission returns a submission the reviewer rejected.
func (env testEnv) rejectedSubmission(t *testing.T, sprintID, owner string, points int64) domain.Submission {
	t.Helper()
	_, sub := env.submittedTask(t, sprintID, owner, points)
	sub, err := env.Engine.ReviewSubmission(env.Ctx, engine.ReviewOptions{SubmissionID: sub.ID, Approve: false, ActorID: reviewer})
	require.NoError(t, err)
	require.Equal(t, domain.ReviewRejected, sub.ReviewStatus)
	return sub
}

func (env testEnv) fileDispute(t *testing.T, sub domain.Submission) domain.Dispute {
	t.Helper()
	d, err := env.Engine.FileDispute(env.Ctx, engine.FileDisputeOptions{
		SubmissionID: sub.ID, Reason: "rejected_unfairly", EvidenceText: "tests pass", ActorID: sub.SubmitterID,
	})
	require.NoError(t, err)
	return d
}

func requireConflict(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, engine.IsConflict(err, code), "expected conflict %s, got %v", code, err)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FCisco95/organic-app-sub000/internal/clock"
	"github.com/FCisco95/organic-app-sub000/internal/config"
	"github.com/FCisco95/organic-app-sub000/internal/db"
	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/migrate"
)

var t0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	Clock  *clock.Manual
	client *http.Client
}

func newTestServer(t *testing.T, authCfg AuthConfig) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default("org-1")
	e := engine.New(conn, cfg)
	clk := clock.NewManual(t0)
	e.Clock = clk
	logger := slog.New(slog.DiscardHandler)
	e.Logger = logger

	ctx := context.Background()
	_, err = e.CreateMember(ctx, engine.MemberCreateOptions{ID: "admin", DisplayName: "Admin", Role: domain.RoleAdmin})
	require.NoError(t, err)
	for _, m := range []engine.MemberCreateOptions{
		{ID: "rev", DisplayName: "Reviewer", Role: domain.RoleCouncil},
		{ID: "alice", DisplayName: "Alice", XP: 500, TokenBalance: 100},
		{ID: "bob", DisplayName: "Bob", XP: 500, TokenBalance: 50},
	} {
		m.ActorID = "admin"
		_, err := e.CreateMember(ctx, m)
		require.NoError(t, err)
	}

	if authCfg.JWTSecret == "" {
		authCfg.JWTSecret = testSecret
	}
	handler, err := New(Config{Engines: StaticEngine(e), Auth: authCfg, Logger: logger})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String() + "/v1", Engine: e, Clock: clk, client: &http.Client{}}
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func TestHealthIsOpenAndAPIRequiresAuth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowActorHeader: true})

	status, _ := srv.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status, data := srv.do(t, http.MethodGet, "/members", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", decode[errorEnvelope](t, data).Error.Code)

	status, data = srv.do(t, http.MethodGet, "/members", nil, as("ghost"))
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", decode[errorEnvelope](t, data).Error.Code)

	status, data = srv.do(t, http.MethodGet, "/members", nil, as("alice"))
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]domain.Member](t, data), 4)
}

func TestActorHeaderIgnoredUnlessAllowed(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	status, _ := srv.do(t, http.MethodGet, "/members", nil, as("admin"))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestBearerTokens(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})

	token, err := SignToken(testSecret, "alice", time.Hour)
	require.NoError(t, err)
	status, data := srv.do(t, http.MethodGet, "/members/alice", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, "Alice", decode[domain.Member](t, data).DisplayName)

	forged, err := SignToken("other-secret", "admin", time.Hour)
	require.NoError(t, err)
	status, data = srv.do(t, http.MethodGet, "/members", nil, map[string]string{"Authorization": "Bearer " + forged})
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", decode[errorEnvelope](t, data).Error.Code)

	status, _ = srv.do(t, http.MethodGet, "/members", nil, map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestDevLogin(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	status, _ := srv.do(t, http.MethodPost, "/auth/dev/login", map[string]any{"member_id": "bob"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	srv = newTestServer(t, AuthConfig{DevLogin: true})
	status, data := srv.do(t, http.MethodPost, "/auth/dev/login", map[string]any{"member_id": "bob"}, nil)
	require.Equal(t, http.StatusOK, status, string(data))
	token := decode[DevLoginResponse](t, data).Token
	require.NotEmpty(t, token)

	status, data = srv.do(t, http.MethodGet, "/members/bob", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, status, string(data))
}

func TestSprintPhasesOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowActorHeader: true})

	status, data := srv.do(t, http.MethodPost, "/sprints", map[string]any{"id": "s1", "name": "Sprint 1", "reward_pool": 500}, as("admin"))
	require.Equal(t, http.StatusCreated, status, string(data))
	assert.Equal(t, domain.PhasePlanning, decode[domain.Sprint](t, data).Status)

	status, data = srv.do(t, http.MethodPost, "/sprints/s1/start", nil, as("admin"))
	require.Equal(t, http.StatusOK, status, string(data))

	status, data = srv.do(t, http.MethodPost, "/sprints", map[string]any{"id": "s2", "name": "Sprint 2"}, as("admin"))
	require.Equal(t, http.StatusCreated, status, string(data))
	status, data = srv.do(t, http.MethodPost, "/sprints/s2/start", nil, as("admin"))
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ACTIVE_SPRINT_EXISTS", decode[errorEnvelope](t, data).Error.Code)

	status, data = srv.do(t, http.MethodPost, "/sprints/s1/advance", nil, as("admin"))
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, domain.PhaseReview, decode[engine.AdvanceResult](t, data).Sprint.Status)

	status, data = srv.do(t, http.MethodPost, "/sprints/s1/advance", nil, as("admin"))
	require.Equal(t, http.StatusOK, status, string(data))
	windowEnds := decode[engine.AdvanceResult](t, data).Sprint.DisputeWindowEndsAt
	require.NotNil(t, windowEnds)

	status, data = srv.do(t, http.MethodPost, "/sprints/s1/advance", nil, as("admin"))
	require.Equal(t, http.StatusConflict, status)
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, "DISPUTE_WINDOW_OPEN", env.Error.Code)
	assert.Equal(t, "s1", env.Error.Details["sprint_id"])

	status, data = srv.do(t, http.MethodGet, "/sprints/s1/blockers", nil, as("alice"))
	require.Equal(t, http.StatusOK, status, string(data))
	assert.True(t, decode[domain.SprintBlockers](t, data).DeadlineOpen)

	srv.Clock.Set(*windowEnds)
	status, data = srv.do(t, http.MethodPost, "/sprints/s1/advance", map[string]any{}, as("admin"))
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, domain.PhaseSettlement, decode[engine.AdvanceResult](t, data).Sprint.Status)

	status, data = srv.do(t, http.MethodGet, "/sprints/s1/settlement", nil, as("alice"))
	require.Equal(t, http.StatusOK, status, string(data))
	check := decode[engine.SettlementCheck](t, data)
	assert.Empty(t, check.Code)
	assert.False(t, check.Killed)

	status, data = srv.do(t, http.MethodGet, "/sprints?status=settlement", nil, as("alice"))
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Len(t, decode[[]domain.Sprint](t, data), 1)
}

func TestErrorEnvelopeStatuses(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowActorHeader: true})

	status, data := srv.do(t, http.MethodPost, "/sprints", map[string]any{"name": "Nope"}, as("alice"))
	require.Equal(t, http.StatusForbidden, status)
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Equal(t, "sprint.manage", env.Error.Details["permission"])

	status, data = srv.do(t, http.MethodGet, "/sprints/missing", nil, as("alice"))
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", decode[errorEnvelope](t, data).Error.Code)

	status, data = srv.do(t, http.MethodPost, "/members", map[string]any{"display_name": "   "}, as("admin"))
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", decode[errorEnvelope](t, data).Error.Code)

	status, _ = srv.do(t, http.MethodPost, "/sprints", map[string]any{}, as("admin"))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHandleErrorMapping(t *testing.T) {
	a := api{log: slog.New(slog.DiscardHandler)}
	frozenAt := t0.Add(time.Hour)
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"frozen", &engine.FrozenError{ProposalID: "p1", FrozenAt: frozenAt}, http.StatusLocked, "FINALIZATION_FROZEN"},
		{"wrapped conflict", errors.Join(errors.New("ctx"), &engine.ConflictError{Code: "VOTING_OPEN", Message: "voting is still open"}), http.StatusConflict, "VOTING_OPEN"},
		{"validation", &engine.ValidationError{Reason: "bad"}, http.StatusBadRequest, "validation_failed"},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			se := a.handleError(tc.err)
			require.NotNil(t, se)
			assert.Equal(t, tc.status, se.GetStatus())
			ae, ok := se.(*apiError)
			require.True(t, ok)
			assert.Equal(t, tc.code, ae.Body.Code)
		})
	}
	assert.Nil(t, a.handleError(nil))
}

func TestDisputeOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowActorHeader: true})

	status, data := srv.do(t, http.MethodPost, "/sprints", map[string]any{"id": "s1", "name": "Sprint 1"}, as("admin"))
	require.Equal(t, http.StatusCreated, status, string(data))
	status, _ = srv.do(t, http.MethodPost, "/sprints/s1/start", nil, as("admin"))
	require.Equal(t, http.StatusOK, status)

	status, data = srv.do(t, http.MethodPost, "/tasks", map[string]any{
		"id": "t1", "sprint_id": "s1", "title": "Write docs", "points": 30, "assignee_id": "bob",
	}, as("admin"))
	require.Equal(t, http.StatusCreated, status, string(data))
	status, data = srv.do(t, http.MethodPut, "/tasks/t1/status", map[string]any{"status": "in_progress"}, as("bob"))
	require.Equal(t, http.StatusOK, status, string(data))
	status, data = srv.do(t, http.MethodPost, "/tasks/t1/submissions", map[string]any{"id": "sub1", "content": "https://example.org/pr/7"}, as("bob"))
	require.Equal(t, http.StatusCreated, status, string(data))
	status, data = srv.do(t, http.MethodPost, "/submissions/sub1/review", map[string]any{"approve": false}, as("rev"))
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, domain.ReviewRejected, decode[domain.Submission](t, data).ReviewStatus)

	status, data = srv.do(t, http.MethodPost, "/disputes", map[string]any{
		"id": "d1", "submission_id": "sub1", "reason": "rejected_unfairly", "evidence_text": "tests pass",
	}, as("alice"))
	require.Equal(t, http.StatusForbidden, status, string(data))

	status, data = srv.do(t, http.MethodPost, "/disputes", map[string]any{
		"id": "d1", "submission_id": "sub1", "reason": "rejected_unfairly", "evidence_text": "tests pass",
	}, as("bob"))
	require.Equal(t, http.StatusCreated, status, string(data))

	status, data = srv.do(t, http.MethodGet, "/disputes/d1", nil, as("alice"))
	require.Equal(t, http.StatusOK, status, string(data))
	got := decode[DisputeResponse](t, data)
	assert.Equal(t, domain.DisputeOpen, got.Status)
	assert.Equal(t, clock.OnTrack, got.Urgency)

	status, data = srv.do(t, http.MethodPost, "/disputes/d1/evidence", map[string]any{
		"file_name": "run.txt", "mime_type": "text/plain", "size_bytes": 120,
	}, as("bob"))
	require.Equal(t, http.StatusCreated, status, string(data))
	assert.False(t, decode[domain.EvidenceEvent](t, data).IsLate)

	status, data = srv.do(t, http.MethodPost, "/disputes/d1/respond", map[string]any{"text": "missing tests"}, as("rev"))
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, domain.DisputeUnderReview, decode[DisputeResponse](t, data).Status)

	status, data = srv.do(t, http.MethodPost, "/disputes/d1/respond", map[string]any{"text": "again"}, as("rev"))
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "RESPONSE_ALREADY_SUBMITTED", decode[errorEnvelope](t, data).Error.Code)

	status, data = srv.do(t, http.MethodGet, "/disputes?participant_id=bob", nil, as("bob"))
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Len(t, decode[[]DisputeResponse](t, data), 1)

	status, _ = srv.do(t, http.MethodPost, "/disputes/sweep-sla", nil, as("bob"))
	assert.Equal(t, http.StatusForbidden, status)
	status, data = srv.do(t, http.MethodPost, "/disputes/sweep-sla", nil, as("admin"))
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Zero(t, decode[engine.SweepResult](t, data).EscalatedCount)
}

func TestFinalizeWithIdempotencyKey(t *testing.T) {
	srv := newTestServer(t, AuthConfig{AllowActorHeader: true})

	status, data := srv.do(t, http.MethodPost, "/proposals", map[string]any{"id": "p1", "title": "Fund docs"}, as("admin"))
	require.Equal(t, http.StatusCreated, status, string(data))
	status, data = srv.do(t, http.MethodPost, "/proposals/p1/voting", nil, as("admin"))
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, domain.ProposalVoting, decode[domain.Proposal](t, data).Status)

	status, data = srv.do(t, http.MethodPost, "/proposals/p1/votes", map[string]any{"value": "for"}, as("alice"))
	require.Equal(t, http.StatusOK, status, string(data))
	assert.Equal(t, int64(100), decode[domain.Vote](t, data).Weight)

	status, data = srv.do(t, http.MethodPost, "/proposals/p1/finalize", nil, map[string]string{"X-Actor-Id": "admin", "Idempotency-Key": "k1"})
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "VOTING_OPEN", decode[errorEnvelope](t, data).Error.Code)

	srv.Clock.Advance(6 * 24 * time.Hour)
	status, data = srv.do(t, http.MethodPost, "/proposals/p1/finalize", nil, map[string]string{"X-Actor-Id": "admin", "Idempotency-Key": "k1"})
	require.Equal(t, http.StatusOK, status, string(data))
	first := decode[engine.FinalizeResult](t, data)
	assert.False(t, first.Idempotency.AlreadyFinalized)
	assert.Equal(t, domain.ProposalFinalized, first.Proposal.Status)

	status, data = srv.do(t, http.MethodPost, "/proposals/p1/finalize", map[string]any{"dedupe_key": "k1"}, as("admin"))
	require.Equal(t, http.StatusOK, status, string(data))
	second := decode[engine.FinalizeResult](t, data)
	assert.True(t, second.Idempotency.AlreadyFinalized)
	assert.Equal(t, first.Proposal.Result, second.Proposal.Result)

	status, data = srv.do(t, http.MethodGet, "/proposals/p1/holders", nil, as("bob"))
	require.Equal(t, http.StatusOK, status, string(data))
	assert.NotEmpty(t, decode[[]domain.HolderSnapshot](t, data))
}

func TestConfigHidesWebhookSecrets(t *testing.T) {
	cfg := config.Default("org-1")
	cfg.Webhooks = []config.WebhookConfig{{URL: "https://hooks.example.org/x", Secret: "shh"}}
	out, err := configMap(cfg)
	require.NoError(t, err)
	hooks, ok := out["webhooks"].([]any)
	require.True(t, ok)
	require.Len(t, hooks, 1)
	_, hasSecret := hooks[0].(map[string]any)["secret"]
	assert.False(t, hasSecret)
	assert.Equal(t, "shh", cfg.Webhooks[0].Secret)
}

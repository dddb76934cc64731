package organicsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
)

// Client is a minimal Organic HTTP API client.
type Client struct {
	// BaseURL includes the API base path, e.g. http://127.0.0.1:8080/v1.
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set. Servers accept it
	// only with --allow-actor-header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type AdvanceResult struct {
	Sprint        domain.Sprint               `json:"sprint"`
	Snapshot      *domain.SprintSnapshot      `json:"snapshot,omitempty"`
	Distributions []domain.RewardDistribution `json:"distributions,omitempty"`
}

type SettlementCheck struct {
	Cap struct {
		Cap        int64 `json:"cap"`
		RewardPool int64 `json:"reward_pool"`
	} `json:"cap"`
	Killed      bool   `json:"killed"`
	EpochExists bool   `json:"epoch_exists"`
	Code        string `json:"code,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type Dispute struct {
	domain.Dispute
	Urgency string `json:"urgency"`
}

type FinalizeResult struct {
	Proposal    domain.Proposal `json:"proposal"`
	Idempotency struct {
		AlreadyFinalized bool   `json:"already_finalized"`
		DedupeKey        string `json:"dedupe_key"`
	} `json:"idempotency"`
}

func (c *Client) CreateMember(ctx context.Context, id, displayName, role string) (domain.Member, error) {
	body := map[string]any{"id": id, "display_name": displayName}
	if role != "" {
		body["role"] = role
	}
	var resp domain.Member
	err := c.do(ctx, http.MethodPost, "members", body, nil, &resp)
	return resp, err
}

func (c *Client) GetMember(ctx context.Context, id string) (domain.Member, error) {
	var resp domain.Member
	err := c.do(ctx, http.MethodGet, "members/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) CreateSprint(ctx context.Context, id, name string, rewardPool int64) (domain.Sprint, error) {
	var resp domain.Sprint
	err := c.do(ctx, http.MethodPost, "sprints", map[string]any{"id": id, "name": name, "reward_pool": rewardPool}, nil, &resp)
	return resp, err
}

func (c *Client) StartSprint(ctx context.Context, id string) (domain.Sprint, error) {
	var resp domain.Sprint
	err := c.do(ctx, http.MethodPost, "sprints/"+url.PathEscape(id)+"/start", nil, nil, &resp)
	return resp, err
}

// AdvanceSprint moves the sprint to its next phase.
func (c *Client) AdvanceSprint(ctx context.Context, id string) (AdvanceResult, error) {
	var resp AdvanceResult
	err := c.do(ctx, http.MethodPost, "sprints/"+url.PathEscape(id)+"/advance", nil, nil, &resp)
	return resp, err
}

func (c *Client) SprintBlockers(ctx context.Context, id string) (domain.SprintBlockers, error) {
	var resp domain.SprintBlockers
	err := c.do(ctx, http.MethodGet, "sprints/"+url.PathEscape(id)+"/blockers", nil, nil, &resp)
	return resp, err
}

func (c *Client) EvaluateSettlement(ctx context.Context, sprintID string) (SettlementCheck, error) {
	var resp SettlementCheck
	err := c.do(ctx, http.MethodGet, "sprints/"+url.PathEscape(sprintID)+"/settlement", nil, nil, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, sprintID, title string, points int64, assigneeID string) (domain.Task, error) {
	body := map[string]any{"title": title, "points": points}
	if sprintID != "" {
		body["sprint_id"] = sprintID
	}
	if assigneeID != "" {
		body["assignee_id"] = assigneeID
	}
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, "tasks", body, nil, &resp)
	return resp, err
}

func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPut, "tasks/"+url.PathEscape(taskID)+"/status", map[string]any{"status": status}, nil, &resp)
	return resp, err
}

func (c *Client) SubmitWork(ctx context.Context, taskID, content string) (domain.Submission, error) {
	var resp domain.Submission
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/submissions", map[string]any{"content": content}, nil, &resp)
	return resp, err
}

// ReviewSubmission approves with a 1..5 quality score, or rejects when
// approve is false.
func (c *Client) ReviewSubmission(ctx context.Context, submissionID string, approve bool, qualityScore int) (domain.Submission, error) {
	body := map[string]any{"approve": approve}
	if qualityScore > 0 {
		body["quality_score"] = qualityScore
	}
	var resp domain.Submission
	err := c.do(ctx, http.MethodPost, "submissions/"+url.PathEscape(submissionID)+"/review", body, nil, &resp)
	return resp, err
}

func (c *Client) FileDispute(ctx context.Context, submissionID, reason, evidence string) (Dispute, error) {
	var resp Dispute
	err := c.do(ctx, http.MethodPost, "disputes", map[string]any{
		"submission_id": submissionID, "reason": reason, "evidence_text": evidence,
	}, nil, &resp)
	return resp, err
}

func (c *Client) GetDispute(ctx context.Context, id string) (Dispute, error) {
	var resp Dispute
	err := c.do(ctx, http.MethodGet, "disputes/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

func (c *Client) RespondToDispute(ctx context.Context, id, text string) (Dispute, error) {
	var resp Dispute
	err := c.do(ctx, http.MethodPost, "disputes/"+url.PathEscape(id)+"/respond", map[string]any{"text": text}, nil, &resp)
	return resp, err
}

// ResolveDispute returns the resolved dispute. qualityScore is sent when
// positive.
func (c *Client) ResolveDispute(ctx context.Context, id, resolution, notes string, qualityScore int) (domain.Dispute, error) {
	body := map[string]any{"resolution": resolution, "notes": notes}
	if qualityScore > 0 {
		body["quality_score"] = qualityScore
	}
	var resp struct {
		Dispute domain.Dispute `json:"dispute"`
	}
	err := c.do(ctx, http.MethodPost, "disputes/"+url.PathEscape(id)+"/resolve", body, nil, &resp)
	return resp.Dispute, err
}

func (c *Client) CreateProposal(ctx context.Context, title, body string) (domain.Proposal, error) {
	var resp domain.Proposal
	err := c.do(ctx, http.MethodPost, "proposals", map[string]any{"title": title, "body": body}, nil, &resp)
	return resp, err
}

func (c *Client) StartVoting(ctx context.Context, proposalID string, days int) (domain.Proposal, error) {
	var resp domain.Proposal
	err := c.do(ctx, http.MethodPost, "proposals/"+url.PathEscape(proposalID)+"/voting", map[string]any{"days": days}, nil, &resp)
	return resp, err
}

func (c *Client) CastVote(ctx context.Context, proposalID, value string) (domain.Vote, error) {
	var resp domain.Vote
	err := c.do(ctx, http.MethodPost, "proposals/"+url.PathEscape(proposalID)+"/votes", map[string]any{"value": value}, nil, &resp)
	return resp, err
}

// FinalizeProposal sends dedupeKey as the Idempotency-Key header, so a
// retried call reports AlreadyFinalized instead of tallying twice.
func (c *Client) FinalizeProposal(ctx context.Context, proposalID, dedupeKey string, early bool) (FinalizeResult, error) {
	var resp FinalizeResult
	headers := map[string]string{"Idempotency-Key": dedupeKey}
	err := c.do(ctx, http.MethodPost, "proposals/"+url.PathEscape(proposalID)+"/finalize", map[string]any{"early": early}, headers, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]domain.Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("events?limit=%d", limit)
	}
	var resp []domain.Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, headers map[string]string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

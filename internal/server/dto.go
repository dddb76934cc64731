package server

import (
	"time"

	"github.com/FCisco95/organic-app-sub000/internal/clock"
	"github.com/FCisco95/organic-app-sub000/internal/domain"
)

type CreateMemberRequest struct {
	ID           string `json:"id,omitempty"`
	DisplayName  string `json:"display_name" minLength:"1"`
	Role         string `json:"role,omitempty" enum:"member,council,admin"`
	XP           int64  `json:"xp,omitempty"`
	TokenBalance int64  `json:"token_balance,omitempty"`
}

type SetRoleRequest struct {
	Role string `json:"role" enum:"member,council,admin"`
}

type GrantXPRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason" minLength:"1"`
}

type CreateSprintRequest struct {
	ID             string     `json:"id,omitempty"`
	Name           string     `json:"name" minLength:"1"`
	Goal           string     `json:"goal,omitempty"`
	CapacityPoints int64      `json:"capacity_points,omitempty"`
	RewardPool     int64      `json:"reward_pool,omitempty"`
	StartAt        *time.Time `json:"start_at,omitempty"`
	EndAt          *time.Time `json:"end_at,omitempty"`
}

type AdvanceRequest struct {
	Target           string `json:"target,omitempty" enum:"active,review,dispute_window,settlement,completed"`
	IncompleteAction string `json:"incomplete_action,omitempty" enum:"backlog,next_sprint"`
	NextSprintID     string `json:"next_sprint_id,omitempty"`
}

type RewardPoolRequest struct {
	RewardPool int64 `json:"reward_pool" minimum:"0"`
}

type ReconcileResponse struct {
	SprintID        string  `json:"sprint_id"`
	EpochAmounts    []int64 `json:"epoch_amounts"`
	SettlementState string  `json:"settlement_status"`
}

type CreateTaskRequest struct {
	ID         string   `json:"id,omitempty"`
	SprintID   string   `json:"sprint_id,omitempty"`
	Title      string   `json:"title" minLength:"1"`
	Points     int64    `json:"points,omitempty" minimum:"0"`
	AssigneeID string   `json:"assignee_id,omitempty"`
	Assignees  []string `json:"assignees,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty"`
}

type TaskStatusRequest struct {
	Status string `json:"status" enum:"backlog,todo,in_progress,review,done"`
}

type AssignRequest struct {
	MemberID string `json:"member_id" minLength:"1"`
}

type SubmitWorkRequest struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content" minLength:"1"`
}

type ReviewRequest struct {
	Approve      bool `json:"approve"`
	QualityScore int  `json:"quality_score,omitempty" minimum:"0" maximum:"5"`
}

type FileDisputeRequest struct {
	ID            string   `json:"id,omitempty"`
	SubmissionID  string   `json:"submission_id" minLength:"1"`
	Reason        string   `json:"reason" enum:"rejected_unfairly,low_quality_score,plagiarism_claim,reviewer_bias,other"`
	EvidenceText  string   `json:"evidence_text,omitempty"`
	EvidenceLinks []string `json:"evidence_links,omitempty"`
}

type EvidenceRequest struct {
	FileName  string `json:"file_name" minLength:"1"`
	MimeType  string `json:"mime_type" minLength:"1"`
	SizeBytes int64  `json:"size_bytes"`
	FileURL   string `json:"file_url,omitempty"`
}

type RespondRequest struct {
	Text  string   `json:"text" minLength:"1"`
	Links []string `json:"links,omitempty"`
}

type ResolveRequest struct {
	Resolution   string `json:"resolution" enum:"overturned,upheld,compromise,dismissed"`
	Notes        string `json:"notes"`
	QualityScore *int   `json:"quality_score,omitempty"`
}

type AppealRequest struct {
	Reason string `json:"reason" minLength:"1"`
}

type SweepRequest struct {
	ExtensionHours int `json:"extension_hours,omitempty" minimum:"0"`
}

// DisputeResponse carries the dispute with its deadline urgency.
type DisputeResponse struct {
	domain.Dispute
	Urgency clock.Urgency `json:"urgency"`
}

type CreateProposalRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title" minLength:"1"`
	Body  string `json:"body,omitempty"`
}

type StartVotingRequest struct {
	Days int `json:"days,omitempty" minimum:"0"`
}

type VoteRequest struct {
	Value string `json:"value" enum:"for,against,abstain"`
}

type FinalizeRequest struct {
	DedupeKey string `json:"dedupe_key,omitempty"`
	Early     bool   `json:"early,omitempty"`
}

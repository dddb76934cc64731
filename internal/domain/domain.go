package domain

import "time"

type Member struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role" enum:"member,council,admin"`
	XPTotal      int64     `json:"xp_total"`
	TokenBalance int64     `json:"token_balance"`
	CreatedAt    time.Time `json:"created_at"`
}

type Sprint struct {
	ID                           string     `json:"id"`
	Name                         string     `json:"name"`
	Goal                         string     `json:"goal,omitempty"`
	Status                       string     `json:"status" enum:"planning,active,review,dispute_window,settlement,completed"`
	CapacityPoints               int64      `json:"capacity_points"`
	StartAt                      *time.Time `json:"start_at,omitempty"`
	EndAt                        *time.Time `json:"end_at,omitempty"`
	ReviewStartedAt              *time.Time `json:"review_started_at,omitempty"`
	DisputeWindowStartedAt       *time.Time `json:"dispute_window_started_at,omitempty"`
	DisputeWindowEndsAt          *time.Time `json:"dispute_window_ends_at,omitempty"`
	SettlementStartedAt          *time.Time `json:"settlement_started_at,omitempty"`
	SettlementBlockedReason      string     `json:"settlement_blocked_reason,omitempty"`
	RewardPool                   int64      `json:"reward_pool"`
	RewardSettlementStatus       string     `json:"reward_settlement_status" enum:"pending,held,killed,completed"`
	RewardSettlementKillSwitchAt *time.Time `json:"reward_settlement_kill_switch_at,omitempty"`
	SettlementIntegrityFlags     []string   `json:"settlement_integrity_flags,omitempty"`
	CompletedAt                  *time.Time `json:"completed_at,omitempty"`
	CreatedAt                    time.Time  `json:"created_at"`
	UpdatedAt                    time.Time  `json:"updated_at"`
}

type SprintSnapshot struct {
	SprintID        string                `json:"sprint_id"`
	TasksTotal      int                   `json:"tasks_total"`
	TasksCompleted  int                   `json:"tasks_completed"`
	CompletionRate  float64               `json:"completion_rate"`
	PointsCompleted int64                 `json:"points_completed"`
	CapacityPoints  int64                 `json:"capacity_points"`
	Contributors    []ContributorSnapshot `json:"contributors"`
	CreatedAt       time.Time             `json:"created_at"`
}

type ContributorSnapshot struct {
	MemberID       string `json:"member_id"`
	TasksCompleted int    `json:"tasks_completed"`
	Points         int64  `json:"points"`
	EarnedPoints   int64  `json:"earned_points"`
}

// SprintBlockers is derived on read and never stored.
type SprintBlockers struct {
	SprintID           string `json:"sprint_id"`
	Status             string `json:"status"`
	HasUnassignedTasks bool   `json:"has_unassigned_tasks"`
	HasIncompleteTasks bool   `json:"has_incomplete_tasks"`
	DeadlineOpen       bool   `json:"deadline_open"`
	SettlementBlocked  bool   `json:"settlement_blocked"`
	OpenDisputes       int    `json:"open_disputes"`
}

type Task struct {
	ID          string     `json:"id"`
	SprintID    *string    `json:"sprint_id,omitempty"`
	Title       string     `json:"title"`
	Status      string     `json:"status" enum:"backlog,todo,in_progress,review,done"`
	Points      int64      `json:"points"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	Assignees   []string   `json:"assignees,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Submission struct {
	ID           string     `json:"id"`
	TaskID       string     `json:"task_id"`
	SubmitterID  string     `json:"submitter_id"`
	ReviewerID   *string    `json:"reviewer_id,omitempty"`
	Content      string     `json:"content,omitempty"`
	ReviewStatus string     `json:"review_status" enum:"pending,approved,rejected,disputed"`
	QualityScore *int       `json:"quality_score,omitempty"`
	BasePoints   int64      `json:"base_points"`
	EarnedPoints int64      `json:"earned_points"`
	CreatedAt    time.Time  `json:"created_at"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
}

type Dispute struct {
	ID                  string     `json:"id"`
	SubmissionID        string     `json:"submission_id"`
	TaskID              string     `json:"task_id"`
	SprintID            *string    `json:"sprint_id,omitempty"`
	DisputantID         string     `json:"disputant_id"`
	ReviewerID          string     `json:"reviewer_id"`
	ArbitratorID        *string    `json:"arbitrator_id,omitempty"`
	Status              string     `json:"status" enum:"open,mediation,awaiting_response,under_review,appealed,appeal_review,resolved,dismissed,withdrawn,mediated"`
	Tier                string     `json:"tier" enum:"mediation,council,admin"`
	Reason              string     `json:"reason"`
	EvidenceText        string     `json:"evidence_text,omitempty"`
	EvidenceLinks       []string   `json:"evidence_links,omitempty"`
	EvidenceFileURLs    []string   `json:"evidence_file_urls,omitempty"`
	ResponseDeadline    time.Time  `json:"response_deadline"`
	ResponseText        string     `json:"response_text,omitempty"`
	ResponseLinks       []string   `json:"response_links,omitempty"`
	ResponseSubmittedAt *time.Time `json:"response_submitted_at,omitempty"`
	Resolution          string     `json:"resolution,omitempty"`
	ResolutionNotes     string     `json:"resolution_notes,omitempty"`
	NewQualityScore     *int       `json:"new_quality_score,omitempty"`
	XPStake             int64      `json:"xp_stake"`
	XPStakeStatus       string     `json:"xp_stake_status" enum:"locked,refunded,forfeited"`
	ReviewerPenalized   bool       `json:"reviewer_penalized"`
	AppealReason        string     `json:"appeal_reason,omitempty"`
	AppealCount         int        `json:"appeal_count"`
	EscalatedAt         *time.Time `json:"escalated_at,omitempty"`
	SLAEscalations      int        `json:"sla_escalations"`
	ResolvedAt          *time.Time `json:"resolved_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type EvidenceEvent struct {
	ID         string    `json:"id"`
	DisputeID  string    `json:"dispute_id"`
	UploadedBy string    `json:"uploaded_by"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
	FileURL    string    `json:"file_url"`
	IsLate     bool      `json:"is_late"`
	CreatedAt  time.Time `json:"created_at"`
}

type RewardDistribution struct {
	ID          string    `json:"id"`
	SprintID    string    `json:"sprint_id"`
	MemberID    *string   `json:"member_id,omitempty"`
	Type        string    `json:"type" enum:"epoch,contributor"`
	TokenAmount int64     `json:"token_amount"`
	CreatedAt   time.Time `json:"created_at"`
}

type Proposal struct {
	ID                       string     `json:"id"`
	Title                    string     `json:"title"`
	Body                     string     `json:"body,omitempty"`
	Status                   string     `json:"status" enum:"draft,voting,finalized"`
	CreatedBy                string     `json:"created_by"`
	VotingStartsAt           *time.Time `json:"voting_starts_at,omitempty"`
	VotingEndsAt             *time.Time `json:"voting_ends_at,omitempty"`
	SnapshotTakenAt          *time.Time `json:"snapshot_taken_at,omitempty"`
	TotalSnapshotPower       int64      `json:"total_snapshot_power"`
	VotesFor                 int64      `json:"votes_for"`
	VotesAgainst             int64      `json:"votes_against"`
	VotesAbstain             int64      `json:"votes_abstain"`
	Result                   string     `json:"result,omitempty" enum:"passed,failed,quorum_not_met"`
	FinalizeDedupeKey        string     `json:"finalize_dedupe_key,omitempty"`
	FinalizedAt              *time.Time `json:"finalized_at,omitempty"`
	FinalizationFailureCount int        `json:"finalization_failure_count"`
	FinalizationLastError    string     `json:"finalization_last_error,omitempty"`
	FinalizationFrozenAt     *time.Time `json:"finalization_frozen_at,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
}

type HolderSnapshot struct {
	ProposalID  string `json:"proposal_id"`
	MemberID    string `json:"member_id"`
	VotingPower int64  `json:"voting_power"`
}

type Vote struct {
	ProposalID string    `json:"proposal_id"`
	VoterID    string    `json:"voter_id"`
	Value      string    `json:"value" enum:"for,against,abstain"`
	Weight     int64     `json:"weight"`
	CreatedAt  time.Time `json:"created_at"`
}

type Event struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	Type       string    `json:"type"`
	EntityKind string    `json:"entity_kind"`
	EntityID   string    `json:"entity_id,omitempty"`
	ActorID    string    `json:"actor_id"`
	Payload    string    `json:"payload_json"`
}

package domain

// Sprint phases, in lifecycle order.
const (
	PhasePlanning      = "planning"
	PhaseActive        = "active"
	PhaseReview        = "review"
	PhaseDisputeWindow = "dispute_window"
	PhaseSettlement    = "settlement"
	PhaseCompleted     = "completed"
)

var phaseOrder = []string{
	PhasePlanning,
	PhaseActive,
	PhaseReview,
	PhaseDisputeWindow,
	PhaseSettlement,
	PhaseCompleted,
}

// OpenPhases are the phases that count toward the single open sprint rule.
var OpenPhases = []string{PhaseActive, PhaseReview, PhaseDisputeWindow, PhaseSettlement}

// NextPhase returns the phase that follows current, or "" when current is
// terminal or unknown.
func NextPhase(current string) string {
	for i, p := range phaseOrder {
		if p == current && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return ""
}

func IsOpenPhase(phase string) bool {
	for _, p := range OpenPhases {
		if p == phase {
			return true
		}
	}
	return false
}

const (
	SettlementPending   = "pending"
	SettlementHeld      = "held"
	SettlementKilled    = "killed"
	SettlementCompleted = "completed"
)

const (
	TaskBacklog    = "backlog"
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskDone       = "done"
)

const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
	ReviewDisputed = "disputed"
)

const (
	DisputeOpen             = "open"
	DisputeMediation        = "mediation"
	DisputeAwaitingResponse = "awaiting_response"
	DisputeUnderReview      = "under_review"
	DisputeAppealed         = "appealed"
	DisputeAppealReview     = "appeal_review"
	DisputeResolved         = "resolved"
	DisputeDismissed        = "dismissed"
	DisputeWithdrawn        = "withdrawn"
	DisputeMediated         = "mediated"
)

// TerminalDisputeStatuses never change again except through an appeal.
var TerminalDisputeStatuses = []string{DisputeResolved, DisputeDismissed, DisputeWithdrawn, DisputeMediated}

// AwaitingReviewerStatuses are swept when the reviewer misses the deadline.
var AwaitingReviewerStatuses = []string{DisputeOpen, DisputeMediation, DisputeAwaitingResponse}

func IsTerminalDispute(status string) bool {
	for _, s := range TerminalDisputeStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func IsAwaitingReviewer(status string) bool {
	for _, s := range AwaitingReviewerStatuses {
		if s == status {
			return true
		}
	}
	return false
}

const (
	TierMediation = "mediation"
	TierCouncil   = "council"
	TierAdmin     = "admin"
)

// NextTier returns the escalation level above tier; admin is the ceiling.
func NextTier(tier string) string {
	switch tier {
	case TierMediation:
		return TierCouncil
	default:
		return TierAdmin
	}
}

func IsTier(tier string) bool {
	return tier == TierMediation || tier == TierCouncil || tier == TierAdmin
}

const (
	ResolutionOverturned = "overturned"
	ResolutionUpheld     = "upheld"
	ResolutionCompromise = "compromise"
	ResolutionDismissed  = "dismissed"
)

const (
	StakeLocked    = "locked"
	StakeRefunded  = "refunded"
	StakeForfeited = "forfeited"
)

var DisputeReasons = []string{"rejected_unfairly", "low_quality_score", "plagiarism_claim", "reviewer_bias", "other"}

const (
	RoleMember  = "member"
	RoleCouncil = "council"
	RoleAdmin   = "admin"
)

const (
	DistributionEpoch       = "epoch"
	DistributionContributor = "contributor"
)

const (
	ProposalDraft     = "draft"
	ProposalVoting    = "voting"
	ProposalFinalized = "finalized"
)

const (
	VoteFor     = "for"
	VoteAgainst = "against"
	VoteAbstain = "abstain"
)

package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/FCisco95/organic-app-sub000/internal/engine/auth"
)

// Conflict codes carried by ConflictError.
const (
	CodeActiveSprintExists       = "ACTIVE_SPRINT_EXISTS"
	CodeInvalidPhaseTransition   = "INVALID_PHASE_TRANSITION"
	CodeSprintCompleted          = "SPRINT_COMPLETED"
	CodeDisputeWindowOpen        = "DISPUTE_WINDOW_OPEN"
	CodeDisputesUnresolved       = "DISPUTES_UNRESOLVED"
	CodeEmissionCapBreach        = "EMISSION_CAP_BREACH"
	CodeSettlementKillSwitch     = "SETTLEMENT_KILL_SWITCH"
	CodeActiveDisputeExists      = "ACTIVE_DISPUTE_EXISTS"
	CodeDisputeWindowClosed      = "DISPUTE_WINDOW_CLOSED"
	CodeDisputeTerminal          = "DISPUTE_TERMINAL"
	CodeResponseAlreadySubmitted = "RESPONSE_ALREADY_SUBMITTED"
	CodeConflictOfInterest       = "CONFLICT_OF_INTEREST"
	CodeArbitratorAssigned       = "ARBITRATOR_ALREADY_ASSIGNED"
	CodeStaleState               = "STALE_STATE"
	CodeTaskBlocked              = "TASK_BLOCKED"
	CodeVotingOpen               = "VOTING_OPEN"
	CodeVotingClosed             = "VOTING_CLOSED"
	CodeProposalNotVoting        = "PROPOSAL_NOT_VOTING"
	CodeInvalidStatus            = "INVALID_STATUS"
)

// ValidationError reports malformed or policy-ineligible input.
type ValidationError struct {
	Reason  string
	Details map[string]any
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationf(details map[string]any, format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...), Details: details}
}

// ConflictError reports a failed precondition or lost race. Code is stable
// and machine readable.
type ConflictError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *ConflictError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func conflict(code, msg string, details map[string]any) error {
	return &ConflictError{Code: code, Message: msg, Details: details}
}

// FrozenError is returned for a proposal whose finalization was frozen after
// repeated failures.
type FrozenError struct {
	ProposalID string
	FrozenAt   time.Time
}

func (e *FrozenError) Error() string {
	return fmt.Sprintf("proposal %s finalization frozen at %s", e.ProposalID, e.FrozenAt.UTC().Format(time.RFC3339))
}

// IsConflict reports whether err is a ConflictError with the given code. An
// empty code matches any conflict.
func IsConflict(err error, code string) bool {
	var ce *ConflictError
	if !errors.As(err, &ce) {
		return false
	}
	return code == "" || ce.Code == code
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsFrozen(err error) bool {
	var fe *FrozenError
	return errors.As(err, &fe)
}

func IsForbidden(err error) bool {
	var fe auth.ForbiddenError
	return errors.As(err, &fe)
}

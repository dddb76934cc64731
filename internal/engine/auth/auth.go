package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Permissions checked by the engine.
const (
	PermMemberManage     = "member.manage"
	PermSprintManage     = "sprint.manage"
	PermTaskManage       = "task.manage"
	PermSubmissionReview = "submission.review"
	PermDisputeArbitrate = "dispute.arbitrate"
	PermDisputeAdmin     = "dispute.admin"
	PermSettlementAdmin  = "settlement.admin"
	PermProposalCreate   = "proposal.create"
	PermProposalManage   = "proposal.manage"
	PermProposalAdmin    = "proposal.admin"
)

var rolePermissions = map[string][]string{
	domain.RoleMember: {
		PermProposalCreate,
	},
	domain.RoleCouncil: {
		PermProposalCreate,
		PermSprintManage,
		PermTaskManage,
		PermSubmissionReview,
		PermDisputeArbitrate,
		PermProposalManage,
	},
	domain.RoleAdmin: {
		PermProposalCreate,
		PermMemberManage,
		PermSprintManage,
		PermTaskManage,
		PermSubmissionReview,
		PermDisputeArbitrate,
		PermDisputeAdmin,
		PermSettlementAdmin,
		PermProposalManage,
		PermProposalAdmin,
	},
}

// RoleHasPermission reports whether role grants perm.
func RoleHasPermission(role, perm string) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// RolePermissions lists what a role grants.
func RolePermissions(role string) []string {
	return append([]string(nil), rolePermissions[role]...)
}

// CanArbitrateTier reports whether role may take or resolve a dispute at
// tier. The admin tier is reserved to admins.
func CanArbitrateTier(role, tier string) bool {
	if tier == domain.TierAdmin {
		return role == domain.RoleAdmin
	}
	return RoleHasPermission(role, PermDisputeArbitrate)
}

// Service resolves actors to members and checks their permissions.
type Service struct {
	Repo repo.Repo
}

// Member loads the actor. Unknown actors are forbidden rather than not found
// so that callers cannot probe member ids.
func (s Service) Member(ctx context.Context, q repo.Querier, actorID string) (domain.Member, error) {
	if actorID == "" {
		return domain.Member{}, errors.New("actor_id required")
	}
	m, err := s.Repo.GetMember(ctx, q, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Member{}, ForbiddenError{Permission: "member"}
	}
	return m, err
}

// Require loads the actor and checks perm.
func (s Service) Require(ctx context.Context, q repo.Querier, actorID, perm string) (domain.Member, error) {
	m, err := s.Member(ctx, q, actorID)
	if err != nil {
		return m, err
	}
	if !RoleHasPermission(m.Role, perm) {
		return m, ForbiddenError{Permission: perm}
	}
	return m, nil
}

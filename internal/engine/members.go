package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine/auth"
	"github.com/FCisco95/organic-app-sub000/internal/events"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

type MemberCreateOptions struct {
	ID           string
	DisplayName  string
	Role         string
	XP           int64
	TokenBalance int64
	ActorID      string
}

// CreateMember adds a member. The first member of an empty org may be
// created by anyone; afterwards member.manage is required.
func (e Engine) CreateMember(ctx context.Context, opts MemberCreateOptions) (domain.Member, error) {
	if strings.TrimSpace(opts.DisplayName) == "" {
		return domain.Member{}, validationf(nil, "display_name is required")
	}
	if opts.Role == "" {
		opts.Role = domain.RoleMember
	}
	switch opts.Role {
	case domain.RoleMember, domain.RoleCouncil, domain.RoleAdmin:
	default:
		return domain.Member{}, validationf(map[string]any{"role": opts.Role}, "unknown role %s", opts.Role)
	}
	if opts.XP < 0 || opts.TokenBalance < 0 {
		return domain.Member{}, validationf(nil, "xp and token balance must not be negative")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.ListMembers(ctx, tx)
	if err != nil {
		return domain.Member{}, err
	}
	if len(existing) > 0 {
		if _, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermMemberManage); err != nil {
			return domain.Member{}, err
		}
	}
	m := domain.Member{
		ID:           newID(opts.ID),
		DisplayName:  opts.DisplayName,
		Role:         opts.Role,
		XPTotal:      opts.XP,
		TokenBalance: opts.TokenBalance,
		CreatedAt:    e.now(),
	}
	if err := e.Repo.InsertMember(ctx, tx, m); err != nil {
		if repo.IsUniqueViolation(err) {
			return domain.Member{}, conflict(CodeInvalidStatus, "member already exists", map[string]any{"member_id": m.ID})
		}
		return domain.Member{}, fmt.Errorf("insert member: %w", err)
	}
	actor := opts.ActorID
	if actor == "" {
		actor = m.ID
	}
	if err := e.emit(ctx, tx, "member.created", "member", m.ID, actor, events.EventPayload{"role": m.Role, "xp": m.XPTotal}); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

func (e Engine) GetMember(ctx context.Context, id string) (domain.Member, error) {
	return e.Repo.GetMember(ctx, nil, id)
}

func (e Engine) ListMembers(ctx context.Context) ([]domain.Member, error) {
	return e.Repo.ListMembers(ctx, nil)
}

func (e Engine) SetMemberRole(ctx context.Context, memberID, role, actorID string) (domain.Member, error) {
	switch role {
	case domain.RoleMember, domain.RoleCouncil, domain.RoleAdmin:
	default:
		return domain.Member{}, validationf(map[string]any{"role": role}, "unknown role %s", role)
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermMemberManage); err != nil {
		return domain.Member{}, err
	}
	old, err := e.Repo.MemberRole(ctx, tx, memberID)
	if err != nil {
		return domain.Member{}, err
	}
	if err := e.Repo.SetMemberRole(ctx, tx, memberID, role); err != nil {
		return domain.Member{}, err
	}
	if err := e.emit(ctx, tx, "member.role_changed", "member", memberID, actorID, events.EventPayload{"from": old, "to": role}); err != nil {
		return domain.Member{}, err
	}
	m, err := e.Repo.GetMember(ctx, tx, memberID)
	if err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// GrantXP is an admin adjustment of a member's XP.
func (e Engine) GrantXP(ctx context.Context, memberID string, delta int64, reason, actorID string) (domain.Member, error) {
	if delta == 0 {
		return domain.Member{}, validationf(nil, "delta must not be zero")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermMemberManage); err != nil {
		return domain.Member{}, err
	}
	if _, err := e.adjustXP(ctx, tx, memberID, delta, reason, actorID); err != nil {
		return domain.Member{}, err
	}
	m, err := e.Repo.GetMember(ctx, tx, memberID)
	if err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// adjustXP moves XP and records a ledger event. It returns the delta that
// was actually applied after clamping at zero.
func (e Engine) adjustXP(ctx context.Context, tx *sql.Tx, memberID string, delta int64, reason, actorID string) (int64, error) {
	if delta == 0 {
		return 0, nil
	}
	applied, err := e.Repo.AdjustXP(ctx, tx, memberID, delta)
	if err != nil {
		return 0, fmt.Errorf("adjust xp for %s: %w", memberID, err)
	}
	if err := e.emit(ctx, tx, "member.xp_adjusted", "member", memberID, actorID, events.EventPayload{
		"delta": applied, "requested": delta, "reason": reason,
	}); err != nil {
		return 0, err
	}
	return applied, nil
}

package repo

import (
	"context"
	"database/sql"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
)

const memberColumns = `id,display_name,role,xp_total,token_balance,created_at`

func scanMember(row interface{ Scan(...any) error }) (domain.Member, error) {
	var m domain.Member
	var created string
	err := row.Scan(&m.ID, &m.DisplayName, &m.Role, &m.XPTotal, &m.TokenBalance, &created)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.CreatedAt, err = ParseTime(created)
	return m, err
}

func (r Repo) InsertMember(ctx context.Context, q Querier, m domain.Member) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO members(`+memberColumns+`) VALUES (?,?,?,?,?,?)`,
		m.ID, m.DisplayName, m.Role, m.XPTotal, m.TokenBalance, FormatTime(m.CreatedAt))
	return err
}

func (r Repo) GetMember(ctx context.Context, q Querier, id string) (domain.Member, error) {
	return scanMember(r.q(q).QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE id=?`, id))
}

func (r Repo) ListMembers(ctx context.Context, q Querier) ([]domain.Member, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+memberColumns+` FROM members ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) MemberRole(ctx context.Context, q Querier, id string) (string, error) {
	var role string
	err := r.q(q).QueryRowContext(ctx, `SELECT role FROM members WHERE id=?`, id).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return role, err
}

func (r Repo) SetMemberRole(ctx context.Context, q Querier, id, role string) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE members SET role=? WHERE id=?`, role, id)
	if err != nil {
		return err
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// AdjustXP adds delta to a member's XP. A negative delta never takes the
// balance below zero; the applied delta is returned.
func (r Repo) AdjustXP(ctx context.Context, q Querier, id string, delta int64) (int64, error) {
	var before int64
	err := r.q(q).QueryRowContext(ctx, `SELECT xp_total FROM members WHERE id=?`, id).Scan(&before)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	after := before + delta
	if after < 0 {
		after = 0
	}
	if _, err := r.q(q).ExecContext(ctx, `UPDATE members SET xp_total=? WHERE id=?`, after, id); err != nil {
		return 0, err
	}
	return after - before, nil
}

func (r Repo) AddTokens(ctx context.Context, q Querier, id string, amount int64) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE members SET token_balance=token_balance+? WHERE id=?`, amount, id)
	if err != nil {
		return err
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetTokenBalance(ctx context.Context, q Querier, id string, balance int64) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE members SET token_balance=? WHERE id=?`, balance, id)
	if err != nil {
		return err
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

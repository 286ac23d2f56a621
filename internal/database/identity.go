package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/contrib-rounds/internal/types"
)

const memberColumns = `username, login, ledger_address, access_token, created_at, updated_at`

// UpsertMember binds a username to a login, ledger address and access token.
// Empty fields keep their stored value. A member bound to one address cannot be
// rebound to another.
func (r *Repository) UpsertMember(ctx context.Context, username, login, address, token string) (*types.Member, error) {
	stmt, err := r.db.GetPreparedStatement("upsert_member")
	if err != nil {
		return nil, err
	}

	ts := now()
	res, err := stmt.ExecContext(ctx, username, nullable(login), nullable(address), nullable(token), ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrIdentityTaken, err)
		}
		return nil, fmt.Errorf("failed to upsert member: %w", err)
	}
	// the upsert skips members already bound to a different address
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrMemberOwned
	}

	return r.GetMember(ctx, username)
}

// GetMember loads a member by local username
func (r *Repository) GetMember(ctx context.Context, username string) (*types.Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// ListMembers returns every member ordered by username
func (r *Repository) ListMembers(ctx context.Context) ([]types.Member, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM members ORDER BY username COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var out []types.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// AddressForLogin returns the ledger address bound to a login, or "" when unbound
func (r *Repository) AddressForLogin(ctx context.Context, login string) (string, error) {
	var address sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT ledger_address FROM members WHERE login = ?`, login).Scan(&address)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve address for %s: %w", login, err)
	}
	return address.String, nil
}

// LoginForAddress returns the login bound to a ledger address, or "" when unbound
func (r *Repository) LoginForAddress(ctx context.Context, address string) (string, error) {
	var login sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT login FROM members WHERE ledger_address = ?`, address).Scan(&login)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve login for %s: %w", address, err)
	}
	return login.String, nil
}

// MemberForAddress returns the member holding a ledger address, or ErrNotFound
func (r *Repository) MemberForAddress(ctx context.Context, address string) (*types.Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE ledger_address = ?`, address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve member for %s: %w", address, err)
	}
	return m, nil
}

// TokenForLogin returns the stored source-hosting token for a login, or "" when absent
func (r *Repository) TokenForLogin(ctx context.Context, login string) (string, error) {
	var token sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT access_token FROM members WHERE login = ?`, login).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load token for %s: %w", login, err)
	}
	return token.String, nil
}

// HasToken reports whether a login has a stored access token
func (r *Repository) HasToken(ctx context.Context, login string) (bool, error) {
	token, err := r.TokenForLogin(ctx, login)
	return token != "", err
}

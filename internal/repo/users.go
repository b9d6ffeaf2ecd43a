package repo

import (
	"context"
	"database/sql"
	"strings"
)

// UpsertUser registers an assignable account for an email address.
func (r Repo) UpsertUser(ctx context.Context, email, accountID string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(email,account_id) VALUES (?,?)
		ON CONFLICT(email) DO UPDATE SET account_id=excluded.account_id`, strings.ToLower(strings.TrimSpace(email)), accountID)
	return err
}

// LookupUser returns the account id registered for an email.
func (r Repo) LookupUser(ctx context.Context, email string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx, `SELECT account_id FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email))).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return id, err
}

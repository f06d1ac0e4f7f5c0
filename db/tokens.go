package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TokenRecord is the persisted per-user OAuth token pair. AccessToken and
// RefreshToken hold versioned ciphertext envelopes, never plaintext.
// ExpiresAt is the authoritative staleness signal, independent of whether
// the ciphertext still decrypts.
type TokenRecord struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	TokenType    string
}

// UpsertUser creates or updates a Twitch user row.
func UpsertUser(ctx context.Context, database *sql.DB, id, login, displayName string) error {
	_, err := database.ExecContext(ctx, `
		INSERT INTO twitch_users (id, login, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET login=EXCLUDED.login, display_name=EXCLUDED.display_name, updated_at=NOW()`,
		id, login, displayName)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUserIDByLogin resolves a login name to its user id, or "" when unknown.
func GetUserIDByLogin(ctx context.Context, database *sql.DB, login string) (string, error) {
	var id string
	err := database.QueryRowContext(ctx, `SELECT id FROM twitch_users WHERE login=$1`, login).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get user by login: %w", err)
	}
	return id, nil
}

// UpsertTokenRecord overwrites the stored token pair for a user.
func UpsertTokenRecord(ctx context.Context, database *sql.DB, rec *TokenRecord) error {
	_, err := database.ExecContext(ctx, `
		INSERT INTO oauth_tokens (user_id, access_token, refresh_token, expires_at, scope, token_type, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			scope=EXCLUDED.scope,
			token_type=EXCLUDED.token_type,
			updated_at=NOW()`,
		rec.UserID, rec.AccessToken, rec.RefreshToken, rec.ExpiresAt, rec.Scope, rec.TokenType)
	if err != nil {
		return fmt.Errorf("upsert token record: %w", err)
	}
	return nil
}

// GetTokenRecord fetches the stored (still encrypted) token pair for a user.
// Returns (nil, nil) when no record exists.
func GetTokenRecord(ctx context.Context, database *sql.DB, userID string) (*TokenRecord, error) {
	rec := &TokenRecord{UserID: userID}
	err := database.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, scope, token_type
		FROM oauth_tokens WHERE user_id=$1`, userID).
		Scan(&rec.AccessToken, &rec.RefreshToken, &rec.ExpiresAt, &rec.Scope, &rec.TokenType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token record: %w", err)
	}
	return rec, nil
}

// DeleteTokenRecord removes the stored pair, forcing re-authentication.
// Used when decryption fails and the record is unrecoverable.
func DeleteTokenRecord(ctx context.Context, database *sql.DB, userID string) error {
	_, err := database.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE user_id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete token record: %w", err)
	}
	return nil
}

// ListExpiringTokens returns user ids whose tokens expire within the window.
// Used by the background refresh sweep.
func ListExpiringTokens(ctx context.Context, database *sql.DB, window time.Duration) ([]string, error) {
	rows, err := database.QueryContext(ctx, `
		SELECT user_id FROM oauth_tokens WHERE expires_at <= $1 ORDER BY expires_at ASC`,
		time.Now().Add(window))
	if err != nil {
		return nil, fmt.Errorf("list expiring tokens: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expiring token: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

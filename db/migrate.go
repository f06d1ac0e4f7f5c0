package db

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is the embedded idempotent schema. Statements use IF NOT EXISTS so
// Migrate can run on every startup without version tracking.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS twitch_users (
		id TEXT PRIMARY KEY,
		login TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS oauth_tokens (
		user_id TEXT PRIMARY KEY REFERENCES twitch_users(id) ON DELETE CASCADE,
		access_token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		scope TEXT NOT NULL DEFAULT '',
		token_type TEXT NOT NULL DEFAULT 'bearer',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS overlays (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES twitch_users(id) ON DELETE CASCADE,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		secret TEXT NOT NULL,
		reward_id TEXT NOT NULL DEFAULT '',
		command_prefix TEXT NOT NULL DEFAULT '',
		min_views INT NOT NULL DEFAULT 0,
		max_clip_age_days INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_overlays_owner ON overlays(owner_id)`,
	`CREATE TABLE IF NOT EXISTS clip_queue (
		id BIGSERIAL PRIMARY KEY,
		broadcaster_id TEXT NOT NULL,
		clip_id TEXT NOT NULL,
		clip_url TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		requested_by TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clip_queue_broadcaster_status ON clip_queue(broadcaster_id, status, id)`,
}

// Migrate applies the embedded schema. Safe to call on every startup.
func Migrate(ctx context.Context, database *sql.DB) error {
	for _, stmt := range schema {
		if _, err := database.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

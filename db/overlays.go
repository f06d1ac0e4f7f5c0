package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Overlay statuses.
const (
	OverlayActive = "active"
	OverlayPaused = "paused"
)

// Overlay is one browser-source clip player instance owned by a broadcaster.
type Overlay struct {
	ID             string
	OwnerID        string
	Name           string
	Status         string
	Secret         string
	RewardID       string
	CommandPrefix  string
	MinViews       int
	MaxClipAgeDays int
}

// CreateOverlay inserts a new overlay with a generated id and secret.
func CreateOverlay(ctx context.Context, database *sql.DB, ownerID, name, prefix string) (*Overlay, error) {
	o := &Overlay{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		Name:          name,
		Status:        OverlayActive,
		Secret:        uuid.New().String(),
		CommandPrefix: prefix,
	}
	_, err := database.ExecContext(ctx, `
		INSERT INTO overlays (id, owner_id, name, status, secret, command_prefix)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.OwnerID, o.Name, o.Status, o.Secret, o.CommandPrefix)
	if err != nil {
		return nil, fmt.Errorf("create overlay: %w", err)
	}
	return o, nil
}

// GetOverlay fetches an overlay by id. Returns (nil, nil) when absent.
func GetOverlay(ctx context.Context, database *sql.DB, id string) (*Overlay, error) {
	o := &Overlay{ID: id}
	err := database.QueryRowContext(ctx, `
		SELECT owner_id, name, status, secret, reward_id, command_prefix, min_views, max_clip_age_days
		FROM overlays WHERE id=$1`, id).
		Scan(&o.OwnerID, &o.Name, &o.Status, &o.Secret, &o.RewardID, &o.CommandPrefix, &o.MinViews, &o.MaxClipAgeDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get overlay: %w", err)
	}
	return o, nil
}

// GetOverlayByOwner fetches a broadcaster's overlay. Returns (nil, nil) when
// the broadcaster has none.
func GetOverlayByOwner(ctx context.Context, database *sql.DB, ownerID string) (*Overlay, error) {
	o := &Overlay{OwnerID: ownerID}
	err := database.QueryRowContext(ctx, `
		SELECT id, name, status, secret, reward_id, command_prefix, min_views, max_clip_age_days
		FROM overlays WHERE owner_id=$1 ORDER BY created_at ASC LIMIT 1`, ownerID).
		Scan(&o.ID, &o.Name, &o.Status, &o.Secret, &o.RewardID, &o.CommandPrefix, &o.MinViews, &o.MaxClipAgeDays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get overlay by owner: %w", err)
	}
	return o, nil
}

// SetOverlayStatus flips an overlay between active and paused.
func SetOverlayStatus(ctx context.Context, database *sql.DB, id, status string) error {
	if status != OverlayActive && status != OverlayPaused {
		return fmt.Errorf("invalid overlay status %q", status)
	}
	_, err := database.ExecContext(ctx, `UPDATE overlays SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return fmt.Errorf("set overlay status: %w", err)
	}
	return nil
}

// GetCommandPrefix returns the chat command prefix configured on a
// broadcaster's overlay, or "" when the broadcaster has no overlay or no
// prefix configured (meaning chat commands are disabled for that channel).
func GetCommandPrefix(ctx context.Context, database *sql.DB, ownerID string) (string, error) {
	var prefix string
	err := database.QueryRowContext(ctx, `
		SELECT command_prefix FROM overlays WHERE owner_id=$1 ORDER BY created_at ASC LIMIT 1`, ownerID).
		Scan(&prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get command prefix: %w", err)
	}
	return prefix, nil
}

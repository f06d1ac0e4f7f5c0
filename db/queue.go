package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Clip queue statuses.
const (
	ClipPending  = "pending"
	ClipApproved = "approved"
	ClipPlayed   = "played"
)

// QueuedClip is one pending or approved clip awaiting moderation/playback.
type QueuedClip struct {
	ID            int64     `json:"id"`
	BroadcasterID string    `json:"broadcaster_id"`
	ClipID        string    `json:"clip_id"`
	ClipURL       string    `json:"clip_url"`
	Title         string    `json:"title"`
	RequestedBy   string    `json:"requested_by"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// EnqueueClip appends a clip to a broadcaster's queue in pending state.
func EnqueueClip(ctx context.Context, database *sql.DB, c *QueuedClip) (int64, error) {
	var id int64
	err := database.QueryRowContext(ctx, `
		INSERT INTO clip_queue (broadcaster_id, clip_id, clip_url, title, requested_by, status)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		c.BroadcasterID, c.ClipID, c.ClipURL, c.Title, c.RequestedBy, ClipPending).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue clip: %w", err)
	}
	return id, nil
}

// ListQueue returns a broadcaster's queue entries in insertion order,
// optionally filtered by status ("" returns all).
func ListQueue(ctx context.Context, database *sql.DB, broadcasterID, status string, limit int) ([]QueuedClip, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = database.QueryContext(ctx, `
			SELECT id, clip_id, clip_url, title, requested_by, status, created_at
			FROM clip_queue WHERE broadcaster_id=$1 AND status=$2 ORDER BY id ASC LIMIT $3`,
			broadcasterID, status, limit)
	} else {
		rows, err = database.QueryContext(ctx, `
			SELECT id, clip_id, clip_url, title, requested_by, status, created_at
			FROM clip_queue WHERE broadcaster_id=$1 ORDER BY id ASC LIMIT $2`,
			broadcasterID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	out := make([]QueuedClip, 0)
	for rows.Next() {
		c := QueuedClip{BroadcasterID: broadcasterID}
		if err := rows.Scan(&c.ID, &c.ClipID, &c.ClipURL, &c.Title, &c.RequestedBy, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApproveClip moves a pending clip to approved.
func ApproveClip(ctx context.Context, database *sql.DB, id int64) error {
	_, err := database.ExecContext(ctx, `UPDATE clip_queue SET status=$1 WHERE id=$2 AND status=$3`,
		ClipApproved, id, ClipPending)
	if err != nil {
		return fmt.Errorf("approve clip: %w", err)
	}
	return nil
}

// NextApprovedClip pops the oldest approved clip for a broadcaster, marking
// it played. Returns (nil, nil) when the queue has no approved entries. The
// UPDATE ... RETURNING form keeps pop atomic under concurrent callers.
func NextApprovedClip(ctx context.Context, database *sql.DB, broadcasterID string) (*QueuedClip, error) {
	c := &QueuedClip{BroadcasterID: broadcasterID, Status: ClipPlayed}
	err := database.QueryRowContext(ctx, `
		UPDATE clip_queue SET status=$1
		WHERE id = (
			SELECT id FROM clip_queue
			WHERE broadcaster_id=$2 AND status=$3
			ORDER BY id ASC LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, clip_id, clip_url, title, requested_by, created_at`,
		ClipPlayed, broadcasterID, ClipApproved).
		Scan(&c.ID, &c.ClipID, &c.ClipURL, &c.Title, &c.RequestedBy, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next approved clip: %w", err)
	}
	return c, nil
}

// ClearQueue deletes all pending and approved entries for a broadcaster and
// returns how many were removed.
func ClearQueue(ctx context.Context, database *sql.DB, broadcasterID string) (int64, error) {
	res, err := database.ExecContext(ctx, `
		DELETE FROM clip_queue WHERE broadcaster_id=$1 AND status IN ($2, $3)`,
		broadcasterID, ClipPending, ClipApproved)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

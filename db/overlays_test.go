package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
)

func createTestUser(t *testing.T, database *sql.DB) string {
	t.Helper()
	id := "u-" + uuid.New().String()
	if err := UpsertUser(context.Background(), database, id, "login-"+id, "Display "+id); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	return id
}

func TestOverlayCRUD(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	owner := createTestUser(t, database)

	ov, err := CreateOverlay(ctx, database, owner, "My Overlay", "!")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ov.ID == "" || ov.Secret == "" {
		t.Fatalf("overlay missing generated fields: %+v", ov)
	}
	if ov.Status != OverlayActive {
		t.Errorf("status = %q, want active", ov.Status)
	}

	got, err := GetOverlay(ctx, database, ov.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.OwnerID != owner || got.CommandPrefix != "!" || got.Name != "My Overlay" {
		t.Errorf("got = %+v", got)
	}

	byOwner, err := GetOverlayByOwner(ctx, database, owner)
	if err != nil {
		t.Fatalf("get by owner: %v", err)
	}
	if byOwner == nil || byOwner.ID != ov.ID {
		t.Errorf("by owner = %+v", byOwner)
	}

	if err := SetOverlayStatus(ctx, database, ov.ID, OverlayPaused); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, err = GetOverlay(ctx, database, ov.ID)
	if err != nil || got == nil {
		t.Fatalf("get after pause: %v", err)
	}
	if got.Status != OverlayPaused {
		t.Errorf("status = %q, want paused", got.Status)
	}
}

func TestGetOverlayAbsent(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	if ov, err := GetOverlay(ctx, database, uuid.New().String()); err != nil || ov != nil {
		t.Errorf("absent overlay = %v, err %v, want (nil, nil)", ov, err)
	}
	if ov, err := GetOverlayByOwner(ctx, database, "no-such-owner"); err != nil || ov != nil {
		t.Errorf("absent owner = %v, err %v, want (nil, nil)", ov, err)
	}
}

func TestGetCommandPrefix(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, database)
	if _, err := CreateOverlay(ctx, database, owner, "Prefixed", "~"); err != nil {
		t.Fatal(err)
	}
	prefix, err := GetCommandPrefix(ctx, database, owner)
	if err != nil {
		t.Fatalf("get prefix: %v", err)
	}
	if prefix != "~" {
		t.Errorf("prefix = %q, want ~", prefix)
	}

	// Broadcaster without an overlay has commands disabled.
	prefix, err = GetCommandPrefix(ctx, database, "no-such-owner")
	if err != nil {
		t.Fatalf("get prefix absent: %v", err)
	}
	if prefix != "" {
		t.Errorf("absent prefix = %q, want empty", prefix)
	}
}

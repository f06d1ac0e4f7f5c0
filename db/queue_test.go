package db

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestQueueLifecycle(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	broadcaster := "qb-" + uuid.New().String()

	id1, err := EnqueueClip(ctx, database, &QueuedClip{
		BroadcasterID: broadcaster, ClipID: "c1", ClipURL: "https://clips.twitch.tv/c1", Title: "first", RequestedBy: "v1",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id2, err := EnqueueClip(ctx, database, &QueuedClip{
		BroadcasterID: broadcaster, ClipID: "c2", ClipURL: "https://clips.twitch.tv/c2", Title: "second", RequestedBy: "v2",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := ListQueue(ctx, database, broadcaster, ClipPending, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != id1 || pending[1].ID != id2 {
		t.Fatalf("pending = %+v", pending)
	}
	if pending[0].Status != ClipPending || pending[0].ClipID != "c1" {
		t.Errorf("first entry = %+v", pending[0])
	}

	// Nothing to play before approval.
	if clip, err := NextApprovedClip(ctx, database, broadcaster); err != nil || clip != nil {
		t.Fatalf("next before approval = %v, err %v", clip, err)
	}

	if err := ApproveClip(ctx, database, id2); err != nil {
		t.Fatalf("approve: %v", err)
	}
	clip, err := NextApprovedClip(ctx, database, broadcaster)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if clip == nil || clip.ID != id2 || clip.Status != ClipPlayed {
		t.Fatalf("popped = %+v", clip)
	}
	// Pop is destructive: a second call finds nothing approved.
	if clip, err := NextApprovedClip(ctx, database, broadcaster); err != nil || clip != nil {
		t.Fatalf("second pop = %v, err %v", clip, err)
	}

	n, err := ClearQueue(ctx, database, broadcaster)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 1 {
		t.Errorf("cleared %d rows, want 1 (played entries are kept)", n)
	}
	all, err := ListQueue(ctx, database, broadcaster, "", 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || all[0].Status != ClipPlayed {
		t.Errorf("remaining = %+v", all)
	}
}

func TestQueueIsolationBetweenBroadcasters(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	b1 := "qb-" + uuid.New().String()
	b2 := "qb-" + uuid.New().String()

	if _, err := EnqueueClip(ctx, database, &QueuedClip{BroadcasterID: b1, ClipID: "c1"}); err != nil {
		t.Fatal(err)
	}
	other, err := ListQueue(ctx, database, b2, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("b2 sees %d entries from b1", len(other))
	}
	if n, err := ClearQueue(ctx, database, b2); err != nil || n != 0 {
		t.Errorf("clearing empty queue = %d, err %v", n, err)
	}
}

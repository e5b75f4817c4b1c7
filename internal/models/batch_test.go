package models

import (
	"encoding/json"
	"testing"
)

func TestItemIdempotencyKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a := ItemIdempotencyKey("batch1", EntityTrack, "track1", ActionRemoveLikedTrack)
		b := ItemIdempotencyKey("batch1", EntityTrack, "track1", ActionRemoveLikedTrack)
		if a != b {
			t.Errorf("expected identical keys, got %s and %s", a, b)
		}
	})

	t.Run("sensitive to entity id", func(t *testing.T) {
		a := ItemIdempotencyKey("batch1", EntityTrack, "track1", ActionRemoveLikedTrack)
		b := ItemIdempotencyKey("batch1", EntityTrack, "track2", ActionRemoveLikedTrack)
		if a == b {
			t.Error("expected different keys for different entity ids")
		}
	})

	t.Run("sensitive to action", func(t *testing.T) {
		a := ItemIdempotencyKey("batch1", EntityTrack, "track1", ActionRemoveLikedTrack)
		b := ItemIdempotencyKey("batch1", EntityTrack, "track1", ActionRemovePlaylistTrack)
		if a == b {
			t.Error("expected different keys for different actions")
		}
	})

	t.Run("sensitive to batch id", func(t *testing.T) {
		a := ItemIdempotencyKey("batch1", EntityTrack, "track1", ActionRemoveLikedTrack)
		b := ItemIdempotencyKey("batch2", EntityTrack, "track1", ActionRemoveLikedTrack)
		if a == b {
			t.Error("expected different keys for different batches")
		}
	})
}

func TestItemCanRollback(t *testing.T) {
	state := json.RawMessage(`{"track_id":"t1"}`)

	tests := []struct {
		name string
		item ActionItem
		want bool
	}{
		{
			name: "completed with before state",
			item: ActionItem{Status: ItemCompleted, BeforeState: state, Action: ActionRemoveLikedTrack},
			want: true,
		},
		{
			name: "completed without before state",
			item: ActionItem{Status: ItemCompleted, Action: ActionRemoveLikedTrack},
			want: false,
		},
		{
			name: "failed with before state",
			item: ActionItem{Status: ItemFailed, BeforeState: state, Action: ActionRemoveLikedTrack},
			want: false,
		},
		{
			name: "skipped",
			item: ActionItem{Status: ItemSkipped, Action: ActionRemoveLikedTrack},
			want: false,
		},
		{
			name: "restore action has no inverse",
			item: ActionItem{Status: ItemCompleted, BeforeState: state, Action: ActionRestoreLikedTrack},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.CanRollback(); got != tt.want {
				t.Errorf("CanRollback() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestItemStatusTransitions(t *testing.T) {
	tests := []struct {
		from ItemStatus
		to   ItemStatus
		want bool
	}{
		{ItemPending, ItemCompleted, true},
		{ItemPending, ItemFailed, true},
		{ItemPending, ItemSkipped, true},
		{ItemPending, ItemPending, false},
		{ItemCompleted, ItemFailed, false},
		{ItemFailed, ItemCompleted, false},
		{ItemSkipped, ItemPending, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestDeriveBatchStatus(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		completed int
		failed    int
		skipped   int
		want      BatchStatus
	}{
		{"all completed", 10, 10, 0, 0, BatchCompleted},
		{"partial", 10, 7, 3, 0, BatchPartiallyCompleted},
		{"none completed", 10, 0, 10, 0, BatchFailed},
		{"completed and skipped", 5, 3, 0, 2, BatchPartiallyCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveBatchStatus(tt.total, tt.completed, tt.failed, tt.skipped)
			if got != tt.want {
				t.Errorf("DeriveBatchStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBatchCanRollback(t *testing.T) {
	tests := []struct {
		name  string
		batch ActionBatch
		want  bool
	}{
		{"completed batch", ActionBatch{Status: BatchCompleted}, true},
		{"partially completed batch", ActionBatch{Status: BatchPartiallyCompleted}, true},
		{"pending batch", ActionBatch{Status: BatchPending}, false},
		{"running batch", ActionBatch{Status: BatchRunning}, false},
		{"dry run", ActionBatch{Status: BatchCompleted, DryRun: true}, false},
		{"already rolled back", ActionBatch{Status: BatchCompleted, RolledBack: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.batch.CanRollback(); got != tt.want {
				t.Errorf("CanRollback() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestActionTypeInverse(t *testing.T) {
	tests := []struct {
		action  ActionType
		inverse ActionType
		ok      bool
	}{
		{ActionRemoveLikedTrack, ActionRestoreLikedTrack, true},
		{ActionRemovePlaylistTrack, ActionRestorePlaylistTrack, true},
		{ActionUnfollowArtist, ActionRefollowArtist, true},
		{ActionRemoveSavedAlbum, ActionRestoreSavedAlbum, true},
		{ActionRestoreLikedTrack, "", false},
		{ActionRefollowArtist, "", false},
	}

	for _, tt := range tests {
		inv, ok := tt.action.Inverse()
		if ok != tt.ok || inv != tt.inverse {
			t.Errorf("Inverse(%s) = (%s, %v), want (%s, %v)", tt.action, inv, ok, tt.inverse, tt.ok)
		}
	}
}

package enforcement

import (
	"context"
	"errors"
	"testing"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
)

func playlistRemoveAction(playlistID, trackID string) models.PlannedAction {
	return models.PlannedAction{
		ID:         shared.GenerateID(),
		Type:       models.ActionRemovePlaylistTrack,
		EntityType: models.EntityPlaylistTrack,
		EntityID:   playlistID + ":" + trackID,
		EntityName: "Track " + trackID,
		Reason:     models.ReasonExactMatch,
		Confidence: 1,
	}
}

func TestRollbackRestoresCompletedActions(t *testing.T) {
	env := newTestEnv(t, &fakeResolver{}, &fakeLibrary{})
	plan := testPlan(
		removeTrackAction("t1"),
		unfollowAction("ar1"),
		playlistRemoveAction("pl1", "t2"),
	)

	if _, err := env.engine.Execute(context.Background(), plan, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	batch := env.mustGetBatch(t, "user1")

	info, err := env.engine.Rollback(context.Background(), batch.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if info.PartialRollback {
		t.Errorf("expected full rollback: %+v", info.RollbackErrors)
	}
	if len(info.RollbackActions) != 3 {
		t.Fatalf("expected 3 rollback actions, got %d", len(info.RollbackActions))
	}
	if info.RollbackSummary.Status != models.BatchCompleted {
		t.Errorf("rollback batch status = %s", info.RollbackSummary.Status)
	}

	if env.client.callsFor("save_track", "t1") != 1 {
		t.Error("expected liked track restored")
	}
	if env.client.callsFor("follow_artist", "ar1") != 1 {
		t.Error("expected artist refollowed")
	}
	if env.client.callsFor("add_playlist_track", "pl1:t2") != 1 {
		t.Error("expected playlist track re-added")
	}
	if got := env.client.positionFor("pl1", "t2"); got != 7 {
		t.Errorf("expected snapshot position 7, got %d", got)
	}

	original, err := env.batches.Get(batch.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !original.RolledBack {
		t.Error("original batch should be marked rolled back")
	}

	// Rollback batches are durable and listed alongside the original.
	history, err := env.engine.History("user1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("expected original plus rollback batch, got %d", len(history))
	}
}

func TestRollbackIgnoresFailedAndSkippedItems(t *testing.T) {
	env := newTestEnv(t, &fakeResolver{}, &fakeLibrary{})
	env.client.failWith("unfollow_artist", "ar1", forbiddenErr())

	plan := testPlan(removeTrackAction("t1"), unfollowAction("ar1"))
	if _, err := env.engine.Execute(context.Background(), plan, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	batch := env.mustGetBatch(t, "user1")

	info, err := env.engine.Rollback(context.Background(), batch.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The failed unfollow changed nothing, so a clean rollback of the one
	// completed item is a full rollback.
	if info.PartialRollback {
		t.Errorf("expected full rollback: %+v", info.RollbackErrors)
	}
	if len(info.RollbackActions) != 1 {
		t.Fatalf("expected 1 rollback action, got %d", len(info.RollbackActions))
	}
	if env.client.callsFor("follow_artist", "ar1") != 0 {
		t.Error("failed item must not be inverted")
	}
}

func TestRollbackPartialOnRestoreFailure(t *testing.T) {
	env := newTestEnv(t, &fakeResolver{}, &fakeLibrary{})
	plan := testPlan(removeTrackAction("t1"), removeTrackAction("t2"))

	if _, err := env.engine.Execute(context.Background(), plan, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	batch := env.mustGetBatch(t, "user1")

	env.client.failWith("save_track", "t2", forbiddenErr())

	info, err := env.engine.Rollback(context.Background(), batch.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !info.PartialRollback {
		t.Error("expected partial rollback")
	}
	if len(info.RollbackErrors) != 1 {
		t.Errorf("expected 1 rollback error, got %v", info.RollbackErrors)
	}
	if info.RollbackSummary.CompletedActions != 1 || info.RollbackSummary.FailedActions != 1 {
		t.Errorf("unexpected rollback summary: %+v", info.RollbackSummary)
	}

	original, err := env.batches.Get(batch.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if original.RolledBack {
		t.Error("partial rollback must not mark the original rolled back")
	}
}

func TestRollbackPartialWhenSnapshotMissing(t *testing.T) {
	env := newTestEnv(t, &fakeResolver{}, &fakeLibrary{})
	env.client.failWith("get_liked_track", "t1", forbiddenErr())

	plan := testPlan(removeTrackAction("t1"), removeTrackAction("t2"))
	if _, err := env.engine.Execute(context.Background(), plan, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	batch := env.mustGetBatch(t, "user1")

	info, err := env.engine.Rollback(context.Background(), batch.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !info.PartialRollback {
		t.Error("completed item without snapshot should force a partial rollback")
	}
	if len(info.RollbackActions) != 1 {
		t.Errorf("expected only the snapshotted item inverted, got %d", len(info.RollbackActions))
	}
	if env.client.callsFor("save_track", "t2") != 1 {
		t.Error("snapshotted item should still be restored")
	}
}

func TestRollbackEligibility(t *testing.T) {
	env := newTestEnv(t, &fakeResolver{}, &fakeLibrary{})

	t.Run("unknown batch", func(t *testing.T) {
		_, err := env.engine.Rollback(context.Background(), "missing", nil)
		if !errors.Is(err, shared.ErrBatchNotFound) {
			t.Errorf("expected ErrBatchNotFound, got %v", err)
		}
	})

	t.Run("non-terminal batch", func(t *testing.T) {
		batch := &models.ActionBatch{
			UserID:          "user1",
			Provider:        "spotify",
			IdempotencyKey:  "pending-batch",
			OptionsSnapshot: models.DefaultOptions(),
		}
		if err := env.batches.Create(batch); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_, err := env.engine.Rollback(context.Background(), batch.ID, nil)
		if !errors.Is(err, shared.ErrNotRollbackable) {
			t.Errorf("expected ErrNotRollbackable, got %v", err)
		}
	})

	t.Run("already rolled back", func(t *testing.T) {
		if _, err := env.engine.Execute(context.Background(), testPlan(removeTrackAction("t1")), "", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		batch := env.mustGetBatch(t, "user1")

		if _, err := env.engine.Rollback(context.Background(), batch.ID, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, err := env.engine.Rollback(context.Background(), batch.ID, nil)
		if !errors.Is(err, shared.ErrNotRollbackable) {
			t.Errorf("second rollback should be rejected, got %v", err)
		}
	})
}

func TestRollbackWithNothingToRestore(t *testing.T) {
	env := newTestEnv(t, &fakeResolver{}, &fakeLibrary{})
	env.client.failWith("remove_liked_track", "t1", forbiddenErr())

	if _, err := env.engine.Execute(context.Background(), testPlan(removeTrackAction("t1")), "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	batch := env.mustGetBatch(t, "user1")
	callsBefore := env.client.totalCalls()

	info, err := env.engine.Rollback(context.Background(), batch.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if info.PartialRollback || len(info.RollbackActions) != 0 {
		t.Errorf("unexpected rollback info: %+v", info)
	}
	if env.client.totalCalls() != callsBefore {
		t.Error("trivial rollback should make no provider calls")
	}

	original, err := env.batches.Get(batch.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !original.RolledBack {
		t.Error("batch with nothing to restore should still be marked rolled back")
	}
}

package enforcement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
)

// rollbackIdempotencyKey derives the rollback batch's key from the original
// batch ID, so retrying a rollback resolves to the same rollback batch.
func rollbackIdempotencyKey(batchID string) string {
	sum := sha256.Sum256([]byte("rollback:" + batchID))
	return hex.EncodeToString(sum[:])
}

// Rollback inverts a finished batch by replaying each completed item's
// before-state snapshot through the provider. The inverse actions are
// persisted as their own batch, so rollback itself is durable and auditable.
//
// Only completed items participate. Failed and skipped items changed nothing
// and need no inversion. A completed item without a snapshot or without an
// invertible action cannot be restored and marks the rollback partial, as
// does any restore that fails at the provider. The original batch is marked
// rolled back only when every completed item was restored.
func (e *Engine) Rollback(ctx context.Context, batchID string, progress chan<- ProgressUpdate) (*models.RollbackInfo, error) {
	batch, err := e.batches.Get(batchID)
	if err != nil {
		return nil, err
	}
	if !batch.CanRollback() {
		return nil, fmt.Errorf("batch %s (status %s, rolled_back %t): %w",
			batch.ID, batch.Status, batch.RolledBack, shared.ErrNotRollbackable)
	}

	items, err := e.items.ListByBatch(batchID)
	if err != nil {
		return nil, err
	}

	info := &models.RollbackInfo{}
	var restorable []*models.ActionItem
	for _, item := range items {
		if item.Status != models.ItemCompleted {
			continue
		}
		if !item.CanRollback() {
			info.PartialRollback = true
			info.RollbackErrors = append(info.RollbackErrors,
				fmt.Sprintf("%s %s: completed without a restorable snapshot", item.Action, item.EntityID))
			continue
		}
		restorable = append(restorable, item)
	}

	if len(restorable) == 0 {
		// Nothing the provider needs undone.
		if !info.PartialRollback {
			if err := e.batches.MarkRolledBack(batchID); err != nil {
				return nil, err
			}
		}
		e.logger.Info("rollback finished with no provider calls",
			"batch", batchID, "partial", info.PartialRollback)
		return info, nil
	}

	rollbackBatch := &models.ActionBatch{
		UserID:          batch.UserID,
		Provider:        batch.Provider,
		IdempotencyKey:  rollbackIdempotencyKey(batchID),
		OptionsSnapshot: batch.OptionsSnapshot,
	}
	if err := e.batches.Create(rollbackBatch); err != nil {
		if errors.Is(err, shared.ErrDuplicateBatch) {
			return nil, fmt.Errorf("rollback for batch %s already exists: %w", batchID, shared.ErrNotRollbackable)
		}
		return nil, err
	}
	info.RollbackBatchID = rollbackBatch.ID

	rollbackItems := make([]*models.ActionItem, 0, len(restorable))
	for _, item := range restorable {
		inverse, _ := item.Action.Inverse()
		rollbackItems = append(rollbackItems, &models.ActionItem{
			ID:          shared.GenerateID(),
			BatchID:     rollbackBatch.ID,
			EntityType:  item.EntityType,
			EntityID:    item.EntityID,
			EntityName:  item.EntityName,
			Action:      inverse,
			Status:      models.ItemPending,
			BeforeState: item.BeforeState,
		})
		info.RollbackActions = append(info.RollbackActions, models.PlannedAction{
			ID:         rollbackItems[len(rollbackItems)-1].ID,
			Type:       inverse,
			EntityType: item.EntityType,
			EntityID:   item.EntityID,
			EntityName: item.EntityName,
		})
	}

	total := len(rollbackItems)
	for i, item := range rollbackItems {
		emit(progress, rollbackActionUpdate(i+1, total, item.EntityName))
	}

	if err := e.items.CreateMany(rollbackItems); err != nil {
		return nil, fmt.Errorf("failed to persist rollback items: %w", err)
	}
	if err := e.batches.Claim(rollbackBatch.ID, e.executorID); err != nil {
		return nil, err
	}

	stats := e.statsFor(rollbackBatch.ID)

	token, client, err := e.prepare(ctx, batch.UserID, batch.Provider)
	if err != nil {
		for _, item := range rollbackItems {
			_ = e.items.MarkSkipped(item.ID)
		}
		_ = e.batches.UpdateStatus(rollbackBatch.ID, models.BatchRunning, models.BatchFailed)
		e.release(rollbackBatch.ID)
		return nil, err
	}

	e.runItems(ctx, rollbackBatch, rollbackItems, token, client, progress)

	summary, err := e.finalize(rollbackBatch, stats, progress)
	if err != nil {
		return nil, err
	}
	info.RollbackSummary = *summary

	executed, err := e.items.ListByBatch(rollbackBatch.ID)
	if err != nil {
		return nil, err
	}
	for i, item := range executed {
		if item.Status == models.ItemCompleted {
			continue
		}
		info.PartialRollback = true
		restoreErr := errors.New(item.ErrorMessage)
		info.RollbackErrors = append(info.RollbackErrors,
			fmt.Sprintf("%s %s: %s", item.Action, item.EntityID, item.ErrorMessage))
		emit(progress, rollbackFailedUpdate(i+1, total, item.EntityName, restoreErr))
	}

	if !info.PartialRollback {
		if err := e.batches.MarkRolledBack(batchID); err != nil {
			return nil, err
		}
	}

	e.logger.Info("rollback finished",
		"batch", batchID,
		"rollback_batch", rollbackBatch.ID,
		"restored", info.RollbackSummary.CompletedActions,
		"partial", info.PartialRollback,
	)
	return info, nil
}

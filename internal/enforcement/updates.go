package enforcement

import (
	"fmt"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display. Sends
// are non-blocking; a slow consumer misses intermediate updates, never
// stalls execution.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	ResolveBlocklist Phase = iota
	ScanLibrary
	PersistBatch
	ExecuteActions
	FinalizeBatch
	RollbackActions
)

func (p Phase) String() string {
	switch p {
	case ResolveBlocklist:
		return "resolve_blocklist"
	case ScanLibrary:
		return "scan_library"
	case PersistBatch:
		return "persist_batch"
	case ExecuteActions:
		return "execute_actions"
	case FinalizeBatch:
		return "finalize_batch"
	case RollbackActions:
		return "rollback_actions"
	default:
		return ""
	}
}

// emit sends an update without blocking. Dropped updates are fine; the batch
// store remains the source of truth for progress polling.
func emit(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func persistBatchUpdate(total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PersistBatch,
		Step:    0,
		Total:   total,
		Message: fmt.Sprintf("Recording batch of %d actions...", total),
	}
}

func actionCompletedUpdate(step, total int, item *models.ActionItem) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExecuteActions,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s", step, total, item.EntityName),
		Data:    item,
	}
}

func actionFailedUpdate(step, total int, item *models.ActionItem, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExecuteActions,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, item.EntityName, err),
	}
}

func actionSkippedUpdate(step, total int, item *models.ActionItem) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExecuteActions,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] - %s (skipped)", step, total, item.EntityName),
	}
}

func finalizeBatchUpdate(summary *models.BatchSummary) ProgressUpdate {
	return ProgressUpdate{
		Phase: FinalizeBatch,
		Step:  summary.TotalActions,
		Total: summary.TotalActions,
		Message: fmt.Sprintf("Batch %s: %d completed, %d failed, %d skipped",
			summary.Status, summary.CompletedActions, summary.FailedActions, summary.SkippedActions),
		Data: summary,
	}
}

func rollbackActionUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RollbackActions,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Restoring: %s...", step, total, name),
	}
}

func rollbackFailedUpdate(step, total int, name string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   RollbackActions,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, name, err),
	}
}

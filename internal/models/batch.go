package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BatchStatus is the lifecycle state of an [ActionBatch].
type BatchStatus string

const (
	BatchPending            BatchStatus = "pending"
	BatchRunning            BatchStatus = "running"
	BatchCompleted          BatchStatus = "completed"
	BatchPartiallyCompleted BatchStatus = "partially_completed"
	BatchFailed             BatchStatus = "failed"
	BatchCancelled          BatchStatus = "cancelled"
)

// Terminal reports whether the batch has finished executing.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchPartiallyCompleted, BatchFailed, BatchCancelled:
		return true
	}
	return false
}

// ParseBatchStatus converts a stored string into a [BatchStatus].
func ParseBatchStatus(s string) (BatchStatus, error) {
	switch BatchStatus(s) {
	case BatchPending, BatchRunning, BatchCompleted, BatchPartiallyCompleted, BatchFailed, BatchCancelled:
		return BatchStatus(s), nil
	}
	return "", fmt.Errorf("unknown batch status: %q", s)
}

// ItemStatus is the lifecycle state of an [ActionItem].
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

// Terminal reports whether the item has resolved.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemSkipped
}

// CanTransition reports whether moving to the target status is legal.
// Transitions are monotonic: Pending may move to any terminal state, and
// no transition leaves a terminal state.
func (s ItemStatus) CanTransition(to ItemStatus) bool {
	return s == ItemPending && to.Terminal()
}

// ParseItemStatus converts a stored string into an [ItemStatus].
func ParseItemStatus(s string) (ItemStatus, error) {
	switch ItemStatus(s) {
	case ItemPending, ItemCompleted, ItemFailed, ItemSkipped:
		return ItemStatus(s), nil
	}
	return "", fmt.Errorf("unknown item status: %q", s)
}

// DeriveBatchStatus computes the terminal batch status from item counts.
// A batch with every item completed is Completed; zero completed items is
// Failed; a mix is PartiallyCompleted.
func DeriveBatchStatus(total, completed, failed, skipped int) BatchStatus {
	switch {
	case completed == total:
		return BatchCompleted
	case completed == 0:
		return BatchFailed
	default:
		return BatchPartiallyCompleted
	}
}

// ActionBatch is the durable unit of execution and idempotency.
// (user_id, provider, idempotency_key) is unique; a duplicate store request
// returns the existing batch unchanged.
type ActionBatch struct {
	ID              string             `json:"id"`
	Sequence        int                `json:"-"`
	UserID          string             `json:"user_id"`
	Provider        string             `json:"provider"`
	IdempotencyKey  string             `json:"idempotency_key"`
	DryRun          bool               `json:"dry_run"`
	OptionsSnapshot EnforcementOptions `json:"options_snapshot"`
	Status          BatchStatus        `json:"status"`
	ClaimedBy       string             `json:"-"`
	RolledBack      bool               `json:"rolled_back"`
	CancelRequested bool               `json:"-"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
}

// Validate checks required batch fields.
func (b *ActionBatch) Validate() error {
	if b.UserID == "" {
		return fmt.Errorf("batch missing user_id")
	}
	if b.Provider == "" {
		return fmt.Errorf("batch missing provider")
	}
	if b.IdempotencyKey == "" {
		return fmt.Errorf("batch missing idempotency_key")
	}
	return nil
}

// CanRollback reports whether the batch is eligible for rollback: terminal,
// not a dry run, and not already rolled back.
func (b *ActionBatch) CanRollback() bool {
	return b.Status.Terminal() && !b.DryRun && !b.RolledBack
}

// ActionItem is one provider mutation owned by exactly one batch.
type ActionItem struct {
	ID             string          `json:"id"`
	BatchID        string          `json:"batch_id"`
	EntityType     EntityType      `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	EntityName     string          `json:"entity_name"`
	Action         ActionType      `json:"action"`
	IdempotencyKey string          `json:"idempotency_key"`
	DependsOn      []string        `json:"depends_on,omitempty"`
	Status         ItemStatus      `json:"status"`
	BeforeState    json.RawMessage `json:"before_state,omitempty"`
	AfterState     json.RawMessage `json:"after_state,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	RetryCount     int             `json:"retry_count"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ItemIdempotencyKey derives the deterministic key for an item. The key is a
// pure function of its inputs so re-submitting an unchanged plan under the
// same batch never creates a duplicate item.
func ItemIdempotencyKey(batchID string, entityType EntityType, entityID string, action ActionType) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		batchID, string(entityType), entityID, string(action),
	}, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// CanRollback reports whether this item is rollback-eligible: it completed,
// a before-state snapshot was captured, and its action has an inverse.
func (i *ActionItem) CanRollback() bool {
	if i.Status != ItemCompleted || len(i.BeforeState) == 0 {
		return false
	}
	_, ok := i.Action.Inverse()
	return ok
}

// Validate checks required item fields.
func (i *ActionItem) Validate() error {
	if i.BatchID == "" {
		return fmt.Errorf("item missing batch_id")
	}
	if i.EntityID == "" {
		return fmt.Errorf("item missing entity_id")
	}
	if i.Action == "" {
		return fmt.Errorf("item missing action")
	}
	return nil
}

// BatchSummary is a read-only aggregate over a batch's items.
type BatchSummary struct {
	BatchID          string      `json:"batch_id"`
	Status           BatchStatus `json:"status"`
	TotalActions     int         `json:"total_actions"`
	CompletedActions int         `json:"completed_actions"`
	FailedActions    int         `json:"failed_actions"`
	SkippedActions   int         `json:"skipped_actions"`
	ExecutionTimeMS  int64       `json:"execution_time_ms"`
	APICalls         int         `json:"api_calls"`
	RateLimitDelayMS int64       `json:"rate_limit_delay_ms"`
}

// BatchProgress extends the summary with live execution detail for polling.
type BatchProgress struct {
	BatchSummary
	CurrentAction        string `json:"current_action,omitempty"`
	EstimatedRemainingMS int64  `json:"estimated_remaining_ms"`
}

// RollbackInfo is the durable result of a rollback operation.
type RollbackInfo struct {
	RollbackBatchID string          `json:"rollback_batch_id"`
	RollbackActions []PlannedAction `json:"rollback_actions"`
	RollbackSummary BatchSummary    `json:"rollback_summary"`
	PartialRollback bool            `json:"partial_rollback"`
	RollbackErrors  []string        `json:"rollback_errors,omitempty"`
}

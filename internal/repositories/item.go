package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
)

// ItemRepository persists [models.ActionItem] rows.
//
// Item idempotency keys are unique per batch; CreateMany uses INSERT OR IGNORE
// so re-submitting an unchanged plan under the same batch never duplicates rows.
// Terminal status writes are conditional on the item still being Pending.
type ItemRepository struct {
	db *sql.DB
}

// NewItemRepository creates a new ItemRepository with the given database connection
func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// CreateMany inserts a batch's items in a single transaction.
func (r *ItemRepository) CreateMany(items []*models.ActionItem) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR IGNORE INTO batch_items (id, batch_id, entity_type, entity_id, entity_name, action, idempotency_key, depends_on, status, before_state, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		if item.ID == "" {
			item.ID = shared.GenerateID()
		}
		if item.Status == "" {
			item.Status = models.ItemPending
		}
		if item.IdempotencyKey == "" {
			item.IdempotencyKey = models.ItemIdempotencyKey(item.BatchID, item.EntityType, item.EntityID, item.Action)
		}
		item.CreatedAt = now
		item.UpdatedAt = now

		dependsOn, err := json.Marshal(item.DependsOn)
		if err != nil {
			return fmt.Errorf("failed to marshal dependencies: %w", err)
		}

		if _, err := tx.Exec(query,
			item.ID,
			item.BatchID,
			string(item.EntityType),
			item.EntityID,
			item.EntityName,
			string(item.Action),
			item.IdempotencyKey,
			string(dependsOn),
			string(item.Status),
			nullableJSON(item.BeforeState),
			item.RetryCount,
			item.CreatedAt,
			item.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit items: %w", err)
	}

	return nil
}

// Get retrieves a single item by ID.
func (r *ItemRepository) Get(id string) (*models.ActionItem, error) {
	query := itemSelect + " WHERE id = ?"
	return r.scanOne(r.db.QueryRow(query, id))
}

// ListByBatch retrieves all items owned by a batch in insertion order.
func (r *ItemRepository) ListByBatch(batchID string) ([]*models.ActionItem, error) {
	query := itemSelect + " WHERE batch_id = ? ORDER BY rowid"

	rows, err := r.db.Query(query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*models.ActionItem
	for rows.Next() {
		item, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// MarkCompleted resolves a Pending item as Completed with its state snapshots.
// A nil before snapshot preserves one recorded at insert time.
func (r *ItemRepository) MarkCompleted(id string, before, after json.RawMessage, retryCount int) error {
	query := `
		UPDATE batch_items
		SET status = ?, before_state = COALESCE(?, before_state), after_state = ?, retry_count = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return r.resolve(query, string(models.ItemCompleted), nullableJSON(before), nullableJSON(after), retryCount, time.Now().UTC(), id, string(models.ItemPending))
}

// MarkFailed resolves a Pending item as Failed with the recorded error.
func (r *ItemRepository) MarkFailed(id, errorMessage string, retryCount int) error {
	query := `
		UPDATE batch_items
		SET status = ?, error_message = ?, retry_count = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return r.resolve(query, string(models.ItemFailed), errorMessage, retryCount, time.Now().UTC(), id, string(models.ItemPending))
}

// MarkSkipped resolves a Pending item as Skipped.
func (r *ItemRepository) MarkSkipped(id string) error {
	query := `
		UPDATE batch_items
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	return r.resolve(query, string(models.ItemSkipped), time.Now().UTC(), id, string(models.ItemPending))
}

// CountByStatus aggregates a batch's items by status.
func (r *ItemRepository) CountByStatus(batchID string) (map[models.ItemStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM batch_items
		WHERE batch_id = ?
		GROUP BY status
	`

	rows, err := r.db.Query(query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ItemStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}

		parsed, err := models.ParseItemStatus(status)
		if err != nil {
			return nil, err
		}
		counts[parsed] = count
	}

	return counts, rows.Err()
}

// resolve executes a conditional terminal-status update. Zero affected rows
// means the item was not Pending, which is a stale update.
func (r *ItemRepository) resolve(query string, args ...any) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update item status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: item not pending", shared.ErrStaleUpdate)
	}

	return nil
}

const itemSelect = `
	SELECT id, batch_id, entity_type, entity_id, entity_name, action, idempotency_key, depends_on, status, before_state, after_state, error_message, retry_count, created_at, updated_at
	FROM batch_items
`

func (r *ItemRepository) scanOne(row rowScanner) (*models.ActionItem, error) {
	var item models.ActionItem
	var entityType, action, status, dependsOn string
	var beforeState, afterState, errorMessage sql.NullString

	err := row.Scan(
		&item.ID,
		&item.BatchID,
		&entityType,
		&item.EntityID,
		&item.EntityName,
		&action,
		&item.IdempotencyKey,
		&dependsOn,
		&status,
		&beforeState,
		&afterState,
		&errorMessage,
		&item.RetryCount,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("item not found")
		}
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}

	item.EntityType = models.EntityType(entityType)

	parsedAction, err := models.ParseActionType(action)
	if err != nil {
		return nil, err
	}
	item.Action = parsedAction

	parsedStatus, err := models.ParseItemStatus(status)
	if err != nil {
		return nil, err
	}
	item.Status = parsedStatus

	if err := json.Unmarshal([]byte(dependsOn), &item.DependsOn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dependencies: %w", err)
	}

	if beforeState.Valid {
		item.BeforeState = json.RawMessage(beforeState.String)
	}
	if afterState.Valid {
		item.AfterState = json.RawMessage(afterState.String)
	}
	if errorMessage.Valid {
		item.ErrorMessage = errorMessage.String
	}

	return &item, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

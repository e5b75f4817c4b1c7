package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
	"github.com/mattn/go-sqlite3"
)

// BatchRepository persists [models.ActionBatch] rows.
//
// The (user_id, provider, idempotency_key) tuple is enforced unique by the
// schema; Create surfaces a duplicate as [shared.ErrDuplicateBatch] so callers
// can return the existing batch instead of double-executing.
type BatchRepository struct {
	db *sql.DB
}

// NewBatchRepository creates a new BatchRepository with the given database connection
func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create inserts a new [models.ActionBatch] with generated ID and sequence.
func (r *BatchRepository) Create(batch *models.ActionBatch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "batches")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if batch.ID == "" {
		batch.ID = shared.GenerateID()
	}
	batch.Sequence = sequence
	if batch.Status == "" {
		batch.Status = models.BatchPending
	}

	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.UpdatedAt = now

	options, err := json.Marshal(batch.OptionsSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	query := `
		INSERT INTO batches (id, sequence, user_id, provider, idempotency_key, dry_run, options_snapshot, status, claimed_by, rolled_back, cancel_requested, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		batch.ID,
		sequence,
		batch.UserID,
		batch.Provider,
		batch.IdempotencyKey,
		batch.DryRun,
		string(options),
		string(batch.Status),
		batch.ClaimedBy,
		batch.RolledBack,
		batch.CancelRequested,
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %s/%s", shared.ErrDuplicateBatch, batch.UserID, batch.Provider)
		}
		return fmt.Errorf("failed to insert batch: %w", err)
	}

	return nil
}

// Get retrieves a batch by ID.
func (r *BatchRepository) Get(id string) (*models.ActionBatch, error) {
	query := batchSelect + " WHERE id = ?"
	return r.scanOne(r.db.QueryRow(query, id))
}

// FindByIdempotencyKey retrieves the batch stored for (user, provider, key),
// or [shared.ErrBatchNotFound] if none exists.
func (r *BatchRepository) FindByIdempotencyKey(userID, provider, key string) (*models.ActionBatch, error) {
	query := batchSelect + " WHERE user_id = ? AND provider = ? AND idempotency_key = ?"
	return r.scanOne(r.db.QueryRow(query, userID, provider, key))
}

// Claim transitions a Pending batch to Running and records the claiming
// executor. Exactly one concurrent claimer wins; losers receive
// [shared.ErrBatchClaimed].
func (r *BatchRepository) Claim(id, claimedBy string) error {
	query := `
		UPDATE batches
		SET status = ?, claimed_by = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.Exec(query, string(models.BatchRunning), claimedBy, time.Now().UTC(), id, string(models.BatchPending))
	if err != nil {
		return fmt.Errorf("failed to claim batch: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrBatchClaimed, id)
	}

	return nil
}

// UpdateStatus moves a batch from the expected status to the next one.
// completed_at is set exactly once, the moment status first becomes terminal.
// A mismatched expected status returns [shared.ErrStaleUpdate].
func (r *BatchRepository) UpdateStatus(id string, expected, next models.BatchStatus) error {
	now := time.Now().UTC()

	var query string
	var args []any
	if next.Terminal() {
		query = `
			UPDATE batches
			SET status = ?, updated_at = ?, completed_at = COALESCE(completed_at, ?)
			WHERE id = ? AND status = ?
		`
		args = []any{string(next), now, now, id, string(expected)}
	} else {
		query = `
			UPDATE batches
			SET status = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`
		args = []any{string(next), now, id, string(expected)}
	}

	result, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: batch %s not in status %s", shared.ErrStaleUpdate, id, expected)
	}

	return nil
}

// RequestCancel flags a batch so a running executor, in this process or
// another, stops dispatching its remaining items.
func (r *BatchRepository) RequestCancel(id string) error {
	query := `
		UPDATE batches
		SET cancel_requested = 1, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrBatchNotFound, id)
	}

	return nil
}

// MarkRolledBack flags a batch whose eligible items have all been reverted.
func (r *BatchRepository) MarkRolledBack(id string) error {
	query := `
		UPDATE batches
		SET rolled_back = 1, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark batch rolled back: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrBatchNotFound, id)
	}

	return nil
}

// ListByUser retrieves a user's most recent batches, newest first.
func (r *BatchRepository) ListByUser(userID string, limit int) ([]*models.ActionBatch, error) {
	if limit <= 0 {
		limit = 20
	}

	query := batchSelect + " WHERE user_id = ? ORDER BY sequence DESC LIMIT ?"

	rows, err := r.db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.ActionBatch
	for rows.Next() {
		batch, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}

	return batches, rows.Err()
}

const batchSelect = `
	SELECT id, sequence, user_id, provider, idempotency_key, dry_run, options_snapshot, status, claimed_by, rolled_back, cancel_requested, created_at, updated_at, completed_at
	FROM batches
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *BatchRepository) scanOne(row rowScanner) (*models.ActionBatch, error) {
	var batch models.ActionBatch
	var options string
	var status string
	var claimedBy sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&batch.ID,
		&batch.Sequence,
		&batch.UserID,
		&batch.Provider,
		&batch.IdempotencyKey,
		&batch.DryRun,
		&options,
		&status,
		&claimedBy,
		&batch.RolledBack,
		&batch.CancelRequested,
		&batch.CreatedAt,
		&batch.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}

	parsed, err := models.ParseBatchStatus(status)
	if err != nil {
		return nil, err
	}
	batch.Status = parsed

	if err := json.Unmarshal([]byte(options), &batch.OptionsSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}

	if claimedBy.Valid {
		batch.ClaimedBy = claimedBy.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		batch.CompletedAt = &t
	}

	return &batch, nil
}

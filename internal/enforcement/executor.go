package enforcement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/providers"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/resilience"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
)

// PlanIdempotencyKey derives a deterministic batch key from the plan's
// content. Submitting an unchanged plan twice produces the same key, so the
// store resolves the replay to the original batch.
func PlanIdempotencyKey(plan *models.EnforcementPlan) string {
	parts := []string{plan.UserID, plan.Provider}
	for _, action := range plan.Actions {
		parts = append(parts, strings.Join([]string{
			string(action.Type), string(action.EntityType), action.EntityID,
		}, "\x1f"))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1e")))
	return hex.EncodeToString(sum[:])
}

// itemResult is one worker's report back to the dispatcher.
type itemResult struct {
	id     string
	status models.ItemStatus
	err    error
}

// Execute persists the plan as a batch and runs every action against the
// provider. An empty idempotencyKey derives one from the plan content. If a
// batch already exists for the key, the existing batch's summary is returned
// and nothing new is executed.
//
// Dry runs touch neither the store nor the provider: progress updates are
// emitted for each would-be action and a synthetic summary is returned.
func (e *Engine) Execute(ctx context.Context, plan *models.EnforcementPlan, idempotencyKey string, progress chan<- ProgressUpdate) (*models.BatchSummary, error) {
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if idempotencyKey == "" {
		idempotencyKey = PlanIdempotencyKey(plan)
	}

	if plan.Options.DryRun {
		return e.executeDryRun(plan, progress), nil
	}

	if existing, err := e.batches.FindByIdempotencyKey(plan.UserID, plan.Provider, idempotencyKey); err == nil {
		e.logger.Info("idempotency key already executed", "batch", existing.ID, "key", idempotencyKey)
		return e.Summary(existing.ID)
	} else if !errors.Is(err, shared.ErrBatchNotFound) {
		return nil, err
	}

	batch := &models.ActionBatch{
		UserID:          plan.UserID,
		Provider:        plan.Provider,
		IdempotencyKey:  idempotencyKey,
		OptionsSnapshot: plan.Options,
	}
	if err := e.batches.Create(batch); err != nil {
		if errors.Is(err, shared.ErrDuplicateBatch) {
			// Lost a concurrent race for the same key; defer to the winner.
			if existing, ferr := e.batches.FindByIdempotencyKey(plan.UserID, plan.Provider, idempotencyKey); ferr == nil {
				return e.Summary(existing.ID)
			}
		}
		return nil, err
	}

	items := planToItems(batch.ID, plan)
	emit(progress, persistBatchUpdate(len(items)))
	if err := e.items.CreateMany(items); err != nil {
		return nil, fmt.Errorf("failed to persist batch items: %w", err)
	}

	// Claim owns the Pending -> Running transition; one winner per batch.
	if err := e.batches.Claim(batch.ID, e.executorID); err != nil {
		return nil, err
	}

	stats := e.statsFor(batch.ID)

	token, client, err := e.prepare(ctx, plan.UserID, plan.Provider)
	if err != nil {
		// Zero actions attempted: every item is skipped and the batch fails.
		e.logger.Error("batch preparation failed", "batch", batch.ID, "error", err)
		for _, item := range items {
			_ = e.items.MarkSkipped(item.ID)
		}
		_ = e.batches.UpdateStatus(batch.ID, models.BatchRunning, models.BatchFailed)
		e.release(batch.ID)
		return nil, err
	}

	e.runItems(ctx, batch, items, token, client, progress)

	summary, err := e.finalize(batch, stats, progress)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// executeDryRun reports what would happen without persisting or mutating.
func (e *Engine) executeDryRun(plan *models.EnforcementPlan, progress chan<- ProgressUpdate) *models.BatchSummary {
	total := len(plan.Actions)
	emit(progress, persistBatchUpdate(total))
	for i, action := range plan.Actions {
		item := &models.ActionItem{
			EntityType: action.EntityType,
			EntityID:   action.EntityID,
			EntityName: action.EntityName,
			Action:     action.Type,
		}
		emit(progress, actionCompletedUpdate(i+1, total, item))
	}

	// Every action is reported as it would complete, so the preview counts
	// mirror a fully successful run.
	summary := &models.BatchSummary{
		Status:           models.BatchCompleted,
		TotalActions:     total,
		CompletedActions: total,
	}
	emit(progress, finalizeBatchUpdate(summary))
	return summary
}

// planToItems converts planned actions into batch items, rewriting the
// planner's action IDs in dependency lists to the new item IDs.
func planToItems(batchID string, plan *models.EnforcementPlan) []*models.ActionItem {
	idByAction := make(map[string]string, len(plan.Actions))
	items := make([]*models.ActionItem, 0, len(plan.Actions))

	for _, action := range plan.Actions {
		item := &models.ActionItem{
			ID:             shared.GenerateID(),
			BatchID:        batchID,
			EntityType:     action.EntityType,
			EntityID:       action.EntityID,
			EntityName:     action.EntityName,
			Action:         action.Type,
			IdempotencyKey: models.ItemIdempotencyKey(batchID, action.EntityType, action.EntityID, action.Type),
			Status:         models.ItemPending,
		}
		idByAction[action.ID] = item.ID
		items = append(items, item)
	}

	for i, action := range plan.Actions {
		for _, dep := range action.DependsOn {
			if itemID, ok := idByAction[dep]; ok {
				items[i].DependsOn = append(items[i].DependsOn, itemID)
			}
		}
	}

	return items
}

// prepare resolves the provider client and a valid token. Vault calls run
// behind their own circuit breaker so a credential-service outage fails the
// batch before any provider call is made.
func (e *Engine) prepare(ctx context.Context, userID, provider string) (string, providers.Client, error) {
	client, err := e.clients.Resolve(provider)
	if err != nil {
		return "", nil, err
	}

	if !e.vaultBreaker.CanExecute() {
		return "", nil, fmt.Errorf("token vault unavailable: %w", shared.ErrCircuitOpen)
	}
	token, err := e.vault.GetValidToken(ctx, userID, provider)
	if err != nil {
		e.vaultBreaker.RecordFailure()
		return "", nil, fmt.Errorf("failed to obtain token: %w", err)
	}
	e.vaultBreaker.RecordSuccess()

	return token, client, nil
}

// runItems drives the worker pool over the batch's items, honoring
// dependency order. An item whose dependency failed or was skipped is
// skipped without a provider call.
func (e *Engine) runItems(ctx context.Context, batch *models.ActionBatch, items []*models.ActionItem, token string, client providers.Client, progress chan<- ProgressUpdate) {
	total := len(items)
	status := make(map[string]models.ItemStatus, total)
	byID := make(map[string]*models.ActionItem, total)
	for _, item := range items {
		status[item.ID] = models.ItemPending
		byID[item.ID] = item
	}

	jobs := make(chan *models.ActionItem, total)
	results := make(chan itemResult, total)

	workers := e.workers
	if workers > total {
		workers = total
	}
	for w := 0; w < workers; w++ {
		go func() {
			for item := range jobs {
				results <- e.executeItem(ctx, batch, item, token, client)
			}
		}()
	}
	defer close(jobs)

	dispatched := make(map[string]bool, total)
	terminal := 0
	inFlight := 0
	step := 0

	for terminal < total {
		if e.isCancelled(batch.ID) && inFlight == 0 {
			for id, st := range status {
				if st == models.ItemPending && !dispatched[id] {
					_ = e.items.MarkSkipped(id)
					status[id] = models.ItemSkipped
					terminal++
					step++
					emit(progress, actionSkippedUpdate(step, total, byID[id]))
				}
			}
			break
		}

		moved := false
		for _, item := range items {
			if dispatched[item.ID] || status[item.ID] != models.ItemPending {
				continue
			}

			ready, blocked := depState(item, status)
			if blocked {
				_ = e.items.MarkSkipped(item.ID)
				status[item.ID] = models.ItemSkipped
				dispatched[item.ID] = true
				terminal++
				step++
				emit(progress, actionSkippedUpdate(step, total, item))
				moved = true
				continue
			}
			if !ready || e.isCancelled(batch.ID) {
				continue
			}

			dispatched[item.ID] = true
			inFlight++
			jobs <- item
			moved = true
		}

		if inFlight > 0 {
			res := <-results
			inFlight--
			terminal++
			step++
			status[res.id] = res.status

			item := byID[res.id]
			switch res.status {
			case models.ItemCompleted:
				emit(progress, actionCompletedUpdate(step, total, item))
			case models.ItemSkipped:
				emit(progress, actionSkippedUpdate(step, total, item))
			default:
				emit(progress, actionFailedUpdate(step, total, item, res.err))
			}
			continue
		}

		if !moved {
			// Nothing runnable and nothing in flight: remaining items are
			// unreachable (dependency cycle). Skip them rather than hang.
			for id, st := range status {
				if st == models.ItemPending {
					_ = e.items.MarkSkipped(id)
					status[id] = models.ItemSkipped
					terminal++
					step++
					emit(progress, actionSkippedUpdate(step, total, byID[id]))
				}
			}
		}
	}
}

// depState reports whether every dependency completed (ready) or any
// resolved without completing (blocked).
func depState(item *models.ActionItem, status map[string]models.ItemStatus) (ready, blocked bool) {
	for _, dep := range item.DependsOn {
		st, ok := status[dep]
		if !ok {
			continue
		}
		switch st {
		case models.ItemCompleted:
		case models.ItemFailed, models.ItemSkipped:
			return false, true
		default:
			return false, false
		}
	}
	return true, false
}

// executeItem runs one action: circuit check, rate-limited before-state
// capture, then the mutation under the retry policy.
func (e *Engine) executeItem(ctx context.Context, batch *models.ActionBatch, item *models.ActionItem, token string, client providers.Client) itemResult {
	stats := e.statsFor(batch.ID)
	stats.setCurrent(fmt.Sprintf("%s %s", item.Action, item.EntityName))

	if e.isCancelled(batch.ID) {
		_ = e.items.MarkSkipped(item.ID)
		return itemResult{id: item.ID, status: models.ItemSkipped}
	}

	breaker := e.breakerFor(batch.Provider)
	if !breaker.CanExecute() {
		err := fmt.Errorf("provider %s: %w", batch.Provider, shared.ErrCircuitOpen)
		_ = e.items.MarkFailed(item.ID, err.Error(), 0)
		return itemResult{id: item.ID, status: models.ItemFailed, err: err}
	}

	limiter := e.limiterFor(batch.Provider)

	before, err := e.captureBefore(ctx, item, token, client, limiter, stats)
	if err != nil {
		if errors.Is(err, shared.ErrEntityNotFound) {
			// The entity is already gone; nothing to remove.
			_ = e.items.MarkSkipped(item.ID)
			return itemResult{id: item.ID, status: models.ItemSkipped}
		}
		if errors.Is(err, shared.ErrDailyQuotaExceeded) || errors.Is(err, context.Canceled) {
			_ = e.items.MarkFailed(item.ID, err.Error(), 0)
			return itemResult{id: item.ID, status: models.ItemFailed, err: err}
		}
		// Snapshot capture is best effort: proceed without a before state,
		// which leaves the item ineligible for rollback.
		e.logger.Warn("before-state capture failed", "item", item.ID, "error", err)
		before = nil
	}

	attempts, err := e.retry.Do(ctx, func() error {
		if werr := limiter.Wait(ctx); werr != nil {
			return werr
		}
		stats.countCall()
		return e.mutate(ctx, item, token, client)
	})
	retryCount := attempts - 1
	if retryCount < 0 {
		retryCount = 0
	}

	if err != nil {
		if providers.IsRecoverable(err) {
			breaker.RecordFailure()
		}
		_ = e.items.MarkFailed(item.ID, err.Error(), retryCount)
		return itemResult{id: item.ID, status: models.ItemFailed, err: err}
	}

	breaker.RecordSuccess()
	if merr := e.items.MarkCompleted(item.ID, before, nil, retryCount); merr != nil {
		return itemResult{id: item.ID, status: models.ItemFailed, err: merr}
	}
	return itemResult{id: item.ID, status: models.ItemCompleted}
}

// captureBefore reads back the entity's current state so a completed action
// can later be inverted.
func (e *Engine) captureBefore(ctx context.Context, item *models.ActionItem, token string, client providers.Client, limiter *resilience.RateLimiter, stats *runStats) (json.RawMessage, error) {
	if _, invertible := item.Action.Inverse(); !invertible {
		// Restore actions carry their snapshot from the original item.
		return nil, nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}
	stats.countCall()

	var state any
	var err error
	switch item.Action {
	case models.ActionRemoveLikedTrack:
		state, err = client.GetLikedTrack(ctx, token, item.EntityID)
	case models.ActionRemovePlaylistTrack:
		playlistID, trackID, ok := splitPlaylistEntity(item.EntityID)
		if !ok {
			return nil, fmt.Errorf("malformed playlist entity id %q: %w", item.EntityID, shared.ErrInvalidInput)
		}
		state, err = client.GetPlaylistTrack(ctx, token, playlistID, trackID)
	case models.ActionUnfollowArtist:
		state, err = client.GetFollowedArtist(ctx, token, item.EntityID)
	case models.ActionRemoveSavedAlbum:
		state, err = client.GetSavedAlbum(ctx, token, item.EntityID)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(state)
}

// mutate performs the provider call for an action. Restore actions replay
// the before-state snapshot captured when the forward action ran.
func (e *Engine) mutate(ctx context.Context, item *models.ActionItem, token string, client providers.Client) error {
	switch item.Action {
	case models.ActionRemoveLikedTrack:
		return client.RemoveLikedTrack(ctx, token, item.EntityID)
	case models.ActionRemovePlaylistTrack:
		playlistID, trackID, ok := splitPlaylistEntity(item.EntityID)
		if !ok {
			return fmt.Errorf("malformed playlist entity id %q: %w", item.EntityID, shared.ErrInvalidInput)
		}
		return client.RemovePlaylistTrack(ctx, token, playlistID, trackID)
	case models.ActionUnfollowArtist:
		return client.UnfollowArtist(ctx, token, item.EntityID)
	case models.ActionRemoveSavedAlbum:
		return client.RemoveSavedAlbum(ctx, token, item.EntityID)
	case models.ActionRestoreLikedTrack:
		return client.SaveTrack(ctx, token, item.EntityID)
	case models.ActionRestorePlaylistTrack:
		playlistID, trackID, ok := splitPlaylistEntity(item.EntityID)
		if !ok {
			return fmt.Errorf("malformed playlist entity id %q: %w", item.EntityID, shared.ErrInvalidInput)
		}
		var state providers.PlaylistTrackState
		if err := json.Unmarshal(item.BeforeState, &state); err != nil {
			return fmt.Errorf("unreadable before state: %w", shared.ErrInvalidInput)
		}
		return client.AddPlaylistTrack(ctx, token, playlistID, trackID, state.Position)
	case models.ActionRefollowArtist:
		return client.FollowArtist(ctx, token, item.EntityID)
	case models.ActionRestoreSavedAlbum:
		return client.SaveAlbum(ctx, token, item.EntityID)
	default:
		return fmt.Errorf("unsupported action %q: %w", item.Action, shared.ErrInvalidInput)
	}
}

// splitPlaylistEntity unpacks the "playlistID:trackID" composite used for
// playlist-track entities.
func splitPlaylistEntity(entityID string) (playlistID, trackID string, ok bool) {
	return strings.Cut(entityID, ":")
}

// finalize derives and stores the batch's terminal status and assembles the
// summary.
func (e *Engine) finalize(batch *models.ActionBatch, stats *runStats, progress chan<- ProgressUpdate) (*models.BatchSummary, error) {
	counts, err := e.items.CountByStatus(batch.ID)
	if err != nil {
		return nil, err
	}

	completed := counts[models.ItemCompleted]
	failed := counts[models.ItemFailed]
	skipped := counts[models.ItemSkipped]
	total := completed + failed + skipped + counts[models.ItemPending]

	next := models.DeriveBatchStatus(total, completed, failed, skipped)
	if e.isCancelled(batch.ID) {
		next = models.BatchCancelled
	}
	if err := e.batches.UpdateStatus(batch.ID, models.BatchRunning, next); err != nil {
		return nil, err
	}

	stats.mu.Lock()
	stats.finishedAt = time.Now()
	elapsed := stats.finishedAt.Sub(stats.startedAt)
	apiCalls := stats.apiCalls
	stats.mu.Unlock()

	summary := &models.BatchSummary{
		BatchID:          batch.ID,
		Status:           next,
		TotalActions:     total,
		CompletedActions: completed,
		FailedActions:    failed,
		SkippedActions:   skipped,
		ExecutionTimeMS:  elapsed.Milliseconds(),
		APICalls:         apiCalls,
		RateLimitDelayMS: e.limiterFor(batch.Provider).Delay().Milliseconds(),
	}

	emit(progress, finalizeBatchUpdate(summary))
	e.logger.Info("batch finished",
		"batch", batch.ID,
		"status", next,
		"completed", completed,
		"failed", failed,
		"skipped", skipped,
		"api_calls", apiCalls,
	)
	e.release(batch.ID)
	return summary, nil
}

// Cancel requests a graceful stop for a running batch. In-flight actions
// finish; remaining pending items are skipped and the batch lands in the
// cancelled status.
func (e *Engine) Cancel(batchID string) error {
	batch, err := e.batches.Get(batchID)
	if err != nil {
		return err
	}
	if batch.Status.Terminal() {
		return fmt.Errorf("batch %s already %s: %w", batchID, batch.Status, shared.ErrInvalidTransition)
	}

	// Persist first: the executor may live in another process and only the
	// store is shared with it.
	if err := e.batches.RequestCancel(batchID); err != nil {
		return err
	}
	e.mu.Lock()
	e.cancelled[batchID] = true
	e.mu.Unlock()
	e.logger.Info("batch cancellation requested", "batch", batchID)
	return nil
}

// isCancelled consults the in-process flag first, then polls the store so a
// cancel requested from another process is honored. A positive answer is
// cached; cancellation never un-happens.
func (e *Engine) isCancelled(batchID string) bool {
	e.mu.Lock()
	flagged := e.cancelled[batchID]
	e.mu.Unlock()
	if flagged {
		return true
	}

	batch, err := e.batches.Get(batchID)
	if err != nil || !batch.CancelRequested {
		return false
	}
	e.mu.Lock()
	e.cancelled[batchID] = true
	e.mu.Unlock()
	return true
}

// Summary aggregates a batch's item counts into a [models.BatchSummary].
func (e *Engine) Summary(batchID string) (*models.BatchSummary, error) {
	batch, err := e.batches.Get(batchID)
	if err != nil {
		return nil, err
	}
	counts, err := e.items.CountByStatus(batchID)
	if err != nil {
		return nil, err
	}

	summary := &models.BatchSummary{
		BatchID:          batch.ID,
		Status:           batch.Status,
		CompletedActions: counts[models.ItemCompleted],
		FailedActions:    counts[models.ItemFailed],
		SkippedActions:   counts[models.ItemSkipped],
	}
	for _, n := range counts {
		summary.TotalActions += n
	}

	e.mu.Lock()
	stats, ok := e.stats[batchID]
	e.mu.Unlock()
	if ok {
		stats.mu.Lock()
		summary.APICalls = stats.apiCalls
		end := stats.finishedAt
		if end.IsZero() {
			end = time.Now()
		}
		summary.ExecutionTimeMS = end.Sub(stats.startedAt).Milliseconds()
		stats.mu.Unlock()
		summary.RateLimitDelayMS = e.limiterFor(batch.Provider).Delay().Milliseconds()
	}
	return summary, nil
}

// Progress extends the summary with live detail for polling a running batch.
func (e *Engine) Progress(batchID string) (*models.BatchProgress, error) {
	summary, err := e.Summary(batchID)
	if err != nil {
		return nil, err
	}

	progress := &models.BatchProgress{BatchSummary: *summary}

	e.mu.Lock()
	stats, ok := e.stats[batchID]
	e.mu.Unlock()
	if ok {
		stats.mu.Lock()
		progress.CurrentAction = stats.currentAction
		stats.mu.Unlock()
	}

	done := summary.CompletedActions + summary.FailedActions + summary.SkippedActions
	remaining := summary.TotalActions - done
	if done > 0 && remaining > 0 {
		progress.EstimatedRemainingMS = summary.ExecutionTimeMS / int64(done) * int64(remaining)
	}
	return progress, nil
}

// History lists the user's most recent batches, newest first.
func (e *Engine) History(userID string, limit int) ([]*models.ActionBatch, error) {
	return e.batches.ListByUser(userID, limit)
}

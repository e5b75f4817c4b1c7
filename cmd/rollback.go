package main

import (
	"context"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/enforcement"
	"github.com/urfave/cli/v3"
)

// Rollback inverts a finished batch, restoring what it removed.
func (r *Runner) Rollback(ctx context.Context, cmd *cli.Command) error {
	batchID := cmd.String("batch")

	d, err := r.connect("")
	if err != nil {
		return err
	}
	defer d.Close()

	r.logger.Info("rolling back batch", "batch", batchID)

	progress := make(chan enforcement.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			if update.Phase == enforcement.RollbackActions || update.Phase == enforcement.ExecuteActions {
				r.writePlain("  %s\n", update.Message)
			}
		}
	}()

	info, err := d.engine.Rollback(ctx, batchID, progress)
	close(progress)
	<-done
	if err != nil {
		return err
	}

	r.writePlainHeader("Rollback Complete")
	r.writePlain("Rollback batch: %s\n", info.RollbackBatchID)
	r.writePlain("Restored: %d of %d actions\n",
		info.RollbackSummary.CompletedActions, info.RollbackSummary.TotalActions)
	if info.PartialRollback {
		r.writePlain("Partial rollback: some actions could not be restored\n")
		for _, msg := range info.RollbackErrors {
			r.writePlain("  - %s\n", msg)
		}
	}
	return nil
}

// BatchProgress prints a batch's live counts and estimated remaining time.
func (r *Runner) BatchProgress(ctx context.Context, cmd *cli.Command) error {
	d, err := r.connect("")
	if err != nil {
		return err
	}
	defer d.Close()

	progress, err := d.engine.Progress(cmd.String("batch"))
	if err != nil {
		return err
	}
	return r.writeJSON(progress, cmd.Bool("pretty"))
}

// History lists a user's batches, newest first.
func (r *Runner) History(ctx context.Context, cmd *cli.Command) error {
	d, err := r.connect("")
	if err != nil {
		return err
	}
	defer d.Close()

	batches, err := d.engine.History(cmd.String("user"), int(cmd.Int("limit")))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(batches, true)
	}

	r.writePlainHeader("Batch History")
	if len(batches) == 0 {
		r.writePlain("No batches found\n")
		return nil
	}
	for _, batch := range batches {
		flags := ""
		if batch.DryRun {
			flags += " [dry-run]"
		}
		if batch.RolledBack {
			flags += " [rolled back]"
		}
		r.writePlain("%s  %-20s %s%s\n",
			batch.CreatedAt.Format("2006-01-02 15:04"), batch.Status, batch.ID, flags)
	}
	return nil
}

// Cancel requests a graceful stop; running actions finish, pending ones skip.
func (r *Runner) Cancel(ctx context.Context, cmd *cli.Command) error {
	batchID := cmd.String("batch")

	d, err := r.connect("")
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.engine.Cancel(batchID); err != nil {
		return err
	}
	r.writePlain("✓ Cancellation requested for batch %s\n", batchID)
	return nil
}

package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/enforcement"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/ui"
	"github.com/urfave/cli/v3"
)

// optionsFromFlags assembles enforcement options from the planning flags.
func optionsFromFlags(cmd *cli.Command) (models.EnforcementOptions, error) {
	options := models.EnforcementOptions{
		BlockFeaturing:        cmd.Bool("block-featuring"),
		BlockCollaborations:   cmd.Bool("block-collaborations"),
		BlockSongwriterOnly:   cmd.Bool("block-songwriter"),
		PreserveUserPlaylists: cmd.Bool("preserve-playlists"),
	}

	switch a := models.Aggressiveness(cmd.String("aggressiveness")); a {
	case models.Conservative, models.Moderate, models.Aggressive:
		options.Aggressiveness = a
	default:
		return options, fmt.Errorf("%w: unknown aggressiveness %q", shared.ErrInvalidInput, a)
	}

	return options, nil
}

// Plan builds and prints the enforcement plan without executing it.
func (r *Runner) Plan(ctx context.Context, cmd *cli.Command) error {
	options, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}

	d, err := r.connect(cmd.String("blocklist"))
	if err != nil {
		return err
	}
	defer d.Close()

	userID := cmd.String("user")
	provider := cmd.String("provider")
	r.logger.Info("building enforcement plan", "user", userID, "provider", provider)

	plan, err := d.engine.Plan(ctx, userID, provider, options)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(plan, cmd.Bool("pretty"))
	}

	r.writePlainHeader("Enforcement Plan")
	r.writePlain("User: %s  Provider: %s\n", plan.UserID, plan.Provider)
	r.writePlain("Blocked artists: %d\n", len(plan.BlockedArtistIDs))
	r.writePlain("Planned actions: %d (est. %s)\n\n", len(plan.Actions), plan.EstimatedDuration())

	for actionType, actions := range plan.ActionsByType() {
		r.writePlain("%s (%d):\n", actionType, len(actions))
		for _, action := range actions {
			r.writePlain("  - %s [%s, %.2f]\n", action.EntityName, action.Reason, action.Confidence)
		}
	}
	return nil
}

// Preview dry-runs the plan: every action is reported, nothing is touched.
func (r *Runner) Preview(ctx context.Context, cmd *cli.Command) error {
	options, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	options.DryRun = true

	d, err := r.connect(cmd.String("blocklist"))
	if err != nil {
		return err
	}
	defer d.Close()

	plan, err := d.engine.Plan(ctx, cmd.String("user"), cmd.String("provider"), options)
	if err != nil {
		return err
	}

	summary, err := r.executeWithProgress(ctx, d.engine, plan, "")
	if err != nil {
		return err
	}

	r.writePlain("\nDry run: %d actions would execute, nothing was changed\n", summary.TotalActions)
	return nil
}

// Enforce executes the plan as a durable batch.
func (r *Runner) Enforce(ctx context.Context, cmd *cli.Command) error {
	options, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	options.DryRun = cmd.Bool("dry-run")

	d, err := r.connect(cmd.String("blocklist"))
	if err != nil {
		return err
	}
	defer d.Close()

	userID := cmd.String("user")
	provider := cmd.String("provider")
	key := cmd.String("key")

	r.logger.Info("starting enforcement", "user", userID, "provider", provider, "dry_run", options.DryRun)

	plan, err := d.engine.Plan(ctx, userID, provider, options)
	if err != nil {
		return err
	}
	if len(plan.Actions) == 0 {
		r.writePlain("Nothing to enforce: no blocked artists found in the library\n")
		return nil
	}

	if cmd.Bool("watch") {
		model := ui.NewModel(func(progress chan<- enforcement.ProgressUpdate) (*models.BatchSummary, error) {
			return d.engine.Execute(ctx, plan, key, progress)
		})
		_, err := tea.NewProgram(model).Run()
		return err
	}

	summary, err := r.executeWithProgress(ctx, d.engine, plan, key)
	if err != nil {
		return err
	}

	r.writePlain("\n")
	r.writePlainHeader("Enforcement Complete")
	r.writePlain("Batch: %s\n", summary.BatchID)
	r.writePlain("Status: %s\n", summary.Status)
	r.writePlain("Actions: %d total, %d completed, %d failed, %d skipped\n",
		summary.TotalActions, summary.CompletedActions, summary.FailedActions, summary.SkippedActions)
	r.writePlain("API calls: %d (%.1fs execution, %.1fs rate limited)\n",
		summary.APICalls,
		float64(summary.ExecutionTimeMS)/1000,
		float64(summary.RateLimitDelayMS)/1000)
	return nil
}

// executeWithProgress runs the batch while echoing progress updates to the
// output writer.
func (r *Runner) executeWithProgress(ctx context.Context, engine *enforcement.Engine, plan *models.EnforcementPlan, key string) (*models.BatchSummary, error) {
	progress := make(chan enforcement.ProgressUpdate, 50)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for update := range progress {
			switch update.Phase {
			case enforcement.PersistBatch:
				r.writePlain("Recording %d actions...\n", update.Total)
			case enforcement.ExecuteActions:
				r.writePlain("  %s\n", update.Message)
			case enforcement.RollbackActions:
				r.writePlain("  %s\n", update.Message)
			}
		}
	}()

	summary, err := engine.Execute(ctx, plan, key, progress)
	close(progress)
	<-done
	return summary, err
}

// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Aliases:  []string{"u"},
		Usage:    "User ID owning the batch",
		Required: true,
	}
}

func providerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "provider",
		Usage: "Streaming provider",
		Value: "spotify",
	}
}

// planningFlags are shared by plan, preview, and enforce.
func planningFlags() []cli.Flag {
	return []cli.Flag{
		userFlag(),
		providerFlag(),
		&cli.StringFlag{
			Name:     "blocklist",
			Aliases:  []string{"b"},
			Usage:    "Path to JSON blocklist file",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "aggressiveness",
			Usage: "Sweep breadth: conservative, moderate, or aggressive",
			Value: "moderate",
		},
		&cli.BoolFlag{
			Name:  "block-featuring",
			Usage: "Also remove tracks where a blocked artist is featured",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "block-collaborations",
			Usage: "Also remove collaborations with blocked artists",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "block-songwriter",
			Usage: "Also remove songwriter-only credits",
		},
		&cli.BoolFlag{
			Name:  "preserve-playlists",
			Usage: "Leave playlists the user owns untouched",
		},
	}
}

// setupCommand handles database setup.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Initialize database and run migrations",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Setup,
	}
}

// authCommand manages provider tokens in the vault.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage provider credentials",
		Commands: []*cli.Command{
			{
				Name:  "save",
				Usage: "Store provider tokens in the vault",
				Flags: []cli.Flag{
					userFlag(),
					providerFlag(),
					&cli.StringFlag{
						Name:     "access-token",
						Usage:    "OAuth access token",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "refresh-token",
						Usage: "OAuth refresh token",
					},
					&cli.IntFlag{
						Name:  "expires-in",
						Usage: "Access token lifetime in seconds",
						Value: 3600,
					},
				},
				Action: r.AuthSave,
			},
			{
				Name:   "status",
				Usage:  "Check whether a valid token is available",
				Flags:  []cli.Flag{userFlag(), providerFlag()},
				Action: r.AuthStatus,
			},
		},
	}
}

// planCommand resolves the blocklist against the library without executing.
func planCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Build an enforcement plan without executing it",
		Flags: append(planningFlags(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		),
		Action: r.Plan,
	}
}

// previewCommand runs the plan as a dry run.
func previewCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "preview",
		Usage:  "Dry-run the plan: show every action, touch nothing",
		Flags:  planningFlags(),
		Action: r.Preview,
	}
}

// enforceCommand executes the plan as a durable batch.
func enforceCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "enforce",
		Usage: "Execute the enforcement plan against the provider",
		Flags: append(planningFlags(),
			&cli.StringFlag{
				Name:  "key",
				Usage: "Idempotency key (derived from the plan when omitted)",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report what would happen without persisting or mutating",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Render live progress in a terminal UI",
			},
		),
		Action: r.Enforce,
	}
}

// progressCommand polls a batch's live progress.
func progressCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "progress",
		Usage: "Show a batch's progress and counts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "batch",
				Usage:    "Batch ID",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.BatchProgress,
	}
}

// rollbackCommand inverts a finished batch.
func rollbackCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "Restore the library state a batch removed",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "batch",
				Usage:    "Batch ID to roll back",
				Required: true,
			},
		},
		Action: r.Rollback,
	}
}

// historyCommand lists a user's batches.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent batches, newest first",
		Flags: []cli.Flag{
			userFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of batches to return",
				Value: 20,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.History,
	}
}

// cancelCommand requests a graceful stop for a running batch.
func cancelCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cancel",
		Usage: "Cancel a running batch; pending actions are skipped",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "batch",
				Usage:    "Batch ID to cancel",
				Required: true,
			},
		},
		Action: r.Cancel,
	}
}

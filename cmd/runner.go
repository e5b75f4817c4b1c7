package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/enforcement"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/providers"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/repositories"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, planCommand, previewCommand, enforceCommand,
		progressCommand, rollbackCommand, historyCommand, cancelCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// deps bundles everything a batch command needs; Close releases the database.
type deps struct {
	db      *sql.DB
	engine  *enforcement.Engine
	vault   *repositories.TokenRepository
	spotify *providers.SpotifyClient
}

func (d *deps) Close() {
	d.db.Close()
}

// connect opens the configured database and wires the enforcement engine.
// An empty blocklist path leaves the planner without a resolver, which is
// fine for commands that never plan (progress, rollback, history, cancel).
func (r *Runner) connect(blocklistPath string) (*deps, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	vault := repositories.NewTokenRepository(db, r.oauthConfigs())
	spotify := providers.NewSpotifyClient(r.httpClient)
	registry := providers.NewRegistry()
	registry.Register(spotify)

	var resolver enforcement.Resolver
	if blocklistPath != "" {
		resolver = newFileResolver(blocklistPath)
	}

	engine := enforcement.NewEngine(enforcement.EngineOpts{
		Batches:  repositories.NewBatchRepository(db),
		Items:    repositories.NewItemRepository(db),
		Vault:    vault,
		Clients:  registry,
		Resolver: resolver,
		Library:  newSpotifyLibrary(spotify, vault),
		Logger:   r.logger,
		Config:   r.config,
	})

	return &deps{db: db, engine: engine, vault: vault, spotify: spotify}, nil
}

// oauthConfigs maps provider names to oauth2 configs for token refresh.
func (r *Runner) oauthConfigs() map[string]*oauth2.Config {
	spotify := r.config.Credentials.Spotify
	if spotify.ClientID == "" || spotify.ClientSecret == "" {
		return nil
	}

	return map[string]*oauth2.Config{
		"spotify": {
			ClientID:     spotify.ClientID,
			ClientSecret: spotify.ClientSecret,
			RedirectURL:  spotify.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://accounts.spotify.com/authorize",
				TokenURL: "https://accounts.spotify.com/api/token",
			},
		},
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

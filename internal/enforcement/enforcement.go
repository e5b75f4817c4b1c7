// package enforcement implements do-not-play enforcement against a user's
// streaming library.
//
// The core abstraction is Engine, which turns resolved blocklist matches into
// a durable, idempotent, rate-limited batch of provider mutations. Operations
// emit progress updates via channels for non-blocking status reporting to
// CLI/UI layers; the batch store remains the source of truth for polling.
package enforcement

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/providers"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/resilience"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
)

// TokenVault issues valid provider credentials. The engine never inspects
// how credentials are stored or encrypted.
type TokenVault interface {
	GetValidToken(ctx context.Context, userID, provider string) (string, error)
}

// BlockedArtist is one resolved blocklist entry for a user.
type BlockedArtist struct {
	ArtistID   string
	Name       string
	Reason     models.MatchReason
	Confidence float64
}

// Resolver supplies the resolved blocklist for a user. Fuzzy matching and
// category subscriptions happen upstream; the engine only consumes results.
type Resolver interface {
	BlockedArtists(ctx context.Context, userID, provider string) ([]BlockedArtist, error)
}

// CreditRole describes how an artist is connected to a library entity.
type CreditRole string

const (
	RolePrimary      CreditRole = "primary"
	RoleFeatured     CreditRole = "featured"
	RoleCollaborator CreditRole = "collaborator"
	RoleSongwriter   CreditRole = "songwriter"
)

// ArtistCredit is one artist's connection to a track or album.
type ArtistCredit struct {
	ArtistID string
	Name     string
	Role     CreditRole
}

// LikedTrack is a track in the user's liked songs.
type LikedTrack struct {
	TrackID string
	Name    string
	Credits []ArtistCredit
}

// PlaylistEntry is one track inside a playlist.
type PlaylistEntry struct {
	TrackID  string
	Name     string
	Position int
	Credits  []ArtistCredit
}

// Playlist is a user playlist with its entries.
type Playlist struct {
	PlaylistID  string
	Name        string
	OwnedByUser bool
	Entries     []PlaylistEntry
}

// SavedAlbum is an album saved to the user's library.
type SavedAlbum struct {
	AlbumID string
	Name    string
	Credits []ArtistCredit
}

// FollowedArtist is an artist the user follows.
type FollowedArtist struct {
	ArtistID string
	Name     string
}

// LibrarySource enumerates the user's library on one provider.
type LibrarySource interface {
	LikedTracks(ctx context.Context, userID string) ([]LikedTrack, error)
	Playlists(ctx context.Context, userID string) ([]Playlist, error)
	SavedAlbums(ctx context.Context, userID string) ([]SavedAlbum, error)
	FollowedArtists(ctx context.Context, userID string) ([]FollowedArtist, error)
}

// BatchStore is the subset of the batch repository the engine depends on.
type BatchStore interface {
	Create(batch *models.ActionBatch) error
	Get(id string) (*models.ActionBatch, error)
	FindByIdempotencyKey(userID, provider, key string) (*models.ActionBatch, error)
	Claim(id, claimedBy string) error
	UpdateStatus(id string, expected, next models.BatchStatus) error
	RequestCancel(id string) error
	MarkRolledBack(id string) error
	ListByUser(userID string, limit int) ([]*models.ActionBatch, error)
}

// ItemStore is the subset of the item repository the engine depends on.
type ItemStore interface {
	CreateMany(items []*models.ActionItem) error
	ListByBatch(batchID string) ([]*models.ActionItem, error)
	MarkCompleted(id string, before, after json.RawMessage, retryCount int) error
	MarkFailed(id, errorMessage string, retryCount int) error
	MarkSkipped(id string) error
	CountByStatus(batchID string) (map[models.ItemStatus]int, error)
}

// ClientResolver resolves a provider name to its capability client.
type ClientResolver interface {
	Resolve(name string) (providers.Client, error)
}

// runStats tracks in-flight execution detail not persisted by the store.
type runStats struct {
	mu            sync.Mutex
	startedAt     time.Time
	finishedAt    time.Time
	apiCalls      int
	currentAction string
}

func (s *runStats) countCall() {
	s.mu.Lock()
	s.apiCalls++
	s.mu.Unlock()
}

func (s *runStats) setCurrent(action string) {
	s.mu.Lock()
	s.currentAction = action
	s.mu.Unlock()
}

// Engine coordinates planning, execution, and rollback for one batch store.
type Engine struct {
	batches BatchStore
	items   ItemStore
	vault   TokenVault
	clients ClientResolver
	planner *Planner
	logger  *log.Logger

	executorID string
	workers    int
	retry      *resilience.RetryPolicy
	limits     map[string]shared.RateLimitConfig
	circuit    shared.CircuitConfig

	mu           sync.Mutex
	limiters     map[string]*resilience.RateLimiter
	breakers     map[string]*resilience.CircuitBreaker
	vaultBreaker *resilience.CircuitBreaker
	stats        map[string]*runStats
	cancelled    map[string]bool
}

// EngineOpts contains the dependencies for creating an [Engine].
type EngineOpts struct {
	Batches  BatchStore
	Items    ItemStore
	Vault    TokenVault
	Clients  ClientResolver
	Resolver Resolver
	Library  LibrarySource
	Logger   *log.Logger
	Config   *shared.Config
}

// NewEngine creates an Engine with the provided dependencies.
func NewEngine(opts EngineOpts) *Engine {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}

	cfg := opts.Config.Enforcement
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	if workers > 10 {
		workers = 10
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	base := time.Duration(cfg.BackoffBaseMS) * time.Millisecond
	max := time.Duration(cfg.BackoffMaxMS) * time.Millisecond

	return &Engine{
		batches:      opts.Batches,
		items:        opts.Items,
		vault:        opts.Vault,
		clients:      opts.Clients,
		planner:      NewPlanner(opts.Resolver, opts.Library, opts.Logger),
		logger:       opts.Logger,
		executorID:   shared.GenerateID(),
		workers:      workers,
		retry:        resilience.NewRetryPolicy(maxRetries, base, max, cfg.BackoffJitter, providers.IsRecoverable),
		limits:       opts.Config.RateLimits,
		circuit:      opts.Config.Circuit,
		limiters:     make(map[string]*resilience.RateLimiter),
		breakers:     make(map[string]*resilience.CircuitBreaker),
		vaultBreaker: resilience.NewCircuitBreaker(opts.Config.Circuit.FailureThreshold, opts.Config.Circuit.RecoveryTimeout()),
		stats:        make(map[string]*runStats),
		cancelled:    make(map[string]bool),
	}
}

// limiterFor returns the provider's rate limiter, creating it on first use.
func (e *Engine) limiterFor(provider string) *resilience.RateLimiter {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limiter, ok := e.limiters[provider]; ok {
		return limiter
	}

	cfg, ok := e.limits[provider]
	if !ok {
		cfg = shared.RateLimitConfig{RequestsPerWindow: 10, WindowSeconds: 1, BurstLimit: 10}
	}
	limiter := resilience.NewRateLimiter(cfg)
	e.limiters[provider] = limiter
	return limiter
}

// breakerFor returns the provider's circuit breaker, creating it on first use.
// Each provider gets its own breaker so one outage does not block the others.
func (e *Engine) breakerFor(provider string) *resilience.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[provider]; ok {
		return breaker
	}

	breaker := resilience.NewCircuitBreaker(e.circuit.FailureThreshold, e.circuit.RecoveryTimeout())
	e.breakers[provider] = breaker
	return breaker
}

func (e *Engine) statsFor(batchID string) *runStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	if stats, ok := e.stats[batchID]; ok {
		return stats
	}
	stats := &runStats{startedAt: time.Now()}
	e.stats[batchID] = stats
	return stats
}

// release drops in-memory bookkeeping for a batch that reached a terminal
// state. The store keeps the durable record.
func (e *Engine) release(batchID string) {
	e.mu.Lock()
	delete(e.stats, batchID)
	delete(e.cancelled, batchID)
	e.mu.Unlock()
}

// Plan resolves the user's blocklist against their library and returns the
// ordered enforcement plan.
func (e *Engine) Plan(ctx context.Context, userID, provider string, options models.EnforcementOptions) (*models.EnforcementPlan, error) {
	return e.planner.BuildPlan(ctx, userID, provider, options)
}

package enforcement

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/providers"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/repositories"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

type fakeResolver struct {
	artists []BlockedArtist
	err     error
}

func (r *fakeResolver) BlockedArtists(ctx context.Context, userID, provider string) ([]BlockedArtist, error) {
	return r.artists, r.err
}

type fakeLibrary struct {
	liked     []LikedTrack
	playlists []Playlist
	albums    []SavedAlbum
	follows   []FollowedArtist
	err       error
}

func (l *fakeLibrary) LikedTracks(ctx context.Context, userID string) ([]LikedTrack, error) {
	return l.liked, l.err
}

func (l *fakeLibrary) Playlists(ctx context.Context, userID string) ([]Playlist, error) {
	return l.playlists, l.err
}

func (l *fakeLibrary) SavedAlbums(ctx context.Context, userID string) ([]SavedAlbum, error) {
	return l.albums, l.err
}

func (l *fakeLibrary) FollowedArtists(ctx context.Context, userID string) ([]FollowedArtist, error) {
	return l.follows, l.err
}

type fakeVault struct {
	mu    sync.Mutex
	token string
	err   error
	calls int
}

func (v *fakeVault) GetValidToken(ctx context.Context, userID, provider string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.err != nil {
		return "", v.err
	}
	return v.token, nil
}

// fakeClient records every provider call and fails on demand, either
// persistently or for a bounded number of attempts. An onCall hook, when set,
// runs before each call so tests can interleave side effects mid-execution.
type fakeClient struct {
	mu        sync.Mutex
	calls     []string
	fail      map[string]error
	failTimes map[string]int
	positions map[string]int
	onCall    func(op, id string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		fail:      make(map[string]error),
		failTimes: make(map[string]int),
		positions: make(map[string]int),
	}
}

// failWith makes every call for op:id return err.
func (c *fakeClient) failWith(op, id string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[op+":"+id] = err
}

// failOnce makes the next n calls for op:id return err, then succeed.
func (c *fakeClient) failOnce(op, id string, err error, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[op+":"+id] = err
	c.failTimes[op+":"+id] = n
}

func (c *fakeClient) record(op, id string) error {
	c.mu.Lock()
	hook := c.onCall
	c.mu.Unlock()
	if hook != nil {
		hook(op, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := op + ":" + id
	c.calls = append(c.calls, key)

	err, ok := c.fail[key]
	if !ok {
		return nil
	}
	if n, bounded := c.failTimes[key]; bounded {
		if n <= 0 {
			return nil
		}
		c.failTimes[key] = n - 1
	}
	return err
}

// callsFor counts recorded calls matching op:id.
func (c *fakeClient) callsFor(op, id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, call := range c.calls {
		if call == op+":"+id {
			count++
		}
	}
	return count
}

func (c *fakeClient) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *fakeClient) Name() string { return "spotify" }

func (c *fakeClient) GetLikedTrack(ctx context.Context, token, trackID string) (*providers.LikedTrackState, error) {
	if err := c.record("get_liked_track", trackID); err != nil {
		return nil, err
	}
	return &providers.LikedTrackState{TrackID: trackID, Name: "Track " + trackID}, nil
}

func (c *fakeClient) GetPlaylistTrack(ctx context.Context, token, playlistID, trackID string) (*providers.PlaylistTrackState, error) {
	if err := c.record("get_playlist_track", playlistID+":"+trackID); err != nil {
		return nil, err
	}
	return &providers.PlaylistTrackState{
		PlaylistID: playlistID,
		TrackID:    trackID,
		Name:       "Track " + trackID,
		Position:   7,
	}, nil
}

func (c *fakeClient) GetFollowedArtist(ctx context.Context, token, artistID string) (*providers.FollowedArtistState, error) {
	if err := c.record("get_followed_artist", artistID); err != nil {
		return nil, err
	}
	return &providers.FollowedArtistState{ArtistID: artistID, Name: "Artist " + artistID}, nil
}

func (c *fakeClient) GetSavedAlbum(ctx context.Context, token, albumID string) (*providers.SavedAlbumState, error) {
	if err := c.record("get_saved_album", albumID); err != nil {
		return nil, err
	}
	return &providers.SavedAlbumState{AlbumID: albumID, Name: "Album " + albumID}, nil
}

func (c *fakeClient) RemoveLikedTrack(ctx context.Context, token, trackID string) error {
	return c.record("remove_liked_track", trackID)
}

func (c *fakeClient) RemovePlaylistTrack(ctx context.Context, token, playlistID, trackID string) error {
	return c.record("remove_playlist_track", playlistID+":"+trackID)
}

func (c *fakeClient) UnfollowArtist(ctx context.Context, token, artistID string) error {
	return c.record("unfollow_artist", artistID)
}

func (c *fakeClient) RemoveSavedAlbum(ctx context.Context, token, albumID string) error {
	return c.record("remove_saved_album", albumID)
}

func (c *fakeClient) SaveTrack(ctx context.Context, token, trackID string) error {
	return c.record("save_track", trackID)
}

func (c *fakeClient) AddPlaylistTrack(ctx context.Context, token, playlistID, trackID string, position int) error {
	c.mu.Lock()
	c.positions[playlistID+":"+trackID] = position
	c.mu.Unlock()
	return c.record("add_playlist_track", playlistID+":"+trackID)
}

func (c *fakeClient) positionFor(playlistID, trackID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions[playlistID+":"+trackID]
}

func (c *fakeClient) FollowArtist(ctx context.Context, token, artistID string) error {
	return c.record("follow_artist", artistID)
}

func (c *fakeClient) SaveAlbum(ctx context.Context, token, albumID string) error {
	return c.record("save_album", albumID)
}

type fakeClientResolver struct {
	client providers.Client
}

func (r *fakeClientResolver) Resolve(name string) (providers.Client, error) {
	if r.client == nil {
		return nil, shared.ErrUnknownProvider
	}
	return r.client, nil
}

// testEnv wires an Engine over real sqlite repositories and fake
// collaborators tuned for fast tests.
type testEnv struct {
	engine  *Engine
	batches *repositories.BatchRepository
	items   *repositories.ItemRepository
	client  *fakeClient
	vault   *fakeVault
}

func newTestEnv(t *testing.T, resolver Resolver, library LibrarySource) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	batches := repositories.NewBatchRepository(db)
	items := repositories.NewItemRepository(db)
	client := newFakeClient()
	vault := &fakeVault{token: "tok"}

	cfg := shared.DefaultConfig()
	cfg.Enforcement.Workers = 2
	cfg.Enforcement.MaxRetries = 3
	cfg.Enforcement.BackoffBaseMS = 1
	cfg.Enforcement.BackoffMaxMS = 2
	cfg.Enforcement.BackoffJitter = 0
	cfg.RateLimits = map[string]shared.RateLimitConfig{
		"spotify": {RequestsPerWindow: 10000, WindowSeconds: 1, BurstLimit: 10000},
	}

	engine := NewEngine(EngineOpts{
		Batches:  batches,
		Items:    items,
		Vault:    vault,
		Clients:  &fakeClientResolver{client: client},
		Resolver: resolver,
		Library:  library,
		Config:   cfg,
	})

	return &testEnv{
		engine:  engine,
		batches: batches,
		items:   items,
		client:  client,
		vault:   vault,
	}
}

func testPlan(actions ...models.PlannedAction) *models.EnforcementPlan {
	return &models.EnforcementPlan{
		UserID:   "user1",
		Provider: "spotify",
		Options:  models.DefaultOptions(),
		Actions:  actions,
	}
}

func removeTrackAction(trackID string) models.PlannedAction {
	return models.PlannedAction{
		ID:         shared.GenerateID(),
		Type:       models.ActionRemoveLikedTrack,
		EntityType: models.EntityTrack,
		EntityID:   trackID,
		EntityName: "Track " + trackID,
		Reason:     models.ReasonExactMatch,
		Confidence: 1,
	}
}

func unfollowAction(artistID string) models.PlannedAction {
	return models.PlannedAction{
		ID:         shared.GenerateID(),
		Type:       models.ActionUnfollowArtist,
		EntityType: models.EntityArtist,
		EntityID:   artistID,
		EntityName: "Artist " + artistID,
		Reason:     models.ReasonExactMatch,
		Confidence: 1,
	}
}

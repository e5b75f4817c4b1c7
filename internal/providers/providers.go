// package providers defines the capability interface the enforcement engine
// uses to mutate a user's library on a streaming provider.
//
// The engine is provider-agnostic: it consumes [Client] and resolves concrete
// implementations through [Registry] at the boundary, never by branching on a
// provider name inside the executor.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
)

// ErrorKind classifies a provider call failure.
type ErrorKind int

const (
	// KindRecoverable covers transient failures (5xx, network) worth retrying.
	KindRecoverable ErrorKind = iota
	// KindRateLimited is a provider-reported 429.
	KindRateLimited
	// KindNotFound means the entity does not exist on the provider.
	KindNotFound
	// KindForbidden means the credential lacks permission for the operation.
	KindForbidden
)

// Error is a classified provider call failure.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.Status, e.Message)
}

// Unwrap maps the error onto the shared sentinel for its kind so callers can
// use errors.Is without importing this package's taxonomy.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindRateLimited:
		return shared.ErrRateLimited
	case KindNotFound:
		return shared.ErrEntityNotFound
	case KindForbidden:
		return shared.ErrForbidden
	default:
		return shared.ErrAPIRequest
	}
}

// Recoverable reports whether retrying the call could succeed.
func (e *Error) Recoverable() bool {
	return e.Kind == KindRecoverable || e.Kind == KindRateLimited
}

// IsRecoverable classifies any error for the retry policy. Errors that are
// not a provider [Error] are treated as non-recoverable.
func IsRecoverable(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Recoverable()
	}
	return false
}

// LikedTrackState snapshots a liked track before removal.
type LikedTrackState struct {
	TrackID string   `json:"track_id"`
	Name    string   `json:"name"`
	Artists []string `json:"artists,omitempty"`
}

// PlaylistTrackState snapshots a playlist entry, including its position so a
// rollback can re-insert it where it was.
type PlaylistTrackState struct {
	PlaylistID string `json:"playlist_id"`
	TrackID    string `json:"track_id"`
	Name       string `json:"name"`
	Position   int    `json:"position"`
}

// FollowedArtistState snapshots an artist follow before removal.
type FollowedArtistState struct {
	ArtistID string `json:"artist_id"`
	Name     string `json:"name"`
}

// SavedAlbumState snapshots a saved album before removal.
type SavedAlbumState struct {
	AlbumID string   `json:"album_id"`
	Name    string   `json:"name"`
	Artists []string `json:"artists,omitempty"`
}

// Client is the capability set one provider implementation exposes. All calls
// take an access token issued by the token vault; the client never refreshes
// or inspects credentials itself.
type Client interface {
	Name() string

	// Read-backs used to capture before-state for rollback.
	GetLikedTrack(ctx context.Context, token, trackID string) (*LikedTrackState, error)
	GetPlaylistTrack(ctx context.Context, token, playlistID, trackID string) (*PlaylistTrackState, error)
	GetFollowedArtist(ctx context.Context, token, artistID string) (*FollowedArtistState, error)
	GetSavedAlbum(ctx context.Context, token, albumID string) (*SavedAlbumState, error)

	// Enforcement mutations.
	RemoveLikedTrack(ctx context.Context, token, trackID string) error
	RemovePlaylistTrack(ctx context.Context, token, playlistID, trackID string) error
	UnfollowArtist(ctx context.Context, token, artistID string) error
	RemoveSavedAlbum(ctx context.Context, token, albumID string) error

	// Restores used by the rollback engine.
	SaveTrack(ctx context.Context, token, trackID string) error
	AddPlaylistTrack(ctx context.Context, token, playlistID, trackID string, position int) error
	FollowArtist(ctx context.Context, token, artistID string) error
	SaveAlbum(ctx context.Context, token, albumID string) error
}

// Registry resolves provider names to clients at the boundary layer.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register adds a client under its own name.
func (r *Registry) Register(client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.Name()] = client
}

// Resolve returns the client registered under name.
func (r *Registry) Resolve(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownProvider, name)
	}
	return client, nil
}

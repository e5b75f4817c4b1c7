package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/enforcement"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/providers"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
)

// blocklistEntry is one row of the JSON blocklist file.
type blocklistEntry struct {
	ArtistID   string  `json:"artist_id"`
	Name       string  `json:"name"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// fileResolver reads the resolved blocklist from a JSON file. Upstream list
// management (fuzzy matching, community subscriptions) happens elsewhere;
// the file is its export format.
type fileResolver struct {
	path string
}

func newFileResolver(path string) *fileResolver {
	return &fileResolver{path: path}
}

func (f *fileResolver) BlockedArtists(ctx context.Context, userID, provider string) ([]enforcement.BlockedArtist, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blocklist: %w", err)
	}

	var entries []blocklistEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse blocklist: %w", err)
	}

	blocked := make([]enforcement.BlockedArtist, 0, len(entries))
	for _, entry := range entries {
		if entry.ArtistID == "" {
			return nil, fmt.Errorf("%w: blocklist entry missing artist_id", shared.ErrInvalidInput)
		}

		reason := models.ReasonExactMatch
		if entry.Reason != "" {
			parsed, err := models.ParseMatchReason(entry.Reason)
			if err != nil {
				return nil, fmt.Errorf("blocklist entry %s: %w", entry.ArtistID, err)
			}
			reason = parsed
		}

		confidence := entry.Confidence
		if confidence == 0 {
			confidence = 1
		}

		blocked = append(blocked, enforcement.BlockedArtist{
			ArtistID:   entry.ArtistID,
			Name:       entry.Name,
			Reason:     reason,
			Confidence: confidence,
		})
	}

	return blocked, nil
}

// spotifyLibrary adapts the Spotify client to [enforcement.LibrarySource].
// Spotify does not expose songwriter credits, so roles come from listing
// order: the first credited artist is primary, the rest are featured.
type spotifyLibrary struct {
	client *providers.SpotifyClient
	vault  enforcement.TokenVault
}

func newSpotifyLibrary(client *providers.SpotifyClient, vault enforcement.TokenVault) *spotifyLibrary {
	return &spotifyLibrary{client: client, vault: vault}
}

func (l *spotifyLibrary) token(ctx context.Context, userID string) (string, error) {
	return l.vault.GetValidToken(ctx, userID, "spotify")
}

func credits(artists []providers.Artist) []enforcement.ArtistCredit {
	out := make([]enforcement.ArtistCredit, 0, len(artists))
	for i, artist := range artists {
		role := enforcement.RoleFeatured
		if i == 0 {
			role = enforcement.RolePrimary
		}
		out = append(out, enforcement.ArtistCredit{
			ArtistID: artist.ID,
			Name:     artist.Name,
			Role:     role,
		})
	}
	return out
}

func (l *spotifyLibrary) LikedTracks(ctx context.Context, userID string) ([]enforcement.LikedTrack, error) {
	token, err := l.token(ctx, userID)
	if err != nil {
		return nil, err
	}

	tracks, err := l.client.ListLikedTracks(ctx, token)
	if err != nil {
		return nil, err
	}

	out := make([]enforcement.LikedTrack, 0, len(tracks))
	for _, track := range tracks {
		out = append(out, enforcement.LikedTrack{
			TrackID: track.ID,
			Name:    track.Name,
			Credits: credits(track.Artists),
		})
	}
	return out, nil
}

func (l *spotifyLibrary) Playlists(ctx context.Context, userID string) ([]enforcement.Playlist, error) {
	token, err := l.token(ctx, userID)
	if err != nil {
		return nil, err
	}

	ownerID, err := l.client.CurrentUserID(ctx, token)
	if err != nil {
		return nil, err
	}

	playlists, err := l.client.ListPlaylists(ctx, token)
	if err != nil {
		return nil, err
	}

	out := make([]enforcement.Playlist, 0, len(playlists))
	for _, playlist := range playlists {
		items, err := l.client.ListPlaylistItems(ctx, token, playlist.ID)
		if err != nil {
			return nil, err
		}

		entries := make([]enforcement.PlaylistEntry, 0, len(items))
		for _, item := range items {
			entries = append(entries, enforcement.PlaylistEntry{
				TrackID:  item.TrackID,
				Name:     item.Name,
				Position: item.Position,
				Credits:  credits(item.Artists),
			})
		}

		out = append(out, enforcement.Playlist{
			PlaylistID:  playlist.ID,
			Name:        playlist.Name,
			OwnedByUser: playlist.OwnerID == ownerID,
			Entries:     entries,
		})
	}
	return out, nil
}

func (l *spotifyLibrary) SavedAlbums(ctx context.Context, userID string) ([]enforcement.SavedAlbum, error) {
	token, err := l.token(ctx, userID)
	if err != nil {
		return nil, err
	}

	albums, err := l.client.ListSavedAlbums(ctx, token)
	if err != nil {
		return nil, err
	}

	out := make([]enforcement.SavedAlbum, 0, len(albums))
	for _, album := range albums {
		out = append(out, enforcement.SavedAlbum{
			AlbumID: album.ID,
			Name:    album.Name,
			Credits: credits(album.Artists),
		})
	}
	return out, nil
}

func (l *spotifyLibrary) FollowedArtists(ctx context.Context, userID string) ([]enforcement.FollowedArtist, error) {
	token, err := l.token(ctx, userID)
	if err != nil {
		return nil, err
	}

	artists, err := l.client.ListFollowedArtists(ctx, token)
	if err != nil {
		return nil, err
	}

	out := make([]enforcement.FollowedArtist, 0, len(artists))
	for _, artist := range artists {
		out = append(out, enforcement.FollowedArtist{
			ArtistID: artist.ID,
			Name:     artist.Name,
		})
	}
	return out, nil
}

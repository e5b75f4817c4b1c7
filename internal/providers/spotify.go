// Spotify implementation of [Client]
//
// Endpoints per https://developer.spotify.com/documentation/web-api/reference/
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const spotifyBaseURL = "https://api.spotify.com/v1"

// SpotifyClient implements [Client] against the Spotify Web API.
type SpotifyClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSpotifyClient creates a Spotify client. A nil http.Client falls back to
// [http.DefaultClient]; baseURL is overridable for tests.
func NewSpotifyClient(httpClient *http.Client) *SpotifyClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SpotifyClient{
		baseURL:    spotifyBaseURL,
		httpClient: httpClient,
	}
}

func (s *SpotifyClient) Name() string {
	return "spotify"
}

type spotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type spotifyTrack struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Artists []spotifyArtist `json:"artists"`
}

type spotifyAlbum struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Artists []spotifyArtist `json:"artists"`
}

type spotifyPlaylistItems struct {
	Items []struct {
		Track spotifyTrack `json:"track"`
	} `json:"items"`
	Total  int `json:"total"`
	Offset int `json:"offset"`
}

// doRequest performs an authenticated request and classifies failures into
// the provider error taxonomy.
func (s *SpotifyClient) doRequest(ctx context.Context, token, method, endpoint string, body, result any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindRecoverable, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func classifyStatus(status int) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Status: status, Message: "rate limit exceeded"}
	case status == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Status: status, Message: "entity not found"}
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return &Error{Kind: KindForbidden, Status: status, Message: "access denied"}
	case status >= 500:
		return &Error{Kind: KindRecoverable, Status: status, Message: "server error"}
	default:
		return &Error{Kind: KindForbidden, Status: status, Message: "request rejected"}
	}
}

// GetLikedTrack captures the state of a track in the user's library.
func (s *SpotifyClient) GetLikedTrack(ctx context.Context, token, trackID string) (*LikedTrackState, error) {
	var track spotifyTrack
	endpoint := fmt.Sprintf("/tracks/%s", url.PathEscape(trackID))
	if err := s.doRequest(ctx, token, http.MethodGet, endpoint, nil, &track); err != nil {
		return nil, err
	}

	state := &LikedTrackState{TrackID: track.ID, Name: track.Name}
	for _, artist := range track.Artists {
		state.Artists = append(state.Artists, artist.Name)
	}
	return state, nil
}

// GetPlaylistTrack locates a track inside a playlist and records its position.
func (s *SpotifyClient) GetPlaylistTrack(ctx context.Context, token, playlistID, trackID string) (*PlaylistTrackState, error) {
	limit := 100
	offset := 0

	for {
		var page spotifyPlaylistItems
		endpoint := fmt.Sprintf("/playlists/%s/tracks?fields=items(track(id,name)),total,offset&limit=%d&offset=%d",
			url.PathEscape(playlistID), limit, offset)
		if err := s.doRequest(ctx, token, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}

		for i, item := range page.Items {
			if item.Track.ID == trackID {
				return &PlaylistTrackState{
					PlaylistID: playlistID,
					TrackID:    trackID,
					Name:       item.Track.Name,
					Position:   offset + i,
				}, nil
			}
		}

		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			return nil, &Error{Kind: KindNotFound, Status: http.StatusNotFound, Message: "track not in playlist"}
		}
	}
}

// GetFollowedArtist captures the state of a followed artist.
func (s *SpotifyClient) GetFollowedArtist(ctx context.Context, token, artistID string) (*FollowedArtistState, error) {
	var artist spotifyArtist
	endpoint := fmt.Sprintf("/artists/%s", url.PathEscape(artistID))
	if err := s.doRequest(ctx, token, http.MethodGet, endpoint, nil, &artist); err != nil {
		return nil, err
	}
	return &FollowedArtistState{ArtistID: artist.ID, Name: artist.Name}, nil
}

// GetSavedAlbum captures the state of a saved album.
func (s *SpotifyClient) GetSavedAlbum(ctx context.Context, token, albumID string) (*SavedAlbumState, error) {
	var album spotifyAlbum
	endpoint := fmt.Sprintf("/albums/%s", url.PathEscape(albumID))
	if err := s.doRequest(ctx, token, http.MethodGet, endpoint, nil, &album); err != nil {
		return nil, err
	}

	state := &SavedAlbumState{AlbumID: album.ID, Name: album.Name}
	for _, artist := range album.Artists {
		state.Artists = append(state.Artists, artist.Name)
	}
	return state, nil
}

// RemoveLikedTrack removes a track from the user's liked songs.
func (s *SpotifyClient) RemoveLikedTrack(ctx context.Context, token, trackID string) error {
	endpoint := fmt.Sprintf("/me/tracks?ids=%s", url.QueryEscape(trackID))
	return s.doRequest(ctx, token, http.MethodDelete, endpoint, nil, nil)
}

// RemovePlaylistTrack removes all occurrences of a track from a playlist.
func (s *SpotifyClient) RemovePlaylistTrack(ctx context.Context, token, playlistID, trackID string) error {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))
	body := map[string]any{
		"tracks": []map[string]string{
			{"uri": "spotify:track:" + trackID},
		},
	}
	return s.doRequest(ctx, token, http.MethodDelete, endpoint, body, nil)
}

// UnfollowArtist removes an artist from the user's follows.
func (s *SpotifyClient) UnfollowArtist(ctx context.Context, token, artistID string) error {
	endpoint := fmt.Sprintf("/me/following?type=artist&ids=%s", url.QueryEscape(artistID))
	return s.doRequest(ctx, token, http.MethodDelete, endpoint, nil, nil)
}

// RemoveSavedAlbum removes an album from the user's library.
func (s *SpotifyClient) RemoveSavedAlbum(ctx context.Context, token, albumID string) error {
	endpoint := fmt.Sprintf("/me/albums?ids=%s", url.QueryEscape(albumID))
	return s.doRequest(ctx, token, http.MethodDelete, endpoint, nil, nil)
}

// SaveTrack re-adds a track to the user's liked songs.
func (s *SpotifyClient) SaveTrack(ctx context.Context, token, trackID string) error {
	endpoint := fmt.Sprintf("/me/tracks?ids=%s", url.QueryEscape(trackID))
	return s.doRequest(ctx, token, http.MethodPut, endpoint, nil, nil)
}

// AddPlaylistTrack re-inserts a track into a playlist at its prior position.
func (s *SpotifyClient) AddPlaylistTrack(ctx context.Context, token, playlistID, trackID string, position int) error {
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))
	body := map[string]any{
		"uris":     []string{"spotify:track:" + trackID},
		"position": position,
	}
	return s.doRequest(ctx, token, http.MethodPost, endpoint, body, nil)
}

// FollowArtist re-follows an artist.
func (s *SpotifyClient) FollowArtist(ctx context.Context, token, artistID string) error {
	endpoint := fmt.Sprintf("/me/following?type=artist&ids=%s", url.QueryEscape(artistID))
	return s.doRequest(ctx, token, http.MethodPut, endpoint, nil, nil)
}

// SaveAlbum re-saves an album to the user's library.
func (s *SpotifyClient) SaveAlbum(ctx context.Context, token, albumID string) error {
	endpoint := fmt.Sprintf("/me/albums?ids=%s", url.QueryEscape(albumID))
	return s.doRequest(ctx, token, http.MethodPut, endpoint, nil, nil)
}

package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Library enumeration types, shared by the planner's library source.

type Artist struct {
	ID   string
	Name string
}

type LibraryTrack struct {
	ID      string
	Name    string
	Artists []Artist
}

type LibraryPlaylist struct {
	ID      string
	Name    string
	OwnerID string
}

type PlaylistItem struct {
	TrackID  string
	Name     string
	Position int
	Artists  []Artist
}

type LibraryAlbum struct {
	ID      string
	Name    string
	Artists []Artist
}

const pageLimit = 50

func toArtists(artists []spotifyArtist) []Artist {
	out := make([]Artist, 0, len(artists))
	for _, a := range artists {
		out = append(out, Artist{ID: a.ID, Name: a.Name})
	}
	return out
}

// CurrentUserID returns the Spotify user ID for the token's owner.
func (s *SpotifyClient) CurrentUserID(ctx context.Context, token string) (string, error) {
	var me struct {
		ID string `json:"id"`
	}
	if err := s.doRequest(ctx, token, http.MethodGet, "/me", nil, &me); err != nil {
		return "", err
	}
	return me.ID, nil
}

// ListLikedTracks pages through the user's saved tracks.
func (s *SpotifyClient) ListLikedTracks(ctx context.Context, token string) ([]LibraryTrack, error) {
	var tracks []LibraryTrack
	offset := 0

	for {
		var page struct {
			Items []struct {
				Track spotifyTrack `json:"track"`
			} `json:"items"`
			Total int `json:"total"`
		}
		endpoint := fmt.Sprintf("/me/tracks?limit=%d&offset=%d", pageLimit, offset)
		if err := s.doRequest(ctx, token, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			tracks = append(tracks, LibraryTrack{
				ID:      item.Track.ID,
				Name:    item.Track.Name,
				Artists: toArtists(item.Track.Artists),
			})
		}

		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			return tracks, nil
		}
	}
}

// ListPlaylists pages through the playlists on the user's profile.
func (s *SpotifyClient) ListPlaylists(ctx context.Context, token string) ([]LibraryPlaylist, error) {
	var playlists []LibraryPlaylist
	offset := 0

	for {
		var page struct {
			Items []struct {
				ID    string `json:"id"`
				Name  string `json:"name"`
				Owner struct {
					ID string `json:"id"`
				} `json:"owner"`
			} `json:"items"`
			Total int `json:"total"`
		}
		endpoint := fmt.Sprintf("/me/playlists?limit=%d&offset=%d", pageLimit, offset)
		if err := s.doRequest(ctx, token, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			playlists = append(playlists, LibraryPlaylist{
				ID:      item.ID,
				Name:    item.Name,
				OwnerID: item.Owner.ID,
			})
		}

		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			return playlists, nil
		}
	}
}

// ListPlaylistItems pages through a playlist's tracks in order.
func (s *SpotifyClient) ListPlaylistItems(ctx context.Context, token, playlistID string) ([]PlaylistItem, error) {
	var items []PlaylistItem
	offset := 0

	for {
		var page spotifyPlaylistItems
		endpoint := fmt.Sprintf("/playlists/%s/tracks?fields=items(track(id,name,artists)),total,offset&limit=%d&offset=%d",
			url.PathEscape(playlistID), pageLimit, offset)
		if err := s.doRequest(ctx, token, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}

		for i, item := range page.Items {
			items = append(items, PlaylistItem{
				TrackID:  item.Track.ID,
				Name:     item.Track.Name,
				Position: offset + i,
				Artists:  toArtists(item.Track.Artists),
			})
		}

		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			return items, nil
		}
	}
}

// ListSavedAlbums pages through the user's saved albums.
func (s *SpotifyClient) ListSavedAlbums(ctx context.Context, token string) ([]LibraryAlbum, error) {
	var albums []LibraryAlbum
	offset := 0

	for {
		var page struct {
			Items []struct {
				Album spotifyAlbum `json:"album"`
			} `json:"items"`
			Total int `json:"total"`
		}
		endpoint := fmt.Sprintf("/me/albums?limit=%d&offset=%d", pageLimit, offset)
		if err := s.doRequest(ctx, token, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Items {
			albums = append(albums, LibraryAlbum{
				ID:      item.Album.ID,
				Name:    item.Album.Name,
				Artists: toArtists(item.Album.Artists),
			})
		}

		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.Total {
			return albums, nil
		}
	}
}

// ListFollowedArtists walks the cursor-paged follow list.
func (s *SpotifyClient) ListFollowedArtists(ctx context.Context, token string) ([]Artist, error) {
	var artists []Artist
	after := ""

	for {
		var page struct {
			Artists struct {
				Items   []spotifyArtist `json:"items"`
				Cursors struct {
					After string `json:"after"`
				} `json:"cursors"`
			} `json:"artists"`
		}
		endpoint := fmt.Sprintf("/me/following?type=artist&limit=%d", pageLimit)
		if after != "" {
			endpoint += "&after=" + url.QueryEscape(after)
		}
		if err := s.doRequest(ctx, token, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}

		artists = append(artists, toArtists(page.Artists.Items)...)

		after = page.Artists.Cursors.After
		if after == "" || len(page.Artists.Items) == 0 {
			return artists, nil
		}
	}
}

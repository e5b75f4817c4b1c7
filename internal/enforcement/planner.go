package enforcement

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/models"
	"github.com/kcirtapfromspace/no-drake-in-the-house/internal/shared"
)

// Per-action duration estimates used for plan cost and progress projection.
var actionEstimateMS = map[models.ActionType]int{
	models.ActionRemoveLikedTrack:    200,
	models.ActionRemovePlaylistTrack: 400,
	models.ActionUnfollowArtist:      200,
	models.ActionRemoveSavedAlbum:    200,
}

// Planner turns resolved blocklist matches and enforcement options into an
// ordered [models.EnforcementPlan].
type Planner struct {
	resolver Resolver
	library  LibrarySource
	logger   *log.Logger
}

// NewPlanner creates a Planner over the given resolver and library source.
func NewPlanner(resolver Resolver, library LibrarySource, logger *log.Logger) *Planner {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Planner{resolver: resolver, library: library, logger: logger}
}

// matchResult is the strongest blocked-credit connection found on an entity.
type matchResult struct {
	artist     BlockedArtist
	reason     models.MatchReason
	confidence float64
}

// BuildPlan enumerates the user's library and emits one planned action per
// (action type, entity) pair that survives the option gates. The same track
// appearing both in liked songs and in a playlist yields two actions, since
// the provider distinguishes the two removals.
func (p *Planner) BuildPlan(ctx context.Context, userID, provider string, options models.EnforcementOptions) (*models.EnforcementPlan, error) {
	if p.resolver == nil || p.library == nil {
		return nil, fmt.Errorf("planner missing resolver or library source")
	}

	blocked, err := p.resolver.BlockedArtists(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blocklist: %w", err)
	}

	plan := &models.EnforcementPlan{
		UserID:   userID,
		Provider: provider,
		Options:  options,
	}

	blockedByID := make(map[string]BlockedArtist, len(blocked))
	for _, artist := range blocked {
		blockedByID[artist.ArtistID] = artist
		plan.BlockedArtistIDs = append(plan.BlockedArtistIDs, artist.ArtistID)
	}

	if len(blockedByID) == 0 {
		return plan, nil
	}

	liked, err := p.library.LikedTracks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate liked tracks: %w", err)
	}
	for _, track := range liked {
		match, ok := p.match(blockedByID, track.Credits, options)
		if !ok {
			continue
		}
		plan.Actions = append(plan.Actions, models.PlannedAction{
			ID:                  shared.GenerateID(),
			Type:                models.ActionRemoveLikedTrack,
			EntityType:          models.EntityTrack,
			EntityID:            track.TrackID,
			EntityName:          track.Name,
			Reason:              match.reason,
			Confidence:          match.confidence,
			EstimatedDurationMS: actionEstimateMS[models.ActionRemoveLikedTrack],
		})
	}

	playlists, err := p.library.Playlists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate playlists: %w", err)
	}
	for _, playlist := range playlists {
		if playlist.OwnedByUser && options.PreserveUserPlaylists {
			continue
		}
		for _, entry := range playlist.Entries {
			match, ok := p.match(blockedByID, entry.Credits, options)
			if !ok {
				continue
			}
			plan.Actions = append(plan.Actions, models.PlannedAction{
				ID:                  shared.GenerateID(),
				Type:                models.ActionRemovePlaylistTrack,
				EntityType:          models.EntityPlaylistTrack,
				EntityID:            playlist.PlaylistID + ":" + entry.TrackID,
				EntityName:          fmt.Sprintf("%s (in %s)", entry.Name, playlist.Name),
				Reason:              match.reason,
				Confidence:          match.confidence,
				EstimatedDurationMS: actionEstimateMS[models.ActionRemovePlaylistTrack],
				Metadata: map[string]string{
					"playlist_id": playlist.PlaylistID,
					"track_id":    entry.TrackID,
					"position":    fmt.Sprintf("%d", entry.Position),
				},
			})
		}
	}

	albums, err := p.library.SavedAlbums(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate saved albums: %w", err)
	}
	for _, album := range albums {
		match, ok := p.match(blockedByID, album.Credits, options)
		if !ok {
			continue
		}
		plan.Actions = append(plan.Actions, models.PlannedAction{
			ID:                  shared.GenerateID(),
			Type:                models.ActionRemoveSavedAlbum,
			EntityType:          models.EntityAlbum,
			EntityID:            album.AlbumID,
			EntityName:          album.Name,
			Reason:              match.reason,
			Confidence:          match.confidence,
			EstimatedDurationMS: actionEstimateMS[models.ActionRemoveSavedAlbum],
		})
	}

	follows, err := p.library.FollowedArtists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate followed artists: %w", err)
	}
	for _, follow := range follows {
		artist, ok := blockedByID[follow.ArtistID]
		if !ok {
			continue
		}
		plan.Actions = append(plan.Actions, models.PlannedAction{
			ID:                  shared.GenerateID(),
			Type:                models.ActionUnfollowArtist,
			EntityType:          models.EntityArtist,
			EntityID:            follow.ArtistID,
			EntityName:          follow.Name,
			Reason:              models.ReasonExactMatch,
			Confidence:          artist.Confidence,
			EstimatedDurationMS: actionEstimateMS[models.ActionUnfollowArtist],
		})
	}

	p.logger.Debug("plan built",
		"user", userID,
		"provider", provider,
		"blocked_artists", len(blockedByID),
		"actions", len(plan.Actions),
	)

	return plan, nil
}

// match finds the strongest blocked-credit connection on an entity and
// applies the option gates. A primary credit always matches; weaker roles
// match only when their toggle is enabled.
func (p *Planner) match(blocked map[string]BlockedArtist, credits []ArtistCredit, options models.EnforcementOptions) (matchResult, bool) {
	var best matchResult
	found := false

	for _, credit := range credits {
		artist, ok := blocked[credit.ArtistID]
		if !ok {
			continue
		}

		var reason models.MatchReason
		switch credit.Role {
		case RolePrimary:
			reason = models.ReasonExactMatch
		case RoleFeatured:
			if !options.BlockFeaturing {
				continue
			}
			reason = models.ReasonFeaturing
		case RoleCollaborator:
			if !options.BlockCollaborations {
				continue
			}
			reason = models.ReasonCollaboration
		case RoleSongwriter:
			if !options.BlockSongwriterOnly {
				continue
			}
			reason = models.ReasonSongwriterOnly
		default:
			continue
		}

		if !found || rankReason(reason) > rankReason(best.reason) {
			best = matchResult{artist: artist, reason: reason, confidence: artist.Confidence}
			found = true
		}
	}

	return best, found
}

// rankReason orders match reasons by connection strength.
func rankReason(reason models.MatchReason) int {
	switch reason {
	case models.ReasonExactMatch:
		return 3
	case models.ReasonCollaboration:
		return 2
	case models.ReasonFeaturing:
		return 1
	case models.ReasonSongwriterOnly:
		return 0
	default:
		return -1
	}
}

package models

import (
	"fmt"
	"time"
)

// ActionType identifies a mutating operation against a provider library.
type ActionType string

const (
	ActionRemoveLikedTrack    ActionType = "remove_liked_track"
	ActionRemovePlaylistTrack ActionType = "remove_playlist_track"
	ActionUnfollowArtist      ActionType = "unfollow_artist"
	ActionRemoveSavedAlbum    ActionType = "remove_saved_album"

	// Inverse actions, only ever created by the rollback engine.
	ActionRestoreLikedTrack    ActionType = "restore_liked_track"
	ActionRestorePlaylistTrack ActionType = "restore_playlist_track"
	ActionRefollowArtist       ActionType = "refollow_artist"
	ActionRestoreSavedAlbum    ActionType = "restore_saved_album"
)

// ParseActionType converts a stored string into an [ActionType].
func ParseActionType(s string) (ActionType, error) {
	switch ActionType(s) {
	case ActionRemoveLikedTrack, ActionRemovePlaylistTrack, ActionUnfollowArtist, ActionRemoveSavedAlbum,
		ActionRestoreLikedTrack, ActionRestorePlaylistTrack, ActionRefollowArtist, ActionRestoreSavedAlbum:
		return ActionType(s), nil
	}
	return "", fmt.Errorf("unknown action type: %q", s)
}

// Inverse returns the action that undoes this one. The second return is false
// for actions that have no inverse (inverse actions themselves are not undone).
func (a ActionType) Inverse() (ActionType, bool) {
	switch a {
	case ActionRemoveLikedTrack:
		return ActionRestoreLikedTrack, true
	case ActionRemovePlaylistTrack:
		return ActionRestorePlaylistTrack, true
	case ActionUnfollowArtist:
		return ActionRefollowArtist, true
	case ActionRemoveSavedAlbum:
		return ActionRestoreSavedAlbum, true
	}
	return "", false
}

// EntityType identifies the kind of provider entity an action targets.
type EntityType string

const (
	EntityTrack         EntityType = "track"
	EntityPlaylistTrack EntityType = "playlist_track"
	EntityArtist        EntityType = "artist"
	EntityAlbum         EntityType = "album"
)

// MatchReason records why an entity was matched against the blocklist.
type MatchReason string

const (
	ReasonExactMatch     MatchReason = "exact_match"
	ReasonFeaturing      MatchReason = "featuring"
	ReasonCollaboration  MatchReason = "collaboration"
	ReasonSongwriterOnly MatchReason = "songwriter_only"
)

// ParseMatchReason converts a stored string into a [MatchReason].
func ParseMatchReason(s string) (MatchReason, error) {
	switch MatchReason(s) {
	case ReasonExactMatch, ReasonFeaturing, ReasonCollaboration, ReasonSongwriterOnly:
		return MatchReason(s), nil
	}
	return "", fmt.Errorf("unknown match reason: %q", s)
}

// Aggressiveness selects how broadly enforcement sweeps a library.
type Aggressiveness string

const (
	Conservative Aggressiveness = "conservative"
	Moderate     Aggressiveness = "moderate"
	Aggressive   Aggressiveness = "aggressive"
)

// EnforcementOptions gate which matches become actions.
type EnforcementOptions struct {
	Aggressiveness        Aggressiveness `json:"aggressiveness"`
	BlockFeaturing        bool           `json:"block_featuring"`
	BlockCollaborations   bool           `json:"block_collaborations"`
	BlockSongwriterOnly   bool           `json:"block_songwriter_only"`
	PreserveUserPlaylists bool           `json:"preserve_user_playlists"`
	DryRun                bool           `json:"dry_run"`
}

// DefaultOptions returns the moderate option set used when a caller supplies none.
func DefaultOptions() EnforcementOptions {
	return EnforcementOptions{
		Aggressiveness:      Moderate,
		BlockFeaturing:      true,
		BlockCollaborations: true,
	}
}

// PlannedAction is a single planned provider mutation. Ephemeral: planned
// actions live inside an [EnforcementPlan] until converted to batch items.
type PlannedAction struct {
	ID                  string            `json:"id"`
	Type                ActionType        `json:"action_type"`
	EntityType          EntityType        `json:"entity_type"`
	EntityID            string            `json:"entity_id"`
	EntityName          string            `json:"entity_name"`
	Reason              MatchReason       `json:"reason"`
	Confidence          float64           `json:"confidence"`
	EstimatedDurationMS int               `json:"estimated_duration_ms"`
	DependsOn           []string          `json:"dependencies,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// EnforcementPlan owns the planned actions for one (user, provider) pair.
type EnforcementPlan struct {
	UserID           string             `json:"user_id"`
	Provider         string             `json:"provider"`
	Options          EnforcementOptions `json:"options"`
	BlockedArtistIDs []string           `json:"blocked_artist_ids"`
	Actions          []PlannedAction    `json:"actions"`
}

// ActionsByType groups planned actions for batching efficiency.
func (p *EnforcementPlan) ActionsByType() map[ActionType][]PlannedAction {
	grouped := make(map[ActionType][]PlannedAction)
	for _, action := range p.Actions {
		grouped[action.Type] = append(grouped[action.Type], action)
	}
	return grouped
}

// EstimatedDuration sums the per-action estimates.
func (p *EnforcementPlan) EstimatedDuration() time.Duration {
	total := 0
	for _, action := range p.Actions {
		total += action.EstimatedDurationMS
	}
	return time.Duration(total) * time.Millisecond
}

// Validate checks the plan is executable.
func (p *EnforcementPlan) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("plan missing user_id")
	}
	if p.Provider == "" {
		return fmt.Errorf("plan missing provider")
	}
	ids := make(map[string]bool, len(p.Actions))
	for _, action := range p.Actions {
		if action.EntityID == "" {
			return fmt.Errorf("planned action missing entity_id")
		}
		ids[action.ID] = true
	}
	for _, action := range p.Actions {
		for _, dep := range action.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("planned action %s depends on unknown action %s", action.ID, dep)
			}
		}
	}
	return nil
}

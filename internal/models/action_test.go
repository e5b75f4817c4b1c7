package models

import (
	"testing"
	"time"
)

func TestPlanActionsByType(t *testing.T) {
	plan := &EnforcementPlan{
		UserID:   "user1",
		Provider: "spotify",
		Actions: []PlannedAction{
			{ID: "a1", Type: ActionRemoveLikedTrack, EntityType: EntityTrack, EntityID: "t1"},
			{ID: "a2", Type: ActionRemoveLikedTrack, EntityType: EntityTrack, EntityID: "t2"},
			{ID: "a3", Type: ActionUnfollowArtist, EntityType: EntityArtist, EntityID: "ar1"},
		},
	}

	grouped := plan.ActionsByType()
	if len(grouped[ActionRemoveLikedTrack]) != 2 {
		t.Errorf("expected 2 liked-track removals, got %d", len(grouped[ActionRemoveLikedTrack]))
	}
	if len(grouped[ActionUnfollowArtist]) != 1 {
		t.Errorf("expected 1 unfollow, got %d", len(grouped[ActionUnfollowArtist]))
	}
}

func TestPlanEstimatedDuration(t *testing.T) {
	plan := &EnforcementPlan{
		Actions: []PlannedAction{
			{EstimatedDurationMS: 200},
			{EstimatedDurationMS: 300},
		},
	}

	if got := plan.EstimatedDuration(); got != 500*time.Millisecond {
		t.Errorf("EstimatedDuration() = %v, want 500ms", got)
	}
}

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name    string
		plan    EnforcementPlan
		wantErr bool
	}{
		{
			name: "valid plan",
			plan: EnforcementPlan{
				UserID:   "user1",
				Provider: "spotify",
				Actions: []PlannedAction{
					{ID: "a1", EntityID: "t1"},
					{ID: "a2", EntityID: "t2", DependsOn: []string{"a1"}},
				},
			},
		},
		{
			name:    "missing user",
			plan:    EnforcementPlan{Provider: "spotify"},
			wantErr: true,
		},
		{
			name:    "missing provider",
			plan:    EnforcementPlan{UserID: "user1"},
			wantErr: true,
		},
		{
			name: "unknown dependency",
			plan: EnforcementPlan{
				UserID:   "user1",
				Provider: "spotify",
				Actions: []PlannedAction{
					{ID: "a1", EntityID: "t1", DependsOn: []string{"missing"}},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseActionType(t *testing.T) {
	if _, err := ParseActionType("remove_liked_track"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := ParseActionType("bogus"); err == nil {
		t.Error("expected error for unknown action type")
	}
}

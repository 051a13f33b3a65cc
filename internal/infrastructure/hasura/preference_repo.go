package hasura

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atomcal/autopilot/internal/domain"
)

const preferenceForUserQuery = `query PreferenceForUser($userId: String!) {
  User_Preference(where: { userId: { _eq: $userId } }, limit: 1) {
    userId
    startTimes
  }
}`

// PreferenceRepo reads scheduling preferences through the data API with the
// user's own role, so Hasura's row-level permissions apply.
type PreferenceRepo struct {
	client *Client
}

func NewPreferenceRepo(client *Client) *PreferenceRepo {
	return &PreferenceRepo{client: client}
}

func (r *PreferenceRepo) ForUser(ctx context.Context, userID string) (*domain.SchedulingPreference, error) {
	if userID == "" {
		return nil, domain.ValidationFault("user id is required")
	}

	data, err := r.client.ExecuteGraphQL(ctx, preferenceForUserQuery, map[string]any{"userId": userID}, "PreferenceForUser", userID)
	if err != nil {
		return nil, err
	}

	var out struct {
		Rows []struct {
			UserID     string             `json:"userId"`
			StartTimes []domain.StartTime `json:"startTimes"`
		} `json:"User_Preference"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domain.InternalFault(fmt.Sprintf("decode preference for user %s: %v", userID, err))
	}
	if len(out.Rows) == 0 {
		return nil, nil
	}
	return &domain.SchedulingPreference{
		UserID:     out.Rows[0].UserID,
		StartTimes: out.Rows[0].StartTimes,
	}, nil
}

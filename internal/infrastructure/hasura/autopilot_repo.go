package hasura

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atomcal/autopilot/internal/domain"
)

const upsertAutopilotMutation = `mutation UpsertAutopilot($object: Autopilot_insert_input!) {
  insert_Autopilot_one(
    object: $object
    on_conflict: {
      constraint: Autopilot_pkey
      update_columns: [payload, scheduleAt, timezone, updatedAt]
    }
  ) {
    id
    userId
    scheduleAt
    timezone
    payload
    createdDate
    updatedAt
  }
}`

const autopilotByPKQuery = `query AutopilotByPK($id: String!) {
  Autopilot_by_pk(id: $id) {
    id
    userId
    scheduleAt
    timezone
    payload
    createdDate
    updatedAt
  }
}`

const autopilotForUserQuery = `query AutopilotForUser($userId: String!) {
  Autopilot(where: { userId: { _eq: $userId } }, limit: 1) {
    id
    userId
    scheduleAt
    timezone
    payload
    createdDate
    updatedAt
  }
}`

const autopilotScheduledBeforeQuery = `query AutopilotScheduledBefore($cutoff: timestamptz!) {
  Autopilot(where: { scheduleAt: { _lt: $cutoff } }, order_by: { scheduleAt: asc }) {
    id
    userId
    scheduleAt
    timezone
    payload
    createdDate
    updatedAt
  }
}`

const deleteAutopilotMutation = `mutation DeleteAutopilot($id: String!) {
  delete_Autopilot_by_pk(id: $id) {
    id
    userId
  }
}`

// autopilotRow is the wire shape of one Autopilot row. Timestamps travel as
// strings because Hasura emits timestamptz without a timezone designator in
// some configurations; parsing is centralized in toDomain.
type autopilotRow struct {
	ID          string               `json:"id"`
	UserID      string               `json:"userId"`
	ScheduleAt  string               `json:"scheduleAt"`
	Timezone    string               `json:"timezone"`
	Payload     domain.WindowPayload `json:"payload"`
	CreatedDate string               `json:"createdDate"`
	UpdatedAt   string               `json:"updatedAt"`
}

func (r *autopilotRow) toDomain() (*domain.AutopilotRecord, error) {
	scheduleAt, err := parseHasuraTime(r.ScheduleAt)
	if err != nil {
		return nil, domain.InternalFault(fmt.Sprintf("autopilot %s: bad scheduleAt %q: %v", r.ID, r.ScheduleAt, err))
	}
	createdDate, _ := parseHasuraTime(r.CreatedDate)
	updatedAt, _ := parseHasuraTime(r.UpdatedAt)
	return &domain.AutopilotRecord{
		ID:          r.ID,
		UserID:      r.UserID,
		ScheduleAt:  scheduleAt,
		Timezone:    r.Timezone,
		Payload:     r.Payload,
		CreatedDate: createdDate,
		UpdatedAt:   updatedAt,
	}, nil
}

func parseHasuraTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// AutopilotRepo is the data-API implementation of repository.AutopilotRecords.
// All calls run with the admin role: records are written on behalf of users by
// the state machine, never directly by them.
type AutopilotRepo struct {
	client *Client
}

func NewAutopilotRepo(client *Client) *AutopilotRepo {
	return &AutopilotRepo{client: client}
}

func (r *AutopilotRepo) Upsert(ctx context.Context, record *domain.AutopilotRecord) (*domain.AutopilotRecord, error) {
	if record == nil || record.ID == "" || record.UserID == "" {
		return nil, domain.ValidationFault("autopilot upsert requires id and userId")
	}

	data, err := r.client.ExecuteGraphQL(ctx, upsertAutopilotMutation, map[string]any{
		"object": map[string]any{
			"id":         record.ID,
			"userId":     record.UserID,
			"scheduleAt": record.ScheduleAt.UTC().Format(time.RFC3339),
			"timezone":   record.Timezone,
			"payload":    record.Payload,
			"updatedAt":  time.Now().UTC().Format(time.RFC3339),
		},
	}, "UpsertAutopilot", "")
	if err != nil {
		return nil, err
	}

	var out struct {
		Row *autopilotRow `json:"insert_Autopilot_one"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Row == nil {
		return nil, &domain.Fault{
			Kind:    domain.KindUpstream,
			Code:    domain.CodeUpsertAutopilot,
			Message: fmt.Sprintf("upsert for autopilot %s returned no row", record.ID),
			Details: json.RawMessage(data),
		}
	}
	return out.Row.toDomain()
}

func (r *AutopilotRepo) GetByID(ctx context.Context, id string) (*domain.AutopilotRecord, error) {
	if id == "" {
		return nil, domain.ValidationFault("autopilot id is required")
	}

	data, err := r.client.ExecuteGraphQL(ctx, autopilotByPKQuery, map[string]any{"id": id}, "AutopilotByPK", "")
	if err != nil {
		return nil, err
	}

	var out struct {
		Row *autopilotRow `json:"Autopilot_by_pk"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domain.InternalFault(fmt.Sprintf("decode autopilot %s: %v", id, err))
	}
	if out.Row == nil {
		return nil, nil
	}
	return out.Row.toDomain()
}

func (r *AutopilotRepo) FirstForUser(ctx context.Context, userID string) (*domain.AutopilotRecord, error) {
	if userID == "" {
		return nil, domain.ValidationFault("user id is required")
	}

	data, err := r.client.ExecuteGraphQL(ctx, autopilotForUserQuery, map[string]any{"userId": userID}, "AutopilotForUser", "")
	if err != nil {
		return nil, err
	}

	var out struct {
		Rows []autopilotRow `json:"Autopilot"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domain.InternalFault(fmt.Sprintf("decode autopilot list for user %s: %v", userID, err))
	}
	if len(out.Rows) == 0 {
		return nil, nil
	}
	return out.Rows[0].toDomain()
}

func (r *AutopilotRepo) ListScheduledBefore(ctx context.Context, cutoff time.Time) ([]domain.AutopilotRecord, error) {
	data, err := r.client.ExecuteGraphQL(ctx, autopilotScheduledBeforeQuery, map[string]any{
		"cutoff": cutoff.UTC().Format(time.RFC3339),
	}, "AutopilotScheduledBefore", "")
	if err != nil {
		return nil, err
	}

	var out struct {
		Rows []autopilotRow `json:"Autopilot"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domain.InternalFault(fmt.Sprintf("decode stale autopilot list: %v", err))
	}
	records := make([]domain.AutopilotRecord, 0, len(out.Rows))
	for _, row := range out.Rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

func (r *AutopilotRepo) Delete(ctx context.Context, id string) (*domain.AutopilotRecord, error) {
	if id == "" {
		return nil, domain.ValidationFault("autopilot id is required")
	}

	data, err := r.client.ExecuteGraphQL(ctx, deleteAutopilotMutation, map[string]any{"id": id}, "DeleteAutopilot", "")
	if err != nil {
		return nil, err
	}

	var out struct {
		Row *autopilotRow `json:"delete_Autopilot_by_pk"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, domain.InternalFault(fmt.Sprintf("decode autopilot delete %s: %v", id, err))
	}
	if out.Row == nil {
		// Already gone. Deletion is idempotent from the caller's point of view.
		return nil, nil
	}
	return out.Row.toDomain()
}

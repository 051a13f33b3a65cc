package hasura

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atomcal/autopilot/internal/domain"
	"github.com/atomcal/autopilot/internal/metrics"
)

// Retry configuration attached to the trigger on the external scheduler's
// side. This is its re-delivery policy for the webhook call, a separate layer
// from the HTTP retries the client itself performs.
const (
	triggerNumRetries     = 3
	triggerRetryInterval  = 10 // seconds
	triggerTimeoutSeconds = 60
)

type headerSpec struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type retryConf struct {
	NumRetries           int `json:"num_retries"`
	RetryIntervalSeconds int `json:"retry_interval_seconds"`
	TimeoutSeconds       int `json:"timeout_seconds"`
}

type createScheduledEventArgs struct {
	Webhook    string                `json:"webhook"`
	ScheduleAt string                `json:"schedule_at"`
	Payload    domain.TriggerPayload `json:"payload"`
	Headers    []headerSpec          `json:"headers"`
	RetryConf  retryConf             `json:"retry_conf"`
	Comment    string                `json:"comment,omitempty"`
}

type metadataRequest struct {
	Type string `json:"type"`
	Args any    `json:"args"`
}

type deleteScheduledEventArgs struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
}

type metadataResponse struct {
	Message string `json:"message"`
	EventID string `json:"event_id"`
}

// TriggerStore registers and removes one-off scheduled webhook events through
// the metadata API. It satisfies repository.Triggers.
type TriggerStore struct {
	client    *Client
	authToken string
}

func NewTriggerStore(client *Client) *TriggerStore {
	return &TriggerStore{client: client, authToken: client.authToken}
}

func (s *TriggerStore) Create(ctx context.Context, fireAtUTC time.Time, webhookURL string, payload domain.TriggerPayload, comment string) (string, error) {
	if webhookURL == "" {
		return "", domain.ValidationFault("webhook url is required to create a scheduled trigger")
	}

	body := metadataRequest{
		Type: "create_scheduled_event",
		Args: createScheduledEventArgs{
			Webhook:    webhookURL,
			ScheduleAt: fireAtUTC.UTC().Format(time.RFC3339),
			Payload:    payload,
			Headers: []headerSpec{
				{Name: "Authorization", Value: s.basicAdminAuth()},
				{Name: "Content-Type", Value: "application/json"},
			},
			RetryConf: retryConf{
				NumRetries:           triggerNumRetries,
				RetryIntervalSeconds: triggerRetryInterval,
				TimeoutSeconds:       triggerTimeoutSeconds,
			},
			Comment: comment,
		},
	}

	raw, err := s.client.Do(ctx, s.client.metadataURL, body, s.adminHeaders(), "CreateScheduledEvent")
	if err != nil {
		metrics.TriggerOpsTotal.WithLabelValues("create", "error").Inc()
		return "", err
	}

	var resp metadataResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Message != "success" || resp.EventID == "" {
		metrics.TriggerOpsTotal.WithLabelValues("create", "error").Inc()
		return "", &domain.Fault{
			Kind:    domain.KindUpstream,
			Code:    domain.CodeCreateEvent,
			Message: "metadata api did not acknowledge scheduled event creation",
			Details: json.RawMessage(raw),
		}
	}

	metrics.TriggerOpsTotal.WithLabelValues("create", "success").Inc()
	return resp.EventID, nil
}

func (s *TriggerStore) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return domain.ValidationFault("event id is required to delete a scheduled trigger")
	}

	body := metadataRequest{
		Type: "delete_scheduled_event",
		Args: deleteScheduledEventArgs{Type: "one_off", EventID: eventID},
	}

	raw, err := s.client.Do(ctx, s.client.metadataURL, body, s.adminHeaders(), "DeleteScheduledEvent")
	if err != nil {
		metrics.TriggerOpsTotal.WithLabelValues("delete", "error").Inc()
		return err
	}

	var resp metadataResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Message != "success" {
		metrics.TriggerOpsTotal.WithLabelValues("delete", "error").Inc()
		return &domain.Fault{
			Kind:    domain.KindUpstream,
			Code:    domain.CodeGraphQLExecution,
			Message: fmt.Sprintf("metadata api did not acknowledge deletion of scheduled event %q", eventID),
			Details: json.RawMessage(raw),
		}
	}

	metrics.TriggerOpsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}

func (s *TriggerStore) adminHeaders() map[string]string {
	return map[string]string{
		"Content-Type":          "application/json",
		"X-Hasura-Admin-Secret": s.client.adminSecret,
		"X-Hasura-Role":         "admin",
	}
}

func (s *TriggerStore) basicAdminAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:"+s.authToken))
}

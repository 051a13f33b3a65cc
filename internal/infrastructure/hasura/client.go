package hasura

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/atomcal/autopilot/internal/domain"
	"github.com/atomcal/autopilot/internal/metrics"
)

const (
	maxAttempts    = 3
	attemptTimeout = 15 * time.Second
	backoffBase    = time.Second
)

// Options carries everything the client needs at construction time. All four
// values are required: a client with partial configuration must never be
// handed to callers (no lazy construction, no fallback defaults).
type Options struct {
	GraphURL    string
	AdminSecret string
	MetadataURL string
	AuthToken   string
	Logger      *slog.Logger
}

// Client executes one logical operation against one HTTP endpoint, retrying
// transient failures with exponential backoff, and returns exactly one
// outcome. It serves both the GraphQL data API and the metadata API; the only
// suspension points are the request itself and the backoff sleep, both bounded
// by the caller's context.
type Client struct {
	http        *http.Client
	logger      *slog.Logger
	graphURL    string
	adminSecret string
	metadataURL string
	authToken   string

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(opts Options) (*Client, error) {
	switch {
	case opts.GraphURL == "":
		return nil, domain.ConfigFault("hasura graphql url is not configured")
	case opts.AdminSecret == "":
		return nil, domain.ConfigFault("hasura admin secret is not configured")
	case opts.MetadataURL == "":
		return nil, domain.ConfigFault("hasura metadata url is not configured")
	case opts.AuthToken == "":
		return nil, domain.ConfigFault("api auth token is not configured")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		http:        &http.Client{}, // no global timeout, each attempt sets its own
		logger:      logger.With("component", "hasura_client"),
		graphURL:    opts.GraphURL,
		adminSecret: opts.AdminSecret,
		metadataURL: opts.MetadataURL,
		authToken:   opts.AuthToken,
		sleep:       sleepCtx,
	}, nil
}

// graphQLRequest is the wire shape of the data API: Hasura uses the same
// endpoint and envelope for queries and mutations.
type graphQLRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

type graphQLEnvelope struct {
	Data   json.RawMessage   `json:"data"`
	Errors []json.RawMessage `json:"errors"`
}

// ExecuteGraphQL runs one query or mutation against the data API and returns
// the raw `data` part of the response. With a non-empty userID the request is
// made with the `user` role on behalf of that user; otherwise `admin`.
func (c *Client) ExecuteGraphQL(ctx context.Context, query string, variables map[string]any, operationName, userID string) (json.RawMessage, error) {
	headers := map[string]string{
		"Content-Type":          "application/json",
		"X-Hasura-Admin-Secret": c.adminSecret,
	}
	if userID != "" {
		headers["X-Hasura-Role"] = "user"
		headers["X-Hasura-User-Id"] = userID
	} else {
		headers["X-Hasura-Role"] = "admin"
	}

	raw, err := c.Do(ctx, c.graphURL, graphQLRequest{
		Query:         query,
		Variables:     variables,
		OperationName: operationName,
	}, headers, operationName)
	if err != nil {
		return nil, err
	}

	var envelope graphQLEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, domain.InternalFault(fmt.Sprintf("malformed graphql response for operation %q: %v", operationName, err))
	}
	return envelope.Data, nil
}

// Do executes one operation with bounded retries. Classification of each
// failure decides whether another attempt is made:
//   - 5xx or 429, timeout, connection failure, upstream errors array: retry
//   - other 4xx: stop, the upstream will keep rejecting the same request
//   - request could not even be built: stop, that is a bug, not weather
//
// The backoff between attempts is 2^(attempt-1) seconds with no jitter. On
// total failure the last observed classified fault is returned.
func (c *Client) Do(ctx context.Context, endpoint string, body any, headers map[string]string, operation string) (json.RawMessage, error) {
	start := time.Now()
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, domain.InternalFault(fmt.Sprintf("encode request for operation %q: %v", operation, err))
	}

	var lastFault *domain.Fault

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, fault := c.attempt(ctx, endpoint, payload, headers, operation)
		if fault == nil {
			metrics.UpstreamAttemptsTotal.WithLabelValues("success").Inc()
			metrics.UpstreamOperationDuration.Observe(time.Since(start).Seconds())
			return raw, nil
		}

		lastFault = fault
		c.logger.Warn("upstream attempt failed",
			"operation", operation,
			"attempt", attempt,
			"kind", string(fault.Kind),
			"error", fault.Message,
		)

		if !fault.Kind.Retryable() {
			metrics.UpstreamAttemptsTotal.WithLabelValues("fatal").Inc()
			break
		}
		metrics.UpstreamAttemptsTotal.WithLabelValues("retryable").Inc()

		if attempt < maxAttempts {
			delay := backoffBase << (attempt - 1) // 1s, 2s
			if err := c.sleep(ctx, delay); err != nil {
				// The caller's own deadline or cancellation wins over the
				// retry loop.
				return nil, domain.FaultFrom(err)
			}
		}
	}

	if lastFault == nil {
		lastFault = domain.NewFault(domain.KindInternal, domain.CodeAllRetriesFailed,
			fmt.Sprintf("operation %q failed after %d attempts with no classified error", operation, maxAttempts))
	}

	c.logger.Error("upstream operation failed",
		"operation", operation,
		"code", lastFault.Code,
		"kind", string(lastFault.Kind),
		"error", lastFault.Message,
	)
	metrics.UpstreamOperationDuration.Observe(time.Since(start).Seconds())
	return nil, lastFault
}

// attempt performs exactly one HTTP round trip and classifies its failure.
func (c *Client) attempt(ctx context.Context, endpoint string, payload []byte, headers map[string]string, operation string) (json.RawMessage, *domain.Fault) {
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, domain.InternalFault(fmt.Sprintf("build request for operation %q: %v", operation, err))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &domain.Fault{
				Kind:    domain.KindTimeout,
				Code:    domain.CodeTimeout,
				Message: fmt.Sprintf("operation %q timed out after %s", operation, attemptTimeout),
			}
		}
		if ctx.Err() != nil {
			// Caller cancelled mid-flight; report it as-is so the loop stops.
			return nil, domain.FaultFrom(ctx.Err())
		}
		return nil, &domain.Fault{
			Kind:    domain.KindNetwork,
			Code:    domain.CodeNetwork,
			Message: fmt.Sprintf("operation %q: %v", operation, err),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.Fault{
			Kind:    domain.KindNetwork,
			Code:    domain.CodeNetwork,
			Message: fmt.Sprintf("read response for operation %q: %v", operation, err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var detail any
		_ = json.Unmarshal(raw, &detail)
		return nil, domain.HTTPFault(resp.StatusCode, operation, detail)
	}

	// A 200 can still carry an application-level failure: Hasura reports it
	// as a top-level errors array. The metadata API never sets that key.
	var envelope graphQLEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Errors) > 0 {
		return nil, &domain.Fault{
			Kind:       domain.KindUpstream,
			Code:       domain.CodeGraphQLExecution,
			Message:    fmt.Sprintf("graphql error executing operation %q", operation),
			Details:    envelope.Errors,
			HTTPStatus: resp.StatusCode,
		}
	}

	return raw, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

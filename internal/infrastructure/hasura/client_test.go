package hasura

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/atomcal/autopilot/internal/domain"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Options{
		GraphURL:    url,
		AdminSecret: "test-admin-secret",
		MetadataURL: url,
		AuthToken:   "test-api-token",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	// No real sleeping in tests; recorded via recordSleeps where needed.
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func recordSleeps(c *Client) *[]time.Duration {
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return &delays
}

func TestNewClient_FailsClosedOnMissingConfig(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"no graph url", Options{AdminSecret: "a", MetadataURL: "b", AuthToken: "c"}},
		{"no admin secret", Options{GraphURL: "a", MetadataURL: "b", AuthToken: "c"}},
		{"no metadata url", Options{GraphURL: "a", AdminSecret: "b", AuthToken: "c"}},
		{"no auth token", Options{GraphURL: "a", AdminSecret: "b", MetadataURL: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.opts)
			f := domain.FaultFrom(err)
			if f == nil || f.Kind != domain.KindConfig {
				t.Errorf("error = %v, want config fault", err)
			}
		})
	}
}

func TestDo_TransientFailuresThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"message":"success"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	delays := recordSleeps(c)

	raw, err := c.Do(context.Background(), srv.URL, map[string]string{"k": "v"}, nil, "TestOp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Errorf("delay[%d] = %s, want %s", i, (*delays)[i], d)
		}
	}
	var resp map[string]string
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil || resp["message"] != "success" {
		t.Errorf("response = %s", raw)
	}
}

func TestDo_ClientErrorsMakeOneAttempt(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			_, err := c.Do(context.Background(), srv.URL, nil, nil, "TestOp")

			f := domain.FaultFrom(err)
			if f == nil || f.Kind != domain.KindClientHTTP {
				t.Fatalf("error = %v, want client http fault", err)
			}
			if f.HTTPStatus != status {
				t.Errorf("status = %d, want %d", f.HTTPStatus, status)
			}
			if got := attempts.Load(); got != 1 {
				t.Errorf("attempts = %d, want 1", got)
			}
		})
	}
}

func TestDo_TooManyRequestsRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Do(context.Background(), srv.URL, nil, nil, "TestOp")

	f := domain.FaultFrom(err)
	if f == nil || f.Kind != domain.KindServerHTTP {
		t.Fatalf("error = %v, want server http fault", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDo_ExhaustionReturnsLastClassifiedFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Do(context.Background(), srv.URL, nil, nil, "TestOp")

	f := domain.FaultFrom(err)
	if f == nil {
		t.Fatal("expected an error")
	}
	if f.Kind != domain.KindServerHTTP {
		t.Errorf("kind = %s, want server http", f.Kind)
	}
	if f.Code != "HTTP_500" {
		t.Errorf("code = %s, want HTTP_500", f.Code)
	}
	if f.Code == domain.CodeAllRetriesFailed {
		t.Error("got generic fallback instead of the last classified fault")
	}
}

func TestDo_GraphQLErrorsArrayRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"field not found"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Do(context.Background(), srv.URL, nil, nil, "TestOp")

	f := domain.FaultFrom(err)
	if f == nil || f.Kind != domain.KindUpstream {
		t.Fatalf("error = %v, want upstream fault", err)
	}
	if f.Code != domain.CodeGraphQLExecution {
		t.Errorf("code = %s, want %s", f.Code, domain.CodeGraphQLExecution)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDo_CancellationStopsRetryLoop(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, srv.URL)
	c.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.Do(ctx, srv.URL, nil, nil, "TestOp")
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestExecuteGraphQL_RoleHeaders(t *testing.T) {
	var gotRole, gotUserID, gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRole = r.Header.Get("X-Hasura-Role")
		gotUserID = r.Header.Get("X-Hasura-User-Id")
		gotSecret = r.Header.Get("X-Hasura-Admin-Secret")
		_, _ = w.Write([]byte(`{"data":{"ok":true}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	if _, err := c.ExecuteGraphQL(context.Background(), "query {}", nil, "Op", "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRole != "user" || gotUserID != "user-1" {
		t.Errorf("role = %q user = %q, want user/user-1", gotRole, gotUserID)
	}
	if gotSecret != "test-admin-secret" {
		t.Errorf("admin secret header = %q", gotSecret)
	}

	if _, err := c.ExecuteGraphQL(context.Background(), "query {}", nil, "Op", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRole != "admin" || gotUserID != "" {
		t.Errorf("role = %q user = %q, want admin/empty", gotRole, gotUserID)
	}
}

func TestExecuteGraphQL_ReturnsDataPart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"Autopilot":[]}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	data, err := c.ExecuteGraphQL(context.Background(), "query {}", nil, "Op", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"Autopilot":[]}` {
		t.Errorf("data = %s", data)
	}
}

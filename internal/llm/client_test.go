package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/morallab/moralsim-backend/internal/logger"
)

func testClient(t *testing.T, endpoint string) (*client, *[]time.Duration) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	var sleeps []time.Duration
	c := &client{
		log:            log,
		httpClient:     &http.Client{},
		apiKey:         "test-key",
		endpoint:       endpoint,
		model:          "test-model",
		maxRetries:     3,
		initialBackoff: 2 * time.Second,
		sleep:          func(d time.Duration) { sleeps = append(sleeps, d) },
	}
	return c, &sleeps
}

func testSchema() map[string]any {
	return StrictObjectSchema(map[string]any{
		"is_valid": BooleanProperty("whether the answer is valid"),
		"feedback": StringProperty("feedback text"),
	})
}

func TestCallRetriesOnRateLimitThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"is_valid\":true,\"feedback\":\"good\"}"}}]}`))
	}))
	defer srv.Close()

	c, sleeps := testClient(t, srv.URL)
	out, err := c.Call(context.Background(), "prompt", 0.1, "validation_response", testSchema())
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if out["is_valid"] != true {
		t.Fatalf("unexpected result: %v", out)
	}
	if calls != 4 {
		t.Fatalf("expected 4 requests, got %d", calls)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(*sleeps))
	}
	var total time.Duration
	for i, d := range *sleeps {
		if d != want[i] {
			t.Fatalf("sleep %d = %v, want %v", i, d, want[i])
		}
		total += d
	}
	if total != 14*time.Second {
		t.Fatalf("total backoff = %v, want 14s", total)
	}
}

func TestCallExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, sleeps := testClient(t, srv.URL)
	_, err := c.Call(context.Background(), "prompt", 0.1, "validation_response", testSchema())
	if !IsRateLimited(err) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if len(*sleeps) != 3 {
		t.Fatalf("expected 3 backoff sleeps, got %d", len(*sleeps))
	}
}

func TestCallDoesNotRetryOtherClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c, sleeps := testClient(t, srv.URL)
	_, err := c.Call(context.Background(), "prompt", 0.1, "validation_response", testSchema())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRateLimited(err) {
		t.Fatalf("400 must not map to RateLimitedError: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single request, got %d", calls)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("expected no backoff sleeps, got %d", len(*sleeps))
	}
}

func TestCallStripsCodeFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"` + "```json\\n{\\\"is_valid\\\":false,\\\"feedback\\\":\\\"vague\\\"}\\n```" + `"}}]}`))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	out, err := c.Call(context.Background(), "prompt", 0.1, "validation_response", testSchema())
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if out["is_valid"] != false || out["feedback"] != "vague" {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestCallMalformedOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"not json at all"}}]}`))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	_, err := c.Call(context.Background(), "prompt", 0.1, "validation_response", testSchema())
	if !IsMalformedOutput(err) {
		t.Fatalf("expected MalformedOutputError, got %v", err)
	}
}

func TestCallInvalidUpstreamResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, _ := testClient(t, srv.URL)
	_, err := c.Call(context.Background(), "prompt", 0.1, "validation_response", testSchema())
	if !IsInvalidUpstreamResponse(err) {
		t.Fatalf("expected InvalidUpstreamResponseError, got %v", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "no_fence",
			in:   `{"a":1}`,
			want: `{"a":1}`,
		},
		{
			name: "json_fence",
			in:   "```json\n{\"a\":1}\n```",
			want: `{"a":1}`,
		},
		{
			name: "bare_fence",
			in:   "```\n{\"a\":1}\n```",
			want: `{"a":1}`,
		},
		{
			name: "surrounding_whitespace",
			in:   "  ```json\n{\"a\":1}\n```  ",
			want: `{"a":1}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := stripCodeFence(tc.in)
			if got != tc.want {
				t.Fatalf("stripCodeFence(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/patchlane/patchlane/internal/types"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.Timeout != 120*time.Second {
		t.Errorf("Timeout = %v, want 120s", cfg.Timeout)
	}
	if cfg.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", cfg.BackoffMultiplier)
	}
}

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limit", errors.New("429 rate limit exceeded"), true},
		{"server error", errors.New("500 internal server error"), true},
		{"bad gateway", errors.New("received bad gateway"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"auth failure", errors.New("401 unauthorized"), false},
		{"bad request", errors.New("400 invalid request body"), false},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetriableError(tt.err); got != tt.want {
				t.Errorf("isRetriableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryWithBackoffStopsOnNonRetriable(t *testing.T) {
	c := &Client{retry: RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1.0,
		Timeout:           time.Second,
	}}

	calls := 0
	err := c.retryWithBackoff(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return errors.New("401 unauthorized")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on non-retriable)", calls)
	}
}

func TestRetryWithBackoffRetriesTransient(t *testing.T) {
	c := &Client{retry: RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1.0,
		Timeout:           time.Second,
	}}

	calls := 0
	err := c.retryWithBackoff(context.Background(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retryWithBackoff() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	c := &Client{retry: RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1.0,
		Timeout:           time.Second,
	}}

	calls := 0
	sentinel := errors.New("connection reset by peer")
	err := c.retryWithBackoff(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("attempt %d: %w", calls, sentinel)
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 (1 initial + 2 retries)", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("final error should wrap the last attempt error, got %v", err)
	}
}

func TestManualFallbackShape(t *testing.T) {
	c := manualFallback("collaborator timed out")
	if c.Decision != types.DecisionManual {
		t.Errorf("Decision = %s, want MANUAL", c.Decision)
	}
	if c.Confidence != 0 {
		t.Errorf("Confidence = %d, want 0", c.Confidence)
	}
	if c.Reason == "" {
		t.Error("Reason must explain the fallback")
	}
}

// setupFakeAPI builds a client whose calls land on the given handler.
func setupFakeAPI(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Logger:  zerolog.Nop(),
		Retry: RetryConfig{
			MaxRetries:        1,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 1.0,
			Timeout:           5 * time.Second,
		},
	})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return c
}

func TestClassifyTransportFailureFallsBackToManual(t *testing.T) {
	c := setupFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"collaborator rejected the request"}}`))
	})

	got := c.Classify(context.Background(), "parser crashes on empty input")
	if got.Decision != types.DecisionManual {
		t.Errorf("Decision = %s, want MANUAL", got.Decision)
	}
	if got.Confidence != 0 {
		t.Errorf("Confidence = %d, want 0", got.Confidence)
	}
	if !strings.Contains(got.Reason, "classification unavailable") {
		t.Errorf("Reason = %q, want it to explain the transport fallback", got.Reason)
	}
}

func TestClassifyEndToEnd(t *testing.T) {
	c := setupFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant",
			"model": "claude-3-5-haiku-20241022",
			"content": [{"type": "text", "text": "{\"decision\":\"AUTOMATED\",\"reason\":\"missing null check\",\"confidence\":88}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 20}
		}`))
	})

	got := c.Classify(context.Background(), "parser crashes on empty input")
	if got.Decision != types.DecisionAutomated {
		t.Errorf("Decision = %s, want AUTOMATED", got.Decision)
	}
	if got.Confidence != 88 {
		t.Errorf("Confidence = %d, want 88", got.Confidence)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := NewClient(Config{}); err == nil {
		t.Error("NewClient() should fail without an API key")
	}
}

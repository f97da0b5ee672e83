package provider

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   FailureClass
	}{
		{429, FailureRateLimit},
		{401, FailureAuth},
		{403, FailureAuth},
		{400, FailureBadRequest},
		{422, FailureBadRequest},
		{500, FailureServer},
		{503, FailureServer},
		{200, FailureUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestClassifyErrorByMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"rate limit text", errors.New("429: rate limit exceeded"), FailureRateLimit},
		{"overloaded", errors.New("overloaded_error: try again"), FailureServer},
		{"server error", errors.New("internal server error"), FailureServer},
		{"deadline", context.DeadlineExceeded, FailureTimeout},
		{"unknown", errors.New("something odd"), FailureUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	retryable := []FailureClass{FailureRateLimit, FailureServer, FailureTimeout}
	for _, class := range retryable {
		if !class.Retryable() {
			t.Errorf("%s should be retryable", class)
		}
	}
	terminal := []FailureClass{FailureBadRequest, FailureAuth, FailureUnknown}
	for _, class := range terminal {
		if class.Retryable() {
			t.Errorf("%s should not be retryable", class)
		}
	}
}

func TestBackendErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := WrapError("anthropic", "claude", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error must unwrap to its cause")
	}
	var backendErr *BackendError
	if !errors.As(wrapped, &backendErr) {
		t.Fatal("wrapped error must be a *BackendError")
	}
	if backendErr.Provider != "anthropic" || backendErr.Model != "claude" {
		t.Errorf("provider/model not carried: %+v", backendErr)
	}
}

func TestWithStatusOverridesClass(t *testing.T) {
	err := WrapError("openai", "gpt-4o", errors.New("request failed")).WithStatus(429)
	if err.Class != FailureRateLimit {
		t.Errorf("status 429 should classify as rate limit, got %s", err.Class)
	}
	if !IsRetryable(err) {
		t.Error("rate-limited error should be retryable")
	}
}

func TestSchemaHintOnlyForBadRequest(t *testing.T) {
	registry := NewRegistry()
	recursive := []byte(`{
		"type": "object",
		"properties": {
			"child": {"$ref": "#/properties/child"}
		}
	}`)
	if err := registry.Register(ToolDecl{Name: "tree", Schema: recursive}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	badReq := WrapError("gemini", "gemini-2.0-flash", errors.New("400 invalid argument")).
		WithStatus(400).WithSchemaHint(registry)
	if badReq.Hint == "" {
		t.Error("bad request with self-referential schema should carry a hint")
	}
	if !strings.Contains(badReq.Hint, "tree") {
		t.Errorf("hint should name the offending tool, got %q", badReq.Hint)
	}

	serverErr := WrapError("gemini", "gemini-2.0-flash", errors.New("boom")).
		WithStatus(500).WithSchemaHint(registry)
	if serverErr.Hint != "" {
		t.Errorf("server error must not get a schema hint, got %q", serverErr.Hint)
	}
}

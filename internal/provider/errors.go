package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailureClass categorizes a backend request failure for retry and
// fallback decisions.
type FailureClass string

const (
	// FailureRateLimit covers quota and rate-limit rejections (HTTP 429).
	FailureRateLimit FailureClass = "rate_limit"
	// FailureServer covers backend 5xx responses.
	FailureServer FailureClass = "server_error"
	// FailureTimeout covers deadline and connection timeouts.
	FailureTimeout FailureClass = "timeout"
	// FailureBadRequest covers non-429 4xx responses; never retried.
	FailureBadRequest FailureClass = "bad_request"
	// FailureAuth covers 401/403 rejections.
	FailureAuth FailureClass = "auth"
	// FailureUnknown is anything unclassified.
	FailureUnknown FailureClass = "unknown"
)

// Retryable reports whether a retry of the same request may succeed.
func (c FailureClass) Retryable() bool {
	switch c {
	case FailureRateLimit, FailureServer, FailureTimeout:
		return true
	}
	return false
}

// TriggersFallback reports whether the failure should hand off to the
// fallback-model negotiation collaborator rather than fail the turn.
func (c FailureClass) TriggersFallback() bool {
	return c == FailureRateLimit
}

// BackendError is a structured error from a backend adapter.
type BackendError struct {
	Class    FailureClass
	Provider string
	Model    string
	Status   int
	Message  string
	// Hint carries an optional diagnostic, e.g. pointing at a
	// self-referential tool schema as the likely cause of a depth error.
	Hint  string
	Cause error
}

func (e *BackendError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Class)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if e.Hint != "" {
		parts = append(parts, "hint: "+e.Hint)
	}
	return strings.Join(parts, " ")
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// WrapError builds a BackendError around a raw adapter failure,
// classifying it from its message when no status code is available.
func WrapError(providerName, model string, cause error) *BackendError {
	be := &BackendError{
		Class:    ClassifyError(cause),
		Provider: providerName,
		Model:    model,
		Cause:    cause,
	}
	if cause != nil {
		be.Message = cause.Error()
	}
	return be
}

// WithStatus attaches an HTTP status and reclassifies from it.
func (e *BackendError) WithStatus(status int) *BackendError {
	e.Status = status
	e.Class = ClassifyStatus(status)
	return e
}

// WithSchemaHint annotates a bad-request failure with the self-referential
// schema diagnostic when the registry reports one. Depth-limit rejections
// on such registries are almost always the schema's fault, not the
// conversation's.
func (e *BackendError) WithSchemaHint(registry *Registry) *BackendError {
	if e.Class == FailureBadRequest && registry != nil {
		if names := registry.SelfReferentialTools(); len(names) > 0 {
			e.Hint = fmt.Sprintf("tool %s declares a self-referential parameter schema, which some backends reject as exceeding schema depth", strings.Join(names, ", "))
		}
	}
	return e
}

// ClassifyStatus maps an HTTP status code to a failure class.
func ClassifyStatus(status int) FailureClass {
	switch {
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status >= 400 && status < 500:
		return FailureBadRequest
	case status >= 500:
		return FailureServer
	}
	return FailureUnknown
}

// ClassifyError classifies a raw error by inspecting its text and chain.
func ClassifyError(err error) FailureClass {
	if err == nil {
		return FailureUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Class
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return FailureTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return FailureRateLimit
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "invalid api key") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return FailureAuth
	case strings.Contains(msg, "bad request") || strings.Contains(msg, "invalid_request") ||
		strings.Contains(msg, "400"):
		return FailureBadRequest
	case strings.Contains(msg, "internal server") || strings.Contains(msg, "server error") ||
		strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "overloaded"):
		return FailureServer
	}
	return FailureUnknown
}

// IsRetryable reports whether an error's class allows another attempt.
func IsRetryable(err error) bool {
	return ClassifyError(err).Retryable()
}

// Package rterrors defines the runtime's error taxonomy: sentinel errors for
// each failure kind the core can produce, plus a typed RuntimeError that
// carries enough context for callers to decide whether to retry.
package rterrors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap these with fmt.Errorf("...: %w", ErrX) at the call
// site and recover them with errors.Is.
var (
	ErrInvalidRole      = errors.New("invalid role: multimodal content outside user role")
	ErrJSONParse        = errors.New("plan response is not valid JSON")
	ErrValidationFailed = errors.New("plan response failed schema validation")
	ErrPlanGeneration   = errors.New("plan generation exhausted retries")
	ErrLLM              = errors.New("llm call failed")
	ErrURLBlocked       = errors.New("url is blocked")
	ErrURLRejected      = errors.New("url is rejected")
	ErrElementNotFound  = errors.New("target element not found")
	ErrBrowser          = errors.New("browser driver error")
	ErrCancelled        = errors.New("operation cancelled")
	ErrUnhandled        = errors.New("no handler registered for message")
	ErrNoResponse       = errors.New("no response received from topic")
)

// Kind classifies a RuntimeError for logging and retry decisions.
type Kind string

const (
	KindInvalidRole      Kind = "invalid_role"
	KindJSONParse        Kind = "json_parse"
	KindValidationFailed Kind = "validation_failed"
	KindPlanGeneration   Kind = "plan_generation"
	KindLLM              Kind = "llm"
	KindURLBlocked       Kind = "url_blocked"
	KindURLRejected      Kind = "url_rejected"
	KindElementNotFound  Kind = "element_not_found"
	KindBrowser          Kind = "browser"
	KindCancelled        Kind = "cancelled"
	KindUnhandled        Kind = "unhandled"
)

// IsRetryable reports whether errors of this kind are worth retrying.
func (k Kind) IsRetryable() bool {
	switch k {
	case KindLLM, KindBrowser:
		return true
	default:
		return false
	}
}

// RuntimeError is the structured form surfaced across package boundaries.
// It wraps an underlying sentinel (or driver) error with enough context to
// log and to decide retry policy without string matching at call sites.
type RuntimeError struct {
	Kind    Kind
	Message string
	Attempt int
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsRetryable reports whether this specific error instance should be retried.
func (e *RuntimeError) IsRetryable() bool { return e.Kind.IsRetryable() }

// New builds a RuntimeError of the given kind wrapping err.
func New(kind Kind, err error) *RuntimeError {
	return &RuntimeError{Kind: kind, Err: err}
}

// Newf builds a RuntimeError of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithAttempt records the retry attempt number that produced this error.
func (e *RuntimeError) WithAttempt(n int) *RuntimeError {
	e.Attempt = n
	return e
}

// classify maps a lower-level error into a Kind by matching the sentinels
// above with errors.Is. Used at boundaries
// (browser driver, LLM transport) that don't already return a RuntimeError.
func classify(err error) Kind {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrURLBlocked):
		return KindURLBlocked
	case errors.Is(err, ErrURLRejected):
		return KindURLRejected
	case errors.Is(err, ErrElementNotFound):
		return KindElementNotFound
	case errors.Is(err, ErrBrowser):
		return KindBrowser
	case errors.Is(err, ErrLLM):
		return KindLLM
	default:
		return KindUnhandled
	}
}

// Classify wraps an arbitrary error into a RuntimeError using best-effort
// sentinel matching, for boundaries that don't construct one directly.
func Classify(err error) *RuntimeError {
	if err == nil {
		return nil
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return re
	}
	return &RuntimeError{Kind: classify(err), Err: err}
}

// Is reports whether err carries kind k, either as a RuntimeError or via a
// wrapped sentinel.
func Is(err error, k Kind) bool {
	if err == nil {
		return false
	}
	return Classify(err).Kind == k
}

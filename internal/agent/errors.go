package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrBudgetExceeded is returned when a request cannot fit the token ceiling.
var ErrBudgetExceeded = errors.New("request exceeds token budget")

// DefaultRetryAfter is used when a rate-limited response carries no hint.
const DefaultRetryAfter = 60 * time.Second

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindRateLimit      ErrorKind = "rate_limit"
	KindAuthentication ErrorKind = "authentication"
	KindTransient      ErrorKind = "transient"
	KindFatal          ErrorKind = "fatal"
	KindUnknown        ErrorKind = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s error (HTTP %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimit
}

// RateLimitedError is returned when the provider refused the request for
// quota reasons. The call still counts against local usage.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s rate limited, retry after %s: %v", e.Provider, e.RetryAfter, e.Err)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP status to a failure. Status 0 falls back to
// message inspection.
func classifyStatus(provider string, status int, header http.Header, err error, now time.Time) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitedError{Provider: provider, RetryAfter: retryAfter(header, now), Err: err}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Provider: provider, Kind: KindAuthentication, Status: status, Err: err}
	case status == http.StatusRequestTimeout || status == http.StatusConflict || status >= 500:
		// 529 is Anthropic's "overloaded".
		return &Error{Provider: provider, Kind: KindTransient, Status: status, Err: err}
	case status >= 400:
		return &Error{Provider: provider, Kind: KindFatal, Status: status, Err: err}
	case status != 0:
		return &Error{Provider: provider, Kind: KindUnknown, Status: status, Err: err}
	}
	return classifyMessage(provider, err)
}

// classifyMessage handles errors that never produced an HTTP response.
func classifyMessage(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: provider, Kind: KindTransient, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return &RateLimitedError{Provider: provider, RetryAfter: DefaultRetryAfter, Err: err}
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return &Error{Provider: provider, Kind: KindAuthentication, Err: err}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "eof") || strings.Contains(msg, "no such host"):
		return &Error{Provider: provider, Kind: KindTransient, Err: err}
	}
	return &Error{Provider: provider, Kind: KindUnknown, Err: err}
}

// retryAfter reads Retry-After (seconds or HTTP date) and the
// retry-after-ms variant some providers send.
func retryAfter(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return DefaultRetryAfter
	}
	if v := h.Get("Retry-After-Ms"); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return DefaultRetryAfter
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return DefaultRetryAfter
}

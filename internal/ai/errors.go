package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrEmptyResponse indicates the collaborator answered without a body.
	ErrEmptyResponse = errors.New("ai: empty response")
	// ErrMalformedResponse indicates the collaborator answer was not the expected JSON.
	ErrMalformedResponse = errors.New("ai: malformed response")
)

// RateLimitError reports that a collaborator asked the caller to back off. Delay is zero
// when the service gave no Retry-After hint.
type RateLimitError struct {
	Operation string
	Delay     time.Duration
}

func (e *RateLimitError) Error() string {
	if e == nil {
		return ""
	}
	if e.Delay > 0 {
		return fmt.Sprintf("ai: %s rate limited, retry after %s", e.Operation, e.Delay)
	}
	return fmt.Sprintf("ai: %s rate limited", e.Operation)
}

// RetryAfter returns the hinted back-off delay.
func (e *RateLimitError) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return e.Delay
}

// StatusError is returned for non-success responses other than 429.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	if e.Body != "" {
		return fmt.Sprintf("ai: %s failed with status %d: %s", e.Operation, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("ai: %s failed with status %d", e.Operation, e.StatusCode)
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool {
	return e != nil && e.StatusCode >= http.StatusInternalServerError
}

// parseRetryAfter reads a Retry-After header given either as seconds or as an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if delay := at.Sub(now); delay > 0 {
			return delay
		}
	}
	return 0
}

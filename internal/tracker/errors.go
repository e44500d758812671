package tracker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Class separates failures worth retrying from those that need a human.
type Class int

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// Sentinel errors for well-known permanent conditions.
var (
	ErrNotFound            = errors.New("issue not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrUnconfiguredProject = errors.New("issue key belongs to an unconfigured project")
)

// Error is a classified adapter failure.
type Error struct {
	Class Class
	Op    string
	Key   string
	Err   error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Key, e.Class, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable failure.
func NewTransient(op, key string, err error) error {
	return &Error{Class: Transient, Op: op, Key: key, Err: err}
}

// NewPermanent wraps err as a non-retryable failure.
func NewPermanent(op, key string, err error) error {
	return &Error{Class: Permanent, Op: op, Key: key, Err: err}
}

// APIError is a non-2xx response from a tracker REST API.
type APIError struct {
	StatusCode int
	Messages   []string

	// RetryAfter is the server-requested wait from a Retry-After header.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("tracker API returned %d", e.StatusCode)
	}
	return fmt.Sprintf("tracker API returned %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// ClassifyStatus maps an HTTP status code to a Class. Rate limits,
// timeouts and server errors are transient; everything else is permanent.
func ClassifyStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests,
		code == http.StatusRequestTimeout,
		code >= 500:
		return Transient
	default:
		return Permanent
	}
}

// ParseRetryAfter reads a Retry-After header value in either delay-seconds
// or HTTP-date form. Unparseable or past values yield zero.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	t, err := http.ParseTime(v)
	if err != nil || !t.After(now) {
		return 0
	}
	return t.Sub(now)
}

// RetryAfter returns the wait a rate-limited tracker asked for, or zero.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// IsTransient reports whether err should be retried. Unclassified network
// errors and timeouts count as transient; context cancellation does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Class == Transient
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return ClassifyStatus(apiErr.StatusCode) == Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsPermanent reports whether err is a failure that retrying cannot fix.
func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}

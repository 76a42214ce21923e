package roblox

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrNotInGroup is returned when a user holds no role in the group
var ErrNotInGroup = errors.New("user is not a member of the group")

// ErrorKind classifies failures at the HTTP boundary so callers can switch on
// the kind instead of inspecting response bodies.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuthExpired
	KindRateLimited
	KindNotFound
	KindTimeout
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// APIError is a classified Roblox API failure
type APIError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("roblox %s: %s (HTTP %d): %s", e.Op, e.Kind, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("roblox %s: %s (HTTP %d)", e.Op, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("roblox %s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("roblox %s: %s", e.Op, e.Kind)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or KindUnknown if err is not an APIError
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	if isTimeout(err) {
		return KindTimeout
	}
	return KindUnknown
}

// IsAuthExpired reports whether the session token must be refreshed
func IsAuthExpired(err error) bool {
	return KindOf(err) == KindAuthExpired
}

func kindForStatus(resp *http.Response) ErrorKind {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return KindAuthExpired
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get(csrfHeader) != "":
		return KindAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return KindNotFound
	case resp.StatusCode >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}

func transportError(op string, err error) error {
	kind := KindUnknown
	if isTimeout(err) {
		kind = KindTimeout
	}
	return &APIError{Kind: kind, Op: op, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tasklane/tasklane/internal/service"
)

// Header-shape failures detected before any credential lookup.
var (
	ErrMissingCredential   = errors.New("missing credential")
	ErrMalformedCredential = errors.New("malformed authorization header")
)

// RateLimitError reports an exhausted request window. It carries enough to
// populate Retry-After and the X-RateLimit-* headers pinned to the violated
// window.
type RateLimitError struct {
	Window     string        // "minute", "hour", or "day"
	Limit      int           // threshold of the violated window
	RetryAfter time.Duration // whole seconds until the window resets
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s window", e.Window)
}

// StatusFor maps a gateway denial to its HTTP status code. The mapping is
// total: anything unrecognized is a 500.
func StatusFor(err error) int {
	var rle *RateLimitError
	switch {
	case errors.Is(err, ErrMissingCredential),
		errors.Is(err, ErrMalformedCredential),
		errors.Is(err, service.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrFeatureLocked),
		errors.Is(err, service.ErrScopeDenied),
		errors.Is(err, service.ErrWorkspaceMismatch),
		errors.Is(err, service.ErrNotMember),
		errors.Is(err, service.ErrInsufficientRole):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &rle):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrUpstream):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// messageFor returns the client-facing message for a denial. Internal
// details stay out of responses; 401s share one message so probes learn
// nothing about which check failed.
func messageFor(err error) string {
	var rle *RateLimitError
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "Authentication required. Provide an Authorization: Bearer header."
	case errors.Is(err, ErrMalformedCredential):
		return "Malformed Authorization header."
	case errors.Is(err, service.ErrInvalidCredential):
		return "Invalid API key."
	case errors.Is(err, service.ErrFeatureLocked):
		return "Your plan does not include API access."
	case errors.Is(err, service.ErrScopeDenied):
		return "This API key does not have the required scope."
	case errors.Is(err, service.ErrWorkspaceMismatch):
		return "This API key is restricted to another workspace."
	case errors.Is(err, service.ErrNotMember):
		return "You are not a member of this workspace."
	case errors.Is(err, service.ErrInsufficientRole):
		return "Your workspace role does not permit this action."
	case errors.Is(err, service.ErrNotFound):
		return "Not found."
	case errors.As(err, &rle):
		return "Rate limit exceeded. Slow down and retry later."
	case errors.Is(err, service.ErrUpstream):
		return "Service temporarily unavailable. Please retry."
	}
	return "Internal server error."
}

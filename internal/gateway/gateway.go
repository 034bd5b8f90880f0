// Package gateway is the single entry point every protected endpoint calls
// before executing business logic. It authenticates the bearer credential,
// enforces scope and rate limits, and resolves fine-grained workspace/task
// access when the request names a resource.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tasklane/tasklane/internal/model"
	"github.com/tasklane/tasklane/internal/ratelimit"
	"github.com/tasklane/tasklane/internal/service"
)

// ResourceRef names the resource a request targets. Zero values mean the
// request is not bound to that resource kind; TaskID takes precedence when
// both are set.
type ResourceRef struct {
	WorkspaceID int64
	TaskID      int64
}

// Result is a successful gateway decision: the resolved principal plus the
// rate-limit state for observability headers, and — when the request named
// a resource — the resolved role and task.
type Result struct {
	Principal *model.Principal
	Limits    model.TierLimits
	Remaining ratelimit.Remaining
	Role      model.Role  // set when ref named a workspace or task
	Task      *model.Task // set when ref named a task
}

// Gateway composes credential verification, scope resolution, rate
// limiting, and membership/role resolution.
type Gateway struct {
	auth    *service.AuthService
	access  *service.AccessService
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// New creates a Gateway over the given services and limiter.
func New(auth *service.AuthService, access *service.AccessService, limiter *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{auth: auth, access: access, limiter: limiter, logger: logger}
}

// BearerToken extracts the opaque secret from the Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingCredential
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrMalformedCredential
	}
	return parts[1], nil
}

// AuthenticateAndAuthorize runs the full admission sequence for a protected
// request: verify the bearer credential, check the coarse scope, admit
// against the per-key rate windows, then resolve workspace/task access if
// the request names a resource. Checks run cheapest first; denial at any
// step is final, and the only side effect of a denial is rate-limit quota
// already consumed.
func (g *Gateway) AuthenticateAndAuthorize(r *http.Request, action model.Action, ref ResourceRef) (*Result, error) {
	secret, err := BearerToken(r)
	if err != nil {
		return nil, err
	}

	principal, err := g.auth.VerifyAPIKey(r.Context(), secret)
	if err != nil {
		return nil, err
	}

	if err := g.access.CheckScope(principal, model.RequiredScope(action)); err != nil {
		return nil, err
	}

	limits := model.LimitsForTier(principal.Plan)
	decision := g.limiter.Admit(fmt.Sprintf("key:%d", principal.KeyID), limits)
	if !decision.Allowed {
		return nil, &RateLimitError{
			Window:     decision.Window,
			Limit:      limitForWindow(limits, decision.Window),
			RetryAfter: decision.RetryAfter,
		}
	}

	res := &Result{
		Principal: principal,
		Limits:    limits,
		Remaining: decision.Remaining,
	}

	switch {
	case ref.TaskID != 0:
		task, role, err := g.access.ResolveTaskAccess(r.Context(), principal, ref.TaskID, action)
		if err != nil {
			return nil, err
		}
		res.Task = task
		res.Role = role
	case ref.WorkspaceID != 0:
		role, err := g.access.ResolveWorkspaceAccess(r.Context(), principal, ref.WorkspaceID, action)
		if err != nil {
			return nil, err
		}
		res.Role = role
	}

	return res, nil
}

func limitForWindow(limits model.TierLimits, window string) int {
	switch window {
	case ratelimit.WindowMinute:
		return limits.PerMinute
	case ratelimit.WindowHour:
		return limits.PerHour
	case ratelimit.WindowDay:
		return limits.PerDay
	}
	return 0
}

// SetRateHeaders writes the per-window limit and remaining headers on a
// successful response.
func SetRateHeaders(w http.ResponseWriter, limits model.TierLimits, rem ratelimit.Remaining) {
	h := w.Header()
	h.Set("X-RateLimit-Limit-Minute", strconv.Itoa(limits.PerMinute))
	h.Set("X-RateLimit-Limit-Hour", strconv.Itoa(limits.PerHour))
	h.Set("X-RateLimit-Limit-Day", strconv.Itoa(limits.PerDay))
	h.Set("X-RateLimit-Remaining-Minute", strconv.Itoa(rem.Minute))
	h.Set("X-RateLimit-Remaining-Hour", strconv.Itoa(rem.Hour))
	h.Set("X-RateLimit-Remaining-Day", strconv.Itoa(rem.Day))
}

// WriteDenial renders a gateway denial as the standard JSON error envelope
// with the mapped status code. Rate-limit denials also carry Retry-After
// and the X-RateLimit-* pair pinned to the violated window.
func (g *Gateway) WriteDenial(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)

	var rle *RateLimitError
	if errors.As(err, &rle) {
		secs := int(rle.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		window := capitalize(rle.Window)
		w.Header().Set("X-RateLimit-Limit-"+window, strconv.Itoa(rle.Limit))
		w.Header().Set("X-RateLimit-Remaining-"+window, "0")
	}

	if status >= 500 {
		g.logger.Error("gateway denial", "status", status, "error", err, "path", r.URL.Path)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: messageFor(err)},
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

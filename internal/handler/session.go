package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tasklane/tasklane/internal/ratelimit"
	"github.com/tasklane/tasklane/internal/service"
)

// sessionTTL is how long an interactive session token stays valid.
const sessionTTL = 24 * time.Hour

// SessionHandler serves the interactive login path. Every attempt runs
// through the login throttle keyed by (origin, claimed identity) before any
// credential work happens.
type SessionHandler struct {
	auth     *service.AuthService
	throttle *ratelimit.LoginThrottle
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(auth *service.AuthService, throttle *ratelimit.LoginThrottle) *SessionHandler {
	return &SessionHandler{auth: auth, throttle: throttle}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
}

// Login authenticates an email/password pair and returns a session token.
// POST /api/v1/session
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	origin := clientOrigin(r)

	// The throttle gate runs before the credential check and never consumes
	// budget itself; only failed checks are recorded.
	if ok, retry := h.throttle.CheckBeforeAttempt(origin, req.Email); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
		writeError(w, http.StatusTooManyRequests,
			"Too many failed login attempts. Try again later.")
		return
	}

	user, err := h.auth.VerifyLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredential) {
			h.throttle.RecordFailure(origin, req.Email)
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "Authentication temporarily unavailable")
		return
	}

	token, err := h.auth.IssueSessionToken(user.ID, user.Email, sessionTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue session token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(sessionTTL.Seconds()),
		UserID:    user.ID,
		Email:     user.Email,
	})
}

// Logout invalidates the session client-side. Session tokens are stateless,
// so the server has nothing to forget.
// DELETE /api/v1/session
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tasklane/tasklane/internal/service"
)

// SessionKey is the context key for the authenticated session principal.
const SessionKey contextKey = "session_principal"

// SessionAuth validates the Bearer session token on management endpoints
// (key issuance, listing, revocation). API-key traffic does not pass
// through here; protected resource endpoints call the gateway instead.
func SessionAuth(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide an Authorization: Bearer session token.")
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			principal, err := authSvc.ValidateSessionToken(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid or expired session token.")
				return
			}
			ctx := context.WithValue(r.Context(), SessionKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession extracts the session principal from the context. Returns nil
// for unauthenticated requests.
func GetSession(ctx context.Context) *service.SessionPrincipal {
	if p, ok := ctx.Value(SessionKey).(*service.SessionPrincipal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually constructed JSON to avoid an import cycle with handler.
	w.Write([]byte(`{"error":{"code":` + statusString(status) + `,"message":"` + message + `"}}`))
}

func statusString(code int) string {
	switch code {
	case 401:
		return "401"
	case 403:
		return "403"
	default:
		return "500"
	}
}

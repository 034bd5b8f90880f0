package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tasklane/tasklane/internal/service"
	"github.com/tasklane/tasklane/internal/store"
)

func TestRequestIDGenerated(t *testing.T) {
	var captured string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if captured == "" {
		t.Fatal("no request ID in context")
	}
	if got := rr.Header().Get("X-Request-ID"); got != captured {
		t.Errorf("header %q does not match context value %q", got, captured)
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	var captured string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Request-ID", "client-supplied-id")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if captured != "client-supplied-id" {
		t.Errorf("got %q, want client-supplied-id", captured)
	}
}

func TestLoggerRecordsStatusAndPath(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/teapot", nil))

	out := buf.String()
	if !strings.Contains(out, "status=418") {
		t.Errorf("log line missing status: %s", out)
	}
	if !strings.Contains(out, "path=/teapot") {
		t.Errorf("log line missing path: %s", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("4xx should log at warn: %s", out)
	}
}

func TestSessionAuth(t *testing.T) {
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	authSvc := service.NewAuthService(st, "middleware-test-secret", slog.New(slog.NewTextHandler(io.Discard, nil)))

	var got *service.SessionPrincipal
	h := SessionAuth(authSvc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetSession(r.Context())
	}))

	t.Run("valid token", func(t *testing.T) {
		token, err := authSvc.IssueSessionToken(7, "alice@example.com", time.Hour)
		if err != nil {
			t.Fatalf("IssueSessionToken: %v", err)
		}
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)

		if rr.Code != http.StatusOK {
			t.Fatalf("got status %d", rr.Code)
		}
		if got == nil || got.UserID != 7 || got.Email != "alice@example.com" {
			t.Errorf("unexpected principal: %+v", got)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("got status %d, want 401", rr.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("Authorization", "Bearer not.a.jwt")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("got status %d, want 401", rr.Code)
		}
	})
}

func TestIPRateLimit(t *testing.T) {
	h := IPRateLimit(3)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		r := httptest.NewRequest("POST", "/session", nil)
		r.RemoteAddr = "10.0.0.1:5000"
		h.ServeHTTP(rr, r)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d got status %d", i+1, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/session", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	h.ServeHTTP(rr, r)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("4th request got status %d, want 429", rr.Code)
	}
}

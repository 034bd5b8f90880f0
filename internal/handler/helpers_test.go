package handler

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestURLID(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  int64
	}{
		{"numeric", "42", 42},
		{"not a number", "abc", 0},
		{"empty", "", 0},
		{"negative ok", "-3", -3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("taskID", tc.value)
			r := httptest.NewRequest("GET", "/", nil)
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

			if got := urlID(r, "taskID"); got != tc.want {
				t.Errorf("urlID(%q) = %d, want %d", tc.value, got, tc.want)
			}
		})
	}
}

func TestClientOrigin(t *testing.T) {
	r := httptest.NewRequest("POST", "/session", nil)
	r.RemoteAddr = "203.0.113.9:61234"
	if got := clientOrigin(r); got != "203.0.113.9" {
		t.Errorf("got %q, want bare IP", got)
	}

	// RealIP middleware can leave a bare IP with no port.
	r.RemoteAddr = "203.0.113.9"
	if got := clientOrigin(r); got != "203.0.113.9" {
		t.Errorf("got %q for portless addr", got)
	}
}

func TestClampInt(t *testing.T) {
	if got := clampInt(500, 1, 200); got != 200 {
		t.Errorf("clamp above: got %d", got)
	}
	if got := clampInt(0, 1, 200); got != 1 {
		t.Errorf("clamp below: got %d", got)
	}
	if got := clampInt(50, 1, 200); got != 50 {
		t.Errorf("in range: got %d", got)
	}
}

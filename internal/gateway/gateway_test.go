package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tasklane/tasklane/internal/model"
	"github.com/tasklane/tasklane/internal/ratelimit"
	"github.com/tasklane/tasklane/internal/service"
	"github.com/tasklane/tasklane/internal/store"
)

type gwFixture struct {
	gw    *Gateway
	store *store.Store
	auth  *service.AuthService
	user  *model.User
	ws    *model.Workspace
	key   string // plaintext API key
}

// newGWFixture builds the full gateway stack over an in-memory store with a
// pro-plan user who is an editor in one workspace, holding a key granting
// the given scopes.
func newGWFixture(t *testing.T, scopes model.ScopeList, role model.Role, bound bool) *gwFixture {
	t.Helper()
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx := context.Background()
	hash, _ := service.HashPassword("pw-for-tests")
	user := &model.User{Email: "alice@example.com", PasswordHash: hash, Plan: model.PlanPro, IsActive: true}
	if err := st.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	ws := &model.Workspace{Name: "W1", OwnerID: user.ID}
	if err := st.CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if role != "" {
		if err := st.SetMembership(ctx, &model.Membership{UserID: user.ID, WorkspaceID: ws.ID, Role: role}); err != nil {
			t.Fatalf("SetMembership: %v", err)
		}
	}

	auth := service.NewAuthService(st, "test-secret", logger)
	access := service.NewAccessService(st, logger)
	limiter := ratelimit.NewLimiter()

	var binding *int64
	if bound {
		binding = &ws.ID
	}
	plaintext, _, err := auth.IssueAPIKey(ctx, user.ID, "test", scopes, 0, binding)
	if err != nil {
		t.Fatalf("IssueAPIKey: %v", err)
	}

	return &gwFixture{
		gw:    New(auth, access, limiter, logger),
		store: st,
		auth:  auth,
		user:  user,
		ws:    ws,
		key:   plaintext,
	}
}

func authedRequest(key string) *http.Request {
	r := httptest.NewRequest("GET", "/api/v1/workspaces/1/tasks", nil)
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
	return r
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"missing", "", ErrMissingCredential},
		{"wrong scheme", "Basic abc123", ErrMalformedCredential},
		{"no token", "Bearer", ErrMalformedCredential},
		{"empty token", "Bearer ", ErrMalformedCredential},
		{"ok", "Bearer tl_abc", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			token, err := BearerToken(r)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got err %v, want %v", err, tc.want)
			}
			if tc.want == nil && token != "tl_abc" {
				t.Errorf("got token %q", token)
			}
		})
	}
}

func TestAuthorizeAdmitsAndSpendsOneUnit(t *testing.T) {
	f := newGWFixture(t, model.ScopeList{model.ScopeReadTasks, model.ScopeWriteTasks}, model.RoleEditor, false)

	res, err := f.gw.AuthenticateAndAuthorize(authedRequest(f.key), model.ActionRead, ResourceRef{WorkspaceID: f.ws.ID})
	if err != nil {
		t.Fatalf("AuthenticateAndAuthorize: %v", err)
	}
	if res.Role != model.RoleEditor {
		t.Errorf("got role %q, want editor", res.Role)
	}
	limits := model.LimitsForTier(model.PlanPro)
	if res.Remaining.Minute != limits.PerMinute-1 ||
		res.Remaining.Hour != limits.PerHour-1 ||
		res.Remaining.Day != limits.PerDay-1 {
		t.Errorf("first call should spend exactly one unit per window, got %+v", res.Remaining)
	}

	// Second call spends exactly one more from each window.
	res2, err := f.gw.AuthenticateAndAuthorize(authedRequest(f.key), model.ActionRead, ResourceRef{WorkspaceID: f.ws.ID})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if res2.Remaining.Minute != res.Remaining.Minute-1 ||
		res2.Remaining.Hour != res.Remaining.Hour-1 ||
		res2.Remaining.Day != res.Remaining.Day-1 {
		t.Errorf("second call remaining %+v after %+v", res2.Remaining, res.Remaining)
	}
}

func TestAuthorizeRateLimited(t *testing.T) {
	f := newGWFixture(t, model.ScopeList{model.ScopeReadTasks}, model.RoleEditor, false)
	limits := model.LimitsForTier(model.PlanPro)

	for i := 0; i < limits.PerMinute; i++ {
		if _, err := f.gw.AuthenticateAndAuthorize(authedRequest(f.key), model.ActionRead, ResourceRef{}); err != nil {
			t.Fatalf("call %d should be admitted: %v", i+1, err)
		}
	}

	_, err := f.gw.AuthenticateAndAuthorize(authedRequest(f.key), model.ActionRead, ResourceRef{})
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rle.Window != ratelimit.WindowMinute || rle.Limit != limits.PerMinute {
		t.Errorf("unexpected violation: %+v", rle)
	}

	rr := httptest.NewRecorder()
	f.gw.WriteDenial(rr, authedRequest(f.key), err)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("got status %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rr.Header().Get("X-RateLimit-Remaining-Minute") != "0" {
		t.Error("expected remaining pinned to 0 for the violated window")
	}
}

func TestAuthorizeDenialStatuses(t *testing.T) {
	f := newGWFixture(t, model.ScopeList{model.ScopeReadTasks}, model.RoleEditor, false)

	cases := []struct {
		name       string
		key        string
		action     model.Action
		ref        ResourceRef
		wantStatus int
	}{
		{"missing credential", "", model.ActionRead, ResourceRef{}, http.StatusUnauthorized},
		{"invalid credential", "tl_bogus", model.ActionRead, ResourceRef{}, http.StatusUnauthorized},
		{"scope denied", f.key, model.ActionUpdate, ResourceRef{}, http.StatusForbidden},
		{"missing task", f.key, model.ActionRead, ResourceRef{TaskID: 9999}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.gw.AuthenticateAndAuthorize(authedRequest(tc.key), tc.action, tc.ref)
			if err == nil {
				t.Fatal("expected a denial")
			}
			if got := StatusFor(err); got != tc.wantStatus {
				t.Errorf("got status %d, want %d (err=%v)", got, tc.wantStatus, err)
			}
		})
	}
}

func TestAuthorizeFeatureLocked(t *testing.T) {
	f := newGWFixture(t, model.ScopeList{model.ScopeReadTasks}, model.RoleEditor, false)

	if err := f.store.UpdateUserPlan(context.Background(), f.user.ID, model.PlanFree); err != nil {
		t.Fatalf("UpdateUserPlan: %v", err)
	}
	_, err := f.gw.AuthenticateAndAuthorize(authedRequest(f.key), model.ActionRead, ResourceRef{})
	if !errors.Is(err, service.ErrFeatureLocked) {
		t.Fatalf("expected ErrFeatureLocked, got %v", err)
	}
	if StatusFor(err) != http.StatusForbidden {
		t.Errorf("feature lock should map to 403")
	}
}

func TestAuthorizeTaskRef(t *testing.T) {
	f := newGWFixture(t, model.ScopeList{model.ScopeReadTasks, model.ScopeWriteTasks}, model.RoleEditor, true)

	task := &model.Task{WorkspaceID: f.ws.ID, Title: "T", CreatedBy: f.user.ID}
	if err := f.store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	res, err := f.gw.AuthenticateAndAuthorize(authedRequest(f.key), model.ActionUpdate, ResourceRef{TaskID: task.ID})
	if err != nil {
		t.Fatalf("AuthenticateAndAuthorize: %v", err)
	}
	if res.Task == nil || res.Task.ID != task.ID {
		t.Errorf("expected resolved task, got %+v", res.Task)
	}
}

func TestSetRateHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SetRateHeaders(rr, model.TierLimits{PerMinute: 60, PerHour: 1000, PerDay: 10000},
		ratelimit.Remaining{Minute: 59, Hour: 999, Day: 9999})

	if rr.Header().Get("X-RateLimit-Limit-Minute") != "60" {
		t.Error("missing minute limit header")
	}
	if rr.Header().Get("X-RateLimit-Remaining-Day") != "9999" {
		t.Error("missing day remaining header")
	}
}

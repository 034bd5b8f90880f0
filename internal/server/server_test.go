package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tasklane/tasklane/internal/model"
	"github.com/tasklane/tasklane/internal/service"
	"github.com/tasklane/tasklane/internal/store"
)

const testPassword = "correct horse battery staple"

type serverFixture struct {
	srv   *Server
	store *store.Store
	auth  *service.AuthService
	user  *model.User
	ws    *model.Workspace
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx := context.Background()
	hash, err := service.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	user := &model.User{Email: "alice@example.com", PasswordHash: hash, Plan: model.PlanPro, IsActive: true}
	if err := st.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	ws := &model.Workspace{Name: "W1", OwnerID: user.ID}
	if err := st.CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if err := st.SetMembership(ctx, &model.Membership{UserID: user.ID, WorkspaceID: ws.ID, Role: model.RoleOwner}); err != nil {
		t.Fatalf("SetMembership: %v", err)
	}

	authSvc := service.NewAuthService(st, "server-test-secret", logger)
	accessSvc := service.NewAccessService(st, logger)
	cfg := DefaultConfig()
	cfg.LoginPerMinute = 100 // high enough to not interfere with throttle tests

	return &serverFixture{
		srv:   New(cfg, st, authSvc, accessSvc, logger),
		store: st,
		auth:  authSvc,
		user:  user,
		ws:    ws,
	}
}

func (f *serverFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.RemoteAddr = "198.51.100.7:4242"
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.srv.ServeHTTP(rr, r)
	return rr
}

func (f *serverFixture) login(t *testing.T) string {
	t.Helper()
	rr := f.do(t, "POST", "/api/v1/session", "", map[string]string{
		"email": f.user.Email, "password": testPassword,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("login got status %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"session_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

func (f *serverFixture) issueKey(t *testing.T, scopes []string) string {
	t.Helper()
	token := f.login(t)
	rr := f.do(t, "POST", "/api/v1/keys", token, map[string]interface{}{
		"label": "e2e", "scopes": scopes,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create key got status %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode key response: %v", err)
	}
	return resp.Key
}

func TestHealthEndpoints(t *testing.T) {
	f := newServerFixture(t)

	if rr := f.do(t, "GET", "/healthz", "", nil); rr.Code != http.StatusOK {
		t.Errorf("healthz got %d", rr.Code)
	}
	rr := f.do(t, "GET", "/readyz", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("readyz got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestKeyLifecycleOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	token := f.login(t)

	rr := f.do(t, "POST", "/api/v1/keys", token, map[string]interface{}{
		"label": "ci", "scopes": []string{"read-tasks"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create key got %d: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		Key    string       `json:"key"`
		Record model.APIKey `json:"record"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Key == "" || created.Record.ID == 0 {
		t.Fatalf("incomplete create response: %+v", created)
	}

	// The key works against a protected endpoint.
	if rr := f.do(t, "GET", fmt.Sprintf("/api/v1/workspaces/%d/tasks", f.ws.ID), created.Key, nil); rr.Code != http.StatusOK {
		t.Fatalf("key should be usable, got %d: %s", rr.Code, rr.Body.String())
	}

	// Listing shows it without the hash.
	rr = f.do(t, "GET", "/api/v1/keys", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list keys got %d", rr.Code)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte(created.Record.KeyHash)) {
		t.Error("key hash leaked in list response")
	}

	// Revoke takes effect immediately on the verification path.
	rr = f.do(t, "POST", fmt.Sprintf("/api/v1/keys/%d/revoke", created.Record.ID), token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := f.do(t, "GET", fmt.Sprintf("/api/v1/workspaces/%d/tasks", f.ws.ID), created.Key, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("revoked key got %d, want 401", rr.Code)
	}

	// Delete is idempotent.
	for i := 0; i < 2; i++ {
		rr = f.do(t, "DELETE", fmt.Sprintf("/api/v1/keys/%d", created.Record.ID), token, nil)
		if rr.Code != http.StatusOK && rr.Code != http.StatusNotFound {
			t.Fatalf("delete round %d got %d", i+1, rr.Code)
		}
	}
}

func TestKeyManagementRequiresSession(t *testing.T) {
	f := newServerFixture(t)

	if rr := f.do(t, "GET", "/api/v1/keys", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list got %d, want 401", rr.Code)
	}

	// An API key is not a session token.
	apiKey := f.issueKey(t, []string{"read-tasks"})
	if rr := f.do(t, "GET", "/api/v1/keys", apiKey, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("API key on management endpoint got %d, want 401", rr.Code)
	}
}

func TestLoginThrottleLockout(t *testing.T) {
	f := newServerFixture(t)

	for i := 0; i < 5; i++ {
		rr := f.do(t, "POST", "/api/v1/session", "", map[string]string{
			"email": f.user.Email, "password": "wrong",
		})
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d got %d, want 401", i+1, rr.Code)
		}
	}

	// Sixth attempt is throttled even with the correct password.
	rr := f.do(t, "POST", "/api/v1/session", "", map[string]string{
		"email": f.user.Email, "password": testPassword,
	})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("throttled attempt got %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("throttled response missing Retry-After")
	}

	// A different identity from the same origin is unaffected.
	rr = f.do(t, "POST", "/api/v1/session", "", map[string]string{
		"email": "bob@example.com", "password": "wrong",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("other identity got %d, want 401", rr.Code)
	}
}

func TestTaskEndpointsEndToEnd(t *testing.T) {
	f := newServerFixture(t)
	key := f.issueKey(t, []string{"read-tasks", "write-tasks"})

	// Create.
	rr := f.do(t, "POST", fmt.Sprintf("/api/v1/workspaces/%d/tasks", f.ws.ID), key, map[string]string{
		"title": "ship it", "description": "end to end",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create task got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-RateLimit-Remaining-Minute") == "" {
		t.Error("success response missing rate headers")
	}
	var task model.Task
	if err := json.Unmarshal(rr.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.Status != "open" {
		t.Errorf("new task status %q, want open", task.Status)
	}

	// Read back.
	rr = f.do(t, "GET", fmt.Sprintf("/api/v1/tasks/%d", task.ID), key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get task got %d", rr.Code)
	}

	// Patch.
	rr = f.do(t, "PATCH", fmt.Sprintf("/api/v1/tasks/%d", task.ID), key, map[string]string{
		"status": "done",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("update task got %d: %s", rr.Code, rr.Body.String())
	}
	var updated model.Task
	json.Unmarshal(rr.Body.Bytes(), &updated)
	if updated.Status != "done" {
		t.Errorf("status %q after patch, want done", updated.Status)
	}

	// Comment.
	rr = f.do(t, "POST", fmt.Sprintf("/api/v1/tasks/%d/comments", task.ID), key, map[string]string{
		"body": "looks good",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create comment got %d: %s", rr.Code, rr.Body.String())
	}
	rr = f.do(t, "GET", fmt.Sprintf("/api/v1/tasks/%d/comments", task.ID), key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list comments got %d", rr.Code)
	}

	// Delete (owner role permits it).
	rr = f.do(t, "DELETE", fmt.Sprintf("/api/v1/tasks/%d", task.ID), key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete task got %d: %s", rr.Code, rr.Body.String())
	}
	rr = f.do(t, "GET", fmt.Sprintf("/api/v1/tasks/%d", task.ID), key, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("deleted task got %d, want 404", rr.Code)
	}
}

func TestScopeDeniedOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	key := f.issueKey(t, []string{"read-tasks"})

	rr := f.do(t, "POST", fmt.Sprintf("/api/v1/workspaces/%d/tasks", f.ws.ID), key, map[string]string{
		"title": "nope",
	})
	if rr.Code != http.StatusForbidden {
		t.Errorf("write with read-only key got %d, want 403", rr.Code)
	}
}

func TestMemberManagementOverHTTP(t *testing.T) {
	f := newServerFixture(t)
	key := f.issueKey(t, []string{"read-tasks", "write-tasks", "manage-workspace"})

	bob := &model.User{Email: "bob@example.com", PasswordHash: "x", Plan: model.PlanFree, IsActive: true}
	if err := f.store.CreateUser(context.Background(), bob); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	rr := f.do(t, "PUT", fmt.Sprintf("/api/v1/workspaces/%d/members/%d", f.ws.ID, bob.ID), key, map[string]string{
		"role": "editor",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("set member got %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, "GET", fmt.Sprintf("/api/v1/workspaces/%d/members", f.ws.ID), key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list members got %d", rr.Code)
	}
	var list struct {
		Meta *model.ResponseMeta `json:"meta"`
	}
	json.Unmarshal(rr.Body.Bytes(), &list)
	if list.Meta == nil || list.Meta.Count != 2 {
		t.Errorf("expected 2 members, got %+v", list.Meta)
	}

	rr = f.do(t, "DELETE", fmt.Sprintf("/api/v1/workspaces/%d/members/%d", f.ws.ID, bob.ID), key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove member got %d: %s", rr.Code, rr.Body.String())
	}
}

package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/tasklane/tasklane/internal/model"
	"github.com/tasklane/tasklane/internal/server/middleware"
	"github.com/tasklane/tasklane/internal/service"
	"github.com/tasklane/tasklane/internal/store"
)

// KeyHandler manages a user's own API keys. All endpoints require a valid
// session; a key belonging to someone else is reported as missing rather
// than forbidden.
type KeyHandler struct {
	auth  *service.AuthService
	store *store.Store
}

// NewKeyHandler creates a KeyHandler.
func NewKeyHandler(auth *service.AuthService, st *store.Store) *KeyHandler {
	return &KeyHandler{auth: auth, store: st}
}

type createKeyRequest struct {
	Label       string   `json:"label"`
	Scopes      []string `json:"scopes"`
	ExpiresIn   int64    `json:"expires_in,omitempty"` // seconds, 0 = never
	WorkspaceID *int64   `json:"workspace_id,omitempty"`
}

type createKeyResponse struct {
	Key    string       `json:"key"` // plaintext, shown exactly once
	Record model.APIKey `json:"record"`
}

// Create issues a new API key for the session user. The plaintext secret
// appears in this response and nowhere else.
// POST /api/v1/keys
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Session required")
		return
	}

	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	scopes := make(model.ScopeList, len(req.Scopes))
	for i, s := range req.Scopes {
		scopes[i] = model.Scope(s)
	}

	plaintext, key, err := h.auth.IssueAPIKey(r.Context(), sess.UserID, req.Label,
		scopes, time.Duration(req.ExpiresIn)*time.Second, req.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Cannot issue key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{Key: plaintext, Record: *key})
}

// List returns the session user's keys, newest first. Hashes never leave
// the store; only the display prefix is shown.
// GET /api/v1/keys
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Session required")
		return
	}

	keys, err := h.store.ListAPIKeysForUser(r.Context(), sess.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list keys")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

// Revoke soft-revokes one of the session user's keys. Repeat calls succeed
// and keep the original revocation timestamp.
// POST /api/v1/keys/{keyID}/revoke
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownKey(w, r)
	if !ok {
		return
	}
	if err := h.auth.RevokeAPIKey(r.Context(), key.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to revoke key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Delete removes one of the session user's keys entirely, erasing its audit
// trail.
// DELETE /api/v1/keys/{keyID}
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownKey(w, r)
	if !ok {
		return
	}
	if err := h.auth.DeleteAPIKey(r.Context(), key.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ownKey resolves the keyID URL parameter and verifies the session user owns
// it, writing the error response itself on failure. Foreign keys look
// missing, not forbidden.
func (h *KeyHandler) ownKey(w http.ResponseWriter, r *http.Request) (*model.APIKey, bool) {
	sess := middleware.GetSession(r.Context())
	if sess == nil {
		writeError(w, http.StatusUnauthorized, "Session required")
		return nil, false
	}
	id := urlID(r, "keyID")
	if id == 0 {
		writeError(w, http.StatusBadRequest, "Invalid key id")
		return nil, false
	}
	key, err := h.store.GetAPIKey(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to look up key")
		return nil, false
	}
	if key.UserID != sess.UserID {
		writeError(w, http.StatusNotFound, "Key not found")
		return nil, false
	}
	return key, true
}

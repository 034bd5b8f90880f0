package handler

import (
	"errors"
	"net/http"

	"github.com/tasklane/tasklane/internal/gateway"
	"github.com/tasklane/tasklane/internal/model"
	"github.com/tasklane/tasklane/internal/store"
)

// WorkspaceHandler serves workspace metadata and membership management for
// API-key traffic.
type WorkspaceHandler struct {
	gw    *gateway.Gateway
	store *store.Store
}

// NewWorkspaceHandler creates a WorkspaceHandler.
func NewWorkspaceHandler(gw *gateway.Gateway, st *store.Store) *WorkspaceHandler {
	return &WorkspaceHandler{gw: gw, store: st}
}

// Get returns workspace metadata.
// GET /api/v1/workspaces/{workspaceID}
func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	wsID := urlID(r, "workspaceID")
	res, err := h.gw.AuthenticateAndAuthorize(r, model.ActionRead, gateway.ResourceRef{WorkspaceID: wsID})
	if err != nil {
		h.gw.WriteDenial(w, r, err)
		return
	}
	gateway.SetRateHeaders(w, res.Limits, res.Remaining)

	ws, err := h.store.GetWorkspace(r.Context(), wsID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Not found.")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load workspace")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// ListMembers returns the workspace's membership roster. Requires the
// manage action, so only admins and owners see it.
// GET /api/v1/workspaces/{workspaceID}/members
func (h *WorkspaceHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	wsID := urlID(r, "workspaceID")
	res, err := h.gw.AuthenticateAndAuthorize(r, model.ActionManage, gateway.ResourceRef{WorkspaceID: wsID})
	if err != nil {
		h.gw.WriteDenial(w, r, err)
		return
	}
	gateway.SetRateHeaders(w, res.Limits, res.Remaining)

	members, err := h.store.ListMembers(r.Context(), wsID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list members")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: members,
		Meta:     &model.ResponseMeta{Count: len(members)},
	})
}

type setMemberRequest struct {
	Role model.Role `json:"role"`
}

// SetMember adds a member or changes their role. Granting owner requires
// the admin action; anything below that is manage.
// PUT /api/v1/workspaces/{workspaceID}/members/{userID}
func (h *WorkspaceHandler) SetMember(w http.ResponseWriter, r *http.Request) {
	wsID := urlID(r, "workspaceID")
	userID := urlID(r, "userID")

	var req setMemberRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if !model.ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "Unknown role")
		return
	}

	action := model.ActionManage
	if req.Role == model.RoleOwner {
		action = model.ActionAdmin
	}
	res, err := h.gw.AuthenticateAndAuthorize(r, action, gateway.ResourceRef{WorkspaceID: wsID})
	if err != nil {
		h.gw.WriteDenial(w, r, err)
		return
	}
	gateway.SetRateHeaders(w, res.Limits, res.Remaining)

	if _, err := h.store.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to look up user")
		return
	}

	m := &model.Membership{UserID: userID, WorkspaceID: wsID, Role: req.Role}
	if err := h.store.SetMembership(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set membership")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// RemoveMember drops a user from the workspace.
// DELETE /api/v1/workspaces/{workspaceID}/members/{userID}
func (h *WorkspaceHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	wsID := urlID(r, "workspaceID")
	userID := urlID(r, "userID")

	res, err := h.gw.AuthenticateAndAuthorize(r, model.ActionManage, gateway.ResourceRef{WorkspaceID: wsID})
	if err != nil {
		h.gw.WriteDenial(w, r, err)
		return
	}
	gateway.SetRateHeaders(w, res.Limits, res.Remaining)

	if err := h.store.RemoveMembership(r.Context(), userID, wsID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Membership not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to remove membership")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

package handler

import (
	"net/http"
	"time"

	"github.com/tasklane/tasklane/internal/gateway"
	"github.com/tasklane/tasklane/internal/model"
	"github.com/tasklane/tasklane/internal/store"
)

// TaskHandler serves task and comment endpoints for API-key traffic. Every
// endpoint makes exactly one gateway call; all authentication, scope, rate,
// and role decisions happen there.
type TaskHandler struct {
	gw    *gateway.Gateway
	store *store.Store
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(gw *gateway.Gateway, st *store.Store) *TaskHandler {
	return &TaskHandler{gw: gw, store: st}
}

// List returns the tasks in a workspace.
// GET /api/v1/workspaces/{workspaceID}/tasks
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	wsID := urlID(r, "workspaceID")
	res, err := h.gw.AuthenticateAndAuthorize(r, model.ActionRead, gateway.ResourceRef{WorkspaceID: wsID})
	if err != nil {
		h.gw.WriteDenial(w, r, err)
		return
	}
	gateway.SetRateHeaders(w, res.Limits, res.Remaining)

	limit := clampInt(queryInt(r, "limit", 50), 1, 200)
	offset := queryInt(r, "offset", 0)
	tasks, err := h.store.ListTasks(r.Context(), wsID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: tasks,
		Meta:     &model.ResponseMeta{Count: len(tasks), Limit: limit, Offset: offset},
	})
}

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	AssigneeID  *int64     `json:"assignee_id,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// Create adds a task to a workspace.
// POST /api/v1/workspaces/{workspaceID}/tasks
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	wsID := urlID(r, "workspaceID")
	res, err := h.gw.AuthenticateAndAuthorize(r, model.ActionCreate, gateway.ResourceRef{WorkspaceID: wsID})
	if err != nil {
		h.gw.WriteDenial(w, r, err)
		return
	}
	gateway.SetRateHeaders(w, res.Limits, res.Remaining)

	var req createTaskRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}

	task := &model.Task{
		WorkspaceID: wsID,
		Title:       req.Title,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
		DueAt:       req.DueAt,
		CreatedBy:   res.Principal.UserID,
	}
	if err := h.store.CreateTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// Get returns a single task. The gateway resolves the task itself so the
// workspace-binding check can run against its real workspace.
// GET /api/v1/tasks/{taskID}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.gw.AuthenticateAndAuthorize(r, model.ActionRead, gateway.ResourceRef{TaskID: urlID(r, "taskID")})
	if err != nil {
		h.gw.WriteDenial(w, r, err)
		return
	}
	gateway.SetRateHeaders(w, res.Limits, res.Remaining)
	writeJSON(w, http.StatusOK, res.Task)
}

type updateTaskRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	AssigneeID  *int64     `json:"assignee_id,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// Update applies a partial update to a task.
// PATCH /api/v1/tasks/{taskID}
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	res, err := h.gw.AuthenticateAndAuthorize(r, model.ActionUpdate, gateway.ResourceRef{TaskID: urlID(r, "taskID")})
	if err != nil {
		h.gw.WriteDenial(w, r, err)
		return
	}
	gateway.SetRateHeaders(w, res.Limits, res.Remaining)

	var req updateTaskRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	task := res.Task
	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Status != nil {
		task.Status = *req.Status
	}
	if req.AssigneeID != nil {
		task.AssigneeID = req.AssigneeID
	}
	if req.DueAt != nil {
		task.DueAt = req.DueAt
	}

	if err := h.store.UpdateTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Delete removes a task.
// DELETE /api/v1/tasks/{taskID}
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	res, err := h.gw.AuthenticateAndAuthorize(r, model.ActionDelete, gateway.ResourceRef{TaskID: urlID(r, "taskID")})
	if err != nil {
		h.gw.WriteDenial(w, r, err)
		return
	}
	gateway.SetRateHeaders(w, res.Limits, res.Remaining)

	if err := h.store.DeleteTask(r.Context(), res.Task.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ListComments returns the comments on a task, oldest first.
// GET /api/v1/tasks/{taskID}/comments
func (h *TaskHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	res, err := h.gw.AuthenticateAndAuthorize(r, model.ActionRead, gateway.ResourceRef{TaskID: urlID(r, "taskID")})
	if err != nil {
		h.gw.WriteDenial(w, r, err)
		return
	}
	gateway.SetRateHeaders(w, res.Limits, res.Remaining)

	comments, err := h.store.ListComments(r.Context(), res.Task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list comments")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: comments,
		Meta:     &model.ResponseMeta{Count: len(comments)},
	})
}

type createCommentRequest struct {
	Body string `json:"body"`
}

// CreateComment attaches a comment to a task.
// POST /api/v1/tasks/{taskID}/comments
func (h *TaskHandler) CreateComment(w http.ResponseWriter, r *http.Request) {
	res, err := h.gw.AuthenticateAndAuthorize(r, model.ActionComment, gateway.ResourceRef{TaskID: urlID(r, "taskID")})
	if err != nil {
		h.gw.WriteDenial(w, r, err)
		return
	}
	gateway.SetRateHeaders(w, res.Limits, res.Remaining)

	var req createCommentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Body == "" {
		writeError(w, http.StatusBadRequest, "Comment body is required")
		return
	}

	comment := &model.Comment{
		TaskID:   res.Task.ID,
		AuthorID: res.Principal.UserID,
		Body:     req.Body,
	}
	if err := h.store.CreateComment(r.Context(), comment); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create comment")
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tasklane/tasklane/internal/model"
	"github.com/tasklane/tasklane/internal/store"
)

// AccessService evaluates workspace isolation, scope grants, and role
// permissions for a resolved principal. Checks are ordered cheapest first:
// no I/O happens before the workspace-binding and scope checks.
type AccessService struct {
	store  *store.Store
	logger *slog.Logger
}

// NewAccessService creates an AccessService backed by the given store.
func NewAccessService(st *store.Store, logger *slog.Logger) *AccessService {
	return &AccessService{store: st, logger: logger}
}

// CheckScope verifies the principal's granted scopes contain the given
// scope. Pure function, no I/O.
func (s *AccessService) CheckScope(p *model.Principal, scope model.Scope) error {
	if !p.Scopes.Has(scope) {
		return fmt.Errorf("%w: %s", ErrScopeDenied, scope)
	}
	return nil
}

// ResolveWorkspaceAccess authorizes an action against a workspace and
// returns the principal's role there. The check order is fixed:
// workspace binding, required scope, membership, role matrix.
func (s *AccessService) ResolveWorkspaceAccess(ctx context.Context, p *model.Principal, workspaceID int64, action model.Action) (model.Role, error) {
	if p.WorkspaceID != nil && *p.WorkspaceID != workspaceID {
		return "", ErrWorkspaceMismatch
	}

	if err := s.CheckScope(p, model.RequiredScope(action)); err != nil {
		return "", err
	}

	m, err := s.store.GetMembership(ctx, p.UserID, workspaceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotMember
		}
		s.logger.Error("membership lookup failed", "error", err, "user_id", p.UserID, "workspace_id", workspaceID)
		return "", fmt.Errorf("lookup membership: %w", ErrUpstream)
	}

	if !model.RoleAllows(m.Role, action) {
		return "", ErrInsufficientRole
	}
	return m.Role, nil
}

// ResolveTaskAccess authorizes an action against a task, resolving the
// task's owning workspace first. A missing task and a task outside the
// credential's bound workspace both surface as ErrNotFound, so callers
// cannot probe for the existence of tasks in other tenants.
func (s *AccessService) ResolveTaskAccess(ctx context.Context, p *model.Principal, taskID int64, action model.Action) (*model.Task, model.Role, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrNotFound
		}
		s.logger.Error("task lookup failed", "error", err, "task_id", taskID)
		return nil, "", fmt.Errorf("lookup task: %w", ErrUpstream)
	}

	if p.WorkspaceID != nil && *p.WorkspaceID != task.WorkspaceID {
		return nil, "", ErrNotFound
	}

	if err := s.CheckScope(p, model.RequiredScope(action)); err != nil {
		return nil, "", err
	}

	m, err := s.store.GetMembership(ctx, p.UserID, task.WorkspaceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrNotMember
		}
		s.logger.Error("membership lookup failed", "error", err, "user_id", p.UserID, "workspace_id", task.WorkspaceID)
		return nil, "", fmt.Errorf("lookup membership: %w", ErrUpstream)
	}

	if !model.RoleAllows(m.Role, action) {
		return nil, "", ErrInsufficientRole
	}
	return task, m.Role, nil
}

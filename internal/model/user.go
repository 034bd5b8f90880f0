package model

import "time"

// User is an account on the platform. PasswordHash is a bcrypt hash used
// only on the interactive login path.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Name         string    `json:"name" db:"name"`
	Plan         PlanTier  `json:"plan" db:"plan"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Workspace is a tenant boundary. All tasks belong to exactly one workspace
// and access is governed by per-workspace memberships.
type Workspace struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Membership binds a user to a workspace with a role.
type Membership struct {
	UserID      int64     `json:"user_id" db:"user_id"`
	WorkspaceID int64     `json:"workspace_id" db:"workspace_id"`
	Role        Role      `json:"role" db:"role"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Task is a single work item inside a workspace.
type Task struct {
	ID          int64      `json:"id" db:"id"`
	WorkspaceID int64      `json:"workspace_id" db:"workspace_id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Status      string     `json:"status" db:"status"`
	AssigneeID  *int64     `json:"assignee_id,omitempty" db:"assignee_id"`
	DueAt       *time.Time `json:"due_at,omitempty" db:"due_at"`
	CreatedBy   int64      `json:"created_by" db:"created_by"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// Comment is a note attached to a task.
type Comment struct {
	ID        int64     `json:"id" db:"id"`
	TaskID    int64     `json:"task_id" db:"task_id"`
	AuthorID  int64     `json:"author_id" db:"author_id"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

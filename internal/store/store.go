package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tasklane/tasklane/internal/model"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store persists TaskLane's domain state: users, workspaces, memberships,
// tasks, and API keys. SQLite is the default backend; PostgreSQL is
// available for multi-process deployments.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens a SQLite-backed store under dataDir. Pass empty string for
// in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "tasklane.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return Open(DriverSQLite, dsn)
}

// Open opens a store with an explicit driver and DSN.
func Open(driver, dsn string) (*Store, error) {
	var db *sqlx.DB
	var err error

	switch driver {
	case DriverSQLite:
		db, err = sqlx.Connect("sqlite", dsn)
		if err == nil {
			db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
			if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
				err = fmt.Errorf("enable foreign keys: %w", err)
			}
		}
	case DriverPostgres:
		db, err = sqlx.Connect("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind converts ?-style placeholders to the driver's native style.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// insertID runs an INSERT and returns the generated row id, handling the
// dialect split between LastInsertId and RETURNING.
func (s *Store) insertID(ctx context.Context, query string, args ...interface{}) (int64, error) {
	if s.driver == DriverPostgres {
		var id int64
		err := s.db.QueryRowxContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user account. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	id, err := s.insertID(ctx,
		`INSERT INTO users (email, password_hash, name, plan, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Email, u.PasswordHash, u.Name, u.Plan, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, s.rebind("SELECT * FROM users WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, s.rebind("SELECT * FROM users WHERE email = ?"), email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// GetUserPlan returns the current plan tier for a user. Plans are looked up
// live at verification time since they can change after a key is issued.
func (s *Store) GetUserPlan(ctx context.Context, id int64) (model.PlanTier, error) {
	var plan model.PlanTier
	if err := s.db.GetContext(ctx, &plan, s.rebind("SELECT plan FROM users WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get user plan: %w", err)
	}
	return plan, nil
}

// UpdateUserPlan changes a user's plan tier.
func (s *Store) UpdateUserPlan(ctx context.Context, id int64, plan model.PlanTier) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET plan = ?, updated_at = ? WHERE id = ?"),
		plan, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user plan rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Workspaces and memberships
// ---------------------------------------------------------------------------

// CreateWorkspace inserts a new workspace. The owner is not automatically
// granted a membership; call SetMembership for that.
func (s *Store) CreateWorkspace(ctx context.Context, w *model.Workspace) error {
	w.CreatedAt = time.Now().UTC()

	id, err := s.insertID(ctx,
		`INSERT INTO workspaces (name, owner_id, created_at) VALUES (?, ?, ?)`,
		w.Name, w.OwnerID, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	w.ID = id
	return nil
}

// GetWorkspace returns a workspace by ID.
func (s *Store) GetWorkspace(ctx context.Context, id int64) (*model.Workspace, error) {
	var w model.Workspace
	if err := s.db.GetContext(ctx, &w, s.rebind("SELECT * FROM workspaces WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return &w, nil
}

// SetMembership upserts a user's role within a workspace.
func (s *Store) SetMembership(ctx context.Context, m *model.Membership) error {
	m.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO memberships (user_id, workspace_id, role, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, workspace_id) DO UPDATE SET role = excluded.role`),
		m.UserID, m.WorkspaceID, m.Role, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("set membership: %w", err)
	}
	return nil
}

// GetMembership returns a user's membership in a workspace, or ErrNotFound
// if the user is not a member.
func (s *Store) GetMembership(ctx context.Context, userID, workspaceID int64) (*model.Membership, error) {
	var m model.Membership
	err := s.db.GetContext(ctx, &m,
		s.rebind("SELECT * FROM memberships WHERE user_id = ? AND workspace_id = ?"),
		userID, workspaceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return &m, nil
}

// RemoveMembership deletes a user's membership in a workspace.
func (s *Store) RemoveMembership(ctx context.Context, userID, workspaceID int64) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM memberships WHERE user_id = ? AND workspace_id = ?"),
		userID, workspaceID)
	if err != nil {
		return fmt.Errorf("remove membership: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove membership rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMembers returns all memberships for a workspace.
func (s *Store) ListMembers(ctx context.Context, workspaceID int64) ([]model.Membership, error) {
	var members []model.Membership
	err := s.db.SelectContext(ctx, &members,
		s.rebind("SELECT * FROM memberships WHERE workspace_id = ? ORDER BY user_id"), workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// ---------------------------------------------------------------------------
// Tasks and comments
// ---------------------------------------------------------------------------

// CreateTask inserts a new task. The ID, CreatedAt, and UpdatedAt fields are
// populated after a successful insert.
func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = "open"
	}

	id, err := s.insertID(ctx,
		`INSERT INTO tasks (workspace_id, title, description, status, assignee_id, due_at, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.WorkspaceID, t.Title, t.Description, t.Status, t.AssigneeID, t.DueAt, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	t.ID = id
	return nil
}

// GetTask returns a task by ID. The returned record carries the owning
// workspace ID, so this lookup doubles as the task→workspace resolution.
func (s *Store) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	var t model.Task
	if err := s.db.GetContext(ctx, &t, s.rebind("SELECT * FROM tasks WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// ListTasks returns tasks in a workspace, newest first.
func (s *Store) ListTasks(ctx context.Context, workspaceID int64, limit, offset int) ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.SelectContext(ctx, &tasks,
		s.rebind("SELECT * FROM tasks WHERE workspace_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"),
		workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTask updates a task's mutable fields. The UpdatedAt field is
// refreshed automatically.
func (s *Store) UpdateTask(ctx context.Context, t *model.Task) error {
	t.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE tasks SET title = ?, description = ?, status = ?, assignee_id = ?, due_at = ?, updated_at = ?
		 WHERE id = ?`),
		t.Title, t.Description, t.Status, t.AssigneeID, t.DueAt, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task by ID. Comments are cascade deleted.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM tasks WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateComment inserts a comment on a task.
func (s *Store) CreateComment(ctx context.Context, c *model.Comment) error {
	c.CreatedAt = time.Now().UTC()

	id, err := s.insertID(ctx,
		`INSERT INTO comments (task_id, author_id, body, created_at) VALUES (?, ?, ?, ?)`,
		c.TaskID, c.AuthorID, c.Body, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	c.ID = id
	return nil
}

// ListComments returns all comments on a task, oldest first.
func (s *Store) ListComments(ctx context.Context, taskID int64) ([]model.Comment, error) {
	var comments []model.Comment
	err := s.db.SelectContext(ctx, &comments,
		s.rebind("SELECT * FROM comments WHERE task_id = ? ORDER BY created_at, id"), taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// apiKeyRow maps 1:1 to api_keys columns. Scopes are stored as a single
// comma-separated column, so we convert through this flat struct.
type apiKeyRow struct {
	ID          int64      `db:"id"`
	UserID      int64      `db:"user_id"`
	KeyHash     string     `db:"key_hash"`
	KeyPrefix   string     `db:"key_prefix"`
	Label       string     `db:"label"`
	Scopes      string     `db:"scopes"`
	WorkspaceID *int64     `db:"workspace_id"`
	ExpiresAt   *time.Time `db:"expires_at"`
	RevokedAt   *time.Time `db:"revoked_at"`
	CreatedAt   time.Time  `db:"created_at"`
	LastUsed    *time.Time `db:"last_used"`
}

func (r apiKeyRow) toModel() model.APIKey {
	return model.APIKey{
		ID:          r.ID,
		UserID:      r.UserID,
		KeyHash:     r.KeyHash,
		KeyPrefix:   r.KeyPrefix,
		Label:       r.Label,
		Scopes:      model.ParseScopeList(r.Scopes),
		WorkspaceID: r.WorkspaceID,
		ExpiresAt:   r.ExpiresAt,
		RevokedAt:   r.RevokedAt,
		CreatedAt:   r.CreatedAt,
		LastUsed:    r.LastUsed,
	}
}

// CreateAPIKey inserts a new API key record. The key_hash must already be
// set (use HashAPIKey). The ID and CreatedAt fields are populated after
// insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	id, err := s.insertID(ctx,
		`INSERT INTO api_keys (user_id, key_hash, key_prefix, label, scopes, workspace_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.UserID, key.KeyHash, key.KeyPrefix, key.Label, key.Scopes.String(),
		key.WorkspaceID, key.ExpiresAt, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var row apiKeyRow
	if err := s.db.GetContext(ctx, &row, s.rebind("SELECT * FROM api_keys WHERE key_hash = ?"), hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	key := row.toModel()
	return &key, nil
}

// GetAPIKey looks up an API key by id.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var row apiKeyRow
	if err := s.db.GetContext(ctx, &row, s.rebind("SELECT * FROM api_keys WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	key := row.toModel()
	return &key, nil
}

// ListAPIKeysForUser returns all API keys owned by a user, newest first.
func (s *Store) ListAPIKeysForUser(ctx context.Context, userID int64) ([]model.APIKey, error) {
	var rows []apiKeyRow
	err := s.db.SelectContext(ctx, &rows,
		s.rebind("SELECT * FROM api_keys WHERE user_id = ? ORDER BY created_at DESC, id DESC"), userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]model.APIKey, len(rows))
	for i, r := range rows {
		keys[i] = r.toModel()
	}
	return keys, nil
}

// RevokeAPIKey sets the revocation timestamp on a key. Revoking an already
// revoked key is a no-op that preserves the original timestamp, so the call
// is idempotent. Returns ErrNotFound only when the key does not exist.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		"UPDATE api_keys SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ?"),
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey removes a key record entirely. Unlike revocation this erases
// the audit trail; it is idempotent and succeeds if the key is already gone.
func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM api_keys WHERE id = ?"), id); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return nil
}

// TouchAPIKeyLastUsed sets the last_used timestamp for an API key.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE api_keys SET last_used = ? WHERE id = ?"), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key last used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key string.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

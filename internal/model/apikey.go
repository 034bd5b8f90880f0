package model

import (
	"strings"
	"time"
)

// APIKey represents an opaque bearer credential used to authenticate
// programmatic requests. The raw secret is never stored; only a SHA-256
// hash and a short prefix for identification are persisted.
type APIKey struct {
	ID          int64      `json:"id" db:"id"`
	UserID      int64      `json:"user_id" db:"user_id"`
	KeyHash     string     `json:"-" db:"key_hash"` // SHA-256 hash, never expose
	KeyPrefix   string     `json:"key_prefix" db:"key_prefix"`
	Label       string     `json:"label" db:"label"`
	Scopes      ScopeList  `json:"scopes" db:"scopes"`
	WorkspaceID *int64     `json:"workspace_id,omitempty" db:"workspace_id"` // optional tenant binding
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// UsableAt reports whether the key may authenticate requests at the given
// instant. A key expiring at T is already unusable at T.
func (k *APIKey) UsableAt(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return false
	}
	return true
}

// Principal is the resolved runtime identity for a single request, derived
// from a verified APIKey. It is never persisted and lives for one request.
type Principal struct {
	UserID      int64
	KeyID       int64
	Plan        PlanTier
	Scopes      ScopeList
	WorkspaceID *int64 // inherited workspace binding, nil if unbound
}

// ScopeList is a set of granted scopes, persisted as a comma-separated
// string column.
type ScopeList []Scope

// Has reports whether the list contains the given scope.
func (l ScopeList) Has(s Scope) bool {
	for _, g := range l {
		if g == s {
			return true
		}
	}
	return false
}

// String joins the scopes for storage and display.
func (l ScopeList) String() string {
	parts := make([]string, len(l))
	for i, s := range l {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

// ParseScopeList parses a comma-separated scope string as stored in the
// database. Empty input yields an empty list.
func ParseScopeList(raw string) ScopeList {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make(ScopeList, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, Scope(p))
		}
	}
	return out
}

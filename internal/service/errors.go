package service

import "errors"

// Denial taxonomy for the access-control gateway. All denials are
// deterministic functions of the principal, action, resource, and current
// counters. ErrUpstream is never conflated with ErrInvalidCredential: a
// store outage must not look like every key being invalid.
var (
	// ErrInvalidCredential covers hash misses, revoked keys, and expired keys.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrFeatureLocked means the key owner's current plan lacks API access.
	ErrFeatureLocked = errors.New("plan does not include API access")

	// ErrScopeDenied means the credential lacks the scope the action requires.
	ErrScopeDenied = errors.New("missing required scope")

	// ErrWorkspaceMismatch means the credential is bound to a different workspace.
	ErrWorkspaceMismatch = errors.New("credential is bound to another workspace")

	// ErrNotMember means the user has no membership in the workspace.
	ErrNotMember = errors.New("not a member of this workspace")

	// ErrInsufficientRole means the user's role does not permit the action.
	ErrInsufficientRole = errors.New("role does not permit this action")

	// ErrNotFound covers missing resources, including tasks hidden by the
	// cross-tenant existence obfuscation rule.
	ErrNotFound = errors.New("resource not found")

	// ErrUpstream means the backing store failed or timed out. Callers may
	// retry; their key is not at fault.
	ErrUpstream = errors.New("upstream store unavailable")
)

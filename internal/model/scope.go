package model

// Scope is a coarse capability grant attached to an API key. Every business
// action requires exactly one scope; a key missing that scope is denied
// regardless of the user's workspace role.
type Scope string

const (
	ScopeReadTasks       Scope = "read-tasks"
	ScopeWriteTasks      Scope = "write-tasks"
	ScopeManageWorkspace Scope = "manage-workspace"
)

// Action identifies a business operation as seen by the gateway.
type Action string

const (
	ActionRead    Action = "read"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionComment Action = "comment"
	ActionManage  Action = "manage"
	ActionAdmin   Action = "admin"
)

// actionScopes is the total action→scope table. It is deliberately flat data
// so the whole rule set is auditable in one place.
var actionScopes = map[Action]Scope{
	ActionRead:    ScopeReadTasks,
	ActionCreate:  ScopeWriteTasks,
	ActionUpdate:  ScopeWriteTasks,
	ActionDelete:  ScopeWriteTasks,
	ActionComment: ScopeWriteTasks,
	ActionManage:  ScopeManageWorkspace,
	ActionAdmin:   ScopeManageWorkspace,
}

// RequiredScope returns the scope an action requires. Unknown actions map to
// the most restrictive scope.
func RequiredScope(action Action) Scope {
	if s, ok := actionScopes[action]; ok {
		return s
	}
	return ScopeManageWorkspace
}

// AllScopes lists every valid scope, used for validation at key issuance.
var AllScopes = []Scope{ScopeReadTasks, ScopeWriteTasks, ScopeManageWorkspace}

// ValidScope reports whether s is a known scope.
func ValidScope(s Scope) bool {
	for _, v := range AllScopes {
		if s == v {
			return true
		}
	}
	return false
}

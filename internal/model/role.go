package model

// Role is a user's permission level within one workspace. Roles are ordered:
// viewer < editor < admin < owner. The permission matrix below is an explicit
// allow-list per role; a higher role always grants at least what a lower role
// grants.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// roleRank orders roles for comparison and validation.
var roleRank = map[Role]int{
	RoleViewer: 0,
	RoleEditor: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r ranks at or above other.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// rolePermissions is the total role→action matrix, kept as flat data so the
// whole rule set is auditable in one place. Editors cannot delete; only
// owners perform workspace administration.
var rolePermissions = map[Role]map[Action]bool{
	RoleViewer: {
		ActionRead: true,
	},
	RoleEditor: {
		ActionRead:    true,
		ActionCreate:  true,
		ActionUpdate:  true,
		ActionComment: true,
	},
	RoleAdmin: {
		ActionRead:    true,
		ActionCreate:  true,
		ActionUpdate:  true,
		ActionComment: true,
		ActionDelete:  true,
		ActionManage:  true,
	},
	RoleOwner: {
		ActionRead:    true,
		ActionCreate:  true,
		ActionUpdate:  true,
		ActionComment: true,
		ActionDelete:  true,
		ActionManage:  true,
		ActionAdmin:   true,
	},
}

// RoleAllows reports whether the role grants the action. Unknown roles and
// unknown actions are denied.
func RoleAllows(r Role, action Action) bool {
	return rolePermissions[r][action]
}

package rbac

// Role is a closed set of actor categories. The string values match the
// external representation stored in the profiles table and the role cache.
type Role string

const (
	RoleAdmin          Role = "Admin"
	RoleProjectManager Role = "Project Manager"
	RoleDeveloper      Role = "Developer"
	RoleTester         Role = "Tester"

	// RoleUnknown is returned by ParseRole for any unrecognized input. It has
	// no entry in the permission table, so it carries zero permissions.
	RoleUnknown Role = ""
)

// DefaultRole is the role assumed before resolution completes and after
// sign-out.
const DefaultRole = RoleTester

// Roles lists every valid role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleProjectManager, RoleDeveloper, RoleTester}
}

// ParseRole maps an external string to a Role. Unrecognized input yields
// (RoleUnknown, false); callers must not let raw strings past this boundary.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleProjectManager:
		return RoleProjectManager, true
	case RoleDeveloper:
		return RoleDeveloper, true
	case RoleTester:
		return RoleTester, true
	}
	return RoleUnknown, false
}

// Valid reports whether r is one of the four defined roles.
func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}

func (r Role) String() string {
	return string(r)
}

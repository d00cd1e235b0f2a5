package rbac

// Guard is a declarative access requirement: an optional set of allowed roles
// and an optional set of sufficient permissions. Empty lists pass, and the
// permission clause is satisfied by ANY listed action. Callers needing strict
// all-of semantics nest two guards.
type Guard struct {
	Roles       []Role
	Permissions []Action
}

// Allows evaluates the guard against the actor's role and permission
// predicate.
func (g Guard) Allows(role Role, can func(Action) bool) bool {
	if len(g.Roles) > 0 {
		matched := false
		for _, allowed := range g.Roles {
			if role == allowed {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(g.Permissions) > 0 {
		if can == nil {
			return false
		}
		for _, action := range g.Permissions {
			if can(action) {
				return true
			}
		}
		return false
	}
	return true
}

package auth

import (
	"slices"
)

// Role is a coarse permission level derived from group membership.
type Role string

// Roles, in increasing order of privilege. Every authenticated identity
// holds RoleRead.
const (
	RoleRead  Role = "READ"
	RoleWrite Role = "WRITE"
	RoleAdmin Role = "ADMIN"
	RoleSuper Role = "SUPER"
)

// RoleMappings maps group identifiers onto roles. It is plain configuration
// passed in at construction, not ambient process state.
type RoleMappings struct {
	WriteGroups []string
	AdminGroups []string
	SuperGroups []string
}

// RolesFor derives the role set for the given groups. The baseline read
// role is always included.
func (m RoleMappings) RolesFor(groups []string) []Role {
	roles := []Role{RoleRead}
	for _, group := range groups {
		if slices.Contains(m.WriteGroups, group) && !slices.Contains(roles, RoleWrite) {
			roles = append(roles, RoleWrite)
		}
		if slices.Contains(m.AdminGroups, group) && !slices.Contains(roles, RoleAdmin) {
			roles = append(roles, RoleAdmin)
		}
		if slices.Contains(m.SuperGroups, group) && !slices.Contains(roles, RoleSuper) {
			roles = append(roles, RoleSuper)
		}
	}
	return roles
}

package domain

import (
	"fmt"
	"strings"
)

// Role is a closed, ordered set of user roles. Higher values carry every
// permission of the lower ones.
type Role int

const (
	RoleMember Role = iota + 1
	RoleManager
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleMember:  "member",
	RoleManager: "manager",
	RoleAdmin:   "admin",
}

// ParseRole converts a stored or claimed role name into a Role. Matching is
// case-insensitive. Unknown names are an error; there is no default role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "member":
		return RoleMember, nil
	case "manager":
		return RoleManager, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

// String returns the canonical lower-case name, or "unknown" for the zero value.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name with ParseRole.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r >= min
}

// Permission names an action guarded by role.
type Permission string

const (
	PermViewProjects Permission = "projects:view"
	PermManageTasks  Permission = "tasks:manage"
	PermManageTeams  Permission = "teams:manage"
	PermManageUsers  Permission = "users:manage"
)

// permissionMinRole is the lowest role that holds each permission.
var permissionMinRole = map[Permission]Role{
	PermViewProjects: RoleMember,
	PermManageTasks:  RoleMember,
	PermManageTeams:  RoleManager,
	PermManageUsers:  RoleAdmin,
}

// Can reports whether the role holds perm. Unknown permissions are denied.
func (r Role) Can(perm Permission) bool {
	min, ok := permissionMinRole[perm]
	if !ok {
		return false
	}
	return r.AtLeast(min)
}

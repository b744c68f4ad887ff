package directory

import (
	"time"

	"github.com/archon-hq/archon/internal/authz"
)

// GlobalOrganization is the sentinel organization whose members hold
// globally scoped roles: an admin of "_" is a global admin. Conflating
// "global admin" with "member of org _" is a known modeling hazard of the
// policy design, preserved here as-is.
const GlobalOrganization = "_"

// OrgRole is a user's role within their organization. A user has exactly
// one role per organization. The enum values must match the role names the
// policy document declares for the organization type.
type OrgRole string

const (
	RoleAdmin  OrgRole = "admin"
	RoleMember OrgRole = "member"
)

// Valid reports whether the role is one of the declared organization roles.
func (r OrgRole) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Actions the directory surface requires. Names must match the policy
// document.
const (
	ActionRead       authz.Action = "read"
	ActionEditRole   authz.Action = "edit_role"
	ActionDelete     authz.Action = "delete"
	ActionCreateUser authz.Action = "create_user"
)

// Organization is a tenant.
type Organization struct {
	Name      string
	CreatedAt time.Time
}

// User is a member of exactly one organization.
type User struct {
	Username  string
	Org       string
	Role      OrgRole
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ManagedUser is a user row annotated with the permissions the requesting
// subject holds on it, computed in the same query that produced the row.
type ManagedUser struct {
	User
	Permissions authz.PermissionVector
}

// NewUser is the payload for creating a user.
type NewUser struct {
	Username string `json:"username" validate:"required,min=2,max=64"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required"`
}

// RoleChange assigns a new organization role to one user.
type RoleChange struct {
	Username string `json:"username" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

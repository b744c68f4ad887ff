package documents

import (
	"time"

	"github.com/archon-hq/archon/internal/authz"
)

// DocRole is a user's role on one document. Roles are granted per document
// and are independent of the user's organization role. The enum values
// must match the role names the policy document declares for the document
// type.
type DocRole string

const (
	RoleViewer DocRole = "viewer"
	RoleEditor DocRole = "editor"
	RoleOwner  DocRole = "owner"
)

// Valid reports whether the role is one of the declared document roles.
func (r DocRole) Valid() bool {
	return r == RoleViewer || r == RoleEditor || r == RoleOwner
}

// Actions the document surface requires. Names must match the policy
// document.
const (
	ActionRead           authz.Action = "read"
	ActionEdit           authz.Action = "edit"
	ActionDelete         authz.Action = "delete"
	ActionShare          authz.Action = "share"
	ActionCreateDocument authz.Action = "create_document"
)

// Document is a record owned by one organization. Documents are keyed by
// (org, id); the authorization layer addresses them by the composite
// resource id org/id.
type Document struct {
	Org       string
	ID        string
	Title     string
	IsPublic  bool
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ResourceID is the composite identifier the policy layer uses for this
// document.
func (d Document) ResourceID() string {
	return d.Org + "/" + d.ID
}

// Resource addresses a document by its composite key.
func Resource(org, id string) authz.Resource {
	return authz.Resource{Type: authz.TypeDocument, ID: org + "/" + id}
}

// ListedDocument is a document row annotated with the permissions the
// requesting subject holds on it, computed in the same query that produced
// the row.
type ListedDocument struct {
	Document
	Permissions authz.PermissionVector
}

// NewDocument is the payload for creating a document.
type NewDocument struct {
	ID       string `json:"id" validate:"required,min=1,max=128,excludes=/"`
	Title    string `json:"title" validate:"required,max=256"`
	IsPublic bool   `json:"is_public"`
}

// ShareRequest grants one user a role on a document.
type ShareRequest struct {
	Username string `json:"username" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

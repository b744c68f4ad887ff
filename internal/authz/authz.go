// Package authz implements the authorization-aware data-access layer.
//
// Every read and write against application tables is mediated by a
// relationship-based policy evaluated inside PostgreSQL. Rather than issuing
// one authorization call per row, a permission decision for a
// (subject, action, resource type) triple is compiled into a SQL boolean
// predicate that is embedded in the statement doing the work:
//
//   - reads go through a composed query that filters rows to those the
//     subject may read and annotates each row with booleans for further
//     permissions (see ListQuery),
//   - single-entity writes are checked first and mutated only on success,
//     inside one transaction (see Guard.Mutate),
//   - multi-row writes fold the check into the UPDATE itself and verify the
//     affected-row count, rolling back on any mismatch (see
//     Guard.BatchUpdate).
//
// The policy evaluator itself is external; it is consumed through the
// Evaluator interface and its answers are treated as opaque predicate
// fragments, never parsed or concatenated with caller input.
package authz

import "sort"

// Subject identifies the actor a check or predicate is compiled for.
// Subjects are immutable for the lifetime of a request.
type Subject struct {
	Type string
	ID   string
}

// User returns the subject for a user identified by username.
func User(username string) Subject {
	return Subject{Type: "user", ID: username}
}

// String returns the canonical "type:id" form, used in logs.
func (s Subject) String() string {
	return s.Type + ":" + s.ID
}

// Resource identifies a typed entity a permission applies to.
type Resource struct {
	Type string
	ID   string
}

// String returns the canonical "type:id" form, used in logs.
func (r Resource) String() string {
	return r.Type + ":" + r.ID
}

// Well-known resource type names. These must match the type names declared
// in the policy document.
const (
	TypeOrganization = "organization"
	TypeUser         = "user"
	TypeDocument     = "document"
)

// Organization returns the resource for an organization.
func Organization(name string) Resource {
	return Resource{Type: TypeOrganization, ID: name}
}

// UserResource returns a user treated as a resource (the target of
// role edits or deletion, as opposed to the acting subject).
func UserResource(username string) Resource {
	return Resource{Type: TypeUser, ID: username}
}

// Action names a capability scoped to a resource type, e.g. "read" or
// "edit_role". Actions are not stored; the evaluator derives them from
// roles and relations.
type Action string

// String returns the action name.
func (a Action) String() string { return string(a) }

// PermissionVector reports, per action, whether the subject holds that
// permission on a row. It is produced by ListQuery in the same statement
// as the row itself, so the booleans are consistent with the row state at
// read time.
type PermissionVector map[Action]bool

// Allowed reports whether the vector grants the action.
func (v PermissionVector) Allowed(a Action) bool { return v[a] }

// Actions returns the annotated action names in stable order.
func (v PermissionVector) Actions() []Action {
	out := make([]Action, 0, len(v))
	for a := range v {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

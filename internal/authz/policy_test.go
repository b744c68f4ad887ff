package authz

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	p := testPolicy(t)

	require.True(t, p.Declares(TypeOrganization, "create_user"))
	require.True(t, p.Declares(TypeUser, "edit_role"))
	require.False(t, p.Declares(TypeUser, "share"))
	require.False(t, p.Declares("widget", "read"))
	require.Equal(t, []string{"admin", "member"}, p.RolesOf(TypeOrganization))
	require.Nil(t, p.RolesOf("widget"))
}

func TestParsePolicyRejectsInvalidDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"no types", `types: []`},
		{"duplicate type", `
types:
  - name: user
    permissions: [read]
  - name: user
    permissions: [read]
`},
		{"grant for undeclared role", `
types:
  - name: organization
    permissions: [read]
    roles: [member]
    role_grants:
      - role: admin
        permissions: [read]
`},
		{"grant of undeclared permission", `
types:
  - name: organization
    permissions: [read]
    roles: [admin]
    role_grants:
      - role: admin
        permissions: [launch]
`},
		{"implication of undeclared role", `
types:
  - name: organization
    permissions: [read]
    roles: [admin]
    role_implies:
      - role: admin
        implies: [member]
`},
		{"relation to undeclared type", `
types:
  - name: document
    permissions: [read]
    relations:
      - name: belongs_to
        type: organization
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tc.doc))
			require.Error(t, err)
		})
	}
}

func TestParseFacts(t *testing.T) {
	f, err := ParseFacts([]byte(`
predicates:
  - name: has_role
    query: SELECT username, org, org_role FROM users
    columns: [subject_id, resource_id, role]
  - name: is_public
    query: SELECT org || '/' || id FROM documents WHERE is_public
    columns: [resource_id]
type_map:
  user: text
  organization: text
  document: text
`))
	require.NoError(t, err)
	require.NotNil(t, f.Predicate(FactHasRole))
	require.Nil(t, f.Predicate(FactHasRelation))
}

func TestFactsCoverPolicy(t *testing.T) {
	policy := testPolicy(t)

	full, err := ParseFacts([]byte(`
predicates:
  - name: has_role
    query: SELECT username, org, org_role FROM users
    columns: [subject_id, resource_id, role]
  - name: has_relation
    query: SELECT org || '/' || id, 'belongs_to', org FROM documents
    columns: [resource_id, relation, target_id]
  - name: is_public
    query: SELECT org || '/' || id FROM documents WHERE is_public
    columns: [resource_id]
`))
	require.NoError(t, err)
	require.NoError(t, full.Covers(policy))

	// The policy declares roles on organizations; facts without has_role
	// could never resolve them.
	noRoles, err := ParseFacts([]byte(`
predicates:
  - name: has_relation
    query: SELECT org || '/' || id, 'belongs_to', org FROM documents
    columns: [resource_id, relation, target_id]
`))
	require.NoError(t, err)
	err = noRoles.Covers(policy)
	require.Error(t, err)
	require.Contains(t, err.Error(), FactHasRole)

	// Same for relations without has_relation.
	noRelations, err := ParseFacts([]byte(`
predicates:
  - name: has_role
    query: SELECT username, org, org_role FROM users
    columns: [subject_id, resource_id, role]
`))
	require.NoError(t, err)
	err = noRelations.Covers(policy)
	require.Error(t, err)
	require.Contains(t, err.Error(), FactHasRelation)
}

func TestParseFactsRejectsInvalidDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"unknown predicate", `
predicates:
  - name: has_badge
    query: SELECT 1
    columns: [resource_id]
`},
		{"non-select query", `
predicates:
  - name: is_public
    query: DELETE FROM documents
    columns: [resource_id]
`},
		{"no columns", `
predicates:
  - name: is_public
    query: SELECT 1
    columns: []
`},
		{"duplicate predicate", `
predicates:
  - name: is_public
    query: SELECT 1
    columns: [resource_id]
  - name: is_public
    query: SELECT 2
    columns: [resource_id]
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseFacts([]byte(tc.doc))
			require.Error(t, err)
		})
	}
}

package authz

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Policy is the declarative policy document, consumed as static
// configuration. It enumerates, per resource type, the permissions, role
// names, role-implies-permission and role-implies-role rules, and the
// relations between types used for transitive permission derivation. The
// evaluator's SQL functions encode the same document; the in-process copy
// exists to validate compilation requests before they reach the database.
type Policy struct {
	Types []TypePolicy `json:"types"`

	byType map[string]*TypePolicy
}

// TypePolicy declares the policy surface of one resource type.
type TypePolicy struct {
	Name        string        `json:"name"`
	Permissions []string      `json:"permissions"`
	Roles       []string      `json:"roles,omitempty"`
	RoleGrants  []RoleGrant   `json:"role_grants,omitempty"`
	RoleImplies []RoleImply   `json:"role_implies,omitempty"`
	Relations   []RelationDef `json:"relations,omitempty"`
}

// RoleGrant states that holders of Role have the listed permissions.
type RoleGrant struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// RoleImply states that holders of Role also hold the implied roles
// (e.g. organization admin implies member).
type RoleImply struct {
	Role    string   `json:"role"`
	Implies []string `json:"implies"`
}

// RelationDef declares a named edge to another resource type
// (e.g. document belongs_to organization).
type RelationDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// LoadPolicy reads and validates a policy document from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy document: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses and validates a policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy document: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.index()
	return &p, nil
}

func (p *Policy) index() {
	p.byType = make(map[string]*TypePolicy, len(p.Types))
	for i := range p.Types {
		p.byType[p.Types[i].Name] = &p.Types[i]
	}
}

func (p *Policy) validate() error {
	if len(p.Types) == 0 {
		return fmt.Errorf("policy document declares no types")
	}
	names := make(map[string]struct{}, len(p.Types))
	for _, t := range p.Types {
		if t.Name == "" {
			return fmt.Errorf("policy type with empty name")
		}
		if _, dup := names[t.Name]; dup {
			return fmt.Errorf("policy type %q declared twice", t.Name)
		}
		names[t.Name] = struct{}{}
	}
	for _, t := range p.Types {
		perms := stringSet(t.Permissions)
		roles := stringSet(t.Roles)
		for _, g := range t.RoleGrants {
			if _, ok := roles[g.Role]; !ok {
				return fmt.Errorf("type %q: grant references undeclared role %q", t.Name, g.Role)
			}
			for _, perm := range g.Permissions {
				if _, ok := perms[perm]; !ok {
					return fmt.Errorf("type %q: role %q granted undeclared permission %q", t.Name, g.Role, perm)
				}
			}
		}
		for _, imp := range t.RoleImplies {
			if _, ok := roles[imp.Role]; !ok {
				return fmt.Errorf("type %q: implication references undeclared role %q", t.Name, imp.Role)
			}
			for _, implied := range imp.Implies {
				if _, ok := roles[implied]; !ok {
					return fmt.Errorf("type %q: role %q implies undeclared role %q", t.Name, imp.Role, implied)
				}
			}
		}
		for _, rel := range t.Relations {
			if rel.Name == "" {
				return fmt.Errorf("type %q: relation with empty name", t.Name)
			}
			if _, ok := names[rel.Type]; !ok {
				return fmt.Errorf("type %q: relation %q targets undeclared type %q", t.Name, rel.Name, rel.Type)
			}
		}
	}
	return nil
}

// Declares reports whether the policy declares action as a permission of
// resourceType. Compilation requests for undeclared pairs are rejected
// before any SQL is built.
func (p *Policy) Declares(resourceType string, action Action) bool {
	t, ok := p.byType[resourceType]
	if !ok {
		return false
	}
	for _, perm := range t.Permissions {
		if perm == string(action) {
			return true
		}
	}
	return false
}

// RolesOf returns the role names declared for resourceType, nil when the
// type is unknown or declares none.
func (p *Policy) RolesOf(resourceType string) []string {
	t, ok := p.byType[resourceType]
	if !ok {
		return nil
	}
	return t.Roles
}

func stringSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, s := range in {
		out[s] = struct{}{}
	}
	return out
}

package authz

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// Abstract predicate names the policy may correlate to SQL.
const (
	FactHasRole     = "has_role"
	FactHasRelation = "has_relation"
	FactIsPublic    = "is_public"
)

// Facts is the fact-correlation configuration: for each abstract predicate
// the policy needs, a concrete SQL query returning the columns the
// evaluator expects, plus a type map from abstract entity names to SQL
// column types. It tells the evaluator how to read the application schema
// and does not change at runtime.
type Facts struct {
	Predicates []FactPredicate   `json:"predicates"`
	TypeMap    map[string]string `json:"type_map"`
}

// FactPredicate maps one abstract predicate onto a SQL query.
type FactPredicate struct {
	Name    string   `json:"name"`
	Query   string   `json:"query"`
	Columns []string `json:"columns"`
}

// LoadFacts reads and validates a fact-correlation document from a YAML
// file.
func LoadFacts(path string) (*Facts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fact configuration: %w", err)
	}
	return ParseFacts(data)
}

// ParseFacts parses and validates a fact-correlation document.
func ParseFacts(data []byte) (*Facts, error) {
	var f Facts
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse fact configuration: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Facts) validate() error {
	if len(f.Predicates) == 0 {
		return fmt.Errorf("fact configuration declares no predicates")
	}
	known := map[string]struct{}{
		FactHasRole:     {},
		FactHasRelation: {},
		FactIsPublic:    {},
	}
	seen := make(map[string]struct{}, len(f.Predicates))
	for _, p := range f.Predicates {
		if _, ok := known[p.Name]; !ok {
			return fmt.Errorf("unknown fact predicate %q", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("fact predicate %q declared twice", p.Name)
		}
		seen[p.Name] = struct{}{}
		query := strings.TrimSpace(p.Query)
		if !strings.HasPrefix(strings.ToUpper(query), "SELECT") {
			return fmt.Errorf("fact predicate %q: query must be a SELECT", p.Name)
		}
		if len(p.Columns) == 0 {
			return fmt.Errorf("fact predicate %q declares no columns", p.Name)
		}
	}
	for entity, sqlType := range f.TypeMap {
		if entity == "" || sqlType == "" {
			return fmt.Errorf("type map entries must name both entity and SQL type")
		}
	}
	return nil
}

// Covers verifies that the fact configuration maps every abstract
// predicate the policy relies on: has_role wherever a type declares roles,
// has_relation wherever a type declares relations. A policy compiled
// against facts that miss one of these would silently evaluate the
// affected rules to false, so the gap is rejected at startup instead.
func (f *Facts) Covers(p *Policy) error {
	for _, t := range p.Types {
		if len(t.Roles) > 0 && f.Predicate(FactHasRole) == nil {
			return fmt.Errorf("policy type %q declares roles but fact configuration maps no %q predicate", t.Name, FactHasRole)
		}
		if len(t.Relations) > 0 && f.Predicate(FactHasRelation) == nil {
			return fmt.Errorf("policy type %q declares relations but fact configuration maps no %q predicate", t.Name, FactHasRelation)
		}
	}
	return nil
}

// Predicate returns the mapping for name, nil when absent.
func (f *Facts) Predicate(name string) *FactPredicate {
	for i := range f.Predicates {
		if f.Predicates[i].Name == name {
			return &f.Predicates[i]
		}
	}
	return nil
}

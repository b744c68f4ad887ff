package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of a pgx connection the evaluator needs.
// Satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx, so checks can run
// inside a caller's transaction and observe its uncommitted state.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgreSQL error codes used to tell configuration defects apart from
// transport failures.
const (
	pgUndefinedTable    = "42P01"
	pgUndefinedFunction = "42883"
)

// PGEvaluator evaluates policy decisions against PostgreSQL. Point checks
// call the check_permission function installed by the authorization
// migration; list conditions are compiled locally over the authorized_set
// function, so no round trip happens after compilation.
//
// The evaluator validates (action, resource type) pairs against the loaded
// policy document before compiling, surfacing policy/schema mismatches as
// PolicyCompilationError at the call site instead of opaque SQL failures
// at execution time.
type PGEvaluator struct {
	q      Querier
	policy *Policy
	cache  *Cache
}

// PGOption configures a PGEvaluator.
type PGOption func(*PGEvaluator)

// WithCache enables caching of point-check results. List conditions are
// never cached: a fragment is only valid for the statement it was compiled
// for.
func WithCache(c *Cache) PGOption {
	return func(e *PGEvaluator) { e.cache = c }
}

// NewPGEvaluator builds an evaluator over q using the given policy
// document.
func NewPGEvaluator(q Querier, policy *Policy, opts ...PGOption) *PGEvaluator {
	e := &PGEvaluator{q: q, policy: policy}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check reports whether subject may perform action on resource by calling
// the check_permission SQL function.
func (e *PGEvaluator) Check(ctx context.Context, subject Subject, action Action, resource Resource) (bool, error) {
	if e.cache != nil {
		if allowed, ok := e.cache.Get(subject, action, resource); ok {
			return allowed, nil
		}
	}

	var allowed bool
	err := e.q.QueryRow(ctx,
		"SELECT check_permission($1, $2, $3, $4, $5)",
		subject.Type, subject.ID, string(action), resource.Type, resource.ID,
	).Scan(&allowed)
	if err != nil {
		return false, e.mapError(action, resource.Type, err)
	}

	if e.cache != nil {
		e.cache.Set(subject, action, resource, allowed)
	}
	return allowed, nil
}

// CompileListCondition compiles the set-scoped predicate for (subject,
// action, resourceType) bound to columnRef. The returned fragment selects
// from authorized_set, which resolves role assignments, relation edges and
// public flags per the policy document at execution time — so a role
// revoked between compilation and execution simply drops rows from the
// set.
func (e *PGEvaluator) CompileListCondition(ctx context.Context, subject Subject, action Action, resourceType, columnRef string) (Fragment, error) {
	if columnRef == "" {
		return Fragment{}, &PolicyCompilationError{Action: action, ResourceType: resourceType, Reason: "empty column reference"}
	}
	if !e.policy.Declares(resourceType, action) {
		return Fragment{}, &PolicyCompilationError{
			Action:       action,
			ResourceType: resourceType,
			Reason:       "action not declared for resource type in policy document",
		}
	}
	expr := columnRef + " IN (SELECT resource_id FROM authorized_set(?, ?, ?, ?))"
	return NewFragment(columnRef, expr, subject.Type, subject.ID, string(action), resourceType), nil
}

// mapError classifies PostgreSQL errors: missing authorization schema
// objects are configuration defects, everything else is a transport
// failure the caller may retry.
func (e *PGEvaluator) mapError(action Action, resourceType string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUndefinedFunction, pgUndefinedTable:
			return &PolicyCompilationError{
				Action:       action,
				ResourceType: resourceType,
				Reason:       "authorization schema objects missing; run migrations",
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
}

var _ Evaluator = (*PGEvaluator)(nil)

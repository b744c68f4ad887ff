package authz

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DB begins transactions. Satisfied by *pgxpool.Pool.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EvaluatorFactory builds an evaluator bound to a transaction, so that the
// authorization check and the mutation it guards run on the same
// connection and see the same snapshot.
type EvaluatorFactory func(Querier) Evaluator

// Guard runs mutations behind authorization checks. Each guarded operation
// acquires exactly one transaction for its whole duration and releases it
// on every exit path, including caller cancellation; the check always
// precedes the mutating statement and no mutating statement runs
// unguarded.
type Guard struct {
	db     DB
	eval   EvaluatorFactory
	logger *slog.Logger
}

// NewGuard constructs a Guard.
func NewGuard(db DB, eval EvaluatorFactory, logger *slog.Logger) *Guard {
	return &Guard{db: db, eval: eval, logger: logger}
}

// Mutate checks that subject may perform action on resource and, only on
// success, runs fn inside a transaction. On a denied check no mutating
// statement is ever issued and an AuthorizationError is returned. On a
// statement error the transaction is rolled back and the error surfaces
// as a DataAccessError.
func (g *Guard) Mutate(ctx context.Context, subject Subject, action Action, resource Resource, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := g.db.Begin(ctx)
	if err != nil {
		return dataErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	allowed, err := g.eval(tx).Check(ctx, subject, action, resource)
	if err != nil {
		return err
	}
	if !allowed {
		return &AuthorizationError{Subject: subject, Action: action, ResourceType: resource.Type}
	}

	if err := fn(ctx, tx); err != nil {
		return dataErr("guarded mutation", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return dataErr("commit", err)
	}
	return nil
}

// BatchTarget pairs a target row identity with the new value the batch
// assigns to it.
type BatchTarget struct {
	ID    string
	Value string
}

// BatchUpdateSpec describes the statement shape of a batch guarded
// mutation.
type BatchUpdateSpec struct {
	// Table is the relation being updated.
	Table string
	// IDColumn is the qualified identity column, e.g. "users.username".
	// The compiled predicate binds to it.
	IDColumn string
	// SetColumn receives each target's value.
	SetColumn string
	// Cast optionally names the SQL type the value is cast to, e.g. an
	// enum type.
	Cast string
	// TargetType is the policy resource type of the targets.
	TargetType string
	// Action is the permission required on every target.
	Action Action
}

// BatchUpdate applies one UPDATE across all targets, authorized as a set.
// A single list predicate for (subject, action, target type) is folded
// into the statement's WHERE clause, so authorization and mutation are
// atomic with respect to concurrent role changes: a role revoked between
// predicate compilation and execution simply yields a lower affected-row
// count. The count must equal len(targets) for the transaction to commit;
// any shortfall means at least one target was not authorized, the whole
// batch rolls back, and an AuthorizationError is returned. The operation
// never identifies or applies the authorized subset.
//
// The count comparison is only meaningful over distinct targets (a
// duplicated id joins a single row), so duplicates are rejected up front
// as a caller error.
func (g *Guard) BatchUpdate(ctx context.Context, subject Subject, spec BatchUpdateSpec, targets []BatchTarget) error {
	if len(targets) == 0 {
		return ErrEmptyBatch
	}
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.ID
	}
	if dup := firstDuplicate(ids); dup != "" {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, dup)
	}

	tx, err := g.db.Begin(ctx)
	if err != nil {
		return dataErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cond, err := g.eval(tx).CompileListCondition(ctx, subject, spec.Action, spec.TargetType, spec.IDColumn)
	if err != nil {
		return err
	}

	query, args := buildBatchUpdate(spec, targets, cond)
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return dataErr("batch update", err)
	}

	if tag.RowsAffected() != int64(len(targets)) {
		if g.logger != nil {
			g.logger.Warn("batch update authorization shortfall",
				slog.String("subject", subject.String()),
				slog.String("action", string(spec.Action)),
				slog.String("target_type", spec.TargetType),
				slog.Int("requested", len(targets)),
				slog.Int64("applied", tag.RowsAffected()))
		}
		return &AuthorizationError{Subject: subject, Action: spec.Action, ResourceType: spec.TargetType}
	}
	if err := tx.Commit(ctx); err != nil {
		return dataErr("commit", err)
	}
	return nil
}

// BatchDeleteSpec describes a batch guarded deletion.
type BatchDeleteSpec struct {
	Table      string
	IDColumn   string
	TargetType string
	Action     Action
}

// BatchDelete removes all targets in one DELETE gated by a single list
// predicate, with the same all-or-nothing row-count verification as
// BatchUpdate.
func (g *Guard) BatchDelete(ctx context.Context, subject Subject, spec BatchDeleteSpec, ids []string) error {
	if len(ids) == 0 {
		return ErrEmptyBatch
	}
	if dup := firstDuplicate(ids); dup != "" {
		return fmt.Errorf("%w: %s", ErrDuplicateTarget, dup)
	}

	tx, err := g.db.Begin(ctx)
	if err != nil {
		return dataErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cond, err := g.eval(tx).CompileListCondition(ctx, subject, spec.Action, spec.TargetType, spec.IDColumn)
	if err != nil {
		return err
	}

	expr, condArgs := cond.Render(2)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1) AND (%s)", spec.Table, spec.IDColumn, expr)
	args := append([]any{ids}, condArgs...)

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return dataErr("batch delete", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		if g.logger != nil {
			g.logger.Warn("batch delete authorization shortfall",
				slog.String("subject", subject.String()),
				slog.String("action", string(spec.Action)),
				slog.String("target_type", spec.TargetType),
				slog.Int("requested", len(ids)),
				slog.Int64("applied", tag.RowsAffected()))
		}
		return &AuthorizationError{Subject: subject, Action: spec.Action, ResourceType: spec.TargetType}
	}
	if err := tx.Commit(ctx); err != nil {
		return dataErr("commit", err)
	}
	return nil
}

// firstDuplicate returns the first repeated id, "" when all are distinct.
func firstDuplicate(ids []string) string {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return id
		}
		seen[id] = struct{}{}
	}
	return ""
}

// buildBatchUpdate assembles the multi-row UPDATE. Target identities and
// values travel as bound parameters through a VALUES list joined against
// the table; the compiled predicate is ANDed onto the identity match.
func buildBatchUpdate(spec BatchUpdateSpec, targets []BatchTarget, cond Fragment) (string, []any) {
	var values strings.Builder
	args := make([]any, 0, len(targets)*2+4)
	for i, t := range targets {
		if i > 0 {
			values.WriteString(", ")
		}
		values.WriteString("($")
		values.WriteString(strconv.Itoa(len(args) + 1))
		values.WriteString("::text, $")
		values.WriteString(strconv.Itoa(len(args) + 2))
		values.WriteString("::text)")
		args = append(args, t.ID, t.Value)
	}

	assigned := "v.value"
	if spec.Cast != "" {
		assigned += "::" + spec.Cast
	}

	expr, condArgs := cond.Render(len(args) + 1)
	args = append(args, condArgs...)

	query := fmt.Sprintf(
		"UPDATE %s SET %s = %s FROM (VALUES %s) AS v(id, value) WHERE %s = v.id AND (%s)",
		spec.Table, spec.SetColumn, assigned, values.String(), spec.IDColumn, expr,
	)
	return query, args
}

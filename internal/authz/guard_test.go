package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeEvaluator struct {
	allowed  bool
	checkErr error
	cond     Fragment
	condErr  error

	checks   int
	compiles int
}

func (f *fakeEvaluator) Check(ctx context.Context, subject Subject, action Action, resource Resource) (bool, error) {
	f.checks++
	return f.allowed, f.checkErr
}

func (f *fakeEvaluator) CompileListCondition(ctx context.Context, subject Subject, action Action, resourceType, columnRef string) (Fragment, error) {
	f.compiles++
	return f.cond, f.condErr
}

// fakeTx embeds pgx.Tx for the methods the guard never touches; calling
// one of those panics, which is exactly what the tests want.
type fakeTx struct {
	pgx.Tx

	execTag pgconn.CommandTag
	execErr error

	execSQL    []string
	execArgs   [][]any
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execSQL = append(t.execSQL, sql)
	t.execArgs = append(t.execArgs, args)
	return t.execTag, t.execErr
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("unexpected QueryRow: " + sql)
}

type fakeDB struct {
	tx       *fakeTx
	beginErr error
	begins   int
}

func (d *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	d.begins++
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	return d.tx, nil
}

func newTestGuard(eval *fakeEvaluator, tx *fakeTx) (*Guard, *fakeDB) {
	db := &fakeDB{tx: tx}
	guard := NewGuard(db, func(Querier) Evaluator { return eval }, nil)
	return guard, db
}

func TestMutateDeniedIssuesNoStatement(t *testing.T) {
	eval := &fakeEvaluator{allowed: false}
	tx := &fakeTx{}
	guard, _ := newTestGuard(eval, tx)

	mutated := false
	err := guard.Mutate(context.Background(), User("alice"), "create_user", Organization("acme"),
		func(ctx context.Context, tx pgx.Tx) error {
			mutated = true
			return nil
		})

	require.True(t, IsAuthorizationError(err))
	require.False(t, mutated)
	require.Empty(t, tx.execSQL)
	require.False(t, tx.committed)
	require.True(t, tx.rolledBack)
	require.Equal(t, 1, eval.checks)
}

func TestMutateAllowedCommits(t *testing.T) {
	eval := &fakeEvaluator{allowed: true}
	tx := &fakeTx{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	guard, _ := newTestGuard(eval, tx)

	err := guard.Mutate(context.Background(), User("root"), "create_user", Organization("acme"),
		func(ctx context.Context, inner pgx.Tx) error {
			_, execErr := inner.Exec(ctx, "INSERT INTO users (username) VALUES ($1)", "alice")
			return execErr
		})

	require.NoError(t, err)
	require.True(t, tx.committed)
	require.Len(t, tx.execSQL, 1)
}

func TestMutateStatementErrorRollsBack(t *testing.T) {
	eval := &fakeEvaluator{allowed: true}
	tx := &fakeTx{}
	guard, _ := newTestGuard(eval, tx)

	boom := errors.New("duplicate key")
	err := guard.Mutate(context.Background(), User("root"), "create_user", Organization("acme"),
		func(ctx context.Context, tx pgx.Tx) error { return boom })

	require.True(t, IsDataAccessError(err))
	require.ErrorIs(t, err, boom)
	require.True(t, tx.rolledBack)
	require.False(t, tx.committed)
}

func TestMutateEvaluatorFailurePropagates(t *testing.T) {
	eval := &fakeEvaluator{checkErr: ErrEvaluatorUnavailable}
	tx := &fakeTx{}
	guard, _ := newTestGuard(eval, tx)

	err := guard.Mutate(context.Background(), User("root"), "create_user", Organization("acme"),
		func(ctx context.Context, tx pgx.Tx) error { return nil })

	require.ErrorIs(t, err, ErrEvaluatorUnavailable)
	require.False(t, IsDataAccessError(err))
	require.True(t, tx.rolledBack)
}

func userBatchSpec() BatchUpdateSpec {
	return BatchUpdateSpec{
		Table:      "users",
		IDColumn:   "users.username",
		SetColumn:  "org_role",
		Cast:       "org_role",
		TargetType: TypeUser,
		Action:     "edit_role",
	}
}

func editRoleFragment() Fragment {
	return NewFragment("users.username",
		"users.username IN (SELECT resource_id FROM authorized_set(?, ?, ?, ?))",
		"user", "bob", "edit_role", "user")
}

func TestBatchUpdateAllAuthorizedCommits(t *testing.T) {
	eval := &fakeEvaluator{cond: editRoleFragment()}
	tx := &fakeTx{execTag: pgconn.NewCommandTag("UPDATE 2")}
	guard, _ := newTestGuard(eval, tx)

	targets := []BatchTarget{
		{ID: "alice", Value: "admin"},
		{ID: "carol", Value: "member"},
	}
	err := guard.BatchUpdate(context.Background(), User("bob"), userBatchSpec(), targets)

	require.NoError(t, err)
	require.True(t, tx.committed)
	require.Len(t, tx.execSQL, 1)
	require.Equal(t,
		"UPDATE users SET org_role = v.value::org_role"+
			" FROM (VALUES ($1::text, $2::text), ($3::text, $4::text)) AS v(id, value)"+
			" WHERE users.username = v.id"+
			" AND (users.username IN (SELECT resource_id FROM authorized_set($5, $6, $7, $8)))",
		tx.execSQL[0])
	require.Equal(t, []any{"alice", "admin", "carol", "member", "user", "bob", "edit_role", "user"}, tx.execArgs[0])
}

func TestBatchUpdateCountMismatchRollsBackEverything(t *testing.T) {
	// Three targets requested, predicate matched only two: a concurrent
	// role revocation between compilation and execution looks exactly
	// like this.
	eval := &fakeEvaluator{cond: editRoleFragment()}
	tx := &fakeTx{execTag: pgconn.NewCommandTag("UPDATE 2")}
	guard, _ := newTestGuard(eval, tx)

	targets := []BatchTarget{
		{ID: "alice", Value: "admin"},
		{ID: "carol", Value: "admin"},
		{ID: "dave", Value: "admin"},
	}
	err := guard.BatchUpdate(context.Background(), User("bob"), userBatchSpec(), targets)

	require.True(t, IsAuthorizationError(err))
	require.True(t, tx.rolledBack)
	require.False(t, tx.committed)
}

func TestBatchUpdateEmptyBatchIsCallerError(t *testing.T) {
	eval := &fakeEvaluator{cond: editRoleFragment()}
	tx := &fakeTx{}
	guard, db := newTestGuard(eval, tx)

	err := guard.BatchUpdate(context.Background(), User("bob"), userBatchSpec(), nil)

	require.ErrorIs(t, err, ErrEmptyBatch)
	require.Zero(t, db.begins)
	require.Zero(t, eval.compiles)
}

func TestBatchUpdateDuplicateTargetsAreCallerError(t *testing.T) {
	// Two VALUES rows for the same id join a single table row, so a fully
	// authorized batch would come back with RowsAffected=1 against
	// len(targets)=2. That shortfall must not be read as a denial; the
	// batch is rejected before any statement runs.
	eval := &fakeEvaluator{cond: editRoleFragment()}
	tx := &fakeTx{}
	guard, db := newTestGuard(eval, tx)

	targets := []BatchTarget{
		{ID: "alice", Value: "admin"},
		{ID: "alice", Value: "admin"},
	}
	err := guard.BatchUpdate(context.Background(), User("bob"), userBatchSpec(), targets)

	require.ErrorIs(t, err, ErrDuplicateTarget)
	require.False(t, IsAuthorizationError(err))
	require.Zero(t, db.begins)
	require.Zero(t, eval.compiles)
}

func TestBatchDeleteDuplicateTargetsAreCallerError(t *testing.T) {
	eval := &fakeEvaluator{cond: editRoleFragment()}
	tx := &fakeTx{}
	guard, db := newTestGuard(eval, tx)

	spec := BatchDeleteSpec{Table: "users", IDColumn: "users.username", TargetType: TypeUser, Action: "delete"}
	err := guard.BatchDelete(context.Background(), User("bob"), spec, []string{"alice", "carol", "alice"})

	require.ErrorIs(t, err, ErrDuplicateTarget)
	require.False(t, IsAuthorizationError(err))
	require.Zero(t, db.begins)
}

func TestBatchUpdateCompilationErrorRollsBack(t *testing.T) {
	eval := &fakeEvaluator{condErr: &PolicyCompilationError{Action: "edit_role", ResourceType: TypeUser, Reason: "undeclared"}}
	tx := &fakeTx{}
	guard, _ := newTestGuard(eval, tx)

	err := guard.BatchUpdate(context.Background(), User("bob"), userBatchSpec(), []BatchTarget{{ID: "alice", Value: "admin"}})

	require.True(t, IsPolicyCompilationError(err))
	require.Empty(t, tx.execSQL)
	require.True(t, tx.rolledBack)
}

func TestBatchDeleteCountMismatch(t *testing.T) {
	eval := &fakeEvaluator{cond: NewFragment("documents.org || '/' || documents.id",
		"documents.org || '/' || documents.id IN (SELECT resource_id FROM authorized_set(?, ?, ?, ?))",
		"user", "bob", "delete", "document")}
	tx := &fakeTx{execTag: pgconn.NewCommandTag("DELETE 0")}
	guard, _ := newTestGuard(eval, tx)

	spec := BatchDeleteSpec{
		Table:      "documents",
		IDColumn:   "documents.org || '/' || documents.id",
		TargetType: TypeDocument,
		Action:     "delete",
	}
	err := guard.BatchDelete(context.Background(), User("bob"), spec, []string{"acme/readme"})

	require.True(t, IsAuthorizationError(err))
	require.True(t, tx.rolledBack)
}

func TestBatchDeleteAllAuthorized(t *testing.T) {
	eval := &fakeEvaluator{cond: NewFragment("users.username",
		"users.username IN (SELECT resource_id FROM authorized_set(?, ?, ?, ?))",
		"user", "bob", "delete", "user")}
	tx := &fakeTx{execTag: pgconn.NewCommandTag("DELETE 2")}
	guard, _ := newTestGuard(eval, tx)

	spec := BatchDeleteSpec{Table: "users", IDColumn: "users.username", TargetType: TypeUser, Action: "delete"}
	err := guard.BatchDelete(context.Background(), User("bob"), spec, []string{"alice", "carol"})

	require.NoError(t, err)
	require.True(t, tx.committed)
	require.Equal(t,
		"DELETE FROM users WHERE users.username = ANY($1)"+
			" AND (users.username IN (SELECT resource_id FROM authorized_set($2, $3, $4, $5)))",
		tx.execSQL[0])
}

package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeQuerier struct {
	row     fakeRow
	queries int
	lastSQL string
	lastArg []any
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.queries++
	q.lastSQL = sql
	q.lastArg = args
	return q.row
}

func testPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := ParsePolicy([]byte(`
types:
  - name: organization
    permissions: [read, create_user, create_document]
    roles: [admin, member]
    role_grants:
      - role: admin
        permissions: [read, create_user, create_document]
      - role: member
        permissions: [read]
    role_implies:
      - role: admin
        implies: [member]
  - name: user
    permissions: [read, edit_role, delete]
    relations:
      - name: parent
        type: organization
  - name: document
    permissions: [read, edit, delete, share]
    roles: [viewer, editor, owner]
    relations:
      - name: belongs_to
        type: organization
`))
	require.NoError(t, err)
	return p
}

func allowRow(allowed bool) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*bool)) = allowed
		return nil
	}}
}

func TestPGEvaluatorCheck(t *testing.T) {
	q := &fakeQuerier{row: allowRow(true)}
	eval := NewPGEvaluator(q, testPolicy(t))

	allowed, err := eval.Check(context.Background(), User("alice"), "read", Organization("acme"))
	require.NoError(t, err)
	require.True(t, allowed)
	require.Equal(t, "SELECT check_permission($1, $2, $3, $4, $5)", q.lastSQL)
	require.Equal(t, []any{"user", "alice", "read", "organization", "acme"}, q.lastArg)
}

func TestPGEvaluatorCheckIdempotentViaCache(t *testing.T) {
	q := &fakeQuerier{row: allowRow(true)}
	eval := NewPGEvaluator(q, testPolicy(t), WithCache(NewCache(time.Minute)))

	for i := 0; i < 3; i++ {
		allowed, err := eval.Check(context.Background(), User("alice"), "read", Organization("acme"))
		require.NoError(t, err)
		require.True(t, allowed)
	}
	require.Equal(t, 1, q.queries)
}

func TestPGEvaluatorCheckMapsMissingSchemaToCompilationError(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{scan: func(dest ...any) error {
		return &pgconn.PgError{Code: pgUndefinedFunction, Message: "function check_permission does not exist"}
	}}}
	eval := NewPGEvaluator(q, testPolicy(t))

	_, err := eval.Check(context.Background(), User("alice"), "read", Organization("acme"))
	require.True(t, IsPolicyCompilationError(err))
	require.False(t, errors.Is(err, ErrEvaluatorUnavailable))
}

func TestPGEvaluatorCheckMapsTransportErrors(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{scan: func(dest ...any) error {
		return errors.New("connection refused")
	}}}
	eval := NewPGEvaluator(q, testPolicy(t))

	_, err := eval.Check(context.Background(), User("alice"), "read", Organization("acme"))
	require.ErrorIs(t, err, ErrEvaluatorUnavailable)
}

func TestCompileListCondition(t *testing.T) {
	eval := NewPGEvaluator(&fakeQuerier{}, testPolicy(t))

	frag, err := eval.CompileListCondition(context.Background(), User("alice"), "edit_role", TypeUser, "users.username")
	require.NoError(t, err)
	require.Equal(t, "users.username", frag.Column())

	expr, args := frag.Render(1)
	require.Equal(t, "users.username IN (SELECT resource_id FROM authorized_set($1, $2, $3, $4))", expr)
	require.Equal(t, []any{"user", "alice", "edit_role", "user"}, args)
}

func TestCompileListConditionRejectsUndeclaredPairs(t *testing.T) {
	eval := NewPGEvaluator(&fakeQuerier{}, testPolicy(t))

	_, err := eval.CompileListCondition(context.Background(), User("alice"), "edit_role", TypeDocument, "d.id")
	require.True(t, IsPolicyCompilationError(err))

	_, err = eval.CompileListCondition(context.Background(), User("alice"), "read", "widget", "w.id")
	require.True(t, IsPolicyCompilationError(err))

	_, err = eval.CompileListCondition(context.Background(), User("alice"), "read", TypeUser, "")
	require.True(t, IsPolicyCompilationError(err))
}

package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-hq/archon/internal/authz"
	"github.com/archon-hq/archon/internal/shared"
)

// Repository defines persistence for the directory module. Every read and
// write is authorization-aware: reads carry compiled predicates, writes go
// through the guard.
type Repository interface {
	GetOrganization(ctx context.Context, subject authz.Subject, name string) (Organization, error)
	ListUsersForSubject(ctx context.Context, subject authz.Subject) ([]ManagedUser, error)
	CreateUser(ctx context.Context, subject authz.Subject, org string, input NewUser, passwordHash string) (User, error)
	UpdateRoles(ctx context.Context, subject authz.Subject, changes []RoleChange) error
	DeleteUsers(ctx context.Context, subject authz.Subject, usernames []string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool      *pgxpool.Pool
	evaluator authz.Evaluator
	guard     *authz.Guard
}

// NewRepository constructs a PostgreSQL repository. The evaluator compiles
// predicates for the read path; the guard owns every write.
func NewRepository(pool *pgxpool.Pool, evaluator authz.Evaluator, guard *authz.Guard) *PGRepository {
	return &PGRepository{pool: pool, evaluator: evaluator, guard: guard}
}

// GetOrganization fetches an organization by name. The read is gated on
// the subject holding read on the organization; a denied check returns an
// AuthorizationError before any row is fetched, so unknown organizations
// are indistinguishable from forbidden ones.
func (r *PGRepository) GetOrganization(ctx context.Context, subject authz.Subject, name string) (Organization, error) {
	allowed, err := r.evaluator.Check(ctx, subject, ActionRead, authz.Organization(name))
	if err != nil {
		return Organization{}, err
	}
	if !allowed {
		return Organization{}, &authz.AuthorizationError{Subject: subject, Action: ActionRead, ResourceType: authz.TypeOrganization}
	}

	var org Organization
	err = r.pool.QueryRow(ctx,
		`SELECT name, created_at FROM organizations WHERE name = $1`, name,
	).Scan(&org.Name, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Organization{}, shared.ErrNotFound
		}
		return Organization{}, err
	}
	return org, nil
}

// listColumn is the identity column every user-list predicate binds to.
const listColumn = "u.username"

// ListUsersForSubject returns, in one query, every user the subject may
// read, each annotated with edit_role and delete booleans evaluated
// against that row.
func (r *PGRepository) ListUsersForSubject(ctx context.Context, subject authz.Subject) ([]ManagedUser, error) {
	read, err := r.evaluator.CompileListCondition(ctx, subject, ActionRead, authz.TypeUser, listColumn)
	if err != nil {
		return nil, err
	}
	extras := make([]authz.PermissionColumn, 0, 2)
	for _, action := range []authz.Action{ActionEditRole, ActionDelete} {
		cond, err := r.evaluator.CompileListCondition(ctx, subject, action, authz.TypeUser, listColumn)
		if err != nil {
			return nil, err
		}
		extras = append(extras, authz.PermissionColumn{Action: action, Cond: cond})
	}

	query, args, err := authz.ListQuery{
		Table:    "users u",
		Columns:  []string{"u.username", "u.org", "u.org_role", "u.created_at", "u.updated_at"},
		IDColumn: listColumn,
		OrderBy:  "u.username",
	}.Build(read, extras)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &authz.DataAccessError{Op: "list users", Err: err}
	}
	defer rows.Close()

	var users []ManagedUser
	for rows.Next() {
		var u ManagedUser
		var canEditRole, canDelete bool
		if err := rows.Scan(&u.Username, &u.Org, &u.Role, &u.CreatedAt, &u.UpdatedAt, &canEditRole, &canDelete); err != nil {
			return nil, &authz.DataAccessError{Op: "scan user", Err: err}
		}
		u.Permissions = authz.PermissionVector{
			ActionEditRole: canEditRole,
			ActionDelete:   canDelete,
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, &authz.DataAccessError{Op: "list users", Err: err}
	}
	return users, nil
}

// CreateUser inserts a user after checking create_user on the
// organization. The insert only ever runs when the check passed.
func (r *PGRepository) CreateUser(ctx context.Context, subject authz.Subject, org string, input NewUser, passwordHash string) (User, error) {
	var user User
	err := r.guard.Mutate(ctx, subject, ActionCreateUser, authz.Organization(org),
		func(ctx context.Context, tx pgx.Tx) error {
			return tx.QueryRow(ctx,
				`INSERT INTO users (username, org, org_role, password_hash)
				 VALUES ($1, $2, $3, $4)
				 RETURNING username, org, org_role, created_at, updated_at`,
				input.Username, org, input.Role, passwordHash,
			).Scan(&user.Username, &user.Org, &user.Role, &user.CreatedAt, &user.UpdatedAt)
		})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateRoles assigns new organization roles to all targets as one batch
// guarded mutation: one UPDATE, one compiled predicate, commit only when
// every target was authorized.
func (r *PGRepository) UpdateRoles(ctx context.Context, subject authz.Subject, changes []RoleChange) error {
	targets := make([]authz.BatchTarget, len(changes))
	for i, change := range changes {
		targets[i] = authz.BatchTarget{ID: change.Username, Value: change.Role}
	}
	return r.guard.BatchUpdate(ctx, subject, authz.BatchUpdateSpec{
		Table:      "users",
		IDColumn:   "users.username",
		SetColumn:  "org_role",
		Cast:       "org_role",
		TargetType: authz.TypeUser,
		Action:     ActionEditRole,
	}, targets)
}

// DeleteUsers removes all targets with the same all-or-nothing discipline.
func (r *PGRepository) DeleteUsers(ctx context.Context, subject authz.Subject, usernames []string) error {
	return r.guard.BatchDelete(ctx, subject, authz.BatchDeleteSpec{
		Table:      "users",
		IDColumn:   "users.username",
		TargetType: authz.TypeUser,
		Action:     ActionDelete,
	}, usernames)
}

var _ Repository = (*PGRepository)(nil)

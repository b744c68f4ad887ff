package documents

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-hq/archon/internal/authz"
)

// Repository defines persistence for the document module. Reads carry
// compiled predicates, writes go through the guard.
type Repository interface {
	ListForSubject(ctx context.Context, subject authz.Subject, org string) ([]ListedDocument, error)
	Create(ctx context.Context, subject authz.Subject, org string, input NewDocument) (Document, error)
	Share(ctx context.Context, subject authz.Subject, org, id string, grant ShareRequest) error
	ArchiveBatch(ctx context.Context, subject authz.Subject, org string, ids []string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool      *pgxpool.Pool
	evaluator authz.Evaluator
	guard     *authz.Guard
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool, evaluator authz.Evaluator, guard *authz.Guard) *PGRepository {
	return &PGRepository{pool: pool, evaluator: evaluator, guard: guard}
}

// docColumn is the composite identity expression every document-list
// predicate binds to. It must produce the same value the policy layer uses
// as the document resource id.
const docColumn = "d.org || '/' || d.id"

// ListForSubject returns, in one query, every document in org the subject
// may read, each annotated with edit and delete booleans evaluated against
// that row.
func (r *PGRepository) ListForSubject(ctx context.Context, subject authz.Subject, org string) ([]ListedDocument, error) {
	read, err := r.evaluator.CompileListCondition(ctx, subject, ActionRead, authz.TypeDocument, docColumn)
	if err != nil {
		return nil, err
	}
	extras := make([]authz.PermissionColumn, 0, 2)
	for _, action := range []authz.Action{ActionEdit, ActionDelete} {
		cond, err := r.evaluator.CompileListCondition(ctx, subject, action, authz.TypeDocument, docColumn)
		if err != nil {
			return nil, err
		}
		extras = append(extras, authz.PermissionColumn{Action: action, Cond: cond})
	}

	query, args, err := authz.ListQuery{
		Table:      "documents d",
		Columns:    []string{"d.org", "d.id", "d.title", "d.is_public", "d.archived", "d.created_at", "d.updated_at"},
		IDColumn:   docColumn,
		Filter:     "d.org = ?",
		FilterArgs: []any{org},
		OrderBy:    "d.id",
	}.Build(read, extras)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &authz.DataAccessError{Op: "list documents", Err: err}
	}
	defer rows.Close()

	var docs []ListedDocument
	for rows.Next() {
		var d ListedDocument
		var canEdit, canDelete bool
		if err := rows.Scan(&d.Org, &d.ID, &d.Title, &d.IsPublic, &d.Archived, &d.CreatedAt, &d.UpdatedAt, &canEdit, &canDelete); err != nil {
			return nil, &authz.DataAccessError{Op: "scan document", Err: err}
		}
		d.Permissions = authz.PermissionVector{
			ActionEdit:   canEdit,
			ActionDelete: canDelete,
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &authz.DataAccessError{Op: "list documents", Err: err}
	}
	return docs, nil
}

// Create inserts a document after checking create_document on the
// organization.
func (r *PGRepository) Create(ctx context.Context, subject authz.Subject, org string, input NewDocument) (Document, error) {
	var doc Document
	err := r.guard.Mutate(ctx, subject, ActionCreateDocument, authz.Organization(org),
		func(ctx context.Context, tx pgx.Tx) error {
			if err := tx.QueryRow(ctx,
				`INSERT INTO documents (org, id, title, is_public)
				 VALUES ($1, $2, $3, $4)
				 RETURNING org, id, title, is_public, archived, created_at, updated_at`,
				org, input.ID, input.Title, input.IsPublic,
			).Scan(&doc.Org, &doc.ID, &doc.Title, &doc.IsPublic, &doc.Archived, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
				return err
			}
			// The creator owns the document it just created.
			_, err := tx.Exec(ctx,
				`INSERT INTO document_roles (org, doc_id, username, doc_role)
				 VALUES ($1, $2, $3, 'owner')`,
				org, input.ID, subject.ID)
			return err
		})
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Share grants a role on one document after checking share on it. An
// existing grant for the same user is replaced.
func (r *PGRepository) Share(ctx context.Context, subject authz.Subject, org, id string, grant ShareRequest) error {
	return r.guard.Mutate(ctx, subject, ActionShare, Resource(org, id),
		func(ctx context.Context, tx pgx.Tx) error {
			_, err := tx.Exec(ctx,
				`INSERT INTO document_roles (org, doc_id, username, doc_role)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (org, doc_id, username) DO UPDATE SET doc_role = EXCLUDED.doc_role`,
				org, id, grant.Username, grant.Role)
			return err
		})
}

// ArchiveBatch marks all targets archived as one batch guarded mutation:
// one UPDATE, one compiled predicate, commit only when every target was
// authorized.
func (r *PGRepository) ArchiveBatch(ctx context.Context, subject authz.Subject, org string, ids []string) error {
	targets := make([]authz.BatchTarget, len(ids))
	for i, id := range ids {
		targets[i] = authz.BatchTarget{ID: org + "/" + id, Value: "true"}
	}
	return r.guard.BatchUpdate(ctx, subject, authz.BatchUpdateSpec{
		Table:      "documents",
		IDColumn:   "documents.org || '/' || documents.id",
		SetColumn:  "archived",
		Cast:       "boolean",
		TargetType: authz.TypeDocument,
		Action:     ActionDelete,
	}, targets)
}

var _ Repository = (*PGRepository)(nil)

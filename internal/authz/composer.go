package authz

import (
	"strings"
)

// PermissionColumn pairs an action with its compiled predicate for
// projection as a boolean column in an authorized read.
type PermissionColumn struct {
	Action Action
	Cond   Fragment
}

// ListQuery composes a single SELECT that restricts rows to those the
// subject may read and annotates each row with booleans for further
// permissions. The read predicate lands in the WHERE clause; every extra
// permission becomes a boolean-valued select expression evaluated against
// the same row identity. One statement, one consistent snapshot: the
// booleans can never disagree with the row set they describe.
type ListQuery struct {
	// Table is the relation to enumerate, including any required joins.
	Table string
	// Columns are the base projection, scanned before the permission
	// booleans.
	Columns []string
	// IDColumn is the row-identity column reference every fragment must
	// be bound to.
	IDColumn string
	// Filter is an optional static condition ANDed with the read
	// predicate, with '?' markers bound to FilterArgs. It narrows the
	// result set; it never widens what the read predicate allows.
	Filter     string
	FilterArgs []any
	// OrderBy is an optional ordering clause (column list only).
	OrderBy string
}

// Build assembles the statement. Every fragment must have been compiled
// for exactly q.IDColumn; a mismatch means the fragment is being reused
// outside the statement it belongs to, which is reported as an
// IntegrityError rather than silently producing a predicate over the
// wrong rows.
func (q ListQuery) Build(read Fragment, extras []PermissionColumn) (string, []any, error) {
	if read.IsZero() {
		return "", nil, &IntegrityError{Invariant: "read predicate must not be empty"}
	}
	if read.Column() != q.IDColumn {
		return "", nil, &IntegrityError{Invariant: "read predicate bound to " + read.Column() + ", statement exposes " + q.IDColumn}
	}
	for _, extra := range extras {
		if extra.Cond.Column() != q.IDColumn {
			return "", nil, &IntegrityError{Invariant: "predicate for " + string(extra.Action) + " bound to " + extra.Cond.Column() + ", statement exposes " + q.IDColumn}
		}
	}

	var b strings.Builder
	var args []any
	next := 1

	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.Columns, ", "))
	for _, extra := range extras {
		expr, extraArgs := extra.Cond.Render(next)
		next += len(extraArgs)
		args = append(args, extraArgs...)
		b.WriteString(", (")
		b.WriteString(expr)
		b.WriteString(") AS perm_")
		b.WriteString(string(extra.Action))
	}

	b.WriteString(" FROM ")
	b.WriteString(q.Table)

	whereExpr, whereArgs := read.Render(next)
	next += len(whereArgs)
	args = append(args, whereArgs...)
	b.WriteString(" WHERE (")
	b.WriteString(whereExpr)
	b.WriteString(")")

	if q.Filter != "" {
		filterExpr, filterArgs := NewFragment(q.IDColumn, q.Filter, q.FilterArgs...).Render(next)
		args = append(args, filterArgs...)
		b.WriteString(" AND (")
		b.WriteString(filterExpr)
		b.WriteString(")")
	}

	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.OrderBy)
	}
	return b.String(), args, nil
}

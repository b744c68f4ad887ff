package authz

import (
	"strconv"
	"strings"
)

// Fragment is an opaque boolean SQL expression bound to a single column
// reference, produced by the policy evaluator for embedding in a caller's
// query. The expression uses '?' markers for its own bound arguments;
// Render rewrites them to positional placeholders so the fragment can be
// spliced into a statement that already carries parameters of its own.
//
// A fragment is valid only for the exact column reference and statement it
// was compiled for. It must not be cached or reused across statements: the
// expression may contain correlated subqueries scoped to that statement.
// Composing code never edits the expression text and never concatenates
// caller-supplied values into it; all concrete values travel as arguments.
type Fragment struct {
	column string
	expr   string
	args   []any
}

// NewFragment builds a fragment for the given column reference. The
// expression must be a self-contained boolean SQL expression using '?' for
// each argument, in order. Only evaluator implementations should construct
// fragments.
func NewFragment(column, expr string, args ...any) Fragment {
	return Fragment{column: column, expr: expr, args: args}
}

// Column returns the column reference the fragment was compiled against.
// Embedding code must verify this matches the column the surrounding
// statement exposes.
func (f Fragment) Column() string { return f.column }

// IsZero reports whether the fragment is empty.
func (f Fragment) IsZero() bool { return f.expr == "" }

// Render returns the expression with '?' markers rewritten to $n
// placeholders starting at start, together with the arguments to append to
// the statement's argument list. The marker count must equal the argument
// count; Render panics otherwise since that indicates a defective
// evaluator, not a runtime condition.
func (f Fragment) Render(start int) (string, []any) {
	var b strings.Builder
	b.Grow(len(f.expr) + 8)
	n := 0
	for i := 0; i < len(f.expr); i++ {
		if f.expr[i] != '?' {
			b.WriteByte(f.expr[i])
			continue
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(start + n))
		n++
	}
	if n != len(f.args) {
		panic("authz: fragment marker count does not match argument count")
	}
	args := make([]any, len(f.args))
	copy(args, f.args)
	return b.String(), args
}

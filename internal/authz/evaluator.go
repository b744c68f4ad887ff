package authz

import "context"

// Evaluator is the narrow boundary to the policy engine. Implementations
// decide, per the declarative policy document, whether a subject holds a
// permission, and compile the set-scoped form of the same decision into a
// SQL predicate fragment.
//
// Check answers a point question for one resource. CompileListCondition
// answers the same question for every row of a type at once: the returned
// fragment, embedded in a statement, is true exactly for the rows the
// subject holds the action on. No further evaluator round trip happens
// after compilation; the fragment is consumed locally.
type Evaluator interface {
	// Check reports whether subject may perform action on resource.
	// A transport failure is reported as ErrEvaluatorUnavailable.
	Check(ctx context.Context, subject Subject, action Action, resource Resource) (bool, error)

	// CompileListCondition compiles a predicate for (subject, action,
	// resourceType), bound to columnRef in the caller's statement. It
	// fails with a PolicyCompilationError when the pair is not declared
	// in the policy document.
	CompileListCondition(ctx context.Context, subject Subject, action Action, resourceType, columnRef string) (Fragment, error)
}

package authz

import (
	"errors"
	"fmt"
)

// Sentinel errors for the guarded data-access paths.
var (
	// ErrEvaluatorUnavailable indicates a transport failure talking to the
	// policy evaluator. Callers may retry with backoff; the guarded
	// operation itself never retries.
	ErrEvaluatorUnavailable = errors.New("authz: policy evaluator unavailable")

	// ErrEmptyBatch is returned when a batch mutation is requested with no
	// targets. An empty batch is a caller bug, not a silent success.
	ErrEmptyBatch = errors.New("authz: batch mutation requires at least one target")

	// ErrDuplicateTarget is returned when a batch mutation names the same
	// target twice. The affected-row count can only be verified against
	// distinct targets, so a duplicate is a caller bug — reporting it as an
	// authorization failure would misname who is at fault.
	ErrDuplicateTarget = errors.New("authz: batch mutation targets must be distinct")
)

// AuthorizationError reports that a subject may not perform an action.
// It is returned both for single-entity check failures and for batch
// mutations whose affected-row count fell short of the requested count
// (meaning at least one target was not authorized).
//
// The message names the action and resource type only; it never includes
// predicate text or other evaluator internals.
type AuthorizationError struct {
	Subject      Subject
	Action       Action
	ResourceType string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authz: %s is not allowed to %s %s", e.Subject.ID, e.Action, e.ResourceType)
}

// PolicyCompilationError reports that a predicate could not be compiled,
// typically because the (action, resource type) pair is not declared in the
// policy document or a required SQL function is missing. This is a
// configuration defect and must not be retried.
type PolicyCompilationError struct {
	Action       Action
	ResourceType string
	Reason       string
}

func (e *PolicyCompilationError) Error() string {
	return fmt.Sprintf("authz: cannot compile %q on %s: %s", e.Action, e.ResourceType, e.Reason)
}

// DataAccessError wraps a SQL or connection failure surfaced by a guarded
// operation. The transaction has already been rolled back when the caller
// sees this error.
type DataAccessError struct {
	Op  string
	Err error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("authz: %s: %v", e.Op, e.Err)
}

func (e *DataAccessError) Unwrap() error { return e.Err }

// IntegrityError reports a violated invariant that indicates a deeper
// schema/policy desync, such as a subject missing from its own read set.
// It is fatal and never retried.
type IntegrityError struct {
	Invariant string
}

func (e *IntegrityError) Error() string {
	return "authz: integrity violation: " + e.Invariant
}

// IsAuthorizationError reports whether err is or wraps an AuthorizationError.
func IsAuthorizationError(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// IsPolicyCompilationError reports whether err is or wraps a
// PolicyCompilationError.
func IsPolicyCompilationError(err error) bool {
	var pe *PolicyCompilationError
	return errors.As(err, &pe)
}

// IsDataAccessError reports whether err is or wraps a DataAccessError.
func IsDataAccessError(err error) bool {
	var de *DataAccessError
	return errors.As(err, &de)
}

// IsIntegrityError reports whether err is or wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// dataErr wraps err as a DataAccessError unless it already belongs to the
// authz taxonomy. Authorization failures must never be downgraded to data
// errors (or vice versa); callers distinguish "you may not" from "it broke".
func dataErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsAuthorizationError(err) || IsPolicyCompilationError(err) || IsIntegrityError(err) ||
		errors.Is(err, ErrEvaluatorUnavailable) || errors.Is(err, ErrEmptyBatch) ||
		errors.Is(err, ErrDuplicateTarget) {
		return err
	}
	return &DataAccessError{Op: op, Err: err}
}

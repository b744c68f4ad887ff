package shared

import (
	"errors"

	"github.com/archon-hq/archon/internal/authz"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// UserSafeMessage maps an error to a message that can be shown to the
// requesting user. Authorization failures carry a stable message naming
// the action and resource type; everything else collapses to generic text
// while the detail stays in the logs.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case authz.IsAuthorizationError(err):
		return err.Error()
	case errors.Is(err, authz.ErrEmptyBatch):
		return "no targets selected"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid credentials"
	default:
		return "internal error"
	}
}

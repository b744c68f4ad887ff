package shared

import (
	"context"

	"github.com/archon-hq/archon/internal/authz"
)

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// SubjectFromContext derives the acting subject from the session, if any.
// The second return is false for anonymous requests.
func SubjectFromContext(ctx context.Context) (authz.Subject, bool) {
	sess := SessionFromContext(ctx)
	if sess == nil || sess.Username() == "" {
		return authz.Subject{}, false
	}
	return authz.User(sess.Username()), true
}

// Package auth carries the signed-in session through a request and owns the
// cookies that identify it.
package auth

import (
	"context"

	"github.com/likerland/api/internal/model"
)

type contextKey struct{}

func WithSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, contextKey{}, sess)
}

// SessionFrom returns the request's session. The pointer is shared with
// later middleware and handlers, so a refresh performed by one is visible
// to the others.
func SessionFrom(ctx context.Context) (*model.Session, bool) {
	sess, ok := ctx.Value(contextKey{}).(*model.Session)
	return sess, ok && sess != nil
}

// UserID returns the signed-in user, or "" when there is none.
func UserID(ctx context.Context) string {
	sess, ok := SessionFrom(ctx)
	if !ok || !sess.Active() {
		return ""
	}
	return sess.UserID
}

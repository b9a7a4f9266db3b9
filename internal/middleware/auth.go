package middleware

import (
	"log/slog"
	"net/http"

	"github.com/likerland/api/internal/auth"
	"github.com/likerland/api/internal/model"
)

// SessionLookup resolves a session cookie value.
type SessionLookup interface {
	GetByToken(token string) (*model.Session, error)
}

// LoadSession resolves the session cookie, if any, and stores the session in
// the request context. Requests without a valid session pass through with
// an empty session so handlers can tell the two apart with Active.
func LoadSession(sessions SessionLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := &model.Session{}
			if token := auth.SessionToken(r); token != "" {
				found, err := sessions.GetByToken(token)
				if err != nil {
					logger.Error("load session", "error", err)
				} else if found != nil {
					sess = found
				}
			}
			next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
		})
	}
}

// RequireSession rejects requests without an active session with a bare 403.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := auth.SessionFrom(r.Context())
		if !ok || !sess.Active() {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

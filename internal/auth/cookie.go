package auth

import (
	"net/http"
	"time"
)

const (
	SessionCookieName = "likerland_session"
	StateCookieName   = "likerland_oauth_state"

	stateTTL = 10 * time.Minute
)

// Cookies writes the session and OAuth state cookies.
type Cookies struct {
	Secure bool
	TTL    time.Duration
}

func (c Cookies) SetSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.TTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.Secure,
	})
}

func (c Cookies) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
	})
}

// SessionToken returns the session cookie value, or "".
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// SetState remembers the OAuth state for the login callback.
func (c Cookies) SetState(w http.ResponseWriter, state string) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/api/users",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.Secure,
	})
}

// ConsumeState returns the remembered OAuth state and clears it.
func (c Cookies) ConsumeState(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/api/users",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
	})
	return cookie.Value
}

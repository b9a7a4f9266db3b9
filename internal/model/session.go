package model

import "time"

// Session is a signed-in browser session. Token is the cookie value.
type Session struct {
	ID          int64     `json:"id"`
	Token       string    `json:"-"`
	UserID      string    `json:"user_id"`
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Active reports whether the session still identifies a user.
func (s *Session) Active() bool {
	return s != nil && s.Token != "" && s.UserID != ""
}

// Clear drops every field so that callers holding the pointer see a
// signed-out session.
func (s *Session) Clear() {
	*s = Session{}
}

package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/likerland/api/internal/apperr"
	"github.com/likerland/api/internal/auth"
	"github.com/likerland/api/internal/likeco"
	"github.com/likerland/api/internal/model"
)

// Accounts stores users signing in.
type Accounts interface {
	Upsert(u model.User) (*model.User, error)
	SetRefreshToken(id, token string) error
}

// Sessions creates and ends browser sessions.
type Sessions interface {
	Create(userID, accessToken string) (*model.Session, error)
	Delete(id int64) error
}

// AuthHandler runs the LikeCoin OAuth login.
type AuthHandler struct {
	client   *likeco.Client
	users    Accounts
	sessions Sessions
	responder
}

func NewAuthHandler(c *likeco.Client, users Accounts, sessions Sessions, cookies auth.Cookies, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		client:    c,
		users:     users,
		sessions:  sessions,
		responder: responder{logger: logger, cookies: cookies},
	}
}

// LoginURL returns the consent page URL and remembers a fresh state.
func (h *AuthHandler) LoginURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := uuid.NewString()
	h.cookies.SetState(w, state)

	url := h.client.AuthURL(likeco.AuthURLOptions{
		State:      state,
		From:       q.Get("from"),
		Referrer:   q.Get("referrer"),
		IsRegister: q.Get("register") == "1" || q.Get("register") == "true",
	})
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type loginRequest struct {
	AuthCode string `json:"authCode"`
	State    string `json:"state"`
}

// Login completes the OAuth flow: it trades the code for tokens, stores the
// user and starts a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.AuthCode = strings.TrimSpace(req.AuthCode)
	if req.AuthCode == "" {
		h.fail(w, r, apperr.Wrapf(apperr.ErrInvalidRequest, "authCode is required"))
		return
	}
	if expected := h.cookies.ConsumeState(w, r); expected == "" || expected != req.State {
		h.fail(w, r, apperr.Wrapf(apperr.ErrInvalidRequest, "oauth state mismatch"))
		return
	}

	tok, err := h.client.ExchangeCode(r.Context(), req.AuthCode)
	if err != nil {
		h.logger.Warn("exchange authorization code", "cause", likeco.FailureCause(err))
		if likeco.IsRejected(err) {
			h.fail(w, r, apperr.Wrapf(apperr.ErrInvalidRequest, "authorization code rejected"))
			return
		}
		h.fail(w, r, fmt.Errorf("%w: %v", apperr.ErrUpstreamUnavailable, err))
		return
	}

	raw, err := h.client.FetchUserProfile(r.Context(), likeco.Bearer(tok.AccessToken))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	profile, err := likeco.ParseProfile(raw)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", apperr.ErrUpstreamUnavailable, err))
		return
	}

	user, err := h.users.Upsert(model.User{
		ID:          profile.User,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		Locale:      profile.Locale,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if tok.RefreshToken != "" {
		if err := h.users.SetRefreshToken(user.ID, tok.RefreshToken); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	if old, ok := auth.SessionFrom(r.Context()); ok && old.Active() {
		if err := h.sessions.Delete(old.ID); err != nil {
			h.logger.Warn("delete previous session", "error", err)
		}
	}
	sess, err := h.sessions.Create(user.ID, tok.AccessToken)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cookies.SetSession(w, sess.Token)

	h.logger.Info("user signed in", "user", user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := auth.SessionFrom(r.Context()); ok && sess.Active() {
		if err := h.sessions.Delete(sess.ID); err != nil {
			h.logger.Error("delete session", "error", err)
		}
		sess.Clear()
	}
	h.cookies.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

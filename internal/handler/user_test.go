package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/likerland/api/internal/auth"
	"github.com/likerland/api/internal/database"
	"github.com/likerland/api/internal/likeco"
	"github.com/likerland/api/internal/model"
	"github.com/likerland/api/internal/secret"
	"github.com/likerland/api/internal/store"
)

// fakeLikeCo serves the LikeCoin endpoints the handlers call. Only the
// token "fresh" is accepted as a bearer token.
type fakeLikeCo struct {
	server        *httptest.Server
	rejectRefresh atomic.Bool
	refreshes     atomic.Int32
}

func newFakeLikeCo(t *testing.T) *fakeLikeCo {
	t.Helper()
	f := &fakeLikeCo{}
	bearerOnly := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer fresh" {
				http.Error(w, "token expired", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	reply := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, body)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error":"invalid_grant"}`)
				return
			}
			io.WriteString(w, `{"access_token":"fresh","refresh_token":"rt-1","token_type":"Bearer"}`)
		case "refresh_token":
			f.refreshes.Add(1)
			if f.rejectRefresh.Load() {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error":"invalid_grant"}`)
				return
			}
			io.WriteString(w, `{"access_token":"fresh","token_type":"Bearer"}`)
		}
	})
	mux.HandleFunc("GET /users/profile", bearerOnly(reply(`{"user":"alice","displayName":"Alice","email":"alice@example.com","locale":"en"}`)))
	mux.HandleFunc("GET /users/id/{id}/min", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "bob" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		reply(`{"user":"bob","displayName":"Bob"}`)(w, r)
	})
	mux.HandleFunc("GET /like/info/liked/list", bearerOnly(reply(`["bob","carol"]`)))
	mux.HandleFunc("POST /like/info/users/latest", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Users []string `json:"users"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"users": body.Users, "limit": r.URL.Query().Get("limit")})
	})
	mux.HandleFunc("GET /like/suggest/all", reply(`{"list":[]}`))
	mux.HandleFunc("POST /api/civic/trial/events/{id}/join", bearerOnly(reply(`{"joined":true}`)))

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

type env struct {
	upstream *fakeLikeCo
	users    *store.UserStore
	sessions *store.SessionStore
	auth     *AuthHandler
	proxy    *ProxyHandler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sealer, err := secret.NewSealer("handler-test")
	require.NoError(t, err)

	up := newFakeLikeCo(t)
	client := likeco.NewClient(likeco.Config{
		APIBaseURL:   up.server.URL,
		SiteBaseURL:  up.server.URL,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://liker.land/oauth/redirect",
		Timeout:      5 * time.Second,
	}, nil)

	users := store.NewUserStore(db, sealer)
	sessions := store.NewSessionStore(db, time.Hour)
	cookies := auth.Cookies{TTL: time.Hour}
	authz := likeco.NewAuthorizer(client, users, sessions, discardLogger(), nil)

	return &env{
		upstream: up,
		users:    users,
		sessions: sessions,
		auth:     NewAuthHandler(client, users, sessions, cookies, discardLogger()),
		proxy:    NewProxyHandler(client, authz, cookies, discardLogger()),
	}
}

// signIn stores alice with a refresh token and returns a session holding
// accessToken.
func (e *env) signIn(t *testing.T, accessToken string) *model.Session {
	t.Helper()
	_, err := e.users.Upsert(model.User{ID: "alice", Email: "alice@example.com", DisplayName: "Alice"})
	require.NoError(t, err)
	require.NoError(t, e.users.SetRefreshToken("alice", "rt-1"))
	sess, err := e.sessions.Create("alice", accessToken)
	require.NoError(t, err)
	return sess
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginFlow(t *testing.T) {
	e := newEnv(t)

	rec := httptest.NewRecorder()
	e.auth.LoginURL(rec, httptest.NewRequest("GET", "/api/users/login/url?from=civic&register=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	consent, err := url.Parse(body["url"])
	require.NoError(t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(t, state)
	require.Equal(t, "civic", consent.Query().Get("from"))
	require.Equal(t, "1", consent.Query().Get("register"))

	stateCookie := cookieNamed(rec, auth.StateCookieName)
	require.NotNil(t, stateCookie)
	require.Equal(t, state, stateCookie.Value)

	req := httptest.NewRequest("POST", "/api/users/login", strings.NewReader(`{"authCode":"good-code","state":"`+state+`"}`))
	req.AddCookie(stateCookie)
	req = withSession(req, &model.Session{})
	rec = httptest.NewRecorder()
	e.auth.Login(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var user model.User
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&user))
	require.Equal(t, "alice", user.ID)
	require.Equal(t, "Alice", user.DisplayName)

	sessCookie := cookieNamed(rec, auth.SessionCookieName)
	require.NotNil(t, sessCookie)
	sess, err := e.sessions.GetByToken(sessCookie.Value)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, "fresh", sess.AccessToken)

	rt, err := e.users.RefreshToken("alice")
	require.NoError(t, err)
	require.Equal(t, "rt-1", rt)
}

func TestLoginRejectsStateMismatch(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest("POST", "/api/users/login", strings.NewReader(`{"authCode":"good-code","state":"forged"}`))
	req.AddCookie(&http.Cookie{Name: auth.StateCookieName, Value: "expected"})
	rec := httptest.NewRecorder()
	e.auth.Login(rec, withSession(req, &model.Session{}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, cookieNamed(rec, auth.SessionCookieName))
}

func TestLoginRejectedCode(t *testing.T) {
	e := newEnv(t)

	req := httptest.NewRequest("POST", "/api/users/login", strings.NewReader(`{"authCode":"bad-code","state":"s"}`))
	req.AddCookie(&http.Cookie{Name: auth.StateCookieName, Value: "s"})
	rec := httptest.NewRecorder()
	e.auth.Login(rec, withSession(req, &model.Session{}))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	sess := e.signIn(t, "fresh")
	token := sess.Token

	rec := httptest.NewRecorder()
	e.auth.Logout(rec, withSession(httptest.NewRequest("POST", "/api/users/logout", nil), sess))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, sess.Active())
	c := cookieNamed(rec, auth.SessionCookieName)
	require.NotNil(t, c)
	require.Negative(t, c.MaxAge)

	stored, err := e.sessions.GetByToken(token)
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestSelfRefreshesExpiredToken(t *testing.T) {
	e := newEnv(t)
	sess := e.signIn(t, "stale")
	token := sess.Token

	rec := httptest.NewRecorder()
	e.proxy.Self(rec, withSession(httptest.NewRequest("GET", "/api/users/self", nil), sess))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"user":"alice","displayName":"Alice","email":"alice@example.com","locale":"en"}`, rec.Body.String())
	require.EqualValues(t, 1, e.upstream.refreshes.Load())

	stored, err := e.sessions.GetByToken(token)
	require.NoError(t, err)
	require.Equal(t, "fresh", stored.AccessToken)
}

func TestSelfRefreshRejectedEndsSession(t *testing.T) {
	e := newEnv(t)
	e.upstream.rejectRefresh.Store(true)
	sess := e.signIn(t, "stale")
	token := sess.Token

	rec := httptest.NewRecorder()
	e.proxy.Self(rec, withSession(httptest.NewRequest("GET", "/api/users/self", nil), sess))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	c := cookieNamed(rec, auth.SessionCookieName)
	require.NotNil(t, c)
	require.Negative(t, c.MaxAge)

	stored, err := e.sessions.GetByToken(token)
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestSelfWithoutSession(t *testing.T) {
	e := newEnv(t)

	rec := httptest.NewRecorder()
	e.proxy.Self(rec, withSession(httptest.NewRequest("GET", "/api/users/self", nil), &model.Session{}))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, rec.Body.Len())
}

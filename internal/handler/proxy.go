package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/likerland/api/internal/apperr"
	"github.com/likerland/api/internal/auth"
	"github.com/likerland/api/internal/likeco"
)

// ProxyHandler relays LikeCoin API reads, refreshing the caller's access
// token where the call is authenticated.
type ProxyHandler struct {
	client *likeco.Client
	authz  *likeco.Authorizer
	responder
}

func NewProxyHandler(c *likeco.Client, authz *likeco.Authorizer, cookies auth.Cookies, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		client:    c,
		authz:     authz,
		responder: responder{logger: logger, cookies: cookies},
	}
}

func (h *ProxyHandler) relay(w http.ResponseWriter, r *http.Request, raw json.RawMessage, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeRaw(w, raw)
}

func parsePage(r *http.Request) (likeco.Page, error) {
	q := r.URL.Query()
	var p likeco.Page
	var err error
	if v := q.Get("limit"); v != "" {
		if p.Limit, err = strconv.Atoi(v); err != nil || p.Limit < 0 {
			return p, apperr.Wrapf(apperr.ErrInvalidRequest, "bad limit %q", v)
		}
	}
	if v := q.Get("after"); v != "" {
		if p.After, err = strconv.ParseInt(v, 10, 64); err != nil {
			return p, apperr.Wrapf(apperr.ErrInvalidRequest, "bad after %q", v)
		}
	}
	if v := q.Get("before"); v != "" {
		if p.Before, err = strconv.ParseInt(v, 10, 64); err != nil {
			return p, apperr.Wrapf(apperr.ErrInvalidRequest, "bad before %q", v)
		}
	}
	return p, nil
}

func (h *ProxyHandler) Self(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFrom(r.Context())
	raw, err := h.authz.UserProfile(r.Context(), sess)
	h.relay(w, r, raw, err)
}

func (h *ProxyHandler) PublicProfile(w http.ResponseWriter, r *http.Request) {
	raw, err := h.client.FetchUserPublicProfile(r.Context(), chi.URLParam(r, "id"))
	h.relay(w, r, raw, err)
}

func (h *ProxyHandler) UserArticles(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	raw, err := h.client.FetchUserArticles(r.Context(), chi.URLParam(r, "id"), page)
	h.relay(w, r, raw, err)
}

func (h *ProxyHandler) Liked(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFrom(r.Context())
	raw, err := h.authz.LikedUsers(r.Context(), sess)
	h.relay(w, r, raw, err)
}

func (h *ProxyHandler) Followed(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sess, _ := auth.SessionFrom(r.Context())
	raw, err := h.authz.FollowedArticles(r.Context(), sess, page)
	h.relay(w, r, raw, err)
}

func (h *ProxyHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	raw, err := h.client.FetchSuggestedArticles(r.Context())
	h.relay(w, r, raw, err)
}

func (h *ProxyHandler) ArticleDetail(w http.ResponseWriter, r *http.Request) {
	articleURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if articleURL == "" {
		h.fail(w, r, apperr.Wrapf(apperr.ErrInvalidRequest, "url is required"))
		return
	}
	raw, err := h.client.FetchArticleDetail(r.Context(), articleURL)
	h.relay(w, r, raw, err)
}

func (h *ProxyHandler) ArticleInfo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		h.fail(w, r, apperr.Wrapf(apperr.ErrInvalidRequest, "url is required"))
		return
	}
	sess, _ := auth.SessionFrom(r.Context())
	raw, err := h.authz.ArticleInfo(r.Context(), sess, req.URL)
	h.relay(w, r, raw, err)
}

func (h *ProxyHandler) CSOnline(w http.ResponseWriter, r *http.Request) {
	raw, err := h.client.FetchCivicCSOnline(r.Context())
	h.relay(w, r, raw, err)
}

func (h *ProxyHandler) TrialEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := h.client.FetchTrialEvent(r.Context(), chi.URLParam(r, "id"))
	h.relay(w, r, raw, err)
}

func (h *ProxyHandler) JoinTrialEvent(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFrom(r.Context())
	raw, err := h.authz.JoinTrialEvent(r.Context(), sess, chi.URLParam(r, "id"))
	h.relay(w, r, raw, err)
}

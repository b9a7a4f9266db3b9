package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/likerland/api/internal/apperr"
	"github.com/likerland/api/internal/auth"
	"github.com/likerland/api/internal/billing"
	"github.com/likerland/api/internal/model"
)

// Subscriptions is the billing service as seen by the payment routes.
type Subscriptions interface {
	Subscribe(ctx context.Context, sess *model.Session, req billing.SubscribeRequest) (string, error)
	Cancel(ctx context.Context, sess *model.Session) (string, error)
	Status(ctx context.Context, sess *model.Session) (string, error)
}

type PaymentHandler struct {
	subs Subscriptions
	responder
}

func NewPaymentHandler(subs Subscriptions, cookies auth.Cookies, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{subs: subs, responder: responder{logger: logger, cookies: cookies}}
}

type subscribeRequest struct {
	From     string `json:"from"`
	Referrer string `json:"referrer"`
	Token    string `json:"token"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFrom(r.Context())
	status, err := h.subs.Status(r.Context(), sess)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

func (h *PaymentHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFrom(r.Context())
	if !ok || !sess.Active() {
		h.fail(w, r, apperr.ErrForbidden)
		return
	}

	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		h.fail(w, r, apperr.Wrapf(apperr.ErrInvalidRequest, "token is required"))
		return
	}

	status, err := h.subs.Subscribe(r.Context(), sess, billing.SubscribeRequest{
		Token:    req.Token,
		From:     req.From,
		Referrer: req.Referrer,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.SessionFrom(r.Context())
	status, err := h.subs.Cancel(r.Context(), sess)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: status})
}

package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/likerland/api/internal/billing"
)

// EventVerifier checks a webhook signature and decodes the event.
type EventVerifier interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (billing.SubscriptionEvent, error)
}

// EventApplier records a verified event.
type EventApplier interface {
	ApplyEvent(ev billing.SubscriptionEvent) error
}

type WebhookHandler struct {
	verifier EventVerifier
	applier  EventApplier
	logger   *slog.Logger
}

func NewWebhookHandler(v EventVerifier, a EventApplier, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: v, applier: a, logger: logger}
}

func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook rejected", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	// A failure here is answered with 500 so that Stripe redelivers.
	if err := h.applier.ApplyEvent(event); err != nil {
		h.logger.Error("webhook apply", "event", event.ID, "type", event.Type, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

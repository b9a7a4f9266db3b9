package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/likerland/api/internal/billing"
)

type fakeVerifier struct {
	event billing.SubscriptionEvent
	err   error
	sig   string
}

func (f *fakeVerifier) ConstructWebhookEvent(payload []byte, sig string) (billing.SubscriptionEvent, error) {
	f.sig = sig
	return f.event, f.err
}

type fakeApplier struct {
	applied []billing.SubscriptionEvent
	err     error
}

func (f *fakeApplier) ApplyEvent(ev billing.SubscriptionEvent) error {
	f.applied = append(f.applied, ev)
	return f.err
}

func postWebhook(h *WebhookHandler) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/civic/payment/stripe/webhook", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	h.HandleStripeWebhook(rec, req)
	return rec
}

func TestWebhookApplies(t *testing.T) {
	ev := billing.SubscriptionEvent{ID: "evt_1", Type: billing.EventSubscriptionUpdated}
	v := &fakeVerifier{event: ev}
	a := &fakeApplier{}

	rec := postWebhook(NewWebhookHandler(v, a, discardLogger()))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "t=1,v1=abc", v.sig)
	require.Equal(t, []billing.SubscriptionEvent{ev}, a.applied)
}

func TestWebhookBadSignature(t *testing.T) {
	a := &fakeApplier{}
	rec := postWebhook(NewWebhookHandler(&fakeVerifier{err: errors.New("bad sig")}, a, discardLogger()))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, a.applied)
}

func TestWebhookApplyFailureAsksForRedelivery(t *testing.T) {
	a := &fakeApplier{err: errors.New("db locked")}
	rec := postWebhook(NewWebhookHandler(&fakeVerifier{}, a, discardLogger()))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

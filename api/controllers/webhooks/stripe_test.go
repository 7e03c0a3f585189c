package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
)

const testSecret = "whsec_drive_test"

type recordingService struct {
	handled []stripe.EventType
	err     error
}

func (s *recordingService) HandleEvent(_ context.Context, event *stripe.Event) error {
	s.handled = append(s.handled, event.Type)
	return s.err
}

type staticSecret string

func (s staticSecret) SigningSecret() string { return string(s) }

type memoryClaims struct {
	claimed  map[string]bool
	released []string
}

func newMemoryClaims() *memoryClaims { return &memoryClaims{claimed: map[string]bool{}} }

func (m *memoryClaims) Claim(_ context.Context, id string) (bool, error) {
	if m.claimed[id] {
		return false, nil
	}
	m.claimed[id] = true
	return true, nil
}

func (m *memoryClaims) Release(_ context.Context, id string) error {
	delete(m.claimed, id)
	m.released = append(m.released, id)
	return nil
}

// signedIntentEvent builds a payment_intent.succeeded payload and a valid
// Stripe-Signature header for it.
func signedIntentEvent(t *testing.T, eventType stripe.EventType) ([]byte, string) {
	t.Helper()
	intent, err := json.Marshal(map[string]any{
		"id":       "pi_" + uuid.NewString(),
		"object":   "payment_intent",
		"status":   "succeeded",
		"amount":   1860,
		"currency": "eur",
		"metadata": map[string]string{"order_id": uuid.NewString()},
	})
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_" + uuid.NewString(),
		"object":      "event",
		"type":        string(eventType),
		"api_version": stripe.APIVersion,
		"data":        map[string]json.RawMessage{"object": intent},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func post(h http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookHandlesEventOnce(t *testing.T) {
	svc := &recordingService{}
	h := StripeWebhook(svc, staticSecret(testSecret), newMemoryClaims(), nil)
	payload, sig := signedIntentEvent(t, stripe.EventTypePaymentIntentSucceeded)

	first := post(h, payload, sig)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())

	again := post(h, payload, sig)
	assert.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, []stripe.EventType{stripe.EventTypePaymentIntentSucceeded}, svc.handled)
}

func TestStripeWebhookRejectsBadSignatures(t *testing.T) {
	svc := &recordingService{}
	h := StripeWebhook(svc, staticSecret(testSecret), newMemoryClaims(), nil)
	payload, _ := signedIntentEvent(t, stripe.EventTypePaymentIntentSucceeded)

	assert.Equal(t, http.StatusBadRequest, post(h, payload, "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(h, payload, "t=1,v1=deadbeef").Code)

	other := StripeWebhook(svc, staticSecret("whsec_other"), newMemoryClaims(), nil)
	_, sig := signedIntentEvent(t, stripe.EventTypePaymentIntentSucceeded)
	assert.Equal(t, http.StatusUnauthorized, post(other, payload, sig).Code)
	assert.Empty(t, svc.handled)
}

func TestStripeWebhookReleasesClaimOnFailure(t *testing.T) {
	svc := &recordingService{err: pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")}
	claims := newMemoryClaims()
	h := StripeWebhook(svc, staticSecret(testSecret), claims, nil)
	payload, sig := signedIntentEvent(t, stripe.EventTypePaymentIntentPaymentFailed)

	rec := post(h, payload, sig)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Len(t, claims.released, 1)

	svc.err = nil
	rec = post(h, payload, sig)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, svc.handled, 2)
}

func TestStripeWebhookRejectsOversizedBody(t *testing.T) {
	h := StripeWebhook(&recordingService{}, staticSecret(testSecret), newMemoryClaims(), nil)
	big := []byte(`{"id":"evt_1","pad":"` + strings.Repeat("x", maxEventBytes) + `"}`)
	assert.Equal(t, http.StatusBadRequest, post(h, big, "t=1,v1=abc").Code)
}

func TestStripeWebhookUnconfigured(t *testing.T) {
	h := StripeWebhook(nil, staticSecret(testSecret), newMemoryClaims(), nil)
	payload, sig := signedIntentEvent(t, stripe.EventTypePaymentIntentSucceeded)
	assert.Equal(t, http.StatusInternalServerError, post(h, payload, sig).Code)
}

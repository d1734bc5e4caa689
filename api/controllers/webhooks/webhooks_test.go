package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	internalwebhooks "github.com/mercato/mercato-backend/internal/webhooks"
	squarewebhook "github.com/mercato/mercato-backend/internal/webhooks/square"
	"github.com/mercato/mercato-backend/pkg/logger"
	pkgsquare "github.com/mercato/mercato-backend/pkg/square"
)

const stripeSecret = "whsec_test"

type fakeStripeService struct {
	calls int
	err   error
}

func (f *fakeStripeService) HandleEvent(context.Context, *stripe.Event) (bool, error) {
	f.calls++
	return f.err == nil, f.err
}

type secretVerifier struct{ secret string }

func (v secretVerifier) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signature, v.secret)
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingMetrics) IncWebhook(provider, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[provider+":"+outcome]++
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string]string{}}
}

func (s *memoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *memoryStore) IdempotencyKey(scope, id string) string {
	return "mercato:idempotency:" + scope + ":" + id
}

func (s *memoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func newGuard(t *testing.T) *internalwebhooks.Guard {
	t.Helper()
	guard, err := internalwebhooks.NewGuard(newMemoryStore(), time.Hour)
	require.NoError(t, err)
	return guard
}

func signedStripeEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(stripe.PaymentIntent{ID: "pi_" + uuid.NewString(), AmountReceived: 1200})
	require.NoError(t, err)
	payload, err := json.Marshal(&stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypePaymentIntentSucceeded,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: raw},
	})
	require.NoError(t, err)

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(stripeSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return payload, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postStripe(handler http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookProcessesOnce(t *testing.T) {
	svc := &fakeStripeService{}
	m := &countingMetrics{}
	handler := StripeWebhook(svc, secretVerifier{secret: stripeSecret}, newGuard(t), m, logger.Nop())
	payload, sig := signedStripeEvent(t)

	rec := postStripe(handler, payload, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = postStripe(handler, payload, sig)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 1, svc.calls)
	assert.Equal(t, 1, m.outcomes["stripe:guarded"])
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakeStripeService{}
	m := &countingMetrics{}
	handler := StripeWebhook(svc, secretVerifier{secret: stripeSecret}, newGuard(t), m, logger.Nop())
	payload, _ := signedStripeEvent(t)

	assert.Equal(t, http.StatusUnauthorized, postStripe(handler, payload, "t=1,v1=bogus").Code)
	assert.Equal(t, http.StatusUnauthorized, postStripe(handler, payload, "").Code)
	assert.Zero(t, svc.calls)
	assert.Equal(t, 2, m.outcomes["stripe:rejected"])
}

func TestStripeWebhookReleasesClaimOnFailure(t *testing.T) {
	svc := &fakeStripeService{err: errors.New("db down")}
	handler := StripeWebhook(svc, secretVerifier{secret: stripeSecret}, newGuard(t), nil, logger.Nop())
	payload, sig := signedStripeEvent(t)

	assert.Equal(t, http.StatusInternalServerError, postStripe(handler, payload, sig).Code)

	svc.err = nil
	assert.Equal(t, http.StatusOK, postStripe(handler, payload, sig).Code)
	assert.Equal(t, 2, svc.calls)
}

type fakeSquareService struct {
	events []*squarewebhook.SquareWebhookEvent
}

func (f *fakeSquareService) HandleEvent(_ context.Context, event *squarewebhook.SquareWebhookEvent, _ []byte) (bool, error) {
	f.events = append(f.events, event)
	return true, nil
}

type squareKey struct {
	key string
	url string
}

func (s squareKey) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(s.key))
	mac.Write([]byte(s.url))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (s squareKey) VerifySignature(payload []byte, signature string) bool {
	return hmac.Equal([]byte(s.sign(payload)), []byte(signature))
}

func TestSquareWebhook(t *testing.T) {
	svc := &fakeSquareService{}
	key := squareKey{key: "sq-key", url: "https://api.example.test/webhooks/square"}
	handler := SquareWebhook(svc, key, newGuard(t), nil, logger.Nop())
	payload := []byte(`{"event_id":"sq_evt_9","type":"payment.updated","data":{"type":"payment","id":"pay_1","object":{"payment":{"id":"pay_1","status":"COMPLETED"}}}}`)

	post := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/square", bytes.NewReader(payload))
		req.Header.Set(pkgsquare.SignatureHeader, sig)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, post("nope"))
	assert.Equal(t, http.StatusOK, post(key.sign(payload)))
	assert.Equal(t, http.StatusOK, post(key.sign(payload)))
	require.Len(t, svc.events, 1)
	assert.Equal(t, "sq_evt_9", svc.events[0].EventID)
}

package square

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
)

func apiError(status int, body string) error {
	return sqcore.NewAPIError(status, errors.New(body))
}

func TestNormalizeEnv(t *testing.T) {
	env, err := normalizeEnv("")
	require.NoError(t, err)
	assert.Equal(t, sandboxEnv, env)

	env, err = normalizeEnv(" Production ")
	require.NoError(t, err)
	assert.Equal(t, productionEnv, env)

	_, err = normalizeEnv("staging")
	assert.ErrorIs(t, err, errInvalidSquareEnv)
}

func TestEnsureIdempotencyKeyKeepsCallerKey(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "payout-1", c.ensureIdempotencyKey("refund.create", "payout-1"))

	generated := c.ensureIdempotencyKey("refund.create", "  ")
	assert.True(t, strings.HasPrefix(generated, "refund.create-"), generated)
	assert.NotEqual(t, generated, c.ensureIdempotencyKey("refund.create", ""))
}

func TestRedactHidesCardData(t *testing.T) {
	for _, key := range []string{"source_id", "card_nonce", "verification_token"} {
		assert.Equal(t, "[REDACTED]", redact(key, "cnon:abc"), key)
	}
	assert.Equal(t, int64(1200), redact("amount", int64(1200)))
}

func TestMapSquareError(t *testing.T) {
	c := &Client{}
	cases := map[string]struct {
		err  error
		want pkgerrors.Code
	}{
		"card declined": {
			err:  apiError(http.StatusBadRequest, `{"errors":[{"category":"PAYMENT_METHOD_ERROR","code":"CARD_DECLINED"}]}`),
			want: pkgerrors.CodePaymentDeclined,
		},
		"key reused": {
			err:  apiError(http.StatusConflict, `{"errors":[{"category":"API_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`),
			want: pkgerrors.CodeIdempotency,
		},
		"payment not found": {
			err:  apiError(http.StatusNotFound, `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"NOT_FOUND"}]}`),
			want: pkgerrors.CodeNotFound,
		},
		"rate limited": {
			err:  apiError(http.StatusTooManyRequests, `{"errors":[{"category":"RATE_LIMIT_ERROR","code":"RATE_LIMITED"}]}`),
			want: pkgerrors.CodeDependency,
		},
		"bad credentials": {
			err:  apiError(http.StatusUnauthorized, `not json`),
			want: pkgerrors.CodeDependency,
		},
		"already completed": {
			err:  apiError(http.StatusUnprocessableEntity, `{}`),
			want: pkgerrors.CodeStateConflict,
		},
		"transport": {
			err:  errors.New("dial tcp: i/o timeout"),
			want: pkgerrors.CodeDependency,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			mapped := c.mapSquareError(tc.err, "complete payment")
			assert.Equal(t, tc.want, pkgerrors.CodeOf(mapped))
			assert.ErrorIs(t, mapped, tc.err)
		})
	}
	assert.NoError(t, c.mapSquareError(nil, "noop"))
}

func TestExtractSquareErrorsIgnoresGarbage(t *testing.T) {
	got := extractSquareErrors(sqcore.NewAPIError(http.StatusBadRequest, errors.New(`{"errors":[{"category":"API_ERROR","code":"BAD_REQUEST","detail":"oops"}]}`)))
	require.Len(t, got, 1)
	assert.Equal(t, sq.ErrorCodeBadRequest, got[0].GetCode())

	assert.Empty(t, extractSquareErrors(sqcore.NewAPIError(http.StatusBadGateway, errors.New("<html>"))))
	assert.Empty(t, extractSquareErrors(nil))
}

func TestPaymentCreateParamsAuthorizesOnly(t *testing.T) {
	req := PaymentCreateParams{AmountCents: 1500, Currency: "usd", SourceID: "cnon:ok", LocationID: "L1"}.toSquareRequest("key-1")
	require.NotNil(t, req.Autocomplete)
	assert.False(t, *req.Autocomplete, "capture happens on fulfillment")
	require.NotNil(t, req.AmountMoney)
	assert.Equal(t, int64(1500), *req.AmountMoney.Amount)
	assert.Equal(t, sq.Currency("USD"), *req.AmountMoney.Currency)
	assert.Equal(t, "key-1", req.IdempotencyKey)
}

func TestRefundParamsRequest(t *testing.T) {
	req := RefundParams{PaymentID: "pay_1", AmountCents: 700, Currency: "", Reason: "  damaged  "}.toSquareRequest("refund-1")
	assert.Equal(t, "pay_1", *req.PaymentID)
	assert.Equal(t, sq.Currency("USD"), *req.AmountMoney.Currency)
	assert.Equal(t, "damaged", *req.Reason)

	req = RefundParams{PaymentID: "pay_1", AmountCents: 700}.toSquareRequest("refund-2")
	assert.Nil(t, req.Reason)
}

func TestPaymentAccessorsTolerateNil(t *testing.T) {
	assert.Empty(t, PaymentID(nil))
	assert.Empty(t, PaymentStatus(nil))
	assert.Zero(t, PaymentAmount(nil))
	assert.Empty(t, RefundID(nil))
	assert.Empty(t, RefundStatus(nil))
	assert.Empty(t, RefundPaymentID(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event_id":"e1"}`)
	url := "https://api.mercato.test/webhooks/square"
	mac := hmac.New(sha256.New, []byte("sig-key"))
	mac.Write([]byte(url))
	mac.Write(body)
	good := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	c := &Client{signatureKey: "sig-key", webhookURL: url}
	assert.True(t, c.VerifySignature(body, good))
	assert.False(t, c.VerifySignature(body, "bogus"))
	assert.False(t, c.VerifySignature([]byte(`{"event_id":"e2"}`), good), "tampered body")
	assert.False(t, (&Client{webhookURL: url}).VerifySignature(body, good), "missing key")
}

package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
)

type creditNoteBody struct {
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	Reason      string `json:"reason" validate:"required,max=200"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":0}`))
	var body creditNoteBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details := typed.Details().(map[string]string)
	assert.Equal(t, "must be greater than 0", details["amount_cents"])
	assert.Equal(t, "is required", details["reason"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":5,"reason":"x","extra":1}`))
	var body creditNoteBody
	err := DecodeJSONBody(req, &body)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

type orderBody struct {
	Currency string     `json:"currency" validate:"omitempty,currency"`
	Provider string     `json:"provider" validate:"omitempty,provider"`
	RateBps  int        `json:"rate_bps" validate:"bps"`
	Items    []lineBody `json:"items" validate:"required,min=1,dive"`
}

type lineBody struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

func TestDecodeJSONBodyDomainTags(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"currency":"U1D","provider":"paypal","rate_bps":10001,"items":[{"quantity":0}]}`))
	var body orderBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	details := pkgerrors.As(err).Details().(map[string]string)
	assert.Equal(t, "must be a three-letter currency code", details["currency"])
	assert.Equal(t, "must be a supported payment provider", details["provider"])
	assert.Equal(t, "must be between 0 and 10000 basis points", details["rate_bps"])
	assert.Equal(t, "must be greater than 0", details["items[0].quantity"])

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"currency":"usd","provider":"Stripe","rate_bps":250,"items":[{"quantity":2}]}`))
	require.NoError(t, DecodeJSONBody(req, &body))
}

func TestDecodeJSONBodyRejectsTrailingAndEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":5,"reason":"x"}{"amount_cents":6}`))
	var body creditNoteBody
	assert.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount_cents":5,"reason":"x"}`+"\n"))
	assert.NoError(t, DecodeJSONBody(req, &body))
}

func TestParsePage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=10&cursor=abc", nil)
	params, err := ParsePage(req)
	require.NoError(t, err)
	assert.Equal(t, 10, params.Limit)
	assert.Equal(t, "abc", params.Cursor)

	_, err = ParsePage(httptest.NewRequest(http.MethodGet, "/?limit=1000", nil))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	rc := chi.NewRouteContext()
	rc.URLParams.Add("orderId", id.String())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	got, err := ParseUUIDParam(req, "orderId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUIDParam(req, "missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryTime(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?from=2026-03-01&to=2026-04-01T00:00:00Z&bad=yesterday", nil)
	from, err := ParseQueryTime(req, "from")
	require.NoError(t, err)
	assert.Equal(t, 3, int(from.Month()))
	to, err := ParseQueryTime(req, "to")
	require.NoError(t, err)
	assert.Equal(t, 4, int(to.Month()))
	_, err = ParseQueryTime(req, "bad")
	assert.Error(t, err)
	none, err := ParseQueryTime(req, "absent")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "late delivery", SanitizeString("  late\ndelivery\x00 ", 0))
	assert.Equal(t, "héllo", SanitizeString("héllo wörld", 5))
	assert.Equal(t, "", SanitizeString("\t\r\n", 10))
}

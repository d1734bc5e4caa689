package stripe

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/mercato/mercato-backend/pkg/config"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
)

func TestNewClientValidatesKeys(t *testing.T) {
	_, err := NewClient(context.Background(), config.StripeConfig{WebhookSecret: "whsec"}, nil)
	assert.ErrorIs(t, err, errAPIKeyRequired)

	_, err = NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_1"}, nil)
	assert.ErrorIs(t, err, errSecretRequired)

	_, err = NewClient(context.Background(), config.StripeConfig{APIKey: "sk_live_1", WebhookSecret: "whsec", Env: "test"}, nil)
	assert.Error(t, err)

	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "sk_test_1", WebhookSecret: "whsec"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "test", client.Environment())
	assert.Equal(t, "whsec", client.SigningSecret())
}

func TestNormalizeEnv(t *testing.T) {
	env, err := normalizeEnv(" LIVE ")
	require.NoError(t, err)
	assert.Equal(t, "live", env)

	_, err = normalizeEnv("staging")
	assert.ErrorIs(t, err, errInvalidStripeEnv)
}

func TestMapError(t *testing.T) {
	declined := mapError(&stripe.Error{Type: stripe.ErrorTypeCard, Code: stripe.ErrorCodeCardDeclined}, "authorize payment")
	assert.True(t, pkgerrors.IsCode(declined, pkgerrors.CodePaymentDeclined))

	missing := mapError(&stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusNotFound}, "get payment")
	assert.True(t, pkgerrors.IsCode(missing, pkgerrors.CodeNotFound))

	network := mapError(errors.New("dial tcp: timeout"), "capture payment")
	assert.True(t, pkgerrors.IsCode(network, pkgerrors.CodeDependency))
}

func TestConstructEventRejectsBadSignature(t *testing.T) {
	client := &Client{signingSecret: "whsec_test"}
	_, err := client.ConstructEvent([]byte(`{"id":"evt_1"}`), "t=1,v1=deadbeef")
	assert.Error(t, err)
}

func TestNewClientAcceptsRestrictedKeys(t *testing.T) {
	client, err := NewClient(context.Background(), config.StripeConfig{APIKey: "rk_live_1", WebhookSecret: "whsec", Env: "live"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "live", client.Environment())
	assert.NotNil(t, client.intents)
	assert.Equal(t, "rk_live_1", client.intents.Key)
}

func TestConstructEventRejectsStaleTimestamp(t *testing.T) {
	client := &Client{signingSecret: "whsec_test"}
	payload := []byte(`{"id":"evt_1","object":"event","api_version":"` + stripe.APIVersion + `"}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now().Add(-time.Hour),
	})
	_, err := client.ConstructEvent(signed.Payload, signed.Header)
	assert.ErrorIs(t, err, webhook.ErrTooOld)

	fresh := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})
	event, err := client.ConstructEvent(fresh.Payload, fresh.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
}

package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/mercato/mercato-backend/pkg/config"
	"github.com/mercato/mercato-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	maxNetworkRetries = 2
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client talks to Stripe with its own key and backend, so tests and multiple
// accounts never race on the package-level stripe.Key.
type Client struct {
	environment   string
	signingSecret string
	tolerance     time.Duration

	intents   *paymentintent.Client
	refunds   *refund.Client
	transfers *transfer.Client
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(maxNetworkRetries),
	})
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	}
	return &Client{
		environment:   env,
		signingSecret: signingSecret,
		tolerance:     tolerance,
		intents:       &paymentintent.Client{B: backend, Key: apiKey},
		refunds:       &refund.Client{B: backend, Key: apiKey},
		transfers:     &transfer.Client{B: backend, Key: apiKey},
	}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// ConstructEvent checks the Stripe-Signature header against the signing
// secret and the replay tolerance, then decodes the event.
func (c *Client) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	tolerance := c.tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return webhook.ConstructEventWithTolerance(payload, signature, c.SigningSecret(), tolerance)
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

// validateAPIKey refuses live keys in test mode and the reverse. Restricted
// keys (rk_) are accepted.
func validateAPIKey(env, key string) error {
	prefixes := map[string][]string{
		testEnv: {"sk_test", "rk_test"},
		liveEnv: {"sk_live", "rk_live"},
	}[env]
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return nil
		}
	}
	return fmt.Errorf("stripe environment %q requires a %s secret key", env, env)
}

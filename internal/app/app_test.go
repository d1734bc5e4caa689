package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato-backend/internal/testkit"
	"github.com/mercato/mercato-backend/pkg/config"
	"github.com/mercato/mercato-backend/pkg/db/dbtest"
	"github.com/mercato/mercato-backend/pkg/logger"
)

func manualConfig() *config.Config {
	return &config.Config{
		Marketplace: testkit.Marketplace(),
		Payments: config.PaymentsConfig{
			DefaultProvider: "manual",
			EnableManual:    true,
			PayoutProvider:  "manual",
		},
	}
}

func TestNewWiresManualStack(t *testing.T) {
	client, _ := dbtest.Client(t)
	services, err := New(context.Background(), Params{Config: manualConfig(), Logger: logger.Nop(), DB: client})
	require.NoError(t, err)

	assert.NotNil(t, services.Checkout)
	assert.NotNil(t, services.Payments)
	assert.NotNil(t, services.Payouts)
	assert.NotNil(t, services.Invoices)
	assert.Nil(t, services.Stripe)
	assert.Nil(t, services.Square)
}

func TestNewRejectsStripePayoutsWithoutCredentials(t *testing.T) {
	client, _ := dbtest.Client(t)
	cfg := manualConfig()
	cfg.Payments.PayoutProvider = "stripe"

	_, err := New(context.Background(), Params{Config: cfg, Logger: logger.Nop(), DB: client})
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.EnvStripeAPIKey)
}

func TestNewRequiresAProvider(t *testing.T) {
	client, _ := dbtest.Client(t)
	cfg := manualConfig()
	cfg.Payments.EnableManual = false

	_, err := New(context.Background(), Params{Config: cfg, Logger: logger.Nop(), DB: client})
	require.Error(t, err)
}

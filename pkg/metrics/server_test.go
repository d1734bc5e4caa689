package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/mercato/mercato-backend/pkg/logger"
)

func TestServeDisabledWithoutAddr(t *testing.T) {
	assert.NotPanics(t, func() {
		Serve(context.Background(), "", prometheus.NewRegistry(), logger.Nop())
		Serve(context.Background(), ":0", nil, logger.Nop())
	})
}

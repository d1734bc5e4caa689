package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mercato/mercato-backend/pkg/config"
)

func TestResourceNames(t *testing.T) {
	assert.Equal(t, "projects/p1/topics/orders", topicResourceName("p1", " orders "))
	assert.Equal(t, "projects/p1/subscriptions/bq", subscriptionResourceName("p1", "bq"))
	assert.Equal(t, "projects/other/topics/x", topicResourceName("p1", "projects/other/topics/x"))
	assert.Empty(t, topicResourceName("", "orders"))
	assert.Empty(t, subscriptionResourceName("p1", "  "))
}

func TestTrimNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, trimNames([]string{" a ", "", "b"}))
}

func TestClientOptions(t *testing.T) {
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: `{"x":1}`, ApplicationCredentials: "/tmp/c"}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/c"}), 1)
	assert.Empty(t, clientOptions(config.GCPConfig{}))
}

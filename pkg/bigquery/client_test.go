package bigquery

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/mercato/mercato-backend/pkg/config"
)

func TestClientOptionsPrioritizesJSON(t *testing.T) {
	opts := clientOptions(config.GCPConfig{
		CredentialsJSON:        `{"dummy": "value"}`,
		ApplicationCredentials: "/tmp/creds",
	})
	assert.Len(t, opts, 1)
}

func TestClientOptionsEmpty(t *testing.T) {
	assert.Empty(t, clientOptions(config.GCPConfig{}))
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.BigQueryConfig{Dataset: "d", ComplianceTable: "t"}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{ComplianceTable: "t"}, nil)
	assert.ErrorIs(t, err, errDatasetRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{Dataset: "d"}, nil)
	assert.ErrorIs(t, err, errTableNameRequired)
}

func TestNilClientGuards(t *testing.T) {
	var c *Client
	assert.ErrorIs(t, c.Ping(context.Background()), errClientNotInitialized)
	assert.ErrorIs(t, c.InsertCompliance(context.Background(), []ComplianceRow{{LogID: "x"}}), errClientNotInitialized)
	assert.NoError(t, c.Close())
}

func TestComplianceRowSaverUsesLogID(t *testing.T) {
	row := ComplianceRow{LogID: "log-1", Action: "escrow.released", CreatedAt: time.Now()}
	saver := row.saver()
	assert.Equal(t, "log-1", saver.InsertID)
	require.NotEmpty(t, saver.Schema)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&googleapi.Error{Code: http.StatusNotFound}))
	assert.False(t, isNotFound(&googleapi.Error{Code: http.StatusForbidden}))
	assert.False(t, isNotFound(errors.New("boom")))
	assert.True(t, isConflict(&googleapi.Error{Code: http.StatusConflict}))
}

func TestComplianceTableMetadataPartitionsByCreatedAt(t *testing.T) {
	meta := complianceTableMetadata()
	require.NotNil(t, meta.TimePartitioning)
	assert.Equal(t, "created_at", meta.TimePartitioning.Field)
	assert.Equal(t, []string{"entity_type", "entity_id"}, meta.Clustering.Fields)

	var found bool
	for _, field := range meta.Schema {
		if field.Name == "created_at" {
			found = true
			assert.Equal(t, bigquery.TimestampFieldType, field.Type)
		}
	}
	assert.True(t, found, "schema must carry the partition column")
}

package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mercato/mercato-backend/pkg/config"
	"github.com/mercato/mercato-backend/pkg/logger"
)

const metadataCheckTimeout = 10 * time.Second

type Client struct {
	client          *bigquery.Client
	dataset         *bigquery.Dataset
	complianceTable string
}

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")

	// ErrTableMissing is returned by Ping when the dataset exists but the
	// compliance table does not.
	ErrTableMissing = errors.New("bigquery compliance table missing")
)

// NewClient creates a BigQuery client and verifies the dataset and compliance table exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	table := strings.TrimSpace(cfg.ComplianceTable)
	if table == "" {
		return nil, errTableNameRequired
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:          bqClient,
		dataset:         bqClient.Dataset(datasetID),
		complianceTable: table,
	}
	err = client.Ping(ctx)
	if errors.Is(err, ErrTableMissing) && cfg.CreateTable {
		err = client.createComplianceTable(ctx)
		if err == nil && logg != nil {
			logg.Info(logg.WithField(ctx, "table", table), "bigquery compliance table created")
		}
	}
	if err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"dataset": datasetID, "table": table}), "bigquery client initialized")
	}
	return client, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

// Ping verifies the dataset and compliance table are accessible.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}
	if _, err := c.dataset.Table(c.complianceTable).Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %q", ErrTableMissing, c.complianceTable)
		}
		return fmt.Errorf("checking table %q: %w", c.complianceTable, err)
	}
	return nil
}

// createComplianceTable creates the table partitioned by day on created_at
// and clustered for the per-entity audit lookups.
func (c *Client) createComplianceTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()
	err := c.dataset.Table(c.complianceTable).Create(ctx, complianceTableMetadata())
	if err != nil && !isConflict(err) {
		return fmt.Errorf("creating table %q: %w", c.complianceTable, err)
	}
	return nil
}

func complianceTableMetadata() *bigquery.TableMetadata {
	return &bigquery.TableMetadata{
		Description: "Append-only audit trail of marketplace state changes.",
		Schema:      complianceSchema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "created_at",
		},
		Clustering: &bigquery.Clustering{Fields: []string{"entity_type", "entity_id"}},
	}
}

// InsertCompliance streams rows into the compliance table. Row InsertIDs let
// BigQuery drop redelivered rows.
func (c *Client) InsertCompliance(ctx context.Context, rows []ComplianceRow) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	if len(rows) == 0 {
		return nil
	}
	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for i := range rows {
		savers = append(savers, rows[i].saver())
	}
	return c.dataset.Table(c.complianceTable).Inserter().Put(ctx, savers)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	return apiStatus(err) == http.StatusNotFound
}

// isConflict covers a concurrent replica creating the table first.
func isConflict(err error) bool {
	return apiStatus(err) == http.StatusConflict
}

func apiStatus(err error) int {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code
	}
	return 0
}

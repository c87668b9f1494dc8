// Package bigquery persists the audit trail and ledger journal in BigQuery.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	auditEntriesTable  = "audit_entries"
	ledgerCommitsTable = "ledger_commits"
)

// Client is a BigQuery client bound to one dataset.
type Client struct {
	bq      *bigquery.Client
	dataset string
}

// NewClient connects to BigQuery in projectID and uses datasetID for all tables.
func NewClient(ctx context.Context, projectID, datasetID string) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("NewClient: project ID is required")
	}
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating client: %w", err)
	}
	return &Client{bq: client, dataset: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (c *Client) Close() error {
	if c.bq != nil {
		return c.bq.Close()
	}
	return nil
}

func (c *Client) table(name string) *bigquery.Table {
	return c.bq.Dataset(c.dataset).Table(name)
}

// qualified returns the dataset-qualified table name for queries.
func (c *Client) qualified(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", c.bq.Project(), c.dataset, name)
}

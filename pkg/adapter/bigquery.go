package adapter

import (
	"context"
	"errors"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// BigQuery is the audit sink for finished runs
type BigQuery interface {
	// EnsureTable creates the audit table from model.AuditRecord if it is missing
	EnsureTable(ctx context.Context) error

	// Insert streams audit records into the table
	Insert(ctx context.Context, records ...*model.AuditRecord) error

	// Recent returns the latest records, newest first
	Recent(ctx context.Context, limit int) ([]*model.AuditRecord, error)
}

type bigqueryClient struct {
	client    *bigquery.Client
	datasetID string
	tableID   string
}

// BigQueryOption is a functional option for BigQuery client
type BigQueryOption func(*bigqueryClient)

// WithAuditTable overrides the default dataset and table
func WithAuditTable(datasetID, tableID string) BigQueryOption {
	return func(bq *bigqueryClient) {
		bq.datasetID = datasetID
		bq.tableID = tableID
	}
}

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string, opts ...BigQueryOption) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	bq := &bigqueryClient{
		client:    client,
		datasetID: "mathmentor",
		tableID:   "runs",
	}

	for _, opt := range opts {
		opt(bq)
	}

	return bq, nil
}

func (bq *bigqueryClient) table() *bigquery.Table {
	return bq.client.Dataset(bq.datasetID).Table(bq.tableID)
}

func (bq *bigqueryClient) EnsureTable(ctx context.Context) error {
	schema, err := bigquery.InferSchema(model.AuditRecord{})
	if err != nil {
		return goerr.Wrap(err, "failed to infer audit schema")
	}

	err = bq.table().Create(ctx, &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Field: "created_at",
		},
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return nil
		}
		return goerr.Wrap(err, "failed to create audit table",
			goerr.V("dataset", bq.datasetID), goerr.V("table", bq.tableID))
	}
	return nil
}

func (bq *bigqueryClient) Insert(ctx context.Context, records ...*model.AuditRecord) error {
	if err := bq.table().Inserter().Put(ctx, records); err != nil {
		return goerr.Wrap(err, "failed to insert audit records", goerr.V("count", len(records)))
	}
	return nil
}

func (bq *bigqueryClient) Recent(ctx context.Context, limit int) ([]*model.AuditRecord, error) {
	q := bq.client.Query("SELECT * FROM `" + bq.datasetID + "." + bq.tableID + "` ORDER BY created_at DESC LIMIT @limit")
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query audit records")
	}

	var results []*model.AuditRecord
	for {
		var rec model.AuditRecord
		err := it.Next(&rec)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate audit records")
		}
		results = append(results, &rec)
	}

	return results, nil
}

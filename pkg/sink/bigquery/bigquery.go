// Package bigquery streams statements into a BigQuery table.
package bigquery

import (
	"context"
	"errors"
	"net/http"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	loadererrors "github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
	"github.com/JervenBolleman/sesame-loader/pkg/sink/sqlstore"
)

func init() {
	sink.MustRegister(sink.Info{
		Name:        "bigquery",
		Description: "BigQuery table, streaming insert per commit",
		Options:     []string{"project", "dataset", "table", "location", "credentials_file"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}

// Schema is the layout of the statements table.
var Schema = bigquery.Schema{
	{Name: "subject", Type: bigquery.StringFieldType, Required: true},
	{Name: "predicate", Type: bigquery.StringFieldType, Required: true},
	{Name: "object", Type: bigquery.StringFieldType, Required: true},
	{Name: "graph", Type: bigquery.StringFieldType},
}

// Row is one statement in one graph. It implements bigquery.ValueSaver with
// the statement hash as insert id, so BigQuery drops retried duplicates.
type Row struct {
	Record *models.Record
	Graph  string
}

// Save implements bigquery.ValueSaver.
func (r Row) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"subject":   r.Record.Subject,
		"predicate": r.Record.Predicate,
		"object":    r.Record.Object,
		"graph":     r.Graph,
	}, sqlstore.QuadHash(r.Record, r.Graph), nil
}

// Sink inserts rows through one client.
type Sink struct {
	client   *bigquery.Client
	inserter *bigquery.Inserter
	logger   *zap.Logger
}

// New creates the client and the dataset and table when missing.
func New(ctx context.Context, cfg *config.SinkConfig) (*Sink, error) {
	project := cfg.Option("project", "")
	datasetID := cfg.Option("dataset", "")
	if project == "" || datasetID == "" {
		return nil, loadererrors.New(loadererrors.ErrorTypeConfig, "bigquery sink requires the project and dataset options")
	}
	tableID := cfg.Table
	if tableID == "" {
		tableID = sqlstore.DefaultTable
	}

	var opts []option.ClientOption
	if path := cfg.Option("credentials_file", ""); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}

	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, loadererrors.Wrap(err, loadererrors.ErrorTypeConnection, "failed to create BigQuery client")
	}

	dataset := client.Dataset(datasetID)
	table := dataset.Table(tableID)
	err = sink.Connect(ctx, cfg, func(ctx context.Context) error {
		return ensureTable(ctx, dataset, table, cfg.Option("location", ""))
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Sink{
		client:   client,
		inserter: table.Inserter(),
		logger: logger.Get().With(
			zap.String("component", "bigquery_sink"),
			zap.String("table", datasetID+"."+tableID)),
	}, nil
}

func ensureTable(ctx context.Context, dataset *bigquery.Dataset, table *bigquery.Table, location string) error {
	if _, err := dataset.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return err
		}
		if err := dataset.Create(ctx, &bigquery.DatasetMetadata{Location: location}); err != nil {
			return err
		}
	}
	if _, err := table.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return err
		}
		return table.Create(ctx, &bigquery.TableMetadata{Schema: Schema})
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// OpenWriter returns a writer streaming each batch with one Put.
func (s *Sink) OpenWriter(ctx context.Context) (sink.Writer, error) {
	return sink.NewBatchWriter("bigquery", 0, s.flush, nil), nil
}

func (s *Sink) flush(ctx context.Context, batch *models.RecordBatch) error {
	return s.inserter.Put(ctx, Rows(batch))
}

// Shutdown closes the client.
func (s *Sink) Shutdown(ctx context.Context) error {
	if err := s.client.Close(); err != nil {
		return loadererrors.Wrap(err, loadererrors.ErrorTypeConnection, "failed to close BigQuery client")
	}
	s.logger.Info("bigquery sink shut down")
	return nil
}

// MaxConcurrency is unbounded.
func (s *Sink) MaxConcurrency() int {
	return 0
}

// Rows converts a batch to value savers.
func Rows(batch *models.RecordBatch) []*Row {
	rows := make([]*Row, 0, batch.QuadCount())
	batch.Quads(func(r *models.Record, graph string) {
		rows = append(rows, &Row{Record: r, Graph: graph})
	})
	return rows
}

// Package mongodb stores statements as documents of one collection. The
// document id is the statement hash, so loading a statement twice keeps one
// document.
package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	loadererrors "github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
	"github.com/JervenBolleman/sesame-loader/pkg/sink/sqlstore"
)

const duplicateKey = 11000

func init() {
	sink.MustRegister(sink.Info{
		Name:        "mongodb",
		Description: "MongoDB collection, unordered bulk insert per commit",
		Options:     []string{"dsn", "database", "table"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}

// Document is the stored form of one statement in one graph.
type Document struct {
	ID        string `bson:"_id"`
	Subject   string `bson:"s"`
	Predicate string `bson:"p"`
	Object    string `bson:"o"`
	Graph     string `bson:"g"`
}

// Sink writes to a MongoDB collection.
type Sink struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// New connects to cfg.DSN and creates the graph index.
func New(ctx context.Context, cfg *config.SinkConfig) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, loadererrors.New(loadererrors.ErrorTypeConfig, "mongodb sink requires a dsn")
	}
	clientOpts := options.Client().ApplyURI(cfg.DSN)
	if err := clientOpts.Validate(); err != nil {
		return nil, loadererrors.Wrap(err, loadererrors.ErrorTypeConfig, "invalid mongodb dsn")
	}
	if cfg.Timeouts.Connection > 0 {
		clientOpts.SetConnectTimeout(cfg.Timeouts.Connection)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, loadererrors.Wrap(err, loadererrors.ErrorTypeConnection, "failed to connect to MongoDB")
	}
	if err := sink.Connect(ctx, cfg, func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	table := cfg.Table
	if table == "" {
		table = sqlstore.DefaultTable
	}
	coll := client.Database(cfg.Option("database", "rdf")).Collection(table)

	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "g", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, loadererrors.Wrap(err, loadererrors.ErrorTypeConfig, "failed to create graph index")
	}

	return &Sink{
		client:     client,
		collection: coll,
		logger: logger.Get().With(
			zap.String("component", "mongodb_sink"),
			zap.String("collection", table)),
	}, nil
}

// OpenWriter returns a writer inserting each batch with one InsertMany.
func (s *Sink) OpenWriter(ctx context.Context) (sink.Writer, error) {
	return sink.NewBatchWriter("mongodb", 0, s.flush, nil), nil
}

func (s *Sink) flush(ctx context.Context, batch *models.RecordBatch) error {
	docs := Documents(batch)
	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !OnlyDuplicates(err) {
		return err
	}
	return nil
}

// Shutdown disconnects the client.
func (s *Sink) Shutdown(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return loadererrors.Wrap(err, loadererrors.ErrorTypeConnection, "failed to disconnect from MongoDB")
	}
	s.logger.Info("mongodb sink shut down")
	return nil
}

// MaxConcurrency is unbounded, the driver pools connections.
func (s *Sink) MaxConcurrency() int {
	return 0
}

// Documents converts a batch to insertable documents.
func Documents(batch *models.RecordBatch) []interface{} {
	docs := make([]interface{}, 0, batch.QuadCount())
	batch.Quads(func(r *models.Record, graph string) {
		docs = append(docs, Document{
			ID:        sqlstore.QuadHash(r, graph),
			Subject:   r.Subject,
			Predicate: r.Predicate,
			Object:    r.Object,
			Graph:     graph,
		})
	})
	return docs
}

// OnlyDuplicates reports whether every failed write of a bulk insert was a
// duplicate key, which means the statements are already stored.
func OnlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKey {
			return false
		}
	}
	return true
}

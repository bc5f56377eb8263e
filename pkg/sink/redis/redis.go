// Package redis stores statements as members of one Redis set per graph.
//
//	<prefix>graphs          set of graph keys written to
//	<prefix>graph:default   statements of the default graph
//	<prefix>graph:<term>    statements of a named graph
//
// Members are N-Triples lines. A commit is one MULTI/EXEC transaction.
package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

func init() {
	sink.MustRegister(sink.Info{
		Name:        "redis",
		Description: "Redis sets, one per graph, written in MULTI/EXEC transactions",
		Options:     []string{"dsn (redis:// url)", "prefix"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}

// Sink writes to Redis through one pooled client.
type Sink struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
}

// New parses cfg.DSN as a redis:// URL and pings the server.
func New(ctx context.Context, cfg *config.SinkConfig) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "redis sink requires a dsn")
	}
	opts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid redis url")
	}
	if cfg.Timeouts.Connection > 0 {
		opts.DialTimeout = cfg.Timeouts.Connection
	}
	if cfg.Timeouts.Request > 0 {
		opts.ReadTimeout = cfg.Timeouts.Request
		opts.WriteTimeout = cfg.Timeouts.Request
	}

	client := redis.NewClient(opts)
	if err := sink.Connect(ctx, cfg, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewWithClient(client, cfg.Option("prefix", cfg.Prefix)), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string) *Sink {
	return &Sink{
		client: client,
		prefix: prefix,
		logger: logger.Get().With(zap.String("component", "redis_sink"), zap.String("prefix", prefix)),
	}
}

// GraphKey returns the key of the set holding graph.
func (s *Sink) GraphKey(graph string) string {
	if graph == "" {
		return s.prefix + "graph:default"
	}
	return s.prefix + "graph:" + graph
}

// GraphsKey returns the key of the set of graph keys.
func (s *Sink) GraphsKey() string {
	return s.prefix + "graphs"
}

// OpenWriter returns a writer that commits each batch in one transaction.
func (s *Sink) OpenWriter(ctx context.Context) (sink.Writer, error) {
	return sink.NewBatchWriter("redis", 0, s.flush, nil), nil
}

func (s *Sink) flush(ctx context.Context, batch *models.RecordBatch) error {
	members := make(map[string][]interface{})
	batch.Quads(func(r *models.Record, graph string) {
		key := s.GraphKey(graph)
		members[key] = append(members[key], r.NTriple())
	})

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		keys := make([]interface{}, 0, len(members))
		for key, m := range members {
			pipe.SAdd(ctx, key, m...)
			keys = append(keys, key)
		}
		pipe.SAdd(ctx, s.GraphsKey(), keys...)
		return nil
	})
	return err
}

// Shutdown closes the client.
func (s *Sink) Shutdown(ctx context.Context) error {
	if err := s.client.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close redis client")
	}
	s.logger.Info("redis sink shut down")
	return nil
}

// MaxConcurrency is unbounded, the client pools connections.
func (s *Sink) MaxConcurrency() int {
	return 0
}

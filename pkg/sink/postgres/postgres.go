// Package postgres stores statements in a PostgreSQL table using COPY.
//
// Every writer holds one pooled connection for its whole life. A commit
// copies the batch into a temporary staging table and moves it into the
// statements table with INSERT ... ON CONFLICT DO NOTHING, all in one
// transaction.
package postgres

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
	"github.com/JervenBolleman/sesame-loader/pkg/sink/sqlstore"
)

const (
	defaultPoolSize = 4
	stageTable      = "loader_stage"
)

var columns = []string{"quad_hash", "subject", "predicate", "object", "graph"}

func init() {
	sink.MustRegister(sink.Info{
		Name:        "postgres",
		Description: "PostgreSQL table loaded with COPY, one pooled connection per writer",
		Options:     []string{"dsn", "table", "max_concurrency", "pool_size", "create_table"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}

// Sink writes to PostgreSQL through a pgx pool.
type Sink struct {
	pool           *pgxpool.Pool
	table          pgx.Identifier
	maxConcurrency int
	cfg            *config.SinkConfig
	logger         *zap.Logger
}

// New creates the pool, waits for the server and creates the table.
func New(ctx context.Context, cfg *config.SinkConfig) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "postgres sink requires a dsn")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse PostgreSQL connection string")
	}

	table := cfg.Table
	if table == "" {
		table = sqlstore.DefaultTable
	}

	poolSize := cfg.IntOption("pool_size", defaultPoolSize)
	if cfg.MaxConcurrency > poolSize {
		poolSize = cfg.MaxConcurrency
	}
	poolCfg.MaxConns = int32(poolSize)
	if cfg.Timeouts.Connection > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.Timeouts.Connection
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create PostgreSQL connection pool")
	}
	if err := sink.Connect(ctx, cfg, pool.Ping); err != nil {
		pool.Close()
		return nil, err
	}

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency == 0 {
		maxConcurrency = poolSize
	}
	s := &Sink{
		pool:           pool,
		table:          pgx.Identifier(strings.Split(table, ".")),
		maxConcurrency: maxConcurrency,
		cfg:            cfg,
		logger: logger.Get().With(
			zap.String("component", "postgres_sink"),
			zap.String("table", table)),
	}

	if cfg.Option("create_table", "true") != "false" {
		if err := s.ensureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	s.logger.Info("PostgreSQL connection pool created successfully",
		zap.Int("max_connections", poolSize),
		zap.Int("max_concurrency", maxConcurrency))
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	name := s.table.Sanitize()
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			quad_hash CHAR(64) PRIMARY KEY,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL,
			graph TEXT NOT NULL DEFAULT ''
		)`, name),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (graph)`,
			pgx.Identifier{"idx_" + s.table[len(s.table)-1] + "_graph"}.Sanitize(), name),
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create statements table")
		}
	}
	return nil
}

// OpenWriter acquires a connection and prepares its staging table.
func (s *Sink) OpenWriter(ctx context.Context) (sink.Writer, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to acquire connection")
	}

	stage := fmt.Sprintf(`CREATE TEMP TABLE IF NOT EXISTS %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DELETE ROWS`,
		pgx.Identifier{stageTable}.Sanitize(), s.table.Sanitize())
	if _, err := conn.Exec(ctx, stage); err != nil {
		conn.Release()
		return nil, errors.Wrap(err, errors.ErrorTypeWrite, "failed to create staging table")
	}

	merge, err := MergeSQL(s.table, pgx.Identifier{stageTable})
	if err != nil {
		conn.Release()
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build merge statement")
	}

	cw := &copyWriter{conn: conn, merge: merge}
	return sink.NewBatchWriter("postgres", 0, cw.flush, cw.close), nil
}

// Shutdown closes the pool. Writers must have released their connections.
func (s *Sink) Shutdown(ctx context.Context) error {
	s.pool.Close()
	s.logger.Info("postgres sink shut down")
	return nil
}

// MaxConcurrency is the configured limit, or the pool size when none is set.
func (s *Sink) MaxConcurrency() int {
	return s.maxConcurrency
}

// MergeSQL returns the statement that moves staged rows into table.
func MergeSQL(table, stage pgx.Identifier) (string, error) {
	query, _, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Insert(table.Sanitize()).
		Columns(columns...).
		Select(sq.Select(columns...).From(stage.Sanitize())).
		Suffix("ON CONFLICT (quad_hash) DO NOTHING").
		ToSql()
	return query, err
}

type copyWriter struct {
	conn  *pgxpool.Conn
	merge string
}

func (w *copyWriter) flush(ctx context.Context, batch *models.RecordBatch) error {
	rows := make([][]any, 0, batch.QuadCount())
	batch.Quads(func(r *models.Record, graph string) {
		rows = append(rows, []any{sqlstore.QuadHash(r, graph), r.Subject, r.Predicate, r.Object, graph})
	})

	tx, err := w.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stageTable}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy into staging table: %w", err)
	}
	if _, err := tx.Exec(ctx, w.merge); err != nil {
		return fmt.Errorf("merge staged rows: %w", err)
	}
	return tx.Commit(ctx)
}

func (w *copyWriter) close(ctx context.Context) error {
	w.conn.Release()
	return nil
}

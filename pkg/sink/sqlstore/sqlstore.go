// Package sqlstore implements the sink contract on top of database/sql. The
// sqlite, mysql and snowflake sinks differ only in their Dialect.
//
// Statements go to one table:
//
//	quad_hash  sha256 of the N-Quads line, primary key where the engine enforces one
//	subject    term
//	predicate  term
//	object     term
//	graph      term, '' for the default graph
//
// Each commit runs in its own transaction with multi-row INSERT statements.
package sqlstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"regexp"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

// DefaultTable is used when the sink configuration names no table.
const DefaultTable = "statements"

var columns = []string{"quad_hash", "subject", "predicate", "object", "graph"}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Dialect describes what differs between SQL engines.
type Dialect struct {
	// Name is used in logs and metric names
	Name string
	// Placeholder is the bind variable format of the driver
	Placeholder sq.PlaceholderFormat
	// InsertOptions go between INSERT and INTO, e.g. "OR IGNORE"
	InsertOptions []string
	// Schema holds the DDL run by EnsureSchema, %[1]s is the table name
	Schema []string
	// RowsPerStatement caps the rows of one INSERT
	RowsPerStatement int
	// Retry runs fn again on transient engine errors, nil means no retry
	Retry func(fn func() error) error
	// HandleError maps driver errors, nil keeps them as they are
	HandleError func(err error) error
}

// Store is a sink backed by a *sql.DB.
type Store struct {
	db             *sql.DB
	stbl           sq.StatementBuilderType
	dialect        Dialect
	table          string
	maxConcurrency int
	collector      prometheus.Collector
	logger         *zap.Logger
}

// Open opens driverName with dsn, waits for the database to answer and
// creates the statements table unless the create_table option is "false".
// The export_metrics option registers database/sql pool statistics with the
// default prometheus registerer.
func Open(ctx context.Context, cfg *config.SinkConfig, dialect Dialect, driverName, dsn string, maxConcurrency int) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("initialize %s connection", dialect.Name))
	}
	if n := cfg.IntOption("max_open_conns", 0); n > 0 {
		db.SetMaxOpenConns(n)
	}

	if err := sink.Connect(ctx, cfg, db.PingContext); err != nil {
		_ = db.Close()
		return nil, err
	}

	s, err := New(db, dialect, cfg.Table, maxConcurrency)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if cfg.Option("create_table", "true") != "false" {
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if cfg.Option("export_metrics", "false") == "true" {
		collector := collectors.NewDBStatsCollector(db, "loader_"+dialect.Name)
		if err := prometheus.Register(collector); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "initialize metrics")
		}
		s.collector = collector
	}
	return s, nil
}

// New wraps an open database. table defaults to DefaultTable.
func New(db *sql.DB, dialect Dialect, table string, maxConcurrency int) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("invalid table name %q", table))
	}
	if dialect.RowsPerStatement <= 0 {
		dialect.RowsPerStatement = 100
	}
	if dialect.Placeholder == nil {
		dialect.Placeholder = sq.Question
	}

	return &Store{
		db:             db,
		stbl:           sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder),
		dialect:        dialect,
		table:          table,
		maxConcurrency: maxConcurrency,
		logger: logger.Get().With(
			zap.String("component", "sql_sink"),
			zap.String("dialect", dialect.Name),
			zap.String("table", table)),
	}, nil
}

// EnsureSchema runs the dialect's DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range s.dialect.Schema {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(ddl, s.table)); err != nil {
			return errors.Wrap(s.handle(err), errors.ErrorTypeConfig, "failed to create statements table")
		}
	}
	return nil
}

// OpenWriter returns a writer that commits each batch in one transaction.
func (s *Store) OpenWriter(ctx context.Context) (sink.Writer, error) {
	return sink.NewBatchWriter(s.dialect.Name, 0, s.flush, nil), nil
}

// Shutdown closes the database.
func (s *Store) Shutdown(ctx context.Context) error {
	if s.collector != nil {
		prometheus.Unregister(s.collector)
	}
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, fmt.Sprintf("close %s database", s.dialect.Name))
	}
	s.logger.Info("sql sink shut down")
	return nil
}

// MaxConcurrency returns the limit the dialect's sink declared.
func (s *Store) MaxConcurrency() int {
	return s.maxConcurrency
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Count returns the number of rows in the statements table.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.stbl.Select("COUNT(*)").From(s.table).RunWith(s.db).QueryRowContext(ctx).Scan(&n)
	if err != nil {
		return 0, s.handle(err)
	}
	return n, nil
}

// Quads returns the stored statements of graph as N-Quads lines, ordered by
// subject, predicate and object.
func (s *Store) Quads(ctx context.Context, graph string) ([]string, error) {
	rows, err := s.stbl.
		Select("subject", "predicate", "object", "graph").
		From(s.table).
		Where(sq.Eq{"graph": graph}).
		OrderBy("subject", "predicate", "object").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, s.handle(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(&r.Subject, &r.Predicate, &r.Object, &r.Graph); err != nil {
			return nil, s.handle(err)
		}
		out = append(out, r.NQuad(""))
	}
	return out, rows.Err()
}

func (s *Store) flush(ctx context.Context, batch *models.RecordBatch) error {
	if s.dialect.Retry == nil {
		return s.insert(ctx, batch)
	}
	return s.dialect.Retry(func() error {
		return s.insert(ctx, batch)
	})
}

func (s *Store) insert(ctx context.Context, batch *models.RecordBatch) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.handle(err)
	}
	defer func() {
		_ = txn.Rollback()
	}()

	newInsert := func() sq.InsertBuilder {
		return s.stbl.Insert(s.table).Options(s.dialect.InsertOptions...).Columns(columns...)
	}

	var execErr error
	builder := newInsert()
	rows := 0
	exec := func() {
		if _, err := builder.RunWith(txn).ExecContext(ctx); err != nil {
			execErr = err
		}
		builder = newInsert()
		rows = 0
	}

	batch.Quads(func(r *models.Record, graph string) {
		if execErr != nil {
			return
		}
		builder = builder.Values(QuadHash(r, graph), r.Subject, r.Predicate, r.Object, graph)
		rows++
		if rows == s.dialect.RowsPerStatement {
			exec()
		}
	})
	if execErr == nil && rows > 0 {
		exec()
	}
	if execErr != nil {
		return s.handle(execErr)
	}

	if err := txn.Commit(); err != nil {
		return s.handle(err)
	}
	return nil
}

func (s *Store) handle(err error) error {
	if s.dialect.HandleError != nil {
		return s.dialect.HandleError(err)
	}
	return fmt.Errorf("sql error: %w", err)
}

// QuadHash identifies a statement in a graph.
func QuadHash(r *models.Record, graph string) string {
	sum := sha256.Sum256([]byte(r.NQuad(graph)))
	return hex.EncodeToString(sum[:])
}

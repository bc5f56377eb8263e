// Package sqlite stores statements in a SQLite database file. SQLite allows a
// single writer at a time, so the sink declares a maximum concurrency of 1.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	loadererrors "github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
	"github.com/JervenBolleman/sesame-loader/pkg/sink/sqlstore"
)

// DefaultFileName is the database file created in the sink location when no
// DSN is configured.
const DefaultFileName = "statements.db"

func init() {
	sink.MustRegister(sink.Info{
		Name:        "sqlite",
		Description: "SQLite database file, single writer",
		Options:     []string{"dsn", "location", "table", "create_table", "export_metrics"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}

// Dialect is the SQLite flavour of the statements table.
var Dialect = sqlstore.Dialect{
	Name:          "sqlite",
	Placeholder:   sq.Question,
	InsertOptions: []string{"OR IGNORE"},
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS %[1]s (
			quad_hash TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL,
			graph TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_%[1]s_graph ON %[1]s (graph)`,
	},
	// 5 columns, below SQLite's default limit of 999 bound variables
	RowsPerStatement: 150,
	Retry:            busyRetry,
	HandleError:      HandleSQLError,
}

// New opens the database named by cfg.DSN, or DefaultFileName inside
// cfg.Location.
func New(ctx context.Context, cfg *config.SinkConfig) (*sqlstore.Store, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if cfg.Location == "" {
			return nil, loadererrors.New(loadererrors.ErrorTypeConfig, "sqlite sink requires a dsn or a location")
		}
		dsn = filepath.Join(cfg.Location, DefaultFileName)
	}

	dsn, err := PrepareDSN(dsn)
	if err != nil {
		return nil, loadererrors.Wrap(err, loadererrors.ErrorTypeConfig, "invalid sqlite dsn")
	}
	return sqlstore.Open(ctx, cfg, Dialect, "sqlite", dsn, 1)
}

// PrepareDSN adds WAL journaling, a busy timeout and immediate transactions
// unless the DSN already sets them.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}
		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(500)")
	}
	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	return uri + "?" + query.Encode(), nil
}

// HandleSQLError wraps driver errors, keeping constraint violations apart.
func HandleSQLError(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xFF == sqlite3.SQLITE_CONSTRAINT {
		return loadererrors.Wrap(err, loadererrors.ErrorTypeWrite, "sqlite constraint violation")
	}
	return fmt.Errorf("sql error: %w", err)
}

// busyRetry runs fn again while SQLite reports the database as locked.
func busyRetry(fn func() error) error {
	const maxRetries = 10
	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isBusyError(err) || retries >= maxRetries {
			return err
		}
		time.Sleep(time.Duration(retries+1) * 10 * time.Millisecond)
	}
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xFF
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

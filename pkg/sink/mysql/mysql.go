// Package mysql stores statements in a MySQL table.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	loadererrors "github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
	"github.com/JervenBolleman/sesame-loader/pkg/sink/sqlstore"
)

func init() {
	sink.MustRegister(sink.Info{
		Name:        "mysql",
		Description: "MySQL table, one transaction per commit",
		Options:     []string{"dsn", "table", "max_concurrency", "max_open_conns", "create_table", "export_metrics"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}

// Dialect is the MySQL flavour of the statements table.
var Dialect = sqlstore.Dialect{
	Name:          "mysql",
	Placeholder:   sq.Question,
	InsertOptions: []string{"IGNORE"},
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS %[1]s (
			quad_hash CHAR(64) NOT NULL PRIMARY KEY,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object MEDIUMTEXT NOT NULL,
			graph TEXT NOT NULL,
			INDEX idx_graph (graph(255))
		) DEFAULT CHARSET=utf8mb4`,
	},
	RowsPerStatement: 500,
	Retry:            deadlockRetry,
	HandleError:      HandleSQLError,
}

// New validates cfg.DSN and opens the database.
func New(ctx context.Context, cfg *config.SinkConfig) (*sqlstore.Store, error) {
	if cfg.DSN == "" {
		return nil, loadererrors.New(loadererrors.ErrorTypeConfig, "mysql sink requires a dsn")
	}
	dsnCfg, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, loadererrors.Wrap(err, loadererrors.ErrorTypeConfig, "invalid mysql dsn")
	}
	if cfg.Timeouts.Connection > 0 && dsnCfg.Timeout == 0 {
		dsnCfg.Timeout = cfg.Timeouts.Connection
	}
	return sqlstore.Open(ctx, cfg, Dialect, "mysql", dsnCfg.FormatDSN(), cfg.MaxConcurrency)
}

// HandleSQLError wraps driver errors, keeping duplicate keys apart.
func HandleSQLError(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return loadererrors.Wrap(err, loadererrors.ErrorTypeWrite, "mysql duplicate key")
	}
	return fmt.Errorf("sql error: %w", err)
}

// deadlockRetry replays a transaction chosen as a deadlock victim or that
// timed out waiting for a lock.
func deadlockRetry(fn func() error) error {
	const maxRetries = 5
	for retries := 0; ; retries++ {
		err := fn()
		if err == nil {
			return nil
		}
		var me *mysql.MySQLError
		if !errors.As(err, &me) || (me.Number != 1213 && me.Number != 1205) || retries >= maxRetries {
			return err
		}
		time.Sleep(time.Duration(retries+1) * 50 * time.Millisecond)
	}
}

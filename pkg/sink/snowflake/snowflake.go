// Package snowflake stores statements in a Snowflake table.
//
// The DSN can be given directly or assembled from the account, user,
// password, database, schema, warehouse and role options.
package snowflake

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/snowflakedb/gosnowflake"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
	"github.com/JervenBolleman/sesame-loader/pkg/sink/sqlstore"
)

func init() {
	sink.MustRegister(sink.Info{
		Name:        "snowflake",
		Description: "Snowflake table, one transaction per commit",
		Options: []string{"dsn", "account", "user", "password", "database", "schema",
			"warehouse", "role", "table", "max_concurrency"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}

// Dialect is the Snowflake flavour of the statements table. Snowflake does
// not enforce primary keys, duplicate statements are kept.
var Dialect = sqlstore.Dialect{
	Name:        "snowflake",
	Placeholder: sq.Question,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS %[1]s (
			quad_hash VARCHAR(64) NOT NULL PRIMARY KEY,
			subject VARCHAR NOT NULL,
			predicate VARCHAR NOT NULL,
			object VARCHAR NOT NULL,
			graph VARCHAR NOT NULL
		)`,
	},
	RowsPerStatement: 1000,
}

// New builds the DSN and opens the database.
func New(ctx context.Context, cfg *config.SinkConfig) (*sqlstore.Store, error) {
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}
	return sqlstore.Open(ctx, cfg, Dialect, "snowflake", dsn, cfg.MaxConcurrency)
}

// BuildDSN returns cfg.DSN after validating it, or a DSN assembled from the
// sink options.
func BuildDSN(cfg *config.SinkConfig) (string, error) {
	if cfg.DSN != "" {
		if _, err := gosnowflake.ParseDSN(cfg.DSN); err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid snowflake dsn")
		}
		return cfg.DSN, nil
	}

	sfCfg := &gosnowflake.Config{
		Account:   cfg.Option("account", ""),
		User:      cfg.Option("user", ""),
		Password:  cfg.Option("password", ""),
		Database:  cfg.Option("database", ""),
		Schema:    cfg.Option("schema", ""),
		Warehouse: cfg.Option("warehouse", ""),
		Role:      cfg.Option("role", ""),
	}
	if sfCfg.Account == "" || sfCfg.User == "" {
		return "", errors.New(errors.ErrorTypeConfig, "snowflake sink requires a dsn or the account and user options")
	}
	if cfg.Timeouts.Connection > 0 {
		sfCfg.LoginTimeout = cfg.Timeouts.Connection
	}

	dsn, err := gosnowflake.DSN(sfCfg)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid snowflake configuration")
	}
	return dsn, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/internal/pipeline"
	"github.com/JervenBolleman/sesame-loader/pkg/config"
	loadererrors "github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/metrics"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/observability"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

const envPrefix = "LOADER"

// runOptions are the settings of one invocation that do not belong in a
// configuration file.
type runOptions struct {
	infile      string
	format      string
	metricsAddr string
}

// newViper returns a viper instance reading LOADER_* environment variables.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newLoadCmd() *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a file or directory of statements",
		Long: `Load reads a file, every file directly inside a directory, or standard input
and writes the statements to the selected sink. The input format is detected
from the file name; .gz, .zst, .lz4, .sz and .s2 files are decompressed.

Every flag can also be set through an environment variable, for example
LOADER_PUSH_THREADS=4. Flags and environment override the --config file.

Example:
  loader load --infile data/ --sink sqlite --data-dir /var/lib/rdf --push-threads 1
  gunzip -c dump.nt.gz | loader load --infile - --format ntriples --sink postgres --dsn postgres://...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, opts, err := resolveConfig(v)
			if err != nil {
				return err
			}
			return runLoad(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), f, opts)
		},
	}
	bindLoadFlags(cmd, v)
	return cmd
}

// bindLoadFlags declares the load flags and binds each to the viper key of
// the same name.
func bindLoadFlags(cmd *cobra.Command, v *viper.Viper) {
	defaults := config.NewFile()
	flags := cmd.Flags()

	flags.String("infile", "", "file or directory to load, - for standard input (required)")
	flags.String("format", "ntriples", "input format when reading standard input")
	flags.String("base-uri", "", "base URI for relative IRIs in the input")
	flags.String("config", "", "path to a YAML configuration file")

	flags.Int("commit-interval", defaults.Loader.CommitEvery, "statements added by a pusher between commits")
	flags.Int("push-threads", defaults.Loader.Concurrency, "number of concurrent pushers, each with its own writer")
	flags.Int("queue-capacity", defaults.Loader.QueueCapacity, "statements buffered between the reader and the pushers")
	flags.StringSlice("context", nil, "graph every statement is written to (repeatable)")
	flags.Bool("preserve-bnode-ids", false, "keep blank node labels instead of scoping them to their file")

	flags.String("sink", defaults.Sink.Type, "storage backend, see 'loader sinks'")
	flags.String("data-dir", "", "data directory of file based sinks")
	flags.String("dsn", "", "connection string of database and broker sinks")
	flags.String("table", "", "table, collection or dataset table to write to")
	flags.String("bucket", "", "object store bucket")
	flags.String("topic", "", "kafka topic or nats subject")
	flags.Int("max-concurrency", 0, "writer limit for sinks that take it from configuration")
	flags.StringToString("sink-option", nil, "backend specific option as key=value (repeatable)")

	flags.String("log-level", defaults.Logging.Level, "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")
	flags.Bool("trace", false, "export OpenTelemetry spans to stdout")

	flags.VisitAll(func(f *pflag.Flag) {
		mustBindPFlag(v, f.Name, f)
	})
}

func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

// resolveConfig builds the configuration of a load from the optional file,
// then the environment and flags.
func resolveConfig(v *viper.Viper) (*config.File, *runOptions, error) {
	opts := &runOptions{
		infile:      v.GetString("infile"),
		format:      v.GetString("format"),
		metricsAddr: v.GetString("metrics-addr"),
	}
	if opts.infile == "" {
		return nil, nil, loadererrors.New(loadererrors.ErrorTypeConfig, "--infile is required")
	}

	f := config.NewFile()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, nil, err
		}
		f = loaded
	}

	if v.IsSet("base-uri") {
		f.Loader.BaseURI = v.GetString("base-uri")
	}
	if v.IsSet("commit-interval") {
		f.Loader.CommitEvery = v.GetInt("commit-interval")
	}
	if v.IsSet("push-threads") {
		f.Loader.Concurrency = v.GetInt("push-threads")
	}
	if v.IsSet("queue-capacity") {
		f.Loader.QueueCapacity = v.GetInt("queue-capacity")
	}
	if v.IsSet("context") {
		f.Loader.Contexts = nil
		for _, c := range v.GetStringSlice("context") {
			f.Loader.Contexts = append(f.Loader.Contexts, models.IRI(c))
		}
	}
	if v.IsSet("preserve-bnode-ids") {
		f.Loader.PreserveBNodeIDs = v.GetBool("preserve-bnode-ids")
	}

	if v.IsSet("sink") {
		f.Sink.Type = strings.ToLower(v.GetString("sink"))
	}
	if v.IsSet("data-dir") {
		f.Sink.Location = v.GetString("data-dir")
	}
	if v.IsSet("dsn") {
		f.Sink.DSN = v.GetString("dsn")
	}
	if v.IsSet("table") {
		f.Sink.Table = v.GetString("table")
	}
	if v.IsSet("bucket") {
		f.Sink.Bucket = v.GetString("bucket")
	}
	if v.IsSet("topic") {
		f.Sink.Topic = v.GetString("topic")
	}
	if v.IsSet("max-concurrency") {
		f.Sink.MaxConcurrency = v.GetInt("max-concurrency")
	}
	if f.Sink.Options == nil {
		f.Sink.Options = make(map[string]string)
	}
	for k, val := range v.GetStringMapString("sink-option") {
		f.Sink.Options[k] = val
	}

	if v.IsSet("log-level") {
		f.Logging.Level = v.GetString("log-level")
	}
	if opts.metricsAddr != "" {
		f.Metrics.Enabled = true
		f.Metrics.Addr = opts.metricsAddr
	}
	if v.GetBool("trace") {
		f.Tracing.Enabled = true
	}

	if err := f.Validate(); err != nil {
		return nil, nil, err
	}
	return f, opts, nil
}

// runLoad creates the sink and the loader, runs one load and shuts both
// down.
func runLoad(ctx context.Context, in io.Reader, out io.Writer, f *config.File, opts *runOptions) error {
	if err := logger.Init(f.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	log := logger.With(
		zap.String("component", "loader-cli"),
		zap.String("sink", f.Sink.Type))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.Tracing.Enabled {
		if _, err := observability.InitTracing(observability.DefaultTracingConfig(f.Tracing.ServiceName, version)); err != nil {
			return err
		}
		defer func() {
			if err := observability.Shutdown(context.Background()); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	var m *metrics.LoaderMetrics
	if f.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.NewLoaderMetrics(reg)
		srv := serveMetrics(f.Metrics.Addr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ctx = context.WithValue(ctx, logger.SinkKey, f.Sink.Type)
	s, err := sink.Create(ctx, &f.Sink)
	if err != nil {
		return fmt.Errorf("failed to create sink '%s': %w", f.Sink.Type, err)
	}

	l, err := pipeline.NewLoader(ctx, s, f.Loader, pipeline.WithLogger(log), pipeline.WithMetrics(m))
	if err != nil {
		if serr := s.Shutdown(context.Background()); serr != nil {
			log.Warn("failed to shut down sink", zap.Error(serr))
		}
		return err
	}
	defer func() {
		if err := l.Shutdown(context.Background()); err != nil {
			log.Error("failed to shut down loader", zap.Error(err))
		}
	}()

	log.Info("starting load",
		zap.String("infile", opts.infile),
		zap.String("base_uri", f.Loader.BaseURI),
		zap.Int("push_threads", f.Loader.Concurrency),
		zap.Int("commit_interval", f.Loader.CommitEvery))

	if opts.infile == "-" {
		err = l.LoadStream(ctx, in, opts.format, f.Loader.BaseURI)
	} else {
		err = l.Load(ctx, opts.infile, f.Loader.BaseURI)
	}

	stats := l.Stats()
	fmt.Fprintf(out, "loaded %d statements in %d commits (%d skipped units, %d failed pushers) in %s, %.0f statements/s\n",
		stats.Committed, stats.Commits, stats.SkippedUnits, stats.FailedPushers,
		stats.Duration.Round(time.Millisecond), stats.Throughput)
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

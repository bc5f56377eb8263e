// Package loader bulk loads RDF statements from files into a storage
// backend.
//
// A load has one producer and a fixed number of pushers joined by a bounded
// queue. The producer decodes input units (N-Triples, N-Quads, JSON lines,
// CSV or Avro, optionally compressed) and puts their statements on the
// queue. Each pusher owns one writer of the sink, adds the statements it
// polls and commits every N of them. When the producer is done the pushers
// drain the queue, commit once more and close their writers.
//
// # Architecture
//
//   - internal/pipeline: queue, finish signal, pushers, producer and the
//     Loader that wires them
//   - pkg/sink: the Sink and Writer contracts, a name-keyed registry and the
//     backends (memory, file, sqlite, mysql, snowflake, postgres, mongodb,
//     kafka, nats, redis, s3, gcs, bigquery)
//   - pkg/format: input decoders and format detection by file name
//   - pkg/compression: streaming decompression of input units and
//     compression of file and object sinks
//   - pkg/config, pkg/logger, pkg/errors, pkg/metrics, pkg/observability:
//     configuration, zap logging, typed errors, prometheus metrics and
//     OpenTelemetry tracing
//
// # Quick Start
//
//	import (
//	    "context"
//
//	    "github.com/JervenBolleman/sesame-loader/internal/pipeline"
//	    "github.com/JervenBolleman/sesame-loader/pkg/config"
//	    "github.com/JervenBolleman/sesame-loader/pkg/sink"
//	    _ "github.com/JervenBolleman/sesame-loader/pkg/sink/sqlite"
//	)
//
//	sinkCfg := config.NewSinkConfig("sqlite")
//	sinkCfg.Location = "/var/lib/rdf"
//	s, err := sink.Create(ctx, sinkCfg)
//	if err != nil {
//	    return err
//	}
//
//	cfg := config.DefaultLoaderConfig()
//	cfg.CommitEvery = 5000
//	l, err := pipeline.NewLoader(ctx, s, cfg)
//	if err != nil {
//	    return err
//	}
//	defer l.Shutdown(ctx)
//
//	return l.Load(ctx, "dumps/", "http://example.org/")
//
// # Command Line
//
//	loader load --infile dumps/ --sink postgres --dsn postgres://... \
//	    --push-threads 8 --commit-interval 10000 --context http://example.org/graph
//
// # Error Handling
//
// Errors carry an errors.ErrorType. A configuration error stops a load
// before any writer is opened. An input error skips one input unit. A write
// error stops the pusher that hit it while the others carry on.
package loader

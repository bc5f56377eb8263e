// Package pipeline implements the queue-mediated bulk load: one producer
// decodes input units onto a bounded queue and a fixed set of pushers move
// the records into writers of a sink, committing in batches.
//
// # Lifecycle
//
// NewLoader checks the configuration against the sink, opens one writer per
// pusher and starts the pushers, which poll the still empty queue. Load (or
// LoadStream) runs the producer, raises the finish signal and waits until
// every pusher has drained the queue, made its final commit and closed its
// writer. Shutdown shuts the sink down once.
//
//	l, err := pipeline.NewLoader(ctx, s, cfg)
//	if err != nil {
//	    return err
//	}
//	defer l.Shutdown(ctx)
//
//	if err := l.Load(ctx, "data/", "http://example.org/"); err != nil {
//	    return err
//	}
//
// # Failures
//
// A unit that cannot be read is logged and skipped. A writer failure stops
// its pusher only; the records it held are abandoned and the other pushers
// carry on. Cancelling the load context stops the producer but never a
// commit in flight: the pushers still drain what was enqueued.
package pipeline

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/format"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/metrics"
	"github.com/JervenBolleman/sesame-loader/pkg/observability"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

// Option customizes a Loader.
type Option func(*Loader)

// WithLogger sets the base logger. The default is the global logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithMetrics records the load in m.
func WithMetrics(m *metrics.LoaderMetrics) Option {
	return func(ld *Loader) { ld.metrics = m }
}

// WithProgressInterval overrides the configured progress period. Zero
// disables progress lines.
func WithProgressInterval(d time.Duration) Option {
	return func(ld *Loader) { ld.progressInterval = d }
}

// WithDecoders sets the format registry used to read input units.
func WithDecoders(r *format.Registry) Option {
	return func(ld *Loader) {
		if r != nil {
			ld.formats = r
		}
	}
}

// LoadStats is a snapshot of a load.
type LoadStats struct {
	LoadID        string
	Enqueued      int64
	Added         int64
	Committed     int64
	Commits       int64
	FailedPushers int
	SkippedUnits  int
	Duration      time.Duration
	Throughput    float64
}

// Loader runs one load operation into a sink.
type Loader struct {
	id               string
	sink             sink.Sink
	cfg              config.LoaderConfig
	logger           *zap.Logger
	metrics          *metrics.LoaderMetrics
	formats          *format.Registry
	progressInterval time.Duration

	queue    *BoundedQueue
	finished *FinishSignal
	pushers  []*Pusher
	producer *Producer
	wg       sync.WaitGroup
	allDone  chan struct{}

	used         atomic.Bool
	loadDone     chan struct{}
	shutdownOnce sync.Once

	mu       sync.Mutex
	result   *ProduceResult
	started  time.Time
	duration time.Duration
}

// NewLoader validates cfg against the sink, opens cfg.Concurrency writers and
// starts one pusher per writer. Nothing is opened when the configuration is
// invalid or the sink cannot take the requested concurrency.
func NewLoader(ctx context.Context, s sink.Sink, cfg config.LoaderConfig, opts ...Option) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Loader{
		id:               uuid.NewString(),
		sink:             s,
		cfg:              cfg,
		logger:           logger.Get(),
		formats:          format.Default(),
		progressInterval: cfg.ProgressInterval,
		allDone:          make(chan struct{}),
		loadDone:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(
		zap.String("component", "loader"),
		zap.String("load_id", l.id))

	if maxConc := s.MaxConcurrency(); maxConc > 0 && cfg.Concurrency > maxConc {
		return nil, errors.New(errors.ErrorTypeConfig, "requested concurrency exceeds sink's declared maximum").
			WithDetail("concurrency", cfg.Concurrency).
			WithDetail("max_concurrency", maxConc)
	}

	ctx = context.WithValue(ctx, logger.LoadIDKey, l.id)
	writers, err := l.openWriters(ctx)
	if err != nil {
		return nil, err
	}

	l.queue = NewBoundedQueue(cfg.QueueCapacity)
	l.finished = NewFinishSignal()

	bnodeTag := ""
	if !cfg.PreserveBNodeIDs {
		bnodeTag = l.id[:8]
	}
	l.producer = NewProducer(l.queue, l.formats, bnodeTag, l.logger, l.metrics)

	pctx := context.WithoutCancel(ctx)
	for i, w := range writers {
		p := NewPusher(i, l.queue, w, l.finished, cfg.Contexts, cfg.CommitEvery, cfg.PollTimeout, l.logger, l.metrics)
		l.pushers = append(l.pushers, p)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			p.Run(context.WithValue(pctx, logger.PusherKey, p.ID()))
		}()
	}
	go func() {
		l.wg.Wait()
		// Nothing drains the queue any more.
		l.queue.Close()
		close(l.allDone)
	}()

	l.logger.Info("loader started",
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int("commit_every", cfg.CommitEvery),
		zap.Int("queue_capacity", cfg.QueueCapacity),
		zap.Strings("contexts", cfg.Contexts))
	return l, nil
}

func (l *Loader) openWriters(ctx context.Context) ([]sink.Writer, error) {
	writers := make([]sink.Writer, 0, l.cfg.Concurrency)
	for i := 0; i < l.cfg.Concurrency; i++ {
		w, err := l.sink.OpenWriter(ctx)
		if err == nil {
			writers = append(writers, w)
			continue
		}

		var merr *multierror.Error
		merr = multierror.Append(merr, err)
		for _, opened := range writers {
			if cerr := opened.Close(ctx); cerr != nil {
				merr = multierror.Append(merr, cerr)
			}
		}
		l.logger.Error("failed to open writer", zap.Int("writer", i), zap.Error(merr))
		return nil, errors.Wrap(merr.ErrorOrNil(), errors.ErrorTypeWrite, "failed to open writer").
			WithDetail("opened", len(writers))
	}
	return writers, nil
}

// ID returns the load id attached to every log line of this loader.
func (l *Loader) ID() string {
	return l.id
}

// Load reads a file or the files of a directory and waits until every
// record has been committed or abandoned by a failed pusher. It returns an
// error only when path itself cannot be read or the load was interrupted,
// which includes every pusher failing before the input was queued.
func (l *Loader) Load(ctx context.Context, path, baseURI string) error {
	return l.run(ctx, attribute.String("path", path), func(ctx context.Context) (*ProduceResult, error) {
		return l.producer.LoadPath(ctx, path, baseURI)
	})
}

// LoadStream reads r in the named format and waits like Load. A parse
// failure is returned after the pushers are done.
func (l *Loader) LoadStream(ctx context.Context, r io.Reader, formatName, baseURI string) error {
	return l.run(ctx, attribute.String("format", formatName), func(ctx context.Context) (*ProduceResult, error) {
		return l.producer.LoadStream(ctx, r, formatName, baseURI)
	})
}

func (l *Loader) run(ctx context.Context, attr attribute.KeyValue,
	produce func(context.Context) (*ProduceResult, error)) error {
	if !l.used.CompareAndSwap(false, true) {
		return errors.New(errors.ErrorTypeConfig, "loader already used")
	}
	defer close(l.loadDone)

	ctx = context.WithValue(ctx, logger.LoadIDKey, l.id)
	ctx, span := observability.StartSpan(ctx, observability.SpanLoad, attr)
	log := observability.WithTrace(ctx, l.logger)

	l.mu.Lock()
	l.started = time.Now()
	l.mu.Unlock()

	progress := newProgressReporter(l.progressInterval, l.queue, l.producer, l.pushers, log, l.metrics)
	progress.start()

	var result *ProduceResult
	var err error
	func() {
		defer l.finished.Finish()
		recovered := panics.Try(func() { result, err = produce(ctx) })
		if recovered != nil {
			err = errors.Wrap(recovered.AsError(), errors.ErrorTypeInternal, "producer panicked")
		}
	}()

	l.wait(ctx, log)
	progress.close()

	l.mu.Lock()
	l.result = result
	l.duration = time.Since(l.started)
	l.mu.Unlock()

	stats := l.Stats()
	if stats.FailedPushers == len(l.pushers) {
		log.Error("every pusher failed, load stopped",
			zap.Int("pushers", len(l.pushers)),
			zap.Int64("enqueued", stats.Enqueued),
			zap.Int("queue_depth", l.queue.Len()))
	}
	log.Info("load finished",
		zap.Int64("enqueued", stats.Enqueued),
		zap.Int64("committed", stats.Committed),
		zap.Int64("commits", stats.Commits),
		zap.Int("failed_pushers", stats.FailedPushers),
		zap.Int("skipped_units", stats.SkippedUnits),
		zap.Duration("duration", stats.Duration),
		zap.Float64("records_per_sec", stats.Throughput))

	observability.EndSpan(span, err)
	return err
}

// wait blocks until every pusher is closed, logging the ones still running
// once per wait interval. Cancellation of ctx is logged but does not end the
// wait.
func (l *Loader) wait(ctx context.Context, log *zap.Logger) {
	ticker := time.NewTicker(l.cfg.WaitInterval)
	defer ticker.Stop()

	cancelled := ctx.Done()
	for {
		select {
		case <-l.allDone:
			return
		case <-cancelled:
			log.Warn("load cancelled, waiting for pushers to drain", zap.Error(ctx.Err()))
			cancelled = nil
		case <-ticker.C:
			var running []int
			for _, p := range l.pushers {
				if p.State() != StateClosed {
					running = append(running, p.ID())
				}
			}
			log.Info("waiting for pushers",
				zap.Ints("running", running),
				zap.Int("queue_depth", l.queue.Len()))
		}
	}
}

// Stats returns a snapshot of the load. It can be called while the load
// runs.
func (l *Loader) Stats() LoadStats {
	stats := LoadStats{LoadID: l.id}
	for _, p := range l.pushers {
		stats.Added += p.Added()
		stats.Committed += p.Committed()
		stats.Commits += p.Commits()
		if p.Err() != nil {
			stats.FailedPushers++
		}
	}
	if l.producer != nil {
		stats.Enqueued = l.producer.Enqueued()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.result != nil {
		stats.SkippedUnits = l.result.Skipped
	}
	switch {
	case l.duration > 0:
		stats.Duration = l.duration
	case !l.started.IsZero():
		stats.Duration = time.Since(l.started)
	}
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.Throughput = float64(stats.Committed) / secs
	}
	return stats
}

// Shutdown waits for a running load and the pushers, then shuts the sink
// down. If no load ran the pushers are told to finish first so they close
// their writers, and the loader can no longer be used. Only the first call
// does anything.
func (l *Loader) Shutdown(ctx context.Context) error {
	var err error
	l.shutdownOnce.Do(func() {
		if l.used.CompareAndSwap(false, true) {
			l.finished.Finish()
		} else {
			<-l.loadDone
		}
		l.wait(ctx, l.logger)

		if serr := l.sink.Shutdown(ctx); serr != nil {
			err = errors.Wrap(serr, errors.ErrorTypeInternal, "failed to shut down sink")
			l.logger.Error("sink shutdown failed", zap.Error(err))
			return
		}
		l.logger.Info("sink shut down")
	})
	return err
}

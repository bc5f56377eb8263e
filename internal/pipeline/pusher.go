package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/metrics"
	"github.com/JervenBolleman/sesame-loader/pkg/observability"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

// PusherState is the lifecycle stage of a pusher.
type PusherState int32

const (
	// StateRunning polls the queue and adds records to the writer
	StateRunning PusherState = iota
	// StateDraining has seen the finish signal and empties the queue
	StateDraining
	// StateClosed has committed, closed its writer and signalled completion
	StateClosed
)

func (s PusherState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Pusher moves records from the queue into one writer, committing every
// commitEvery records and once more when the queue has been drained.
type Pusher struct {
	id          int
	queue       *BoundedQueue
	writer      sink.Writer
	finished    *FinishSignal
	contexts    []string
	commitEvery int
	pollTimeout time.Duration

	logger  *zap.Logger
	metrics *metrics.LoaderMetrics

	state     atomic.Int32
	added     atomic.Int64
	committed atomic.Int64
	commits   atomic.Int64
	pending   int

	mu   sync.Mutex
	err  error
	done chan struct{}
	once sync.Once
}

// NewPusher creates a pusher in the running state. Run must be called for it
// to do anything.
func NewPusher(id int, queue *BoundedQueue, writer sink.Writer, finished *FinishSignal,
	contexts []string, commitEvery int, pollTimeout time.Duration,
	logger *zap.Logger, m *metrics.LoaderMetrics) *Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pusher{
		id:          id,
		queue:       queue,
		writer:      writer,
		finished:    finished,
		contexts:    contexts,
		commitEvery: commitEvery,
		pollTimeout: pollTimeout,
		logger:      logger.With(zap.Int("pusher", id)),
		metrics:     m,
		done:        make(chan struct{}),
	}
}

// Run drives the pusher until the queue is drained or the writer fails. The
// writer is always closed and completion always signalled, whatever happens
// inside the loop. Writer calls are not cancelled with ctx so that a commit
// in flight completes.
func (p *Pusher) Run(ctx context.Context) {
	wctx := context.WithoutCancel(ctx)
	p.metrics.PusherStarted()
	defer p.complete()
	defer p.closeWriter(wctx)

	var err error
	if recovered := panics.Try(func() { err = p.loop(wctx) }); recovered != nil {
		err = errors.Wrap(recovered.AsError(), errors.ErrorTypeWrite, "writer panicked")
	}

	if err != nil {
		p.setErr(err)
		p.metrics.WriteFailed()
		p.logger.Error("pusher stopped by write failure",
			zap.Error(err),
			zap.Int64("added", p.added.Load()),
			zap.Int64("committed", p.committed.Load()),
			zap.Int("abandoned", p.pending))
	}
}

func (p *Pusher) loop(ctx context.Context) error {
	for {
		if p.State() == StateRunning && p.finished.IsFinished() {
			p.state.Store(int32(StateDraining))
			p.logger.Debug("draining queue", zap.Int("queued", p.queue.Len()))
		}

		rec, ok := p.queue.Poll(p.pollTimeout)
		if !ok {
			if p.State() == StateDraining {
				break
			}
			continue
		}

		if err := p.writer.AddRecord(ctx, rec, p.contexts); err != nil {
			return errors.Wrap(err, errors.ErrorTypeWrite, "failed to add record").
				WithDetail("source", rec.Source)
		}
		p.added.Add(1)
		p.pending++
		p.metrics.Added()

		if p.pending%p.commitEvery == 0 {
			if err := p.commit(ctx); err != nil {
				return err
			}
		}
	}

	// The final commit runs even when nothing is pending.
	return p.commit(ctx)
}

func (p *Pusher) commit(ctx context.Context) error {
	n := p.pending
	ctx, span := observability.StartSpan(ctx, observability.SpanCommit,
		attribute.Int("pusher", p.id),
		attribute.Int("records", n))

	timer := metrics.NewTimer(observability.SpanCommit)
	if err := p.writer.Commit(ctx); err != nil {
		werr := errors.Wrap(err, errors.ErrorTypeWrite, "commit failed").WithDetail("records", n)
		observability.EndSpan(span, werr)
		return werr
	}
	observability.EndSpan(span, nil)

	p.pending = 0
	p.committed.Add(int64(n))
	p.commits.Add(1)
	p.metrics.ObserveCommit(timer.Stop(), n)
	return nil
}

func (p *Pusher) closeWriter(ctx context.Context) {
	var err error
	if recovered := panics.Try(func() { err = p.writer.Close(ctx) }); recovered != nil {
		err = recovered.AsError()
	}
	if err != nil {
		p.logger.Warn("failed to close writer", zap.Error(err))
	}
}

func (p *Pusher) complete() {
	p.once.Do(func() {
		p.state.Store(int32(StateClosed))
		p.metrics.PusherClosed()
		p.logger.Debug("pusher closed",
			zap.Int64("added", p.added.Load()),
			zap.Int64("commits", p.commits.Load()))
		close(p.done)
	})
}

func (p *Pusher) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// ID returns the pusher index.
func (p *Pusher) ID() int { return p.id }

// State returns the current lifecycle stage.
func (p *Pusher) State() PusherState { return PusherState(p.state.Load()) }

// Added returns the number of records handed to the writer.
func (p *Pusher) Added() int64 { return p.added.Load() }

// Committed returns the number of records covered by successful commits.
func (p *Pusher) Committed() int64 { return p.committed.Load() }

// Commits returns the number of successful commits.
func (p *Pusher) Commits() int64 { return p.commits.Load() }

// Err returns the write failure that stopped the pusher, if any.
func (p *Pusher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed once the pusher is closed.
func (p *Pusher) Done() <-chan struct{} { return p.done }

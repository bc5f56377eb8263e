// Package metrics provides Prometheus metrics for the loader.
//
// # Overview
//
// The metrics package provides:
//   - LoaderMetrics, the counters, gauges and histograms of one process
//   - Throughput tracking for progress reporting
//   - A simple Timer for measuring commit durations
//
// # Basic Usage
//
//	m := metrics.NewLoaderMetrics(prometheus.DefaultRegisterer)
//	m.RecordsEnqueued.Inc()
//
//	timer := metrics.NewTimer("commit")
//	err := writer.Commit(ctx)
//	m.ObserveCommit(timer.Stop(), n)
//
// A nil *LoaderMetrics is valid and records nothing, so components accept an
// optional metrics instance without checking for nil.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "loader"

// LoaderMetrics groups the metrics of a load. Create it once per registry.
type LoaderMetrics struct {
	// RecordsEnqueued counts records put on the queue by the producer
	RecordsEnqueued prometheus.Counter
	// RecordsAdded counts records handed to a writer
	RecordsAdded prometheus.Counter
	// RecordsCommitted counts records covered by a successful commit
	RecordsCommitted prometheus.Counter
	// Commits counts successful commits
	Commits prometheus.Counter
	// WriteErrors counts pushers stopped by a writer failure
	WriteErrors prometheus.Counter
	// InputErrors counts skipped input units
	InputErrors prometheus.Counter
	// QueueDepth is the number of records waiting for a pusher
	QueueDepth prometheus.Gauge
	// ActivePushers is the number of pushers not yet closed
	ActivePushers prometheus.Gauge
	// Throughput is the committed records per second of the last period
	Throughput prometheus.Gauge
	// CommitDuration is the distribution of commit latencies
	CommitDuration prometheus.Histogram
}

// NewLoaderMetrics registers the loader metrics with reg. A nil reg creates
// unregistered metrics, which is what tests want.
func NewLoaderMetrics(reg prometheus.Registerer) *LoaderMetrics {
	f := promauto.With(reg)

	return &LoaderMetrics{
		RecordsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_enqueued_total",
			Help:      "Total number of records put on the queue",
		}),
		RecordsAdded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_added_total",
			Help:      "Total number of records handed to a writer",
		}),
		RecordsCommitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_committed_total",
			Help:      "Total number of records covered by a successful commit",
		}),
		Commits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Total number of successful commits",
		}),
		WriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Total number of pushers stopped by a write error",
		}),
		InputErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_errors_total",
			Help:      "Total number of input units skipped",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of records waiting in the queue",
		}),
		ActivePushers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_pushers",
			Help:      "Number of pushers that have not closed yet",
		}),
		Throughput: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "throughput_records_per_second",
			Help:      "Committed records per second over the last progress period",
		}),
		CommitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Duration of writer commits",
			Buckets: []float64{
				0.001, // 1ms - in memory sinks
				0.01,  // 10ms - local databases
				0.05,
				0.1, // 100ms - network round trips
				0.5,
				1,  // 1s - large batches
				5,  // 5s - object uploads
				30, // 30s - slow warehouses
			},
		}),
	}
}

// Enqueued records one record put on the queue.
func (m *LoaderMetrics) Enqueued() {
	if m == nil {
		return
	}
	m.RecordsEnqueued.Inc()
}

// Added records one record handed to a writer.
func (m *LoaderMetrics) Added() {
	if m == nil {
		return
	}
	m.RecordsAdded.Inc()
}

// ObserveCommit records a successful commit of n records.
func (m *LoaderMetrics) ObserveCommit(d time.Duration, n int) {
	if m == nil {
		return
	}
	m.Commits.Inc()
	m.RecordsCommitted.Add(float64(n))
	m.CommitDuration.Observe(d.Seconds())
}

// WriteFailed records a pusher stopped by a write error.
func (m *LoaderMetrics) WriteFailed() {
	if m == nil {
		return
	}
	m.WriteErrors.Inc()
}

// InputFailed records a skipped input unit.
func (m *LoaderMetrics) InputFailed() {
	if m == nil {
		return
	}
	m.InputErrors.Inc()
}

// SetQueueDepth sets the queue depth gauge.
func (m *LoaderMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// PusherStarted increments the active pusher gauge.
func (m *LoaderMetrics) PusherStarted() {
	if m == nil {
		return
	}
	m.ActivePushers.Inc()
}

// PusherClosed decrements the active pusher gauge.
func (m *LoaderMetrics) PusherClosed() {
	if m == nil {
		return
	}
	m.ActivePushers.Dec()
}

// SetThroughput sets the throughput gauge.
func (m *LoaderMetrics) SetThroughput(v float64) {
	if m == nil {
		return
	}
	m.Throughput.Set(v)
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the name given at creation.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker computes records per second over successive periods.
// Safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	last      int64
	lastReset time.Time
}

// NewThroughputTracker creates a tracker starting now.
func NewThroughputTracker() *ThroughputTracker {
	return &ThroughputTracker{lastReset: time.Now()}
}

// Rate returns the rate at which total grew since the previous call and
// starts a new period.
func (t *ThroughputTracker) Rate(total int64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(t.lastReset).Seconds()
	delta := total - t.last
	t.last = total
	t.lastReset = now

	if elapsed <= 0 {
		return 0
	}
	return float64(delta) / elapsed
}

// Package memory provides an in-process sink that keeps statements in a set.
// It is the default sink of the CLI and the reference backend in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

func init() {
	sink.MustRegister(sink.Info{
		Name:        "memory",
		Description: "In-memory statement set, lost on exit",
		Options:     []string{"max_concurrency"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(cfg.MaxConcurrency), nil
	})
}

// Sink stores quads in memory. Identical quads are stored once.
type Sink struct {
	maxConcurrency int

	mu       sync.RWMutex
	quads    map[string]struct{}
	graphs   map[string]int
	writers  int
	commits  int
	shutdown bool
}

// New creates an empty memory sink. maxConcurrency is reported as is.
func New(maxConcurrency int) *Sink {
	return &Sink{
		maxConcurrency: maxConcurrency,
		quads:          make(map[string]struct{}),
		graphs:         make(map[string]int),
	}
}

// OpenWriter returns a writer whose commits merge into the shared set.
func (s *Sink) OpenWriter(ctx context.Context) (sink.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil, errors.New(errors.ErrorTypeClosed, "memory sink is shut down")
	}
	s.writers++
	return sink.NewBatchWriter("memory", 0, s.merge, nil), nil
}

func (s *Sink) merge(ctx context.Context, batch *models.RecordBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return errors.New(errors.ErrorTypeClosed, "memory sink is shut down")
	}
	batch.Quads(func(r *models.Record, graph string) {
		q := r.NQuad(graph)
		if _, ok := s.quads[q]; ok {
			return
		}
		s.quads[q] = struct{}{}
		s.graphs[graph]++
	})
	s.commits++
	return nil
}

// Shutdown marks the sink closed. Stored quads stay readable.
func (s *Sink) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	return nil
}

// MaxConcurrency returns the limit given to New.
func (s *Sink) MaxConcurrency() int {
	return s.maxConcurrency
}

// Len returns the number of distinct quads stored.
func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quads)
}

// GraphSize returns the number of quads stored in graph, "" being the
// default graph.
func (s *Sink) GraphSize(graph string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graphs[graph]
}

// Quads returns the stored quads as sorted N-Quads lines.
func (s *Sink) Quads() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.quads))
	for q := range s.quads {
		out = append(out, q)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Writers returns how many writers were opened.
func (s *Sink) Writers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writers
}

// Commits returns the number of non-empty commits merged.
func (s *Sink) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// IsShutdown reports whether Shutdown was called.
func (s *Sink) IsShutdown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

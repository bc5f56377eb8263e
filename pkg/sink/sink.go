// Package sink defines the storage capability the loader writes to.
//
// A Sink hands out Writers, one per pusher. A Writer is owned by a single
// goroutine for its whole life, so implementations do not need to lock
// around AddRecord, Commit and Close. The Sink itself must allow OpenWriter
// to be called from one goroutine while earlier writers are in use.
//
// Backends live in sub packages and register a Factory in init:
//
//	import _ "github.com/JervenBolleman/sesame-loader/pkg/sink/sqlite"
//
//	s, err := sink.Create(ctx, cfg)
package sink

import (
	"context"

	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

// Sink is a storage backend.
type Sink interface {
	// OpenWriter returns a new writer. Each call returns an independent
	// transactional scope.
	OpenWriter(ctx context.Context) (Writer, error)
	// Shutdown releases the backend. It is called once, after every writer
	// has been closed.
	Shutdown(ctx context.Context) error
	// MaxConcurrency is the number of writers the backend can sustain at
	// the same time, 0 when it does not impose a limit.
	MaxConcurrency() int
}

// Writer is a per pusher handle into a Sink.
type Writer interface {
	// AddRecord stages rec for the next commit. contexts are the graphs the
	// record is stored in, empty meaning the record's own graph.
	AddRecord(ctx context.Context, rec *models.Record, contexts []string) error
	// Commit makes every staged record durable.
	Commit(ctx context.Context) error
	// Close releases the writer. Records staged after the last successful
	// commit are discarded.
	Close(ctx context.Context) error
}

// ResolveGraphs returns the graphs rec is written to: contexts when any are
// given, otherwise the record's own graph ("" for the default graph).
func ResolveGraphs(rec *models.Record, contexts []string) []string {
	if len(contexts) > 0 {
		return contexts
	}
	return []string{rec.Graph}
}

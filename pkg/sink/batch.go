package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

// FlushFunc writes one batch to the backend. It must either store every
// record of the batch or return an error.
type FlushFunc func(ctx context.Context, batch *models.RecordBatch) error

// CloseFunc releases the backend resources held by one writer.
type CloseFunc func(ctx context.Context) error

// BatchWriter is a Writer that stages records in memory and hands them to a
// FlushFunc on Commit. Most backends are built on it.
type BatchWriter struct {
	name    string
	batch   *models.RecordBatch
	flush   FlushFunc
	closeFn CloseFunc
	closed  bool
	logger  *zap.Logger

	added     int64
	committed int64
	commits   int64
}

// NewBatchWriter creates a writer named name (used in logs and errors).
// capacity is a size hint for the staged batch, closeFn may be nil.
func NewBatchWriter(name string, capacity int, flush FlushFunc, closeFn CloseFunc) *BatchWriter {
	if capacity <= 0 {
		capacity = 1000
	}
	return &BatchWriter{
		name:    name,
		batch:   models.NewRecordBatch(capacity),
		flush:   flush,
		closeFn: closeFn,
		logger:  logger.Get().With(zap.String("component", "writer"), zap.String("writer", name)),
	}
}

// AddRecord stages rec.
func (w *BatchWriter) AddRecord(ctx context.Context, rec *models.Record, contexts []string) error {
	if w.closed {
		return errors.New(errors.ErrorTypeClosed, fmt.Sprintf("writer %s is closed", w.name))
	}
	if err := rec.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "invalid record").
			WithDetail("source", rec.Source)
	}
	w.batch.Add(rec, contexts)
	w.added++
	return nil
}

// Commit flushes the staged records. An empty batch is not flushed. When the
// flush fails the batch is kept so that Close can report what was lost.
func (w *BatchWriter) Commit(ctx context.Context) error {
	if w.closed {
		return errors.New(errors.ErrorTypeClosed, fmt.Sprintf("writer %s is closed", w.name))
	}
	n := w.batch.Size()
	if n == 0 {
		return nil
	}

	if err := w.flush(ctx, w.batch); err != nil {
		if errors.IsType(err, errors.ErrorTypeWrite) {
			return err
		}
		return errors.Wrap(err, errors.ErrorTypeWrite, fmt.Sprintf("commit of %d records failed", n)).
			WithDetail("writer", w.name)
	}

	w.committed += int64(n)
	w.commits++
	w.batch.Reset()
	return nil
}

// Close discards uncommitted records and releases the writer. Calling Close
// more than once is a no-op.
func (w *BatchWriter) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true

	if n := w.batch.Size(); n > 0 {
		w.logger.Warn("discarding uncommitted records", zap.Int("records", n))
		w.batch.Reset()
	}
	w.logger.Debug("writer closed",
		zap.Int64("added", w.added),
		zap.Int64("committed", w.committed),
		zap.Int64("commits", w.commits))

	if w.closeFn == nil {
		return nil
	}
	return w.closeFn(ctx)
}

// Pending returns the number of staged records.
func (w *BatchWriter) Pending() int {
	return w.batch.Size()
}

// Committed returns the number of records flushed successfully.
func (w *BatchWriter) Committed() int64 {
	return w.committed
}

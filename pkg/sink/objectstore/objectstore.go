// Package objectstore turns a bucket into a sink: every commit of every
// writer becomes one object.
//
// Object keys are
//
//	<prefix>/<run id>/part-<writer>-<commit><encoding ext><compression ext>
//
// The run id is generated once per sink so repeated loads never overwrite
// each other.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/compression"
	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

// Object is what a commit uploads.
type Object struct {
	Key             string
	Body            io.Reader
	Size            int64
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

// Uploader is a bucket client.
type Uploader interface {
	// Upload stores obj, replacing any object with the same key.
	Upload(ctx context.Context, obj *Object) error
	// Close releases the client.
	Close() error
}

// Sink writes objects through an Uploader.
type Sink struct {
	uploader  Uploader
	name      string
	prefix    string
	runID     string
	encoding  sink.Encoding
	algorithm compression.Algorithm
	level     compression.Level
	writers   atomic.Int64
	objects   atomic.Int64
	logger    *zap.Logger
}

// New reads the prefix, encoding and compression settings from cfg. name is
// the sink type used in logs.
func New(name string, uploader Uploader, cfg *config.SinkConfig) (*Sink, error) {
	enc, err := sink.ParseEncoding(cfg.Option("encoding", ""))
	if err != nil {
		return nil, err
	}
	alg, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("invalid %s sink compression", name))
	}

	runID := cfg.Option("run_id", uuid.NewString())
	return &Sink{
		uploader:  uploader,
		name:      name,
		prefix:    cfg.Prefix,
		runID:     runID,
		encoding:  enc,
		algorithm: alg,
		level:     compression.Level(cfg.IntOption("compression_level", int(compression.Default))),
		logger: logger.Get().With(
			zap.String("component", name+"_sink"),
			zap.String("run_id", runID)),
	}, nil
}

// RunID returns the path segment shared by every object of this sink.
func (s *Sink) RunID() string {
	return s.runID
}

// OpenWriter returns a writer that uploads one object per commit.
func (s *Sink) OpenWriter(ctx context.Context) (sink.Writer, error) {
	w := &objectWriter{sink: s, index: s.writers.Add(1)}
	return sink.NewBatchWriter(s.name, 0, w.flush, nil), nil
}

// Shutdown closes the uploader.
func (s *Sink) Shutdown(ctx context.Context) error {
	if err := s.uploader.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to close %s client", s.name))
	}
	s.logger.Info("object store sink shut down", zap.Int64("objects", s.objects.Load()))
	return nil
}

// MaxConcurrency is unbounded, writers never share an object.
func (s *Sink) MaxConcurrency() int {
	return 0
}

// Key returns the object key of a writer's commit.
func (s *Sink) Key(writer, commit int64) string {
	name := fmt.Sprintf("part-%05d-%06d%s%s", writer, commit, s.encoding.Extension(), compression.Extension(s.algorithm))
	return path.Join(s.prefix, s.runID, name)
}

type objectWriter struct {
	sink    *Sink
	index   int64
	commits int64
}

func (w *objectWriter) flush(ctx context.Context, batch *models.RecordBatch) error {
	s := w.sink
	var buf bytes.Buffer
	cw, err := compression.NewWriter(s.algorithm, &buf, s.level)
	if err != nil {
		return err
	}
	if err := s.encoding.WriteBatch(cw, batch); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}

	obj := &Object{
		Key:             s.Key(w.index, w.commits+1),
		Body:            bytes.NewReader(buf.Bytes()),
		Size:            int64(buf.Len()),
		ContentType:     s.encoding.ContentType(),
		ContentEncoding: compression.ContentEncoding(s.algorithm),
		Metadata: map[string]string{
			"statements": fmt.Sprintf("%d", batch.QuadCount()),
			"run-id":     s.runID,
		},
	}
	if err := s.uploader.Upload(ctx, obj); err != nil {
		return err
	}
	w.commits++
	s.objects.Add(1)
	s.logger.Debug("object uploaded", zap.String("key", obj.Key), zap.Int64("bytes", obj.Size))
	return nil
}

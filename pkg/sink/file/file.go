// Package file writes statements to part files in a directory, one file per
// writer, optionally compressed.
package file

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/compression"
	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/logger"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

func init() {
	sink.MustRegister(sink.Info{
		Name:        "file",
		Description: "Part files in a directory (N-Quads or JSON lines), optionally compressed",
		Options:     []string{"location", "compression", "encoding", "compression_level"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(cfg)
	})
}

// Sink writes part-NNNNN files below a directory.
type Sink struct {
	dir       string
	encoding  sink.Encoding
	algorithm compression.Algorithm
	level     compression.Level
	parts     atomic.Int64
	logger    *zap.Logger
}

// New creates the target directory when it does not exist yet.
func New(cfg *config.SinkConfig) (*Sink, error) {
	if cfg.Location == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "file sink requires a location")
	}
	enc, err := sink.ParseEncoding(cfg.Option("encoding", ""))
	if err != nil {
		return nil, err
	}
	alg, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid file sink compression")
	}
	if err := os.MkdirAll(cfg.Location, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create output directory").
			WithDetail("location", cfg.Location)
	}

	return &Sink{
		dir:       cfg.Location,
		encoding:  enc,
		algorithm: alg,
		level:     compression.Level(cfg.IntOption("compression_level", int(compression.Default))),
		logger:    logger.Get().With(zap.String("component", "file_sink"), zap.String("dir", cfg.Location)),
	}, nil
}

// OpenWriter creates the next part file.
func (s *Sink) OpenWriter(ctx context.Context) (sink.Writer, error) {
	n := s.parts.Add(1)
	name := fmt.Sprintf("part-%05d%s%s", n, s.encoding.Extension(), compression.Extension(s.algorithm))
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeWrite, "failed to create part file").
			WithDetail("path", path)
	}
	buf := bufio.NewWriterSize(f, 256*1024)
	cw, err := compression.NewWriter(s.algorithm, buf, s.level)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create compressor")
	}

	pw := &partWriter{file: f, buf: buf, compressor: cw, encoding: s.encoding}
	s.logger.Debug("part file opened", zap.String("path", path))
	return sink.NewBatchWriter(name, 0, pw.write, pw.close), nil
}

// Shutdown has nothing to release, every part file is closed by its writer.
func (s *Sink) Shutdown(ctx context.Context) error {
	s.logger.Info("file sink shut down", zap.Int64("parts", s.parts.Load()))
	return nil
}

// MaxConcurrency is unbounded, writers never share a file.
func (s *Sink) MaxConcurrency() int {
	return 0
}

type flusher interface {
	Flush() error
}

type partWriter struct {
	file       *os.File
	buf        *bufio.Writer
	compressor io.WriteCloser
	encoding   sink.Encoding
}

// write encodes the batch and pushes it through to stable storage.
func (p *partWriter) write(ctx context.Context, batch *models.RecordBatch) error {
	if err := p.encoding.WriteBatch(p.compressor, batch); err != nil {
		return err
	}
	if f, ok := p.compressor.(flusher); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	if err := p.buf.Flush(); err != nil {
		return err
	}
	return p.file.Sync()
}

func (p *partWriter) close(ctx context.Context) error {
	err := p.compressor.Close()
	if ferr := p.buf.Flush(); err == nil {
		err = ferr
	}
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWrite, "failed to close part file").
			WithDetail("path", p.file.Name())
	}
	return nil
}

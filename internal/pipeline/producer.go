package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/compression"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/format"
	"github.com/JervenBolleman/sesame-loader/pkg/metrics"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/observability"
)

// UnitResult reports what happened to one input unit.
type UnitResult struct {
	// Name is the file name, or the format name for a stream
	Name string
	// Format is the detected or requested format
	Format string
	// Records is the number of records enqueued from the unit
	Records int64
	// Err is the failure that stopped reading the unit
	Err error
}

// ProduceResult summarizes a producer run.
type ProduceResult struct {
	Units    []UnitResult
	Enqueued int64
	Skipped  int
}

func (r *ProduceResult) add(u UnitResult) {
	r.Units = append(r.Units, u)
	r.Enqueued += u.Records
	if u.Err != nil && !errors.IsType(u.Err, errors.ErrorTypeInterrupted) {
		r.Skipped++
	}
}

// Producer decodes input units and puts their records on the queue. It is
// driven by a single goroutine.
type Producer struct {
	queue   *BoundedQueue
	formats *format.Registry
	logger  *zap.Logger
	metrics *metrics.LoaderMetrics

	// bnodeTag prefixes relabeled blank nodes, empty keeps labels as read
	bnodeTag string
	units    int
	enqueued atomic.Int64
}

// NewProducer creates a producer feeding queue. A non-empty bnodeTag scopes
// blank node labels to their input unit.
func NewProducer(queue *BoundedQueue, formats *format.Registry, bnodeTag string,
	logger *zap.Logger, m *metrics.LoaderMetrics) *Producer {
	if formats == nil {
		formats = format.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		queue:    queue,
		formats:  formats,
		logger:   logger.With(zap.String("component", "producer")),
		metrics:  m,
		bnodeTag: bnodeTag,
	}
}

// Enqueued returns the number of records put on the queue so far.
func (p *Producer) Enqueued() int64 {
	return p.enqueued.Load()
}

// LoadPath reads a file, or every visible file directly inside a directory
// in name order. A unit that cannot be read is logged and skipped. The
// returned error is an input error when root itself cannot be read, or an
// interrupted error when a put was cancelled.
func (p *Producer) LoadPath(ctx context.Context, root, baseURI string) (*ProduceResult, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanProduce, attribute.String("path", root))
	result := &ProduceResult{}

	info, err := os.Stat(root)
	if err != nil {
		ierr := errors.Wrap(err, errors.ErrorTypeInput, "cannot read input path").WithDetail("path", root)
		p.metrics.InputFailed()
		p.logger.Error("cannot read input path", zap.String("path", root), zap.Error(ierr))
		observability.EndSpan(span, ierr)
		return result, ierr
	}

	if !info.IsDir() {
		u := p.loadFile(ctx, root, baseURI)
		result.add(u)
		if errors.IsType(u.Err, errors.ErrorTypeInterrupted) {
			observability.EndSpan(span, u.Err)
			return result, u.Err
		}
		observability.EndSpan(span, nil)
		return result, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		ierr := errors.Wrap(err, errors.ErrorTypeInput, "cannot list input directory").WithDetail("path", root)
		p.metrics.InputFailed()
		p.logger.Error("cannot list input directory", zap.String("path", root), zap.Error(ierr))
		observability.EndSpan(span, ierr)
		return result, ierr
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			p.logger.Debug("skipping subdirectory", zap.String("name", name))
			continue
		}

		u := p.loadFile(ctx, filepath.Join(root, name), baseURI)
		result.add(u)
		if errors.IsType(u.Err, errors.ErrorTypeInterrupted) {
			p.logger.Info("production interrupted", zap.String("unit", name))
			observability.EndSpan(span, u.Err)
			return result, u.Err
		}
	}

	observability.EndSpan(span, nil)
	return result, nil
}

// LoadStream reads one stream in the named format. Unlike LoadPath, a parse
// failure is returned to the caller.
func (p *Producer) LoadStream(ctx context.Context, r io.Reader, formatName, baseURI string) (*ProduceResult, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanProduce, attribute.String("format", formatName))
	result := &ProduceResult{}

	f, ok := p.formats.Lookup(formatName)
	if !ok {
		err := errors.New(errors.ErrorTypeInput, "unknown format").
			WithDetail("format", formatName).
			WithDetail("available", p.formats.List())
		p.metrics.InputFailed()
		observability.EndSpan(span, err)
		return result, err
	}

	u := p.decode(ctx, f, r, f.Name, baseURI)
	result.add(u)
	if u.Err != nil {
		if !errors.IsType(u.Err, errors.ErrorTypeInterrupted) {
			p.metrics.InputFailed()
		}
		observability.EndSpan(span, u.Err)
		return result, u.Err
	}

	p.logger.Info("stream read", zap.String("format", f.Name), zap.Int64("records", u.Records))
	observability.EndSpan(span, nil)
	return result, nil
}

func (p *Producer) loadFile(ctx context.Context, path, baseURI string) UnitResult {
	name := filepath.Base(path)
	alg, short := compression.DetectFromFileName(name)

	f, ok := p.formats.ForFileName(short)
	if !ok {
		return p.skip(UnitResult{Name: name, Err: errors.New(errors.ErrorTypeInput, "no format for file name").
			WithDetail("file", name)})
	}

	file, err := os.Open(path)
	if err != nil {
		return p.skip(UnitResult{Name: name, Format: f.Name,
			Err: errors.Wrap(err, errors.ErrorTypeInput, "cannot open input file")})
	}
	defer file.Close()

	r, err := compression.NewReader(alg, file)
	if err != nil {
		return p.skip(UnitResult{Name: name, Format: f.Name,
			Err: errors.Wrap(err, errors.ErrorTypeInput, "cannot decompress input file")})
	}
	defer r.Close()

	u := p.decode(ctx, f, r, name, baseURI)
	if u.Err != nil {
		if errors.IsType(u.Err, errors.ErrorTypeInterrupted) {
			return u
		}
		return p.skip(u)
	}

	p.logger.Info(name+" read",
		zap.String("format", f.Name),
		zap.String("compression", string(alg)),
		zap.Int64("records", u.Records))
	return u
}

func (p *Producer) decode(ctx context.Context, f format.Format, r io.Reader, name, baseURI string) UnitResult {
	ctx, span := observability.StartSpan(ctx, observability.SpanUnit,
		attribute.String("unit", name),
		attribute.String("format", f.Name))

	p.units++
	scope := p.unitScope()
	u := UnitResult{Name: name, Format: f.Name}

	err := f.Decoder.Decode(ctx, r, baseURI, func(rec *models.Record) error {
		c := *rec
		c.Source = name
		if scope != "" {
			c.Subject = relabel(c.Subject, scope)
			c.Object = relabel(c.Object, scope)
			c.Graph = relabel(c.Graph, scope)
		}
		if err := p.queue.Put(ctx, &c); err != nil {
			return err
		}
		u.Records++
		p.enqueued.Add(1)
		p.metrics.Enqueued()
		return nil
	})

	switch {
	case err == nil:
	case errors.IsType(err, errors.ErrorTypeInterrupted), errors.IsType(err, errors.ErrorTypeInput):
		u.Err = err
	case ctx.Err() != nil:
		u.Err = errors.Wrap(err, errors.ErrorTypeInterrupted, "decoding interrupted")
	default:
		u.Err = errors.Wrap(err, errors.ErrorTypeInput, "failed to decode input")
	}
	observability.EndSpan(span, u.Err)
	return u
}

func (p *Producer) skip(u UnitResult) UnitResult {
	p.metrics.InputFailed()
	p.logger.Error("skipping input unit",
		zap.String("unit", u.Name),
		zap.String("format", u.Format),
		zap.Int64("records_enqueued", u.Records),
		zap.Error(u.Err))
	return u
}

// unitScope returns the blank node prefix of the current unit.
func (p *Producer) unitScope() string {
	if p.bnodeTag == "" {
		return ""
	}
	return p.bnodeTag + "u" + strconv.Itoa(p.units) + "_"
}

func relabel(term, scope string) string {
	if !models.IsBlank(term) {
		return term
	}
	return "_:" + scope + term[2:]
}

package sink

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

func rec(o string) *models.Record {
	return models.NewRecord("<http://ex.org/s>", "<http://ex.org/p>", o)
}

func TestResolveGraphs(t *testing.T) {
	r := rec(`"x"`).WithGraph("<http://ex.org/own>")

	assert.Equal(t, []string{"<http://ex.org/own>"}, ResolveGraphs(r, nil))
	assert.Equal(t, []string{""}, ResolveGraphs(rec(`"x"`), nil))

	ctxs := []string{"<http://ex.org/a>", "<http://ex.org/b>"}
	assert.Equal(t, ctxs, ResolveGraphs(r, ctxs))
}

type nopSink struct{}

func (nopSink) OpenWriter(context.Context) (Writer, error) { return nil, nil }
func (nopSink) Shutdown(context.Context) error             { return nil }
func (nopSink) MaxConcurrency() int                        { return 0 }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	factory := func(ctx context.Context, cfg *config.SinkConfig) (Sink, error) {
		return nopSink{}, nil
	}

	require.NoError(t, r.Register(Info{Name: "nop", Description: "does nothing"}, factory))
	err := r.Register(Info{Name: "nop"}, factory)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	s, err := r.Create(context.Background(), config.NewSinkConfig("nop"))
	require.NoError(t, err)
	assert.Equal(t, 0, s.MaxConcurrency())

	_, err = r.Create(context.Background(), config.NewSinkConfig("missing"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = r.Create(context.Background(), config.NewSinkConfig(""))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	info, ok := r.Info("nop")
	require.True(t, ok)
	assert.Equal(t, "does nothing", info.Description)
	assert.True(t, r.Has("nop"))
	assert.Equal(t, []string{"nop"}, r.List())
}

func TestRegistryWrapsFactoryErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Info{Name: "broken"}, func(context.Context, *config.SinkConfig) (Sink, error) {
		return nil, stderrors.New("boom")
	}))

	_, err := r.Create(context.Background(), config.NewSinkConfig("broken"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "boom")
}

func TestBatchWriter(t *testing.T) {
	ctx := context.Background()
	var flushed [][]string
	closed := 0
	w := NewBatchWriter("test", 4, func(ctx context.Context, b *models.RecordBatch) error {
		var quads []string
		b.Quads(func(r *models.Record, g string) {
			quads = append(quads, r.NQuad(g))
		})
		flushed = append(flushed, quads)
		return nil
	}, func(context.Context) error {
		closed++
		return nil
	})

	require.NoError(t, w.Commit(ctx), "empty commit")
	assert.Empty(t, flushed)

	require.NoError(t, w.AddRecord(ctx, rec(`"1"`), nil))
	require.NoError(t, w.AddRecord(ctx, rec(`"2"`), []string{"<http://ex.org/a>", "<http://ex.org/b>"}))
	assert.Equal(t, 2, w.Pending())
	require.NoError(t, w.Commit(ctx))

	require.Len(t, flushed, 1)
	assert.Equal(t, []string{
		`<http://ex.org/s> <http://ex.org/p> "1" .`,
		`<http://ex.org/s> <http://ex.org/p> "2" <http://ex.org/a> .`,
		`<http://ex.org/s> <http://ex.org/p> "2" <http://ex.org/b> .`,
	}, flushed[0])
	assert.Equal(t, 0, w.Pending())
	assert.Equal(t, int64(2), w.Committed())

	err := w.AddRecord(ctx, models.NewRecord("", "<http://ex.org/p>", `"x"`), nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeWrite))

	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, 1, closed)

	err = w.AddRecord(ctx, rec(`"3"`), nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeClosed))
	assert.True(t, errors.IsType(w.Commit(ctx), errors.ErrorTypeClosed))
}

func TestBatchWriterFailedCommitKeepsBatch(t *testing.T) {
	ctx := context.Background()
	boom := stderrors.New("disk full")
	w := NewBatchWriter("failing", 0, func(context.Context, *models.RecordBatch) error {
		return boom
	}, nil)

	require.NoError(t, w.AddRecord(ctx, rec(`"1"`), nil))
	err := w.Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeWrite))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, w.Pending())

	require.NoError(t, w.Close(ctx))
	assert.Equal(t, 0, w.Pending())
}

func fastRetry(cfg *config.SinkConfig) *config.SinkConfig {
	cfg.Reliability.RetryDelay = time.Millisecond
	cfg.Reliability.MaxRetryDelay = 2 * time.Millisecond
	cfg.Timeouts.Connection = time.Second
	return cfg
}

func TestConnectRetries(t *testing.T) {
	cfg := fastRetry(config.NewSinkConfig("test"))
	calls := 0
	err := Connect(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls < 3 {
			return stderrors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestConnectGivesUp(t *testing.T) {
	cfg := fastRetry(config.NewSinkConfig("test"))
	cfg.Reliability.RetryAttempts = 2
	calls := 0
	err := Connect(context.Background(), cfg, func(context.Context) error {
		calls++
		return stderrors.New("refused")
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	assert.Equal(t, 3, calls, "first attempt plus two retries")
}

func TestConnectStopsOnConfigError(t *testing.T) {
	cfg := fastRetry(config.NewSinkConfig("test"))
	calls := 0
	err := Connect(context.Background(), cfg, func(context.Context) error {
		calls++
		return errors.New(errors.ErrorTypeConfig, "bad dsn")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

func newTestSink(t *testing.T) (*Sink, *miniredis.Miniredis) {
	t.Helper()
	db, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr:             db.Addr(),
		Protocol:         2,
		DisableIndentity: true,
	})
	return NewWithClient(client, "rdf:"), db
}

func TestRedisSink(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSink(t)
	defer db.Close()

	w, err := s.OpenWriter(ctx)
	require.NoError(t, err)

	r := models.NewRecord("<http://ex.org/s>", "<http://ex.org/p>", `"v"`)
	require.NoError(t, w.AddRecord(ctx, r, nil))
	require.NoError(t, w.AddRecord(ctx, r, nil))
	require.NoError(t, w.AddRecord(ctx, r, []string{"<http://ex.org/g>"}))
	require.NoError(t, w.Commit(ctx))
	require.NoError(t, w.Close(ctx))

	members, err := db.Members("rdf:graph:default")
	require.NoError(t, err)
	assert.Equal(t, []string{`<http://ex.org/s> <http://ex.org/p> "v" .`}, members)

	members, err = db.Members("rdf:graph:<http://ex.org/g>")
	require.NoError(t, err)
	assert.Len(t, members, 1)

	graphs, err := db.Members("rdf:graphs")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rdf:graph:default", "rdf:graph:<http://ex.org/g>"}, graphs)

	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, 0, s.MaxConcurrency())
}

func TestRedisSinkCommitFailsWhenServerGone(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSink(t)

	w, err := s.OpenWriter(ctx)
	require.NoError(t, err)
	require.NoError(t, w.AddRecord(ctx, models.NewRecord("<http://ex.org/s>", "<http://ex.org/p>", `"v"`), nil))

	db.Close()
	err = w.Commit(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeWrite))
	require.NoError(t, w.Close(ctx))
}

func TestNewConfigErrors(t *testing.T) {
	_, err := New(context.Background(), config.NewSinkConfig("redis"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg := config.NewSinkConfig("redis")
	cfg.DSN = "http://localhost"
	_, err = New(context.Background(), cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	s := New(2)
	assert.Equal(t, 2, s.MaxConcurrency())

	w1, err := s.OpenWriter(ctx)
	require.NoError(t, err)
	w2, err := s.OpenWriter(ctx)
	require.NoError(t, err)

	r := models.NewRecord("<http://ex.org/s>", "<http://ex.org/p>", `"v"`)
	require.NoError(t, w1.AddRecord(ctx, r, nil))
	require.NoError(t, w2.AddRecord(ctx, r, nil))
	require.NoError(t, w2.AddRecord(ctx, r, []string{"<http://ex.org/g>"}))

	assert.Equal(t, 0, s.Len(), "nothing visible before commit")
	require.NoError(t, w1.Commit(ctx))
	require.NoError(t, w2.Commit(ctx))

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.GraphSize(""))
	assert.Equal(t, 1, s.GraphSize("<http://ex.org/g>"))
	assert.Equal(t, []string{
		`<http://ex.org/s> <http://ex.org/p> "v" .`,
		`<http://ex.org/s> <http://ex.org/p> "v" <http://ex.org/g> .`,
	}, s.Quads())
	assert.Equal(t, 2, s.Writers())
	assert.Equal(t, 2, s.Commits())

	require.NoError(t, w1.Close(ctx))
	require.NoError(t, w2.Close(ctx))
	require.NoError(t, s.Shutdown(ctx))
	assert.True(t, s.IsShutdown())

	_, err = s.OpenWriter(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeClosed))
}

func TestMemoryRegistered(t *testing.T) {
	cfg := config.NewSinkConfig("memory")
	cfg.MaxConcurrency = 3
	s, err := sink.Create(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, s.MaxConcurrency())
}

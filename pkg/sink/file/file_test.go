package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JervenBolleman/sesame-loader/pkg/compression"
	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

func newConfig(t *testing.T, alg string, opts map[string]string) *config.SinkConfig {
	cfg := config.NewSinkConfig("file")
	cfg.Location = filepath.Join(t.TempDir(), "out")
	cfg.Compression = alg
	for k, v := range opts {
		cfg.Options[k] = v
	}
	return cfg
}

func writeTwo(t *testing.T, s *Sink) {
	ctx := context.Background()
	w, err := s.OpenWriter(ctx)
	require.NoError(t, err)
	require.NoError(t, w.AddRecord(ctx, models.NewRecord("<http://ex.org/s>", "<http://ex.org/p>", `"a"`), nil))
	require.NoError(t, w.Commit(ctx))
	require.NoError(t, w.AddRecord(ctx, models.NewRecord("<http://ex.org/s>", "<http://ex.org/p>", `"b"`),
		[]string{"<http://ex.org/g>"}))
	require.NoError(t, w.Commit(ctx))
	require.NoError(t, w.Close(ctx))
	require.NoError(t, s.Shutdown(ctx))
}

func TestFileSinkNQuads(t *testing.T) {
	for _, alg := range []string{"", "gzip", "zstd", "lz4", "snappy", "s2"} {
		t.Run("alg="+alg, func(t *testing.T) {
			cfg := newConfig(t, alg, nil)
			s, err := New(cfg)
			require.NoError(t, err)
			writeTwo(t, s)

			a, _ := compression.ParseAlgorithm(alg)
			path := filepath.Join(cfg.Location, "part-00001.nq"+compression.Extension(a))
			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			data, err := compression.Decompress(a, raw)
			require.NoError(t, err)

			assert.Equal(t,
				"<http://ex.org/s> <http://ex.org/p> \"a\" .\n"+
					"<http://ex.org/s> <http://ex.org/p> \"b\" <http://ex.org/g> .\n",
				string(data))
		})
	}
}

func TestFileSinkJSONL(t *testing.T) {
	cfg := newConfig(t, "", map[string]string{"encoding": "jsonl"})
	s, err := New(cfg)
	require.NoError(t, err)
	writeTwo(t, s)

	data, err := os.ReadFile(filepath.Join(cfg.Location, "part-00001.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var r models.Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &r))
	assert.Equal(t, "<http://ex.org/g>", r.Graph)
	assert.Equal(t, `"b"`, r.Object)
}

func TestFileSinkOneFilePerWriter(t *testing.T) {
	cfg := newConfig(t, "", nil)
	s, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		w, err := s.OpenWriter(ctx)
		require.NoError(t, err)
		require.NoError(t, w.Close(ctx))
	}

	entries, err := os.ReadDir(cfg.Location)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestFileSinkConfigErrors(t *testing.T) {
	_, err := New(config.NewSinkConfig("file"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New(newConfig(t, "brotli", nil))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New(newConfig(t, "", map[string]string{"encoding": "turtle"}))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

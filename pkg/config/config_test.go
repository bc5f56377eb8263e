package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JervenBolleman/sesame-loader/pkg/errors"
)

func TestLoaderConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *LoaderConfig)
		ok     bool
	}{
		{"defaults", func(c *LoaderConfig) {}, true},
		{"zero concurrency", func(c *LoaderConfig) { c.Concurrency = 0 }, false},
		{"negative commit", func(c *LoaderConfig) { c.CommitEvery = -1 }, false},
		{"zero queue", func(c *LoaderConfig) { c.QueueCapacity = 0 }, false},
		{"zero poll", func(c *LoaderConfig) { c.PollTimeout = 0 }, false},
		{"zero wait", func(c *LoaderConfig) { c.WaitInterval = 0 }, false},
		{"progress disabled", func(c *LoaderConfig) { c.ProgressInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultLoaderConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestLoadFileKeepsDefaultsAndSubstitutesEnv(t *testing.T) {
	t.Setenv("LOADER_TEST_DSN", "file:test.db")

	path := filepath.Join(t.TempDir(), "load.yaml")
	content := `
loader:
  concurrency: 3
  contexts:
    - <http://example.org/g>
sink:
  type: sqlite
  dsn: ${LOADER_TEST_DSN}
  options:
    journal: wal
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	f, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 3, f.Loader.Concurrency)
	assert.Equal(t, 1000, f.Loader.CommitEvery)
	assert.Equal(t, 100*time.Millisecond, f.Loader.PollTimeout)
	assert.Equal(t, []string{"<http://example.org/g>"}, f.Loader.Contexts)
	assert.Equal(t, "sqlite", f.Sink.Type)
	assert.Equal(t, "file:test.db", f.Sink.DSN)
	assert.Equal(t, "wal", f.Sink.Option("journal", ""))
	assert.Equal(t, 30*time.Second, f.Sink.Timeouts.Connection)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "load.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loader:\n  concurrency: -2\n"), 0600))

	_, err := LoadFile(path)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("A_VAR", "x")
	assert.Equal(t, "x-x-", substituteEnvVars("${A_VAR}-${A_VAR}-${UNSET_LOADER_VAR}"))
	assert.Equal(t, "no vars", substituteEnvVars("no vars"))
	assert.Equal(t, "open ${", substituteEnvVars("open ${"))
}

func TestSinkConfigIntOption(t *testing.T) {
	cfg := NewSinkConfig("postgres")
	cfg.Options["pool_size"] = "12"
	cfg.Options["bad"] = "twelve"

	assert.Equal(t, 12, cfg.IntOption("pool_size", 4))
	assert.Equal(t, 4, cfg.IntOption("bad", 4))
	assert.Equal(t, 4, cfg.IntOption("missing", 4))
}

package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRoundTrip(t *testing.T) {
	original := []byte("<http://ex.org/s> <http://ex.org/p> \"content content content\" .\n" +
		"<http://ex.org/s> <http://ex.org/p> \"content content content\" .\n")

	for _, alg := range []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2, Deflate} {
		t.Run(string(alg), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(alg, &buf, Default)
			require.NoError(t, err)
			_, err = w.Write(original)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := NewReader(alg, &buf)
			require.NoError(t, err)
			defer r.Close()

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, original, got)
		})
	}
}

func TestCompressInMemory(t *testing.T) {
	data := bytes.Repeat([]byte("quad "), 100)

	compressed, err := Compress(Zstd, Best, data)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data))

	got, err := Decompress(Zstd, compressed)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDetectFromFileName(t *testing.T) {
	tests := []struct {
		name string
		alg  Algorithm
		rest string
	}{
		{"data.nt.gz", Gzip, "data.nt"},
		{"data.NQ.GZ", Gzip, "data.NQ"},
		{"data.nt.zst", Zstd, "data.nt"},
		{"data.nt.zstd", Zstd, "data.nt"},
		{"data.nt.lz4", LZ4, "data.nt"},
		{"data.nt.sz", Snappy, "data.nt"},
		{"data.nt.snappy", Snappy, "data.nt"},
		{"data.nt.s2", S2, "data.nt"},
		{"data.nt", None, "data.nt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alg, rest := DetectFromFileName(tt.name)
			assert.Equal(t, tt.alg, alg)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, None, alg)

	alg, err = ParseAlgorithm(" GZIP ")
	require.NoError(t, err)
	assert.Equal(t, Gzip, alg)

	_, err = ParseAlgorithm("brotli")
	assert.Error(t, err)
}

func TestExtensionMatchesDetection(t *testing.T) {
	for _, alg := range []Algorithm{Gzip, Snappy, LZ4, Zstd, S2} {
		detected, rest := DetectFromFileName("part-0.nq" + Extension(alg))
		assert.Equal(t, alg, detected)
		assert.Equal(t, "part-0.nq", rest)
	}
	assert.Empty(t, Extension(None))
}

func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := NewReader("brotli", bytes.NewReader(nil))
	assert.Error(t, err)
	_, err = NewWriter("brotli", io.Discard, Default)
	assert.Error(t, err)
}

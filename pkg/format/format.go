// Package format decodes input units into records.
//
// A Format couples a name and the file extensions it is recognized by with a
// Decoder. The producer looks formats up by file name, after the compression
// suffix has been stripped, or by name for stream loads.
//
// Decoders call emit for every record in input order. If emit returns an
// error the decoder stops and returns that error unchanged, which is how a
// shutdown interrupting the producer stops parsing. Malformed input yields an
// input error carrying the line (or record index) where parsing failed.
package format

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

// EmitFunc receives each decoded record.
type EmitFunc func(*models.Record) error

// Decoder turns a byte stream into records.
type Decoder interface {
	Decode(ctx context.Context, r io.Reader, baseURI string, emit EmitFunc) error
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, r io.Reader, baseURI string, emit EmitFunc) error

// Decode calls f.
func (f DecoderFunc) Decode(ctx context.Context, r io.Reader, baseURI string, emit EmitFunc) error {
	return f(ctx, r, baseURI, emit)
}

// Format describes one input syntax.
type Format struct {
	Name       string
	Extensions []string
	MediaType  string
	Decoder    Decoder
}

// Registry maps names and file extensions to formats.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Format
	byExt  map[string]Format
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Format),
		byExt:  make(map[string]Format),
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the registry holding the built-in formats.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		r := NewRegistry()
		for _, f := range builtins() {
			if err := r.Register(f); err != nil {
				panic(err)
			}
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

func builtins() []Format {
	return []Format{
		{Name: "ntriples", Extensions: []string{".nt"}, MediaType: "application/n-triples", Decoder: NewNTriplesDecoder()},
		{Name: "nquads", Extensions: []string{".nq"}, MediaType: "application/n-quads", Decoder: NewNQuadsDecoder()},
		{Name: "jsonl", Extensions: []string{".jsonl", ".ndjson"}, MediaType: "application/x-ndjson", Decoder: NewJSONLDecoder()},
		{Name: "csv", Extensions: []string{".csv"}, MediaType: "text/csv", Decoder: NewCSVDecoder()},
		{Name: "avro", Extensions: []string{".avro"}, MediaType: "application/avro", Decoder: NewAvroDecoder()},
	}
}

// Register adds a format. Names and extensions must not be registered yet.
func (r *Registry) Register(f Format) error {
	if f.Name == "" || f.Decoder == nil {
		return errors.New(errors.ErrorTypeConfig, "format needs a name and a decoder")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(f.Name)
	if _, exists := r.byName[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "format %s already registered", f.Name)
	}
	for _, ext := range f.Extensions {
		if other, exists := r.byExt[strings.ToLower(ext)]; exists {
			return errors.Newf(errors.ErrorTypeConfig, "extension %s already registered by %s", ext, other.Name)
		}
	}

	r.byName[name] = f
	for _, ext := range f.Extensions {
		r.byExt[strings.ToLower(ext)] = f
	}
	return nil
}

// Lookup finds a format by name.
func (r *Registry) Lookup(name string) (Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byName[strings.ToLower(name)]
	return f, ok
}

// ForFileName finds a format by the extension of name. Compression suffixes
// must already be removed.
func (r *Registry) ForFileName(name string) (Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byExt[strings.ToLower(filepath.Ext(name))]
	return f, ok
}

// List returns the registered format names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parseError builds the input error for a malformed line.
func parseError(line int, msg string, cause error) *errors.Error {
	var err *errors.Error
	if cause != nil {
		err = errors.Wrap(cause, errors.ErrorTypeInput, msg)
	} else {
		err = errors.New(errors.ErrorTypeInput, msg)
	}
	return err.WithDetail("line", line)
}

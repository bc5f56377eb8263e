package sink

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

// Encoding is the serialization used by sinks that write statements as
// bytes (files, objects, messages).
type Encoding string

const (
	// NQuads writes one N-Quads line per statement
	NQuads Encoding = "nquads"
	// JSONL writes one {"s","p","o","g"} object per line
	JSONL Encoding = "jsonl"
)

// ParseEncoding converts an option value to an Encoding, NQuads by default.
func ParseEncoding(name string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(name))); e {
	case "":
		return NQuads, nil
	case NQuads, JSONL:
		return e, nil
	default:
		return "", errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported encoding: %s", name))
	}
}

// Extension returns the file name extension of the encoding.
func (e Encoding) Extension() string {
	if e == JSONL {
		return ".jsonl"
	}
	return ".nq"
}

// ContentType returns the media type of the encoding.
func (e Encoding) ContentType() string {
	if e == JSONL {
		return "application/x-ndjson"
	}
	return "application/n-quads"
}

// Marshal encodes one statement placed in graph, without a line ending.
func (e Encoding) Marshal(r *models.Record, graph string) ([]byte, error) {
	if e != JSONL {
		return []byte(r.NQuad(graph)), nil
	}
	if graph != r.Graph {
		r = r.WithGraph(graph)
	}
	return json.Marshal(r)
}

// WriteBatch writes every statement of batch to w, one per line.
func (e Encoding) WriteBatch(w io.Writer, batch *models.RecordBatch) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	var err error
	batch.Quads(func(r *models.Record, graph string) {
		if err != nil {
			return
		}
		var line []byte
		if line, err = e.Marshal(r, graph); err != nil {
			return
		}
		if _, err = bw.Write(line); err != nil {
			return
		}
		err = bw.WriteByte('\n')
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

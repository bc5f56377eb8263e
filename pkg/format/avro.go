package format

import (
	"context"
	"fmt"
	"io"

	"github.com/linkedin/goavro/v2"
)

// StatementSchema is the Avro record schema read and written for
// statements. Extra fields in input files are ignored.
const StatementSchema = `{
  "type": "record",
  "name": "Statement",
  "namespace": "org.sesameloader",
  "fields": [
    {"name": "s", "type": "string"},
    {"name": "p", "type": "string"},
    {"name": "o", "type": "string"},
    {"name": "g", "type": ["null", "string"], "default": null}
  ]
}`

type avroDecoder struct{}

// NewAvroDecoder returns a decoder for Avro object container files whose
// records carry s, p, o and an optional g field.
func NewAvroDecoder() Decoder {
	return avroDecoder{}
}

func (avroDecoder) Decode(ctx context.Context, r io.Reader, baseURI string, emit EmitFunc) error {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return parseError(0, "failed to open Avro container", err)
	}

	index := 0
	for ocf.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		datum, err := ocf.Read()
		if err != nil {
			return parseError(index, "failed to read Avro record", err)
		}
		index++

		st, err := avroStatement(datum)
		if err != nil {
			return parseError(index, err.Error(), nil)
		}
		rec := st.record()
		if err := rec.Validate(); err != nil {
			return parseError(index, err.Error(), nil)
		}
		if err := emit(rec); err != nil {
			return err
		}
	}

	if err := ocf.Err(); err != nil {
		return parseError(index, "failed to read Avro container", err)
	}
	return nil
}

func avroStatement(datum interface{}) (*jsonStatement, error) {
	m, ok := datum.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an Avro record, got %T", datum)
	}
	return &jsonStatement{
		Subject:   avroString(m["s"]),
		Predicate: avroString(m["p"]),
		Object:    avroString(m["o"]),
		Graph:     avroString(m["g"]),
	}, nil
}

// avroString unwraps plain strings and the {"string": v} form goavro uses
// for union values.
func avroString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		if s, ok := t["string"].(string); ok {
			return s
		}
	}
	return ""
}

package format

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

// jsonStatement is one line of JSON lines input. Subject, predicate and
// graph may be bare IRIs. An object that is not already a term is read as a
// plain literal.
type jsonStatement struct {
	Subject   string `json:"s"`
	Predicate string `json:"p"`
	Object    string `json:"o"`
	Graph     string `json:"g"`
}

type jsonlDecoder struct{}

// NewJSONLDecoder returns a decoder for JSON lines, one statement object per
// line.
func NewJSONLDecoder() Decoder {
	return jsonlDecoder{}
}

func (jsonlDecoder) Decode(ctx context.Context, r io.Reader, baseURI string, emit EmitFunc) error {
	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		line, readErr := br.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return parseError(lineNo+1, "failed to read input", readErr)
		}
		if len(line) == 0 && readErr == io.EOF {
			return nil
		}
		lineNo++

		if err := ctx.Err(); err != nil {
			return err
		}

		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			var st jsonStatement
			if err := json.Unmarshal([]byte(trimmed), &st); err != nil {
				return parseError(lineNo, "invalid JSON statement", err)
			}
			rec := st.record()
			if err := rec.Validate(); err != nil {
				return parseError(lineNo, err.Error(), nil)
			}
			if err := emit(rec); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			return nil
		}
	}
}

func (st *jsonStatement) record() *models.Record {
	rec := models.NewRecord(models.IRI(st.Subject), models.IRI(st.Predicate), objectTerm(st.Object))
	rec.Graph = models.IRI(st.Graph)
	return rec
}

// objectTerm keeps IRI, blank node and literal terms and turns any other
// value into a plain literal.
func objectTerm(v string) string {
	if v == "" || models.IsIRI(v) || models.IsBlank(v) || models.IsLiteral(v) {
		return v
	}
	return Literal(v)
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// Literal returns the N-Triples form of a plain string literal.
func Literal(v string) string {
	return `"` + literalEscaper.Replace(v) + `"`
}

package format

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

// lineDecoder reads N-Triples, or N-Quads when quads is set. Terms keep
// their lexical form; only relative IRIs are rewritten against the base.
type lineDecoder struct {
	quads bool
}

// NewNTriplesDecoder returns a decoder for N-Triples.
func NewNTriplesDecoder() Decoder {
	return &lineDecoder{}
}

// NewNQuadsDecoder returns a decoder for N-Quads.
func NewNQuadsDecoder() Decoder {
	return &lineDecoder{quads: true}
}

func (d *lineDecoder) Decode(ctx context.Context, r io.Reader, baseURI string, emit EmitFunc) error {
	var base *url.URL
	if baseURI != "" {
		u, err := url.Parse(baseURI)
		if err != nil {
			return parseError(0, "invalid base URI", err)
		}
		base = u
	}

	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return parseError(lineNo+1, "failed to read input", readErr)
		}
		if line == "" && readErr == io.EOF {
			return nil
		}
		lineNo++

		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := parseStatement(strings.TrimRight(line, "\r\n"), d.quads, base)
		if err != nil {
			return parseError(lineNo, err.Error(), nil)
		}
		if rec != nil {
			if err := emit(rec); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			return nil
		}
	}
}

// parseStatement parses one line. Blank lines and comments yield nil.
func parseStatement(line string, quads bool, base *url.URL) (*models.Record, error) {
	sc := &termScanner{s: line, base: base}
	sc.skipWS()
	if sc.done() || sc.peek() == '#' {
		return nil, nil
	}

	subject, err := sc.term()
	if err != nil {
		return nil, err
	}
	if models.IsLiteral(subject) {
		return nil, fmt.Errorf("subject must be an IRI or blank node")
	}

	predicate, err := sc.term()
	if err != nil {
		return nil, err
	}
	if !models.IsIRI(predicate) {
		return nil, fmt.Errorf("predicate must be an IRI")
	}

	object, err := sc.term()
	if err != nil {
		return nil, err
	}

	rec := models.NewRecord(subject, predicate, object)

	sc.skipWS()
	if !sc.done() && sc.peek() != '.' {
		if !quads {
			return nil, fmt.Errorf("unexpected graph term in N-Triples")
		}
		graph, err := sc.term()
		if err != nil {
			return nil, err
		}
		if models.IsLiteral(graph) {
			return nil, fmt.Errorf("graph must be an IRI or blank node")
		}
		rec.Graph = graph
		sc.skipWS()
	}

	if sc.done() || sc.peek() != '.' {
		return nil, fmt.Errorf("expected '.' at column %d", sc.pos+1)
	}
	sc.pos++
	sc.skipWS()
	if !sc.done() && sc.peek() != '#' {
		return nil, fmt.Errorf("unexpected content after '.' at column %d", sc.pos+1)
	}

	return rec, nil
}

type termScanner struct {
	s    string
	pos  int
	base *url.URL
}

func (sc *termScanner) done() bool { return sc.pos >= len(sc.s) }

func (sc *termScanner) peek() byte { return sc.s[sc.pos] }

func (sc *termScanner) skipWS() {
	for sc.pos < len(sc.s) && (sc.s[sc.pos] == ' ' || sc.s[sc.pos] == '\t') {
		sc.pos++
	}
}

func (sc *termScanner) term() (string, error) {
	sc.skipWS()
	if sc.done() {
		return "", fmt.Errorf("unexpected end of line at column %d", sc.pos+1)
	}

	switch sc.peek() {
	case '<':
		return sc.iri()
	case '_':
		return sc.blank()
	case '"':
		return sc.literal()
	default:
		return "", fmt.Errorf("unexpected character %q at column %d", sc.peek(), sc.pos+1)
	}
}

func (sc *termScanner) iri() (string, error) {
	start := sc.pos
	end := strings.IndexByte(sc.s[start+1:], '>')
	if end < 0 {
		return "", fmt.Errorf("unterminated IRI at column %d", start+1)
	}
	value := sc.s[start+1 : start+1+end]
	sc.pos = start + end + 2
	if strings.ContainsAny(value, " \t\"{}|^`") {
		return "", fmt.Errorf("invalid character in IRI at column %d", start+1)
	}
	return "<" + sc.resolve(value) + ">", nil
}

func (sc *termScanner) blank() (string, error) {
	start := sc.pos
	if !strings.HasPrefix(sc.s[start:], "_:") {
		return "", fmt.Errorf("invalid blank node at column %d", start+1)
	}
	end := start + 2
	for end < len(sc.s) && sc.s[end] != ' ' && sc.s[end] != '\t' {
		end++
	}
	// a label cannot end with '.', so "_:b1." is the label b1 followed by the terminator
	for end > start+2 && sc.s[end-1] == '.' {
		end--
	}
	if end == start+2 {
		return "", fmt.Errorf("empty blank node label at column %d", start+1)
	}
	sc.pos = end
	return sc.s[start:end], nil
}

func (sc *termScanner) literal() (string, error) {
	start := sc.pos
	i := start + 1
	for ; i < len(sc.s); i++ {
		if sc.s[i] == '\\' {
			i++
			continue
		}
		if sc.s[i] == '"' {
			break
		}
	}
	if i >= len(sc.s) {
		return "", fmt.Errorf("unterminated literal at column %d", start+1)
	}
	sc.pos = i + 1

	switch {
	case sc.pos < len(sc.s) && sc.s[sc.pos] == '@':
		end := sc.pos + 1
		for end < len(sc.s) && isLangChar(sc.s[end]) {
			end++
		}
		if end == sc.pos+1 {
			return "", fmt.Errorf("empty language tag at column %d", sc.pos+1)
		}
		sc.pos = end
		return sc.s[start:end], nil
	case strings.HasPrefix(sc.s[sc.pos:], "^^"):
		lexical := sc.s[start:sc.pos]
		sc.pos += 2
		if sc.done() || sc.peek() != '<' {
			return "", fmt.Errorf("datatype must be an IRI at column %d", sc.pos+1)
		}
		dt, err := sc.iri()
		if err != nil {
			return "", err
		}
		return lexical + "^^" + dt, nil
	default:
		return sc.s[start:sc.pos], nil
	}
}

func (sc *termScanner) resolve(iri string) string {
	if sc.base == nil || hasScheme(iri) {
		return iri
	}
	ref, err := url.Parse(iri)
	if err != nil {
		return iri
	}
	return sc.base.ResolveReference(ref).String()
}

func isLangChar(c byte) bool {
	return c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// hasScheme reports whether iri starts with a URI scheme followed by ':'.
func hasScheme(iri string) bool {
	for i := 0; i < len(iri); i++ {
		c := iri[i]
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && ((c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.'):
		case c == ':':
			return i > 0
		default:
			return false
		}
	}
	return false
}

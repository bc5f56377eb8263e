// Package models provides the record type that flows through the loader.
//
// A Record is one RDF statement: subject, predicate, object and an optional
// graph. Terms are kept in their N-Triples lexical form so that every sink can
// store them without knowing about RDF term types:
//
//	<http://example.org/s>        IRI
//	_:b0                          blank node
//	"chat"@fr                     language tagged literal
//	"1"^^<http://www.w3.org/2001/XMLSchema#int>
//
// Records are immutable once produced. WithGraph returns a copy.
package models

import (
	"fmt"
	"strings"
)

// Record is a single statement read from an input unit.
type Record struct {
	// Subject is an IRI or blank node term
	Subject string `json:"s"`
	// Predicate is an IRI term
	Predicate string `json:"p"`
	// Object is an IRI, blank node or literal term
	Object string `json:"o"`
	// Graph is the record's own graph term, empty for the default graph
	Graph string `json:"g,omitempty"`
	// Source names the input unit the record was read from
	Source string `json:"-"`
}

// NewRecord creates a record in the default graph.
func NewRecord(subject, predicate, object string) *Record {
	return &Record{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
	}
}

// WithGraph returns a copy of the record placed in graph.
func (r *Record) WithGraph(graph string) *Record {
	c := *r
	c.Graph = graph
	return &c
}

// WithSource returns a copy of the record tagged with the input unit name.
func (r *Record) WithSource(source string) *Record {
	c := *r
	c.Source = source
	return &c
}

// Validate checks that subject, predicate and object are present.
func (r *Record) Validate() error {
	switch {
	case r.Subject == "":
		return fmt.Errorf("record has no subject")
	case r.Predicate == "":
		return fmt.Errorf("record has no predicate")
	case r.Object == "":
		return fmt.Errorf("record has no object")
	}
	return nil
}

// NQuad serializes the record as one N-Quads line, without the trailing
// newline. If graph is non-empty it overrides the record's own graph.
func (r *Record) NQuad(graph string) string {
	if graph == "" {
		graph = r.Graph
	}

	var b strings.Builder
	b.Grow(len(r.Subject) + len(r.Predicate) + len(r.Object) + len(graph) + 6)
	b.WriteString(r.Subject)
	b.WriteByte(' ')
	b.WriteString(r.Predicate)
	b.WriteByte(' ')
	b.WriteString(r.Object)
	if graph != "" {
		b.WriteByte(' ')
		b.WriteString(graph)
	}
	b.WriteString(" .")
	return b.String()
}

// NTriple serializes the statement without any graph.
func (r *Record) NTriple() string {
	return r.Subject + " " + r.Predicate + " " + r.Object + " ."
}

func (r *Record) String() string {
	return r.NQuad("")
}

// IsIRI reports whether term is an IRI term.
func IsIRI(term string) bool {
	return len(term) >= 2 && term[0] == '<' && term[len(term)-1] == '>'
}

// IsBlank reports whether term is a blank node term.
func IsBlank(term string) bool {
	return strings.HasPrefix(term, "_:")
}

// IsLiteral reports whether term is a literal term.
func IsLiteral(term string) bool {
	return strings.HasPrefix(term, "\"")
}

// IRI wraps a bare IRI into an IRI term. Terms are returned unchanged.
func IRI(value string) string {
	if IsIRI(value) || IsBlank(value) || value == "" {
		return value
	}
	return "<" + value + ">"
}

// RecordBatch accumulates records between two commits of a writer.
type RecordBatch struct {
	// Records holds the records in arrival order
	Records []*Record
	// Graphs holds, per record, the graphs it is written to
	Graphs [][]string
}

// NewRecordBatch creates a batch with the given capacity hint.
func NewRecordBatch(capacity int) *RecordBatch {
	return &RecordBatch{
		Records: make([]*Record, 0, capacity),
		Graphs:  make([][]string, 0, capacity),
	}
}

// Add appends a record and the graphs it targets.
func (rb *RecordBatch) Add(r *Record, graphs []string) {
	rb.Records = append(rb.Records, r)
	rb.Graphs = append(rb.Graphs, graphs)
}

// Reset empties the batch keeping its capacity.
func (rb *RecordBatch) Reset() {
	for i := range rb.Records {
		rb.Records[i] = nil
	}
	rb.Records = rb.Records[:0]
	rb.Graphs = rb.Graphs[:0]
}

// Size returns the number of records in the batch.
func (rb *RecordBatch) Size() int {
	return len(rb.Records)
}

// Quads calls fn for every (record, graph) pair in the batch. A record with no
// target graphs yields one call with its own graph.
func (rb *RecordBatch) Quads(fn func(r *Record, graph string)) {
	for i, r := range rb.Records {
		graphs := rb.Graphs[i]
		if len(graphs) == 0 {
			fn(r, r.Graph)
			continue
		}
		for _, g := range graphs {
			fn(r, g)
		}
	}
}

// QuadCount returns the number of (record, graph) pairs Quads would yield.
func (rb *RecordBatch) QuadCount() int {
	n := 0
	for _, graphs := range rb.Graphs {
		if len(graphs) == 0 {
			n++
			continue
		}
		n += len(graphs)
	}
	return n
}

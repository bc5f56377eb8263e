package format

import (
	"context"
	"io"

	"github.com/gocarina/gocsv"
)

// csvStatement is a CSV row. The header names the columns, graph is
// optional.
type csvStatement struct {
	Subject   string `csv:"subject"`
	Predicate string `csv:"predicate"`
	Object    string `csv:"object"`
	Graph     string `csv:"graph"`
}

type csvDecoder struct{}

// NewCSVDecoder returns a decoder for CSV files with a
// subject,predicate,object[,graph] header.
func NewCSVDecoder() Decoder {
	return csvDecoder{}
}

func (csvDecoder) Decode(ctx context.Context, r io.Reader, baseURI string, emit EmitFunc) error {
	rows := make(chan csvStatement)
	readErr := make(chan error, 1)
	go func() {
		readErr <- gocsv.UnmarshalToChan(r, rows)
	}()

	// Rows after a failure are drained so the reading goroutine can finish.
	var stopErr error
	line := 1
	for row := range rows {
		line++
		if stopErr != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			stopErr = err
			continue
		}

		st := jsonStatement(row)
		rec := st.record()
		if err := rec.Validate(); err != nil {
			stopErr = parseError(line, err.Error(), nil)
			continue
		}
		if err := emit(rec); err != nil {
			stopErr = err
		}
	}

	if err := <-readErr; err != nil && err != io.EOF && stopErr == nil {
		return parseError(line+1, "invalid CSV", err)
	}
	return stopErr
}

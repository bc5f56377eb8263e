package format

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/linkedin/goavro/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

func decodeAll(t *testing.T, d Decoder, input, base string) ([]*models.Record, error) {
	t.Helper()
	var got []*models.Record
	err := d.Decode(context.Background(), strings.NewReader(input), base, func(r *models.Record) error {
		got = append(got, r)
		return nil
	})
	return got, err
}

func TestNTriples(t *testing.T) {
	input := `# a comment
<http://ex.org/s> <http://ex.org/p> <http://ex.org/o> .

_:b1 <http://ex.org/p> "chat"@fr .
<http://ex.org/s> <http://ex.org/p> "1"^^<http://www.w3.org/2001/XMLSchema#int> . # trailing
<rel> <http://ex.org/p> "quote \" inside" .
_:b2 <http://ex.org/p> _:b3.`

	got, err := decodeAll(t, NewNTriplesDecoder(), input, "http://base.org/dir/")
	require.NoError(t, err)
	require.Len(t, got, 5)

	assert.Equal(t, "<http://ex.org/o>", got[0].Object)
	assert.Equal(t, "_:b1", got[1].Subject)
	assert.Equal(t, `"chat"@fr`, got[1].Object)
	assert.Equal(t, `"1"^^<http://www.w3.org/2001/XMLSchema#int>`, got[2].Object)
	assert.Equal(t, "<http://base.org/dir/rel>", got[3].Subject)
	assert.Equal(t, `"quote \" inside"`, got[3].Object)
	assert.Equal(t, "_:b3", got[4].Object)
	for _, r := range got {
		assert.Empty(t, r.Graph)
	}
}

func TestNTriplesErrorsCarryLine(t *testing.T) {
	input := "<http://ex.org/s> <http://ex.org/p> <http://ex.org/o> .\n" +
		"<http://ex.org/s> <http://ex.org/p> \"unterminated .\n"

	got, err := decodeAll(t, NewNTriplesDecoder(), input, "")
	require.Error(t, err)
	assert.Len(t, got, 1, "records before the error are emitted")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInput))

	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, 2, e.Details["line"])
}

func TestNTriplesRejects(t *testing.T) {
	bad := []string{
		`"lit" <http://ex.org/p> <http://ex.org/o> .`,
		`<http://ex.org/s> _:p <http://ex.org/o> .`,
		`<http://ex.org/s> <http://ex.org/p> <http://ex.org/o>`,
		`<http://ex.org/s> <http://ex.org/p> <http://ex.org/o> <http://ex.org/g> .`,
		`<http://ex.org/s> <http://ex.org/p> <http://ex.org/o> . junk`,
		`<http://ex.org/s <http://ex.org/p> <http://ex.org/o> .`,
	}
	for _, line := range bad {
		_, err := decodeAll(t, NewNTriplesDecoder(), line, "")
		assert.Error(t, err, line)
	}
}

func TestNQuads(t *testing.T) {
	input := "<http://ex.org/s> <http://ex.org/p> <http://ex.org/o> <http://ex.org/g> .\n" +
		"<http://ex.org/s> <http://ex.org/p> \"x\" .\r\n"

	got, err := decodeAll(t, NewNQuadsDecoder(), input, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "<http://ex.org/g>", got[0].Graph)
	assert.Empty(t, got[1].Graph)
}

func TestEmitErrorStopsDecoding(t *testing.T) {
	input := strings.Repeat("<http://ex.org/s> <http://ex.org/p> <http://ex.org/o> .\n", 10)
	stop := stderrors.New("stop")

	n := 0
	err := NewNTriplesDecoder().Decode(context.Background(), strings.NewReader(input), "", func(*models.Record) error {
		n++
		if n == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, n)
}

func TestJSONL(t *testing.T) {
	input := `{"s":"http://ex.org/s","p":"http://ex.org/p","o":"plain \"text\""}
{"s":"_:b1","p":"<http://ex.org/p>","o":"<http://ex.org/o>","g":"http://ex.org/g"}

`
	got, err := decodeAll(t, NewJSONLDecoder(), input, "")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "<http://ex.org/s>", got[0].Subject)
	assert.Equal(t, `"plain \"text\""`, got[0].Object)
	assert.Equal(t, "_:b1", got[1].Subject)
	assert.Equal(t, "<http://ex.org/g>", got[1].Graph)

	_, err = decodeAll(t, NewJSONLDecoder(), `{"s":"x"}`, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInput))

	_, err = decodeAll(t, NewJSONLDecoder(), `{not json`, "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeInput))
}

func TestCSV(t *testing.T) {
	input := "subject,predicate,object,graph\n" +
		"http://ex.org/s,http://ex.org/p,hello,\n" +
		"_:b1,http://ex.org/p,<http://ex.org/o>,http://ex.org/g\n"

	got, err := decodeAll(t, NewCSVDecoder(), input, "")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, `"hello"`, got[0].Object)
	assert.Empty(t, got[0].Graph)
	assert.Equal(t, "<http://ex.org/g>", got[1].Graph)
}

func TestCSVEmitErrorDrains(t *testing.T) {
	input := "subject,predicate,object\n" + strings.Repeat("http://ex.org/s,http://ex.org/p,v\n", 50)
	stop := stderrors.New("stop")

	n := 0
	err := NewCSVDecoder().Decode(context.Background(), strings.NewReader(input), "", func(*models.Record) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestAvro(t *testing.T) {
	var buf bytes.Buffer
	w, err := goavro.NewOCFWriter(goavro.OCFConfig{W: &buf, Schema: StatementSchema})
	require.NoError(t, err)
	require.NoError(t, w.Append([]interface{}{
		map[string]interface{}{"s": "http://ex.org/s", "p": "http://ex.org/p", "o": "v", "g": nil},
		map[string]interface{}{"s": "http://ex.org/s", "p": "http://ex.org/p", "o": "<http://ex.org/o>",
			"g": goavro.Union("string", "http://ex.org/g")},
	}))

	var got []*models.Record
	err = NewAvroDecoder().Decode(context.Background(), &buf, "", func(r *models.Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, `"v"`, got[0].Object)
	assert.Empty(t, got[0].Graph)
	assert.Equal(t, "<http://ex.org/g>", got[1].Graph)
}

func TestRegistry(t *testing.T) {
	r := Default()

	f, ok := r.ForFileName("dump.NT")
	require.True(t, ok)
	assert.Equal(t, "ntriples", f.Name)

	f, ok = r.ForFileName("part.ndjson")
	require.True(t, ok)
	assert.Equal(t, "jsonl", f.Name)

	_, ok = r.ForFileName("notes.txt")
	assert.False(t, ok)

	f, ok = r.Lookup("NQuads")
	require.True(t, ok)
	assert.Equal(t, []string{".nq"}, f.Extensions)

	assert.Equal(t, []string{"avro", "csv", "jsonl", "nquads", "ntriples"}, r.List())

	err := r.Register(Format{Name: "turtle", Extensions: []string{".nt"}, Decoder: NewNTriplesDecoder()})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestHasScheme(t *testing.T) {
	assert.True(t, hasScheme("http://x"))
	assert.True(t, hasScheme("urn:isbn:1"))
	assert.False(t, hasScheme("rel/path"))
	assert.False(t, hasScheme(":x"))
	assert.False(t, hasScheme("1http:x"))
}

package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

func TestMessages(t *testing.T) {
	batch := models.NewRecordBatch(2)
	r := models.NewRecord("<http://ex.org/s>", "<http://ex.org/p>", `"v"`)
	batch.Add(r, nil)
	batch.Add(r, []string{"<http://ex.org/g>"})

	msgs, err := Messages("rdf.statements", sink.NQuads, batch)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "rdf.statements", msgs[0].Subject)
	assert.Equal(t, `<http://ex.org/s> <http://ex.org/p> "v" .`, string(msgs[0].Data))
	assert.Empty(t, msgs[0].Header.Get(GraphHeader))
	assert.Equal(t, "<http://ex.org/g>", msgs[1].Header.Get(GraphHeader))
}

func TestNewConfigErrors(t *testing.T) {
	_, err := New(context.Background(), config.NewSinkConfig("nats"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg := config.NewSinkConfig("nats")
	cfg.Topic = "rdf"
	cfg.Options["encoding"] = "xml"
	_, err = New(context.Background(), cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

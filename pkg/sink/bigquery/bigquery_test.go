package bigquery

import (
	"context"
	"fmt"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

func TestRows(t *testing.T) {
	batch := models.NewRecordBatch(1)
	batch.Add(models.NewRecord("<http://ex.org/s>", "<http://ex.org/p>", `"v"`), []string{"<http://ex.org/a>", "<http://ex.org/b>"})

	rows := Rows(batch)
	require.Len(t, rows, 2)

	values, id, err := rows[0].Save()
	require.NoError(t, err)
	assert.Equal(t, bigquery.Value("<http://ex.org/a>"), values["graph"])
	assert.Equal(t, bigquery.Value(`"v"`), values["object"])

	_, other, err := rows[1].Save()
	require.NoError(t, err)
	assert.Len(t, id, 64)
	assert.NotEqual(t, id, other)

	var _ bigquery.ValueSaver = rows[0]
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("metadata: %w", &googleapi.Error{Code: 404})))
	assert.False(t, isNotFound(&googleapi.Error{Code: 403}))
	assert.False(t, isNotFound(fmt.Errorf("timeout")))
}

func TestNewRequiresProjectAndDataset(t *testing.T) {
	_, err := New(context.Background(), config.NewSinkConfig("bigquery"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

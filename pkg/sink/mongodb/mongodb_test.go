package mongodb

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/models"
)

func TestDocuments(t *testing.T) {
	batch := models.NewRecordBatch(2)
	r := models.NewRecord("<http://ex.org/s>", "<http://ex.org/p>", `"v"`)
	batch.Add(r, nil)
	batch.Add(r, []string{"<http://ex.org/a>", "<http://ex.org/b>"})

	docs := Documents(batch)
	require.Len(t, docs, 3)

	first := docs[0].(Document)
	assert.Equal(t, "", first.Graph)
	assert.Len(t, first.ID, 64)
	assert.Equal(t, "<http://ex.org/b>", docs[2].(Document).Graph)
	assert.NotEqual(t, first.ID, docs[1].(Document).ID)
}

func TestOnlyDuplicates(t *testing.T) {
	dup := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
		{WriteError: mongo.WriteError{Index: 0, Code: duplicateKey}},
		{WriteError: mongo.WriteError{Index: 3, Code: duplicateKey}},
	}}
	assert.True(t, OnlyDuplicates(dup))
	assert.True(t, OnlyDuplicates(fmt.Errorf("insert: %w", dup)))

	mixed := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
		{WriteError: mongo.WriteError{Code: duplicateKey}},
		{WriteError: mongo.WriteError{Code: 2}},
	}}
	assert.False(t, OnlyDuplicates(mixed))

	concern := mongo.BulkWriteException{
		WriteConcernError: &mongo.WriteConcernError{Code: 64},
		WriteErrors:       []mongo.BulkWriteError{{WriteError: mongo.WriteError{Code: duplicateKey}}},
	}
	assert.False(t, OnlyDuplicates(concern))
	assert.False(t, OnlyDuplicates(fmt.Errorf("network")))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.NewSinkConfig("mongodb"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg := config.NewSinkConfig("mongodb")
	cfg.DSN = "http://not-mongo"
	_, err = New(context.Background(), cfg)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

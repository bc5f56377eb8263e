package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), config.NewSinkConfig("gcs"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegistered(t *testing.T) {
	info, ok := sink.Lookup("gcs")
	assert.True(t, ok)
	assert.Contains(t, info.Options, "credentials_file")
}

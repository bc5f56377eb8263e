package s3

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
)

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), config.NewSinkConfig("s3"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegistered(t *testing.T) {
	info, ok := sink.Lookup("s3")
	assert.True(t, ok)
	assert.Contains(t, info.Options, "bucket")
}

// Package gcs writes one compressed object per commit to a Google Cloud
// Storage bucket.
package gcs

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
	"github.com/JervenBolleman/sesame-loader/pkg/sink/objectstore"
)

func init() {
	sink.MustRegister(sink.Info{
		Name:        "gcs",
		Description: "Google Cloud Storage bucket, one compressed object per commit",
		Options:     []string{"bucket", "prefix", "compression", "encoding", "credentials_file", "endpoint"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}

type uploader struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// New creates the client and checks that the bucket exists.
func New(ctx context.Context, cfg *config.SinkConfig) (*objectstore.Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "gcs sink requires a bucket")
	}

	var opts []option.ClientOption
	if path := cfg.Option("credentials_file", ""); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	if endpoint := cfg.Option("endpoint", ""); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	u := &uploader{client: client, bucket: client.Bucket(cfg.Bucket)}

	if err := sink.Connect(ctx, cfg, func(ctx context.Context) error {
		_, err := u.bucket.Attrs(ctx)
		if err == storage.ErrBucketNotExist {
			return errors.Wrap(err, errors.ErrorTypeConfig, "bucket does not exist")
		}
		return err
	}); err != nil {
		_ = client.Close()
		return nil, err
	}

	s, err := objectstore.New("gcs", u, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (u *uploader) Upload(ctx context.Context, obj *objectstore.Object) error {
	w := u.bucket.Object(obj.Key).NewWriter(ctx)
	w.ContentType = obj.ContentType
	w.ContentEncoding = obj.ContentEncoding
	w.Metadata = obj.Metadata

	if _, err := io.Copy(w, obj.Body); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (u *uploader) Close() error {
	return u.client.Close()
}

// Package s3 uploads one compressed object per commit to an S3 bucket.
package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/JervenBolleman/sesame-loader/pkg/config"
	"github.com/JervenBolleman/sesame-loader/pkg/errors"
	"github.com/JervenBolleman/sesame-loader/pkg/sink"
	"github.com/JervenBolleman/sesame-loader/pkg/sink/objectstore"
)

const (
	defaultPartSize    = 8 * 1024 * 1024
	defaultConcurrency = 4
)

func init() {
	sink.MustRegister(sink.Info{
		Name:        "s3",
		Description: "Amazon S3 bucket, one compressed object per commit",
		Options:     []string{"bucket", "prefix", "compression", "encoding", "region", "endpoint", "part_size", "upload_concurrency"},
	}, func(ctx context.Context, cfg *config.SinkConfig) (sink.Sink, error) {
		return New(ctx, cfg)
	})
}

type uploader struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// New loads the default AWS configuration, checks that the bucket is
// reachable and returns the sink.
func New(ctx context.Context, cfg *config.SinkConfig) (*objectstore.Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 sink requires a bucket")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Option("region", "us-east-1")),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	endpoint := cfg.Option("endpoint", "")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	u := &uploader{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = int64(cfg.IntOption("part_size", defaultPartSize))
			u.Concurrency = cfg.IntOption("upload_concurrency", defaultConcurrency)
		}),
		bucket: cfg.Bucket,
	}

	if err := sink.Connect(ctx, cfg, u.headBucket); err != nil {
		return nil, err
	}
	return objectstore.New("s3", u, cfg)
}

func (u *uploader) headBucket(ctx context.Context) error {
	_, err := u.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(u.bucket)})
	return err
}

func (u *uploader) Upload(ctx context.Context, obj *objectstore.Object) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(obj.Key),
		Body:        obj.Body,
		ContentType: aws.String(obj.ContentType),
		Metadata:    obj.Metadata,
	}
	if obj.ContentEncoding != "" {
		input.ContentEncoding = aws.String(obj.ContentEncoding)
	}
	_, err := u.uploader.Upload(ctx, input)
	return err
}

// Close has nothing to release, the SDK client holds no connections of its own.
func (u *uploader) Close() error {
	return nil
}

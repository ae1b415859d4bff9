// Package s3store stores uploaded files in an S3 compatible bucket.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Config locates the bucket. Endpoint is optional and targets MinIO or other
// S3 compatible servers.
type Config struct {
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	KeyPrefix    string `yaml:"key_prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Putter is the subset of *s3.Client used by Files.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Files implements identity.FileStore. The returned id is the object key.
type Files struct {
	client Putter
	bucket string
	prefix string
	now    func() time.Time
	newID  func() string
}

// New builds an S3 client from cfg and returns a Files store over it.
func New(ctx context.Context, cfg Config) (*Files, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, oops.Code("S3_CONFIG_FAILED").Wrap(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewWithClient(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// NewWithClient returns a Files store writing through client.
func NewWithClient(client Putter, bucket, prefix string) *Files {
	if prefix == "" {
		prefix = "files"
	}
	return &Files{client: client, bucket: bucket, prefix: prefix, now: time.Now, newID: uuid.NewString}
}

// Save uploads data under <prefix>/<yyyy>/<mm>/<dd>/<uuid>/<name>.
func (f *Files) Save(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	d := f.now().UTC()
	key := path.Join(f.prefix, fmt.Sprintf("%04d/%02d/%02d", d.Year(), d.Month(), d.Day()), f.newID(), path.Base(name))

	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(f.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", oops.Code("FILE_STORE_UNAVAILABLE").
			With("bucket", f.bucket).
			With("key", key).
			Wrap(err)
	}
	return key, nil
}

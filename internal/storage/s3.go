// Package storage uploads packaged artifacts to S3 and hands back publicly
// fetchable URLs for the target instance to download from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"log/slog"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectClient defines the S3 operations the store needs.
type ObjectClient interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store places project archives under projects/<name>.zip in one bucket.
type Store struct {
	client ObjectClient
	bucket string
	region string
	logger *slog.Logger
}

// New constructs a Store for the given bucket.
func New(client ObjectClient, bucket, region string, logger *slog.Logger) *Store {
	return &Store{client: client, bucket: bucket, region: region, logger: logger}
}

// NewFromConfig builds a Store backed by a real S3 client.
func NewFromConfig(cfg awsv2.Config, bucket string, logger *slog.Logger) *Store {
	return New(s3.NewFromConfig(cfg), bucket, cfg.Region, logger)
}

// Upload ensures the bucket exists, uploads the archive and returns its
// public URL. Bucket creation is attempted unconditionally; an
// already-exists answer is swallowed.
func (s *Store) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket %s: %w", s.bucket, err)
	}
	key := s.objectKey(name)
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      awsv2.String(s.bucket),
		Key:         awsv2.String(key),
		Body:        body,
		ContentType: awsv2.String("application/zip"),
	}); err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	url := s.ObjectURL(key)
	s.logger.Info("artifact uploaded", "bucket", s.bucket, "key", key, "url", url)
	return url, nil
}

// ObjectURL returns the virtual-hosted public URL for an object key.
func (s *Store) ObjectURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func (s *Store) objectKey(name string) string {
	return path.Join("projects", name+".zip")
}

func (s *Store) ensureBucket(ctx context.Context) error {
	input := &s3.CreateBucketInput{Bucket: awsv2.String(s.bucket)}
	// us-east-1 rejects an explicit location constraint.
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(s.region),
		}
	}
	_, err := s.client.CreateBucket(ctx, input)
	if err == nil {
		return nil
	}
	var owned *s3types.BucketAlreadyOwnedByYou
	var exists *s3types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return nil
	}
	return err
}

// Package objectstore uploads run archives to S3-compatible object storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/encrypt"
)

const archiveContentType = "application/gzip"

// ErrObjectNotFound is returned by Stat when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the subset of an object store the Uploader needs.
type ObjectStore interface {
	// Stat returns the size of the object stored under key.
	Stat(ctx context.Context, key string) (int64, error)
	// Put stores size bytes from r under key and returns its locator.
	Put(ctx context.Context, key string, r io.Reader, size int64) (string, error)
}

// MinIOConfig holds the connection settings for MinIOStore.
type MinIOConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	// Profile selects a shared credentials profile when no static keys are set.
	Profile string
	UseSSL  bool
}

// MinIOStore implements ObjectStore on top of minio-go.
type MinIOStore struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ ObjectStore = (*MinIOStore)(nil)

// NewMinIOStore creates a client for cfg.Endpoint. Static keys take
// precedence over the environment and the shared credentials file.
func NewMinIOStore(cfg MinIOConfig, logger *slog.Logger) (*MinIOStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store bucket name is not configured")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{Creds: credentialsFor(cfg), Secure: cfg.UseSSL})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}
	logger.Info("MinIO client initialized", slog.String("endpoint", cfg.Endpoint), slog.String("bucket", cfg.Bucket))

	return &MinIOStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// credentialsFor uses static keys only when both halves are set. Anything
// else goes through the environment and then the shared credentials file.
func credentialsFor(cfg MinIOConfig) *credentials.Credentials {
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		return credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}
	return credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.FileAWSCredentials{Profile: cfg.Profile},
	})
}

// EnsureBucket creates the bucket if it does not already exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	if err == nil {
		s.logger.Info("Successfully created MinIO bucket", slog.String("bucket", s.bucket))
		return nil
	}
	exists, errBucketExists := s.client.BucketExists(ctx, s.bucket)
	if errBucketExists == nil && exists {
		s.logger.Debug("MinIO bucket already exists", slog.String("bucket", s.bucket))
		return nil
	}
	return fmt.Errorf("failed to make/verify MinIO bucket '%s': %w", s.bucket, err)
}

// Stat returns the remote object size, or ErrObjectNotFound.
func (s *MinIOStore) Stat(ctx context.Context, key string) (int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, ErrObjectNotFound
		}
		return 0, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return info.Size, nil
}

// Put uploads the object with server-side encryption requested.
func (s *MinIOStore) Put(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:          archiveContentType,
		ServerSideEncryption: encrypt.NewSSE(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	s.logger.Debug("Uploaded object", slog.String("key", info.Key), slog.Int64("size", info.Size), slog.String("etag", info.ETag))
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

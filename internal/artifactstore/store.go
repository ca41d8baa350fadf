// Package artifactstore uploads built distributables to an
// S3-compatible object store after a fully green run, so artifacts
// survive the untrusted, recycled CI runner they were built on.
package artifactstore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"wheelsmith/pkg/utils"
)

// Store wraps a minio client bound to one bucket.
type Store struct {
	client *minio.Client
	cfg    Config
}

// New constructs a Store from a validated Config.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return &Store{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the configured bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region})
}

// Upload puts the artifact under <project>/<runID>/<filename> with its
// sha256 recorded as object metadata, and returns the object key.
func (s *Store) Upload(ctx context.Context, project, runID, artifactPath string) (string, error) {
	digest, err := utils.HashFile(artifactPath)
	if err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}

	key := fmt.Sprintf("%s/%s/%s", project, runID, filepath.Base(artifactPath))
	_, err = s.client.FPutObject(ctx, s.cfg.Bucket, key, artifactPath, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{"sha256": digest},
	})
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	return key, nil
}

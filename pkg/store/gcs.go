//go:build gcp

package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSObjectStore implements ObjectStore on Google Cloud Storage.
type GCSObjectStore struct {
	client *storage.Client
	bucket string
}

// NewGCSObjectStore uses Application Default Credentials.
func NewGCSObjectStore(ctx context.Context, bucket string) (ObjectStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSObjectStore{client: client, bucket: bucket}, nil
}

func (s *GCSObjectStore) Put(ctx context.Context, key string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

func (s *GCSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gcs get failed for %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// Close closes the GCS client.
func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}

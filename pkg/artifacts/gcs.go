//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSConfig configures GCSStore.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSStore keeps blobs in a Cloud Storage bucket. Credentials come from ADC.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(addr string) (*storage.ObjectHandle, error) {
	digest, err := Digest(addr)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(s.bucket).Object(objectKey(s.prefix, digest)), nil
}

func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	addr := Address(data)
	obj, _ := s.object(addr)
	if _, err := obj.Attrs(ctx); err == nil {
		return addr, nil
	}
	// DoesNotExist makes concurrent uploads of one blob collapse to one object.
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("artifacts: gcs write %s: %w", addr, err)
	}
	if err := w.Close(); err != nil {
		if ok, _ := s.Exists(ctx, addr); ok {
			return addr, nil
		}
		return "", fmt.Errorf("artifacts: gcs close %s: %w", addr, err)
	}
	return addr, nil
}

func (s *GCSStore) Get(ctx context.Context, addr string) ([]byte, error) {
	obj, err := s.object(addr)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs get %s: %w", addr, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, addr string) (bool, error) {
	obj, err := s.object(addr)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("artifacts: gcs attrs %s: %w", addr, err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, addr string) error {
	obj, err := s.object(addr)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("artifacts: gcs delete %s: %w", addr, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func newGCSStore(ctx context.Context, cfg Config) (Store, error) {
	if cfg.GCSBucket == "" {
		return nil, fmt.Errorf("artifacts: ARTIFACT_GCS_BUCKET is required for gcs storage")
	}
	return NewGCSStore(ctx, GCSConfig{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
}

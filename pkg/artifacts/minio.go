package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig configures MinIOStore.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// MinIOStore keeps blobs in a MinIO bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinIOStore(cfg MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("artifacts: minio client: %w", err)
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("artifacts: check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("artifacts: create bucket: %w", err)
		}
	}
	return nil
}

func (s *MinIOStore) key(addr string) (string, error) {
	digest, err := Digest(addr)
	if err != nil {
		return "", err
	}
	return objectKey(s.prefix, digest), nil
}

func (s *MinIOStore) Store(ctx context.Context, data []byte) (string, error) {
	addr := Address(data)
	key, _ := s.key(addr)
	if ok, err := s.exists(ctx, key); err == nil && ok {
		return addr, nil
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("artifacts: minio put %s: %w", addr, err)
	}
	return addr, nil
}

func (s *MinIOStore) Get(ctx context.Context, addr string) ([]byte, error) {
	key, err := s.key(addr)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("artifacts: minio get %s: %w", addr, err)
	}
	defer func() { _ = obj.Close() }()
	b, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifacts: minio read %s: %w", addr, err)
	}
	return b, nil
}

func (s *MinIOStore) Exists(ctx context.Context, addr string) (bool, error) {
	key, err := s.key(addr)
	if err != nil {
		return false, err
	}
	return s.exists(ctx, key)
}

func (s *MinIOStore) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("artifacts: minio stat %s: %w", key, err)
}

func (s *MinIOStore) Delete(ctx context.Context, addr string) error {
	key, err := s.key(addr)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("artifacts: minio delete %s: %w", addr, err)
	}
	return nil
}

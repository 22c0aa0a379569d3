package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backend names accepted by ARTIFACT_STORAGE_TYPE.
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendMinIO  = "minio"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	DataDir string
	Prefix  string

	S3Bucket   string
	S3Region   string
	S3Endpoint string

	GCSBucket string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
}

// ConfigFromEnv reads:
//
//	ARTIFACT_STORAGE_TYPE  fs (default), memory, s3, gcs, minio
//	DATA_DIR               fs base directory parent (default "data")
//	ARTIFACT_PREFIX        object key prefix for remote backends
//	ARTIFACT_S3_BUCKET, ARTIFACT_S3_REGION (or AWS_REGION), ARTIFACT_S3_ENDPOINT
//	ARTIFACT_GCS_BUCKET
//	ARTIFACT_MINIO_ENDPOINT, ARTIFACT_MINIO_ACCESS_KEY, ARTIFACT_MINIO_SECRET_KEY,
//	ARTIFACT_MINIO_BUCKET, ARTIFACT_MINIO_USE_SSL
func ConfigFromEnv() Config {
	region := os.Getenv("ARTIFACT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	return Config{
		Backend:        os.Getenv("ARTIFACT_STORAGE_TYPE"),
		DataDir:        os.Getenv("DATA_DIR"),
		Prefix:         os.Getenv("ARTIFACT_PREFIX"),
		S3Bucket:       os.Getenv("ARTIFACT_S3_BUCKET"),
		S3Region:       region,
		S3Endpoint:     os.Getenv("ARTIFACT_S3_ENDPOINT"),
		GCSBucket:      os.Getenv("ARTIFACT_GCS_BUCKET"),
		MinIOEndpoint:  os.Getenv("ARTIFACT_MINIO_ENDPOINT"),
		MinIOAccessKey: os.Getenv("ARTIFACT_MINIO_ACCESS_KEY"),
		MinIOSecretKey: os.Getenv("ARTIFACT_MINIO_SECRET_KEY"),
		MinIOBucket:    os.Getenv("ARTIFACT_MINIO_BUCKET"),
		MinIOUseSSL:    strings.EqualFold(os.Getenv("ARTIFACT_MINIO_USE_SSL"), "true"),
	}
}

// NewStoreFromEnv builds the backend named by the environment.
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	return NewStore(ctx, ConfigFromEnv())
}

// NewStore builds the configured backend.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendFS:
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "artifacts"))
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendS3:
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("artifacts: ARTIFACT_S3_BUCKET is required for s3 storage")
		}
		region := cfg.S3Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{Bucket: cfg.S3Bucket, Region: region, Endpoint: cfg.S3Endpoint, Prefix: cfg.Prefix})
	case BackendGCS:
		return newGCSStore(ctx, cfg)
	case BackendMinIO:
		if cfg.MinIOEndpoint == "" || cfg.MinIOBucket == "" {
			return nil, fmt.Errorf("artifacts: ARTIFACT_MINIO_ENDPOINT and ARTIFACT_MINIO_BUCKET are required for minio storage")
		}
		s, err := NewMinIOStore(MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			Prefix:    cfg.Prefix,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("artifacts: unsupported storage type %q", cfg.Backend)
	}
}

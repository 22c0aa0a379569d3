package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps blobs under a base directory.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: shared artifact directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("artifacts: create %s: %w", baseDir, err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(addr string) (string, error) {
	digest, err := Digest(addr)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(objectKey("", digest))), nil
}

func (s *FileStore) Store(_ context.Context, data []byte) (string, error) {
	addr := Address(data)
	path, _ := s.path(addr)
	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}
	//nolint:gosec // G301: shared artifact directory
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("artifacts: create shard: %w", err)
	}

	// Temp file plus rename; same-address writers carry identical bytes.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return "", fmt.Errorf("artifacts: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("artifacts: write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("artifacts: close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("artifacts: commit blob: %w", err)
	}
	return addr, nil
}

func (s *FileStore) Get(_ context.Context, addr string) ([]byte, error) {
	path, err := s.path(addr)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path) //nolint:gosec // path derived from a validated digest
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: read %s: %w", addr, err)
	}
	return b, nil
}

func (s *FileStore) Exists(_ context.Context, addr string) (bool, error) {
	path, err := s.path(addr)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("artifacts: stat %s: %w", addr, err)
}

func (s *FileStore) Delete(_ context.Context, addr string) error {
	path, err := s.path(addr)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifacts: delete %s: %w", addr, err)
	}
	return nil
}

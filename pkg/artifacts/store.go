// Package artifacts is a content-addressed blob store for export bundles and
// rendered report files. Addresses have the form "sha256:<hex>"; writing the
// same bytes twice yields the same address and stores them once.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when no blob exists at an address.
	ErrNotFound = errors.New("artifacts: not found")
	// ErrInvalidAddress is returned for addresses that are not sha256:<64 hex>.
	ErrInvalidAddress = errors.New("artifacts: invalid address")
)

const addressPrefix = "sha256:"

// Store is implemented by every backend.
type Store interface {
	// Store persists data and returns its content address.
	Store(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, addr string) ([]byte, error)
	Exists(ctx context.Context, addr string) (bool, error)
	// Delete is a no-op for absent blobs.
	Delete(ctx context.Context, addr string) error
}

// Address computes the content address of data.
func Address(data []byte) string {
	sum := sha256.Sum256(data)
	return addressPrefix + hex.EncodeToString(sum[:])
}

// Digest returns the hex part of a valid address.
func Digest(addr string) (string, error) {
	digest, ok := strings.CutPrefix(addr, addressPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return digest, nil
}

// objectKey shards blobs by the first digest byte: "<prefix>ab/ab12....blob".
func objectKey(prefix, digest string) string {
	return prefix + digest[:2] + "/" + digest + ".blob"
}

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Store(_ context.Context, data []byte) (string, error) {
	addr := Address(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[addr]; !ok {
		s.blobs[addr] = append([]byte(nil), data...)
	}
	return addr, nil
}

func (s *MemoryStore) Get(_ context.Context, addr string) ([]byte, error) {
	if _, err := Digest(addr); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *MemoryStore) Exists(_ context.Context, addr string) (bool, error) {
	if _, err := Digest(addr); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[addr]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, addr string) error {
	if _, err := Digest(addr); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, addr)
	return nil
}

// Len reports how many distinct blobs are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

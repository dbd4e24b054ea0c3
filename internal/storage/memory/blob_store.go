// Package memory stores manuscript blobs in process memory for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// BlobStore keeps manuscript content in memory and returns memory:// URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject persists the content and returns its URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read data: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), byteData...)
	return fmt.Sprintf("memory://%s", path), nil
}

// GetObject returns the content previously stored under uri.
func (s *BlobStore) GetObject(_ context.Context, uri string) ([]byte, error) {
	path := strings.TrimPrefix(uri, "memory://")
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("blob %q not found", uri)
	}
	return append([]byte(nil), data...), nil
}

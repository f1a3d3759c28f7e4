package objectstore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
)

// MockStore is an in-memory implementation of the Store interface for testing.
//
// Failures can be injected per key (UploadErr, DeleteFailures) or for a whole
// BatchDelete call (BatchErr).
type MockStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	closed  bool

	UploadErr      map[string]error
	DownloadErr    map[string]error
	DeleteFailures map[string]string
	BatchErr       error

	Uploads     []string
	Downloads   []string
	DeleteCalls [][]string
	DeletedKeys []string
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		objects:        make(map[string][]byte),
		UploadErr:      make(map[string]error),
		DownloadErr:    make(map[string]error),
		DeleteFailures: make(map[string]string),
	}
}

// Put seeds an object directly.
func (s *MockStore) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
}

// Object returns a copy of the stored bytes.
func (s *MockStore) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Keys returns the stored keys, sorted.
func (s *MockStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *MockStore) Upload(ctx context.Context, key string, src string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.Uploads = append(s.Uploads, key)
	if err := s.UploadErr[key]; err != nil {
		return &ObjectError{Op: "Upload", Key: key, Err: err}
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return &ObjectError{Op: "Upload", Key: key, Err: err}
	}
	s.objects[key] = data
	return nil
}

func (s *MockStore) Download(ctx context.Context, key string, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.Downloads = append(s.Downloads, key)
	if err := s.DownloadErr[key]; err != nil {
		return &ObjectError{Op: "Download", Key: key, Err: err}
	}
	data, ok := s.objects[key]
	if !ok {
		return &ObjectError{Op: "Download", Key: key, Err: ErrNotFound}
	}
	return os.WriteFile(dst, data, 0o600)
}

func (s *MockStore) BatchDelete(ctx context.Context, keys []string) (DeleteResult, error) {
	if err := CheckBatch(keys); err != nil {
		return DeleteResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return DeleteResult{}, ErrClosed
	}
	s.DeleteCalls = append(s.DeleteCalls, append([]string(nil), keys...))
	if s.BatchErr != nil {
		return DeleteResult{}, fmt.Errorf("batch delete: %w", s.BatchErr)
	}

	res := DeleteResult{Failed: make(map[string]string)}
	for _, k := range keys {
		if reason, ok := s.DeleteFailures[k]; ok {
			res.Failed[k] = reason
			continue
		}
		delete(s.objects, k)
		res.Deleted = append(res.Deleted, k)
		s.DeletedKeys = append(s.DeletedKeys, k)
	}
	return res, nil
}

func (s *MockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MockStore)(nil)

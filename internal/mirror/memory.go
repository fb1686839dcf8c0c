package mirror

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

type memoryObject struct {
	data  []byte
	attrs Attrs
}

// MemoryStore is an in-process backend for tests and dry runs
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemoryStore creates an empty in-memory backend
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Exists reports whether key is stored
func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// Upload stores a copy of r
func (s *MemoryStore) Upload(ctx context.Context, key string, r io.Reader, attrs Attrs) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = memoryObject{data: data, attrs: attrs}
	s.mu.Unlock()
	return nil
}

// Download writes the stored bytes to w
func (s *MemoryStore) Download(ctx context.Context, key string, w io.Writer) error {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	_, err := io.Copy(w, bytes.NewReader(obj.data))
	return err
}

// List returns the sorted keys under prefix
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Object returns a stored object and its attributes
func (s *MemoryStore) Object(key string) ([]byte, Attrs, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj.data, obj.attrs, ok
}

// Put stores data directly under key
func (s *MemoryStore) Put(key string, data []byte) {
	s.mu.Lock()
	s.objects[key] = memoryObject{data: append([]byte(nil), data...)}
	s.mu.Unlock()
}

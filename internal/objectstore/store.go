package objectstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store is the object store used for staging media and topic-model corpora.
// Keys are slash-separated; every staged object for one content item lives
// under that item's id prefix, so cleanup is a prefix delete.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	DeleteMany(ctx context.Context, bucket string, keys []string) error
}

// MemoryStore is an in-memory Store for tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte // "bucket/key" -> data
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// Put stores an object.
func (s *MemoryStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[objectKey(bucket, key)] = buf
	return nil
}

// Get retrieves an object.
func (s *MemoryStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("object not found: %s/%s", bucket, key)
	}
	return data, nil
}

// List returns the keys under prefix in sorted order.
func (s *MemoryStore) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucketPrefix := bucket + "/"
	var keys []string
	for k := range s.objects {
		if !strings.HasPrefix(k, bucketPrefix) {
			continue
		}
		key := strings.TrimPrefix(k, bucketPrefix)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteMany removes the given keys. Missing keys are not an error.
func (s *MemoryStore) DeleteMany(ctx context.Context, bucket string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.objects, objectKey(bucket, key))
	}
	return nil
}

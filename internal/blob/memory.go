package blob

import (
	"context"
	"slices"
	"sort"
	"sync"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process. It backs BLOB_BACKEND=memory and tests.
type MemoryStore struct {
	Locator

	mu      sync.Mutex
	objects map[string]memoryObject
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		Locator: NewLocator(baseURL),
		objects: map[string]memoryObject{},
	}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	s.objects[key] = memoryObject{data: slices.Clone(data), contentType: contentType}
	return s.URL(key), nil
}

func (s *MemoryStore) Copy(_ context.Context, from, to string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[from]
	if !ok {
		return "", ErrNotFound
	}
	s.objects[to] = memoryObject{data: slices.Clone(obj.data), contentType: obj.contentType}
	return s.URL(to), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Get returns a copy of the object stored under key.
func (s *MemoryStore) Get(key string) ([]byte, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, "", false
	}
	return slices.Clone(obj.data), obj.contentType, true
}

func (s *MemoryStore) Exists(key string) bool {
	_, _, ok := s.Get(key)
	return ok
}

func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

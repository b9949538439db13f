package cache

import (
	"context"
	"slices"
	"sync"
)

type MemoryStorage struct {
	mu      sync.RWMutex
	buckets map[string]*memoryBucket
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{buckets: make(map[string]*memoryBucket)}
}

func (s *MemoryStorage) Open(ctx context.Context, name string) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		b = &memoryBucket{name: name, entries: make(map[string]Object)}
		s.buckets[name] = b
	}
	return b, nil
}

func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[name]; !ok {
		return false, nil
	}
	delete(s.buckets, name)
	return true, nil
}

type memoryBucket struct {
	name    string
	mu      sync.RWMutex
	entries map[string]Object
}

func (b *memoryBucket) Name() string { return b.name }

func (b *memoryBucket) Match(ctx context.Context, key string) (Object, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.entries[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	obj.Body = slices.Clone(obj.Body)
	obj.Header = obj.Header.Clone()
	return obj, nil
}

func (b *memoryBucket) Put(ctx context.Context, key string, obj Object) error {
	obj.Body = slices.Clone(obj.Body)
	obj.Header = obj.Header.Clone()
	b.mu.Lock()
	b.entries[key] = obj
	b.mu.Unlock()
	return nil
}

func (b *memoryBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

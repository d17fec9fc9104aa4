package storage

import (
	"context"
	"sync"

	"github.com/dunamismax/cropflow/internal/errs"
)

// MemoryStore keeps objects in process. QuotaBytes > 0 caps the total stored size.
type MemoryStore struct {
	mu         sync.RWMutex
	objects    map[string]memoryObject
	used       int
	baseURL    string
	QuotaBytes int
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://assets"
	}
	return &MemoryStore{objects: make(map[string]memoryObject), baseURL: baseURL}
}

func (s *MemoryStore) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[path]; ok {
		return "", errs.Newf(errs.KindConflict, "memory.upload", "object %s already exists", path)
	}
	if err := s.storeLocked("memory.upload", path, data, contentType); err != nil {
		return "", err
	}
	return s.PublicURL(path), nil
}

func (s *MemoryStore) Replace(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storeLocked("memory.replace", path, data, contentType); err != nil {
		return "", err
	}
	return s.PublicURL(path), nil
}

func (s *MemoryStore) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obj, ok := s.objects[path]; ok {
		s.used -= len(obj.data)
		delete(s.objects, path)
	}
	return nil
}

func (s *MemoryStore) Read(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[path]
	if !ok {
		return nil, errs.Newf(errs.KindNotFound, "memory.read", "object %s not found", path)
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *MemoryStore) ObjectExists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

// ContentType returns the stored content type of path, or "".
func (s *MemoryStore) ContentType(path string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[path].contentType
}

// Len reports how many objects are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *MemoryStore) PublicURL(path string) string {
	return joinURL(s.baseURL, path)
}

func (s *MemoryStore) storeLocked(op, path string, data []byte, contentType string) error {
	used := s.used + len(data)
	if prev, ok := s.objects[path]; ok {
		used -= len(prev.data)
	}
	if s.QuotaBytes > 0 && used > s.QuotaBytes {
		return errs.Newf(errs.KindQuota, op, "storing %s needs %d bytes, quota is %d", path, used, s.QuotaBytes)
	}
	s.objects[path] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	s.used = used
	return nil
}

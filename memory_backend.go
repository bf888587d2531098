package canarystore

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryObject struct {
	data     []byte
	checksum string
	modified time.Time
}

// MemoryBackend keeps objects in a process-local map. It is used by memory
// accounts and by tests that need a real backend without any I/O.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if err := verifyChecksum(key, obj.data, obj.checksum); err != nil {
		return nil, err
	}
	return slices.Clone(obj.data), nil
}

func (b *MemoryBackend) Put(ctx context.Context, key string, data []byte, checksum string) error {
	if err := checkPut(key, data, checksum); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = memoryObject{
		data:     slices.Clone(data),
		checksum: checksum,
		modified: b.now(),
	}
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; !ok {
		return ErrNotFound
	}
	delete(b.objects, key)
	return nil
}

func (b *MemoryBackend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	if !ok {
		return ObjectInfo{}, ErrNotFound
	}
	return ObjectInfo{Key: key, LastModified: obj.modified, Size: int64(len(obj.data))}, nil
}

func (b *MemoryBackend) ListPaginated(ctx context.Context, prefix string, handler func(objects []ObjectInfo) error) error {
	b.mu.RLock()
	var matched []ObjectInfo
	for key, obj := range b.objects {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, ObjectInfo{Key: key, LastModified: obj.modified, Size: int64(len(obj.data))})
		}
	}
	b.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Key < matched[j].Key })

	for start := 0; start < len(matched); start += DefaultListPaginatedSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+DefaultListPaginatedSize, len(matched))
		if err := handler(matched[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBackend) EnsureContainer(ctx context.Context) error { return nil }

func (b *MemoryBackend) Ping(ctx context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }

// Len returns the number of stored objects
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

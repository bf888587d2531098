package canarystore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
)

const (
	tempFilePrefix  = ".tmp-"
	healthCheckFile = ".health_check"
)

// FilesystemBackend stores each object as a file below basePath. All access
// goes through an os.Root, so no key can reach outside the base directory,
// symlinks included. Writes land atomically via a temp file and rename.
type FilesystemBackend struct {
	basePath string
	locks    *StripedLocks

	mu   sync.Mutex
	root *os.Root
}

func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{basePath: basePath, locks: NewStripedLocks(defaultStripes)}
}

// openRoot opens the base directory on first use. With create it is made
// first if missing; without, a missing base reads as ErrNotFound.
func (b *FilesystemBackend) openRoot(create bool) (*os.Root, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.root != nil {
		return b.root, nil
	}
	if create {
		if err := os.MkdirAll(b.basePath, DefaultDirPermissions); err != nil {
			return nil, fsError(err)
		}
	}
	root, err := os.OpenRoot(b.basePath)
	if err != nil {
		return nil, fsError(err)
	}
	b.root = root
	return root, nil
}

func (b *FilesystemBackend) Get(ctx context.Context, key string) ([]byte, error) {
	root, err := b.openRoot(false)
	if err != nil {
		return nil, err
	}
	unlock := b.locks.RLock(key)
	defer unlock()

	data, err := root.ReadFile(key)
	return data, fsError(err)
}

func (b *FilesystemBackend) Put(ctx context.Context, key string, data []byte, checksum string) error {
	if err := checkPut(key, data, checksum); err != nil {
		return err
	}
	root, err := b.openRoot(true)
	if err != nil {
		return err
	}
	dir := path.Dir(key)
	if err := root.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fsError(err)
	}

	unlock := b.locks.Lock(key)
	defer unlock()

	tmp := path.Join(dir, tempFilePrefix+NewID())
	if err := root.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		_ = root.Remove(tmp)
		return fsError(err)
	}
	if err := root.Rename(tmp, key); err != nil {
		_ = root.Remove(tmp)
		return fsError(err)
	}
	return nil
}

func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	root, err := b.openRoot(false)
	if err != nil {
		return err
	}
	unlock := b.locks.Lock(key)
	defer unlock()

	if err := root.Remove(key); err != nil {
		return fsError(err)
	}
	// Drop directories the delete left empty; Remove fails on the first
	// one that still has entries.
	for dir := path.Dir(key); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if root.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (b *FilesystemBackend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	root, err := b.openRoot(false)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := root.Stat(key)
	switch {
	case err != nil:
		return ObjectInfo{}, fsError(err)
	case info.IsDir():
		return ObjectInfo{}, ErrNotFound
	}
	return ObjectInfo{Key: key, LastModified: info.ModTime(), Size: info.Size()}, nil
}

// walkStart is the deepest directory that contains every key under prefix.
func walkStart(prefix string) string {
	if strings.HasSuffix(prefix, "/") {
		return strings.TrimSuffix(prefix, "/")
	}
	return path.Dir(prefix)
}

func (b *FilesystemBackend) ListPaginated(ctx context.Context, prefix string, handler func(objects []ObjectInfo) error) error {
	root, err := b.openRoot(false)
	if IsNotFound(err) {
		return nil
	} else if err != nil {
		return err
	}

	fsys := root.FS()
	start := walkStart(prefix)
	if start == "" {
		start = "."
	}
	if _, err := fs.Stat(fsys, start); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	page := make([]ObjectInfo, 0, DefaultListPaginatedSize)
	err = fs.WalkDir(fsys, start, func(key string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, tempFilePrefix) || name == healthCheckFile || !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		page = append(page, ObjectInfo{Key: key, LastModified: info.ModTime(), Size: info.Size()})
		if len(page) == DefaultListPaginatedSize {
			if err := handler(page); err != nil {
				return err
			}
			page = page[:0]
		}
		return nil
	})
	if err == nil && len(page) > 0 {
		err = handler(page)
	}
	return err
}

func (b *FilesystemBackend) EnsureContainer(ctx context.Context) error {
	_, err := b.openRoot(true)
	return err
}

// Ping checks that the base directory accepts writes.
func (b *FilesystemBackend) Ping(ctx context.Context) error {
	root, err := b.openRoot(false)
	if err != nil {
		return fmt.Errorf("base path %s: %w", b.basePath, err)
	}
	if err := root.WriteFile(healthCheckFile, []byte("ok"), DefaultFilePermissions); err != nil {
		return fmt.Errorf("base path %s not writable: %w", b.basePath, err)
	}
	return fsError(root.Remove(healthCheckFile))
}

func (b *FilesystemBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.root == nil {
		return nil
	}
	err := b.root.Close()
	b.root = nil
	return err
}

func fsError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return err
}

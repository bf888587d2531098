package canarystore

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ObjectInfo describes one stored object as reported by a backend listing
type ObjectInfo struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// Backend defines the interface for different storage implementations.
// Keys are full physical paths; the storage service owns path layout.
type Backend interface {
	// Object operations
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes data under key. checksum is Checksum(data) and is persisted
	// where the backend can carry it, then verified again on Get.
	Put(ctx context.Context, key string, data []byte, checksum string) error
	Delete(ctx context.Context, key string) error
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// ListPaginated streams objects below prefix in backend-sized pages
	ListPaginated(ctx context.Context, prefix string, handler func(objects []ObjectInfo) error) error

	// EnsureContainer creates the bucket, table or directory if it is missing
	EnsureContainer(ctx context.Context) error

	// Health check
	Ping(ctx context.Context) error

	// Resource cleanup
	Close() error
}

// Checksum returns the content checksum written alongside every payload
func Checksum(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// verifyChecksum fails with ErrDeserialize when data does not hash to want.
// An empty want means the backend had no checksum to compare against.
func verifyChecksum(key string, data []byte, want string) error {
	if want == "" {
		return nil
	}
	if got := Checksum(data); got != want {
		return WithContext(ErrDeserialize, map[string]interface{}{
			"key":      key,
			"expected": want,
			"actual":   got,
			"reason":   "checksum mismatch",
		})
	}
	return nil
}

// checkPut rejects a write whose checksum was not computed from data
func checkPut(key string, data []byte, checksum string) error {
	if err := verifyChecksum(key, data, checksum); err != nil {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"key":    key,
			"reason": "payload does not match checksum",
		})
	}
	return nil
}

package canarystore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// BadgerConfig holds BadgerDB configuration
type BadgerConfig struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool
}

// BadgerBackend stores objects in an embedded BadgerDB.
//
// Values are framed as [8 byte xxhash][8 byte unix millis][payload] so Get can
// verify the payload and listings can report a modification time.
type BadgerBackend struct {
	db *badger.DB
}

const badgerHeaderSize = 16

// NewBadgerBackend opens (or creates) a Badger database
func NewBadgerBackend(cfg BadgerConfig) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(nil).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

func encodeBadgerValue(data []byte, modified time.Time) []byte {
	buf := make([]byte, badgerHeaderSize+len(data))
	binary.BigEndian.PutUint64(buf[0:8], xxhash.Sum64(data))
	binary.BigEndian.PutUint64(buf[8:16], uint64(modified.UnixMilli()))
	copy(buf[badgerHeaderSize:], data)
	return buf
}

func decodeBadgerValue(key string, raw []byte) ([]byte, time.Time, error) {
	if len(raw) < badgerHeaderSize {
		return nil, time.Time{}, WithContext(ErrDeserialize, map[string]interface{}{
			"key":    key,
			"reason": "truncated value",
		})
	}
	data := raw[badgerHeaderSize:]
	modified := time.UnixMilli(int64(binary.BigEndian.Uint64(raw[8:16])))
	if binary.BigEndian.Uint64(raw[0:8]) != xxhash.Sum64(data) {
		return nil, modified, WithContext(ErrDeserialize, map[string]interface{}{
			"key":    key,
			"reason": "checksum mismatch",
		})
	}
	return data, modified, nil
}

func (b *BadgerBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, badgerError(err)
	}
	data, _, err := decodeBadgerValue(key, raw)
	return data, err
}

func (b *BadgerBackend) Put(ctx context.Context, key string, data []byte, checksum string) error {
	if err := checkPut(key, data, checksum); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encodeBadgerValue(data, time.Now()))
	})
}

func (b *BadgerBackend) Delete(ctx context.Context, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	return badgerError(err)
}

func (b *BadgerBackend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	var info ObjectInfo
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(raw []byte) error {
			data, modified, err := decodeBadgerValue(key, raw)
			info = ObjectInfo{Key: key, LastModified: modified, Size: int64(len(data))}
			return err
		})
	})
	if err != nil {
		return ObjectInfo{}, badgerError(err)
	}
	return info, nil
}

// ListPaginated iterates the prefix in key order inside a single read transaction
func (b *BadgerBackend) ListPaginated(ctx context.Context, prefix string, handler func(objects []ObjectInfo) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		batch := make([]ObjectInfo, 0, DefaultListPaginatedSize)
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.KeyCopy(nil))
			err := item.Value(func(raw []byte) error {
				data, modified, err := decodeBadgerValue(key, raw)
				if err != nil {
					return err
				}
				batch = append(batch, ObjectInfo{Key: key, LastModified: modified, Size: int64(len(data))})
				return nil
			})
			if err != nil {
				return err
			}
			if len(batch) >= DefaultListPaginatedSize {
				if err := handler(batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
		}
		if len(batch) > 0 {
			return handler(batch)
		}
		return nil
	})
}

func (b *BadgerBackend) EnsureContainer(ctx context.Context) error { return nil }

func (b *BadgerBackend) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return ErrBackendUnavailable
	}
	return nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

func badgerError(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

package canarystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const gcsListPageSize = 1000

// GCSConfig describes one Google Cloud Storage account.
type GCSConfig struct {
	ProjectID       string
	Bucket          string
	BucketLocation  string // only used when EnsureContainer creates the bucket
	CredentialsFile string // service account JSON; application default credentials when empty
	Endpoint        string // emulator endpoint, implies no authentication
}

// GCSBackend keeps objects in a GCS bucket. The payload checksum travels as
// object metadata and is checked on every read against the same generation.
type GCSBackend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	cfg    GCSConfig
}

func NewGCSBackend(ctx context.Context, cfg GCSConfig) (*GCSBackend, error) {
	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs client for bucket %s: %w", cfg.Bucket, err)
	}
	return &GCSBackend{client: client, bucket: client.Bucket(cfg.Bucket), cfg: cfg}, nil
}

// object returns a handle whose writes may be retried. Every Put replaces
// the whole object, so repeating one is harmless.
func (b *GCSBackend) object(key string) *storage.ObjectHandle {
	return b.bucket.Object(key).Retryer(storage.WithPolicy(storage.RetryAlways))
}

func (b *GCSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	obj := b.object(key)
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, gcsError(err)
	}

	r, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return nil, gcsError(err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, gcsError(err)
	}
	return data, verifyChecksum(key, data, attrs.Metadata[checksumMetadataKey])
}

func (b *GCSBackend) Put(ctx context.Context, key string, data []byte, checksum string) error {
	if err := checkPut(key, data, checksum); err != nil {
		return err
	}

	w := b.object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{checksumMetadataKey: checksum}
	// Canary documents are small; send each in a single request.
	w.ChunkSize = 0

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return gcsError(err)
	}
	return gcsError(w.Close())
}

func (b *GCSBackend) Delete(ctx context.Context, key string) error {
	return gcsError(b.object(key).Delete(ctx))
}

func (b *GCSBackend) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := b.object(key).Attrs(ctx)
	if err != nil {
		return ObjectInfo{}, gcsError(err)
	}
	return ObjectInfo{Key: attrs.Name, LastModified: attrs.Updated, Size: attrs.Size}, nil
}

func (b *GCSBackend) ListPaginated(ctx context.Context, prefix string, handler func(objects []ObjectInfo) error) error {
	query := &storage.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name", "Updated", "Size"}); err != nil {
		return err
	}
	pager := iterator.NewPager(b.bucket.Objects(ctx, query), gcsListPageSize, "")

	for {
		var page []*storage.ObjectAttrs
		next, err := pager.NextPage(&page)
		if err != nil {
			return gcsError(err)
		}
		if len(page) > 0 {
			objects := make([]ObjectInfo, len(page))
			for i, attrs := range page {
				objects[i] = ObjectInfo{Key: attrs.Name, LastModified: attrs.Updated, Size: attrs.Size}
			}
			if err := handler(objects); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
	}
}

// EnsureContainer creates the bucket in ProjectID when it does not exist.
func (b *GCSBackend) EnsureContainer(ctx context.Context) error {
	_, err := b.bucket.Attrs(ctx)
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return gcsError(err)
	}
	err = b.bucket.Create(ctx, b.cfg.ProjectID, &storage.BucketAttrs{Location: b.cfg.BucketLocation})
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
		// Created concurrently by another process.
		return nil
	}
	return gcsError(err)
}

func (b *GCSBackend) Ping(ctx context.Context) error {
	_, err := b.bucket.Attrs(ctx)
	return gcsError(err)
}

func (b *GCSBackend) Close() error {
	return b.client.Close()
}

func gcsError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return ErrNotFound
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
	}
	return err
}

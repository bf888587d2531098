package canarystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StoreOptions tunes a single StoreObject call
type StoreOptions struct {
	// Filename overrides the object type's default filename. Canary configs are
	// stored as "<name>.json" so a listing can show their names.
	Filename string
	// IsUpdate marks a write to an existing object key; for canary configs the
	// current physical path is resolved first so a rename can clean it up.
	IsUpdate bool
}

// ListOptions tunes ListObjectKeys
type ListOptions struct {
	// Applications filters canary config summaries to those sharing an application
	Applications []string
	// SkipIndex forces enumeration of the backend even for canary configs
	SkipIndex bool
}

// StorageService is the uniform, account-scoped contract over object stores.
// Payloads are opaque JSON documents addressed by (account, object type, key).
type StorageService interface {
	Applier
	LoadObject(ctx context.Context, account Account, objectType ObjectType, key string, dest any) error
	StoreObject(ctx context.Context, account Account, objectType ObjectType, key string, value any, opts StoreOptions) error
	DeleteObject(ctx context.Context, account Account, objectType ObjectType, key string) error
	ListObjectKeys(ctx context.Context, account Account, objectType ObjectType, opts ListOptions) ([]ObjectSummary, error)
}

// Load is LoadObject decoding into a fresh T
//
//	config, err := canarystore.Load[canarystore.CanaryConfig](ctx, storage, account, canarystore.CanaryConfigType, id)
func Load[T any](ctx context.Context, service StorageService, account Account, objectType ObjectType, key string) (T, error) {
	var v T
	err := service.LoadObject(ctx, account, objectType, key, &v)
	return v, err
}

// BlobStorageService implements StorageService over any Backend. The accounts it
// serves are selected by a type matcher; the backend and root folder come from the account.
//
// Objects live at <rootFolder>/<group>/<key>/<filename>. Canary config writes and deletes
// run the pending-update protocol against the ConfigIndex so that the index never keeps
// a marker for a write that did not happen.
type BlobStorageService struct {
	kind     string
	matches  func(Account) bool
	index    ConfigIndex
	retry    RetryConfig
	logger   Logger
	metrics  Metrics
	sleep    func(ctx context.Context, d time.Duration) error
	ensured  sync.Map // Backend -> struct{}
	ensureMu sync.Mutex
}

// BlobStorageOption configures a BlobStorageService
type BlobStorageOption func(*BlobStorageService)

// WithConfigIndex sets the config index consulted for canary configs.
// The default is a process-local MemoryConfigIndex.
func WithConfigIndex(index ConfigIndex) BlobStorageOption {
	return func(s *BlobStorageService) { s.index = index }
}

// WithStoreRetry sets the fixed retry applied to physical writes and deletes
func WithStoreRetry(retry RetryConfig) BlobStorageOption {
	return func(s *BlobStorageService) { s.retry = retry }
}

// WithStorageLogger sets the logger
func WithStorageLogger(logger Logger) BlobStorageOption {
	return func(s *BlobStorageService) { s.logger = logger }
}

// WithStorageMetrics sets the metrics sink
func WithStorageMetrics(metrics Metrics) BlobStorageOption {
	return func(s *BlobStorageService) { s.metrics = metrics }
}

// NewBlobStorageService creates a storage service for the accounts accepted by matches.
// kind is used in logs only.
func NewBlobStorageService(kind string, matches func(Account) bool, opts ...BlobStorageOption) *BlobStorageService {
	s := &BlobStorageService{
		kind:    kind,
		matches: matches,
		retry:   DefaultRetryConfig(),
		logger:  &NoOpLogger{},
		metrics: &NoOpMetrics{},
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.index == nil {
		s.index = NewMemoryConfigIndex()
	}
	return s
}

// NewS3StorageService serves S3Account (AWS and MinIO)
func NewS3StorageService(opts ...BlobStorageOption) *BlobStorageService {
	return NewBlobStorageService("s3", isAccount[*S3Account], opts...)
}

// NewGCSStorageService serves GCSAccount
func NewGCSStorageService(opts ...BlobStorageOption) *BlobStorageService {
	return NewBlobStorageService("gcs", isAccount[*GCSAccount], opts...)
}

// NewMemoryStorageService serves MemoryAccount
func NewMemoryStorageService(opts ...BlobStorageOption) *BlobStorageService {
	return NewBlobStorageService("memory", isAccount[*MemoryAccount], opts...)
}

// NewFilesystemStorageService serves FilesystemAccount
func NewFilesystemStorageService(opts ...BlobStorageOption) *BlobStorageService {
	return NewBlobStorageService("filesystem", isAccount[*FilesystemAccount], opts...)
}

// NewSQLStorageService serves SQLAccount
func NewSQLStorageService(opts ...BlobStorageOption) *BlobStorageService {
	return NewBlobStorageService("sql", isAccount[*SQLAccount], opts...)
}

// NewBadgerStorageService serves BadgerAccount
func NewBadgerStorageService(opts ...BlobStorageOption) *BlobStorageService {
	return NewBlobStorageService("badger", isAccount[*BadgerAccount], opts...)
}

func isAccount[A Account](account Account) bool {
	_, ok := account.(A)
	return ok
}

// Index returns the config index the service maintains
func (s *BlobStorageService) Index() ConfigIndex {
	return s.index
}

// AppliesTo accepts accounts of the matched type tagged for object or configuration storage
func (s *BlobStorageService) AppliesTo(account Account) bool {
	return account != nil &&
		Supports(account, ObjectStore, ConfigurationStore) &&
		s.matches(account)
}

func (s *BlobStorageService) target(account Account) (Backend, string, error) {
	if account == nil {
		return nil, "", &ResolutionError{Kind: "storage", Account: "<nil>"}
	}
	sa, ok := account.(storageAccount)
	if !ok || !s.AppliesTo(account) {
		return nil, "", &ResolutionError{Kind: "storage", Account: account.Name()}
	}
	backend := sa.backend()
	if backend == nil {
		return nil, "", WithContext(ErrInvalidConfig, map[string]interface{}{
			"account": account.Name(),
			"reason":  "account has no storage backend",
		})
	}
	return withAccountCipher(account, backend), sa.rootFolder(), nil
}

// ensureContainer creates the account's bucket, table or directory once per backend
func (s *BlobStorageService) ensureContainer(ctx context.Context, backend Backend) error {
	if _, ok := s.ensured.Load(backend); ok {
		return nil
	}
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if _, ok := s.ensured.Load(backend); ok {
		return nil
	}
	if err := backend.EnsureContainer(ctx); err != nil {
		return wrapBackendFault("ensure container", err)
	}
	s.ensured.Store(backend, struct{}{})
	return nil
}

func (s *BlobStorageService) observe(op string, objectType ObjectType, start time.Time, err error) {
	tags := []string{"operation", op, "objectType", objectType.Group()}
	s.metrics.Increment(MetricStorageOps, tags...)
	s.metrics.Timing(MetricStorageLatency, time.Since(start), tags...)
	switch {
	case err == nil:
	case IsNotFound(err):
		s.metrics.Increment(MetricStorageNotFound, tags...)
	default:
		s.metrics.Increment(MetricStorageErrors, tags...)
	}
}

// LoadObject resolves key to exactly one physical object and decodes it into dest.
func (s *BlobStorageService) LoadObject(ctx context.Context, account Account, objectType ObjectType, key string, dest any) (err error) {
	defer func(start time.Time) { s.observe("load", objectType, start, err) }(time.Now())

	if err := ValidateObjectKey("key", key); err != nil {
		return err
	}
	backend, root, err := s.target(account)
	if err != nil {
		return err
	}

	path, err := resolveSingularPath(ctx, backend, root, objectType, key)
	if err != nil {
		return err
	}

	data, err := backend.Get(ctx, path)
	if err != nil {
		if IsNotFound(err) || errors.Is(err, ErrDeserialize) {
			return err
		}
		return wrapBackendFault("load "+path, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return WithContext(ErrDeserialize, map[string]interface{}{
			"account":    account.Name(),
			"objectType": objectType.String(),
			"path":       path,
			"error":      err.Error(),
		})
	}
	return nil
}

// StoreObject serializes value and writes it under key. Canary configs go through
// the pending-update protocol; every other type is written directly.
func (s *BlobStorageService) StoreObject(ctx context.Context, account Account, objectType ObjectType, key string, value any, opts StoreOptions) (err error) {
	defer func(start time.Time) { s.observe("store", objectType, start, err) }(time.Now())

	if err := ValidateObjectKey("key", key); err != nil {
		return err
	}
	if opts.Filename != "" {
		if err := ValidateObjectKey("filename", opts.Filename); err != nil {
			return err
		}
	}
	backend, root, err := s.target(account)
	if err != nil {
		return err
	}
	if err := s.ensureContainer(ctx, backend); err != nil {
		return err
	}

	path := objectPath(root, objectType, key, opts.Filename)

	if objectType == CanaryConfigType {
		config, err := asCanaryConfig(value)
		if err != nil {
			return err
		}
		return s.storeConfig(ctx, account.Name(), backend, root, key, path, config, opts.IsUpdate)
	}

	data, err := encodeObject(objectType, value)
	if err != nil {
		return err
	}
	return s.putWithRetry(ctx, backend, path, data)
}

func (s *BlobStorageService) storeConfig(ctx context.Context, account string, backend Backend, root, key, path string, config *CanaryConfig, isUpdate bool) error {
	existingID, err := s.index.IDForName(ctx, account, config.Name, config.Applications)
	if err != nil {
		return err
	}
	if existingID != "" && existingID != key {
		s.metrics.Increment(MetricDuplicateName)
		return &DuplicateNameError{Name: config.Name, Applications: config.Applications, ExistingID: existingID}
	}

	var originalPath string
	if isUpdate {
		if originalPath, err = resolveSingularPath(ctx, backend, root, CanaryConfigType, key); err != nil {
			return err
		}
	}

	updatedTimestamp, err := s.index.CurrentTime(ctx)
	if err != nil {
		return err
	}

	update := PendingUpdate{
		Timestamp:     updatedTimestamp,
		Action:        IndexUpdate,
		CorrelationID: NewID(),
		Summary: ObjectSummary{
			ID:                  key,
			Name:                config.Name,
			UpdatedTimestamp:    updatedTimestamp,
			UpdatedTimestampIso: isoMillis(updatedTimestamp),
			Applications:        config.Applications,
		},
	}

	err = s.runPending(ctx, account, update, func() error {
		data, err := encodeObject(CanaryConfigType, config)
		if err != nil {
			return err
		}
		if err := s.putWithRetry(ctx, backend, path, data); err != nil {
			return err
		}
		// Renamed: the old file would otherwise still resolve for this id
		if originalPath != "" && originalPath != path {
			return s.deleteWithRetry(ctx, backend, originalPath)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("canary config update failed",
			"account", account,
			"path", path,
			"correlationId", update.CorrelationID,
			"error", err,
		)
	}
	return err
}

// runPending records update, runs write and finishes the marker, removing it again
// if anything after the start fails. A failed removal is joined to, never substituted
// for, the original error.
func (s *BlobStorageService) runPending(ctx context.Context, account string, update PendingUpdate, write func() error) error {
	action := string(update.Action)

	err := s.index.StartPendingUpdate(ctx, account, update)
	if err == nil {
		s.metrics.Increment(MetricPendingStarted, "action", action)
		err = write()
	}
	if err == nil {
		err = s.index.FinishPendingUpdate(ctx, account, update.Action, update.CorrelationID)
	}
	if err == nil {
		s.metrics.Increment(MetricPendingFinished, "action", action)
		return nil
	}

	// The caller's context may be what failed the write; the marker still has to go
	rbErr := s.index.RemoveFailedPendingUpdate(context.WithoutCancel(ctx), account, update)
	if rbErr != nil {
		s.metrics.Increment(MetricRollbackFailed, "action", action)
		s.logger.Error("failed to remove pending update",
			"account", account,
			"correlationId", update.CorrelationID,
			"error", rbErr,
		)
		return errors.Join(err, fmt.Errorf("remove failed pending update %s: %w", update.CorrelationID, rbErr))
	}
	s.metrics.Increment(MetricPendingRolledBack, "action", action)
	return err
}

// DeleteObject resolves key to exactly one physical object and deletes it.
// Canary configs known to the index get a DELETE marker around the delete.
func (s *BlobStorageService) DeleteObject(ctx context.Context, account Account, objectType ObjectType, key string) (err error) {
	defer func(start time.Time) { s.observe("delete", objectType, start, err) }(time.Now())

	if err := ValidateObjectKey("key", key); err != nil {
		return err
	}
	backend, root, err := s.target(account)
	if err != nil {
		return err
	}

	path, err := resolveSingularPath(ctx, backend, root, objectType, key)
	if err != nil {
		return err
	}

	if objectType != CanaryConfigType {
		return s.deleteWithRetry(ctx, backend, path)
	}

	updatedTimestamp, err := s.index.CurrentTime(ctx)
	if err != nil {
		return err
	}
	existing, err := s.index.SummaryForID(ctx, account.Name(), key)
	if IsNotFound(err) {
		return s.deleteWithRetry(ctx, backend, path)
	}
	if err != nil {
		return err
	}

	update := PendingUpdate{
		Timestamp:     updatedTimestamp,
		Action:        IndexDelete,
		CorrelationID: NewID(),
		Summary: ObjectSummary{
			ID:                  key,
			Name:                existing.Name,
			UpdatedTimestamp:    updatedTimestamp,
			UpdatedTimestampIso: isoMillis(updatedTimestamp),
			Applications:        existing.Applications,
		},
	}

	err = s.runPending(ctx, account.Name(), update, func() error {
		return s.deleteWithRetry(ctx, backend, path)
	})
	if err != nil {
		s.logger.Error("canary config delete failed",
			"account", account.Name(),
			"path", path,
			"correlationId", update.CorrelationID,
			"error", err,
		)
	}
	return err
}

// ListObjectKeys lists objects of a type. Canary configs come from the index
// unless SkipIndex is set; everything else is enumerated from the backend.
func (s *BlobStorageService) ListObjectKeys(ctx context.Context, account Account, objectType ObjectType, opts ListOptions) (summaries []ObjectSummary, err error) {
	defer func(start time.Time) { s.observe("list", objectType, start, err) }(time.Now())

	backend, root, err := s.target(account)
	if err != nil {
		return nil, err
	}

	if objectType == CanaryConfigType && !opts.SkipIndex {
		s.metrics.Increment(MetricIndexListHits)
		return s.index.SummarySet(ctx, account.Name(), opts.Applications)
	}

	if err := s.ensureContainer(ctx, backend); err != nil {
		return nil, err
	}

	prefix := typedFolder(root, objectType) + "/"
	s.logger.Debug("listing objects", "account", account.Name(), "group", objectType.Group())

	summaries = []ObjectSummary{}
	err = backend.ListPaginated(ctx, prefix, func(objects []ObjectInfo) error {
		for _, obj := range objects {
			if summary, ok := summarize(prefix, objectType, obj); ok {
				summaries = append(summaries, summary)
			}
		}
		return nil
	})
	if IsNotFound(err) {
		return summaries, nil
	}
	if err != nil {
		return nil, wrapBackendFault("list "+prefix, err)
	}
	return summaries, nil
}

// summarize turns <prefix><id>/<filename> into a summary. Objects sitting directly
// under the group folder have no id and are skipped.
func summarize(prefix string, objectType ObjectType, obj ObjectInfo) (ObjectSummary, bool) {
	rest := strings.TrimPrefix(obj.Key, prefix)
	lastSlash := strings.LastIndex(rest, "/")
	if lastSlash <= 0 {
		return ObjectSummary{}, false
	}

	millis := obj.LastModified.UnixMilli()
	summary := ObjectSummary{
		ID:                  rest[:lastSlash],
		UpdatedTimestamp:    millis,
		UpdatedTimestampIso: isoMillis(millis),
	}
	if objectType == CanaryConfigType {
		summary.Name = strings.TrimSuffix(rest[lastSlash+1:], ".json")
	}
	return summary, true
}

func (s *BlobStorageService) putWithRetry(ctx context.Context, backend Backend, path string, data []byte) error {
	checksum := Checksum(data)
	return s.withRetry(ctx, "put", path, func() error {
		return backend.Put(ctx, path, data, checksum)
	})
}

func (s *BlobStorageService) deleteWithRetry(ctx context.Context, backend Backend, path string) error {
	return s.withRetry(ctx, "delete", path, func() error {
		return backend.Delete(ctx, path)
	})
}

// withRetry runs fn up to retry.MaxAttempts times with a fixed pause.
// Permanent errors and cancellation end the loop at once.
func (s *BlobStorageService) withRetry(ctx context.Context, op, path string, fn func() error) error {
	attempts := max(s.retry.MaxAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if IsPermanent(err) || ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			s.metrics.Increment(MetricStorageRetries, "operation", op)
			s.logger.Warn("retrying storage operation",
				"operation", op,
				"path", path,
				"attempt", attempt,
				"error", err,
			)
			if sleepErr := s.sleep(ctx, s.retry.Backoff); sleepErr != nil {
				break
			}
		}
	}

	if IsNotFound(err) || IsPermanent(err) {
		return err
	}
	return wrapBackendFault(op+" "+path, err)
}

// resolveSingularPath finds the one physical object stored for key.
// Zero matches is ErrNotFound; more than one is ErrAmbiguousMatch.
func resolveSingularPath(ctx context.Context, backend Backend, root string, objectType ObjectType, key string) (string, error) {
	prefix := cleanPath(typedFolder(root, objectType) + "/" + key + "/")

	var matches []string
	err := backend.ListPaginated(ctx, prefix, func(objects []ObjectInfo) error {
		for _, obj := range objects {
			matches = append(matches, obj.Key)
		}
		return nil
	})
	if err != nil && !IsNotFound(err) {
		return "", wrapBackendFault("resolve "+prefix, err)
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", WithContext(ErrNotFound, map[string]interface{}{
			"objectType": objectType.String(),
			"key":        key,
		})
	default:
		return "", WithContext(ErrAmbiguousMatch, map[string]interface{}{
			"objectType": objectType.String(),
			"key":        key,
			"matches":    matches,
		})
	}
}

// objectPath builds <root>/<group>/<key>/<filename>. A key that already ends
// with the filename is taken as a full path.
func objectPath(root string, objectType ObjectType, key, filename string) string {
	if filename == "" {
		filename = objectType.DefaultFilename()
	}
	if strings.HasSuffix(key, filename) {
		return key
	}
	return cleanPath(typedFolder(root, objectType) + "/" + key + "/" + filename)
}

func typedFolder(root string, objectType ObjectType) string {
	return cleanPath(root + "/" + objectType.Group())
}

// cleanPath collapses doubled separators and drops a leading one
func cleanPath(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return strings.TrimPrefix(p, "/")
}

func encodeObject(objectType ObjectType, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"objectType": objectType.String(),
			"error":      err.Error(),
		})
	}
	return data, nil
}

func asCanaryConfig(value any) (*CanaryConfig, error) {
	switch v := value.(type) {
	case *CanaryConfig:
		if v != nil {
			return v, nil
		}
	case CanaryConfig:
		return &v, nil
	}
	return nil, WithContext(ErrInvalidData, map[string]interface{}{
		"objectType": CanaryConfigType.String(),
		"valueType":  fmt.Sprintf("%T", value),
		"reason":     "canary config payload expected",
	})
}

package canarystore

import (
	"context"
	"fmt"
	"time"
)

// MaintainableConfigIndex is a ConfigIndex the repair service can rebuild
type MaintainableConfigIndex interface {
	ConfigIndex
	ConfigIndexMaintenance
}

// IndexRepairService rebuilds a storage account's config index from the configs
// actually present in object storage and clears pending markers left by crashed writers.
type IndexRepairService struct {
	storage    StorageService
	index      MaintainableConfigIndex
	lock       *DistributedLock
	lockTTL    time.Duration
	staleAfter time.Duration
	logger     Logger
	metrics    Metrics
}

// IndexRepairOption configures an IndexRepairService
type IndexRepairOption func(*IndexRepairService)

// WithRepairLock serializes rebuilds of one account across processes
func WithRepairLock(lock *DistributedLock, ttl time.Duration) IndexRepairOption {
	return func(r *IndexRepairService) {
		r.lock = lock
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

// WithStaleAfter sets how old a pending marker must be before a rebuild drops it
func WithStaleAfter(d time.Duration) IndexRepairOption {
	return func(r *IndexRepairService) { r.staleAfter = d }
}

// WithRepairLogger sets the logger
func WithRepairLogger(logger Logger) IndexRepairOption {
	return func(r *IndexRepairService) { r.logger = logger }
}

// WithRepairMetrics sets the metrics sink
func WithRepairMetrics(metrics Metrics) IndexRepairOption {
	return func(r *IndexRepairService) { r.metrics = metrics }
}

// NewIndexRepairService creates a repair service reading configs through storage
func NewIndexRepairService(storage StorageService, index MaintainableConfigIndex, opts ...IndexRepairOption) *IndexRepairService {
	r := &IndexRepairService{
		storage:    storage,
		index:      index,
		lockTTL:    5 * time.Minute,
		staleAfter: DefaultStalePendingUpdateAge,
		logger:     &NoOpLogger{},
		metrics:    &NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RepairReport contains results from an index rebuild
type RepairReport struct {
	Account      string
	Listed       int
	Indexed      int
	Added        []string
	Removed      []string
	StalePending int
	Errors       []string
	CompletedAt  time.Time
}

// Rebuild replaces the committed index view of account with summaries read from storage.
// Configs that fail to load are reported and left out. Writers finishing during a
// rebuild may need another rebuild to show up; only concurrent rebuilds are excluded.
func (r *IndexRepairService) Rebuild(ctx context.Context, account Account) (*RepairReport, error) {
	if r.lock != nil {
		lease, err := r.lock.Lock(ctx, "index-rebuild:"+account.Name(), r.lockTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lease.Release(); err != nil {
				r.logger.Warn("failed to release index rebuild lock", "account", account.Name(), "error", err)
			}
		}()
	}

	report := &RepairReport{
		Account: account.Name(),
		Added:   []string{},
		Removed: []string{},
		Errors:  []string{},
	}

	// Step 1: enumerate what storage actually holds
	listed, err := r.storage.ListObjectKeys(ctx, account, CanaryConfigType, ListOptions{SkipIndex: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list canary configs: %w", err)
	}
	report.Listed = len(listed)

	summaries := make([]ObjectSummary, 0, len(listed))
	for _, entry := range listed {
		config, err := Load[CanaryConfig](ctx, r.storage, account, CanaryConfigType, entry.ID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Failed to load %s: %v", entry.ID, err))
			continue
		}

		updated := entry.UpdatedTimestamp
		if config.UpdatedTimestamp > 0 {
			updated = config.UpdatedTimestamp
		}
		summaries = append(summaries, ObjectSummary{
			ID:                  entry.ID,
			Name:                config.Name,
			UpdatedTimestamp:    updated,
			UpdatedTimestampIso: isoMillis(updated),
			Applications:        config.Applications,
		})
	}
	report.Indexed = len(summaries)

	// Step 2: diff against the current view for the report
	current, err := r.index.SummarySet(ctx, account.Name(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read config index: %w", err)
	}
	report.Added, report.Removed = diffSummaryIDs(current, summaries)

	// Step 3: swap in the rebuilt view
	if err := r.index.ReplaceCommitted(ctx, account.Name(), summaries); err != nil {
		return nil, fmt.Errorf("failed to replace config index: %w", err)
	}

	// Step 4: markers older than staleAfter belong to writers that never came back
	now, err := r.index.CurrentTime(ctx)
	if err != nil {
		return nil, err
	}
	dropped, err := r.index.DropPending(ctx, account.Name(), now-r.staleAfter.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("failed to drop stale pending updates: %w", err)
	}
	report.StalePending = dropped
	report.CompletedAt = time.UnixMilli(now).UTC()

	r.metrics.Increment(MetricIndexRebuilds, "account", account.Name())
	r.logger.Info("rebuilt config index",
		"account", account.Name(),
		"indexed", report.Indexed,
		"added", len(report.Added),
		"removed", len(report.Removed),
		"stalePending", dropped,
		"errors", len(report.Errors),
	)
	return report, nil
}

func diffSummaryIDs(before, after []ObjectSummary) (added, removed []string) {
	had := make(map[string]bool, len(before))
	for _, s := range before {
		had[s.ID] = true
	}
	has := make(map[string]bool, len(after))
	added, removed = []string{}, []string{}
	for _, s := range after {
		has[s.ID] = true
		if !had[s.ID] {
			added = append(added, s.ID)
		}
	}
	for _, s := range before {
		if !has[s.ID] {
			removed = append(removed, s.ID)
		}
	}
	return added, removed
}

package canarystore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// IndexHealthMonitor periodically compares the config index of every
// configuration store account with a storage listing and reports drift:
// configs the index is missing and entries it holds for deleted configs.
// Drift above the threshold is logged, counted, and optionally repaired by
// rebuilding that account's index.
type IndexHealthMonitor struct {
	storage *StorageServiceRepository
	index   MaintainableConfigIndex
	logger  Logger
	metrics Metrics

	interval   time.Duration
	threshold  float64 // percent
	autoRepair bool
	repairOpts []IndexRepairOption

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// IndexHealthReport is the outcome of checking one account.
type IndexHealthReport struct {
	Timestamp       time.Time
	Account         string
	InStorage       int
	InIndex         int
	MissingInIndex  []string
	ExtraInIndex    []string
	PendingUpdates  int
	DriftPercentage float64
}

// NewIndexHealthMonitor checks every 5 minutes and alerts above 5% drift.
func NewIndexHealthMonitor(storage *StorageServiceRepository, index MaintainableConfigIndex) *IndexHealthMonitor {
	return &IndexHealthMonitor{
		storage:   storage,
		index:     index,
		logger:    &NoOpLogger{},
		metrics:   &NoOpMetrics{},
		interval:  5 * time.Minute,
		threshold: 5,
	}
}

func (m *IndexHealthMonitor) WithInterval(interval time.Duration) *IndexHealthMonitor {
	m.interval = interval
	return m
}

// WithDriftThreshold sets the drift percentage above which a check alerts.
func (m *IndexHealthMonitor) WithDriftThreshold(percent float64) *IndexHealthMonitor {
	m.threshold = percent
	return m
}

// WithAutoRepair rebuilds an alerting account's index with opts.
func (m *IndexHealthMonitor) WithAutoRepair(opts ...IndexRepairOption) *IndexHealthMonitor {
	m.autoRepair = true
	m.repairOpts = opts
	return m
}

func (m *IndexHealthMonitor) WithLogger(logger Logger) *IndexHealthMonitor {
	m.logger = logger
	return m
}

func (m *IndexHealthMonitor) WithMetrics(metrics Metrics) *IndexHealthMonitor {
	m.metrics = metrics
	return m
}

// Start checks all accounts now and then every interval until ctx ends or
// Stop is called. Starting a running monitor is an error.
func (m *IndexHealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return errors.New("index health monitor already running")
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)

	m.logger.Info("index health monitor started",
		"interval", m.interval.String(),
		"drift_threshold", m.threshold,
		"auto_repair", m.autoRepair,
	)
	return nil
}

func (m *IndexHealthMonitor) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.CheckAll(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("index health monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the background checks and waits for a check in progress.
// The monitor may be started again afterwards.
func (m *IndexHealthMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// CheckAll checks every configuration store account storage can serve.
// Failed checks are logged and left out of the result.
func (m *IndexHealthMonitor) CheckAll(ctx context.Context) []*IndexHealthReport {
	var reports []*IndexHealthReport
	for _, account := range m.storage.Accounts().AllWithCapability(ConfigurationStore) {
		if ctx.Err() != nil {
			break
		}
		if _, ok := m.storage.Find(account); !ok {
			continue
		}
		report, err := m.Check(ctx, account)
		if err != nil {
			m.logger.Error("index health check failed", "account", account.Name(), "error", err)
			m.metrics.Increment(MetricIndexHealthErrors, "account", account.Name())
			continue
		}
		m.processReport(ctx, account, report)
		reports = append(reports, report)
	}
	return reports
}

// Check compares the committed index view of account with a storage listing
func (m *IndexHealthMonitor) Check(ctx context.Context, account Account) (*IndexHealthReport, error) {
	service, err := m.storage.Require(account)
	if err != nil {
		return nil, err
	}

	listed, err := service.ListObjectKeys(ctx, account, CanaryConfigType, ListOptions{SkipIndex: true})
	if err != nil {
		return nil, fmt.Errorf("list canary configs: %w", err)
	}
	indexed, err := m.index.SummarySet(ctx, account.Name(), nil)
	if err != nil {
		return nil, fmt.Errorf("read config index: %w", err)
	}
	pending, err := m.index.PendingUpdates(ctx, account.Name())
	if err != nil {
		return nil, fmt.Errorf("read pending updates: %w", err)
	}

	missing, extra := diffSummaryIDs(indexed, listed)
	report := &IndexHealthReport{
		Timestamp:      time.Now().UTC(),
		Account:        account.Name(),
		InStorage:      len(listed),
		InIndex:        len(indexed),
		MissingInIndex: missing,
		ExtraInIndex:   extra,
		PendingUpdates: len(pending),
	}
	drifted := len(missing) + len(extra)
	switch {
	case drifted == 0:
	case len(listed) == 0:
		report.DriftPercentage = 100
	default:
		report.DriftPercentage = float64(drifted) / float64(len(listed)) * 100
	}
	return report, nil
}

// processReport records the results and repairs the account when configured to
func (m *IndexHealthMonitor) processReport(ctx context.Context, account Account, report *IndexHealthReport) {
	m.metrics.Gauge(MetricIndexDrift, report.DriftPercentage, "account", report.Account)
	m.metrics.Gauge(MetricIndexMissing, float64(len(report.MissingInIndex)), "account", report.Account)
	m.metrics.Gauge(MetricIndexExtra, float64(len(report.ExtraInIndex)), "account", report.Account)

	if report.DriftPercentage <= m.threshold {
		m.logger.Debug("index health check passed",
			"account", report.Account,
			"drift_percent", report.DriftPercentage,
			"in_storage", report.InStorage,
		)
		return
	}

	m.logger.Error("index drift detected",
		"account", report.Account,
		"drift_percent", report.DriftPercentage,
		"missing", len(report.MissingInIndex),
		"extra", len(report.ExtraInIndex),
		"in_storage", report.InStorage,
	)
	m.metrics.Increment(MetricIndexDriftAlerts, "account", report.Account)

	if !m.autoRepair {
		return
	}
	if _, err := m.RepairDrift(ctx, account); err != nil {
		m.logger.Error("index drift repair failed", "account", report.Account, "error", err)
	}
}

// RepairDrift rebuilds the index of account from storage
func (m *IndexHealthMonitor) RepairDrift(ctx context.Context, account Account) (*RepairReport, error) {
	service, err := m.storage.Require(account)
	if err != nil {
		return nil, err
	}
	opts := append([]IndexRepairOption{
		WithRepairLogger(m.logger),
		WithRepairMetrics(m.metrics),
	}, m.repairOpts...)
	return NewIndexRepairService(service, m.index, opts...).Rebuild(ctx, account)
}

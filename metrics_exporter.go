package canarystore

import (
	"context"
	"time"
)

// MetricsExporter periodically publishes gauges that no single request updates:
// registered accounts per capability and in-flight config index updates per
// configuration store account.
type MetricsExporter struct {
	accounts *AccountRegistry
	index    ConfigIndexMaintenance
	metrics  Metrics
	logger   Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewMetricsExporter creates a new metrics exporter. index may be nil, in which case
// only account gauges are exported.
func NewMetricsExporter(accounts *AccountRegistry, index ConfigIndexMaintenance, metrics Metrics, interval time.Duration) *MetricsExporter {
	return &MetricsExporter{
		accounts: accounts,
		index:    index,
		metrics:  metrics,
		logger:   &NoOpLogger{},
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// WithLogger sets the logger used for export failures
func (e *MetricsExporter) WithLogger(logger Logger) *MetricsExporter {
	e.logger = logger
	return e
}

// Start begins exporting metrics periodically. It blocks until Stop is called or ctx is done.
func (e *MetricsExporter) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.export(ctx)
	for {
		select {
		case <-ticker.C:
			e.export(ctx)
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops the exporter
func (e *MetricsExporter) Stop() {
	close(e.stopCh)
}

func (e *MetricsExporter) export(ctx context.Context) {
	for _, capability := range Capabilities() {
		e.metrics.Gauge(MetricAccounts, float64(len(e.accounts.AllWithCapability(capability))),
			"capability", string(capability))
	}

	if e.index == nil {
		return
	}
	for _, account := range e.accounts.AllWithCapability(ConfigurationStore) {
		pending, err := e.index.PendingUpdates(ctx, account.Name())
		if err != nil {
			e.logger.Warn("failed to read pending config updates", "account", account.Name(), "error", err)
			continue
		}
		e.metrics.Gauge(MetricIndexPending, float64(len(pending)), "account", account.Name())
	}
}

// ExportOnce exports metrics once (useful for testing or manual export)
func (e *MetricsExporter) ExportOnce(ctx context.Context) {
	e.export(ctx)
}

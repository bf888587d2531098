package canarystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"syscall"
	"time"
)

// MetricsService queries one kind of metrics backend for the series of a canary metric.
type MetricsService interface {
	Applier
	// Type names the backend, e.g. "prometheus"; used as the metricsStore tag
	Type() string
	// BuildQuery renders the backend query for metric without running it
	BuildQuery(ctx context.Context, account Account, config *CanaryConfig, metric CanaryMetricConfig, scope CanaryScope) (string, error)
	// QueryMetrics runs the query. Failures should be reported as *QueryFailure
	// so that they can be classified for retry.
	QueryMetrics(ctx context.Context, account Account, config *CanaryConfig, metric CanaryMetricConfig, scope CanaryScope) ([]MetricSet, error)
}

// FailureKind says how far a metrics query got before it failed
type FailureKind int

const (
	// FailureUnclassified means nothing is known about the failure
	FailureUnclassified FailureKind = iota
	// FailureTransport means no response was received
	FailureTransport
	// FailureStatus means the backend answered with a non-success status
	FailureStatus
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureStatus:
		return "status"
	default:
		return "unclassified"
	}
}

// QueryFailure is the structured outcome of a failed metrics query
type QueryFailure struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (f *QueryFailure) Error() string {
	if f.Kind == FailureStatus {
		return fmt.Sprintf("metrics query failed with status %d: %v", f.StatusCode, f.Err)
	}
	return fmt.Sprintf("metrics query failed (%s): %v", f.Kind, f.Err)
}

func (f *QueryFailure) Unwrap() error {
	return f.Err
}

// Decision is the verdict ClassifyFailure reaches for a failed query
type Decision int

const (
	Fatal Decision = iota
	Retryable
)

func (d Decision) String() string {
	if d == Retryable {
		return "retryable"
	}
	return "fatal"
}

// ClassifyFailure decides whether a failed metrics query should be retried.
//
//   - no response (transport failure, connection refused or reset) is retryable
//   - a status listed in cfg.Statuses or falling in one of cfg.Series is retryable
//   - any other status, and anything that cannot be classified, is fatal
//   - ErrRetryableQuery and local transient I/O errors are retryable
func ClassifyFailure(err error, cfg MetricsRetryConfig) Decision {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}
	if errors.Is(err, ErrRetryableQuery) {
		return Retryable
	}

	var failure *QueryFailure
	if errors.As(err, &failure) {
		switch failure.Kind {
		case FailureTransport:
			return Retryable
		case FailureStatus:
			if retryableStatus(failure.StatusCode, cfg) {
				return Retryable
			}
			return Fatal
		}
		// Unclassified failures may still carry a recognisable cause
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return Retryable
	}
	return Fatal
}

func retryableStatus(status int, cfg MetricsRetryConfig) bool {
	if slices.Contains(cfg.Statuses, status) {
		return true
	}
	for _, series := range cfg.Series {
		if series.Contains(status) {
			return true
		}
	}
	return false
}

// QueryProcessor runs a single canary metric query with retry and stores the result.
type QueryProcessor struct {
	metricsServices *MetricsServiceRepository
	storageServices *StorageServiceRepository
	retry           MetricsRetryConfig
	logger          Logger
	metrics         Metrics
	sleep           func(ctx context.Context, d time.Duration) error
}

// QueryProcessorOption configures a QueryProcessor
type QueryProcessorOption func(*QueryProcessor)

// WithQueryRetry sets the retry policy
func WithQueryRetry(cfg MetricsRetryConfig) QueryProcessorOption {
	return func(p *QueryProcessor) { p.retry = cfg }
}

// WithQueryLogger sets the logger
func WithQueryLogger(logger Logger) QueryProcessorOption {
	return func(p *QueryProcessor) { p.logger = logger }
}

// WithQueryMetrics sets the metrics sink
func WithQueryMetrics(metrics Metrics) QueryProcessorOption {
	return func(p *QueryProcessor) { p.metrics = metrics }
}

// NewQueryProcessor creates a processor resolving services through the two repositories.
func NewQueryProcessor(metricsServices *MetricsServiceRepository, storageServices *StorageServiceRepository, opts ...QueryProcessorOption) *QueryProcessor {
	p := &QueryProcessor{
		metricsServices: metricsServices,
		storageServices: storageServices,
		retry:           DefaultMetricsRetryConfig(),
		logger:          &NoOpLogger{},
		metrics:         &NoOpMetrics{},
		sleep:           sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type resolvedQuery struct {
	metricsAccount Account
	metricsService MetricsService
	metric         CanaryMetricConfig
}

func (p *QueryProcessor) resolveMetrics(metricsAccountName string, config *CanaryConfig, metricIndex int) (*resolvedQuery, error) {
	if config == nil || metricIndex < 0 || metricIndex >= len(config.Metrics) {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"metricIndex": metricIndex,
			"reason":      "metric index out of range",
		})
	}

	return p.resolveService(metricsAccountName, config.Metrics[metricIndex])
}

func (p *QueryProcessor) resolveService(metricsAccountName string, metric CanaryMetricConfig) (*resolvedQuery, error) {
	account, err := p.metricsServices.Accounts().RequireByName(metricsAccountName)
	if err != nil {
		return nil, err
	}
	service, err := p.metricsServices.Require(account)
	if err != nil {
		return nil, err
	}
	return &resolvedQuery{
		metricsAccount: account,
		metricsService: service,
		metric:         metric,
	}, nil
}

// ExecuteQuery runs metric metricIndex of config against the metrics account, retrying
// classified-retryable failures, and stores the resulting metric sets in the storage
// account under a new id, which is returned.
//
// Retries stop once Attempts retryable failures have been seen; the last failure is
// then returned wrapped in ErrRetryExhausted. Cancelling ctx ends the backoff sleep
// and the call returns ctx.Err().
func (p *QueryProcessor) ExecuteQuery(ctx context.Context, metricsAccountName, storageAccountName string, config *CanaryConfig, metricIndex int, scope CanaryScope) (string, error) {
	q, err := p.resolveMetrics(metricsAccountName, config, metricIndex)
	if err != nil {
		return "", err
	}
	storageAccount, err := p.storageServices.Accounts().RequireByName(storageAccountName)
	if err != nil {
		return "", err
	}
	storage, err := p.storageServices.Require(storageAccount)
	if err != nil {
		return "", err
	}

	store := q.metricsService.Type()
	start := time.Now()
	defer func() {
		p.metrics.Timing(MetricQueryDuration, time.Since(start), "metricsStore", store)
	}()

	var metricSets []MetricSet
	retries := 0
	for {
		p.metrics.Increment(MetricQueryAttempts, "metricsStore", store, "retries", strconv.Itoa(retries))
		metricSets, err = q.metricsService.QueryMetrics(ctx, q.metricsAccount, config, q.metric, scope)
		if err == nil {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		if ClassifyFailure(err, p.retry) == Fatal {
			p.metrics.Increment(MetricQueryFailures, "metricsStore", store)
			return "", err
		}

		retries++
		if retries >= p.retry.Attempts {
			p.metrics.Increment(MetricQueryFailures, "metricsStore", store)
			return "", fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, retries, err)
		}

		backoff := p.retry.backoff(retries)
		p.metrics.Increment(MetricQueryRetries, "metricsStore", store)
		p.logger.Warn("retrying metrics query",
			"metricsAccount", metricsAccountName,
			"metric", q.metric.Name,
			"attempt", retries,
			"backoff", backoff,
			"error", err,
		)
		if err := p.sleep(ctx, backoff); err != nil {
			return "", err
		}
	}

	metricSetListID := NewID()
	if err := storage.StoreObject(ctx, storageAccount, MetricSetListType, metricSetListID, metricSets, StoreOptions{}); err != nil {
		return "", err
	}

	p.logger.Debug("stored metric set list",
		"metricSetListId", metricSetListID,
		"metric", q.metric.Name,
		"series", len(metricSets),
	)
	return metricSetListID, nil
}

// ProcessQueryAndReturnMap is ExecuteQuery returning {"metricSetListId": id}, or with
// dryRun set, only builds the query and returns {"query": text} without retry or storage.
//
// Without a config, metric becomes a single-metric config and is the one executed.
// With a config, execution always runs config.Metrics[metricIndex]; metric, when
// given, is only what a dry run builds its query from.
func (p *QueryProcessor) ProcessQueryAndReturnMap(ctx context.Context, metricsAccountName, storageAccountName string, config *CanaryConfig, metric *CanaryMetricConfig, metricIndex int, scope CanaryScope, dryRun bool) (map[string]string, error) {
	if config == nil {
		config = &CanaryConfig{}
		if metric != nil {
			config.Metrics = []CanaryMetricConfig{*metric}
			metricIndex = 0
		}
	}

	if dryRun {
		var q *resolvedQuery
		var err error
		if metric != nil {
			q, err = p.resolveService(metricsAccountName, *metric)
		} else {
			q, err = p.resolveMetrics(metricsAccountName, config, metricIndex)
		}
		if err != nil {
			return nil, err
		}
		query, err := q.metricsService.BuildQuery(ctx, q.metricsAccount, config, q.metric, scope)
		if err != nil {
			return nil, err
		}
		return map[string]string{"query": query}, nil
	}

	id, err := p.ExecuteQuery(ctx, metricsAccountName, storageAccountName, config, metricIndex, scope)
	if err != nil {
		return nil, err
	}
	return map[string]string{"metricSetListId": id}, nil
}

package canarystore

import (
	"strings"
	"sync"
	"time"
)

// Metric names. Tags are alternating label name/value pairs; the comment on
// each group names the labels its metrics carry.
const (
	// operation, objectType
	MetricStorageOps      = "canary.storage.ops"
	MetricStorageErrors   = "canary.storage.errors"
	MetricStorageLatency  = "canary.storage.latency"
	MetricStorageNotFound = "canary.storage.not_found"
	// operation
	MetricStorageRetries = "canary.storage.retries"

	// action
	MetricPendingStarted    = "canary.index.pending_started"
	MetricPendingFinished   = "canary.index.pending_finished"
	MetricPendingRolledBack = "canary.index.pending_rolled_back"
	MetricRollbackFailed    = "canary.index.rollback_failed"
	// none
	MetricDuplicateName = "canary.index.duplicate_name"
	MetricIndexListHits = "canary.index.list_hits"

	// account
	MetricIndexRebuilds     = "canary.index.rebuilds"
	MetricIndexPending      = "canary.index.pending"
	MetricIndexDrift        = "canary.index.drift"
	MetricIndexMissing      = "canary.index.missing"
	MetricIndexExtra        = "canary.index.extra"
	MetricIndexDriftAlerts  = "canary.index.drift_alerts"
	MetricIndexHealthErrors = "canary.index.health_errors"

	// metricsStore
	MetricQueryAttempts = "canary.telemetry.query"
	MetricQueryRetries  = "canary.telemetry.retries"
	MetricQueryFailures = "canary.telemetry.failures"
	MetricQueryDuration = "canary.telemetry.duration"

	// capability
	MetricAccounts = "canary.accounts"
	// breaker
	MetricCircuitOpen = "canary.circuit.open"
)

// Metrics receives the counters, gauges and timings emitted by storage,
// the config index and the query processor.
type Metrics interface {
	Increment(name string, tags ...string)
	Gauge(name string, value float64, tags ...string)
	Histogram(name string, value float64, tags ...string)
	Timing(name string, duration time.Duration, tags ...string)
}

type NoOpMetrics struct{}

func (*NoOpMetrics) Increment(string, ...string)             {}
func (*NoOpMetrics) Gauge(string, float64, ...string)        {}
func (*NoOpMetrics) Histogram(string, float64, ...string)    {}
func (*NoOpMetrics) Timing(string, time.Duration, ...string) {}

// InMemoryMetrics records everything for assertions in tests. Counters,
// Gauges and Histograms are keyed by metric name across all tags; CountWith
// reads a single tagged series. Timings are stored in Histograms as seconds.
type InMemoryMetrics struct {
	mu         sync.Mutex
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	series     map[string]int
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		series:     make(map[string]int),
	}
}

// seriesKey renders name{k=v,...} with tags in call order.
func seriesKey(name string, tags []string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i+1 < len(tags); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(tags[i])
		b.WriteByte('=')
		b.WriteString(tags[i+1])
	}
	b.WriteByte('}')
	return b.String()
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
	m.series[seriesKey(name, tags)]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.Histogram(name, duration.Seconds(), tags...)
}

// Count sums a counter over all of its tags.
func (m *InMemoryMetrics) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}

// CountWith reads the counter series with exactly these tags, in order.
func (m *InMemoryMetrics) CountWith(name string, tags ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.series[seriesKey(name, tags)]
}

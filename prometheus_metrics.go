package canarystore

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metricKind int

const (
	counterKind metricKind = iota
	gaugeKind
	histogramKind
)

type metricSpec struct {
	kind      metricKind
	subsystem string
	name      string
	help      string
	labels    []string
	buckets   []float64
}

var queryBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// metricCatalog maps the Metric* names to their exported Prometheus form.
var metricCatalog = map[string]metricSpec{
	MetricStorageOps:      {counterKind, "storage", "operations_total", "Object storage operations", []string{"operation", "objectType"}, nil},
	MetricStorageErrors:   {counterKind, "storage", "errors_total", "Failed object storage operations", []string{"operation", "objectType"}, nil},
	MetricStorageNotFound: {counterKind, "storage", "not_found_total", "Lookups that found no object", []string{"operation", "objectType"}, nil},
	MetricStorageRetries:  {counterKind, "storage", "retries_total", "Retried physical writes and deletes", []string{"operation"}, nil},
	MetricStorageLatency:  {histogramKind, "storage", "operation_duration_seconds", "Object storage operation duration", []string{"operation", "objectType"}, prometheus.DefBuckets},

	MetricPendingStarted:    {counterKind, "index", "pending_started_total", "Pending updates recorded before a config write", []string{"action"}, nil},
	MetricPendingFinished:   {counterKind, "index", "pending_finished_total", "Pending updates committed after a config write", []string{"action"}, nil},
	MetricPendingRolledBack: {counterKind, "index", "pending_rolled_back_total", "Pending updates removed after a failed config write", []string{"action"}, nil},
	MetricRollbackFailed:    {counterKind, "index", "rollback_failed_total", "Pending update rollbacks that failed", []string{"action"}, nil},
	MetricDuplicateName:     {counterKind, "index", "duplicate_name_total", "Config writes rejected for a name collision", nil, nil},
	MetricIndexListHits:     {counterKind, "index", "list_hits_total", "Config listings served from the index", nil, nil},
	MetricIndexRebuilds:     {counterKind, "index", "rebuilds_total", "Index rebuilds from object storage", []string{"account"}, nil},
	MetricIndexPending:      {gaugeKind, "index", "pending_updates", "Pending config updates not yet finished", []string{"account"}, nil},
	MetricIndexDrift:        {gaugeKind, "index", "drift_percent", "Share of configs the index disagrees with storage on", []string{"account"}, nil},
	MetricIndexMissing:      {gaugeKind, "index", "missing", "Stored configs absent from the index", []string{"account"}, nil},
	MetricIndexExtra:        {gaugeKind, "index", "extra", "Indexed configs absent from storage", []string{"account"}, nil},
	MetricIndexDriftAlerts:  {counterKind, "index", "drift_alerts_total", "Health checks over the drift threshold", []string{"account"}, nil},
	MetricIndexHealthErrors: {counterKind, "index", "health_errors_total", "Health checks that could not complete", []string{"account"}, nil},

	MetricQueryAttempts: {counterKind, "telemetry", "query_total", "Metrics query attempts", []string{"metricsStore", "retries"}, nil},
	MetricQueryRetries:  {counterKind, "telemetry", "retries_total", "Metrics query attempts that failed and were retried", []string{"metricsStore"}, nil},
	MetricQueryFailures: {counterKind, "telemetry", "failures_total", "Metrics queries that failed for good", []string{"metricsStore"}, nil},
	MetricQueryDuration: {histogramKind, "telemetry", "query_duration_seconds", "Metrics query duration, retries included", []string{"metricsStore"}, queryBuckets},

	MetricAccounts:    {gaugeKind, "", "accounts", "Registered accounts per capability", []string{"capability"}, nil},
	MetricCircuitOpen: {counterKind, "circuit", "open_total", "Calls rejected by an open circuit breaker", []string{"breaker"}, nil},
}

// PrometheusMetrics exports Metrics calls under the "canary" namespace.
// Catalogued names are registered up front; any other name is registered on
// first use with the label names of that call. Calls whose labels do not
// match the registered ones are dropped.
type PrometheusMetrics struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics registers into registry, or into a private registry when nil.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	p := &PrometheusMetrics{
		registry:   registry,
		factory:    promauto.With(registry),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
	for name, spec := range metricCatalog {
		p.register(name, spec)
	}
	return p
}

func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// register must be called with p.mu held or before p is shared.
func (p *PrometheusMetrics) register(name string, spec metricSpec) {
	switch spec.kind {
	case counterKind:
		p.counters[name] = p.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canary", Subsystem: spec.subsystem, Name: spec.name, Help: spec.help,
		}, spec.labels)
	case gaugeKind:
		p.gauges[name] = p.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "canary", Subsystem: spec.subsystem, Name: spec.name, Help: spec.help,
		}, spec.labels)
	case histogramKind:
		p.histograms[name] = p.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "canary", Subsystem: spec.subsystem, Name: spec.name, Help: spec.help, Buckets: spec.buckets,
		}, spec.labels)
	}
}

// adhoc describes an uncatalogued metric: "canary.custom.events" becomes
// canary_custom_events.
func adhoc(kind metricKind, name string, tags []string) metricSpec {
	spec := metricSpec{
		kind: kind,
		name: strings.NewReplacer(".", "_", "-", "_").Replace(strings.TrimPrefix(name, "canary.")),
		help: name,
	}
	for i := 0; i+1 < len(tags); i += 2 {
		spec.labels = append(spec.labels, tags[i])
	}
	if kind == histogramKind {
		spec.buckets = prometheus.DefBuckets
	}
	return spec
}

func tagLabels(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		p.register(name, adhoc(counterKind, name, tags))
		vec = p.counters[name]
	}
	p.mu.Unlock()

	if c, err := vec.GetMetricWith(tagLabels(tags)); err == nil {
		c.Inc()
	}
}

func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		p.register(name, adhoc(gaugeKind, name, tags))
		vec = p.gauges[name]
	}
	p.mu.Unlock()

	if g, err := vec.GetMetricWith(tagLabels(tags)); err == nil {
		g.Set(value)
	}
}

func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok {
		p.register(name, adhoc(histogramKind, name, tags))
		vec = p.histograms[name]
	}
	p.mu.Unlock()

	if h, err := vec.GetMetricWith(tagLabels(tags)); err == nil {
		h.Observe(value)
	}
}

// Timing observes duration in seconds.
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

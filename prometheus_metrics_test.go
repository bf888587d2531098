package canarystore

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func exported(t *testing.T, registry *prometheus.Registry) map[string]bool {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestPrometheusMetricsRegistersCatalog(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	if metrics.Registry() != registry {
		t.Error("Registry() returned a different registry")
	}
	if got := len(metrics.counters) + len(metrics.gauges) + len(metrics.histograms); got != len(metricCatalog) {
		t.Errorf("registered %d metrics, catalog has %d", got, len(metricCatalog))
	}
	if NewPrometheusMetrics(nil).Registry() == nil {
		t.Error("nil registry should be replaced by a private one")
	}
}

func TestPrometheusMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Increment(MetricStorageOps, "operation", "load", "objectType", "canary_config")
	metrics.Increment(MetricStorageOps, "operation", "load", "objectType", "canary_config")
	metrics.Increment(MetricStorageOps, "operation", "store", "objectType", "metrics")
	for i := 0; i < 3; i++ {
		metrics.Increment(MetricQueryAttempts, "metricsStore", "prometheus", "retries", "0")
	}

	if got := testutil.ToFloat64(metrics.counters[MetricStorageOps].WithLabelValues("load", "canary_config")); got != 2 {
		t.Errorf("storage loads = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.counters[MetricQueryAttempts].WithLabelValues("prometheus", "0")); got != 3 {
		t.Errorf("query attempts = %v, want 3", got)
	}
	if !exported(t, registry)["canary_storage_operations_total"] {
		t.Error("canary_storage_operations_total not exported")
	}
}

func TestPrometheusMetricsGaugesAndHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Gauge(MetricAccounts, 2, "capability", string(ObjectStore))
	metrics.Gauge(MetricAccounts, 3, "capability", string(ObjectStore))
	metrics.Gauge(MetricIndexDrift, 12.5, "account", "gcs-prod")
	metrics.Timing(MetricStorageLatency, 25*time.Millisecond, "operation", "store", "objectType", "metrics")

	if got := testutil.ToFloat64(metrics.gauges[MetricAccounts].WithLabelValues(string(ObjectStore))); got != 3 {
		t.Errorf("accounts = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.gauges[MetricIndexDrift].WithLabelValues("gcs-prod")); got != 12.5 {
		t.Errorf("drift = %v, want 12.5", got)
	}
	names := exported(t, registry)
	for _, want := range []string{"canary_storage_operation_duration_seconds", "canary_index_drift_percent", "canary_accounts"} {
		if !names[want] {
			t.Errorf("%s not exported", want)
		}
	}
}

func TestPrometheusMetricsAdhocNames(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)

	metrics.Increment("canary.custom.events", "kind", "test")
	metrics.Histogram("canary.custom-size", 12, "kind", "test")

	names := exported(t, registry)
	if !names["canary_custom_events"] || !names["canary_custom_size"] {
		t.Errorf("ad hoc metrics missing: %v", names)
	}
}

func TestPrometheusMetricsDropsMismatchedLabels(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())

	metrics.Increment(MetricQueryAttempts, "store", "prometheus")
	metrics.Gauge(MetricAccounts, 1)

	if got := testutil.CollectAndCount(metrics.counters[MetricQueryAttempts]); got != 0 {
		t.Errorf("mismatched counter created %d series", got)
	}
	if got := testutil.CollectAndCount(metrics.gauges[MetricAccounts]); got != 0 {
		t.Errorf("mismatched gauge created %d series", got)
	}
}

func TestPrometheusMetricsImplementsInterface(t *testing.T) {
	var _ Metrics = NewPrometheusMetrics(prometheus.NewRegistry())
}

package canarystore

import (
	"context"
	"testing"
	"time"
)

func TestMetricsExporterExportOnce(t *testing.T) {
	ctx := context.Background()
	accounts := NewAccountRegistry()
	accounts.Save(NewMemoryAccount("configs", ConfigurationStore, ObjectStore))

	index := NewMemoryConfigIndex()
	if err := index.StartPendingUpdate(ctx, "configs", PendingUpdate{
		Timestamp:     1,
		Action:        IndexUpdate,
		CorrelationID: "c1",
		Summary:       ObjectSummary{ID: "a", Name: "a"},
	}); err != nil {
		t.Fatalf("StartPendingUpdate failed: %v", err)
	}

	metrics := NewInMemoryMetrics()
	exporter := NewMetricsExporter(accounts, index, metrics, time.Second)
	exporter.ExportOnce(ctx)

	if got := metrics.Gauges[MetricIndexPending]; got != 1 {
		t.Errorf("expected 1 pending update, got %v", got)
	}
	if _, ok := metrics.Gauges[MetricAccounts]; !ok {
		t.Error("expected account gauge to be exported")
	}
}

func TestMetricsExporterWithoutIndex(t *testing.T) {
	accounts := NewAccountRegistry()
	accounts.Save(NewMemoryAccount("configs", ConfigurationStore))

	metrics := NewInMemoryMetrics()
	NewMetricsExporter(accounts, nil, metrics, time.Second).ExportOnce(context.Background())

	if _, ok := metrics.Gauges[MetricIndexPending]; ok {
		t.Error("pending gauge should not be exported without an index")
	}
}

func TestMetricsExporterStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping background goroutine test in short mode")
	}

	accounts := NewAccountRegistry()
	accounts.Save(NewMemoryAccount("metrics", MetricsStore))
	metrics := NewInMemoryMetrics()
	exporter := NewMetricsExporter(accounts, nil, metrics, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		exporter.Start(context.Background())
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	exporter.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("exporter did not stop")
	}

	metrics.mu.Lock()
	_, ok := metrics.Gauges[MetricAccounts]
	metrics.mu.Unlock()
	if !ok {
		t.Error("expected account gauges to be exported")
	}
}

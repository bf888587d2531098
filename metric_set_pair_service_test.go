package canarystore

import (
	"context"
	"errors"
	"testing"
)

func newPairServiceFixture(t *testing.T) *MetricSetPairListService {
	t.Helper()
	registry := NewAccountRegistry()
	registry.Save(NewMemoryAccount("store", ObjectStore))
	registry.Save(NewMemoryAccount("metrics", MetricsStore))
	svc, _ := newTestStorage(t)
	return NewMetricSetPairListService(NewStorageServiceRepository(registry, svc))
}

func TestMetricSetPairListLifecycle(t *testing.T) {
	ctx := context.Background()
	service := newPairServiceFixture(t)

	pairs := []MetricSetPair{
		{Name: "cpu", ID: "p1", Values: map[string]MetricValues{"control": {1, 2}, "experiment": {1, 3}}},
		{Name: "errors", ID: "p2", Values: map[string]MetricValues{"control": {0}, "experiment": {1}}},
	}

	id, err := service.StoreMetricSetPairList(ctx, "store", pairs)
	if err != nil {
		t.Fatalf("StoreMetricSetPairList failed: %v", err)
	}

	loaded, err := service.LoadMetricSetPairList(ctx, "store", id)
	if err != nil {
		t.Fatalf("LoadMetricSetPairList failed: %v", err)
	}
	if len(loaded) != 2 || loaded[1].Name != "errors" {
		t.Errorf("unexpected pairs: %+v", loaded)
	}

	pair, err := service.LoadMetricSetPair(ctx, "store", id, "p2")
	if err != nil {
		t.Fatalf("LoadMetricSetPair failed: %v", err)
	}
	if pair.Values["experiment"][0] != 1 {
		t.Errorf("unexpected pair: %+v", pair)
	}
	if _, err := service.LoadMetricSetPair(ctx, "store", id, "p9"); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound for unknown pair, got %v", err)
	}

	summaries, err := service.ListAllMetricSetPairLists(ctx, "store")
	if err != nil {
		t.Fatalf("ListAllMetricSetPairLists failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != id || summaries[0].Name != "" {
		t.Errorf("unexpected summaries: %+v", summaries)
	}

	if err := service.DeleteMetricSetPairList(ctx, "store", id); err != nil {
		t.Fatalf("DeleteMetricSetPairList failed: %v", err)
	}
	if _, err := service.LoadMetricSetPairList(ctx, "store", id); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMetricSetPairListRequiresNamedStorageAccount(t *testing.T) {
	ctx := context.Background()
	service := newPairServiceFixture(t)

	if _, err := service.LoadMetricSetPairList(ctx, "", "x"); !IsNotFound(err) {
		t.Errorf("blank account should not resolve, got %v", err)
	}
	if _, err := service.StoreMetricSetPairList(ctx, "metrics", nil); !errors.Is(err, ErrResolution) {
		t.Errorf("expected ErrResolution for metrics account, got %v", err)
	}
}

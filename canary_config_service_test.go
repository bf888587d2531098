package canarystore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func newConfigServiceFixture(t *testing.T, opts ...CanaryConfigOption) (*CanaryConfigService, *MemoryAccount) {
	t.Helper()
	registry := NewAccountRegistry()
	account := NewMemoryAccount("configs", ConfigurationStore)
	registry.Save(account)
	registry.Save(NewMemoryAccount("metrics", MetricsStore))

	svc, _ := newTestStorage(t)
	service := NewCanaryConfigService(NewStorageServiceRepository(registry, svc), opts...)
	service.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return service, account
}

func TestCanaryConfigValidate(t *testing.T) {
	service, _ := newConfigServiceFixture(t)

	tests := []struct {
		name    string
		config  *CanaryConfig
		wantErr string
	}{
		{name: "valid", config: testConfig("latency-p99", "checkout")},
		{name: "missing name", config: testConfig("", "checkout"), wantErr: "must specify a name"},
		{name: "no applications", config: testConfig("latency"), wantErr: "at least one application"},
		{name: "bad characters", config: testConfig("latency p99", "checkout"), wantErr: "cannot be named 'latency p99'"},
		{name: "dotted name", config: testConfig("latency.p99", "checkout"), wantErr: "cannot be named"},
		{
			name: "blank metric name",
			config: &CanaryConfig{Name: "c", Applications: []string{"a"},
				Metrics: []CanaryMetricConfig{{Name: ""}}},
			wantErr: "Metric config must specify a name",
		},
		{
			name: "duplicate metric name",
			config: &CanaryConfig{Name: "c", Applications: []string{"a"},
				Metrics: []CanaryMetricConfig{{Name: "cpu"}, {Name: "cpu"}}},
			wantErr: "'cpu' is duplicated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := service.Validate(tt.config)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidData) {
				t.Fatalf("expected ErrInvalidData, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestCanaryConfigValidateWithoutMetricNames(t *testing.T) {
	service, _ := newConfigServiceFixture(t, WithoutMetricNameValidation())

	config := &CanaryConfig{Name: "c", Applications: []string{"a"},
		Metrics: []CanaryMetricConfig{{Name: "cpu"}, {Name: "cpu"}, {Name: ""}}}
	if err := service.Validate(config); err != nil {
		t.Errorf("metric names should not be checked: %v", err)
	}
	// Name rules still apply
	if err := service.Validate(testConfig("", "a")); err == nil {
		t.Error("expected missing name to fail")
	}
}

func TestCanaryConfigCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	service, account := newConfigServiceFixture(t)

	id, err := service.Create(ctx, "", testConfig("latency", "checkout"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	keys := listKeys(t, account.Backend, "")
	if len(keys) != 1 || keys[0] != "canary_config/"+id+"/latency.json" {
		t.Errorf("unexpected physical keys: %v", keys)
	}

	loaded, err := service.Load(ctx, "configs", id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.ID != id || loaded.Name != "latency" {
		t.Errorf("unexpected config: %+v", loaded)
	}
	if loaded.CreatedTimestamp != 1700000000000 || loaded.UpdatedTimestamp != loaded.CreatedTimestamp {
		t.Errorf("unexpected timestamps: %d %d", loaded.CreatedTimestamp, loaded.UpdatedTimestamp)
	}
	if loaded.CreatedTimestampIso != "2023-11-14T22:13:20Z" {
		t.Errorf("unexpected iso timestamp: %s", loaded.CreatedTimestampIso)
	}

	summaries, err := service.List(ctx, "", []string{"checkout"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != id || summaries[0].Name != "latency" {
		t.Errorf("unexpected summaries: %+v", summaries)
	}
}

func TestCanaryConfigCreateKeepsExplicitID(t *testing.T) {
	ctx := context.Background()
	service, _ := newConfigServiceFixture(t)

	config := testConfig("latency", "checkout")
	config.ID = "my-id"
	id, err := service.Create(ctx, "", config)
	if err != nil || id != "my-id" {
		t.Fatalf("Create = %q, %v", id, err)
	}

	again := testConfig("other", "billing")
	again.ID = "my-id"
	_, err = service.Create(ctx, "", again)
	if !errors.Is(err, ErrInvalidData) || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("expected existing id to be rejected, got %v", err)
	}
}

func TestCanaryConfigCreateDuplicateName(t *testing.T) {
	ctx := context.Background()
	service, _ := newConfigServiceFixture(t)

	if _, err := service.Create(ctx, "", testConfig("latency", "checkout", "billing")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := service.Create(ctx, "", testConfig("latency", "billing"))
	if !IsDuplicateName(err) {
		t.Fatalf("expected duplicate name, got %v", err)
	}

	// Same name in an unrelated application is fine
	if _, err := service.Create(ctx, "", testConfig("latency", "search")); err != nil {
		t.Errorf("Create in other application failed: %v", err)
	}
}

func TestCanaryConfigUpdate(t *testing.T) {
	ctx := context.Background()
	service, account := newConfigServiceFixture(t)

	id, err := service.Create(ctx, "", testConfig("latency", "checkout"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	service.now = func() time.Time { return time.UnixMilli(1700000060000) }
	renamed := testConfig("latency-v2", "checkout")
	if err := service.Update(ctx, "", id, renamed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if renamed.ID != id {
		t.Errorf("update should fill id from path, got %q", renamed.ID)
	}

	keys := listKeys(t, account.Backend, "")
	if len(keys) != 1 || keys[0] != "canary_config/"+id+"/latency-v2.json" {
		t.Errorf("rename left keys %v", keys)
	}

	loaded, err := service.Load(ctx, "", id)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Name != "latency-v2" || loaded.UpdatedTimestamp != 1700000060000 {
		t.Errorf("unexpected config after update: %+v", loaded)
	}
}

func TestCanaryConfigUpdateMissing(t *testing.T) {
	service, _ := newConfigServiceFixture(t)

	err := service.Update(context.Background(), "", "nope", testConfig("latency", "checkout"))
	if !IsNotFound(err) || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCanaryConfigUpdateInvalid(t *testing.T) {
	service, _ := newConfigServiceFixture(t)

	err := service.Update(context.Background(), "", "nope", testConfig("", "checkout"))
	if !errors.Is(err, ErrInvalidData) {
		t.Errorf("validation should run before lookup, got %v", err)
	}
}

func TestCanaryConfigDelete(t *testing.T) {
	ctx := context.Background()
	service, _ := newConfigServiceFixture(t)

	id, err := service.Create(ctx, "", testConfig("latency", "checkout"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := service.Delete(ctx, "", id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := service.Load(ctx, "", id); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	summaries, err := service.List(ctx, "", nil)
	if err != nil || len(summaries) != 0 {
		t.Errorf("expected empty listing, got %v %v", summaries, err)
	}
	if err := service.Delete(ctx, "", id); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound for second delete, got %v", err)
	}
}

func TestCanaryConfigWrongAccount(t *testing.T) {
	service, _ := newConfigServiceFixture(t)

	if _, err := service.Load(context.Background(), "metrics", "x"); !errors.Is(err, ErrResolution) {
		t.Errorf("expected ErrResolution for metrics account, got %v", err)
	}
	if _, err := service.Load(context.Background(), "missing", "x"); !IsNotFound(err) {
		t.Errorf("expected ErrNotFound for unknown account, got %v", err)
	}
}

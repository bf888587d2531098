package canarystore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewID(t *testing.T) {
	id1 := NewID()
	time.Sleep(1 * time.Millisecond)
	id2 := NewID()

	if !IsValidID(id1) || !IsValidID(id2) {
		t.Fatalf("NewID() generated invalid ids: %s %s", id1, id2)
	}
	if id1 == id2 {
		t.Error("NewID() generated duplicate IDs")
	}

	// Later ids sort after earlier ones in an object listing
	if id1 > id2 {
		t.Error("ids not time-ordered")
	}

	if v := uuid.MustParse(id1).Version(); v != 7 {
		t.Errorf("Expected UUIDv7, got version %d", v)
	}
}

func TestIsValidID(t *testing.T) {
	testCases := []struct {
		id    string
		valid bool
	}{
		{NewID(), true},
		{uuid.New().String(), true},
		{"invalid", false},
		{"", false},
		{"00000000-0000-0000-0000-000000000000", true},
	}

	for _, tc := range testCases {
		if got := IsValidID(tc.id); got != tc.valid {
			t.Errorf("IsValidID(%q) = %v, want %v", tc.id, got, tc.valid)
		}
	}
}

func TestValidateObjectKey(t *testing.T) {
	testCases := []struct {
		key   string
		valid bool
	}{
		{NewID(), true},
		{"pipeline-42", true},
		{"canary_config/abc/latency.json", true},
		{"v1.2", true},
		{"", false},
		{"..", false},
		{".", false},
		{"../other", false},
		{"a/../../etc", false},
		{"/abs", false},
		{`a\b`, false},
		{"a\x00b", false},
	}

	for _, tc := range testCases {
		err := ValidateObjectKey("key", tc.key)
		if tc.valid && err != nil {
			t.Errorf("ValidateObjectKey(%q) = %v, want nil", tc.key, err)
		}
		if !tc.valid && !IsBadInput(err) {
			t.Errorf("ValidateObjectKey(%q) = %v, want ErrInvalidData", tc.key, err)
		}
	}
}

func TestStorageRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	account := NewFilesystemAccount("fs", t.TempDir(), ObjectStore)
	service := NewFilesystemStorageService(WithStoreRetry(RetryConfig{MaxAttempts: 1}))
	sets := []MetricSet{{Name: "cpu"}}

	if err := service.StoreObject(ctx, account, MetricSetListType, "..", &sets, StoreOptions{}); !IsBadInput(err) {
		t.Errorf("store with .. key: got %v", err)
	}
	if err := service.StoreObject(ctx, account, MetricSetListType, "m1", &sets, StoreOptions{Filename: "../../x.json"}); !IsBadInput(err) {
		t.Errorf("store with escaping filename: got %v", err)
	}
	var loaded []MetricSet
	if err := service.LoadObject(ctx, account, MetricSetListType, "../canary_config", &loaded); !IsBadInput(err) {
		t.Errorf("load with escaping key: got %v", err)
	}
	if err := service.DeleteObject(ctx, account, MetricSetListType, ".."); !IsBadInput(err) {
		t.Errorf("delete with .. key: got %v", err)
	}
}

func BenchmarkNewID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewID()
	}
}

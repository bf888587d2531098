package canarystore

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestMetricValuesJSON(t *testing.T) {
	values := MetricValues{1.5, math.NaN(), 3, math.Inf(1)}

	data, err := json.Marshal(values)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != "[1.5,null,3,null]" {
		t.Errorf("unexpected encoding: %s", data)
	}

	var decoded MetricValues
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(decoded) != 4 || decoded[0] != 1.5 || decoded[2] != 3 {
		t.Errorf("unexpected values: %v", decoded)
	}
	if !math.IsNaN(decoded[1]) || !math.IsNaN(decoded[3]) {
		t.Errorf("null should decode to NaN: %v", decoded)
	}
}

func TestMetricValuesNilEncodesEmpty(t *testing.T) {
	set := MetricSet{Name: "cpu"}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if string(raw["values"]) != "[]" {
		t.Errorf("nil values encoded as %s", raw["values"])
	}
}

func TestCanaryScopeStepDuration(t *testing.T) {
	tests := []struct {
		step int64
		want time.Duration
	}{
		{0, time.Minute},
		{-5, time.Minute},
		{30, 30 * time.Second},
		{300, 5 * time.Minute},
	}
	for _, tt := range tests {
		if got := (CanaryScope{Step: tt.step}).StepDuration(); got != tt.want {
			t.Errorf("StepDuration(%d) = %v, want %v", tt.step, got, tt.want)
		}
	}
}

func TestIsoMillis(t *testing.T) {
	if got := isoMillis(1700000000123); got != "2023-11-14T22:13:20.123Z" {
		t.Errorf("isoMillis = %s", got)
	}
}

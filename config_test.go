package canarystore

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestRetryConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  RetryConfig
		wantErr bool
	}{
		{
			name:    "default config",
			config:  DefaultRetryConfig(),
			wantErr: false,
		},
		{
			name:    "single attempt no backoff",
			config:  RetryConfig{MaxAttempts: 1, Backoff: 0},
			wantErr: false,
		},
		{
			name:    "zero attempts invalid",
			config:  RetryConfig{MaxAttempts: 0, Backoff: time.Second},
			wantErr: true,
		},
		{
			name:    "negative backoff invalid",
			config:  RetryConfig{MaxAttempts: 3, Backoff: -time.Millisecond},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()
	if cfg.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want 10", cfg.MaxAttempts)
	}
	if cfg.Backoff != time.Second {
		t.Errorf("Backoff = %v, want 1s", cfg.Backoff)
	}
}

func TestMetricsRetryConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  MetricsRetryConfig
		wantErr bool
	}{
		{
			name:    "default config",
			config:  DefaultMetricsRetryConfig(),
			wantErr: false,
		},
		{
			name:    "zero attempts invalid",
			config:  MetricsRetryConfig{Attempts: 0, BackoffMultiplier: time.Millisecond},
			wantErr: true,
		},
		{
			name:    "negative multiplier invalid",
			config:  MetricsRetryConfig{Attempts: 3, BackoffMultiplier: -1},
			wantErr: true,
		},
		{
			name:    "bogus status invalid",
			config:  MetricsRetryConfig{Attempts: 3, Statuses: []int{42}},
			wantErr: true,
		},
		{
			name:    "bogus series invalid",
			config:  MetricsRetryConfig{Attempts: 3, Series: []StatusSeries{9}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultMetricsRetryConfig(t *testing.T) {
	cfg := DefaultMetricsRetryConfig()
	if cfg.Attempts != 10 {
		t.Errorf("Attempts = %d, want 10", cfg.Attempts)
	}
	if cfg.BackoffMultiplier != time.Second {
		t.Errorf("BackoffMultiplier = %v, want 1s", cfg.BackoffMultiplier)
	}
	if len(cfg.Statuses) != 2 || cfg.Statuses[0] != 408 || cfg.Statuses[1] != 429 {
		t.Errorf("Statuses = %v, want [408 429]", cfg.Statuses)
	}
	if len(cfg.Series) != 1 || cfg.Series[0] != SeriesServerError {
		t.Errorf("Series = %v, want [5]", cfg.Series)
	}
}

func TestMetricsRetryBackoff(t *testing.T) {
	cfg := MetricsRetryConfig{Attempts: 10, BackoffMultiplier: 100 * time.Millisecond}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{5, 1600 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := cfg.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestMetricsRetryBackoffSaturates(t *testing.T) {
	cfg := MetricsRetryConfig{Attempts: 100, BackoffMultiplier: time.Second}

	prev := time.Duration(0)
	for attempts := 1; attempts <= 100; attempts++ {
		got := cfg.backoff(attempts)
		if got < prev {
			t.Fatalf("backoff(%d) = %v, shorter than backoff(%d) = %v", attempts, got, attempts-1, prev)
		}
		prev = got
	}
	if got := cfg.backoff(35); got != time.Duration(math.MaxInt64) {
		t.Errorf("backoff(35) = %v, want saturation", got)
	}
	if got := cfg.backoff(34); got != time.Second<<33 {
		t.Errorf("backoff(34) = %v, want %v", got, time.Second<<33)
	}
}

func TestStatusSeriesContains(t *testing.T) {
	if !SeriesServerError.Contains(503) {
		t.Error("5xx should contain 503")
	}
	if SeriesServerError.Contains(404) {
		t.Error("5xx should not contain 404")
	}
	if !SeriesClientError.Contains(499) {
		t.Error("4xx should contain 499")
	}
}

package canarystore

import (
	"math"
	"net/http"
	"time"
)

// Configuration constants for canarystore operations
const (
	// Physical write/delete retry inside the config protocol
	DefaultStoreAttempts = 10
	DefaultStoreBackoff  = 1 * time.Second

	// Metrics query retry
	DefaultQueryAttempts          = 10
	DefaultQueryBackoffMultiplier = 1000 * time.Millisecond

	// Listing
	DefaultListPaginatedSize = 100

	// File backend configuration
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755

	// Index maintenance
	DefaultStalePendingUpdateAge = 1 * time.Hour
)

// RetryConfig holds the fixed retry applied to physical writes and deletes.
// Object writes are idempotent overwrites, so there is no backoff growth and no jitter.
type RetryConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: DefaultStoreAttempts,
		Backoff:     DefaultStoreBackoff,
	}
}

// Validate checks if the RetryConfig is valid
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "MaxAttempts",
			"value":  c.MaxAttempts,
			"reason": "must be >= 1",
		})
	}
	if c.Backoff < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Backoff",
			"value":  c.Backoff,
			"reason": "must be non-negative",
		})
	}
	return nil
}

// StatusSeries is a whole class of HTTP status codes: 4 means 4xx, 5 means 5xx.
type StatusSeries int

const (
	SeriesInformational StatusSeries = 1
	SeriesSuccessful    StatusSeries = 2
	SeriesRedirection   StatusSeries = 3
	SeriesClientError   StatusSeries = 4
	SeriesServerError   StatusSeries = 5
)

// Contains reports whether status belongs to the series
func (s StatusSeries) Contains(status int) bool {
	return status/100 == int(s)
}

// MetricsRetryConfig controls how metrics queries are retried
type MetricsRetryConfig struct {
	// Attempts is the number of retryable failures tolerated before giving up
	Attempts int
	// BackoffMultiplier scales the exponential backoff: sleep = multiplier * 2^(attempts-1)
	BackoffMultiplier time.Duration
	// Statuses lists individual HTTP statuses that are retryable
	Statuses []int
	// Series lists whole status classes that are retryable
	Series []StatusSeries
}

// DefaultMetricsRetryConfig returns the default metrics retry configuration
func DefaultMetricsRetryConfig() MetricsRetryConfig {
	return MetricsRetryConfig{
		Attempts:          DefaultQueryAttempts,
		BackoffMultiplier: DefaultQueryBackoffMultiplier,
		Statuses:          []int{http.StatusRequestTimeout, http.StatusTooManyRequests},
		Series:            []StatusSeries{SeriesServerError},
	}
}

// Validate checks if the MetricsRetryConfig is valid
func (c MetricsRetryConfig) Validate() error {
	if c.Attempts < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Attempts",
			"value":  c.Attempts,
			"reason": "must be >= 1",
		})
	}
	if c.BackoffMultiplier < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "BackoffMultiplier",
			"value":  c.BackoffMultiplier,
			"reason": "must be non-negative",
		})
	}
	for _, status := range c.Statuses {
		if status < 100 || status > 599 {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Statuses",
				"value":  status,
				"reason": "not an HTTP status code",
			})
		}
	}
	for _, series := range c.Series {
		if series < SeriesInformational || series > SeriesServerError {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Series",
				"value":  series,
				"reason": "must be between 1 and 5",
			})
		}
	}
	return nil
}

// backoff returns the sleep before the next attempt after attempts retryable
// failures. It saturates at math.MaxInt64 rather than wrapping negative.
func (c MetricsRetryConfig) backoff(attempts int) time.Duration {
	if attempts < 1 || c.BackoffMultiplier <= 0 {
		return 0
	}
	shift := min(attempts-1, 62)
	if c.BackoffMultiplier > time.Duration(math.MaxInt64>>shift) {
		return time.Duration(math.MaxInt64)
	}
	return c.BackoffMultiplier << shift
}

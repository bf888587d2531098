package canarystore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"testing"
	"time"
)

// fakeMetricsService fails with the queued errors, then returns sets
type fakeMetricsService struct {
	mu       sync.Mutex
	failures []error
	calls    int
	sets     []MetricSet
	metrics  []string
}

func (f *fakeMetricsService) Type() string { return "fake" }

func (f *fakeMetricsService) AppliesTo(account Account) bool {
	return Supports(account, MetricsStore)
}

func (f *fakeMetricsService) BuildQuery(ctx context.Context, account Account, config *CanaryConfig, metric CanaryMetricConfig, scope CanaryScope) (string, error) {
	return fmt.Sprintf("%s{scope=%q}", metric.Query.MetricName, scope.Scope), nil
}

func (f *fakeMetricsService) QueryMetrics(ctx context.Context, account Account, config *CanaryConfig, metric CanaryMetricConfig, scope CanaryScope) ([]MetricSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.metrics = append(f.metrics, metric.Name)
	if len(f.failures) > 0 {
		err := f.failures[0]
		if len(f.failures) > 1 {
			f.failures = f.failures[1:]
		} else if !errors.Is(err, errAlwaysFail) {
			f.failures = nil
		}
		return nil, err
	}
	return f.sets, nil
}

// errAlwaysFail marks a failure that repeats on every call
var errAlwaysFail = errors.New("always")

type queryFixture struct {
	processor *QueryProcessor
	metrics   *fakeMetricsService
	storage   *StorageServiceRepository
	recorder  *InMemoryMetrics
	sleeps    []time.Duration
}

func newQueryFixture(t *testing.T, retry MetricsRetryConfig) *queryFixture {
	t.Helper()
	accounts := NewAccountRegistry()
	accounts.Save(NewMemoryAccount("metrics", MetricsStore))
	accounts.Save(NewMemoryAccount("store", ObjectStore))

	f := &queryFixture{
		metrics: &fakeMetricsService{
			sets: []MetricSet{{Name: "cpu", Tags: map[string]string{}, Values: MetricValues{1, 2}}},
		},
		recorder: NewInMemoryMetrics(),
	}
	f.storage = NewStorageServiceRepository(accounts, NewMemoryStorageService())
	f.processor = NewQueryProcessor(
		NewMetricsServiceRepository(accounts, f.metrics),
		f.storage,
		WithQueryRetry(retry),
		WithQueryMetrics(f.recorder),
	)
	f.processor.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	return f
}

func queryConfig() *CanaryConfig {
	return &CanaryConfig{
		Name:         "latency",
		Applications: []string{"checkout"},
		Metrics: []CanaryMetricConfig{
			{Name: "cpu", Query: MetricQuery{Type: "fake", MetricName: "cpu_usage"}},
			{Name: "errors", Query: MetricQuery{Type: "fake", MetricName: "http_errors"}},
		},
	}
}

func testRetry(attempts int) MetricsRetryConfig {
	return MetricsRetryConfig{
		Attempts:          attempts,
		BackoffMultiplier: 10 * time.Millisecond,
		Statuses:          []int{408, 429},
		Series:            []StatusSeries{SeriesServerError},
	}
}

func TestExecuteQuery_RetriesThenStores(t *testing.T) {
	ctx := context.Background()
	f := newQueryFixture(t, testRetry(5))
	f.metrics.failures = []error{
		&QueryFailure{Kind: FailureTransport, Err: syscall.ECONNRESET},
		&QueryFailure{Kind: FailureStatus, StatusCode: 503, Err: errors.New("unavailable")},
	}

	id, err := f.processor.ExecuteQuery(ctx, "metrics", "store", queryConfig(), 0, CanaryScope{Scope: "canary"})
	if err != nil {
		t.Fatalf("ExecuteQuery failed: %v", err)
	}
	if !IsValidID(id) {
		t.Errorf("expected a generated id, got %q", id)
	}
	if f.metrics.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", f.metrics.calls)
	}
	if !slices.Equal(f.sleeps, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}) {
		t.Errorf("unexpected backoff: %v", f.sleeps)
	}
	if got := f.recorder.Count(MetricQueryAttempts); got != 3 {
		t.Errorf("expected 3 attempts counted, got %d", got)
	}
	for retries := 0; retries < 3; retries++ {
		if got := f.recorder.CountWith(MetricQueryAttempts, "metricsStore", "fake", "retries", strconv.Itoa(retries)); got != 1 {
			t.Errorf("attempt with retries=%d counted %d times, want 1", retries, got)
		}
	}
	if got := f.recorder.Count(MetricQueryRetries); got != 2 {
		t.Errorf("expected 2 retries counted, got %d", got)
	}

	account, storage, err := f.storage.ResolveOrFirst("store", ObjectStore)
	if err != nil {
		t.Fatalf("ResolveOrFirst failed: %v", err)
	}
	sets, err := Load[[]MetricSet](ctx, storage, account, MetricSetListType, id)
	if err != nil {
		t.Fatalf("stored metric set list not loadable: %v", err)
	}
	if len(sets) != 1 || sets[0].Name != "cpu" {
		t.Errorf("unexpected stored sets: %+v", sets)
	}
}

func TestExecuteQuery_FatalStatusIsNotRetried(t *testing.T) {
	f := newQueryFixture(t, testRetry(5))
	f.metrics.failures = []error{&QueryFailure{Kind: FailureStatus, StatusCode: 400, Err: errors.New("bad query")}}

	_, err := f.processor.ExecuteQuery(context.Background(), "metrics", "store", queryConfig(), 0, CanaryScope{})
	var failure *QueryFailure
	if !errors.As(err, &failure) || failure.StatusCode != 400 {
		t.Fatalf("expected the 400 failure back, got %v", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("fatal failures are not exhaustion")
	}
	if f.metrics.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", f.metrics.calls)
	}
	if len(f.sleeps) != 0 {
		t.Errorf("expected no backoff, got %v", f.sleeps)
	}
}

func TestExecuteQuery_RetryExhausted(t *testing.T) {
	f := newQueryFixture(t, testRetry(3))
	f.metrics.failures = []error{
		fmt.Errorf("%w: %w", errAlwaysFail, &QueryFailure{Kind: FailureStatus, StatusCode: 503, Err: errors.New("down")}),
	}

	_, err := f.processor.ExecuteQuery(context.Background(), "metrics", "store", queryConfig(), 0, CanaryScope{})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("expected ErrRetryExhausted, got %v", err)
	}
	var failure *QueryFailure
	if !errors.As(err, &failure) || failure.StatusCode != 503 {
		t.Errorf("last failure should stay reachable, got %v", err)
	}
	if f.metrics.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", f.metrics.calls)
	}
	if len(f.sleeps) != 2 {
		t.Errorf("expected 2 backoffs, got %v", f.sleeps)
	}
	if !IsUpstreamUnavailable(err) {
		t.Error("exhaustion should read as an upstream failure")
	}
}

func TestExecuteQuery_CancelDuringBackoff(t *testing.T) {
	f := newQueryFixture(t, MetricsRetryConfig{Attempts: 5, BackoffMultiplier: time.Hour, Series: []StatusSeries{SeriesServerError}})
	f.processor.sleep = sleepContext
	f.metrics.failures = []error{
		fmt.Errorf("%w: %w", errAlwaysFail, &QueryFailure{Kind: FailureTransport, Err: io.ErrUnexpectedEOF}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := f.processor.ExecuteQuery(ctx, "metrics", "store", queryConfig(), 0, CanaryScope{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not wake the backoff")
	}
	if f.metrics.calls != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", f.metrics.calls)
	}
}

func TestExecuteQuery_ResolutionErrors(t *testing.T) {
	f := newQueryFixture(t, testRetry(1))
	ctx := context.Background()

	if _, err := f.processor.ExecuteQuery(ctx, "missing", "store", queryConfig(), 0, CanaryScope{}); !IsNotFound(err) {
		t.Errorf("unknown metrics account: expected ErrNotFound, got %v", err)
	}
	if _, err := f.processor.ExecuteQuery(ctx, "store", "store", queryConfig(), 0, CanaryScope{}); !errors.Is(err, ErrResolution) {
		t.Errorf("account without a metrics service: expected ErrResolution, got %v", err)
	}
	if _, err := f.processor.ExecuteQuery(ctx, "metrics", "metrics", queryConfig(), 0, CanaryScope{}); !errors.Is(err, ErrResolution) {
		t.Errorf("account without a storage service: expected ErrResolution, got %v", err)
	}
	if _, err := f.processor.ExecuteQuery(ctx, "metrics", "store", queryConfig(), 7, CanaryScope{}); !errors.Is(err, ErrInvalidData) {
		t.Errorf("metric index out of range: expected ErrInvalidData, got %v", err)
	}
	if f.metrics.calls != 0 {
		t.Errorf("no query should run, got %d calls", f.metrics.calls)
	}
}

func TestProcessQueryAndReturnMap(t *testing.T) {
	ctx := context.Background()

	t.Run("dry run only builds the query", func(t *testing.T) {
		f := newQueryFixture(t, testRetry(3))
		result, err := f.processor.ProcessQueryAndReturnMap(ctx, "metrics", "store", queryConfig(), nil, 1, CanaryScope{Scope: "canary"}, true)
		if err != nil {
			t.Fatalf("dry run failed: %v", err)
		}
		if result["query"] != `http_errors{scope="canary"}` {
			t.Errorf("unexpected query: %v", result)
		}
		if f.metrics.calls != 0 {
			t.Errorf("dry run must not query, got %d calls", f.metrics.calls)
		}
	})

	t.Run("stores and returns the id", func(t *testing.T) {
		f := newQueryFixture(t, testRetry(3))
		result, err := f.processor.ProcessQueryAndReturnMap(ctx, "metrics", "store", queryConfig(), nil, 0, CanaryScope{}, false)
		if err != nil {
			t.Fatalf("ProcessQueryAndReturnMap failed: %v", err)
		}
		if !IsValidID(result["metricSetListId"]) {
			t.Errorf("expected a metricSetListId, got %v", result)
		}
	})

	t.Run("metric without config runs on its own", func(t *testing.T) {
		f := newQueryFixture(t, testRetry(3))
		adHoc := &CanaryMetricConfig{Name: "adhoc", Query: MetricQuery{MetricName: "custom"}}
		if _, err := f.processor.ProcessQueryAndReturnMap(ctx, "metrics", "store", nil, adHoc, 5, CanaryScope{}, false); err != nil {
			t.Fatalf("ad hoc query failed: %v", err)
		}
		if !slices.Equal(f.metrics.metrics, []string{"adhoc"}) {
			t.Errorf("expected the ad hoc metric to run, got %v", f.metrics.metrics)
		}
	})

	t.Run("config metric wins over a given metric when executing", func(t *testing.T) {
		f := newQueryFixture(t, testRetry(3))
		adHoc := &CanaryMetricConfig{Name: "adhoc", Query: MetricQuery{MetricName: "custom"}}
		if _, err := f.processor.ProcessQueryAndReturnMap(ctx, "metrics", "store", queryConfig(), adHoc, 1, CanaryScope{}, false); err != nil {
			t.Fatalf("query failed: %v", err)
		}
		if !slices.Equal(f.metrics.metrics, []string{"errors"}) {
			t.Errorf("expected config metric 1 to run, got %v", f.metrics.metrics)
		}
	})

	t.Run("dry run builds the given metric", func(t *testing.T) {
		f := newQueryFixture(t, testRetry(3))
		adHoc := &CanaryMetricConfig{Name: "adhoc", Query: MetricQuery{MetricName: "custom"}}
		result, err := f.processor.ProcessQueryAndReturnMap(ctx, "metrics", "", queryConfig(), adHoc, 7, CanaryScope{Scope: "canary"}, true)
		if err != nil {
			t.Fatalf("dry run failed: %v", err)
		}
		if result["query"] != `custom{scope="canary"}` {
			t.Errorf("unexpected query: %v", result)
		}
	})
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func TestClassifyFailure(t *testing.T) {
	cfg := DefaultMetricsRetryConfig()

	tests := []struct {
		name string
		err  error
		want Decision
	}{
		{"transport failure", &QueryFailure{Kind: FailureTransport, Err: errors.New("dial")}, Retryable},
		{"listed status 429", &QueryFailure{Kind: FailureStatus, StatusCode: 429}, Retryable},
		{"listed status 408", &QueryFailure{Kind: FailureStatus, StatusCode: 408}, Retryable},
		{"5xx series", &QueryFailure{Kind: FailureStatus, StatusCode: 502}, Retryable},
		{"other 4xx", &QueryFailure{Kind: FailureStatus, StatusCode: 404}, Fatal},
		{"unclassified", &QueryFailure{Kind: FailureUnclassified, Err: errors.New("parse")}, Fatal},
		{"unclassified with network cause", &QueryFailure{Kind: FailureUnclassified, Err: syscall.ECONNREFUSED}, Retryable},
		{"wrapped transport failure", fmt.Errorf("query: %w", &QueryFailure{Kind: FailureTransport}), Retryable},
		{"retryable sentinel", fmt.Errorf("%w: throttled", ErrRetryableQuery), Retryable},
		{"net.Error", timeoutError{}, Retryable},
		{"unexpected EOF", io.ErrUnexpectedEOF, Retryable},
		{"broken pipe", syscall.EPIPE, Retryable},
		{"plain error", errors.New("boom"), Fatal},
		{"cancelled", context.Canceled, Fatal},
		{"deadline", context.DeadlineExceeded, Fatal},
		{"nil", nil, Fatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyFailure(tt.err, cfg); got != tt.want {
				t.Errorf("ClassifyFailure(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyFailure_CustomStatuses(t *testing.T) {
	cfg := MetricsRetryConfig{Attempts: 1, Statuses: []int{404}}
	if ClassifyFailure(&QueryFailure{Kind: FailureStatus, StatusCode: 404}, cfg) != Retryable {
		t.Error("configured status should be retryable")
	}
	if ClassifyFailure(&QueryFailure{Kind: FailureStatus, StatusCode: 503}, cfg) != Fatal {
		t.Error("5xx is fatal without the series configured")
	}
}

func TestMetricsRetryConfig_Backoff(t *testing.T) {
	cfg := MetricsRetryConfig{BackoffMultiplier: 100 * time.Millisecond}
	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for attempts, expected := range want {
		if got := cfg.backoff(attempts); got != expected {
			t.Errorf("backoff(%d) = %v, want %v", attempts, got, expected)
		}
	}
}

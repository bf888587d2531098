package canarystore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	promconfig "github.com/prometheus/common/config"
	"github.com/prometheus/common/model"
)

// DefaultScopeLabel is the series label a canary scope is matched against
const DefaultScopeLabel = "instance"

// PrometheusMetricsService queries Prometheus range vectors for canary metrics.
//
// The query for a metric is metricName{<scopeLabel>=~"<scope>", <filter>} optionally
// wrapped in "sum by (<groupByFields>)"; a custom inline template replaces it outright.
// Templates may reference ${scope}, ${location} and any extended scope parameter.
type PrometheusMetricsService struct {
	scopeLabel    string
	locationLabel string
	transport     http.RoundTripper
	logger        Logger
	clients       sync.Map // account name -> v1.API
}

// PrometheusOption configures a PrometheusMetricsService
type PrometheusOption func(*PrometheusMetricsService)

// WithScopeLabel sets the label matched against the canary scope
func WithScopeLabel(label string) PrometheusOption {
	return func(s *PrometheusMetricsService) { s.scopeLabel = label }
}

// WithLocationLabel sets the label matched against the canary location
func WithLocationLabel(label string) PrometheusOption {
	return func(s *PrometheusMetricsService) { s.locationLabel = label }
}

// WithPrometheusTransport sets the base HTTP transport
func WithPrometheusTransport(rt http.RoundTripper) PrometheusOption {
	return func(s *PrometheusMetricsService) { s.transport = rt }
}

// WithPrometheusLogger sets the logger
func WithPrometheusLogger(logger Logger) PrometheusOption {
	return func(s *PrometheusMetricsService) { s.logger = logger }
}

// NewPrometheusMetricsService creates the Prometheus metrics service
func NewPrometheusMetricsService(opts ...PrometheusOption) *PrometheusMetricsService {
	s := &PrometheusMetricsService{
		scopeLabel:    DefaultScopeLabel,
		locationLabel: "region",
		transport:     api.DefaultRoundTripper,
		logger:        &NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PrometheusMetricsService) Type() string { return "prometheus" }

func (s *PrometheusMetricsService) AppliesTo(account Account) bool {
	return Supports(account, MetricsStore) && isAccount[*PrometheusAccount](account)
}

func (s *PrometheusMetricsService) api(account Account) (v1.API, error) {
	if cached, ok := s.clients.Load(account.Name()); ok {
		return cached.(v1.API), nil
	}

	prom, ok := account.(*PrometheusAccount)
	if !ok {
		return nil, &ResolutionError{Kind: "metrics", Account: account.Name()}
	}

	rt := s.transport
	switch {
	case prom.BearerToken != "":
		rt = promconfig.NewAuthorizationCredentialsRoundTripper("Bearer", promconfig.NewInlineSecret(prom.BearerToken), rt)
	case prom.Username != "":
		rt = promconfig.NewBasicAuthRoundTripper(promconfig.NewInlineSecret(prom.Username), promconfig.NewInlineSecret(prom.Password), rt)
	}

	client, err := api.NewClient(api.Config{Address: prom.BaseURL, RoundTripper: rt})
	if err != nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"account": account.Name(),
			"baseUrl": prom.BaseURL,
			"error":   err.Error(),
		})
	}

	queryAPI := v1.NewAPI(&statusClient{Client: client})
	actual, _ := s.clients.LoadOrStore(account.Name(), queryAPI)
	return actual.(v1.API), nil
}

// BuildQuery renders the PromQL expression for metric over scope
func (s *PrometheusMetricsService) BuildQuery(ctx context.Context, account Account, config *CanaryConfig, metric CanaryMetricConfig, scope CanaryScope) (string, error) {
	q := metric.Query
	if q.Type != "" && q.Type != s.Type() {
		return "", WithContext(ErrInvalidData, map[string]interface{}{
			"metric": metric.Name,
			"type":   q.Type,
			"reason": "not a prometheus query",
		})
	}

	expand := templateExpander(scope)

	if q.CustomInlineTemplate != "" {
		return expand.Replace(q.CustomInlineTemplate), nil
	}
	if q.MetricName == "" {
		return "", WithContext(ErrInvalidData, map[string]interface{}{
			"metric": metric.Name,
			"reason": "metricName is required without an inline template",
		})
	}

	var filters []string
	if scope.Scope != "" {
		filters = append(filters, fmt.Sprintf("%s=~%q", s.scopeLabel, scope.Scope))
	}
	if scope.Location != "" {
		filters = append(filters, fmt.Sprintf("%s=%q", s.locationLabel, scope.Location))
	}
	if q.CustomFilterTemplate != "" {
		var template string
		if config != nil {
			template = config.Templates[q.CustomFilterTemplate]
		}
		if template == "" {
			return "", WithContext(ErrInvalidData, map[string]interface{}{
				"metric":   metric.Name,
				"template": q.CustomFilterTemplate,
				"reason":   "custom filter template not found in config",
			})
		}
		filters = append(filters, expand.Replace(template))
	}

	expr := q.MetricName + "{" + strings.Join(filters, ",") + "}"
	if len(q.GroupByFields) > 0 {
		expr = fmt.Sprintf("sum by (%s) (%s)", strings.Join(q.GroupByFields, ","), expr)
	}
	return expr, nil
}

func templateExpander(scope CanaryScope) *strings.Replacer {
	pairs := []string{"${scope}", scope.Scope, "${location}", scope.Location}
	keys := make([]string, 0, len(scope.ExtendedScopeParams))
	for k := range scope.ExtendedScopeParams {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		pairs = append(pairs, "${"+k+"}", scope.ExtendedScopeParams[k])
	}
	return strings.NewReplacer(pairs...)
}

// QueryMetrics runs the range query and aligns every returned series on the scope's step grid.
// Missing samples are NaN.
func (s *PrometheusMetricsService) QueryMetrics(ctx context.Context, account Account, config *CanaryConfig, metric CanaryMetricConfig, scope CanaryScope) ([]MetricSet, error) {
	query, err := s.BuildQuery(ctx, account, config, metric, scope)
	if err != nil {
		return nil, err
	}
	queryAPI, err := s.api(account)
	if err != nil {
		return nil, err
	}

	step := scope.StepDuration()
	value, warnings, err := queryAPI.QueryRange(ctx, query, v1.Range{Start: scope.Start, End: scope.End, Step: step})
	if err != nil {
		return nil, asQueryFailure(err)
	}
	if len(warnings) > 0 {
		s.logger.Warn("prometheus returned warnings", "account", account.Name(), "query", query, "warnings", []string(warnings))
	}

	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, &QueryFailure{
			Kind: FailureUnclassified,
			Err:  fmt.Errorf("unexpected result type %s", value.Type()),
		}
	}

	startMillis := scope.Start.UnixMilli()
	stepMillis := step.Milliseconds()
	points := int((scope.End.UnixMilli()-startMillis)/stepMillis) + 1
	if points < 0 {
		points = 0
	}

	newSet := func(tags map[string]string) MetricSet {
		values := make(MetricValues, points)
		for i := range values {
			values[i] = math.NaN()
		}
		return MetricSet{
			Name:            metric.Name,
			Tags:            tags,
			StartTimeMillis: startMillis,
			StartTimeIso:    isoMillis(startMillis),
			StepMillis:      stepMillis,
			Values:          values,
			Attributes:      map[string]string{"query": query},
		}
	}

	if len(matrix) == 0 {
		return []MetricSet{newSet(map[string]string{})}, nil
	}

	sets := make([]MetricSet, 0, len(matrix))
	for _, stream := range matrix {
		tags := make(map[string]string, len(stream.Metric))
		for name, v := range stream.Metric {
			if name == model.MetricNameLabel {
				continue
			}
			tags[string(name)] = string(v)
		}

		set := newSet(tags)
		for _, sample := range stream.Values {
			idx := (int64(sample.Timestamp) - startMillis) / stepMillis
			if idx >= 0 && idx < int64(points) {
				set.Values[idx] = float64(sample.Value)
			}
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func asQueryFailure(err error) error {
	var failure *QueryFailure
	if errors.As(err, &failure) {
		return failure
	}
	return &QueryFailure{Kind: FailureUnclassified, Err: err}
}

// statusClient turns transport errors and non-2xx responses into QueryFailures
// before the v1 API flattens them into its own error type.
type statusClient struct {
	api.Client
}

func (c *statusClient) Do(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	resp, body, err := c.Client.Do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return resp, body, err
		}
		return resp, body, &QueryFailure{Kind: FailureTransport, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return resp, body, &QueryFailure{
			Kind:       FailureStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: %s", resp.Status, truncate(string(body), 256)),
		}
	}
	return resp, body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

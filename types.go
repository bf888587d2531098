package canarystore

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

// CanaryConfig is the named, application-scoped description of a canary analysis
type CanaryConfig struct {
	ID                  string               `json:"id,omitempty"`
	Name                string               `json:"name"`
	Description         string               `json:"description,omitempty"`
	ConfigVersion       string               `json:"configVersion,omitempty"`
	Applications        []string             `json:"applications"`
	CreatedTimestamp    int64                `json:"createdTimestamp,omitempty"`
	UpdatedTimestamp    int64                `json:"updatedTimestamp,omitempty"`
	CreatedTimestampIso string               `json:"createdTimestampIso,omitempty"`
	UpdatedTimestampIso string               `json:"updatedTimestampIso,omitempty"`
	Judge               *CanaryJudgeConfig   `json:"judge,omitempty"`
	Metrics             []CanaryMetricConfig `json:"metrics"`
	Templates           map[string]string    `json:"templates,omitempty"`
	Classifier          *ClassifierConfig    `json:"classifier,omitempty"`
}

// CanaryJudgeConfig names the judge and its parameters
type CanaryJudgeConfig struct {
	Name                string         `json:"name"`
	JudgeConfigurations map[string]any `json:"judgeConfigurations,omitempty"`
}

// ClassifierConfig holds the group weights used when scoring
type ClassifierConfig struct {
	GroupWeights map[string]float64 `json:"groupWeights,omitempty"`
}

// CanaryMetricConfig is one metric of a canary config
type CanaryMetricConfig struct {
	Name                   string         `json:"name"`
	Query                  MetricQuery    `json:"query"`
	Groups                 []string       `json:"groups,omitempty"`
	AnalysisConfigurations map[string]any `json:"analysisConfigurations,omitempty"`
	ScopeName              string         `json:"scopeName,omitempty"`
}

// MetricQuery is the metrics-service specific part of a metric definition
type MetricQuery struct {
	Type                 string   `json:"type"`
	MetricName           string   `json:"metricName,omitempty"`
	LabelBindings        []string `json:"labelBindings,omitempty"`
	GroupByFields        []string `json:"groupByFields,omitempty"`
	CustomFilterTemplate string   `json:"customFilterTemplate,omitempty"`
	CustomInlineTemplate string   `json:"customInlineTemplate,omitempty"`
}

// CanaryScope selects the time range and target a query runs over
type CanaryScope struct {
	Scope               string            `json:"scope"`
	Location            string            `json:"location,omitempty"`
	Start               time.Time         `json:"start"`
	End                 time.Time         `json:"end"`
	Step                int64             `json:"step"` // seconds
	ExtendedScopeParams map[string]string `json:"extendedScopeParams,omitempty"`
}

// StepDuration returns Step as a duration, defaulting to one minute
func (s CanaryScope) StepDuration() time.Duration {
	if s.Step <= 0 {
		return time.Minute
	}
	return time.Duration(s.Step) * time.Second
}

// MetricValues is a series of samples where NaN marks a missing point.
// NaN is encoded as JSON null.
type MetricValues []float64

func (v MetricValues) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			buf.WriteString("null")
			continue
		}
		b, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (v *MetricValues) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(MetricValues, len(raw))
	for i, f := range raw {
		if f == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *f
		}
	}
	*v = out
	return nil
}

// MetricSet is one time series returned by a metrics service
type MetricSet struct {
	Name            string            `json:"name"`
	Tags            map[string]string `json:"tags"`
	StartTimeMillis int64             `json:"startTimeMillis"`
	StartTimeIso    string            `json:"startTimeIso"`
	StepMillis      int64             `json:"stepMillis"`
	Values          MetricValues      `json:"values"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// MetricSetPair lines up the control and experiment series of one metric
type MetricSetPair struct {
	Name       string                       `json:"name"`
	ID         string                       `json:"id"`
	Tags       map[string]string            `json:"tags"`
	Values     map[string]MetricValues      `json:"values"`
	Scopes     map[string]MetricSetScope    `json:"scopes,omitempty"`
	Attributes map[string]map[string]string `json:"attributes,omitempty"`
}

// MetricSetScope records where a paired series started
type MetricSetScope struct {
	StartTimeIso    string `json:"startTimeIso"`
	StartTimeMillis int64  `json:"startTimeMillis"`
	Step            int64  `json:"step"`
}

// CanaryExecutionStatusResponse is the archived outcome of a canary execution
type CanaryExecutionStatusResponse struct {
	PipelineID               string            `json:"pipelineId"`
	Application              string            `json:"application,omitempty"`
	ParentPipelineExecution  string            `json:"parentPipelineExecutionId,omitempty"`
	Status                   string            `json:"status"`
	Complete                 bool              `json:"complete"`
	StageStatus              map[string]string `json:"stageStatus,omitempty"`
	Result                   json.RawMessage   `json:"result,omitempty"`
	Exception                map[string]any    `json:"exception,omitempty"`
	BuildTimeMillis          int64             `json:"buildTimeMillis,omitempty"`
	BuildTimeIso             string            `json:"buildTimeIso,omitempty"`
	StartTimeMillis          int64             `json:"startTimeMillis,omitempty"`
	StartTimeIso             string            `json:"startTimeIso,omitempty"`
	EndTimeMillis            int64             `json:"endTimeMillis,omitempty"`
	EndTimeIso               string            `json:"endTimeIso,omitempty"`
	MetricsAccountName       string            `json:"metricsAccountName,omitempty"`
	StorageAccountName       string            `json:"storageAccountName,omitempty"`
	ConfigurationAccountName string            `json:"configurationAccountName,omitempty"`
}

// ObjectSummary is one entry of an object listing.
// Name and Applications are only set for canary configs.
type ObjectSummary struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name,omitempty"`
	UpdatedTimestamp    int64    `json:"updatedTimestamp"`
	UpdatedTimestampIso string   `json:"updatedTimestampIso"`
	Applications        []string `json:"applications,omitempty"`
}

// isoMillis formats epoch millis the way every timestamp field is rendered
func isoMillis(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(time.RFC3339Nano)
}

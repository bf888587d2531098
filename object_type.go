package canarystore

import "strings"

// ObjectType is one of the fixed payload kinds the object store knows about.
// The set is closed: values are only ever the package-level types below.
type ObjectType struct {
	name            string
	group           string
	defaultFilename string
}

var (
	CanaryConfigType        = ObjectType{name: "CANARY_CONFIG", group: "canary_config", defaultFilename: "canary_config.json"}
	CanaryResultArchiveType = ObjectType{name: "CANARY_RESULT_ARCHIVE", group: "canary_archive", defaultFilename: "canary_archive.json"}
	MetricSetListType       = ObjectType{name: "METRIC_SET_LIST", group: "metrics", defaultFilename: "metric_sets.json"}
	MetricSetPairListType   = ObjectType{name: "METRIC_SET_PAIR_LIST", group: "metric_pairs", defaultFilename: "metric_set_pairs.json"}
)

// ObjectTypes lists every object type
func ObjectTypes() []ObjectType {
	return []ObjectType{CanaryConfigType, CanaryResultArchiveType, MetricSetListType, MetricSetPairListType}
}

// ParseObjectType resolves an object type by group ("canary_config") or name ("CANARY_CONFIG").
func ParseObjectType(s string) (ObjectType, error) {
	for _, t := range ObjectTypes() {
		if t.group == s || strings.EqualFold(t.name, s) {
			return t, nil
		}
	}
	return ObjectType{}, WithContext(ErrInvalidData, map[string]interface{}{
		"objectType": s,
		"reason":     "unknown object type",
	})
}

// Group is the storage folder or key prefix for the type
func (t ObjectType) Group() string { return t.group }

// DefaultFilename is the file name used when the caller does not supply one
func (t ObjectType) DefaultFilename() string { return t.defaultFilename }

func (t ObjectType) String() string { return t.name }

// IsZero reports whether t is the zero ObjectType
func (t ObjectType) IsZero() bool { return t.group == "" }

// NewValue returns a pointer to an empty value of the type's payload
func (t ObjectType) NewValue() any {
	switch t {
	case CanaryConfigType:
		return &CanaryConfig{}
	case CanaryResultArchiveType:
		return &CanaryExecutionStatusResponse{}
	case MetricSetListType:
		return &[]MetricSet{}
	case MetricSetPairListType:
		return &[]MetricSetPair{}
	default:
		return &map[string]any{}
	}
}

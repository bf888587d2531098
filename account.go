package canarystore

import "slices"

// Capability is a tag describing what an account can be used for.
type Capability string

const (
	MetricsStore       Capability = "METRICS_STORE"
	ObjectStore        Capability = "OBJECT_STORE"
	ConfigurationStore Capability = "CONFIGURATION_STORE"
	RemoteJudge        Capability = "REMOTE_JUDGE"
)

// Capabilities returns every known capability tag.
func Capabilities() []Capability {
	return []Capability{MetricsStore, ObjectStore, ConfigurationStore, RemoteJudge}
}

// ParseCapability resolves a capability tag from its configuration spelling.
func ParseCapability(s string) (Capability, error) {
	for _, c := range Capabilities() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", WithContext(ErrInvalidConfig, map[string]interface{}{
		"field":  "supportedTypes",
		"value":  s,
		"reason": "unknown capability",
	})
}

// Account is a named, capability-tagged entry pointing at one backend instance.
// Connection attributes are specific to each implementation and opaque to the core.
type Account interface {
	Name() string
	Type() string
	SupportedTypes() []Capability
	Locations() []string
	RecommendedLocations() []string
}

// Supports reports whether the account carries any of the given capability tags.
func Supports(account Account, capabilities ...Capability) bool {
	if account == nil {
		return false
	}
	supported := account.SupportedTypes()
	for _, c := range capabilities {
		if slices.Contains(supported, c) {
			return true
		}
	}
	return false
}

// AccountBase holds the attributes shared by every account kind.
// Embed it in concrete account types.
type AccountBase struct {
	AccountName      string       `json:"name"`
	Capabilities     []Capability `json:"supportedTypes"`
	AccountLocations []string     `json:"locations,omitempty"`
	RecommendedLocs  []string     `json:"recommendedLocations,omitempty"`

	// Cipher encrypts payloads at rest on storage accounts when set
	Cipher *BackendCipher `json:"-"`
}

func (a *AccountBase) Name() string                   { return a.AccountName }
func (a *AccountBase) SupportedTypes() []Capability   { return slices.Clone(a.Capabilities) }
func (a *AccountBase) Locations() []string            { return slices.Clone(a.AccountLocations) }
func (a *AccountBase) RecommendedLocations() []string { return slices.Clone(a.RecommendedLocs) }
func (a *AccountBase) backendCipher() *BackendCipher  { return a.Cipher }

// storageAccount is implemented by accounts that carry an object storage backend.
type storageAccount interface {
	Account
	backend() Backend
	rootFolder() string
}

// MemoryAccount stores objects in process memory.
type MemoryAccount struct {
	AccountBase
	Backend *MemoryBackend `json:"-"`
}

// NewMemoryAccount creates an in-memory account with its own empty backend.
func NewMemoryAccount(name string, capabilities ...Capability) *MemoryAccount {
	return &MemoryAccount{
		AccountBase: AccountBase{AccountName: name, Capabilities: capabilities},
		Backend:     NewMemoryBackend(),
	}
}

func (a *MemoryAccount) Type() string { return "memory" }
func (a *MemoryAccount) backend() Backend {
	if a.Backend == nil {
		return nil
	}
	return a.Backend
}
func (a *MemoryAccount) rootFolder() string { return "" }

// FilesystemAccount stores objects as files below a base directory.
type FilesystemAccount struct {
	AccountBase
	BasePath   string             `json:"basePath"`
	RootFolder string             `json:"rootFolder"`
	Backend    *FilesystemBackend `json:"-"`
}

// NewFilesystemAccount creates a filesystem account rooted at basePath.
func NewFilesystemAccount(name, basePath string, capabilities ...Capability) *FilesystemAccount {
	return &FilesystemAccount{
		AccountBase: AccountBase{AccountName: name, Capabilities: capabilities},
		BasePath:    basePath,
		RootFolder:  "kayenta",
		Backend:     NewFilesystemBackend(basePath),
	}
}

func (a *FilesystemAccount) Type() string { return "filesystem" }
func (a *FilesystemAccount) backend() Backend {
	if a.Backend == nil {
		return nil
	}
	return a.Backend
}
func (a *FilesystemAccount) rootFolder() string { return a.RootFolder }

// ExplicitCredentials is a static key bundle used instead of the default provider chain.
type ExplicitCredentials struct {
	AccessKey    string `json:"accessKey"`
	SecretKey    string `json:"-"`
	SessionToken string `json:"-"`
}

// S3Account stores objects in an S3 (or S3-compatible) bucket.
type S3Account struct {
	AccountBase
	Bucket              string               `json:"bucket"`
	Region              string               `json:"region"`
	RootFolder          string               `json:"rootFolder"`
	Endpoint            string               `json:"endpoint,omitempty"`
	PathStyle           bool                 `json:"pathStyle,omitempty"`
	ProfileName         string               `json:"profileName,omitempty"`
	ExplicitCredentials *ExplicitCredentials `json:"-"`
	Backend             *S3Backend           `json:"-"`
}

func (a *S3Account) Type() string { return "aws" }
func (a *S3Account) backend() Backend {
	if a.Backend == nil {
		return nil
	}
	return a.Backend
}
func (a *S3Account) rootFolder() string { return a.RootFolder }

// GCSAccount stores objects in a Google Cloud Storage bucket.
type GCSAccount struct {
	AccountBase
	Project         string      `json:"project"`
	Bucket          string      `json:"bucket"`
	BucketLocation  string      `json:"bucketLocation,omitempty"`
	RootFolder      string      `json:"rootFolder"`
	CredentialsFile string      `json:"-"`
	Backend         *GCSBackend `json:"-"`
}

func (a *GCSAccount) Type() string { return "google" }
func (a *GCSAccount) backend() Backend {
	if a.Backend == nil {
		return nil
	}
	return a.Backend
}
func (a *GCSAccount) rootFolder() string { return a.RootFolder }

// SQLAccount stores objects as rows of a PostgreSQL table.
type SQLAccount struct {
	AccountBase
	ConnectionString string           `json:"-"`
	Table            string           `json:"table"`
	Backend          *PostgresBackend `json:"-"`
}

func (a *SQLAccount) Type() string { return "sql" }
func (a *SQLAccount) backend() Backend {
	if a.Backend == nil {
		return nil
	}
	return a.Backend
}
func (a *SQLAccount) rootFolder() string { return "" }

// BadgerAccount stores objects in an embedded Badger key-value store.
type BadgerAccount struct {
	AccountBase
	Path     string         `json:"path"`
	InMemory bool           `json:"inMemory,omitempty"`
	Backend  *BadgerBackend `json:"-"`
}

func (a *BadgerAccount) Type() string { return "badger" }
func (a *BadgerAccount) backend() Backend {
	if a.Backend == nil {
		return nil
	}
	return a.Backend
}
func (a *BadgerAccount) rootFolder() string { return "" }

// PrometheusAccount points at a Prometheus-compatible query API.
type PrometheusAccount struct {
	AccountBase
	BaseURL     string `json:"baseUrl"`
	Username    string `json:"-"`
	Password    string `json:"-"`
	BearerToken string `json:"-"`
}

func (a *PrometheusAccount) Type() string { return "prometheus" }

// RemoteJudgeAccount points at an external judging service.
type RemoteJudgeAccount struct {
	AccountBase
	BaseURL string `json:"baseUrl"`
}

func (a *RemoteJudgeAccount) Type() string { return "remoteJudge" }

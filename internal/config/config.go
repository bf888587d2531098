// Package config loads the canarystore process configuration from YAML and the environment
// and turns the declared accounts into a populated account registry.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adrianmcphee/canarystore"
)

// Environment overrides applied after the file is read
const (
	EnvListen    = "CANARYSTORE_LISTEN"
	EnvLogLevel  = "CANARYSTORE_LOG_LEVEL"
	EnvIndexType = "CANARYSTORE_INDEX"
)

// Index kinds
const (
	IndexMemory = "memory"
	IndexRedis  = "redis"
)

// Configuration is the complete process configuration
type Configuration struct {
	Server   ServerConfig   `yaml:"server"`
	Index    IndexConfig    `yaml:"index"`
	Retry    RetryConfig    `yaml:"retry"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Accounts AccountsConfig `yaml:"accounts"`
}

// ServerConfig holds the HTTP surface and logging settings
type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	LogLevel       string        `yaml:"log_level"`
	Development    bool          `yaml:"development"`
	ExportInterval time.Duration `yaml:"export_interval"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// IndexConfig selects and configures the canary config index
type IndexConfig struct {
	Type       string        `yaml:"type"`
	Redis      RedisConfig   `yaml:"redis"`
	StaleAfter time.Duration `yaml:"stale_after"`

	// HealthInterval enables periodic drift checks of the index; zero disables them
	HealthInterval time.Duration `yaml:"health_interval"`
	DriftThreshold float64       `yaml:"drift_threshold"`
	AutoRepair     bool          `yaml:"auto_repair"`
}

// RedisConfig overrides the REDIS_* environment defaults
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RetryConfig holds the store and query retry policies
type RetryConfig struct {
	Store StoreRetryConfig `yaml:"store"`
	Query QueryRetryConfig `yaml:"query"`
}

// StoreRetryConfig is the fixed retry around physical writes and deletes
type StoreRetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// QueryRetryConfig is the metrics query retry policy
type QueryRetryConfig struct {
	Attempts          int           `yaml:"attempts"`
	BackoffMultiplier time.Duration `yaml:"backoff_multiplier"`
	Statuses          []int         `yaml:"statuses"`
	Series            []int         `yaml:"series"`
}

// MetricsConfig configures the Prometheus metrics service
type MetricsConfig struct {
	ScopeLabel    string `yaml:"scope_label"`
	LocationLabel string `yaml:"location_label"`
}

// AccountsConfig lists the accounts by kind
type AccountsConfig struct {
	Memory      []MemoryAccountConfig      `yaml:"memory"`
	Filesystem  []FilesystemAccountConfig  `yaml:"filesystem"`
	AWS         []AWSAccountConfig         `yaml:"aws"`
	MinIO       []MinIOAccountConfig       `yaml:"minio"`
	Google      []GoogleAccountConfig      `yaml:"google"`
	SQL         []SQLAccountConfig         `yaml:"sql"`
	Badger      []BadgerAccountConfig      `yaml:"badger"`
	Prometheus  []PrometheusAccountConfig  `yaml:"prometheus"`
	RemoteJudge []RemoteJudgeAccountConfig `yaml:"remote_judge"`
}

// AccountCommon is embedded in every account entry
type AccountCommon struct {
	Name                 string   `yaml:"name"`
	SupportedTypes       []string `yaml:"supported_types"`
	Locations            []string `yaml:"locations"`
	RecommendedLocations []string `yaml:"recommended_locations"`
	// EncryptionKey is a base64 AES-256 key; storage accounts encrypt payloads at rest with it
	EncryptionKey string `yaml:"encryption_key"`
}

type MemoryAccountConfig struct {
	AccountCommon `yaml:",inline"`
}

type FilesystemAccountConfig struct {
	AccountCommon `yaml:",inline"`
	BasePath      string `yaml:"base_path"`
	RootFolder    string `yaml:"root_folder"`
}

type AWSAccountConfig struct {
	AccountCommon `yaml:",inline"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	RootFolder    string `yaml:"root_folder"`
	Endpoint      string `yaml:"endpoint"`
	PathStyle     bool   `yaml:"path_style"`
	ProfileName   string `yaml:"profile_name"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	SessionToken  string `yaml:"session_token"`
}

type MinIOAccountConfig struct {
	AccountCommon `yaml:",inline"`
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	RootFolder    string `yaml:"root_folder"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	UseSSL        bool   `yaml:"use_ssl"`
}

type GoogleAccountConfig struct {
	AccountCommon   `yaml:",inline"`
	Project         string `yaml:"project"`
	Bucket          string `yaml:"bucket"`
	BucketLocation  string `yaml:"bucket_location"`
	RootFolder      string `yaml:"root_folder"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

type SQLAccountConfig struct {
	AccountCommon    `yaml:",inline"`
	ConnectionString string `yaml:"connection_string"`
	Table            string `yaml:"table"`
}

type BadgerAccountConfig struct {
	AccountCommon `yaml:",inline"`
	Path          string `yaml:"path"`
	InMemory      bool   `yaml:"in_memory"`
}

type PrometheusAccountConfig struct {
	AccountCommon `yaml:",inline"`
	BaseURL       string `yaml:"base_url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	BearerToken   string `yaml:"bearer_token"`
}

type RemoteJudgeAccountConfig struct {
	AccountCommon `yaml:",inline"`
	BaseURL       string `yaml:"base_url"`
}

// NewDefault returns a configuration that runs with one in-memory account
// and no external dependencies.
func NewDefault() *Configuration {
	storeRetry := canarystore.DefaultRetryConfig()
	queryRetry := canarystore.DefaultMetricsRetryConfig()

	series := make([]int, len(queryRetry.Series))
	for i, s := range queryRetry.Series {
		series[i] = int(s)
	}

	return &Configuration{
		Server: ServerConfig{
			Listen:         ":8090",
			LogLevel:       "info",
			ExportInterval: 30 * time.Second,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
		},
		Index: IndexConfig{
			Type:           IndexMemory,
			StaleAfter:     canarystore.DefaultStalePendingUpdateAge,
			DriftThreshold: 5,
		},
		Retry: RetryConfig{
			Store: StoreRetryConfig{MaxAttempts: storeRetry.MaxAttempts, Backoff: storeRetry.Backoff},
			Query: QueryRetryConfig{
				Attempts:          queryRetry.Attempts,
				BackoffMultiplier: queryRetry.BackoffMultiplier,
				Statuses:          queryRetry.Statuses,
				Series:            series,
			},
		},
		Metrics: MetricsConfig{
			ScopeLabel:    canarystore.DefaultScopeLabel,
			LocationLabel: "region",
		},
		Accounts: AccountsConfig{
			Memory: []MemoryAccountConfig{{AccountCommon: AccountCommon{
				Name:           "in-memory",
				SupportedTypes: []string{string(canarystore.ObjectStore), string(canarystore.ConfigurationStore)},
			}}},
		},
	}
}

// Load reads filename over the defaults, applies environment overrides and validates.
// An empty filename uses the defaults alone.
func Load(filename string) (*Configuration, error) {
	c := NewDefault()
	if filename != "" {
		if err := c.LoadFromFile(filename); err != nil {
			return nil, err
		}
	}
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFromFile decodes a YAML file into c. Unknown keys are rejected.
// A file that declares any accounts replaces the default account list.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.Decode(data)
}

// Decode applies YAML data to c
func (c *Configuration) Decode(data []byte) error {
	defaults := c.Accounts
	c.Accounts = AccountsConfig{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		c.Accounts = defaults
		return canarystore.WithContext(canarystore.ErrInvalidConfig, map[string]interface{}{
			"reason": "failed to parse config",
			"error":  err.Error(),
		})
	}

	if c.Accounts.count() == 0 {
		c.Accounts = defaults
	}
	return nil
}

// LoadFromEnv applies CANARYSTORE_* and REDIS_* overrides
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv(EnvListen); val != "" {
		c.Server.Listen = val
	}
	if val := os.Getenv(EnvLogLevel); val != "" {
		c.Server.LogLevel = strings.ToLower(val)
	}
	if val := os.Getenv(EnvIndexType); val != "" {
		c.Index.Type = strings.ToLower(val)
	}
	if val := os.Getenv(canarystore.EnvRedisAddr); val != "" {
		c.Index.Redis.Addr = val
	}
	if val := os.Getenv(canarystore.EnvRedisPassword); val != "" {
		c.Index.Redis.Password = val
	}
	if val := os.Getenv(canarystore.EnvRedisDB); val != "" {
		db, err := strconv.Atoi(val)
		if err != nil {
			return canarystore.WithContext(canarystore.ErrInvalidConfig, map[string]interface{}{
				"field":  canarystore.EnvRedisDB,
				"value":  val,
				"reason": "not an integer",
			})
		}
		c.Index.Redis.DB = db
	}
	if val := os.Getenv(canarystore.EnvRedisKeyPrefix); val != "" {
		c.Index.Redis.KeyPrefix = val
	}
	return nil
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration and every declared account
func (c *Configuration) Validate() error {
	invalid := func(field string, value any, reason string) error {
		return canarystore.WithContext(canarystore.ErrInvalidConfig, map[string]interface{}{
			"field":  field,
			"value":  value,
			"reason": reason,
		})
	}

	if c.Server.Listen == "" {
		return invalid("server.listen", c.Server.Listen, "must not be empty")
	}
	if !slices.Contains(validLogLevels, c.Server.LogLevel) {
		return invalid("server.log_level", c.Server.LogLevel,
			"must be one of: "+strings.Join(validLogLevels, ", "))
	}
	if c.Server.ExportInterval <= 0 {
		return invalid("server.export_interval", c.Server.ExportInterval, "must be positive")
	}

	switch c.Index.Type {
	case IndexMemory, IndexRedis:
	default:
		return invalid("index.type", c.Index.Type, "must be memory or redis")
	}
	if c.Index.HealthInterval < 0 {
		return invalid("index.health_interval", c.Index.HealthInterval, "must not be negative")
	}
	if c.Index.DriftThreshold < 0 || c.Index.DriftThreshold > 100 {
		return invalid("index.drift_threshold", c.Index.DriftThreshold, "must be a percentage")
	}

	if err := c.StoreRetry().Validate(); err != nil {
		return err
	}
	if err := c.QueryRetry().Validate(); err != nil {
		return err
	}

	return c.Accounts.validate()
}

// StoreRetry returns the store retry policy
func (c *Configuration) StoreRetry() canarystore.RetryConfig {
	return canarystore.RetryConfig{
		MaxAttempts: c.Retry.Store.MaxAttempts,
		Backoff:     c.Retry.Store.Backoff,
	}
}

// QueryRetry returns the metrics query retry policy
func (c *Configuration) QueryRetry() canarystore.MetricsRetryConfig {
	series := make([]canarystore.StatusSeries, len(c.Retry.Query.Series))
	for i, s := range c.Retry.Query.Series {
		series[i] = canarystore.StatusSeries(s)
	}
	return canarystore.MetricsRetryConfig{
		Attempts:          c.Retry.Query.Attempts,
		BackoffMultiplier: c.Retry.Query.BackoffMultiplier,
		Statuses:          slices.Clone(c.Retry.Query.Statuses),
		Series:            series,
	}
}

func (a AccountsConfig) count() int {
	return len(a.Memory) + len(a.Filesystem) + len(a.AWS) + len(a.MinIO) + len(a.Google) +
		len(a.SQL) + len(a.Badger) + len(a.Prometheus) + len(a.RemoteJudge)
}

// commons returns the shared part of every account entry in declaration order
func (a AccountsConfig) commons() []AccountCommon {
	var all []AccountCommon
	for _, acct := range a.Memory {
		all = append(all, acct.AccountCommon)
	}
	for _, acct := range a.Filesystem {
		all = append(all, acct.AccountCommon)
	}
	for _, acct := range a.AWS {
		all = append(all, acct.AccountCommon)
	}
	for _, acct := range a.MinIO {
		all = append(all, acct.AccountCommon)
	}
	for _, acct := range a.Google {
		all = append(all, acct.AccountCommon)
	}
	for _, acct := range a.SQL {
		all = append(all, acct.AccountCommon)
	}
	for _, acct := range a.Badger {
		all = append(all, acct.AccountCommon)
	}
	for _, acct := range a.Prometheus {
		all = append(all, acct.AccountCommon)
	}
	for _, acct := range a.RemoteJudge {
		all = append(all, acct.AccountCommon)
	}
	return all
}

func (a AccountsConfig) validate() error {
	seen := make(map[string]bool)
	for _, common := range a.commons() {
		if common.Name == "" {
			return canarystore.WithContext(canarystore.ErrInvalidConfig, map[string]interface{}{
				"field":  "accounts.name",
				"reason": "every account needs a name",
			})
		}
		if seen[common.Name] {
			return canarystore.WithContext(canarystore.ErrInvalidConfig, map[string]interface{}{
				"field":  "accounts.name",
				"value":  common.Name,
				"reason": "account names must be unique",
			})
		}
		seen[common.Name] = true

		if _, err := common.base(); err != nil {
			return err
		}
	}

	required := func(account, field, value string) error {
		if value != "" {
			return nil
		}
		return canarystore.WithContext(canarystore.ErrInvalidConfig, map[string]interface{}{
			"account": account,
			"field":   field,
			"reason":  "required",
		})
	}

	var errs []error
	for _, acct := range a.Filesystem {
		errs = append(errs, required(acct.Name, "base_path", acct.BasePath))
	}
	for _, acct := range a.AWS {
		errs = append(errs, required(acct.Name, "bucket", acct.Bucket))
		if (acct.AccessKey == "") != (acct.SecretKey == "") {
			errs = append(errs, canarystore.WithContext(canarystore.ErrInvalidConfig, map[string]interface{}{
				"account": acct.Name,
				"field":   "access_key",
				"reason":  "access_key and secret_key must be set together",
			}))
		}
	}
	for _, acct := range a.MinIO {
		errs = append(errs, required(acct.Name, "endpoint", acct.Endpoint), required(acct.Name, "bucket", acct.Bucket))
	}
	for _, acct := range a.Google {
		errs = append(errs, required(acct.Name, "bucket", acct.Bucket))
	}
	for _, acct := range a.SQL {
		errs = append(errs, required(acct.Name, "connection_string", acct.ConnectionString))
	}
	for _, acct := range a.Badger {
		if !acct.InMemory {
			errs = append(errs, required(acct.Name, "path", acct.Path))
		}
	}
	for _, acct := range a.Prometheus {
		errs = append(errs, required(acct.Name, "base_url", acct.BaseURL))
	}
	for _, acct := range a.RemoteJudge {
		errs = append(errs, required(acct.Name, "base_url", acct.BaseURL))
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (a AccountCommon) capabilities() ([]canarystore.Capability, error) {
	caps := make([]canarystore.Capability, 0, len(a.SupportedTypes))
	for _, s := range a.SupportedTypes {
		c, err := canarystore.ParseCapability(strings.ToUpper(s))
		if err != nil {
			return nil, canarystore.WithContext(err, map[string]interface{}{"account": a.Name})
		}
		caps = append(caps, c)
	}
	return caps, nil
}

func (a AccountCommon) base() (canarystore.AccountBase, error) {
	caps, err := a.capabilities()
	if err != nil {
		return canarystore.AccountBase{}, err
	}
	base := canarystore.AccountBase{
		AccountName:      a.Name,
		Capabilities:     caps,
		AccountLocations: a.Locations,
		RecommendedLocs:  a.RecommendedLocations,
	}
	if a.EncryptionKey != "" {
		base.Cipher, err = canarystore.ParseBackendCipher(a.EncryptionKey)
		if err != nil {
			return canarystore.AccountBase{}, canarystore.WithContext(err, map[string]interface{}{"account": a.Name})
		}
	}
	return base, nil
}

package canarystore

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

var canaryConfigNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)

// CanaryConfigService validates canary configs and keeps them in a configuration store.
// Every method takes an optional account name; blank picks any CONFIGURATION_STORE account.
type CanaryConfigService struct {
	storage                  *StorageServiceRepository
	skipMetricNameValidation bool
	now                      func() time.Time
}

// CanaryConfigOption configures a CanaryConfigService
type CanaryConfigOption func(*CanaryConfigService)

// WithoutMetricNameValidation accepts configs with blank or repeated metric names
func WithoutMetricNameValidation() CanaryConfigOption {
	return func(s *CanaryConfigService) { s.skipMetricNameValidation = true }
}

// NewCanaryConfigService creates the service over the storage repository
func NewCanaryConfigService(storage *StorageServiceRepository, opts ...CanaryConfigOption) *CanaryConfigService {
	s := &CanaryConfigService{storage: storage, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CanaryConfigService) resolve(accountName string) (Account, StorageService, error) {
	return s.storage.ResolveOrFirst(accountName, ConfigurationStore)
}

// Load returns the canary config stored under id
func (s *CanaryConfigService) Load(ctx context.Context, accountName, id string) (*CanaryConfig, error) {
	account, service, err := s.resolve(accountName)
	if err != nil {
		return nil, err
	}
	config, err := Load[CanaryConfig](ctx, service, account, CanaryConfigType, id)
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// Create validates and stores a new config, returning its id. A config without an id
// gets a generated one; an id that is already stored is rejected.
func (s *CanaryConfigService) Create(ctx context.Context, accountName string, config *CanaryConfig) (string, error) {
	account, service, err := s.resolve(accountName)
	if err != nil {
		return "", err
	}

	if config.CreatedTimestamp == 0 {
		config.CreatedTimestamp = s.now().UnixMilli()
	}
	if config.UpdatedTimestamp == 0 {
		config.UpdatedTimestamp = config.CreatedTimestamp
	}
	config.CreatedTimestampIso = isoMillis(config.CreatedTimestamp)
	config.UpdatedTimestampIso = isoMillis(config.UpdatedTimestamp)

	if config.ID == "" {
		config.ID = NewID()
	}
	if err := s.Validate(config); err != nil {
		return "", err
	}

	err = service.LoadObject(ctx, account, CanaryConfigType, config.ID, &CanaryConfig{})
	switch {
	case err == nil:
		return "", WithContext(ErrInvalidData, map[string]interface{}{
			"canaryConfigId": config.ID,
			"reason":         fmt.Sprintf("canary config '%s' already exists", config.ID),
		})
	case !IsNotFound(err):
		return "", err
	}

	opts := StoreOptions{Filename: config.Name + ".json"}
	if err := service.StoreObject(ctx, account, CanaryConfigType, config.ID, config, opts); err != nil {
		return "", err
	}
	return config.ID, nil
}

// Update validates and replaces the config stored under id. Renames move the stored file.
func (s *CanaryConfigService) Update(ctx context.Context, accountName, id string, config *CanaryConfig) error {
	account, service, err := s.resolve(accountName)
	if err != nil {
		return err
	}

	config.UpdatedTimestamp = s.now().UnixMilli()
	config.UpdatedTimestampIso = isoMillis(config.UpdatedTimestamp)
	if err := s.Validate(config); err != nil {
		return err
	}

	if err := service.LoadObject(ctx, account, CanaryConfigType, id, &CanaryConfig{}); err != nil {
		if IsNotFound(err) {
			return WithContext(ErrNotFound, map[string]interface{}{
				"canaryConfigId": id,
				"reason":         fmt.Sprintf("canary config '%s' does not exist", id),
			})
		}
		return err
	}

	if config.ID == "" {
		config.ID = id
	}

	opts := StoreOptions{Filename: config.Name + ".json", IsUpdate: true}
	return service.StoreObject(ctx, account, CanaryConfigType, id, config, opts)
}

// Delete removes the config stored under id
func (s *CanaryConfigService) Delete(ctx context.Context, accountName, id string) error {
	account, service, err := s.resolve(accountName)
	if err != nil {
		return err
	}
	return service.DeleteObject(ctx, account, CanaryConfigType, id)
}

// List returns config summaries, filtered to those sharing one of applications
func (s *CanaryConfigService) List(ctx context.Context, accountName string, applications []string) ([]ObjectSummary, error) {
	account, service, err := s.resolve(accountName)
	if err != nil {
		return nil, err
	}
	return service.ListObjectKeys(ctx, account, CanaryConfigType, ListOptions{Applications: applications})
}

// Validate checks the name, applications and metric names of config
func (s *CanaryConfigService) Validate(config *CanaryConfig) error {
	invalid := func(reason string) error {
		return WithContext(ErrInvalidData, map[string]interface{}{"reason": reason})
	}

	if config.Name == "" {
		return invalid("Canary config must specify a name.")
	}
	if len(config.Applications) == 0 {
		return invalid("Canary config must specify at least one application.")
	}
	if !canaryConfigNamePattern.MatchString(config.Name) {
		return invalid(fmt.Sprintf("Canary config cannot be named '%s'. Names must contain only letters, numbers, dashes (-) and underscores (_).", config.Name))
	}

	if s.skipMetricNameValidation {
		return nil
	}
	seen := make(map[string]bool, len(config.Metrics))
	for _, metric := range config.Metrics {
		switch {
		case metric.Name == "":
			return invalid("Metric config must specify a name.")
		case seen[metric.Name]:
			return invalid(fmt.Sprintf("Metric config name must be unique. '%s' is duplicated.", metric.Name))
		}
		seen[metric.Name] = true
	}
	return nil
}

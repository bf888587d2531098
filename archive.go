package canarystore

import "context"

// ResultArchiver keeps the final status of canary executions in object storage,
// keyed by pipeline id.
type ResultArchiver struct {
	storage *StorageServiceRepository
	logger  Logger
}

// NewResultArchiver creates an archiver over the storage repository
func NewResultArchiver(storage *StorageServiceRepository, logger Logger) *ResultArchiver {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &ResultArchiver{storage: storage, logger: logger}
}

// Archive stores result under pipelineID. A blank storageAccountName archives to
// any account tagged OBJECT_STORE.
func (a *ResultArchiver) Archive(ctx context.Context, storageAccountName, pipelineID string, result *CanaryExecutionStatusResponse) error {
	account, service, err := a.storage.ResolveOrFirst(storageAccountName, ObjectStore)
	if err != nil {
		return err
	}
	if result.PipelineID == "" {
		result.PipelineID = pipelineID
	}
	if result.StorageAccountName == "" {
		result.StorageAccountName = account.Name()
	}

	if err := service.StoreObject(ctx, account, CanaryResultArchiveType, pipelineID, result, StoreOptions{}); err != nil {
		a.logger.Error("failed to archive canary result", "pipelineId", pipelineID, "account", account.Name(), "error", err)
		return err
	}
	a.logger.Info("archived canary result", "pipelineId", pipelineID, "account", account.Name(), "status", result.Status)
	return nil
}

// Load returns the archived result for pipelineID
func (a *ResultArchiver) Load(ctx context.Context, storageAccountName, pipelineID string) (*CanaryExecutionStatusResponse, error) {
	account, service, err := a.storage.ResolveOrFirst(storageAccountName, ObjectStore)
	if err != nil {
		return nil, err
	}
	result, err := Load[CanaryExecutionStatusResponse](ctx, service, account, CanaryResultArchiveType, pipelineID)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

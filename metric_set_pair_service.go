package canarystore

import "context"

// MetricSetPairListService stores the paired control/experiment series a judge consumes.
type MetricSetPairListService struct {
	storage *StorageServiceRepository
}

// NewMetricSetPairListService creates the service over the storage repository
func NewMetricSetPairListService(storage *StorageServiceRepository) *MetricSetPairListService {
	return &MetricSetPairListService{storage: storage}
}

func (s *MetricSetPairListService) resolve(accountName string) (Account, StorageService, error) {
	account, err := s.storage.Accounts().RequireByName(accountName)
	if err != nil {
		return nil, nil, err
	}
	service, err := s.storage.Require(account)
	if err != nil {
		return nil, nil, err
	}
	return account, service, nil
}

func (s *MetricSetPairListService) LoadMetricSetPairList(ctx context.Context, accountName, listID string) ([]MetricSetPair, error) {
	account, service, err := s.resolve(accountName)
	if err != nil {
		return nil, err
	}
	return Load[[]MetricSetPair](ctx, service, account, MetricSetPairListType, listID)
}

// LoadMetricSetPair returns one pair of a stored list, or ErrNotFound if the list has no pair with pairID.
func (s *MetricSetPairListService) LoadMetricSetPair(ctx context.Context, accountName, listID, pairID string) (*MetricSetPair, error) {
	pairs, err := s.LoadMetricSetPairList(ctx, accountName, listID)
	if err != nil {
		return nil, err
	}
	for i := range pairs {
		if pairs[i].ID == pairID {
			return &pairs[i], nil
		}
	}
	return nil, WithContext(ErrNotFound, map[string]interface{}{
		"metricSetPairListId": listID,
		"metricSetPairId":     pairID,
	})
}

// StoreMetricSetPairList stores pairs under a new id and returns it
func (s *MetricSetPairListService) StoreMetricSetPairList(ctx context.Context, accountName string, pairs []MetricSetPair) (string, error) {
	account, service, err := s.resolve(accountName)
	if err != nil {
		return "", err
	}
	id := NewID()
	if err := service.StoreObject(ctx, account, MetricSetPairListType, id, pairs, StoreOptions{}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *MetricSetPairListService) DeleteMetricSetPairList(ctx context.Context, accountName, listID string) error {
	account, service, err := s.resolve(accountName)
	if err != nil {
		return err
	}
	return service.DeleteObject(ctx, account, MetricSetPairListType, listID)
}

func (s *MetricSetPairListService) ListAllMetricSetPairLists(ctx context.Context, accountName string) ([]ObjectSummary, error) {
	account, service, err := s.resolve(accountName)
	if err != nil {
		return nil, err
	}
	return service.ListObjectKeys(ctx, account, MetricSetPairListType, ListOptions{})
}

package canarystore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

type memoryIndexState struct {
	committed map[string]ObjectSummary // id -> summary
	pending   map[string]PendingUpdate // correlation id -> marker
}

// MemoryConfigIndex is a process-local ConfigIndex for tests and single-instance deployments.
type MemoryConfigIndex struct {
	mu       sync.Mutex
	accounts map[string]*memoryIndexState
	last     int64
	now      func() time.Time
}

// NewMemoryConfigIndex creates an empty in-memory config index
func NewMemoryConfigIndex() *MemoryConfigIndex {
	return &MemoryConfigIndex{
		accounts: make(map[string]*memoryIndexState),
		now:      time.Now,
	}
}

func (m *MemoryConfigIndex) state(account string) *memoryIndexState {
	s, ok := m.accounts[account]
	if !ok {
		s = &memoryIndexState{
			committed: make(map[string]ObjectSummary),
			pending:   make(map[string]PendingUpdate),
		}
		m.accounts[account] = s
	}
	return s
}

// CurrentTime never returns the same value twice so pending markers stay ordered.
func (m *MemoryConfigIndex) CurrentTime(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = max(m.now().UnixMilli(), m.last+1)
	return m.last, nil
}

func (m *MemoryConfigIndex) StartPendingUpdate(ctx context.Context, account string, update PendingUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	update.Summary.Applications = slices.Clone(update.Summary.Applications)
	m.state(account).pending[update.CorrelationID] = update
	return nil
}

func (m *MemoryConfigIndex) FinishPendingUpdate(ctx context.Context, account string, action IndexAction, correlationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(account)
	update, ok := s.pending[correlationID]
	if !ok || update.Action != action {
		return unknownPendingUpdate(account, correlationID)
	}

	switch action {
	case IndexUpdate:
		s.committed[update.Summary.ID] = update.Summary
	case IndexDelete:
		delete(s.committed, update.Summary.ID)
	}
	delete(s.pending, correlationID)
	return nil
}

func (m *MemoryConfigIndex) RemoveFailedPendingUpdate(ctx context.Context, account string, update PendingUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state(account).pending, update.CorrelationID)
	return nil
}

func (m *MemoryConfigIndex) IDForName(ctx context.Context, account, name string, applications []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(account)
	if id := inflightIDForName(slices.Collect(maps.Values(s.pending)), name, applications); id != "" {
		return id, nil
	}
	return committedIDForName(slices.Collect(maps.Values(s.committed)), name, applications), nil
}

func (m *MemoryConfigIndex) SummaryForID(ctx context.Context, account, id string) (*ObjectSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary, ok := m.state(account).committed[id]
	if !ok {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"account": account,
			"id":      id,
		})
	}
	return &summary, nil
}

func (m *MemoryConfigIndex) SummarySet(ctx context.Context, account string, applications []string) ([]ObjectSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ObjectSummary
	for _, summary := range m.state(account).committed {
		if appsOverlap(applications, summary.Applications) {
			out = append(out, summary)
		}
	}
	sortSummaries(out)
	return out, nil
}

func (m *MemoryConfigIndex) ReplaceCommitted(ctx context.Context, account string, summaries []ObjectSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	committed := make(map[string]ObjectSummary, len(summaries))
	for _, summary := range summaries {
		committed[summary.ID] = summary
	}
	m.state(account).committed = committed
	return nil
}

func (m *MemoryConfigIndex) PendingUpdates(ctx context.Context, account string) ([]PendingUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := slices.Collect(maps.Values(m.state(account).pending))
	sort.Slice(pending, func(i, j int) bool { return pending[i].Timestamp < pending[j].Timestamp })
	return pending, nil
}

func (m *MemoryConfigIndex) DropPending(ctx context.Context, account string, olderThan int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state(account)
	dropped := 0
	for id, p := range s.pending {
		if p.Timestamp < olderThan {
			delete(s.pending, id)
			dropped++
		}
	}
	return dropped, nil
}

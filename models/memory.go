package models

import "sync"

// MemoryHistoryStore is an in-memory HistoryStore for single-process
// deployments and tests. Entries live for the lifetime of the process;
// there is no eviction.
type MemoryHistoryStore struct {
	mu        sync.RWMutex
	histories map[string]*HealingHistory
	disabled  map[string]bool
}

// NewMemoryHistoryStore returns an empty in-memory store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		histories: make(map[string]*HealingHistory),
		disabled:  make(map[string]bool),
	}
}

func (s *MemoryHistoryStore) GetHistory(queryHash string) (*HealingHistory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.histories[queryHash]
	if !ok {
		return nil, false
	}
	return copyHistory(h), true
}

func (s *MemoryHistoryStore) SaveHistory(history *HealingHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories[history.QueryHash] = copyHistory(history)
	return nil
}

func (s *MemoryHistoryStore) SetEnabled(queryHash string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if enabled {
		delete(s.disabled, queryHash)
	} else {
		s.disabled[queryHash] = true
	}
	return nil
}

func (s *MemoryHistoryStore) IsEnabled(queryHash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return !s.disabled[queryHash]
}

func (s *MemoryHistoryStore) Close() error {
	return nil
}

// copyHistory returns a deep copy so callers cannot alias stored state.
func copyHistory(h *HealingHistory) *HealingHistory {
	c := *h
	c.Entries = append([]HistoryEntry(nil), h.Entries...)
	c.SuccessfulFixTypes = append([]FixType(nil), h.SuccessfulFixTypes...)
	c.FailedFixTypes = append([]FixType(nil), h.FailedFixTypes...)
	return &c
}

package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for unit tests.
// Records are deep-copied on Load and Save so tests observe the same
// value semantics as the file-backed store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte

	// SaveCount tallies Save calls per source, for durability assertions.
	saveCounts map[string]int

	// FailNextSave makes the next Save return an error without mutating
	// the stored record, simulating a crashed write.
	FailNextSave bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string][]byte),
		saveCounts: make(map[string]int),
	}
}

// Load returns a copy of the stored record, or ErrNotFound.
func (s *MemoryStore) Load(sourceID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.records[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sourceID)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Save stores a copy of the record.
func (s *MemoryStore) Save(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNextSave {
		s.FailNextSave = false
		return fmt.Errorf("simulated save failure for %s", record.SourceID)
	}

	record.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.records[record.SourceID] = data
	s.saveCounts[record.SourceID]++
	return nil
}

// List returns all stored source ids, sorted.
func (s *MemoryStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveCount returns how many times a source's record was saved.
func (s *MemoryStore) SaveCount(sourceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCounts[sourceID]
}

var _ Store = (*MemoryStore)(nil)

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when no record exists for a source.
var ErrNotFound = errors.New("state record not found")

// Store abstracts agent state persistence. The file-backed implementation
// is the production path; a MemoryStore is provided for unit tests.
type Store interface {
	// Load returns the record for a source, or ErrNotFound.
	Load(sourceID string) (*Record, error)

	// Save persists the record. The write must be atomic: a crash
	// mid-save leaves the previous record intact.
	Save(record *Record) error

	// List returns all known source ids, sorted.
	List() ([]string, error)
}

// FileStore persists records as JSON files in a single directory,
// one <source_id>.state.json per source.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(sourceID string) string {
	return filepath.Join(s.dir, sourceID+".state.json")
}

// Load reads and parses the record for a source.
func (s *FileStore) Load(sourceID string) (*Record, error) {
	data, err := os.ReadFile(s.path(sourceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sourceID)
		}
		return nil, fmt.Errorf("failed to read state for %s: %w", sourceID, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse state for %s: %w", sourceID, err)
	}
	return &rec, nil
}

// Save writes the record via temp-file-then-rename so a crash mid-write
// never corrupts the previous record.
func (s *FileStore) Save(record *Record) error {
	record.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state for %s: %w", record.SourceID, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, record.SourceID+".state.*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path(record.SourceID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// List returns source ids for every state record in the directory.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".state.json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".state.json"))
	}
	sort.Strings(ids)
	return ids, nil
}

var _ Store = (*FileStore)(nil)

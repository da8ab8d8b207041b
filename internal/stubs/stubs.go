// Package stubs persists raw model responses for replay and audit.
// A stub is keyed by (source_id, unit, phase); the stored bytes are the
// verbatim response, so replay exercises the same parsing path as a live
// call and any published transcription stays traceable to a stored raw
// response.
package stubs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Phase names the pipeline phase a stub belongs to.
type Phase string

const (
	PhaseDiplomatic    Phase = "diplomatic"
	PhaseNormalization Phase = "normalization"
)

// ErrNotFound is returned when no stub exists for a key.
var ErrNotFound = errors.New("stub not found")

// Store is a file-backed stub store rooted at a stubs directory.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root, creating the directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stubs directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Path returns the on-disk location of a stub. Diplomatic units are page
// numbers, normalization units are chunk indices.
func (s *Store) Path(sourceID string, unit int, phase Phase) string {
	marker := "p"
	if phase == PhaseNormalization {
		marker = "c"
	}
	name := fmt.Sprintf("%s_%s%03d.raw.txt", sourceID, marker, unit)
	return filepath.Join(s.root, string(phase), name)
}

// Write persists a raw response payload for later exact replay.
func (s *Store) Write(sourceID string, unit int, phase Phase, payload []byte) error {
	path := s.Path(sourceID, unit, phase)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create stub phase directory: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write stub: %w", err)
	}
	return nil
}

// Read returns the stored payload, or ErrNotFound.
func (s *Store) Read(sourceID string, unit int, phase Phase) ([]byte, error) {
	data, err := os.ReadFile(s.Path(sourceID, unit, phase))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s %s unit %d", ErrNotFound, sourceID, phase, unit)
		}
		return nil, fmt.Errorf("failed to read stub: %w", err)
	}
	return data, nil
}

// Exists reports whether a stub is stored for the key.
func (s *Store) Exists(sourceID string, unit int, phase Phase) bool {
	_, err := os.Stat(s.Path(sourceID, unit, phase))
	return err == nil
}

// GenerateDiplomatic produces a deterministic synthetic diplomatic
// response. It carries the mandated section headers so it parses exactly
// like a real response, which validates pipeline plumbing without cost or
// network dependency.
func GenerateDiplomatic(sourceID string, page int) []byte {
	return []byte(fmt.Sprintf(`=== TRANSCRIPTION ===
[STUB] %s page %d
=== META ===
{
  "confidence": "low",
  "handwriting_present": false,
  "typewriting_present": true,
  "layout_notes": "generated stub",
  "problems": ["stub_no_model_call"]
}
`, sourceID, page))
}

// GenerateNormalization produces a deterministic synthetic normalization
// response that echoes the input text unchanged with an empty edit log.
func GenerateNormalization(input string) []byte {
	return []byte(fmt.Sprintf(`=== CORRECTED_TEXT ===
%s
=== EDIT_LOG ===
[]
=== META ===
{"total_changes": 0, "total_flags": 0, "notes": "generated stub"}
`, input))
}

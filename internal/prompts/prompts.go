// Package prompts loads the model instruction files shipped with a
// project. Prompts are treated as data, not code: they are read
// verbatim and fingerprinted so the call log records which prompt
// version produced each response.
package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DiplomaticFile is the transcription prompt filename.
	DiplomaticFile = "diplomatic_transcription_prompt.md"
	// NormalizationFile is the normalization prompt filename.
	NormalizationFile = "normalization_prompt.md"
)

// Prompt is a loaded instruction file.
type Prompt struct {
	Name   string
	Text   string
	SHA256 string
}

// Set holds both pipeline prompts.
type Set struct {
	Diplomatic    Prompt
	Normalization Prompt
}

// Load reads both prompts from dir. Missing or empty prompt files are
// an error: running with a silently absent prompt would send the model
// an empty instruction.
func Load(dir string) (*Set, error) {
	dip, err := loadOne(dir, DiplomaticFile)
	if err != nil {
		return nil, err
	}
	norm, err := loadOne(dir, NormalizationFile)
	if err != nil {
		return nil, err
	}
	return &Set{Diplomatic: *dip, Normalization: *norm}, nil
}

func loadOne(dir, name string) (*Prompt, error) {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading prompt %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("prompt %s is empty", path)
	}
	sum := sha256.Sum256(data)
	return &Prompt{
		Name:   name,
		Text:   string(data),
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

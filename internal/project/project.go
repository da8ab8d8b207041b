// Package project defines the on-disk layout of a scriptor project root.
// All artifact paths are derived here so the rest of the code never
// concatenates path fragments by hand.
package project

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default project root directory.
	DefaultDirName = "project"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// CallLogFileName is the SQLite call-log database file.
	CallLogFileName = "calls.db"
)

// Dir represents the project root directory structure.
type Dir struct {
	path string
}

// New creates a new Dir rooted at path.
// If path is empty, uses the default ("project" under the working directory).
func New(path string) (*Dir, error) {
	if path == "" {
		path = DefaultDirName
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	return &Dir{path: abs}, nil
}

// Path returns the project root path.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the project config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// ConfigExists returns true if the config file exists.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// CallLogPath returns the path to the call-log database.
func (d *Dir) CallLogPath() string {
	return filepath.Join(d.path, CallLogFileName)
}

// StateDir returns the directory holding agent state records.
func (d *Dir) StateDir() string {
	return filepath.Join(d.path, "agent_state")
}

// LockPath returns the advisory lock path for a source.
func (d *Dir) LockPath(sourceID string) string {
	return filepath.Join(d.StateDir(), sourceID+".lock")
}

// WorkDir returns the working directory for a source.
func (d *Dir) WorkDir(sourceID string) string {
	return filepath.Join(d.path, "work", sourceID)
}

// ImagesDir returns the page image directory for a source.
func (d *Dir) ImagesDir(sourceID string) string {
	return filepath.Join(d.WorkDir(sourceID), "images")
}

// ImagePath returns the path to a page image. Pages are 1-indexed.
func (d *Dir) ImagePath(sourceID string, page int) string {
	return filepath.Join(d.ImagesDir(sourceID), PageID(sourceID, page)+".png")
}

// DiplomaticDir returns the per-page diplomatic transcription directory.
func (d *Dir) DiplomaticDir(sourceID string) string {
	return filepath.Join(d.WorkDir(sourceID), "diplomatic")
}

// DiplomaticTextPath returns the diplomatic text path for a page.
func (d *Dir) DiplomaticTextPath(sourceID string, page int) string {
	return filepath.Join(d.DiplomaticDir(sourceID), PageID(sourceID, page)+".txt")
}

// DiplomaticMetaPath returns the diplomatic META path for a page.
func (d *Dir) DiplomaticMetaPath(sourceID string, page int) string {
	return filepath.Join(d.DiplomaticDir(sourceID), PageID(sourceID, page)+".meta.json")
}

// NormalizedDir returns the per-chunk normalization directory.
func (d *Dir) NormalizedDir(sourceID string) string {
	return filepath.Join(d.WorkDir(sourceID), "normalized")
}

// ChunkTextPath returns the corrected text path for a normalization chunk.
// Chunks are 1-indexed.
func (d *Dir) ChunkTextPath(sourceID string, chunk int) string {
	return filepath.Join(d.NormalizedDir(sourceID), fmt.Sprintf("%s_c%03d.txt", sourceID, chunk))
}

// ChunkEditLogPath returns the edit log path for a normalization chunk.
func (d *Dir) ChunkEditLogPath(sourceID string, chunk int) string {
	return filepath.Join(d.NormalizedDir(sourceID), fmt.Sprintf("%s_c%03d.editlog.json", sourceID, chunk))
}

// OutputDir returns the final artifact directory for a source.
func (d *Dir) OutputDir(sourceID string) string {
	return filepath.Join(d.path, "output", sourceID)
}

// V1Path returns the assembled diplomatic v1 artifact path.
func (d *Dir) V1Path(sourceID string) string {
	return filepath.Join(d.OutputDir(sourceID), sourceID+"_diplomatic_v1.txt")
}

// CoveragePath returns the v1 coverage report path.
func (d *Dir) CoveragePath(sourceID string) string {
	return filepath.Join(d.OutputDir(sourceID), sourceID+"_coverage_v1.json")
}

// V2Path returns the normalized v2 artifact path.
func (d *Dir) V2Path(sourceID string) string {
	return filepath.Join(d.OutputDir(sourceID), sourceID+"_corrected_v2.txt")
}

// EditLogPath returns the merged v2 edit log path.
func (d *Dir) EditLogPath(sourceID string) string {
	return filepath.Join(d.OutputDir(sourceID), sourceID+"_editlog_v2.json")
}

// StubsDir returns the root of the stub store.
func (d *Dir) StubsDir() string {
	return filepath.Join(d.path, "stubs")
}

// PromptsDir returns the directory holding prompt files.
func (d *Dir) PromptsDir() string {
	return filepath.Join(d.path, "specs", "prompts")
}

// LogsDir returns the run log directory for a source.
func (d *Dir) LogsDir(sourceID string) string {
	return filepath.Join(d.path, "logs", sourceID)
}

// RunLogPath returns the append-only run log path for a source.
func (d *Dir) RunLogPath(sourceID string) string {
	return filepath.Join(d.LogsDir(sourceID), "run.log")
}

// EnsureExists creates the project root and its shared subdirectories.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.StateDir(), d.StubsDir(), d.PromptsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureSourceDirs creates the per-source working and output directories.
func (d *Dir) EnsureSourceDirs(sourceID string) error {
	dirs := []string{
		d.ImagesDir(sourceID),
		d.DiplomaticDir(sourceID),
		d.NormalizedDir(sourceID),
		d.OutputDir(sourceID),
		d.LogsDir(sourceID),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the project root exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// PageID returns the canonical textual page id (e.g. "Odry03_copy_8a7df7a1_p001").
func PageID(sourceID string, page int) string {
	return fmt.Sprintf("%s_p%03d", sourceID, page)
}

// Package assemble concatenates per-page transcriptions into the v1
// diplomatic document and reports page coverage.
package assemble

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/scriptorlab/scriptor/internal/project"
	"github.com/scriptorlab/scriptor/internal/state"
)

// MissingPagePlaceholder stands in for pages without a successful
// transcription.
const MissingPagePlaceholder = "[MISSING PAGE TRANSCRIPTION]"

// Coverage reports which pages made it into the assembled document.
type Coverage struct {
	SourceID string `json:"source_id"`
	Expected int    `json:"expected"`
	Included int    `json:"included"`
	Missing  []int  `json:"missing"`
	Complete bool   `json:"complete"`
}

// Assembler builds v1 documents in a project directory.
type Assembler struct {
	dir *project.Dir
}

// New creates an Assembler.
func New(dir *project.Dir) *Assembler {
	return &Assembler{dir: dir}
}

// Run assembles the v1 document and coverage report for rec, writes
// both to the output directory and returns the coverage. Pages without
// a successful transcription get a placeholder section so pagination
// survives gaps.
func (a *Assembler) Run(rec *state.Record) (*Coverage, error) {
	rec.SortPages()

	var b strings.Builder
	fmt.Fprintf(&b, "=== SOURCE: %s ===\n", rec.SourceID)

	cov := &Coverage{
		SourceID: rec.SourceID,
		Expected: rec.PagesTotal,
		Missing:  []int{},
	}

	for page := 1; page <= rec.PagesTotal; page++ {
		fmt.Fprintf(&b, "\n=== PAGE %d ===\n", page)

		ps := rec.Page(page)
		if ps == nil || ps.Status != state.StatusSucceeded {
			b.WriteString(MissingPagePlaceholder + "\n")
			cov.Missing = append(cov.Missing, page)
			continue
		}

		text, err := os.ReadFile(ps.DiplomaticTextPath)
		if err != nil {
			return nil, fmt.Errorf("reading page %d transcription: %w", page, err)
		}
		b.WriteString(strings.TrimRight(string(text), "\n"))
		b.WriteString("\n")
		cov.Included++
	}
	cov.Complete = len(cov.Missing) == 0

	v1Path := a.dir.V1Path(rec.SourceID)
	if err := os.WriteFile(v1Path, []byte(b.String()), 0o644); err != nil {
		return nil, fmt.Errorf("writing v1 document: %w", err)
	}
	rec.V1Path = v1Path

	covData, err := json.MarshalIndent(cov, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding coverage: %w", err)
	}
	if err := os.WriteFile(a.dir.CoveragePath(rec.SourceID), covData, 0o644); err != nil {
		return nil, fmt.Errorf("writing coverage: %w", err)
	}

	return cov, nil
}

// ReadCoverage loads a previously written coverage report.
func ReadCoverage(path string) (*Coverage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cov Coverage
	if err := json.Unmarshal(data, &cov); err != nil {
		return nil, fmt.Errorf("decoding coverage %s: %w", path, err)
	}
	return &cov, nil
}

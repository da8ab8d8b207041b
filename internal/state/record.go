// Package state persists the per-source agent state record: the single
// source of truth for resume decisions across runs.
package state

import (
	"sort"
	"time"
)

// Status is the lifecycle status of a page or normalization chunk.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Stage is the pipeline stage of a source document.
type Stage string

const (
	StageInit         Stage = "init"
	StageImagesReady  Stage = "images_ready"
	StageTranscribing Stage = "transcribing"
	StageV1Ready      Stage = "v1_ready"
	StageNormalizing  Stage = "normalizing"
	StageDone         Stage = "done"
)

// PageState tracks the diplomatic transcription of a single page.
type PageState struct {
	Page      int    `json:"page"`
	ImagePath string `json:"image_path"`
	Status    Status `json:"status"`

	// Set iff the page succeeded.
	DiplomaticTextPath string `json:"diplomatic_txt_path,omitempty"`
	MetaPath           string `json:"meta_path,omitempty"`
	Confidence         string `json:"confidence,omitempty"`

	// Uncertainty markers counted in the transcription text.
	UncertainCount int `json:"uncertain_count"`
	IllegibleCount int `json:"illegible_count"`

	Attempts int    `json:"attempts"`
	Flagged  bool   `json:"flagged,omitempty"`
	Error    string `json:"error,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// ChunkState tracks one normalization chunk.
type ChunkState struct {
	Chunk  int    `json:"chunk"`
	Pages  []int  `json:"pages"`
	Status Status `json:"status"`

	TextPath    string `json:"text_path,omitempty"`
	EditLogPath string `json:"editlog_path,omitempty"`

	TotalChanges int `json:"total_changes"`
	TotalFlags   int `json:"total_flags"`

	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// NormalizeState tracks normalization chunk progress for a source.
type NormalizeState struct {
	ChunkPages int          `json:"chunk_pages"`
	Chunks     []ChunkState `json:"chunks"`
}

// Record is the agent state for one source document.
type Record struct {
	SourceID   string      `json:"source_id"`
	PDFPath    string      `json:"pdf_path"`
	Language   string      `json:"language"`
	DPI        int         `json:"dpi"`
	Stage      Stage       `json:"stage"`
	PagesTotal int         `json:"pages_total"`
	Pages      []PageState `json:"pages"`

	V1Path      string `json:"v1_path,omitempty"`
	V2Path      string `json:"v2_path,omitempty"`
	EditLogPath string `json:"editlog_path,omitempty"`

	Normalize *NormalizeState `json:"normalize,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord creates an empty record at stage init.
func NewRecord(sourceID, pdfPath, language string, dpi int) *Record {
	now := time.Now().UTC()
	return &Record{
		SourceID:  sourceID,
		PDFPath:   pdfPath,
		Language:  language,
		DPI:       dpi,
		Stage:     StageInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Page returns the state entry for a page number, or nil if unknown.
func (r *Record) Page(page int) *PageState {
	for i := range r.Pages {
		if r.Pages[i].Page == page {
			return &r.Pages[i]
		}
	}
	return nil
}

// SortPages orders pages by ascending page number.
func (r *Record) SortPages() {
	sort.Slice(r.Pages, func(i, j int) bool { return r.Pages[i].Page < r.Pages[j].Page })
}

// PagesWithStatus returns page numbers with the given status, in order.
func (r *Record) PagesWithStatus(status Status) []int {
	var pages []int
	for i := range r.Pages {
		if r.Pages[i].Status == status {
			pages = append(pages, r.Pages[i].Page)
		}
	}
	sort.Ints(pages)
	return pages
}

// AllPagesSucceeded reports whether every page reached succeeded.
func (r *Record) AllPagesSucceeded() bool {
	if len(r.Pages) == 0 {
		return false
	}
	for i := range r.Pages {
		if r.Pages[i].Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// StatusCounts returns the number of pages per status.
func (r *Record) StatusCounts() map[Status]int {
	counts := make(map[Status]int, 4)
	for i := range r.Pages {
		counts[r.Pages[i].Status]++
	}
	return counts
}

// ResetStaleInProgress returns pages stuck in_progress to pending and
// reports how many were reset. A page left in_progress means the previous
// run crashed mid-attempt; it must be retried, never treated as terminal.
func (r *Record) ResetStaleInProgress() int {
	reset := 0
	for i := range r.Pages {
		if r.Pages[i].Status == StatusInProgress {
			r.Pages[i].Status = StatusPending
			reset++
		}
	}
	if r.Normalize != nil {
		for i := range r.Normalize.Chunks {
			if r.Normalize.Chunks[i].Status == StatusInProgress {
				r.Normalize.Chunks[i].Status = StatusPending
				reset++
			}
		}
	}
	return reset
}

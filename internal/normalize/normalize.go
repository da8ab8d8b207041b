// Package normalize runs the chunked normalization pass over an
// assembled diplomatic document. The document is split into chunks of
// whole pages, each chunk is normalized independently with its own
// persisted state, and the corrected document is reassembled only once
// every chunk has succeeded.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/scriptorlab/scriptor/internal/invoker"
	"github.com/scriptorlab/scriptor/internal/project"
	"github.com/scriptorlab/scriptor/internal/prompts"
	"github.com/scriptorlab/scriptor/internal/response"
	"github.com/scriptorlab/scriptor/internal/state"
	"github.com/scriptorlab/scriptor/internal/stubs"
)

// Machine normalizes one source.
type Machine struct {
	dir         *project.Dir
	store       state.Store
	inv         invoker.Invoker
	prompt      prompts.Prompt
	chunkPages  int
	model       string
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// Options configures a Machine.
type Options struct {
	Dir         *project.Dir
	Store       state.Store
	Invoker     invoker.Invoker
	Prompt      prompts.Prompt
	ChunkPages  int
	Model       string
	Temperature float64
	MaxTokens   int
	Logger      *slog.Logger
}

// New creates a normalization machine.
func New(opts Options) *Machine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		dir:         opts.Dir,
		store:       opts.Store,
		inv:         opts.Invoker,
		prompt:      opts.Prompt,
		chunkPages:  opts.ChunkPages,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		logger:      logger,
	}
}

// EditLogDocument is the merged edit log written next to the v2
// document.
type EditLogDocument struct {
	TotalChanges int             `json:"total_changes"`
	TotalFlags   int             `json:"total_flags"`
	Chunks       int             `json:"chunks"`
	Edits        []response.Edit `json:"edits"`
}

// planChunks splits pages 1..total into runs of chunkPages whole
// pages. A chunkPages of zero puts everything in one chunk.
func planChunks(total, chunkPages int) [][]int {
	if total <= 0 {
		return nil
	}
	if chunkPages <= 0 {
		chunkPages = total
	}
	var chunks [][]int
	for start := 1; start <= total; start += chunkPages {
		end := start + chunkPages - 1
		if end > total {
			end = total
		}
		pages := make([]int, 0, end-start+1)
		for p := start; p <= end; p++ {
			pages = append(pages, p)
		}
		chunks = append(chunks, pages)
	}
	return chunks
}

// Run normalizes every pending or failed chunk of rec. It returns true
// when every chunk has succeeded and the v2 document was written.
// Chunk failures are recorded in state and do not abort the run.
func (m *Machine) Run(ctx context.Context, rec *state.Record) (bool, error) {
	m.ensurePlan(rec)
	if err := m.store.Save(rec); err != nil {
		return false, fmt.Errorf("persisting normalization plan: %w", err)
	}

	norm := rec.Normalize
	for i := range norm.Chunks {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		chunk := &norm.Chunks[i]
		if chunk.Status == state.StatusSucceeded {
			continue
		}

		chunk.Status = state.StatusInProgress
		chunk.Error = ""
		if err := m.store.Save(rec); err != nil {
			return false, fmt.Errorf("persisting chunk %d start: %w", chunk.Chunk, err)
		}

		if err := m.normalizeChunk(ctx, rec, chunk, len(norm.Chunks)); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			chunk.Status = state.StatusFailed
			chunk.Error = err.Error()
			m.logger.Warn("chunk failed",
				"source", rec.SourceID, "chunk", chunk.Chunk, "error", err)
		} else {
			chunk.Status = state.StatusSucceeded
			m.logger.Info("chunk normalized",
				"source", rec.SourceID, "chunk", chunk.Chunk,
				"changes", chunk.TotalChanges, "flags", chunk.TotalFlags)
		}

		if err := m.store.Save(rec); err != nil {
			return false, fmt.Errorf("persisting chunk %d outcome: %w", chunk.Chunk, err)
		}
	}

	for i := range norm.Chunks {
		if norm.Chunks[i].Status != state.StatusSucceeded {
			return false, nil
		}
	}

	if err := m.reassemble(rec); err != nil {
		return false, err
	}
	if err := m.store.Save(rec); err != nil {
		return false, fmt.Errorf("persisting v2 paths: %w", err)
	}
	return true, nil
}

// ensurePlan builds the chunk plan, or rebuilds it when the configured
// chunk size changed and no chunk has completed yet. A plan with
// finished chunks is kept as-is: reshaping it would orphan their
// artifacts.
func (m *Machine) ensurePlan(rec *state.Record) {
	if rec.Normalize != nil && rec.Normalize.ChunkPages == m.chunkPages {
		return
	}
	if rec.Normalize != nil {
		for i := range rec.Normalize.Chunks {
			if rec.Normalize.Chunks[i].Status == state.StatusSucceeded {
				m.logger.Warn("keeping existing chunk plan, completed chunks present",
					"source", rec.SourceID,
					"planned", rec.Normalize.ChunkPages, "configured", m.chunkPages)
				return
			}
		}
	}

	plan := planChunks(rec.PagesTotal, m.chunkPages)
	norm := &state.NormalizeState{ChunkPages: m.chunkPages}
	for i, pages := range plan {
		norm.Chunks = append(norm.Chunks, state.ChunkState{
			Chunk:  i + 1,
			Pages:  pages,
			Status: state.StatusPending,
		})
	}
	rec.Normalize = norm
}

func (m *Machine) normalizeChunk(ctx context.Context, rec *state.Record, chunk *state.ChunkState, totalChunks int) error {
	input, err := m.chunkInput(rec, chunk)
	if err != nil {
		return err
	}

	chunk.Attempts++
	req := &invoker.Request{
		SourceID:     rec.SourceID,
		Phase:        stubs.PhaseNormalization,
		Unit:         chunk.Chunk,
		System:       m.prompt.Text,
		User:         m.userPrompt(rec, chunk, totalChunks, input),
		PromptSHA256: m.prompt.SHA256,
		Model:        m.model,
		Temperature:  m.temperature,
		MaxTokens:    m.maxTokens,
		InputText:    input,
	}
	resp, err := m.inv.Invoke(ctx, req)
	if err != nil {
		return err
	}

	norm, err := response.ParseNormalization(resp.Raw)
	if err != nil {
		return fmt.Errorf("parsing response for chunk %d: %w", chunk.Chunk, err)
	}

	textPath := m.dir.ChunkTextPath(rec.SourceID, chunk.Chunk)
	if err := os.WriteFile(textPath, []byte(norm.CorrectedText), 0o644); err != nil {
		return fmt.Errorf("writing chunk text: %w", err)
	}

	edits := norm.EditLog
	if edits == nil {
		edits = []response.Edit{}
	}
	editData, err := json.MarshalIndent(edits, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding chunk edit log: %w", err)
	}
	editPath := m.dir.ChunkEditLogPath(rec.SourceID, chunk.Chunk)
	if err := os.WriteFile(editPath, editData, 0o644); err != nil {
		return fmt.Errorf("writing chunk edit log: %w", err)
	}

	chunk.TextPath = textPath
	chunk.EditLogPath = editPath
	chunk.TotalChanges = norm.Meta.TotalChanges
	chunk.TotalFlags = norm.Meta.TotalFlags
	return nil
}

// chunkInput builds the model input for a chunk from the per-page
// diplomatic transcriptions, in the same sectioned shape as the v1
// document.
func (m *Machine) chunkInput(rec *state.Record, chunk *state.ChunkState) (string, error) {
	var b strings.Builder
	for _, page := range chunk.Pages {
		fmt.Fprintf(&b, "=== PAGE %d ===\n", page)

		ps := rec.Page(page)
		if ps == nil || ps.Status != state.StatusSucceeded {
			b.WriteString("[MISSING PAGE TRANSCRIPTION]\n\n")
			continue
		}
		text, err := os.ReadFile(ps.DiplomaticTextPath)
		if err != nil {
			return "", fmt.Errorf("reading page %d transcription: %w", page, err)
		}
		b.WriteString(strings.TrimRight(string(text), "\n"))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n", nil
}

func (m *Machine) userPrompt(rec *state.Record, chunk *state.ChunkState, totalChunks int, input string) string {
	first := chunk.Pages[0]
	last := chunk.Pages[len(chunk.Pages)-1]
	return fmt.Sprintf("Language: %s\nsource_id: %s\nchunk: %d of %d (pages %d-%d)\n\n%s",
		rec.Language, rec.SourceID, chunk.Chunk, totalChunks, first, last, input)
}

// reassemble concatenates the chunk outputs into the v2 document and
// merges the chunk edit logs.
func (m *Machine) reassemble(rec *state.Record) error {
	norm := rec.Normalize

	var b strings.Builder
	doc := EditLogDocument{Chunks: len(norm.Chunks), Edits: []response.Edit{}}

	for i := range norm.Chunks {
		chunk := &norm.Chunks[i]

		text, err := os.ReadFile(chunk.TextPath)
		if err != nil {
			return fmt.Errorf("reading chunk %d text: %w", chunk.Chunk, err)
		}
		b.WriteString(strings.TrimRight(string(text), "\n"))
		b.WriteString("\n")

		var edits []response.Edit
		editData, err := os.ReadFile(chunk.EditLogPath)
		if err != nil {
			return fmt.Errorf("reading chunk %d edit log: %w", chunk.Chunk, err)
		}
		if err := json.Unmarshal(editData, &edits); err != nil {
			return fmt.Errorf("decoding chunk %d edit log: %w", chunk.Chunk, err)
		}
		doc.Edits = append(doc.Edits, edits...)
		doc.TotalChanges += chunk.TotalChanges
		doc.TotalFlags += chunk.TotalFlags
	}

	v2Path := m.dir.V2Path(rec.SourceID)
	if err := os.WriteFile(v2Path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing v2 document: %w", err)
	}

	docData, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding edit log: %w", err)
	}
	editLogPath := m.dir.EditLogPath(rec.SourceID)
	if err := os.WriteFile(editLogPath, docData, 0o644); err != nil {
		return fmt.Errorf("writing edit log: %w", err)
	}

	rec.V2Path = v2Path
	rec.EditLogPath = editLogPath
	return nil
}

// Package transcribe drives the per-page diplomatic transcription
// state machine. Each page moves through pending, in_progress and a
// terminal succeeded or failed, with state persisted at every
// transition so an interrupted run resumes without repeating finished
// work.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/scriptorlab/scriptor/internal/config"
	"github.com/scriptorlab/scriptor/internal/invoker"
	"github.com/scriptorlab/scriptor/internal/project"
	"github.com/scriptorlab/scriptor/internal/prompts"
	"github.com/scriptorlab/scriptor/internal/response"
	"github.com/scriptorlab/scriptor/internal/state"
	"github.com/scriptorlab/scriptor/internal/stubs"
)

// Machine transcribes the pages of one source.
type Machine struct {
	dir         *project.Dir
	store       state.Store
	inv         invoker.Invoker
	prompt      prompts.Prompt
	thresholds  config.Thresholds
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
	Thresholds  config.Thresholds
	Model       string
	Temperature float64
	MaxTokens   int
	Logger      *slog.Logger
}

// New creates a transcription machine.
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
		thresholds:  opts.Thresholds,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		logger:      logger,
	}
}

// pageMeta is the sidecar written next to each transcription.
type pageMeta struct {
	Page               int      `json:"page"`
	Confidence         string   `json:"confidence"`
	UncertainCount     int      `json:"uncertain_count"`
	IllegibleCount     int      `json:"illegible_count"`
	HandwritingPresent bool     `json:"handwriting_present"`
	TypewritingPresent bool     `json:"typewriting_present"`
	LayoutNotes        string   `json:"layout_notes,omitempty"`
	Problems           []string `json:"problems,omitempty"`
	Provider           string   `json:"provider"`
	Model              string   `json:"model"`
	Attempts           int      `json:"attempts"`
	Flagged            bool     `json:"flagged"`
}

// Run processes every non-succeeded page of rec. Individual page
// failures are recorded and do not stop the run; the returned error
// reports only infrastructure problems such as state persistence
// failures or context cancellation.
func (m *Machine) Run(ctx context.Context, rec *state.Record) error {
	rec.SortPages()

	for i := range rec.Pages {
		if err := ctx.Err(); err != nil {
			return err
		}

		page := &rec.Pages[i]
		if page.Status == state.StatusSucceeded {
			continue
		}

		page.Status = state.StatusInProgress
		page.Error = ""
		if err := m.store.Save(rec); err != nil {
			return fmt.Errorf("persisting page %d start: %w", page.Page, err)
		}

		if err := m.transcribePage(ctx, rec, page); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			page.Status = state.StatusFailed
			page.Error = err.Error()
			m.logger.Warn("page failed",
				"source", rec.SourceID, "page", page.Page, "error", err)
		} else {
			page.Status = state.StatusSucceeded
			m.logger.Info("page transcribed",
				"source", rec.SourceID, "page", page.Page,
				"uncertain", page.UncertainCount, "illegible", page.IllegibleCount,
				"flagged", page.Flagged)
		}

		if err := m.store.Save(rec); err != nil {
			return fmt.Errorf("persisting page %d outcome: %w", page.Page, err)
		}
	}
	return nil
}

// transcribePage runs one page to a successful transcription or an
// error. A quality retry happens at most RetryBudget times, and only
// for live invocations: stubbed responses are deterministic, so
// retrying them cannot change the outcome.
func (m *Machine) transcribePage(ctx context.Context, rec *state.Record, page *state.PageState) error {
	image, err := os.ReadFile(page.ImagePath)
	if err != nil {
		return fmt.Errorf("reading page image: %w", err)
	}

	dip, err := m.invokeOnce(ctx, rec, page, image)
	if err != nil {
		return err
	}

	uncertain, illegible := response.CountMarkers(dip.Transcription)
	if m.overThreshold(uncertain, illegible) && m.retryable() {
		for retry := 0; retry < m.thresholds.RetryBudget; retry++ {
			m.logger.Info("quality retry",
				"source", rec.SourceID, "page", page.Page,
				"uncertain", uncertain, "illegible", illegible)
			dip, err = m.invokeOnce(ctx, rec, page, image)
			if err != nil {
				return err
			}
			uncertain, illegible = response.CountMarkers(dip.Transcription)
			if !m.overThreshold(uncertain, illegible) {
				break
			}
		}
	}

	textPath := m.dir.DiplomaticTextPath(rec.SourceID, page.Page)
	if err := os.WriteFile(textPath, []byte(dip.Transcription), 0o644); err != nil {
		return fmt.Errorf("writing transcription: %w", err)
	}

	page.UncertainCount = uncertain
	page.IllegibleCount = illegible
	page.Confidence = dip.Meta.Confidence
	page.Flagged = m.overThreshold(uncertain, illegible)
	page.DiplomaticTextPath = textPath

	meta := pageMeta{
		Page:               page.Page,
		Confidence:         dip.Meta.Confidence,
		UncertainCount:     uncertain,
		IllegibleCount:     illegible,
		HandwritingPresent: dip.Meta.HandwritingPresent,
		TypewritingPresent: dip.Meta.TypewritingPresent,
		LayoutNotes:        dip.Meta.LayoutNotes,
		Problems:           dip.Meta.Problems,
		Provider:           m.inv.Mode(),
		Model:              m.model,
		Attempts:           page.Attempts,
		Flagged:            page.Flagged,
	}
	metaPath := m.dir.DiplomaticMetaPath(rec.SourceID, page.Page)
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding page meta: %w", err)
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return fmt.Errorf("writing page meta: %w", err)
	}
	page.MetaPath = metaPath

	return nil
}

func (m *Machine) invokeOnce(ctx context.Context, rec *state.Record, page *state.PageState, image []byte) (*response.Diplomatic, error) {
	page.Attempts++

	req := &invoker.Request{
		SourceID:     rec.SourceID,
		Phase:        stubs.PhaseDiplomatic,
		Unit:         page.Page,
		System:       m.prompt.Text,
		User:         m.userPrompt(rec, page.Page),
		PromptSHA256: m.prompt.SHA256,
		Images:       [][]byte{image},
		Model:        m.model,
		Temperature:  m.temperature,
		MaxTokens:    m.maxTokens,
	}
	resp, err := m.inv.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	dip, err := response.ParseDiplomatic(resp.Raw)
	if err != nil {
		return nil, fmt.Errorf("parsing response for page %d: %w", page.Page, err)
	}
	return dip, nil
}

func (m *Machine) userPrompt(rec *state.Record, page int) string {
	return fmt.Sprintf("Language: %s\nsource_id: %s\npage: %d of %d",
		rec.Language, rec.SourceID, page, rec.PagesTotal)
}

func (m *Machine) overThreshold(uncertain, illegible int) bool {
	return uncertain > m.thresholds.MaxUncertain || illegible > m.thresholds.MaxIllegible
}

func (m *Machine) retryable() bool {
	mode := m.inv.Mode()
	return mode == invoker.ModeLive || mode == invoker.ModeRecord
}

// Package pipeline drives one source document through its stages:
// init, images_ready, transcribing, v1_ready, normalizing, done. Each
// stage transition is persisted, so a rerun picks up exactly where the
// previous run stopped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/scriptorlab/scriptor/internal/assemble"
	"github.com/scriptorlab/scriptor/internal/normalize"
	"github.com/scriptorlab/scriptor/internal/project"
	"github.com/scriptorlab/scriptor/internal/rasterize"
	"github.com/scriptorlab/scriptor/internal/source"
	"github.com/scriptorlab/scriptor/internal/state"
	"github.com/scriptorlab/scriptor/internal/transcribe"
)

// ErrIncomplete reports a run that stopped before reaching done
// because some units failed. The state on disk reflects exactly which.
var ErrIncomplete = errors.New("run incomplete")

// Pipeline coordinates the stage machines for source documents.
type Pipeline struct {
	dir         *project.Dir
	store       state.Store
	raster      *rasterize.Rasterizer
	transcriber *transcribe.Machine
	normalizer  *normalize.Machine
	language    string
	dpi         int
	logger      *slog.Logger
}

// Options configures a Pipeline.
type Options struct {
	Dir         *project.Dir
	Store       state.Store
	Rasterizer  *rasterize.Rasterizer
	Transcriber *transcribe.Machine
	Normalizer  *normalize.Machine
	Language    string
	DPI         int
	Logger      *slog.Logger
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		dir:         opts.Dir,
		store:       opts.Store,
		raster:      opts.Rasterizer,
		transcriber: opts.Transcriber,
		normalizer:  opts.Normalizer,
		language:    opts.Language,
		dpi:         opts.DPI,
		logger:      logger,
	}
}

// RunAll processes every PDF under inputPath (a file or a directory).
// Per-source failures are collected, not fatal for the batch.
func (p *Pipeline) RunAll(ctx context.Context, inputPath string) error {
	pdfs, err := source.Discover(inputPath)
	if err != nil {
		return err
	}

	var errs []error
	for _, pdf := range pdfs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.RunSource(ctx, pdf); err != nil {
			if ctx.Err() != nil {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", pdf, err))
		}
	}
	return errors.Join(errs...)
}

// RunSource processes one PDF to completion or to the first blocked
// stage. The source is locked for the duration of the run.
func (p *Pipeline) RunSource(ctx context.Context, pdfPath string) error {
	sourceID, err := source.ID(pdfPath)
	if err != nil {
		return err
	}
	if err := p.dir.EnsureSourceDirs(sourceID); err != nil {
		return err
	}

	logger, closeLog, err := openRunLog(p.logger, p.dir.RunLogPath(sourceID))
	if err != nil {
		return err
	}
	defer closeLog()
	logger = logger.With("source", sourceID)

	lock := state.NewLock(p.dir.LockPath(sourceID))
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	rec, err := p.loadOrCreate(sourceID, pdfPath, logger)
	if err != nil {
		return err
	}

	if stale := rec.ResetStaleInProgress(); stale > 0 {
		logger.Warn("reset stale in_progress units from interrupted run", "count", stale)
		if err := p.store.Save(rec); err != nil {
			return fmt.Errorf("persisting stale reset: %w", err)
		}
	}

	logger.Info("run started", "stage", rec.Stage, "pdf", pdfPath)
	start := time.Now()

	for rec.Stage != state.StageDone {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := p.step(ctx, rec, logger)
		if err != nil {
			// Keep whatever progress the stage made.
			if serr := p.store.Save(rec); serr != nil {
				logger.Warn("persisting partial progress failed", "error", serr)
			}
			return err
		}
		if next == rec.Stage {
			return fmt.Errorf("stage %s did not advance", rec.Stage)
		}
		rec.Stage = next
		if err := p.store.Save(rec); err != nil {
			return fmt.Errorf("persisting stage %s: %w", next, err)
		}
		logger.Info("stage reached", "stage", next)
	}

	logger.Info("run finished", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// step executes the current stage and returns the next one.
func (p *Pipeline) step(ctx context.Context, rec *state.Record, logger *slog.Logger) (state.Stage, error) {
	switch rec.Stage {
	case state.StageInit:
		total, err := p.raster.Run(ctx, rec.SourceID, rec.PDFPath)
		if err != nil {
			return rec.Stage, err
		}
		rec.PagesTotal = total
		for page := 1; page <= total; page++ {
			if rec.Page(page) == nil {
				rec.Pages = append(rec.Pages, state.PageState{
					Page:      page,
					ImagePath: p.dir.ImagePath(rec.SourceID, page),
					Status:    state.StatusPending,
				})
			}
		}
		rec.SortPages()
		return state.StageImagesReady, nil

	case state.StageImagesReady:
		return state.StageTranscribing, nil

	case state.StageTranscribing:
		if err := p.transcriber.Run(ctx, rec); err != nil {
			return rec.Stage, err
		}

		cov, err := assemble.New(p.dir).Run(rec)
		if err != nil {
			return rec.Stage, err
		}
		logger.Info("v1 assembled",
			"included", cov.Included, "expected", cov.Expected, "complete", cov.Complete)

		if !cov.Complete {
			counts := rec.StatusCounts()
			return rec.Stage, fmt.Errorf("%w: %d of %d pages transcribed (%d failed)",
				ErrIncomplete, cov.Included, cov.Expected, counts[state.StatusFailed])
		}
		return state.StageV1Ready, nil

	case state.StageV1Ready:
		return state.StageNormalizing, nil

	case state.StageNormalizing:
		complete, err := p.normalizer.Run(ctx, rec)
		if err != nil {
			return rec.Stage, err
		}
		if !complete {
			failed := 0
			for i := range rec.Normalize.Chunks {
				if rec.Normalize.Chunks[i].Status == state.StatusFailed {
					failed++
				}
			}
			return rec.Stage, fmt.Errorf("%w: %d normalization chunks failed", ErrIncomplete, failed)
		}
		return state.StageDone, nil

	default:
		return rec.Stage, fmt.Errorf("unknown stage %q", rec.Stage)
	}
}

func (p *Pipeline) loadOrCreate(sourceID, pdfPath string, logger *slog.Logger) (*state.Record, error) {
	rec, err := p.store.Load(sourceID)
	if errors.Is(err, state.ErrNotFound) {
		rec = state.NewRecord(sourceID, pdfPath, p.language, p.dpi)
		if err := p.store.Save(rec); err != nil {
			return nil, fmt.Errorf("persisting new record: %w", err)
		}
		return rec, nil
	}
	if err != nil {
		return nil, err
	}

	if rec.PDFPath != pdfPath {
		logger.Warn("pdf path changed since last run",
			"recorded", rec.PDFPath, "current", pdfPath)
		rec.PDFPath = pdfPath
	}
	return rec, nil
}

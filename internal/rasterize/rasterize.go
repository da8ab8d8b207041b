// Package rasterize converts PDF pages into PNG images for vision
// model input. Page counting uses pdfcpu; rendering shells out to
// pdftoppm, which handles scanned manuscript PDFs far better than any
// pure-Go renderer.
package rasterize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/scriptorlab/scriptor/internal/project"
)

// DefaultDPI is the render resolution used when none is configured.
const DefaultDPI = 300

// Rasterizer renders PDF pages to images in a project directory.
type Rasterizer struct {
	dir     *project.Dir
	dpi     int
	workers int
	logger  *slog.Logger
}

// Option configures a Rasterizer.
type Option func(*Rasterizer)

// WithDPI sets the render resolution.
func WithDPI(dpi int) Option {
	return func(r *Rasterizer) {
		if dpi > 0 {
			r.dpi = dpi
		}
	}
}

// WithWorkers caps concurrent pdftoppm processes. Zero means one per
// CPU.
func WithWorkers(n int) Option {
	return func(r *Rasterizer) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rasterizer) { r.logger = logger }
}

// New creates a Rasterizer writing into dir.
func New(dir *project.Dir, opts ...Option) *Rasterizer {
	r := &Rasterizer{
		dir:     dir,
		dpi:     DefaultDPI,
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// PageCount returns the number of pages in the PDF.
func PageCount(pdfPath string) (int, error) {
	n, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("counting pages in %s: %w", pdfPath, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s has no pages", pdfPath)
	}
	return n, nil
}

// CheckTool verifies that pdftoppm is available on PATH.
func CheckTool() error {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return fmt.Errorf("pdftoppm not found on PATH (install poppler-utils): %w", err)
	}
	return nil
}

// Run renders every page of pdfPath that does not already have an
// image, and returns the total page count. Existing images are kept,
// so an interrupted run resumes where it stopped.
func (r *Rasterizer) Run(ctx context.Context, sourceID, pdfPath string) (int, error) {
	total, err := PageCount(pdfPath)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(r.dir.ImagesDir(sourceID), 0o755); err != nil {
		return 0, fmt.Errorf("creating images directory: %w", err)
	}

	var missing []int
	for page := 1; page <= total; page++ {
		if _, err := os.Stat(r.dir.ImagePath(sourceID, page)); os.IsNotExist(err) {
			missing = append(missing, page)
		}
	}
	if len(missing) == 0 {
		r.logger.Debug("all pages already rendered", "source", sourceID, "pages", total)
		return total, nil
	}

	r.logger.Info("rendering pages",
		"source", sourceID, "total", total, "missing", len(missing), "dpi", r.dpi)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, page := range missing {
		g.Go(func() error {
			return r.renderPage(gctx, sourceID, pdfPath, page)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// renderPage renders one page to a temp file then moves it into place,
// so a partially written image is never mistaken for a finished one.
func (r *Rasterizer) renderPage(ctx context.Context, sourceID, pdfPath string, page int) error {
	final := r.dir.ImagePath(sourceID, page)
	tmpPrefix := filepath.Join(r.dir.ImagesDir(sourceID), fmt.Sprintf(".render_%s_p%03d", sourceID, page))

	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", strconv.Itoa(page),
		"-l", strconv.Itoa(page),
		"-r", strconv.Itoa(r.dpi),
		"-singlefile",
		pdfPath,
		tmpPrefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("rendering page %d of %s: %w: %s", page, pdfPath, err, out)
	}

	tmpFile := tmpPrefix + ".png"
	if _, err := os.Stat(tmpFile); err != nil {
		return fmt.Errorf("pdftoppm produced no output for page %d of %s", page, pdfPath)
	}
	if err := os.Rename(tmpFile, final); err != nil {
		return fmt.Errorf("moving rendered page %d into place: %w", page, err)
	}
	return nil
}

package rasterize

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/scriptorlab/scriptor/internal/project"
)

// writeMinimalPDF writes a valid single-page PDF with a computed xref
// table.
func writeMinimalPDF(t *testing.T, path string) {
	t.Helper()

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xrefStart)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPageCount(t *testing.T) {
	t.Run("single page pdf", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "doc.pdf")
		writeMinimalPDF(t, path)

		n, err := PageCount(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 page, got %d", n)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := PageCount(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestRun(t *testing.T) {
	t.Run("keeps existing images", func(t *testing.T) {
		dir, err := project.New(filepath.Join(t.TempDir(), "project"))
		if err != nil {
			t.Fatal(err)
		}
		if err := os.MkdirAll(dir.ImagesDir("doc_deadbeef"), 0o755); err != nil {
			t.Fatal(err)
		}

		pdfPath := filepath.Join(t.TempDir(), "doc.pdf")
		writeMinimalPDF(t, pdfPath)

		// Pre-render the only page so no pdftoppm call happens.
		existing := dir.ImagePath("doc_deadbeef", 1)
		if err := os.WriteFile(existing, []byte("already rendered"), 0o644); err != nil {
			t.Fatal(err)
		}

		r := New(dir, WithDPI(150))
		total, err := r.Run(context.Background(), "doc_deadbeef", pdfPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if total != 1 {
			t.Errorf("expected 1 page, got %d", total)
		}

		data, err := os.ReadFile(existing)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "already rendered" {
			t.Error("existing image must not be re-rendered")
		}
	})

	t.Run("renders missing pages", func(t *testing.T) {
		if err := CheckTool(); err != nil {
			t.Skipf("pdftoppm unavailable: %v", err)
		}

		dir, err := project.New(filepath.Join(t.TempDir(), "project"))
		if err != nil {
			t.Fatal(err)
		}
		pdfPath := filepath.Join(t.TempDir(), "doc.pdf")
		writeMinimalPDF(t, pdfPath)

		r := New(dir, WithDPI(72), WithWorkers(1))
		total, err := r.Run(context.Background(), "doc_deadbeef", pdfPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if total != 1 {
			t.Errorf("expected 1 page, got %d", total)
		}
		if _, err := os.Stat(dir.ImagePath("doc_deadbeef", 1)); err != nil {
			t.Errorf("expected rendered image: %v", err)
		}
	})
}

// Package source identifies input documents. A source_id is stable across
// runs: filename stem plus a short content hash, e.g. "Odry03_copy_8a7df7a1".
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// hashPrefixBytes bounds how much of the file feeds the content hash.
// Hashing a fixed prefix keeps startup cheap on large scans; 8 hex chars
// of SHA-256 is plenty at corpus scale. A collision surfaces as a resumed
// state whose pdf_path differs, which the run loop reports.
const hashPrefixBytes = 1 << 20

// ID computes the source_id for a PDF file.
func ID(pdfPath string) (string, error) {
	short, err := shortHash(pdfPath)
	if err != nil {
		return "", err
	}
	base := filepath.Base(pdfPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_%s", stem, short), nil
}

// shortHash returns the first 8 hex characters of the SHA-256 over the
// first MiB of the file.
func shortHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyN(h, f, hashPrefixBytes); err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil))[:8], nil
}

// Discover resolves an input path to an ordered list of PDF files.
// A file must carry a lower-case .pdf extension; a directory must contain
// at least one such file.
func Discover(inputPath string) ([]string, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("invalid input path %s: %w", inputPath, err)
	}

	if !info.IsDir() {
		if filepath.Ext(inputPath) != ".pdf" {
			return nil, fmt.Errorf("expected PDF file: %s", inputPath)
		}
		return []string{inputPath}, nil
	}

	entries, err := os.ReadDir(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", inputPath, err)
	}

	var pdfs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".pdf" {
			pdfs = append(pdfs, filepath.Join(inputPath, e.Name()))
		}
	}
	if len(pdfs) == 0 {
		return nil, fmt.Errorf("no PDFs found in directory: %s", inputPath)
	}
	sort.Strings(pdfs)
	return pdfs, nil
}

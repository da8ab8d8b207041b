package response

import (
	"errors"
	"strings"
	"testing"
)

const validDiplomatic = `=== TRANSCRIPTION ===
Kedves Barátom!
Az el[?]adás tegnap [...] véget ért.
=== META ===
{
  "confidence": "high",
  "handwriting_present": true,
  "typewriting_present": false,
  "layout_notes": "single column",
  "problems": []
}`

func TestParseDiplomatic(t *testing.T) {
	t.Run("valid response", func(t *testing.T) {
		d, err := ParseDiplomatic(validDiplomatic)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.HasPrefix(d.Transcription, "Kedves Barátom!") {
			t.Errorf("unexpected transcription: %q", d.Transcription)
		}
		if d.Meta.Confidence != "high" {
			t.Errorf("expected confidence high, got %s", d.Meta.Confidence)
		}
		if !d.Meta.HandwritingPresent || d.Meta.TypewritingPresent {
			t.Errorf("unexpected meta booleans: %+v", d.Meta)
		}
	})

	malformed := []struct {
		name string
		raw  string
	}{
		{"missing transcription header", "=== META ===\n{}"},
		{"missing meta header", "=== TRANSCRIPTION ===\ntext"},
		{"headers out of order", "=== META ===\n{\"confidence\":\"high\",\"handwriting_present\":true,\"typewriting_present\":false}\n=== TRANSCRIPTION ===\ntext"},
		{"invalid meta json", "=== TRANSCRIPTION ===\ntext\n=== META ===\nnot json"},
		{"empty meta block", "=== TRANSCRIPTION ===\ntext\n=== META ===\n"},
		{"bad confidence enum", "=== TRANSCRIPTION ===\ntext\n=== META ===\n{\"confidence\":\"certain\",\"handwriting_present\":true,\"typewriting_present\":false}"},
		{"missing required booleans", "=== TRANSCRIPTION ===\ntext\n=== META ===\n{\"confidence\":\"low\"}"},
		{"duplicate header", validDiplomatic + "\n=== META ===\n{}"},
	}
	for _, tc := range malformed {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDiplomatic(tc.raw)
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("expected *ParseError, got %T", err)
			}
		})
	}
}

const validNormalization = `=== CORRECTED_TEXT ===
Kedves Barátom!
Az előadás tegnap este véget ért.
=== EDIT_LOG ===
[
  {"type": "correction", "from": "el[?]adás", "to": "előadás", "reason": "uncertain reading resolved from context"},
  {"type": "punctuation", "from": "ért", "to": "ért.", "reason": "sentence-final period"}
]
=== META ===
{"total_changes": 2, "total_flags": 0, "notes": ""}`

func TestParseNormalization(t *testing.T) {
	t.Run("valid response", func(t *testing.T) {
		n, err := ParseNormalization(validNormalization)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(n.CorrectedText, "előadás") {
			t.Errorf("unexpected corrected text: %q", n.CorrectedText)
		}
		if len(n.EditLog) != 2 {
			t.Fatalf("expected 2 edits, got %d", len(n.EditLog))
		}
		if n.EditLog[0].Type != "correction" || n.EditLog[1].Type != "punctuation" {
			t.Errorf("unexpected edit types: %+v", n.EditLog)
		}
		if n.Meta.TotalChanges != 2 {
			t.Errorf("expected total_changes 2, got %d", n.Meta.TotalChanges)
		}
	})

	t.Run("empty edit log is valid", func(t *testing.T) {
		raw := "=== CORRECTED_TEXT ===\ntext\n=== EDIT_LOG ===\n[]\n=== META ===\n{\"total_changes\":0,\"total_flags\":0}"
		n, err := ParseNormalization(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(n.EditLog) != 0 {
			t.Errorf("expected empty edit log, got %v", n.EditLog)
		}
	})

	malformed := []struct {
		name string
		raw  string
	}{
		{"missing edit log", "=== CORRECTED_TEXT ===\ntext\n=== META ===\n{\"total_changes\":0,\"total_flags\":0}"},
		{"bad edit type", "=== CORRECTED_TEXT ===\ntext\n=== EDIT_LOG ===\n[{\"type\":\"deletion\",\"from\":\"a\",\"to\":\"\"}]\n=== META ===\n{\"total_changes\":1,\"total_flags\":0}"},
		{"negative counts", "=== CORRECTED_TEXT ===\ntext\n=== EDIT_LOG ===\n[]\n=== META ===\n{\"total_changes\":-1,\"total_flags\":0}"},
	}
	for _, tc := range malformed {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseNormalization(tc.raw); !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestCountMarkers(t *testing.T) {
	text := "első[?] sor [...] másik [?] jel [...] és […] vége"
	uncertain, illegible := CountMarkers(text)
	if uncertain != 2 {
		t.Errorf("expected 2 uncertain markers, got %d", uncertain)
	}
	if illegible != 3 {
		t.Errorf("expected 3 illegible markers, got %d", illegible)
	}

	uncertain, illegible = CountMarkers("clean text")
	if uncertain != 0 || illegible != 0 {
		t.Errorf("expected zero markers, got %d/%d", uncertain, illegible)
	}
}

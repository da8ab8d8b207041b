// Package response parses the mandated section format of model responses.
// Parsing is strict: a malformed response maps to a typed error, never to
// a partially populated result.
package response

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Section headers mandated by the prompt contracts.
const (
	HeaderTranscription = "=== TRANSCRIPTION ==="
	HeaderCorrectedText = "=== CORRECTED_TEXT ==="
	HeaderEditLog       = "=== EDIT_LOG ==="
	HeaderMeta          = "=== META ==="
)

// ErrMalformed is the sentinel for any response that does not match the
// mandated format. Callers check it with errors.Is.
var ErrMalformed = errors.New("malformed model response")

// ParseError describes why a response failed to parse.
type ParseError struct {
	Phase  string // "diplomatic" or "normalization"
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s response: %s", e.Phase, e.Detail)
}

func (e *ParseError) Unwrap() error { return ErrMalformed }

// PageMeta is the structured META block of a diplomatic response.
type PageMeta struct {
	Confidence         string   `json:"confidence"`
	HandwritingPresent bool     `json:"handwriting_present"`
	TypewritingPresent bool     `json:"typewriting_present"`
	LayoutNotes        string   `json:"layout_notes"`
	Problems           []string `json:"problems"`
}

// Diplomatic is a parsed two-section diplomatic response.
type Diplomatic struct {
	Transcription string
	Meta          PageMeta
}

// Edit is one entry of a normalization EDIT_LOG.
type Edit struct {
	Type   string `json:"type"` // correction | expansion | punctuation
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// NormalizeMeta is the structured META block of a normalization response.
type NormalizeMeta struct {
	TotalChanges int    `json:"total_changes"`
	TotalFlags   int    `json:"total_flags"`
	Notes        string `json:"notes"`
}

// Normalization is a parsed three-section normalization response.
type Normalization struct {
	CorrectedText string
	EditLog       []Edit
	Meta          NormalizeMeta
}

// ParseDiplomatic parses a raw diplomatic response.
// The TRANSCRIPTION header must precede the META header; the META block
// must be valid JSON matching the page meta schema.
func ParseDiplomatic(raw string) (*Diplomatic, error) {
	sections, err := splitSections("diplomatic", raw, []string{HeaderTranscription, HeaderMeta})
	if err != nil {
		return nil, err
	}

	var meta PageMeta
	if err := decodeValidated("diplomatic", "META", pageMetaSchema, sections[1], &meta); err != nil {
		return nil, err
	}

	return &Diplomatic{
		Transcription: strings.Trim(sections[0], "\n"),
		Meta:          meta,
	}, nil
}

// ParseNormalization parses a raw normalization response.
func ParseNormalization(raw string) (*Normalization, error) {
	sections, err := splitSections("normalization", raw, []string{HeaderCorrectedText, HeaderEditLog, HeaderMeta})
	if err != nil {
		return nil, err
	}

	var edits []Edit
	if err := decodeValidated("normalization", "EDIT_LOG", editLogSchema, sections[1], &edits); err != nil {
		return nil, err
	}

	var meta NormalizeMeta
	if err := decodeValidated("normalization", "META", normalizeMetaSchema, sections[2], &meta); err != nil {
		return nil, err
	}

	return &Normalization{
		CorrectedText: strings.Trim(sections[0], "\n"),
		EditLog:       edits,
		Meta:          meta,
	}, nil
}

// splitSections splits raw text on the given headers, which must all be
// present exactly once and in order. Returns one body per header.
func splitSections(phase, raw string, headers []string) ([]string, error) {
	positions := make([]int, len(headers))
	for i, h := range headers {
		first := strings.Index(raw, h)
		if first < 0 {
			return nil, &ParseError{Phase: phase, Detail: fmt.Sprintf("missing %s header", h)}
		}
		if strings.Index(raw[first+len(h):], h) >= 0 {
			return nil, &ParseError{Phase: phase, Detail: fmt.Sprintf("duplicate %s header", h)}
		}
		positions[i] = first
	}
	for i := 1; i < len(positions); i++ {
		if positions[i] < positions[i-1] {
			return nil, &ParseError{Phase: phase, Detail: fmt.Sprintf("%s header out of order", headers[i])}
		}
	}

	bodies := make([]string, len(headers))
	for i := range headers {
		start := positions[i] + len(headers[i])
		end := len(raw)
		if i+1 < len(headers) {
			end = positions[i+1]
		}
		bodies[i] = raw[start:end]
	}
	return bodies, nil
}

// Uncertainty markers used in diplomatic transcriptions: [?] marks an
// uncertain reading, […] or [...] an illegible span.
var (
	uncertainPattern = regexp.MustCompile(`\[\?\]`)
	illegiblePattern = regexp.MustCompile(`\[…\]|\[\.\.\.\]`)
)

// CountMarkers counts uncertainty and illegibility markers in a
// transcription.
func CountMarkers(text string) (uncertain, illegible int) {
	return len(uncertainPattern.FindAllString(text, -1)),
		len(illegiblePattern.FindAllString(text, -1))
}

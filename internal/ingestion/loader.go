package ingestion

import (
	"bytes"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/54b3r/civic-go/internal/rag"
)

// Strategy names how a document is split into units.
type Strategy string

const (
	// StrategySection splits at "Section N." markers (constitutions, acts).
	StrategySection Strategy = "section"
	// StrategyNumbered splits at line-leading "N." items (codes, schedules).
	StrategyNumbered Strategy = "numbered"
)

// DefaultMinChars is the shortest unit, in characters, that is kept.
const DefaultMinChars = 30

// DefaultExclude lists headings that mark non-content fragments.
var DefaultExclude = []string{"ARRANGEMENT OF SECTIONS", "TABLE OF CONTENTS"}

var (
	sectionBoundary  = regexp.MustCompile(`Section \d+\.`)
	numberedBoundary = regexp.MustCompile(`(?m)^\d+\.\s`)
	blankLineRun     = regexp.MustCompile(`\n(?:[ \t]*\n)+`)
	artifactReplacer = strings.NewReplacer(
		`\`, "",
		"\f", "",
		"\r", "",
		"\u00a0", " ",
		"\u202f", " ",
	)
)

// Source describes one law document to load.
type Source struct {
	// Path is the local file path of the document (.txt, .md or .pdf).
	Path string

	// Name is the chunk ID prefix (e.g. "constitution" yields constitution_0).
	Name string

	// Label is prepended to every chunk as "[Label] " and stored as its source.
	Label string

	// Strategy selects the boundary pattern. Defaults to StrategySection.
	Strategy Strategy

	// MinChars drops units shorter than this many characters.
	// Defaults to DefaultMinChars if zero.
	MinChars int

	// Exclude drops units containing any of these markers (case-insensitive).
	// Defaults to DefaultExclude if nil.
	Exclude []string
}

// Clean removes formatting artifacts: stray backslash escapes, form feeds and
// carriage returns go, non-breaking spaces become plain spaces, and any run of
// blank lines collapses to a single blank line.
func Clean(text string) string {
	text = artifactReplacer.Replace(text)
	return blankLineRun.ReplaceAllString(text, "\n\n")
}

// boundary returns the split pattern for the strategy.
func (s Strategy) boundary() *regexp.Regexp {
	if s == StrategyNumbered {
		return numberedBoundary
	}
	return sectionBoundary
}

// Split cuts cleaned text into units that each run from one boundary to the
// next (or the end of text), drops short and non-content units, and yields the
// rest as chunks labelled with src.Label. Text before the first boundary is a
// preamble and is not yielded. IDs count retained units only, so the first
// kept unit of "doc" is always doc_0.
//
// The returned sequence re-parses on every iteration.
func Split(text string, src Source) iter.Seq[rag.Chunk] {
	minChars := src.MinChars
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	exclude := src.Exclude
	if exclude == nil {
		exclude = DefaultExclude
	}
	label := src.Label
	if label == "" {
		label = src.Name
	}

	return func(yield func(rag.Chunk) bool) {
		locs := src.Strategy.boundary().FindAllStringIndex(text, -1)
		n := 0
		for i, loc := range locs {
			end := len(text)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			unit := strings.TrimSpace(text[loc[0]:end])
			if utf8.RuneCountInString(unit) < minChars || excluded(unit, exclude) {
				continue
			}
			c := rag.Chunk{
				ID:     fmt.Sprintf("%s_%d", src.Name, n),
				Text:   "[" + label + "] " + unit,
				Source: label,
			}
			n++
			if !yield(c) {
				return
			}
		}
	}
}

// excluded reports whether unit contains any marker, ignoring case.
func excluded(unit string, markers []string) bool {
	upper := strings.ToUpper(unit)
	for _, m := range markers {
		if m != "" && strings.Contains(upper, strings.ToUpper(m)) {
			return true
		}
	}
	return false
}

// Read returns the raw text of a document. PDF files are converted to plain
// text; anything else is read as UTF-8. A missing file is reported as
// rag.ErrMissingSource.
func Read(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", &rag.Error{Kind: rag.KindMissingSource, Source: path, Err: err}
		}
		return "", &rag.Error{Kind: rag.KindLoadFailure, Source: path, Err: err}
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		text, err := readPDF(path)
		if err != nil {
			return "", &rag.Error{Kind: rag.KindLoadFailure, Source: path, Err: err}
		}
		return text, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", &rag.Error{Kind: rag.KindLoadFailure, Source: path, Err: err}
	}
	if !utf8.Valid(b) {
		return "", &rag.Error{Kind: rag.KindLoadFailure, Source: path, Err: fmt.Errorf("file is not valid UTF-8")}
	}
	return string(b), nil
}

// readPDF extracts the plain text layer of a PDF.
func readPDF(path string) (string, error) {
	f, rdr, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := rdr.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("no text layer in pdf")
	}
	return buf.String(), nil
}

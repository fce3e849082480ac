package ingestion

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/54b3r/civic-go/internal/rag"
)

const threeSections = `Section 1. This Constitution is supreme and its provisions shall have binding force.
Section 2. Nigeria is one indivisible and indissoluble sovereign state.
Section 3. There shall be 36 states in Nigeria, each listed in the First Schedule.`

func collect(text string, src Source) []rag.Chunk {
	return slices.Collect(Split(text, src))
}

func Test_Split_ThreeSectionsYieldSequentialIDs(t *testing.T) {
	t.Parallel()
	chunks := collect(Clean(threeSections), Source{Name: "doc", Label: "Constitution"})

	if len(chunks) != 3 {
		t.Fatalf("want 3 chunks, got %d", len(chunks))
	}
	for i, want := range []string{"doc_0", "doc_1", "doc_2"} {
		if chunks[i].ID != want {
			t.Errorf("chunk %d: want id %s, got %s", i, want, chunks[i].ID)
		}
		if !strings.HasPrefix(chunks[i].Text, "[Constitution] Section ") {
			t.Errorf("chunk %d: missing label prefix: %q", i, chunks[i].Text)
		}
		if chunks[i].Source != "Constitution" {
			t.Errorf("chunk %d: want source Constitution, got %q", i, chunks[i].Source)
		}
	}
}

func Test_Split_DropsShortAndExcludedFragments(t *testing.T) {
	t.Parallel()
	text := `ARRANGEMENT OF SECTIONS
Section 1. Short.
Section 2. Arrangement of sections continues with a long list of headings here.
Section 3. Every citizen has the right to freedom of thought and conscience.`

	chunks := collect(text, Source{Name: "c", Label: "L"})
	if len(chunks) != 1 {
		t.Fatalf("want 1 chunk, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].ID != "c_0" {
		t.Errorf("retained chunk should be numbered from 0, got %s", chunks[0].ID)
	}
	if !strings.Contains(chunks[0].Text, "freedom of thought") {
		t.Errorf("wrong chunk retained: %q", chunks[0].Text)
	}
}

func Test_Split_NoChunkBelowMinimum(t *testing.T) {
	t.Parallel()
	text := "Section 1. abc\nSection 2. " + strings.Repeat("x", 50) + "\nSection 3. " + strings.Repeat("é", 40)

	for _, minChars := range []int{10, 30, 45, 60} {
		src := Source{Name: "d", Label: "D", MinChars: minChars}
		for c := range Split(text, src) {
			body := strings.TrimPrefix(c.Text, "[D] ")
			if n := utf8.RuneCountInString(body); n < minChars {
				t.Errorf("min %d: chunk %s has %d chars", minChars, c.ID, n)
			}
		}
	}
}

func Test_Split_ConcatenationReconstructsContent(t *testing.T) {
	t.Parallel()
	text := Clean("Section 1. The first   provision runs here.\r\n\n\n\nSection 2. The second provision has text.\n\nSection 3. The third and final provision of the act.")

	var parts []string
	for c := range Split(text, Source{Name: "a", Label: "Act", MinChars: 1}) {
		parts = append(parts, strings.TrimPrefix(c.Text, "[Act] "))
	}

	got := strings.Fields(strings.Join(parts, " "))
	want := strings.Fields(text)
	if !slices.Equal(got, want) {
		t.Errorf("concatenation mismatch:\n got %v\nwant %v", got, want)
	}
}

func Test_Split_NumberedStrategy(t *testing.T) {
	t.Parallel()
	text := `CRIMINAL CODE
1. Any person who unlawfully kills another is guilty of an offence.
2. Any person who steals anything capable of being stolen is guilty of theft.
This line mentions item 3. but is not a boundary.`

	chunks := collect(text, Source{Name: "cc", Label: "Criminal Code", Strategy: StrategyNumbered})
	if len(chunks) != 2 {
		t.Fatalf("want 2 chunks, got %d", len(chunks))
	}
	if !strings.Contains(chunks[1].Text, "not a boundary") {
		t.Errorf("unit should run to the next boundary or end of text: %q", chunks[1].Text)
	}
}

func Test_Split_IsRestartable(t *testing.T) {
	t.Parallel()
	seq := Split(threeSections, Source{Name: "doc"})
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !slices.Equal(first, second) {
		t.Error("re-iterating the sequence should re-parse to the same chunks")
	}

	n := 0
	for range seq {
		n++
		break
	}
	if n != 1 {
		t.Errorf("early break should stop iteration, got %d", n)
	}
}

func Test_Clean(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "escape characters", in: `Section 1.\ The law`, want: "Section 1. The law"},
		{name: "non-breaking spaces", in: "a\u00a0b\u202fc", want: "a b c"},
		{name: "blank line runs", in: "a\n\n\n\nb\n \n\t\nc", want: "a\n\nb\n\nc"},
		{name: "carriage returns and form feeds", in: "a\r\n\fb", want: "a\nb"},
		{name: "single newline kept", in: "a\nb", want: "a\nb"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Clean(tc.in); got != tc.want {
				t.Errorf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func Test_Read_MissingFileIsMissingSource(t *testing.T) {
	t.Parallel()
	_, err := Read(filepath.Join(t.TempDir(), "absent.txt"))
	if !errors.Is(err, rag.ErrMissingSource) {
		t.Fatalf("want ErrMissingSource, got %v", err)
	}
}

func Test_Read_TextFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "law.txt")
	if err := os.WriteFile(path, []byte(threeSections), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != threeSections {
		t.Error("text file content should be returned unchanged")
	}
}

func Test_Read_InvalidPDFIsLoadFailure(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("not a pdf"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Read(path)
	if !errors.Is(err, rag.ErrLoadFailure) {
		t.Fatalf("want ErrLoadFailure, got %v", err)
	}
}

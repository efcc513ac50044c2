package chunker

import (
	"strings"
	"testing"

	"github.com/valpere/turjuman/internal/domain"
)

func TestSplit_EmptyDocument(t *testing.T) {
	if _, err := Split("", 100); err != ErrEmptyDocument {
		t.Errorf("expected ErrEmptyDocument, got %v", err)
	}
	if _, err := Split("   \n\t  ", 100); err != ErrEmptyDocument {
		t.Errorf("expected ErrEmptyDocument for whitespace-only input, got %v", err)
	}
}

func TestSplit_SingleChunk(t *testing.T) {
	doc := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."

	chunks, err := Split(doc, 4000)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].SourceText != doc {
		t.Errorf("chunk text differs from document")
	}
	if chunks[0].Index != 0 {
		t.Errorf("expected index 0, got %d", chunks[0].Index)
	}
	if chunks[0].Status != domain.ChunkPending {
		t.Errorf("expected pending status, got %s", chunks[0].Status)
	}
}

func TestSplit_PrefersParagraphBoundary(t *testing.T) {
	doc := "First paragraph with some words.\n\nSecond paragraph with more words in it."

	chunks, err := Split(doc, 50)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].SourceText, "\n\n") {
		t.Errorf("expected first chunk to end at paragraph boundary, got %q", chunks[0].SourceText)
	}
	if strings.HasPrefix(chunks[1].SourceText, "\n") {
		t.Errorf("boundary whitespace leaked into the next chunk: %q", chunks[1].SourceText)
	}
}

func TestSplit_SentenceBoundaryFallback(t *testing.T) {
	// A single paragraph forces the sentence-end rule.
	doc := "One sentence here. Another sentence follows it. And one more keeps the text going past the limit."

	chunks, err := Split(doc, 50)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	first := chunks[0].SourceText
	trimmed := strings.TrimRight(first, " ")
	if !strings.HasSuffix(trimmed, ".") {
		t.Errorf("expected first chunk to end after a sentence, got %q", first)
	}
	// The space after the period belongs to the preceding chunk.
	if first == trimmed {
		t.Errorf("expected trailing whitespace to stay with the chunk, got %q", first)
	}
}

func TestSplit_HardCutOversizedWord(t *testing.T) {
	doc := strings.Repeat("x", 120)

	chunks, err := Split(doc, 50)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks[:2] {
		if got := len([]rune(c.SourceText)); got != 50 {
			t.Errorf("chunk %d: expected 50 runes, got %d", i, got)
		}
	}
}

func TestSplit_RespectsMaxRunes(t *testing.T) {
	doc := strings.Repeat("Це довге українське речення з багатьма словами. ", 40)

	chunks, err := Split(doc, 100)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	for _, c := range chunks {
		if n := len([]rune(c.SourceText)); n > 100 {
			t.Errorf("chunk %d exceeds limit: %d runes", c.Index, n)
		}
	}
}

func TestSplit_RoundTrip(t *testing.T) {
	docs := map[string]string{
		"paragraphs": "Alpha.\n\nBeta gamma delta.\n\n\nEpsilon.\n",
		"crlf":       "Alpha beta.\r\n\r\nGamma delta epsilon zeta eta theta.\r\n",
		"unicode":    strings.Repeat("Мова їжака — це загадка. ", 30),
		"no-breaks":  strings.Repeat("word ", 100),
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			chunks, err := Split(doc, 60)
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}
			if got := SourceDocument(chunks); got != doc {
				t.Errorf("source reconstruction differs:\n got %q\nwant %q", got, doc)
			}
		})
	}
}

func TestSplit_Idempotent(t *testing.T) {
	doc := "Short one.\n\nAnother short one."

	chunks, err := Split(doc, 4000)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	again, err := Split(chunks[0].SourceText, 4000)
	if err != nil {
		t.Fatalf("re-Split failed: %v", err)
	}
	if len(again) != 1 || again[0].SourceText != chunks[0].SourceText {
		t.Errorf("splitting a chunk again changed it")
	}
}

func TestAssemble_IdentityRoundTrip(t *testing.T) {
	doc := "First paragraph.\n\nSecond paragraph continues here. It has two sentences.\n\nThird."

	chunks, err := Split(doc, 40)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	// Identity translation: output equals input.
	for i := range chunks {
		chunks[i].TranslatedText = chunks[i].SourceText
		chunks[i].Status = domain.ChunkTranslated
	}
	if got := Assemble(chunks); got != doc {
		t.Errorf("identity round trip differs:\n got %q\nwant %q", got, doc)
	}
}

func TestAssemble_OrdersByIndexAndPrefersRefined(t *testing.T) {
	chunks := []domain.Chunk{
		{Index: 2, TranslatedText: "c"},
		{Index: 0, TranslatedText: "A", RefinedText: "a"},
		{Index: 1, TranslatedText: "b"},
	}
	if got := Assemble(chunks); got != "abc" {
		t.Errorf("expected %q, got %q", "abc", got)
	}
}

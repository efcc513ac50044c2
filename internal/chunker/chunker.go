// Package chunker splits a document into ordered, boundary-respecting
// segments sized for a single generation call, and reassembles translated
// segments in index order.
//
// Splitting is whitespace-preserving: every chunk keeps its own boundary
// bytes, so concatenating the chunks' source text in index order
// reconstructs the input byte for byte. That invariant is what makes the
// identity round trip (split, translate-as-identity, assemble) exact.
package chunker

import (
	"errors"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/valpere/turjuman/internal/domain"
)

// ErrEmptyDocument is returned when there is nothing to split.
var ErrEmptyDocument = errors.New("chunker: document is empty")

// Split cuts document into chunks of at most maxChunkSize runes each.
// Cut points are chosen (in order of preference) at:
//  1. Paragraph boundaries (\n\n or \r\n\r\n)
//  2. Sentence-ending punctuation followed by whitespace
//  3. Whitespace (word boundary)
//  4. A hard cut at maxChunkSize when a single unit exceeds the limit
//
// Boundary whitespace stays attached to the chunk preceding it.
// If maxChunkSize ≤ 0, domain.DefaultMaxChunkSize is used.
func Split(document string, maxChunkSize int) ([]domain.Chunk, error) {
	if strings.TrimSpace(document) == "" {
		return nil, ErrEmptyDocument
	}
	if maxChunkSize <= 0 {
		maxChunkSize = domain.DefaultMaxChunkSize
	}

	var chunks []domain.Chunk
	remaining := document
	for utf8.RuneCountInString(remaining) > maxChunkSize {
		cut := splitPoint(remaining, maxChunkSize)
		chunks = append(chunks, domain.Chunk{
			Index:      len(chunks),
			SourceText: remaining[:cut],
			Status:     domain.ChunkPending,
		})
		remaining = remaining[cut:]
	}
	if remaining != "" {
		chunks = append(chunks, domain.Chunk{
			Index:      len(chunks),
			SourceText: remaining,
			Status:     domain.ChunkPending,
		})
	}
	return chunks, nil
}

// splitPoint returns the byte offset at which to cut text so that the
// consumed part holds at most maxChars runes. It searches backwards from
// the limit for the best boundary.
func splitPoint(text string, maxChars int) int {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return len(text)
	}

	// Byte offset of each rune in the candidate prefix, plus the end.
	offsets := make([]int, maxChars+1)
	pos := 0
	for i := 0; i < maxChars; i++ {
		offsets[i] = pos
		pos += utf8.RuneLen(runes[i])
	}
	offsets[maxChars] = pos
	candidate := text[:pos]

	// 1. Paragraph boundary, trailing newlines included.
	best := -1
	if idx := strings.LastIndex(candidate, "\r\n\r\n"); idx > 0 {
		best = idx + 4
	}
	if idx := strings.LastIndex(candidate, "\n\n"); idx > 0 && idx+2 > best {
		best = idx + 2
	}
	if best > 0 {
		return best
	}

	// 2. Sentence-ending punctuation followed by whitespace; the
	// whitespace run is consumed into the current chunk.
	for i := maxChars - 2; i > 0; i-- {
		if isSentenceEnd(runes[i]) && unicode.IsSpace(runes[i+1]) {
			return offsets[consumeSpace(runes, i+1, maxChars)]
		}
	}

	// 3. Whitespace word boundary.
	for i := maxChars - 1; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return offsets[consumeSpace(runes, i, maxChars)]
		}
	}

	// 4. Hard cut.
	return offsets[maxChars]
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// consumeSpace extends i through the whitespace run, staying within limit.
func consumeSpace(runes []rune, i, limit int) int {
	for i < limit && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

// Assemble concatenates the chunks' final text (refined when present,
// otherwise translated) in index order. No separator is added: boundary
// whitespace lives inside the chunk text, so the output is structurally
// isomorphic to the input document.
func Assemble(chunks []domain.Chunk) string {
	ordered := make([]domain.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var sb strings.Builder
	for i := range ordered {
		sb.WriteString(ordered[i].FinalText())
	}
	return sb.String()
}

// SourceDocument reconstructs the original document from the chunks.
func SourceDocument(chunks []domain.Chunk) string {
	ordered := make([]domain.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var sb strings.Builder
	for i := range ordered {
		sb.WriteString(ordered[i].SourceText)
	}
	return sb.String()
}

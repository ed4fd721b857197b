package chunker

import (
	"fmt"
	"strings"

	apperr "askdoc/internal/pkg/errors"
)

// terminators are tried in this fixed priority order; within the first
// pattern that matches, the rightmost occurrence wins.
var terminators = []string{". ", ".\n", "! ", "!\n", "? ", "?\n"}

// boundaryScanWindow bounds how far back from the hard cut a sentence
// terminator is searched for. Cuts beyond it fall back to the hard boundary.
const boundaryScanWindow = 100

// Chunker splits raw text into overlapping segments that prefer to end on a
// sentence boundary when one is cheap to find.
type Chunker struct {
	chunkSize int
	overlap   int
}

// New validates the sizing up front: an overlap reaching the chunk size
// would stall the scan forever.
func New(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk_size %d must be positive", apperr.ErrInvalidConfig, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", apperr.ErrInvalidConfig, overlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

func (c *Chunker) ChunkSize() int { return c.chunkSize }
func (c *Chunker) Overlap() int   { return c.overlap }

// Chunk returns the ordered, trimmed, non-empty segments of text. Texts no
// longer than the chunk size come back as a single trimmed chunk.
func (c *Chunker) Chunk(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= c.chunkSize {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.chunkSize
		if end < len(text) {
			end = c.boundaryBefore(text, start, end)
		} else {
			end = len(text)
		}
		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(text) {
			break
		}
		next := end - c.overlap
		if next <= start {
			// Degenerate boundary right at the window start; give up the
			// overlap for this step rather than looping.
			next = end
		}
		start = next
	}
	return chunks
}

// boundaryBefore moves the tentative cut at end back to just after the best
// sentence terminator inside the scan window, or keeps the hard cut when
// none exists.
func (c *Chunker) boundaryBefore(text string, start, end int) int {
	searchStart := end - boundaryScanWindow
	if searchStart < start {
		searchStart = start
	}
	window := text[searchStart:end]
	for _, term := range terminators {
		if pos := strings.LastIndex(window, term); pos >= 0 {
			return searchStart + pos + len(term)
		}
	}
	return end
}

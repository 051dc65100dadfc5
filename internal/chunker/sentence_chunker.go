package chunker

import (
	"unicode/utf8"

	"github.com/benkoppe/sustainabotily/internal/domain"
)

// SentenceChunker cuts the same character windows as FixedChunker but ends
// each window on the last sentence boundary inside it. A window with no usable
// boundary is cut at the chunk size. Consecutive chunks share exactly overlap
// characters, so Reconstruct applies unchanged.
type SentenceChunker struct {
	chunkSize int
	overlap   int
}

// NewSentenceChunker creates a sentence-aware chunker. Invalid sizes fall
// back to the defaults and an overlap of at least the chunk size is clamped
// to a quarter of it, as for New.
func NewSentenceChunker(chunkSize, overlap int) *SentenceChunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &SentenceChunker{chunkSize: chunkSize, overlap: overlap}
}

// ChunkSize returns the configured chunk size.
func (c *SentenceChunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap.
func (c *SentenceChunker) Overlap() int { return c.overlap }

// Chunk splits the document. Empty documents yield no chunks.
func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	text := document.RawText
	if text == "" {
		return nil, nil
	}
	offsets := runeOffsets(text)
	n := len(offsets) - 1
	ends := sentenceEnds(text, offsets)

	var chunks []domain.Chunk
	next := 0
	for start, idx := 0, 0; ; idx++ {
		end := min(start+c.chunkSize, n)
		if end < n {
			for next < len(ends) && ends[next] <= end {
				next++
			}
			// The boundary must leave room for the overlap, otherwise the
			// window would not advance.
			if next > 0 && ends[next-1] > start+c.overlap {
				end = ends[next-1]
			}
		}
		chunks = append(chunks, newChunk(document, idx, text[offsets[start]:offsets[end]]))
		if end == n {
			break
		}
		start = end - c.overlap
	}
	return chunks, nil
}

// sentenceEnds returns, in ascending order, the rune positions just after
// every sentence terminator or line break.
func sentenceEnds(text string, offsets []int) []int {
	var ends []int
	for i := range len(offsets) - 1 {
		r, _ := utf8.DecodeRuneInString(text[offsets[i]:])
		switch r {
		case '.', '!', '?', '\n':
			ends = append(ends, i+1)
		}
	}
	return ends
}

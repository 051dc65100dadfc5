package chunker

import (
	"strconv"
	"strings"

	"github.com/benkoppe/sustainabotily/internal/domain"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 512

// DefaultOverlap is the default number of characters shared by consecutive chunks.
const DefaultOverlap = 20

// FixedChunker splits text into fixed-size character windows with overlap.
// Sizes count runes, so multi-byte text is never split inside a character,
// and chunk text is always a byte-exact slice of the document.
type FixedChunker struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker.
type Option func(*FixedChunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *FixedChunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *FixedChunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a fixed-size chunker.
func New(opts ...Option) *FixedChunker {
	c := &FixedChunker{chunkSize: DefaultChunkSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// ChunkSize returns the configured chunk size.
func (c *FixedChunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap.
func (c *FixedChunker) Overlap() int { return c.overlap }

// Chunk splits the document. A document shorter than the chunk size yields a
// single chunk holding the whole text; an empty document yields none.
func (c *FixedChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	text := document.RawText
	if text == "" {
		return nil, nil
	}
	offsets := runeOffsets(text)
	n := len(offsets) - 1
	step := c.chunkSize - c.overlap
	chunks := make([]domain.Chunk, 0, n/step+1)
	for start, idx := 0, 0; ; idx++ {
		end := min(start+c.chunkSize, n)
		chunks = append(chunks, newChunk(document, idx, text[offsets[start]:offsets[end]]))
		if end == n {
			break
		}
		start += step
	}
	return chunks, nil
}

func newChunk(document domain.Document, idx int, text string) domain.Chunk {
	return domain.Chunk{
		ChunkID:    document.ID + ":" + strconv.Itoa(idx),
		DocumentID: document.ID,
		Text:       text,
		Ordinal:    idx,
	}
}

// runeOffsets returns the byte offset of every rune in s followed by len(s).
// An invalid byte counts as one rune, so slicing at these offsets keeps the
// source bytes intact.
func runeOffsets(s string) []int {
	offsets := make([]int, 0, len(s)+1)
	for i := range s {
		offsets = append(offsets, i)
	}
	return append(offsets, len(s))
}

// Reconstruct joins one document's chunks in ordinal order, dropping the
// leading overlap of every chunk after the first.
func Reconstruct(chunks []domain.Chunk, overlap int) string {
	var b strings.Builder
	for i, ch := range chunks {
		text := ch.Text
		if i > 0 {
			offsets := runeOffsets(text)
			text = text[offsets[min(overlap, len(offsets)-1)]:]
		}
		b.WriteString(text)
	}
	return b.String()
}

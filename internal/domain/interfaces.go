package domain

import "context"

// Document represents a single crawled text file loaded from the corpus directory.
type Document struct {
	ID         string
	SourcePath string
	RawText    string
}

// Chunk is a contiguous span of a document used as the unit of embedding and retrieval.
type Chunk struct {
	ChunkID    string
	DocumentID string
	Text       string
	Ordinal    int
}

// SearchResult represents a matching chunk with its similarity score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a session transcript.
// Error is set on assistant turns whose generation did not complete.
type Turn struct {
	Role  Role   `json:"role"`
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Failed reports whether the turn carries an error indication.
func (t Turn) Failed() bool { return t.Error != "" }

// Embedder converts free text into a fixed-length vector.
// Identical input must produce identical output for one model version.
type Embedder interface {
	Name() string
	// Dimension returns the vector size, or 0 if not known until the first call.
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// FragmentStream is a finite, forward-only, single-consumer sequence of text
// fragments. Recv returns io.EOF once the sequence is exhausted.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// Generator is the language model capability.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt Prompt) (FragmentStream, error)
}

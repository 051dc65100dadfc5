package service

import (
	"context"
	"fmt"
	"time"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/metrics"
	"github.com/benkoppe/sustainabotily/internal/vectorstore"
)

// DefaultTopK is the number of chunks retrieved when k <= 0.
const DefaultTopK = 5

// Retriever embeds a query and looks up the most similar chunks.
// It performs no retries; retry policy belongs to the embedder.
type Retriever struct {
	embedder domain.Embedder
	index    vectorstore.Searcher
}

// NewRetriever creates a retriever over a read-only index.
func NewRetriever(embedder domain.Embedder, index vectorstore.Searcher) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve returns the top k chunks for query, most similar first.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.Chunk, error) {
	res, err := r.Search(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Chunk, len(res))
	for i, sr := range res {
		out[i] = sr.Chunk
	}
	return out, nil
}

// Search is Retrieve with similarity scores.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	start := time.Now()
	defer func() { metrics.RetrievalDuration.Observe(time.Since(start).Seconds()) }()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", asEmbeddingError(err))
	}
	res, err := r.index.Query(vec, k)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return res, nil
}

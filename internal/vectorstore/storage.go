package vectorstore

import "github.com/benkoppe/sustainabotily/internal/domain"

// MetricCosine is the only similarity metric the index supports.
const MetricCosine = "cosine"

// Searcher answers similarity queries over an immutable set of embedded chunks.
type Searcher interface {
	Query(vector []float32, k int) ([]domain.SearchResult, error)
	Len() int
	Dimension() int
}

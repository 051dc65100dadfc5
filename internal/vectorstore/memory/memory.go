package memory

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/vectorstore"
)

// DefaultTopK is used when a query asks for k <= 0.
const DefaultTopK = 5

// Index is an in-memory vector index using brute-force cosine similarity.
// Entries keep their insertion order, which breaks ties between equal scores.
type Index struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	norms     []float64
	chunks    []domain.Chunk
}

// Entry is one (chunk, vector) pair in insertion order.
type Entry struct {
	Chunk  domain.Chunk
	Vector []float32
}

// NewIndex creates an empty index for vectors of the given dimension.
func NewIndex(dimension int) (*Index, error) {
	if dimension <= 0 {
		return nil, errors.New("invalid dimension")
	}
	return &Index{dimension: dimension}, nil
}

// Add appends chunks with their vectors. Vectors are copied.
func (s *Index) Add(chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	for i, v := range vectors {
		if len(v) != s.dimension {
			return fmt.Errorf("vector %d has dimension %d, index expects %d", i, len(v), s.dimension)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range vectors {
		s.chunks = append(s.chunks, chunks[i])
		s.vectors = append(s.vectors, slices.Clone(v))
		s.norms = append(s.norms, norm(v))
	}
	return nil
}

// Query returns the k most similar chunks, descending by cosine similarity.
// k <= 0 means DefaultTopK; k larger than the index returns every entry.
func (s *Index) Query(vector []float32, k int) ([]domain.SearchResult, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index expects %d", len(vector), s.dimension)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = DefaultTopK
	}
	qn := norm(vector)
	scores := make([]float64, len(s.vectors))
	for i := range s.vectors {
		scores[i] = cosine(s.vectors[i], s.norms[i], vector, qn)
	}
	idxs := argsortDesc(scores)
	if k > len(idxs) {
		k = len(idxs)
	}
	results := make([]domain.SearchResult, 0, k)
	for _, j := range idxs[:k] {
		results = append(results, domain.SearchResult{Chunk: s.chunks[j], Score: scores[j]})
	}
	return results, nil
}

// Len returns the number of indexed chunks.
func (s *Index) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Dimension returns the vector dimension.
func (s *Index) Dimension() int { return s.dimension }

// Metric returns the similarity metric name.
func (s *Index) Metric() string { return vectorstore.MetricCosine }

// Entries returns all pairs in insertion order.
func (s *Index) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.chunks))
	for i := range s.chunks {
		out[i] = Entry{Chunk: s.chunks[i], Vector: slices.Clone(s.vectors[i])}
	}
	return out
}

// Chunks returns the indexed chunks in insertion order.
func (s *Index) Chunks() []domain.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chunks)
}

func norm(v []float32) float64 {
	sum := 0.0
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	sum := 0.0
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum / (an * bn)
}

// argsortDesc orders indexes by descending value; equal values keep ascending index order.
func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	slices.SortStableFunc(idxs, func(a, b int) int { return cmp.Compare(vals[b], vals[a]) })
	return idxs
}

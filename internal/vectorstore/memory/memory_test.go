package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/vectorstore"
)

var _ vectorstore.Searcher = (*Index)(nil)

func chunks(n int) []domain.Chunk {
	out := make([]domain.Chunk, n)
	for i := range out {
		out[i] = domain.Chunk{ChunkID: fmt.Sprintf("d:%d", i), DocumentID: "d", Text: fmt.Sprintf("chunk %d", i), Ordinal: i}
	}
	return out
}

func TestNewIndex_InvalidDimension(t *testing.T) {
	_, err := NewIndex(0)
	assert.Error(t, err)
}

func TestAdd_Mismatch(t *testing.T) {
	idx, err := NewIndex(2)
	require.NoError(t, err)

	assert.Error(t, idx.Add(chunks(2), [][]float32{{1, 0}}))
	assert.Error(t, idx.Add(chunks(1), [][]float32{{1, 0, 0}}))
	assert.Equal(t, 0, idx.Len())
}

func TestQuery_SortedDescending(t *testing.T) {
	idx, err := NewIndex(2)
	require.NoError(t, err)
	require.NoError(t, idx.Add(chunks(3), [][]float32{{0, 1}, {1, 0}, {1, 1}}))

	res, err := idx.Query([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "d:1", res[0].Chunk.ChunkID)
	assert.Equal(t, "d:2", res[1].Chunk.ChunkID)
	assert.Equal(t, "d:0", res[2].Chunk.ChunkID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
}

func TestQuery_TiesBreakByInsertionOrder(t *testing.T) {
	idx, err := NewIndex(2)
	require.NoError(t, err)
	vecs := make([][]float32, 8)
	for i := range vecs {
		vecs[i] = []float32{0.6, 0.8}
	}
	require.NoError(t, idx.Add(chunks(8), vecs))

	res, err := idx.Query([]float32{1, 0}, 8)
	require.NoError(t, err)
	for i, r := range res {
		assert.Equal(t, i, r.Chunk.Ordinal)
	}
}

func TestQuery_KBounds(t *testing.T) {
	idx, err := NewIndex(1)
	require.NoError(t, err)
	require.NoError(t, idx.Add(chunks(7), [][]float32{{1}, {1}, {1}, {1}, {1}, {1}, {1}}))

	res, err := idx.Query([]float32{1}, 0)
	require.NoError(t, err)
	assert.Len(t, res, DefaultTopK)

	res, err = idx.Query([]float32{1}, 100)
	require.NoError(t, err)
	assert.Len(t, res, 7)
}

func TestQuery_DimensionMismatch(t *testing.T) {
	idx, err := NewIndex(3)
	require.NoError(t, err)
	_, err = idx.Query([]float32{1}, 1)
	assert.Error(t, err)
}

func TestQuery_ZeroVectorScoresZero(t *testing.T) {
	idx, err := NewIndex(2)
	require.NoError(t, err)
	require.NoError(t, idx.Add(chunks(2), [][]float32{{0, 0}, {1, 0}}))

	res, err := idx.Query([]float32{0, 0}, 2)
	require.NoError(t, err)
	assert.Zero(t, res[0].Score)
	assert.Equal(t, "d:0", res[0].Chunk.ChunkID)
}

func TestEntries_CopiesInput(t *testing.T) {
	idx, err := NewIndex(2)
	require.NoError(t, err)
	v := []float32{1, 2}
	require.NoError(t, idx.Add(chunks(1), [][]float32{v}))
	v[0] = 99

	entries := idx.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, []float32{1, 2}, entries[0].Vector)
	assert.Equal(t, vectorstore.MetricCosine, idx.Metric())
	assert.Equal(t, 2, idx.Dimension())
	assert.Len(t, idx.Chunks(), 1)
}

func TestEntries_ReturnsCopies(t *testing.T) {
	idx, err := NewIndex(2)
	require.NoError(t, err)
	require.NoError(t, idx.Add(chunks(1), [][]float32{{1, 0}}))

	entries := idx.Entries()
	entries[0].Vector[0] = -1

	assert.Equal(t, []float32{1, 0}, idx.Entries()[0].Vector)
	res, err := idx.Query([]float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
}

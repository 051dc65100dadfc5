package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/benkoppe/sustainabotily/internal/config"
	"github.com/benkoppe/sustainabotily/internal/domain"
)

type lazyEmbedder struct {
	calls int
	err   error
}

func (l *lazyEmbedder) Name() string   { return "lazy" }
func (l *lazyEmbedder) Dimension() int { return 0 }
func (l *lazyEmbedder) Embed(context.Context, string) ([]float32, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return make([]float32, 3), nil
}

func TestNew(t *testing.T) {
	e, err := New(config.EmbedderConfig{Type: "hashing", Hashing: &config.HashingEmbedderConfig{Dimension: 32}}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "hashing", e.Name())
	assert.Equal(t, 32, e.Dimension())

	e, err = New(config.EmbedderConfig{Type: "openai"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "openai:nomic-embed-text", e.Name())

	_, err = New(config.EmbedderConfig{Type: "word2vec"}, zap.NewNop())
	assert.Error(t, err)
}

func TestProbe(t *testing.T) {
	l := &lazyEmbedder{}
	d, err := Probe(context.Background(), l)
	require.NoError(t, err)
	assert.Equal(t, 3, d)
	assert.Equal(t, 1, l.calls)

	failing := &lazyEmbedder{err: errors.Join(domain.ErrEmbeddingService, errors.New("down"))}
	_, err = Probe(context.Background(), failing)
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)

	d, err = Probe(context.Background(), nopDim{})
	require.NoError(t, err)
	assert.Equal(t, 7, d)
}

type nopDim struct{}

func (nopDim) Name() string   { return "fixed" }
func (nopDim) Dimension() int { return 7 }
func (nopDim) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("must not be called")
}

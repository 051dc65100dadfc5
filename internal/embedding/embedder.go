package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/benkoppe/sustainabotily/internal/config"
	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/embedding/hashing"
	"github.com/benkoppe/sustainabotily/internal/embedding/openai"
)

// New builds the embedder selected by the configuration.
func New(cfg config.EmbedderConfig, logger *zap.Logger) (domain.Embedder, error) {
	switch cfg.Type {
	case "openai":
		oc := cfg.OpenAI
		if oc == nil {
			oc = &config.OpenAIEmbedderConfig{}
		}
		return openai.NewClient(openai.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			Model:      oc.Model,
			Dimensions: oc.Dimensions,
			Timeout:    time.Duration(oc.TimeoutSecs) * time.Second,
			MaxRetries: oc.MaxRetries,
			Logger:     logger,

			RequestsPerSecond: oc.RequestsPerSecond,
		})
	case "hashing":
		dim := 0
		if cfg.Hashing != nil {
			dim = cfg.Hashing.Dimension
		}
		return hashing.NewEmbedder(dim), nil
	default:
		return nil, fmt.Errorf("unknown embedder type: %s", cfg.Type)
	}
}

// Probe returns the embedder's dimension, embedding a short text once when
// the embedder does not know it yet.
func Probe(ctx context.Context, e domain.Embedder) (int, error) {
	if d := e.Dimension(); d > 0 {
		return d, nil
	}
	v, err := e.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("probe embedder %s: %w", e.Name(), err)
	}
	return len(v), nil
}

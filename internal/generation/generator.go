package generation

import (
	"fmt"
	"time"

	"github.com/benkoppe/sustainabotily/internal/config"
	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/generation/extractive"
	"github.com/benkoppe/sustainabotily/internal/generation/openai"
)

// New builds the generator selected by the configuration. sentences bounds
// the answers of the extractive generator.
func New(cfg config.GeneratorConfig, sentences int) (domain.Generator, error) {
	switch cfg.Type {
	case "openai":
		oc := cfg.OpenAI
		if oc == nil {
			oc = &config.OpenAIGeneratorConfig{}
		}
		return openai.New(openai.Config{
			BaseURL:     oc.BaseURL,
			APIKeyEnv:   oc.APIKeyEnv,
			Model:       oc.Model,
			Temperature: oc.Temperature,
			Timeout:     time.Duration(oc.TimeoutSecs) * time.Second,
		})
	case "extractive":
		return extractive.New(sentences), nil
	default:
		return nil, fmt.Errorf("unknown generator type: %s", cfg.Type)
	}
}

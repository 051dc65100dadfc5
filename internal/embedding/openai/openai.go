package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/metrics"
)

// Defaults target a local Ollama server through its OpenAI-compatible API.
const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "nomic-embed-text"
)

// Client is an OpenAI-compatible embeddings client implementing domain.Embedder.
type Client struct {
	client     *openai.Client
	model      string
	dimensions int
	dimension  atomic.Int64
	maxRetries int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	// Dimensions requests a vector size from the server; 0 leaves it to the model.
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
	// RequestsPerSecond throttles requests, which matters when a whole corpus
	// is embedded against a hosted API. 0 disables throttling.
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// NewClient creates a new embeddings client using the provided configuration.
// An empty APIKeyEnv is allowed for servers that do not check keys (Ollama).
func NewClient(cfg Config) (*Client, error) {
	key := "ollama"
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	clientCfg := openai.DefaultConfig(key)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: t}

	c := &Client{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxRetries: cfg.MaxRetries,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     cfg.Logger,
	}
	if cfg.Dimensions > 0 {
		c.dimension.Store(int64(cfg.Dimensions))
	}
	return c, nil
}

// Name returns the embedding model identifier.
func (c *Client) Name() string { return "openai:" + c.model }

// Dimension returns the vector size, learned from the first response when not configured.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

// Embed returns an embedding vector for the given text.
// Transient failures (429, 5xx, transport errors) are retried with backoff.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(c.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("embedding cancelled: %w: %w", ctx.Err(), domain.ErrEmbeddingService)
			case <-time.After(retryDelay(attempt - 1)):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embedding throttled: %w: %w", err, domain.ErrEmbeddingService)
		}

		start := time.Now()
		resp, err := c.client.CreateEmbeddings(ctx, req)
		if err != nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, "error").Inc()
			metrics.EmbeddingErrorsTotal.WithLabelValues(c.model, "api_error").Inc()
			lastErr = err
			if retryable(err) && ctx.Err() == nil {
				c.logger.Debug("Embedding request failed, retrying",
					zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			return nil, parseAPIError(err)
		}
		metrics.EmbeddingRequestDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds())

		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, "error").Inc()
			metrics.EmbeddingErrorsTotal.WithLabelValues(c.model, "empty_response").Inc()
			return nil, fmt.Errorf("empty embedding response: %w", domain.ErrEmbeddingService)
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, "success").Inc()

		v := resp.Data[0].Embedding
		if c.dimensions > 0 && len(v) != c.dimensions {
			return nil, fmt.Errorf("embedding has %d dimensions, configured %d: %w",
				len(v), c.dimensions, domain.ErrEmbeddingService)
		}
		c.dimension.CompareAndSwap(0, int64(len(v)))
		return v, nil
	}
	return nil, parseAPIError(lastErr)
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// parseAPIError wraps every provider failure with domain.ErrEmbeddingService.
func parseAPIError(err error) error {
	wrap := domain.ErrEmbeddingService

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}
	return fmt.Errorf("embedding request failed: %v: %w", err, wrap)
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

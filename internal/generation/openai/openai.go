// Package openai streams chat completions from an OpenAI-compatible API
// (Groq by default).
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/benkoppe/sustainabotily/internal/domain"
)

// Ensure Generator implements the interface.
var _ domain.Generator = (*Generator)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "llama-3.1-8b-instant"
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the chat model.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float32
	// Timeout bounds a whole streamed response.
	Timeout time.Duration
}

// Generator streams answers from a chat completion endpoint.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float32
}

// New creates a generator. The API key is read from cfg.APIKeyEnv.
func New(cfg Config) (*Generator, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
		}
	}

	clientCfg := openai.DefaultConfig(key)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Generator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (g *Generator) Name() string { return g.model }

// Generate opens a streaming completion for the prompt. Retrieved context
// travels in the system message, followed by memory and the user turn.
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt) (domain.FragmentStream, error) {
	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages(prompt),
		Temperature: g.temperature,
		Stream:      true,
	}
	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrGeneration, describe(err))
	}
	return &fragmentStream{stream: stream}, nil
}

func messages(p domain.Prompt) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(p.Memory)+2)
	out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.SystemMessage()})
	for _, t := range p.Memory {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})
	return out
}

type fragmentStream struct {
	stream *openai.ChatCompletionStream
}

// Recv skips chunks without content (role headers, finish markers, usage).
func (s *fragmentStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", describe(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if c := resp.Choices[0].Delta.Content; c != "" {
			return c, nil
		}
	}
}

func (s *fragmentStream) Close() error { return s.stream.Close() }

func describe(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("chat API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("chat API error %d: %s", reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	return err
}

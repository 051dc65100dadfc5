package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Index modes.
const (
	ModeBuild = "build"
	ModeLoad  = "load"
)

// CorpusConfig points at the crawler output directory.
type CorpusConfig struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
}

// ChunkerConfig configures how documents are split into chunks. Sizes count
// characters; the sentence chunker also prefers to end chunks on sentences.
type ChunkerConfig struct {
	Type      string `yaml:"type"` // fixed, sentence
	ChunkSize int    `yaml:"chunk_size"`
	Overlap   int    `yaml:"overlap"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	Dimensions  int    `yaml:"dimensions"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
	// RequestsPerSecond throttles embedding calls; 0 means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// HashingEmbedderConfig configures the offline hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
}

// IndexConfig selects between building and loading the vector index.
type IndexConfig struct {
	Mode     string `yaml:"mode"`
	Snapshot string `yaml:"snapshot"`
	TopK     int    `yaml:"top_k"`
}

// OpenAIGeneratorConfig holds configuration for an OpenAI-compatible chat model.
type OpenAIGeneratorConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// GeneratorConfig selects and configures the generation capability.
type GeneratorConfig struct {
	Type string `yaml:"type"`
	// Subject names the organisation the assistant speaks for.
	Subject string                 `yaml:"subject"`
	OpenAI  *OpenAIGeneratorConfig `yaml:"openai,omitempty"`
}

// MemoryConfig bounds the conversational memory sent with each prompt.
type MemoryConfig struct {
	TokenLimit int `yaml:"token_limit"`
}

// SummarizerConfig configures the corpus digest.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences"`
}

// MetricConfig describes one energy comparison metric.
type MetricConfig struct {
	ID       string  `yaml:"id"`
	Emoji    string  `yaml:"emoji"`
	Template string  `yaml:"template"`
	Scaled   string  `yaml:"scaled"`
	Factor   float64 `yaml:"factor"`
	Unit     string  `yaml:"unit"`
}

// EnergyConfig configures the energy accounting captions.
type EnergyConfig struct {
	Selection  string         `yaml:"selection"`
	Seed       uint64         `yaml:"seed"`
	Multiplier float64        `yaml:"multiplier"`
	Format     string         `yaml:"format"`
	Metrics    []MetricConfig `yaml:"metrics,omitempty"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutSec int    `yaml:"read_timeout_sec"`
	ShutdownSec    int    `yaml:"shutdown_timeout_sec"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // local, dev, prod
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Corpus     CorpusConfig     `yaml:"corpus"`
	Chunker    ChunkerConfig    `yaml:"chunker"`
	Embedder   EmbedderConfig   `yaml:"embedder"`
	Index      IndexConfig      `yaml:"index"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Memory     MemoryConfig     `yaml:"memory"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Energy     EnergyConfig     `yaml:"energy"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// ${VAR} and ${VAR:-default} references are expanded before parsing.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	data = expandEnvVars(data)

	// Keys absent from the file keep this value, so an explicit zero overlap
	// stays distinguishable from an unset one.
	cfg := AppConfig{Chunker: ChunkerConfig{Overlap: unsetOverlap}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/sustainabot/config.yaml.
// If neither exists, it writes defaults to ~/.config/sustainabot/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the configuration for correctness.
func (c *AppConfig) Validate() error {
	switch c.Chunker.Type {
	case "fixed", "sentence":
	default:
		return fmt.Errorf("chunker.type must be \"fixed\" or \"sentence\", got %q", c.Chunker.Type)
	}
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("chunker.overlap must be in [0, %d), got %d", c.Chunker.ChunkSize, c.Chunker.Overlap)
	}
	switch c.Embedder.Type {
	case "openai", "hashing":
	default:
		return fmt.Errorf("embedder.type must be \"openai\" or \"hashing\", got %q", c.Embedder.Type)
	}
	switch c.Index.Mode {
	case ModeBuild, ModeLoad:
	default:
		return fmt.Errorf("index.mode must be %q or %q, got %q", ModeBuild, ModeLoad, c.Index.Mode)
	}
	if c.Index.Snapshot == "" {
		return fmt.Errorf("index.snapshot is required")
	}
	if c.Index.TopK <= 0 {
		return fmt.Errorf("index.top_k must be positive, got %d", c.Index.TopK)
	}
	switch c.Generator.Type {
	case "openai", "extractive":
	default:
		return fmt.Errorf("generator.type must be \"openai\" or \"extractive\", got %q", c.Generator.Type)
	}
	if c.Memory.TokenLimit <= 0 {
		return fmt.Errorf("memory.token_limit must be positive, got %d", c.Memory.TokenLimit)
	}
	switch c.Energy.Selection {
	case "fixed", "cycle", "random":
	default:
		return fmt.Errorf("energy.selection must be \"fixed\", \"cycle\" or \"random\", got %q", c.Energy.Selection)
	}
	switch c.Energy.Format {
	case "duration", "scientific":
	default:
		return fmt.Errorf("energy.format must be \"duration\" or \"scientific\", got %q", c.Energy.Format)
	}
	seen := make(map[string]struct{}, len(c.Energy.Metrics))
	for i, m := range c.Energy.Metrics {
		if m.ID == "" {
			return fmt.Errorf("energy.metrics[%d].id is required", i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("energy.metrics[%d].id %q is duplicated", i, m.ID)
		}
		seen[m.ID] = struct{}{}
		if strings.Count(m.Template, "{value}") != 1 {
			return fmt.Errorf("energy.metrics[%d].template must contain exactly one {value}", i)
		}
		if m.Factor <= 0 {
			return fmt.Errorf("energy.metrics[%d].factor must be positive", i)
		}
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "sustainabot", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Corpus:   CorpusConfig{Dir: "./crawl_output", Pattern: "*.md"},
		Chunker:  ChunkerConfig{Type: "fixed", ChunkSize: 512, Overlap: defaultOverlap},
		Embedder: EmbedderConfig{Type: "openai"},
		Index:    IndexConfig{Mode: ModeLoad, Snapshot: "./storage/index.db", TopK: 5},
		Generator: GeneratorConfig{
			Type: "openai",
		},
		Memory:     MemoryConfig{TokenLimit: 1500},
		Summarizer: SummarizerConfig{MaxSentences: 3},
		Energy:     EnergyConfig{Selection: "fixed", Multiplier: 120_000_000, Format: "duration"},
		HTTP:       HTTPConfig{Addr: ":8080"},
		Logging:    LoggingConfig{Env: "local", Level: "info"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

const (
	defaultOverlap = 20
	unsetOverlap   = math.MinInt32
)

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Corpus.Dir == "" {
		cfg.Corpus.Dir = "./crawl_output"
	}
	if cfg.Corpus.Pattern == "" {
		cfg.Corpus.Pattern = "*.md"
	}
	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "fixed"
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 512
	}
	if cfg.Chunker.Overlap == unsetOverlap {
		cfg.Chunker.Overlap = defaultOverlap
		if cfg.Chunker.Overlap >= cfg.Chunker.ChunkSize {
			cfg.Chunker.Overlap = cfg.Chunker.ChunkSize / 4
		}
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "http://localhost:11434/v1"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "nomic-embed-text"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.MaxRetries == 0 {
			cfg.Embedder.OpenAI.MaxRetries = 5
		}
	}
	if cfg.Embedder.Type == "hashing" {
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 512
		}
	}
	if cfg.Index.Mode == "" {
		cfg.Index.Mode = ModeLoad
	}
	if cfg.Index.Snapshot == "" {
		cfg.Index.Snapshot = "./storage/index.db"
	}
	if cfg.Index.TopK == 0 {
		cfg.Index.TopK = 5
	}
	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "openai"
	}
	if cfg.Generator.Subject == "" {
		cfg.Generator.Subject = "the Cornell Sustainability Office (CSO)"
	}
	if cfg.Generator.Type == "openai" {
		if cfg.Generator.OpenAI == nil {
			cfg.Generator.OpenAI = &OpenAIGeneratorConfig{}
		}
		if cfg.Generator.OpenAI.BaseURL == "" {
			cfg.Generator.OpenAI.BaseURL = "https://api.groq.com/openai/v1"
		}
		if cfg.Generator.OpenAI.APIKeyEnv == "" {
			cfg.Generator.OpenAI.APIKeyEnv = "GROQ_API_KEY"
		}
		if cfg.Generator.OpenAI.Model == "" {
			cfg.Generator.OpenAI.Model = "llama-3.1-8b-instant"
		}
		if cfg.Generator.OpenAI.TimeoutSecs == 0 {
			cfg.Generator.OpenAI.TimeoutSecs = 120
		}
	}
	if cfg.Memory.TokenLimit == 0 {
		cfg.Memory.TokenLimit = 1500
	}
	if cfg.Summarizer.MaxSentences == 0 {
		cfg.Summarizer.MaxSentences = 3
	}
	if cfg.Energy.Selection == "" {
		cfg.Energy.Selection = "fixed"
	}
	if cfg.Energy.Multiplier == 0 {
		cfg.Energy.Multiplier = 120_000_000
	}
	if cfg.Energy.Format == "" {
		cfg.Energy.Format = "duration"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeoutSec <= 0 {
		cfg.HTTP.ReadTimeoutSec = 10
	}
	if cfg.HTTP.ShutdownSec <= 0 {
		cfg.HTTP.ShutdownSec = 10
	}
	if cfg.Logging.Env == "" {
		cfg.Logging.Env = "local"
	}
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

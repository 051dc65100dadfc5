package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/benkoppe/sustainabotily/internal/chat"
	"github.com/benkoppe/sustainabotily/internal/chunker"
	"github.com/benkoppe/sustainabotily/internal/config"
	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/embedding"
	"github.com/benkoppe/sustainabotily/internal/energy"
	"github.com/benkoppe/sustainabotily/internal/generation"
	"github.com/benkoppe/sustainabotily/internal/logger"
	"github.com/benkoppe/sustainabotily/internal/service"
	"github.com/benkoppe/sustainabotily/internal/summarizer"
	"github.com/benkoppe/sustainabotily/internal/vectorstore/memory"
	"github.com/benkoppe/sustainabotily/internal/vectorstore/snapshot"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.AppConfig
	logger    *zap.Logger
	embedder  domain.Embedder
	index     *memory.Index
	meta      snapshot.Meta
	retriever *service.Retriever
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}

// openApp loads the configuration and the index. mode overrides the
// configured index mode when non-nil.
func openApp(ctx context.Context, opts *rootOptions, mode *service.Mode, logFile string) (*app, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logFile != "" && cfg.Logging.File == "" {
		cfg.Logging.File = logFile
	}
	log, err := logger.NewLogger(cfg.Logging.Env, cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return nil, err
	}

	emb, err := embedding.New(cfg.Embedder, log)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	m, err := service.ParseMode(cfg.Index.Mode)
	if err != nil {
		return nil, err
	}
	if opts.rebuild {
		m = service.ModeBuild
	}
	if mode != nil {
		m = *mode
	}

	indexer := service.NewIndexer(service.IndexerConfig{
		CorpusDir:    cfg.Corpus.Dir,
		Pattern:      cfg.Corpus.Pattern,
		SnapshotPath: cfg.Index.Snapshot,
		DigestLength: cfg.Summarizer.MaxSentences,
		Chunker:      newChunker(cfg.Chunker),
		Embedder:     emb,
		Summarizer:   summarizer.NewFrequencySummarizer(),
		Progress:     service.NewProgress(opts.progress && service.DefaultProgressEnabled()),
		Logger:       log,
	})
	log.Info("Opening index",
		zap.String("mode", m.String()),
		zap.String("snapshot", cfg.Index.Snapshot),
		zap.String("embedder", emb.Name()),
	)
	idx, meta, err := indexer.Open(ctx, m)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    log,
		embedder:  emb,
		index:     idx,
		meta:      meta,
		retriever: service.NewRetriever(emb, idx),
	}, nil
}

func newChunker(cfg config.ChunkerConfig) domain.Chunker {
	if cfg.Type == "sentence" {
		return chunker.NewSentenceChunker(cfg.ChunkSize, cfg.Overlap)
	}
	return chunker.New(chunker.WithChunkSize(cfg.ChunkSize), chunker.WithOverlap(cfg.Overlap))
}

// engine wires the chat engine on top of the loaded index.
func (a *app) engine() (*chat.Engine, domain.Generator, error) {
	gen, err := generation.New(a.cfg.Generator, a.cfg.Summarizer.MaxSentences)
	if err != nil {
		return nil, nil, fmt.Errorf("generator: %w", err)
	}
	sidecar, err := newSidecar(a.cfg.Energy)
	if err != nil {
		return nil, nil, err
	}
	return chat.NewEngine(chat.Config{
		Retriever:  a.retriever,
		Generator:  gen,
		Sidecar:    sidecar,
		System:     chat.SystemInstruction(a.cfg.Generator.Subject),
		TopK:       a.cfg.Index.TopK,
		TokenLimit: a.cfg.Memory.TokenLimit,
		Logger:     a.logger,
	}), gen, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// newSidecar builds the energy catalog and selector. A zero seed picks one
// from the clock.
func newSidecar(cfg config.EnergyConfig) (*energy.Sidecar, error) {
	metrics := energy.DefaultCatalog()
	if len(cfg.Metrics) > 0 {
		metrics = make([]energy.Metric, len(cfg.Metrics))
		for i, m := range cfg.Metrics {
			metrics[i] = energy.Metric{
				ID:       m.ID,
				Emoji:    m.Emoji,
				Template: m.Template,
				Scaled:   m.Scaled,
				Factor:   m.Factor,
				Unit:     m.Unit,
			}
		}
	}
	catalog, err := energy.NewCatalog(metrics)
	if err != nil {
		return nil, fmt.Errorf("energy catalog: %w", err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	selector, err := energy.NewSelector(cfg.Selection, catalog, seed)
	if err != nil {
		return nil, err
	}
	return energy.NewSidecar(catalog, selector, energy.ProjectionConfig{
		Multiplier: cfg.Multiplier,
		Format:     cfg.Format,
	}), nil
}

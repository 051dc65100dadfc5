package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/embedding"
	"github.com/benkoppe/sustainabotily/internal/loader"
	"github.com/benkoppe/sustainabotily/internal/metrics"
	"github.com/benkoppe/sustainabotily/internal/summarizer"
	"github.com/benkoppe/sustainabotily/internal/vectorstore/memory"
	"github.com/benkoppe/sustainabotily/internal/vectorstore/snapshot"
)

// Mode selects how the index is obtained for this process.
type Mode int

const (
	// ModeLoad reads an existing snapshot and never falls back to building.
	ModeLoad Mode = iota
	// ModeBuild rebuilds from the corpus and replaces the snapshot.
	ModeBuild
)

func (m Mode) String() string {
	if m == ModeBuild {
		return "build"
	}
	return "load"
}

// ParseMode converts a configured index mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "build":
		return ModeBuild, nil
	case "load":
		return ModeLoad, nil
	default:
		return 0, fmt.Errorf("unknown index mode %q", s)
	}
}

// digestInputLimit caps how much corpus text is fed to the summarizer.
const digestInputLimit = 64 << 10

// IndexerConfig wires the indexer.
type IndexerConfig struct {
	CorpusDir    string
	Pattern      string
	SnapshotPath string
	DigestLength int
	Chunker      domain.Chunker
	Embedder     domain.Embedder
	Summarizer   *summarizer.FrequencySummarizer
	Progress     ProgressReporter
	Logger       *zap.Logger
}

// Indexer builds or loads the vector index.
type Indexer struct {
	cfg IndexerConfig
}

// NewIndexer creates an indexer.
func NewIndexer(cfg IndexerConfig) *Indexer {
	if cfg.Progress == nil {
		cfg.Progress = nopProgress{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Summarizer == nil {
		cfg.Summarizer = summarizer.NewFrequencySummarizer()
	}
	return &Indexer{cfg: cfg}
}

// Open returns the index for the requested mode.
func (ix *Indexer) Open(ctx context.Context, mode Mode) (*memory.Index, snapshot.Meta, error) {
	var (
		idx  *memory.Index
		meta snapshot.Meta
		err  error
	)
	switch mode {
	case ModeBuild:
		idx, meta, err = ix.BuildFromCorpus(ctx)
	case ModeLoad:
		idx, meta, err = ix.LoadFromSnapshot(ctx)
	default:
		return nil, snapshot.Meta{}, fmt.Errorf("unknown index mode %d", mode)
	}
	if err != nil {
		return nil, snapshot.Meta{}, err
	}
	metrics.IndexChunks.Set(float64(idx.Len()))
	return idx, meta, nil
}

// BuildFromCorpus loads, chunks and embeds the corpus, then persists the snapshot.
// Nothing is written unless every chunk embedded successfully.
func (ix *Indexer) BuildFromCorpus(ctx context.Context) (*memory.Index, snapshot.Meta, error) {
	log := ix.cfg.Logger
	start := time.Now()

	docs, err := loader.Load(ix.cfg.CorpusDir, ix.cfg.Pattern)
	if err != nil {
		return nil, snapshot.Meta{}, err
	}

	var (
		chunks []domain.Chunk
		digest strings.Builder
		docsN  int
	)
	for doc, err := range docs {
		if err != nil {
			return nil, snapshot.Meta{}, fmt.Errorf("load corpus: %w", err)
		}
		docsN++
		cs, err := ix.cfg.Chunker.Chunk(doc)
		if err != nil {
			return nil, snapshot.Meta{}, fmt.Errorf("chunk %s: %w", doc.SourcePath, err)
		}
		chunks = append(chunks, cs...)
		if digest.Len() < digestInputLimit {
			digest.WriteString(doc.RawText)
			digest.WriteString("\n")
		}
	}
	if len(chunks) == 0 {
		return nil, snapshot.Meta{}, fmt.Errorf("%s: %d documents produced no text: %w", ix.cfg.CorpusDir, docsN, domain.ErrCorpusEmpty)
	}
	log.Info("Corpus chunked", zap.Int("documents", docsN), zap.Int("chunks", len(chunks)))

	idx, err := ix.Build(ctx, chunks)
	if err != nil {
		return nil, snapshot.Meta{}, err
	}

	meta := snapshot.Meta{
		Embedder:  ix.cfg.Embedder.Name(),
		CreatedAt: time.Now(),
		Digest:    ix.cfg.Summarizer.Summarize(digest.String(), ix.cfg.DigestLength),
	}
	if err := snapshot.Persist(ctx, idx, ix.cfg.SnapshotPath, meta); err != nil {
		return nil, snapshot.Meta{}, fmt.Errorf("persist snapshot: %w", err)
	}
	meta.Dimension = idx.Dimension()
	meta.Metric = idx.Metric()
	meta.ChunkCount = idx.Len()
	meta.SchemaVersion = snapshot.SchemaVersion

	log.Info("Index built",
		zap.String("snapshot", ix.cfg.SnapshotPath),
		zap.Int("chunks", idx.Len()),
		zap.Int("dimension", idx.Dimension()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return idx, meta, nil
}

// Build embeds every chunk into a new index. Any embedding failure aborts the
// whole build with domain.ErrEmbeddingService.
func (ix *Indexer) Build(ctx context.Context, chunks []domain.Chunk) (*memory.Index, error) {
	if len(chunks) == 0 {
		return nil, domain.ErrCorpusEmpty
	}
	progress := ix.cfg.Progress
	progress.Start(len(chunks))
	defer progress.Finish()

	vectors := make([][]float32, len(chunks))
	for i, ch := range chunks {
		vec, err := ix.cfg.Embedder.Embed(ctx, ch.Text)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d of %d (%s): %w", i+1, len(chunks), ch.ChunkID, asEmbeddingError(err))
		}
		if len(vec) == 0 || (i > 0 && len(vec) != len(vectors[0])) {
			return nil, fmt.Errorf("embed chunk %s: got %d dimensions: %w", ch.ChunkID, len(vec), domain.ErrEmbeddingService)
		}
		vectors[i] = vec
		progress.Increment()
	}

	idx, err := memory.NewIndex(len(vectors[0]))
	if err != nil {
		return nil, err
	}
	if err := idx.Add(chunks, vectors); err != nil {
		return nil, err
	}
	return idx, nil
}

// LoadFromSnapshot reads the snapshot, checking its dimension against the embedder.
func (ix *Indexer) LoadFromSnapshot(ctx context.Context) (*memory.Index, snapshot.Meta, error) {
	dim, err := embedding.Probe(ctx, ix.cfg.Embedder)
	if err != nil {
		return nil, snapshot.Meta{}, asEmbeddingError(err)
	}
	idx, meta, err := snapshot.Load(ctx, ix.cfg.SnapshotPath, dim)
	if err != nil {
		return nil, snapshot.Meta{}, err
	}
	if meta.Embedder != "" && meta.Embedder != ix.cfg.Embedder.Name() {
		ix.cfg.Logger.Warn("Snapshot was built with a different embedder",
			zap.String("snapshot_embedder", meta.Embedder),
			zap.String("embedder", ix.cfg.Embedder.Name()),
		)
	}
	ix.cfg.Logger.Info("Index loaded",
		zap.String("snapshot", ix.cfg.SnapshotPath),
		zap.Int("chunks", idx.Len()),
		zap.Int("dimension", idx.Dimension()),
		zap.Time("created_at", meta.CreatedAt),
	)
	return idx, meta, nil
}

func asEmbeddingError(err error) error {
	if errors.Is(err, domain.ErrEmbeddingService) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrEmbeddingService, err)
}

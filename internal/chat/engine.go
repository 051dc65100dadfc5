package chat

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/energy"
	"github.com/benkoppe/sustainabotily/internal/metrics"
	"github.com/benkoppe/sustainabotily/internal/session"
)

// Retriever returns the chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.Chunk, error)
}

// Config wires an Engine.
type Config struct {
	Retriever  Retriever
	Generator  domain.Generator
	Sidecar    *energy.Sidecar
	System     string
	TopK       int
	TokenLimit int
	Logger     *zap.Logger
}

// Engine answers questions for sessions. It holds no per-session state and
// may be shared by any number of sessions.
type Engine struct {
	retriever  Retriever
	generator  domain.Generator
	sidecar    *energy.Sidecar
	system     string
	topK       int
	tokenLimit int
	logger     *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	if cfg.System == "" {
		cfg.System = SystemInstruction("")
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.TokenLimit <= 0 {
		cfg.TokenLimit = DefaultTokenLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Sidecar == nil {
		cfg.Sidecar = energy.DefaultSidecar()
	}
	return &Engine{
		retriever:  cfg.Retriever,
		generator:  cfg.Generator,
		sidecar:    cfg.Sidecar,
		system:     cfg.System,
		topK:       cfg.TopK,
		tokenLimit: cfg.TokenLimit,
		logger:     cfg.Logger,
	}
}

// Ask starts a new exchange on sess and returns the streaming reply.
//
// If retrieval or opening the generation stream fails, the session is left
// exactly as it was and the error is returned. Otherwise the user turn is
// appended and the assistant turn plus its energy record are appended once
// the reply finishes, fails or is closed.
func (e *Engine) Ask(ctx context.Context, sess *session.Session, text string) (*Reply, error) {
	if err := sess.Begin(); err != nil {
		return nil, err
	}
	log := e.logger.With(zap.String("session", sess.ID))

	chunks, err := e.retriever.Retrieve(ctx, text, e.topK)
	if err != nil {
		sess.Abort()
		log.Warn("Retrieval failed", zap.Error(err))
		return nil, err
	}

	contexts := make([]string, len(chunks))
	for i, ch := range chunks {
		contexts[i] = ch.Text
	}
	prompt := domain.Prompt{
		System:  e.system,
		Memory:  SelectMemory(sess.Turns(), e.tokenLimit),
		Context: contexts,
		User:    text,
	}

	model := e.generator.Name()
	stream, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		sess.Abort()
		metrics.GenerationRequestsTotal.WithLabelValues(model, "error").Inc()
		log.Warn("Generation failed to start", zap.Error(err))
		if !errors.Is(err, domain.ErrGeneration) {
			err = fmt.Errorf("%w: %w", domain.ErrGeneration, err)
		}
		return nil, err
	}

	sess.AppendUser(text)
	log.Debug("Streaming reply",
		zap.Int("context_chunks", len(chunks)),
		zap.Int("memory_turns", len(prompt.Memory)),
	)
	return &Reply{
		engine:  e,
		sess:    sess,
		stream:  stream,
		model:   model,
		sources: chunks,
		log:     log,
	}, nil
}

// Stream runs Ask and forwards every fragment to onFragment. It returns the
// full answer. If onFragment returns an error the reply is abandoned.
func (e *Engine) Stream(ctx context.Context, sess *session.Session, text string, onFragment func(string) error) (string, error) {
	reply, err := e.Ask(ctx, sess, text)
	if err != nil {
		return "", err
	}
	defer reply.Close()

	for {
		frag, err := reply.Recv()
		if errors.Is(err, io.EOF) {
			return reply.Text(), nil
		}
		if err != nil {
			return reply.Text(), err
		}
		if onFragment != nil {
			if err := onFragment(frag); err != nil {
				return reply.Text(), err
			}
		}
	}
}

// LastEnergyCaption renders the caption of the latest assistant turn, or "".
func (e *Engine) LastEnergyCaption(sess *session.Session) (string, error) {
	records := sess.Records()
	if len(records) == 0 {
		return "", nil
	}
	return e.sidecar.Caption(records, len(records)-1)
}

// ProjectedScaleCaption renders the population-scale projection, or "".
func (e *Engine) ProjectedScaleCaption(sess *session.Session) (string, error) {
	return e.sidecar.ProjectedCaption(sess.Records())
}

// Entry is a transcript turn with its replayed energy caption.
type Entry struct {
	domain.Turn
	Caption string `json:"caption,omitempty"`
}

// Transcript replays the session: every assistant turn carries the caption
// rendered from its stored energy record.
func (e *Engine) Transcript(sess *session.Session) ([]Entry, error) {
	turns, records := sess.Snapshot()
	out := make([]Entry, len(turns))
	assistant := 0
	for i, t := range turns {
		out[i] = Entry{Turn: t}
		if t.Role != domain.RoleAssistant {
			continue
		}
		caption, err := e.sidecar.Caption(records, assistant)
		if err != nil {
			return nil, err
		}
		out[i].Caption = caption
		assistant++
	}
	return out, nil
}

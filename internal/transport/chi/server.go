package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	gochi "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/benkoppe/sustainabotily/internal/chat"
	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/logger"
	"github.com/benkoppe/sustainabotily/internal/metrics"
	"github.com/benkoppe/sustainabotily/internal/session"
)

// maxMessageBytes bounds a posted user message body.
const maxMessageBytes = 64 << 10

// Searcher is the scored retrieval used by the search endpoint.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// Info describes the loaded index and models for the health endpoint.
type Info struct {
	Chunks    int    `json:"chunks"`
	Embedder  string `json:"embedder"`
	Generator string `json:"generator"`
	Digest    string `json:"digest,omitempty"`
}

// Server exposes chat sessions over HTTP. Assistant replies are streamed as
// newline-delimited JSON events.
type Server struct {
	engine   *chat.Engine
	sessions *session.Store
	searcher Searcher
	info     Info
	logger   *zap.Logger
}

// Options wires a Server.
type Options struct {
	Engine   *chat.Engine
	Sessions *session.Store
	Searcher Searcher
	Info     Info
	Logger   *zap.Logger
}

// NewServer creates a server.
func NewServer(opts Options) *Server {
	if opts.Sessions == nil {
		opts.Sessions = session.NewStore()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		engine:   opts.Engine,
		sessions: opts.Sessions,
		searcher: opts.Searcher,
		info:     opts.Info,
		logger:   opts.Logger,
	}
}

// Router builds the chi router with the middleware chain.
func (s *Server) Router() http.Handler {
	r := gochi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r gochi.Router) {
		r.Get("/search", s.Search)
		r.Post("/sessions", s.CreateSession)
		r.Route("/sessions/{id}", func(r gochi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.DeleteSession)
			r.Post("/messages", s.PostMessage)
			r.Delete("/history", s.ResetHistory)
		})
	})
	return r
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"index":    s.info,
		"sessions": s.sessions.Len(),
	})
}

type sessionResponse struct {
	ID         string       `json:"id"`
	CreatedAt  time.Time    `json:"created_at"`
	State      string       `json:"state"`
	Turns      []chat.Entry `json:"turns"`
	Projection string       `json:"projection,omitempty"`
}

// CreateSession handles POST /v1/sessions.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	logger.FromContext(r.Context()).Debug("Session created", zap.String("session", sess.ID))
	writeJSON(w, http.StatusCreated, sessionResponse{
		ID:        sess.ID,
		CreatedAt: sess.CreatedAt,
		State:     sess.State().String(),
		Turns:     []chat.Entry{},
	})
}

// GetSession handles GET /v1/sessions/{id}: the transcript with replayed captions.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	turns, err := s.engine.Transcript(sess)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	projection, err := s.engine.ProjectedScaleCaption(sess)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:         sess.ID,
		CreatedAt:  sess.CreatedAt,
		State:      sess.State().String(),
		Turns:      turns,
		Projection: projection,
	})
}

// DeleteSession handles DELETE /v1/sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookup(w, r); !ok {
		return
	}
	s.sessions.Delete(gochi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// ResetHistory handles DELETE /v1/sessions/{id}/history.
func (s *Server) ResetHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.Reset(); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageRequest struct {
	Text string `json:"text"`
}

// Event is one line of a streamed reply.
type Event struct {
	Type       string   `json:"type"` // fragment, done, error
	Text       string   `json:"text,omitempty"`
	Caption    string   `json:"caption,omitempty"`
	Projection string   `json:"projection,omitempty"`
	Error      string   `json:"error,omitempty"`
	Sources    []Source `json:"sources,omitempty"`
}

// Source identifies a retrieved chunk the reply was grounded on.
type Source struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
}

// PostMessage handles POST /v1/sessions/{id}/messages. Failures before the
// stream opens are plain JSON errors and leave the session untouched. Once
// streaming has started, a failure is reported as a final error event
// carrying the partial answer.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "text is required")
		return
	}

	reply, err := s.engine.Ask(r.Context(), sess, text)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	defer reply.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	emit := func(ev Event) error {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	for {
		frag, err := reply.Recv()
		if err == nil {
			if werr := emit(Event{Type: "fragment", Text: frag}); werr != nil {
				logger.FromContext(r.Context()).Debug("Client went away", zap.Error(werr))
				return
			}
			continue
		}

		final := Event{Type: "done", Text: reply.Text(), Sources: sources(reply.Sources())}
		if !errors.Is(err, io.EOF) {
			final.Type = "error"
			final.Error = err.Error()
		}
		final.Caption, _ = s.engine.LastEnergyCaption(sess)
		final.Projection, _ = s.engine.ProjectedScaleCaption(sess)
		_ = emit(final)
		return
	}
}

// Search handles GET /v1/search?q=...&k=...
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "q is required")
		return
	}
	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "k must be a positive integer")
			return
		}
		k = n
	}
	results, err := s.searcher.Search(r.Context(), q, k)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	type item struct {
		Source
		Score float64 `json:"score"`
		Text  string  `json:"text"`
	}
	items := make([]item, len(results))
	for i, res := range results {
		items[i] = item{
			Source: Source{ChunkID: res.Chunk.ChunkID, DocumentID: res.Chunk.DocumentID, Ordinal: res.Chunk.Ordinal},
			Score:  res.Score,
			Text:   res.Chunk.Text,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(gochi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return nil, false
	}
	return sess, true
}

func sources(chunks []domain.Chunk) []Source {
	out := make([]Source, len(chunks))
	for i, c := range chunks {
		out[i] = Source{ChunkID: c.ChunkID, DocumentID: c.DocumentID, Ordinal: c.Ordinal}
	}
	return out
}

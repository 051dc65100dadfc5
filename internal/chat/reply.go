package chat

import (
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/metrics"
	"github.com/benkoppe/sustainabotily/internal/session"
)

// errAbandoned marks a reply closed before its stream finished.
var errAbandoned = errors.New("abandoned")

// Reply is the streaming answer of one exchange. It is not safe for
// concurrent use; Close must be called once the caller is done.
type Reply struct {
	engine  *Engine
	sess    *session.Session
	stream  domain.FragmentStream
	model   string
	sources []domain.Chunk
	log     *zap.Logger

	text strings.Builder
	done bool
	err  error
}

// Recv returns the next fragment, io.EOF after the last one, or a
// *domain.GenerationError if the stream failed. The assistant turn is
// committed before Recv returns io.EOF or the error.
func (r *Reply) Recv() (string, error) {
	if r.done {
		return "", r.err
	}
	frag, err := r.stream.Recv()
	if errors.Is(err, io.EOF) {
		r.finish(nil)
		return "", io.EOF
	}
	if err != nil {
		gerr := &domain.GenerationError{Partial: r.text.String(), Err: err}
		r.finish(gerr)
		return "", gerr
	}
	r.text.WriteString(frag)
	metrics.GenerationFragmentsTotal.WithLabelValues(r.model).Inc()
	return frag, nil
}

// Close releases the stream. An unfinished reply is committed with the text
// received so far and an "abandoned" indication.
func (r *Reply) Close() error {
	if !r.done {
		r.finish(errAbandoned)
	}
	return nil
}

// Text returns the text received so far.
func (r *Reply) Text() string { return r.text.String() }

// Sources returns the retrieved chunks the answer was grounded on.
func (r *Reply) Sources() []domain.Chunk { return r.sources }

// Done reports whether the assistant turn has been committed.
func (r *Reply) Done() bool { return r.done }

func (r *Reply) finish(err error) {
	r.done = true
	if cerr := r.stream.Close(); cerr != nil {
		r.log.Debug("Closing generation stream", zap.Error(cerr))
	}

	turn := domain.Turn{Role: domain.RoleAssistant, Text: r.text.String()}
	status := "success"
	switch {
	case err == nil:
		r.err = io.EOF
	case errors.Is(err, errAbandoned):
		turn.Error = errAbandoned.Error()
		status = "abandoned"
		r.err = err
	default:
		turn.Error = err.Error()
		status = "error"
		r.err = err
		r.log.Warn("Generation failed mid-stream", zap.Int("partial_bytes", r.text.Len()), zap.Error(err))
	}
	metrics.GenerationRequestsTotal.WithLabelValues(r.model, status).Inc()
	r.sess.Complete(turn, r.engine.sidecar.Record)
}

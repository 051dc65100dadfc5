// Package extractive answers from the retrieved context alone, without a
// language model. It is the offline counterpart of the chat API generator.
package extractive

import (
	"context"
	"io"
	"strings"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/summarizer"
)

// NoAnswer is streamed when nothing was retrieved for the question.
const NoAnswer = "I could not find anything about that."

// DefaultSentences is used when the generator is built with a non-positive count.
const DefaultSentences = 3

var _ domain.Generator = (*Generator)(nil)

// Generator picks the context sentences that best match the question.
type Generator struct {
	summarizer *summarizer.FrequencySummarizer
	sentences  int
}

// New creates an extractive generator returning up to sentences sentences.
func New(sentences int) *Generator {
	if sentences <= 0 {
		sentences = DefaultSentences
	}
	return &Generator{summarizer: summarizer.NewFrequencySummarizer(), sentences: sentences}
}

// Name identifies the generator.
func (g *Generator) Name() string { return "extractive" }

// Generate ranks the retrieved context against the user turn and streams
// the answer one word at a time.
func (g *Generator) Generate(ctx context.Context, prompt domain.Prompt) (domain.FragmentStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	answer := ""
	if len(prompt.Context) > 0 {
		answer = g.summarizer.Focus(prompt.User, strings.Join(prompt.Context, "\n\n"), g.sentences)
	}
	if strings.TrimSpace(answer) == "" {
		answer = NoAnswer
	}
	return &wordStream{ctx: ctx, words: strings.Fields(answer)}, nil
}

type wordStream struct {
	ctx   context.Context
	words []string
	pos   int
}

func (s *wordStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.words) {
		return "", io.EOF
	}
	w := s.words[s.pos]
	if s.pos > 0 {
		w = " " + w
	}
	s.pos++
	return w, nil
}

func (s *wordStream) Close() error {
	s.pos = len(s.words)
	return nil
}

package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/energy"
	"github.com/benkoppe/sustainabotily/internal/session"
)

type fakeRetriever struct {
	chunks []domain.Chunk
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, _ int) ([]domain.Chunk, error) {
	f.calls++
	return f.chunks, f.err
}

type sliceStream struct {
	frags  []string
	err    error
	i      int
	closed bool
}

func (s *sliceStream) Recv() (string, error) {
	if s.i < len(s.frags) {
		s.i++
		return s.frags[s.i-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

type scriptedGenerator struct {
	frags   []string
	err     error
	openErr error
	prompts []domain.Prompt
	streams []*sliceStream
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Generate(_ context.Context, p domain.Prompt) (domain.FragmentStream, error) {
	g.prompts = append(g.prompts, p)
	if g.openErr != nil {
		return nil, g.openErr
	}
	s := &sliceStream{frags: g.frags, err: g.err}
	g.streams = append(g.streams, s)
	return s, nil
}

func newEngine(t *testing.T, r Retriever, g domain.Generator) *Engine {
	t.Helper()
	catalog, err := energy.NewCatalog(energy.DefaultCatalog())
	require.NoError(t, err)
	sel, err := energy.NewSelector("fixed", catalog, 0)
	require.NoError(t, err)
	return NewEngine(Config{
		Retriever: r,
		Generator: g,
		Sidecar:   energy.NewSidecar(catalog, sel, energy.ProjectionConfig{}),
		TopK:      5,
	})
}

var campusChunks = []domain.Chunk{
	{ChunkID: "a:0", DocumentID: "a", Text: "Cornell composts dining waste."},
	{ChunkID: "b:0", DocumentID: "b", Text: "Lake Source Cooling uses Cayuga Lake."},
}

func TestEngine_StreamCompletes(t *testing.T) {
	gen := &scriptedGenerator{frags: []string{"Cornell ", "composts."}}
	e := newEngine(t, &fakeRetriever{chunks: campusChunks}, gen)
	sess := session.New("s")

	var got []string
	text, err := e.Stream(context.Background(), sess, "Does Cornell compost?", func(f string) error {
		got = append(got, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Cornell composts.", text)
	assert.Equal(t, []string{"Cornell ", "composts."}, got)

	turns, records := sess.Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Text: "Does Cornell compost?"}, turns[0])
	assert.Equal(t, domain.Turn{Role: domain.RoleAssistant, Text: "Cornell composts."}, turns[1])
	require.Len(t, records, 1)
	assert.Equal(t, session.StateIdle, sess.State())
	assert.True(t, gen.streams[0].closed)

	caption, err := e.LastEnergyCaption(sess)
	require.NoError(t, err)
	assert.Equal(t, "🍿 You have made 1 query, equivalent to microwaving food for 0.1 seconds.", caption)

	projected, err := e.ProjectedScaleCaption(sess)
	require.NoError(t, err)
	assert.Contains(t, projected, "138.9 days")
}

func TestEngine_DefaultSidecar(t *testing.T) {
	e := NewEngine(Config{
		Retriever: &fakeRetriever{chunks: campusChunks},
		Generator: &scriptedGenerator{frags: []string{"Yes."}},
	})
	sess := session.New("s")

	_, err := e.Stream(context.Background(), sess, "Does Cornell compost?", func(string) error { return nil })
	require.NoError(t, err)

	caption, err := e.LastEnergyCaption(sess)
	require.NoError(t, err)
	assert.Equal(t, "🍿 You have made 1 query, equivalent to microwaving food for 0.1 seconds.", caption)
}

func TestEngine_PartialAnswerOnGenerationError(t *testing.T) {
	boom := errors.New("upstream reset")
	gen := &scriptedGenerator{frags: []string{"Hel", "lo"}, err: boom}
	e := newEngine(t, &fakeRetriever{chunks: campusChunks}, gen)
	sess := session.New("s")

	text, err := e.Stream(context.Background(), sess, "hi", nil)
	require.Error(t, err)
	assert.Equal(t, "Hello", text)

	var gerr *domain.GenerationError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "Hello", gerr.Partial)
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.ErrorIs(t, err, boom)

	turns, records := sess.Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello", turns[1].Text)
	assert.True(t, turns[1].Failed())
	assert.Len(t, records, 1)

	// the session stays usable
	gen.err = nil
	_, err = e.Stream(context.Background(), sess, "again", nil)
	require.NoError(t, err)
	_, records = sess.Snapshot()
	assert.Len(t, records, 2)
}

func TestEngine_BusySession(t *testing.T) {
	gen := &scriptedGenerator{frags: []string{"a", "b"}}
	e := newEngine(t, &fakeRetriever{chunks: campusChunks}, gen)
	sess := session.New("s")

	reply, err := e.Ask(context.Background(), sess, "first")
	require.NoError(t, err)

	_, err = e.Ask(context.Background(), sess, "second")
	assert.ErrorIs(t, err, domain.ErrSessionBusy)
	assert.Len(t, gen.prompts, 1)

	for {
		if _, err := reply.Recv(); err != nil {
			assert.ErrorIs(t, err, io.EOF)
			break
		}
	}
	require.NoError(t, reply.Close())

	_, err = e.Ask(context.Background(), sess, "second")
	require.NoError(t, err)
}

func TestEngine_RetrievalFailureLeavesSessionUntouched(t *testing.T) {
	gen := &scriptedGenerator{frags: []string{"x"}}
	e := newEngine(t, &fakeRetriever{err: domain.ErrEmbeddingService}, gen)
	sess := session.New("s")

	_, err := e.Ask(context.Background(), sess, "anything")
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)

	turns, records := sess.Snapshot()
	assert.Empty(t, turns)
	assert.Empty(t, records)
	assert.Equal(t, session.StateIdle, sess.State())
	assert.Empty(t, gen.prompts)
}

func TestEngine_GenerationOpenFailure(t *testing.T) {
	gen := &scriptedGenerator{openErr: errors.New("401 unauthorized")}
	e := newEngine(t, &fakeRetriever{chunks: campusChunks}, gen)
	sess := session.New("s")

	_, err := e.Ask(context.Background(), sess, "anything")
	assert.ErrorIs(t, err, domain.ErrGeneration)

	turns, _ := sess.Snapshot()
	assert.Empty(t, turns)
	assert.Equal(t, session.StateIdle, sess.State())
}

func TestReply_CloseAbandons(t *testing.T) {
	gen := &scriptedGenerator{frags: []string{"Partial", " answer"}}
	e := newEngine(t, &fakeRetriever{chunks: campusChunks}, gen)
	sess := session.New("s")

	reply, err := e.Ask(context.Background(), sess, "q")
	require.NoError(t, err)
	frag, err := reply.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Partial", frag)

	require.NoError(t, reply.Close())
	assert.True(t, reply.Done())
	assert.True(t, gen.streams[0].closed)

	turns, records := sess.Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, "Partial", turns[1].Text)
	assert.Equal(t, "abandoned", turns[1].Error)
	assert.Len(t, records, 1)

	// closing twice is harmless
	require.NoError(t, reply.Close())
	_, records = sess.Snapshot()
	assert.Len(t, records, 1)
}

func TestEngine_PromptAssembly(t *testing.T) {
	gen := &scriptedGenerator{frags: []string{"answer one"}}
	e := newEngine(t, &fakeRetriever{chunks: campusChunks}, gen)
	sess := session.New("s")

	_, err := e.Stream(context.Background(), sess, "first question", nil)
	require.NoError(t, err)
	_, err = e.Stream(context.Background(), sess, "second question", nil)
	require.NoError(t, err)

	require.Len(t, gen.prompts, 2)
	p := gen.prompts[1]
	assert.Equal(t, "second question", p.User)
	assert.Equal(t, []string{campusChunks[0].Text, campusChunks[1].Text}, p.Context)
	assert.Equal(t, []domain.Turn{
		{Role: domain.RoleUser, Text: "first question"},
		{Role: domain.RoleAssistant, Text: "answer one"},
	}, p.Memory)
	assert.True(t, strings.HasPrefix(p.System, "You are an expert on the Cornell Sustainability Office (CSO)."))
	assert.Empty(t, gen.prompts[0].Memory)
}

func TestEngine_TranscriptReplaysCaptions(t *testing.T) {
	gen := &scriptedGenerator{frags: []string{"ok"}}
	e := newEngine(t, &fakeRetriever{chunks: campusChunks}, gen)
	sess := session.New("s")

	for _, q := range []string{"one", "two", "three"} {
		_, err := e.Stream(context.Background(), sess, q, nil)
		require.NoError(t, err)
	}

	first, err := e.Transcript(sess)
	require.NoError(t, err)
	second, err := e.Transcript(sess)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first, 6)
	assert.Empty(t, first[0].Caption)
	assert.Equal(t, "🍿 You have made 1 query, equivalent to microwaving food for 0.1 seconds.", first[1].Caption)
	assert.Equal(t, "🍿 You have made 3 queries, equivalent to microwaving food for 0.3 seconds.", first[5].Caption)
}

func TestEngine_ResetClearsCaptions(t *testing.T) {
	e := newEngine(t, &fakeRetriever{chunks: campusChunks}, &scriptedGenerator{frags: []string{"ok"}})
	sess := session.New("s")
	_, err := e.Stream(context.Background(), sess, "q", nil)
	require.NoError(t, err)

	require.NoError(t, sess.Reset())
	caption, err := e.LastEnergyCaption(sess)
	require.NoError(t, err)
	assert.Empty(t, caption)
	projected, err := e.ProjectedScaleCaption(sess)
	require.NoError(t, err)
	assert.Empty(t, projected)
}

func TestEngine_CallbackErrorAbandons(t *testing.T) {
	gen := &scriptedGenerator{frags: []string{"a", "b", "c"}}
	e := newEngine(t, &fakeRetriever{chunks: campusChunks}, gen)
	sess := session.New("s")
	stop := errors.New("client went away")

	text, err := e.Stream(context.Background(), sess, "q", func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, "a", text)

	turns, records := sess.Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, "abandoned", turns[1].Error)
	assert.Len(t, records, 1)
}

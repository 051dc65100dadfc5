package chi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benkoppe/sustainabotily/internal/chat"
	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/energy"
	"github.com/benkoppe/sustainabotily/internal/generation/extractive"
	"github.com/benkoppe/sustainabotily/internal/session"
)

var campusChunks = []domain.Chunk{
	{ChunkID: "dining:0", DocumentID: "dining", Text: "Compost from dining halls goes to Cornell Farm Services."},
	{ChunkID: "energy:0", DocumentID: "energy", Text: "Lake Source Cooling uses cold water from Cayuga."},
}

type fakeRetriever struct {
	err error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, q string, k int) ([]domain.Chunk, error) {
	res, err := f.Search(ctx, q, k)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Chunk, len(res))
	for i, r := range res {
		out[i] = r.Chunk
	}
	return out, nil
}

func (f *fakeRetriever) Search(_ context.Context, _ string, k int) ([]domain.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if k <= 0 || k > len(campusChunks) {
		k = len(campusChunks)
	}
	out := make([]domain.SearchResult, k)
	for i := range k {
		out[i] = domain.SearchResult{Chunk: campusChunks[i], Score: 1 - float64(i)/10}
	}
	return out, nil
}

type failingStream struct{ sent bool }

func (s *failingStream) Recv() (string, error) {
	if !s.sent {
		s.sent = true
		return "Partial", nil
	}
	return "", errors.New("connection reset")
}

func (s *failingStream) Close() error { return nil }

type failingGenerator struct{}

func (failingGenerator) Name() string { return "failing" }
func (failingGenerator) Generate(context.Context, domain.Prompt) (domain.FragmentStream, error) {
	return &failingStream{}, nil
}

func newTestServer(t *testing.T, r *fakeRetriever, g domain.Generator) (*httptest.Server, *session.Store) {
	t.Helper()
	catalog, err := energy.NewCatalog(energy.DefaultCatalog())
	require.NoError(t, err)
	sel, err := energy.NewSelector("fixed", catalog, 0)
	require.NoError(t, err)
	engine := chat.NewEngine(chat.Config{
		Retriever: r,
		Generator: g,
		Sidecar:   energy.NewSidecar(catalog, sel, energy.ProjectionConfig{}),
	})
	store := session.NewStore()
	srv := NewServer(Options{
		Engine:   engine,
		Sessions: store,
		Searcher: r,
		Info:     Info{Chunks: len(campusChunks), Embedder: "hashing", Generator: g.Name()},
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/sessions", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.ID)
	assert.Equal(t, "idle", body.State)
	return body.ID
}

func postMessage(t *testing.T, ts *httptest.Server, id, text string) (*http.Response, []Event) {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"text": text})
	resp, err := http.Post(ts.URL+"/v1/sessions/"+id+"/messages", "application/json", strings.NewReader(string(payload)))
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "application/x-ndjson" {
		return resp, nil
	}
	var events []Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return resp, events
}

func TestServer_StreamsReplyWithCaption(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRetriever{}, extractive.New(1))
	id := createSession(t, ts)

	resp, events := postMessage(t, ts, id, "Where does compost from dining halls go?")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.GreaterOrEqual(t, len(events), 2)

	var streamed strings.Builder
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, "fragment", ev.Type)
		streamed.WriteString(ev.Text)
	}
	final := events[len(events)-1]
	assert.Equal(t, "done", final.Type)
	assert.Equal(t, "Compost from dining halls goes to Cornell Farm Services.", final.Text)
	assert.Equal(t, final.Text, streamed.String())
	assert.Equal(t, "🍿 You have made 1 query, equivalent to microwaving food for 0.1 seconds.", final.Caption)
	assert.Contains(t, final.Projection, "120,000,000 people")
	assert.Contains(t, final.Projection, "138.9 days")
	require.Len(t, final.Sources, 2)
	assert.Equal(t, "dining:0", final.Sources[0].ChunkID)
}

func TestServer_TranscriptReplaysCaptions(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRetriever{}, extractive.New(1))
	id := createSession(t, ts)
	postMessage(t, ts, id, "compost?")
	postMessage(t, ts, id, "cooling?")

	resp, err := http.Get(ts.URL + "/v1/sessions/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Turns, 4)
	assert.Equal(t, domain.RoleUser, body.Turns[0].Role)
	assert.Empty(t, body.Turns[0].Caption)
	assert.Contains(t, body.Turns[1].Caption, "1 query")
	assert.Contains(t, body.Turns[3].Caption, "2 queries")
	assert.Contains(t, body.Projection, "277.8 days")
}

func TestServer_MidStreamFailureEndsWithErrorEvent(t *testing.T) {
	ts, store := newTestServer(t, &fakeRetriever{}, failingGenerator{})
	id := createSession(t, ts)

	resp, events := postMessage(t, ts, id, "hello")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: "fragment", Text: "Partial"}, events[0])

	final := events[1]
	assert.Equal(t, "error", final.Type)
	assert.Equal(t, "Partial", final.Text)
	assert.Contains(t, final.Error, "connection reset")
	assert.Contains(t, final.Caption, "1 query")

	sess, err := store.Get(id)
	require.NoError(t, err)
	turns := sess.Turns()
	require.Len(t, turns, 2)
	assert.True(t, turns[1].Failed())
	assert.Equal(t, session.StateIdle, sess.State())
}

func TestServer_RetrievalFailureIsBadGateway(t *testing.T) {
	ts, store := newTestServer(t, &fakeRetriever{err: domain.ErrEmbeddingService}, extractive.New(1))
	id := createSession(t, ts)

	resp, events := postMessage(t, ts, id, "hello")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Nil(t, events)

	sess, err := store.Get(id)
	require.NoError(t, err)
	assert.Empty(t, sess.Turns())
}

func TestServer_BusySessionConflicts(t *testing.T) {
	ts, store := newTestServer(t, &fakeRetriever{}, extractive.New(1))
	id := createSession(t, ts)
	sess, err := store.Get(id)
	require.NoError(t, err)
	require.NoError(t, sess.Begin())

	resp, _ := postMessage(t, ts, id, "hello")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/"+id+"/history", http.NoBody)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

func TestServer_ResetHistory(t *testing.T) {
	ts, store := newTestServer(t, &fakeRetriever{}, extractive.New(1))
	id := createSession(t, ts)
	postMessage(t, ts, id, "compost?")

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/"+id+"/history", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	sess, err := store.Get(id)
	require.NoError(t, err)
	assert.Empty(t, sess.Turns())
	assert.Empty(t, sess.Records())
}

func TestServer_UnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRetriever{}, extractive.New(1))

	resp, err := http.Get(ts.URL + "/v1/sessions/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_found", body.Code)
	assert.Equal(t, domain.ErrSessionNotFound.Error(), body.Message)
}

func TestServer_DeleteSession(t *testing.T) {
	ts, store := newTestServer(t, &fakeRetriever{}, extractive.New(1))
	id := createSession(t, ts)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/sessions/"+id, http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, store.Len())
}

func TestServer_EmptyMessageRejected(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRetriever{}, extractive.New(1))
	id := createSession(t, ts)

	resp, _ := postMessage(t, ts, id, "   ")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Search(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRetriever{}, extractive.New(1))

	resp, err := http.Get(ts.URL + "/v1/search?q=compost&k=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []struct {
			ChunkID string  `json:"chunk_id"`
			Score   float64 `json:"score"`
			Text    string  `json:"text"`
		} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "dining:0", body.Results[0].ChunkID)

	for _, bad := range []string{"/v1/search", "/v1/search?q=x&k=0", "/v1/search?q=x&k=many"} {
		resp, err := http.Get(ts.URL + bad)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}
}

func TestServer_HealthAndRequestID(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRetriever{}, extractive.New(1))

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"generator":"extractive"`)
	assert.Contains(t, string(body), `"chunks":2`)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

package assist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicknochnack/whisperd/chat"
	"github.com/nicknochnack/whisperd/session"
)

type stubGenerator struct {
	lastPrompt string
	response   string
	err        error
	chunks     []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.lastPrompt = prompt
	return g.response, g.err
}

func (g *stubGenerator) Stream(_ context.Context, prompt string) (<-chan string, error) {
	g.lastPrompt = prompt
	if g.err != nil {
		return nil, g.err
	}
	out := make(chan string, len(g.chunks))
	for _, c := range g.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

type stubRetriever struct {
	lastQuery string
	passages  []string
	err       error
}

func (r *stubRetriever) Retrieve(_ context.Context, query string) ([]string, error) {
	r.lastQuery = query
	return r.passages, r.err
}

func conversation() []chat.Message {
	return []chat.Message{
		{Role: chat.RoleClient, Text: "hi there"},
		{Role: chat.RoleBot, Text: "hello, how can I help?"},
		{Role: chat.RoleClient, Text: "what is watsonx?"},
	}
}

func newTestService(gen Generator, retr Retriever) (*Service, *session.Store) {
	sessions := session.NewStore()
	sessions.Set("s1", session.State{Messages: conversation()})
	return NewService(gen, retr, sessions), sessions
}

func taskOutput(t *testing.T, sessions *session.Store, sid string) string {
	t.Helper()
	st, ok := sessions.Get(sid)
	require.True(t, ok)
	return st.TaskOutput
}

func TestInterpretLastQuestionUsesLastClientMessage(t *testing.T) {
	gen := &stubGenerator{response: "watsonx is an AI platform"}
	retr := &stubRetriever{passages: []string{"watsonx overview passage"}}
	svc, sessions := newTestService(gen, retr)

	svc.Run(context.Background(), "s1", ModeInterpretLast)

	assert.Equal(t, "what is watsonx?", retr.lastQuery)
	assert.Contains(t, gen.lastPrompt, "watsonx overview passage")
	assert.Equal(t, "watsonx is an AI platform", taskOutput(t, sessions, "s1"))
}

func TestInterpretConversationQueriesAllClientMessages(t *testing.T) {
	gen := &stubGenerator{response: "they want product help"}
	retr := &stubRetriever{passages: []string{"p"}}
	svc, sessions := newTestService(gen, retr)

	svc.Run(context.Background(), "s1", ModeInterpretConversation)

	assert.Contains(t, retr.lastQuery, "hi there")
	assert.Contains(t, retr.lastQuery, "what is watsonx?")
	assert.NotContains(t, retr.lastQuery, "how can I help", "bot messages are not part of the client query")
	assert.Equal(t, "they want product help", taskOutput(t, sessions, "s1"))
}

func TestSummariseUsesWholeConversationWithoutRetrieval(t *testing.T) {
	gen := &stubGenerator{response: "a short summary"}
	retr := &stubRetriever{err: errors.New("must not be called")}
	svc, sessions := newTestService(gen, retr)

	svc.Run(context.Background(), "s1", ModeSummarise)

	assert.Empty(t, retr.lastQuery, "summarise does not retrieve")
	assert.Contains(t, gen.lastPrompt, "hello, how can I help?")
	assert.Equal(t, "a short summary", taskOutput(t, sessions, "s1"))
}

func TestMissingDocumentStoreYieldsSentinel(t *testing.T) {
	gen := &stubGenerator{response: "unused"}
	svc, sessions := newTestService(gen, nil)

	svc.Run(context.Background(), "s1", ModeInterpretLast)

	assert.Equal(t, DocumentNotLoaded, taskOutput(t, sessions, "s1"))
}

func TestEmptyRetrievalYieldsSentinel(t *testing.T) {
	gen := &stubGenerator{response: "unused"}
	retr := &stubRetriever{passages: nil}
	svc, sessions := newTestService(gen, retr)

	svc.Run(context.Background(), "s1", ModeInterpretLast)

	assert.Equal(t, DocumentNotLoaded, taskOutput(t, sessions, "s1"))
}

func TestGenerationFailureKeepsHistoryIntact(t *testing.T) {
	gen := &stubGenerator{err: errors.New("model timeout")}
	retr := &stubRetriever{passages: []string{"p"}}
	svc, sessions := newTestService(gen, retr)

	svc.Run(context.Background(), "s1", ModeInterpretLast)

	st, _ := sessions.Get("s1")
	assert.Equal(t, conversation(), st.Messages, "prior messages must remain valid")
	assert.Contains(t, st.TaskOutput, "model timeout", "the failure is surfaced, not dropped")
}

func TestStreamingAccumulatesChunks(t *testing.T) {
	gen := &stubGenerator{chunks: []string{"wat", "sonx", " rocks"}}
	retr := &stubRetriever{passages: []string{"p"}}
	svc, sessions := newTestService(gen, retr)
	svc.SetStreaming(true)

	svc.Run(context.Background(), "s1", ModeInterpretLast)

	assert.Equal(t, "watsonx rocks", taskOutput(t, sessions, "s1"))
}

func TestRunOnEmptyConversation(t *testing.T) {
	gen := &stubGenerator{response: "unused"}
	retr := &stubRetriever{passages: []string{"p"}}
	svc, sessions := newTestService(gen, retr)
	sessions.Set("s1", session.State{})

	svc.Run(context.Background(), "s1", ModeInterpretLast)

	assert.Equal(t, "No client messages yet", taskOutput(t, sessions, "s1"))
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"interpret_last_question", "interpret_conversation", "summarise_conversation"} {
		_, err := ParseMode(valid)
		assert.NoError(t, err)
	}
	_, err := ParseMode("translate")
	assert.Error(t, err)
}

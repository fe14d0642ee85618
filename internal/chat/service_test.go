package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildmaster/buildmaster/internal/conversation"
	"github.com/buildmaster/buildmaster/internal/knowledge"
	"github.com/buildmaster/buildmaster/internal/llm"
	"github.com/buildmaster/buildmaster/internal/log"
	"github.com/buildmaster/buildmaster/internal/retrieval"
)

// fakeRetriever returns canned snippets.
type fakeRetriever struct {
	snippets []retrieval.Snippet
	err      error
	gotQuery string
	gotTopK  int
}

func (f *fakeRetriever) Search(_ context.Context, query string, topK int) ([]retrieval.Snippet, error) {
	f.gotQuery = query
	f.gotTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.snippets, nil
}

// fakeLLM returns a canned reply and counts calls.
type fakeLLM struct {
	reply    string
	errs     []error // consumed one per call; nil entry means success
	calls    int
	lastReq  llm.Request
	requests []llm.Request
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	f.lastReq = req
	f.requests = append(f.requests, req)
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.reply, nil
}

func (f *fakeLLM) Stream(ctx context.Context, req llm.Request, fn func(string) error) (string, error) {
	text, err := f.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if fn != nil {
		if err := fn(text); err != nil {
			return "", err
		}
	}
	return text, nil
}

// fakeConvStore is an in-memory ConversationStore.
type fakeConvStore struct {
	convs    map[string]*conversation.Conversation
	messages map[string][]conversation.Message
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{
		convs:    make(map[string]*conversation.Conversation),
		messages: make(map[string][]conversation.Message),
	}
}

func (f *fakeConvStore) AppendTurn(_ context.Context, params conversation.TurnParams) (conversation.Conversation, error) {
	conv, ok := f.convs[params.SessionID]
	if !ok {
		convType := params.Type
		if convType == "" {
			convType = conversation.TypeGeneral
		}
		conv = &conversation.Conversation{
			ID:        uuid.New(),
			SessionID: params.SessionID,
			UserID:    params.UserID,
			Topic:     params.Topic,
			ModelName: params.ModelName,
			Type:      convType,
		}
		f.convs[params.SessionID] = conv
	}
	seq := len(f.messages[params.SessionID])
	f.messages[params.SessionID] = append(f.messages[params.SessionID],
		conversation.Message{Role: conversation.RoleUser, Content: params.UserMessage, SequenceNumber: seq + 1},
		conversation.Message{
			Role: conversation.RoleAssistant, Content: params.AssistantMessage, SequenceNumber: seq + 2,
			UsedRAG: params.UsedRAG, RetrievedDocuments: params.RetrievedDocuments,
		},
	)
	conv.TurnCount++
	return *conv, nil
}

func (f *fakeConvStore) RecentMessages(_ context.Context, sessionID string, n int) ([]conversation.Message, error) {
	msgs := f.messages[sessionID]
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func (f *fakeConvStore) GetBySessionID(_ context.Context, sessionID string) (conversation.Conversation, []conversation.Message, error) {
	conv, ok := f.convs[sessionID]
	if !ok {
		return conversation.Conversation{}, nil, conversation.ErrNotFound
	}
	return *conv, f.messages[sessionID], nil
}

func (f *fakeConvStore) ListByUser(_ context.Context, userID string) ([]conversation.Conversation, error) {
	var out []conversation.Conversation
	for _, c := range f.convs {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeConvStore) Delete(_ context.Context, sessionID string) error {
	if _, ok := f.convs[sessionID]; !ok {
		return conversation.ErrNotFound
	}
	delete(f.convs, sessionID)
	delete(f.messages, sessionID)
	return nil
}

// fakeKnowledge is an in-memory KnowledgeStore plus Vectorizer.
type fakeKnowledge struct {
	items        map[uuid.UUID]knowledge.Item
	vectorizeErr error
	nextVID      int64
	backlogRuns  int
}

func newFakeKnowledge() *fakeKnowledge {
	return &fakeKnowledge{items: make(map[uuid.UUID]knowledge.Item)}
}

func (f *fakeKnowledge) Create(_ context.Context, params knowledge.CreateParams) (knowledge.Item, error) {
	if strings.TrimSpace(params.Content) == "" {
		return knowledge.Item{}, knowledge.ErrEmptyContent
	}
	source := params.Source
	if source == "" {
		source = knowledge.SourceManual
	}
	it := knowledge.Item{
		ID:            uuid.New(),
		ComponentID:   params.ComponentID,
		ComponentType: params.ComponentType,
		Content:       params.Content,
		Source:        source,
		Tags:          params.Tags,
	}
	f.items[it.ID] = it
	return it, nil
}

func (f *fakeKnowledge) Get(_ context.Context, id uuid.UUID) (knowledge.Item, error) {
	it, ok := f.items[id]
	if !ok {
		return knowledge.Item{}, knowledge.ErrNotFound
	}
	return it, nil
}

func (f *fakeKnowledge) Count(_ context.Context) (int64, int64, error) {
	var unvectorized int64
	for _, it := range f.items {
		if !it.Vectorized {
			unvectorized++
		}
	}
	return int64(len(f.items)), unvectorized, nil
}

func (f *fakeKnowledge) VectorizeBacklog(ctx context.Context) (knowledge.Report, error) {
	f.backlogRuns++
	var report knowledge.Report
	for id, it := range f.items {
		if it.Vectorized {
			continue
		}
		if err := f.VectorizeItem(ctx, id); err != nil {
			report.Failed++
			continue
		}
		report.Processed++
	}
	return report, nil
}

func (f *fakeKnowledge) VectorizeItem(_ context.Context, id uuid.UUID) error {
	if f.vectorizeErr != nil {
		return f.vectorizeErr
	}
	it, ok := f.items[id]
	if !ok {
		return knowledge.ErrNotFound
	}
	if it.Vectorized {
		return nil
	}
	f.nextVID++
	vid := f.nextVID
	it.VectorID = &vid
	it.Vectorized = true
	f.items[id] = it
	return nil
}

func (f *fakeKnowledge) DeleteItem(_ context.Context, id uuid.UUID) error {
	if _, ok := f.items[id]; !ok {
		return knowledge.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

type testDeps struct {
	retriever *fakeRetriever
	llm       *fakeLLM
	convs     *fakeConvStore
	knowledge *fakeKnowledge
}

func newTestService(t *testing.T, opts Options) (*Service, *testDeps) {
	t.Helper()
	deps := &testDeps{
		retriever: &fakeRetriever{},
		llm:       &fakeLLM{reply: "a sensible build suggestion"},
		convs:     newFakeConvStore(),
		knowledge: newFakeKnowledge(),
	}
	if opts.Retry == (RetryConfig{}) {
		// Fast retries keep failure-path tests quick.
		opts.Retry = RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	}
	svc := NewService(deps.retriever, deps.llm, deps.convs, deps.knowledge, deps.knowledge, opts, log.NewNop())
	return svc, deps
}

func TestChatNewSession(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{ModelName: "llama3.1"})

	res, err := svc.Chat(context.Background(), Request{UserID: "user-1", Message: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SessionID, "a session id is generated when absent")
	assert.Equal(t, 1, res.TurnCount)
	assert.Equal(t, "a sensible build suggestion", res.Reply)
	assert.Empty(t, res.Sources)

	_, msgs, err := deps.convs.GetBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.False(t, msgs[1].UsedRAG)
	assert.Empty(t, msgs[1].RetrievedDocuments)

	// Plain chat never touches the retriever.
	assert.Empty(t, deps.retriever.gotQuery)
}

func TestChatEmptyMessage(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Options{})

	_, err := svc.Chat(context.Background(), Request{Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.ChatWithRAG(context.Background(), Request{Message: ""})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestChatContinuesSession(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{})
	ctx := context.Background()

	first, err := svc.Chat(ctx, Request{UserID: "u", Message: "first"})
	require.NoError(t, err)

	res, err := svc.Chat(ctx, Request{SessionID: first.SessionID, UserID: "u", Message: "second"})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, res.SessionID)
	assert.Equal(t, 2, res.TurnCount)

	// The second call replays the first turn as history.
	require.Len(t, deps.llm.lastReq.History, 2)
	assert.Equal(t, "first", deps.llm.lastReq.History[0].Content)
	assert.Equal(t, "second", deps.llm.lastReq.Prompt)
}

func TestChatWithRAG(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{DefaultTopK: 5})
	deps.retriever.snippets = []retrieval.Snippet{
		{Content: "RTX 4070 Super, 12GB", Score: 0.9},
		{Content: "RX 7800 XT, 16GB", Score: 0.7},
	}

	res, err := svc.ChatWithRAG(context.Background(), Request{UserID: "u", Message: "which GPU?"})
	require.NoError(t, err)
	assert.Equal(t, 5, deps.retriever.gotTopK)
	assert.Len(t, res.Sources, 2)

	// Context is folded into the system prompt.
	assert.Contains(t, deps.llm.lastReq.System, "RTX 4070 Super")

	_, msgs, err := deps.convs.GetBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].UsedRAG)
	assert.Equal(t, []string{"RTX 4070 Super, 12GB", "RX 7800 XT, 16GB"}, msgs[1].RetrievedDocuments)
}

func TestChatWithRAGExplicitTopK(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{DefaultTopK: 5})

	_, err := svc.ChatWithRAG(context.Background(), Request{Message: "query", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, deps.retriever.gotTopK)
}

func TestChatWithRAGEmptyIndex(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{})
	// No snippets: the turn proceeds with the bare persona.

	res, err := svc.ChatWithRAG(context.Background(), Request{Message: "anything"})
	require.NoError(t, err)
	assert.Equal(t, systemPrompt, deps.llm.lastReq.System)

	_, msgs, err := deps.convs.GetBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.True(t, msgs[1].UsedRAG)
	assert.Empty(t, msgs[1].RetrievedDocuments)
}

func TestChatWithRAGRetrievalFailureAbortsTurn(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{})
	deps.retriever.err = errors.New("index unreachable")

	_, err := svc.ChatWithRAG(context.Background(), Request{SessionID: "sess-x", Message: "query"})
	assert.ErrorIs(t, err, ErrRetrieval)

	// Nothing was persisted.
	_, _, err = deps.convs.GetBySessionID(context.Background(), "sess-x")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
	assert.Zero(t, deps.llm.calls, "generation must not run after retrieval fails")
}

func TestChatGenerationFailureAbortsTurn(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{})
	deps.llm.errs = []error{errors.New("model exploded")} // not retryable

	_, err := svc.Chat(context.Background(), Request{SessionID: "sess-y", Message: "hi"})
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Equal(t, 1, deps.llm.calls, "permanent errors are not retried")

	_, _, err = deps.convs.GetBySessionID(context.Background(), "sess-y")
	assert.ErrorIs(t, err, conversation.ErrNotFound, "no partial turn may be written")
}

func TestChatRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{})
	deps.llm.errs = []error{
		errors.New("503 service unavailable"),
		errors.New("rate limit exceeded"),
		nil,
	}

	res, err := svc.Chat(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 3, deps.llm.calls)
	assert.Equal(t, 1, res.TurnCount)
}

func TestChatRetriesExhausted(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{})
	deps.llm.errs = []error{
		errors.New("timeout"),
		errors.New("timeout"),
		errors.New("timeout"),
		errors.New("timeout"),
	}

	_, err := svc.Chat(context.Background(), Request{Message: "hi"})
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Equal(t, 3, deps.llm.calls, "initial attempt plus MaxRetries")
}

func TestRecommend(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{RecommendTopK: 10})
	deps.retriever.snippets = []retrieval.Snippet{{Content: "RTX 4090", Score: 0.8}}

	res, err := svc.Recommend(context.Background(), RecommendRequest{
		UserID:      "u",
		Requirement: "4K gaming and streaming",
		Budget:      "3000 EUR",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.SessionID, "recommend_"))
	assert.Equal(t, 10, deps.retriever.gotTopK)
	assert.Contains(t, deps.retriever.gotQuery, "4K gaming")
	assert.Contains(t, deps.llm.lastReq.Prompt, "Budget: 3000 EUR")
	assert.Contains(t, deps.llm.lastReq.Prompt, "CPU, motherboard, memory, graphics card, storage, power supply, case and cooling")
	assert.Contains(t, deps.llm.lastReq.Prompt, "Compatibility across all components")
	assert.Contains(t, deps.llm.lastReq.Prompt, "value analysis")
	assert.Empty(t, deps.llm.lastReq.History, "recommendations never resume a session")

	conv, msgs, err := deps.convs.GetBySessionID(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, conversation.TypeRecommendation, conv.Type)
	assert.Equal(t, "Component recommendation", conv.Topic)
	assert.Equal(t, 1, conv.TurnCount)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].UsedRAG)
}

func TestRecommendEmptyRequirement(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Options{})
	_, err := svc.Recommend(context.Background(), RecommendRequest{Requirement: " "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestDeleteThenChatStartsFresh(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	first, err := svc.Chat(ctx, Request{SessionID: "sess-d", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.TurnCount)

	require.NoError(t, svc.DeleteConversation(ctx, "sess-d"))

	res, err := svc.Chat(ctx, Request{SessionID: "sess-d", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TurnCount, "a deleted session restarts from scratch")
}

func TestDeleteConversationNotFound(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Options{})
	err := svc.DeleteConversation(context.Background(), "missing")
	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestLearnKnowledge(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, Options{})
	componentID := int64(9)

	item, err := svc.LearnKnowledge(context.Background(), LearnRequest{
		Content:       "Noctua NH-D15, dual tower air cooler",
		ComponentID:   &componentID,
		ComponentType: "cooler",
	})
	require.NoError(t, err)
	assert.True(t, item.Vectorized)
	require.NotNil(t, item.VectorID)
	assert.Equal(t, knowledge.SourceManual, item.Source)
}

func TestDeleteKnowledge(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{})

	item, err := svc.LearnKnowledge(context.Background(), LearnRequest{Content: "outdated entry"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteKnowledge(context.Background(), item.ID))
	_, err = deps.knowledge.Get(context.Background(), item.ID)
	assert.ErrorIs(t, err, knowledge.ErrNotFound)

	assert.ErrorIs(t, svc.DeleteKnowledge(context.Background(), uuid.New()), knowledge.ErrNotFound)
}

func TestLearnKnowledgeVectorizeFailureKeepsItem(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{})
	deps.knowledge.vectorizeErr = errors.New("index down")

	item, err := svc.LearnKnowledge(context.Background(), LearnRequest{Content: "entry"})
	require.Error(t, err)
	assert.NotEqual(t, uuid.Nil, item.ID, "the item is stored for the next backlog run")

	_, unvectorized, cerr := deps.knowledge.Count(context.Background())
	require.NoError(t, cerr)
	assert.EqualValues(t, 1, unvectorized)
}

func TestSearchKnowledgeDefaultsTopK(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{DefaultTopK: 7})

	_, err := svc.SearchKnowledge(context.Background(), "query", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, deps.retriever.gotTopK)
}

func TestVectorizeBacklogPassthrough(t *testing.T) {
	t.Parallel()

	svc, deps := newTestService(t, Options{})
	_, err := deps.knowledge.Create(context.Background(), knowledge.CreateParams{Content: "one"})
	require.NoError(t, err)

	report, err := svc.VectorizeBacklog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, knowledge.Report{Processed: 1}, report)
	assert.Equal(t, 1, deps.knowledge.backlogRuns)
}

// Package chat orchestrates the conversation flows: plain chat, RAG chat,
// build recommendations, and knowledge management.
//
// A turn runs retrieval and generation first and persists last, so a
// failure at any stage leaves the conversation untouched. Partial turns
// (a user message without its assistant reply) are never written.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/buildmaster/buildmaster/internal/conversation"
	"github.com/buildmaster/buildmaster/internal/knowledge"
	"github.com/buildmaster/buildmaster/internal/llm"
	"github.com/buildmaster/buildmaster/internal/log"
	"github.com/buildmaster/buildmaster/internal/retrieval"
)

// Retriever finds knowledge snippets for a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]retrieval.Snippet, error)
}

// ConversationStore is the slice of the conversation store the service
// needs.
type ConversationStore interface {
	AppendTurn(ctx context.Context, params conversation.TurnParams) (conversation.Conversation, error)
	RecentMessages(ctx context.Context, sessionID string, n int) ([]conversation.Message, error)
	GetBySessionID(ctx context.Context, sessionID string) (conversation.Conversation, []conversation.Message, error)
	ListByUser(ctx context.Context, userID string) ([]conversation.Conversation, error)
	Delete(ctx context.Context, sessionID string) error
}

// KnowledgeStore is the slice of the knowledge store the service needs.
type KnowledgeStore interface {
	Create(ctx context.Context, params knowledge.CreateParams) (knowledge.Item, error)
	Get(ctx context.Context, id uuid.UUID) (knowledge.Item, error)
	Count(ctx context.Context) (total, unvectorized int64, err error)
}

// Vectorizer drives knowledge items into and out of the vector index.
type Vectorizer interface {
	VectorizeBacklog(ctx context.Context) (knowledge.Report, error)
	VectorizeItem(ctx context.Context, id uuid.UUID) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
}

// Options tune the service. Zero values fall back to the defaults noted on
// each field.
type Options struct {
	ModelName     string      // recorded on new conversations
	DefaultTopK   int         // RAG chat retrieval depth, default 5
	RecommendTopK int         // recommendation retrieval depth, default 10
	HistoryWindow int         // prompt history in messages, default 10
	Retry         RetryConfig // zero value means DefaultRetryConfig
	RateLimit     *rate.Limiter
}

// Service is the top-level conversation orchestrator.
type Service struct {
	retriever  Retriever
	llm        llm.Client
	convs      ConversationStore
	items      KnowledgeStore
	vectorizer Vectorizer

	modelName     string
	defaultTopK   int
	recommendTopK int
	historyWindow int
	retry         RetryConfig
	limiter       *rate.Limiter
	logger        log.Logger
}

// NewService wires the orchestrator.
func NewService(retriever Retriever, llmClient llm.Client, convs ConversationStore, items KnowledgeStore, vectorizer Vectorizer, opts Options, logger log.Logger) *Service {
	if opts.DefaultTopK < 1 {
		opts.DefaultTopK = 5
	}
	if opts.RecommendTopK < 1 {
		opts.RecommendTopK = 10
	}
	if opts.HistoryWindow < 1 {
		opts.HistoryWindow = 10
	}
	if opts.Retry == (RetryConfig{}) {
		opts.Retry = DefaultRetryConfig()
	}

	return &Service{
		retriever:     retriever,
		llm:           llmClient,
		convs:         convs,
		items:         items,
		vectorizer:    vectorizer,
		modelName:     opts.ModelName,
		defaultTopK:   opts.DefaultTopK,
		recommendTopK: opts.RecommendTopK,
		historyWindow: opts.HistoryWindow,
		retry:         opts.Retry,
		limiter:       opts.RateLimit,
		logger:        logger,
	}
}

// Request is a chat invocation. An empty SessionID starts a new session.
type Request struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	TopK      int    `json:"topK"` // RAG only; 0 means the configured default
}

// Result is a completed turn.
type Result struct {
	SessionID string              `json:"sessionId"`
	Reply     string              `json:"reply"`
	TurnCount int                 `json:"turnCount"`
	Sources   []retrieval.Snippet `json:"sources,omitempty"`
}

// Chat runs one plain turn: history in, reply out, then persist.
func (s *Service) Chat(ctx context.Context, req Request) (*Result, error) {
	return s.turn(ctx, req, false)
}

// ChatWithRAG runs one retrieval-augmented turn. Retrieval failures abort
// the turn; nothing is persisted.
func (s *Service) ChatWithRAG(ctx context.Context, req Request) (*Result, error) {
	return s.turn(ctx, req, true)
}

func (s *Service) turn(ctx context.Context, req Request, useRAG bool) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var snippets []retrieval.Snippet
	var contextBlock string
	if useRAG {
		topK := req.TopK
		if topK == 0 {
			topK = s.defaultTopK
		}
		var err error
		snippets, err = s.retriever.Search(ctx, req.Message, topK)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
		}
		contextBlock = buildContext(snippets)
	}

	history, err := s.convs.RecentMessages(ctx, sessionID, s.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	reply, err := s.generateWithRetry(ctx, buildRequest(contextBlock, history, s.historyWindow, req.Message))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	params := conversation.TurnParams{
		SessionID:        sessionID,
		UserID:           req.UserID,
		UserMessage:      req.Message,
		AssistantMessage: reply,
		ModelName:        s.modelName,
	}
	if useRAG {
		params.UsedRAG = true
		params.RetrievedDocuments = snippetContents(snippets)
	}

	conv, err := s.convs.AppendTurn(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return &Result{
		SessionID: sessionID,
		Reply:     reply,
		TurnCount: conv.TurnCount,
		Sources:   snippets,
	}, nil
}

// RecommendRequest asks for a complete build proposal.
type RecommendRequest struct {
	UserID      string `json:"userId"`
	Requirement string `json:"requirement"`
	Budget      string `json:"budget"`
}

// Recommend runs a one-shot recommendation flow: always a fresh session,
// always retrieval-augmented at the recommendation depth.
func (s *Service) Recommend(ctx context.Context, req RecommendRequest) (*Result, error) {
	if strings.TrimSpace(req.Requirement) == "" {
		return nil, ErrEmptyMessage
	}

	requirement := req.Requirement
	if strings.TrimSpace(req.Budget) != "" {
		requirement += "\nBudget: " + req.Budget
	}
	prompt := fmt.Sprintf(recommendPromptTemplate, requirement)

	snippets, err := s.retriever.Search(ctx, requirement, s.recommendTopK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	reply, err := s.generateWithRetry(ctx, buildRequest(buildContext(snippets), nil, s.historyWindow, prompt))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	sessionID := "recommend_" + uuid.NewString()
	conv, err := s.convs.AppendTurn(ctx, conversation.TurnParams{
		SessionID:          sessionID,
		UserID:             req.UserID,
		UserMessage:        prompt,
		AssistantMessage:   reply,
		UsedRAG:            true,
		RetrievedDocuments: snippetContents(snippets),
		Type:               conversation.TypeRecommendation,
		Topic:              "Component recommendation",
		ModelName:          s.modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	return &Result{
		SessionID: sessionID,
		Reply:     reply,
		TurnCount: conv.TurnCount,
		Sources:   snippets,
	}, nil
}

// LearnRequest adds one knowledge entry.
type LearnRequest struct {
	Content       string   `json:"content"`
	ComponentID   *int64   `json:"componentId,omitempty"`
	ComponentType string   `json:"componentType,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// LearnKnowledge stores a manual knowledge entry and vectorizes it
// immediately instead of waiting for the next backlog run.
func (s *Service) LearnKnowledge(ctx context.Context, req LearnRequest) (knowledge.Item, error) {
	item, err := s.items.Create(ctx, knowledge.CreateParams{
		ComponentID:   req.ComponentID,
		ComponentType: req.ComponentType,
		Content:       req.Content,
		Source:        knowledge.SourceManual,
		Tags:          req.Tags,
	})
	if err != nil {
		return knowledge.Item{}, err
	}

	if err := s.vectorizer.VectorizeItem(ctx, item.ID); err != nil {
		// The item is stored and stays in the backlog for the next run.
		return item, fmt.Errorf("vectorizing new knowledge: %w", err)
	}

	return s.items.Get(ctx, item.ID)
}

// DeleteKnowledge removes a knowledge entry together with its indexed
// vector.
func (s *Service) DeleteKnowledge(ctx context.Context, id uuid.UUID) error {
	return s.vectorizer.DeleteItem(ctx, id)
}

// SearchKnowledge exposes retrieval directly.
func (s *Service) SearchKnowledge(ctx context.Context, query string, topK int) ([]retrieval.Snippet, error) {
	if topK == 0 {
		topK = s.defaultTopK
	}
	return s.retriever.Search(ctx, query, topK)
}

// Conversations lists a user's conversations, most recently active first.
func (s *Service) Conversations(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	return s.convs.ListByUser(ctx, userID)
}

// Conversation returns one session's record and full message log.
func (s *Service) Conversation(ctx context.Context, sessionID string) (conversation.Conversation, []conversation.Message, error) {
	return s.convs.GetBySessionID(ctx, sessionID)
}

// DeleteConversation removes a session. Chatting on the same session id
// afterwards starts a brand-new conversation.
func (s *Service) DeleteConversation(ctx context.Context, sessionID string) error {
	return s.convs.Delete(ctx, sessionID)
}

// VectorizeBacklog runs the batch vectorizer once.
func (s *Service) VectorizeBacklog(ctx context.Context) (knowledge.Report, error) {
	return s.vectorizer.VectorizeBacklog(ctx)
}

// KnowledgeCounts reports knowledge store totals for readiness and ops
// visibility.
func (s *Service) KnowledgeCounts(ctx context.Context) (total, unvectorized int64, err error) {
	return s.items.Count(ctx)
}

func snippetContents(snippets []retrieval.Snippet) []string {
	if len(snippets) == 0 {
		return nil
	}
	out := make([]string, len(snippets))
	for i, s := range snippets {
		out[i] = s.Content
	}
	return out
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/buildmaster/buildmaster/internal/chat"
	"github.com/buildmaster/buildmaster/internal/conversation"
	"github.com/buildmaster/buildmaster/internal/embedding"
	"github.com/buildmaster/buildmaster/internal/knowledge"
	"github.com/buildmaster/buildmaster/internal/llm"
	"github.com/buildmaster/buildmaster/internal/log"
	"github.com/buildmaster/buildmaster/internal/retrieval"
	"github.com/buildmaster/buildmaster/internal/vecindex"
)

// ChatService is the orchestrator surface the handlers expose.
type ChatService interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Result, error)
	ChatWithRAG(ctx context.Context, req chat.Request) (*chat.Result, error)
	Recommend(ctx context.Context, req chat.RecommendRequest) (*chat.Result, error)
	LearnKnowledge(ctx context.Context, req chat.LearnRequest) (knowledge.Item, error)
	DeleteKnowledge(ctx context.Context, id uuid.UUID) error
	SearchKnowledge(ctx context.Context, query string, topK int) ([]retrieval.Snippet, error)
	Conversations(ctx context.Context, userID string) ([]conversation.Conversation, error)
	Conversation(ctx context.Context, sessionID string) (conversation.Conversation, []conversation.Message, error)
	DeleteConversation(ctx context.Context, sessionID string) error
	VectorizeBacklog(ctx context.Context) (knowledge.Report, error)
}

type chatHandler struct {
	service ChatService
	logger  log.Logger
}

// writeServiceError maps component errors onto HTTP statuses: invalid
// input is 400, unknown resources 404, a busy batch 409, transient backend
// failures 502, everything else 500.
func (h *chatHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, retrieval.ErrEmptyQuery),
		errors.Is(err, retrieval.ErrInvalidTopK),
		errors.Is(err, knowledge.ErrEmptyContent),
		errors.Is(err, knowledge.ErrInvalidSource),
		errors.Is(err, conversation.ErrInvalidTurn),
		errors.Is(err, embedding.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)

	case errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, knowledge.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), h.logger)

	case errors.Is(err, knowledge.ErrBatchRunning):
		writeError(w, http.StatusConflict, "batch_running", err.Error(), h.logger)

	case errors.Is(err, llm.ErrInference),
		errors.Is(err, vecindex.ErrUnavailable),
		errors.Is(err, embedding.ErrUnavailable):
		h.logger.Warn("upstream failure", "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), h.logger)

	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger log.Logger) bool {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "malformed request body", logger)
		return false
	}
	return true
}

func (h *chatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	res, err := h.service.Chat(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res, h.logger)
}

func (h *chatHandler) chatWithRAG(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	res, err := h.service.ChatWithRAG(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res, h.logger)
}

func (h *chatHandler) recommend(w http.ResponseWriter, r *http.Request) {
	var req chat.RecommendRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	res, err := h.service.Recommend(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res, h.logger)
}

// knowledgeItemResponse is the wire shape of a knowledge entry.
type knowledgeItemResponse struct {
	ID            string   `json:"id"`
	ComponentID   *int64   `json:"componentId,omitempty"`
	ComponentType string   `json:"componentType,omitempty"`
	Content       string   `json:"content"`
	Source        string   `json:"source"`
	Tags          []string `json:"tags,omitempty"`
	VectorID      *int64   `json:"vectorId,omitempty"`
	Vectorized    bool     `json:"vectorized"`
}

func toKnowledgeItemResponse(it knowledge.Item) knowledgeItemResponse {
	return knowledgeItemResponse{
		ID:            it.ID.String(),
		ComponentID:   it.ComponentID,
		ComponentType: it.ComponentType,
		Content:       it.Content,
		Source:        it.Source,
		Tags:          it.Tags,
		VectorID:      it.VectorID,
		Vectorized:    it.Vectorized,
	}
}

func (h *chatHandler) addKnowledge(w http.ResponseWriter, r *http.Request) {
	var req chat.LearnRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	item, err := h.service.LearnKnowledge(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toKnowledgeItemResponse(item), h.logger)
}

func (h *chatHandler) deleteKnowledge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "id must be a UUID", h.logger)
		return
	}

	if err := h.service.DeleteKnowledge(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *chatHandler) searchKnowledge(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	topK := 0
	if raw := r.URL.Query().Get("topK"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "topK must be an integer", h.logger)
			return
		}
		topK = n
	}

	snippets, err := h.service.SearchKnowledge(r.Context(), query, topK)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if snippets == nil {
		snippets = []retrieval.Snippet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": snippets}, h.logger)
}

func (h *chatHandler) vectorizeBacklog(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.VectorizeBacklog(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report, h.logger)
}

// conversationResponse is the wire shape of a conversation summary.
type conversationResponse struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	Type      string `json:"type"`
	Topic     string `json:"topic,omitempty"`
	TurnCount int    `json:"turnCount"`
	UpdatedAt string `json:"updatedAt"`
}

func toConversationResponse(c conversation.Conversation) conversationResponse {
	return conversationResponse{
		SessionID: c.SessionID,
		UserID:    c.UserID,
		Type:      c.Type,
		Topic:     c.Topic,
		TurnCount: c.TurnCount,
		UpdatedAt: c.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *chatHandler) listConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "userId is required", h.logger)
		return
	}

	convs, err := h.service.Conversations(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out}, h.logger)
}

type messageResponse struct {
	Role               string   `json:"role"`
	Content            string   `json:"content"`
	SequenceNumber     int      `json:"sequenceNumber"`
	UsedRAG            bool     `json:"usedRag"`
	RetrievedDocuments []string `json:"retrievedDocuments,omitempty"`
}

func (h *chatHandler) getConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	conv, msgs, err := h.service.Conversation(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			Role:               m.Role,
			Content:            m.Content,
			SequenceNumber:     m.SequenceNumber,
			UsedRAG:            m.UsedRAG,
			RetrievedDocuments: m.RetrievedDocuments,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": toConversationResponse(conv),
		"messages":     out,
	}, h.logger)
}

func (h *chatHandler) deleteConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")

	if err := h.service.DeleteConversation(r.Context(), sessionID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

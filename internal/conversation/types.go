// Package conversation persists chat history keyed by session id.
//
// A conversation is one session's ordered message log plus bookkeeping.
// Messages are appended strictly in user/assistant pairs; AppendTurn is the
// only write path and serializes concurrent appends to the same session
// with a row lock.
package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation types.
const (
	TypeGeneral        = "general"
	TypeRecommendation = "recommendation"
	TypeQuestion       = "question"
)

// Store errors.
var (
	// ErrNotFound is returned when no conversation matches the session id.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidTurn is returned when turn parameters violate the message
	// invariants, e.g. retrieved documents on a non-RAG turn.
	ErrInvalidTurn = errors.New("invalid turn")
)

// Conversation is one session's chat record.
type Conversation struct {
	ID        uuid.UUID
	SessionID string
	UserID    string
	Topic     string
	ModelName string
	Type      string
	TurnCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single utterance in a conversation. SequenceNumber starts
// at 1 and is dense within a conversation. RetrievedDocuments holds the
// knowledge snippets behind an assistant reply and is non-empty only when
// UsedRAG is true.
type Message struct {
	ID                 uuid.UUID
	ConversationID     uuid.UUID
	Role               string
	Content            string
	SequenceNumber     int
	UsedRAG            bool
	RetrievedDocuments []string
	CreatedAt          time.Time
}

// TurnParams describe one user/assistant exchange to append.
type TurnParams struct {
	SessionID        string
	UserID           string
	UserMessage      string
	AssistantMessage string

	// UsedRAG and RetrievedDocuments apply to the assistant message.
	UsedRAG            bool
	RetrievedDocuments []string

	// Type, Topic, and ModelName are set on the conversation when it is
	// first created; empty Type means general.
	Type      string
	Topic     string
	ModelName string
}

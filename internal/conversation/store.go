package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buildmaster/buildmaster/internal/log"
)

// Store persists conversations in PostgreSQL.
// Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a Store backed by pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

const convColumns = `id, session_id, user_id, topic, model_name, conversation_type, turn_count, created_at, updated_at`

func scanConversation(row pgx.Row) (Conversation, error) {
	var c Conversation
	var topic, modelName *string
	err := row.Scan(&c.ID, &c.SessionID, &c.UserID, &topic, &modelName, &c.Type, &c.TurnCount, &c.CreatedAt, &c.UpdatedAt)
	if topic != nil {
		c.Topic = *topic
	}
	if modelName != nil {
		c.ModelName = *modelName
	}
	return c, err
}

const msgColumns = `id, conversation_id, role, content, sequence_number, used_rag, retrieved_documents, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.SequenceNumber, &m.UsedRAG, &m.RetrievedDocuments, &m.CreatedAt)
	return m, err
}

// AppendTurn records one user/assistant exchange for a session, creating
// the conversation on first use. The whole turn is one transaction: the
// conversation row is locked for the duration, so concurrent appends to
// the same session serialize instead of interleaving sequence numbers.
func (s *Store) AppendTurn(ctx context.Context, params TurnParams) (Conversation, error) {
	if params.SessionID == "" || params.UserMessage == "" || params.AssistantMessage == "" {
		return Conversation{}, fmt.Errorf("%w: missing session id or message", ErrInvalidTurn)
	}
	if !params.UsedRAG && len(params.RetrievedDocuments) > 0 {
		return Conversation{}, fmt.Errorf("%w: retrieved documents on a non-RAG turn", ErrInvalidTurn)
	}

	convType := params.Type
	switch convType {
	case "":
		convType = TypeGeneral
	case TypeGeneral, TypeRecommendation, TypeQuestion:
	default:
		return Conversation{}, fmt.Errorf("%w: conversation type %q", ErrInvalidTurn, convType)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Conversation{}, fmt.Errorf("beginning turn transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("rolling back turn transaction", "session_id", params.SessionID, "error", err)
		}
	}()

	var modelName *string
	if params.ModelName != "" {
		modelName = &params.ModelName
	}
	var topic *string
	if params.Topic != "" {
		topic = &params.Topic
	}

	// First turn creates the conversation; ON CONFLICT makes two racing
	// first turns converge on one row.
	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (session_id, user_id, topic, model_name, conversation_type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO NOTHING`,
		params.SessionID, params.UserID, topic, modelName, convType)
	if err != nil {
		return Conversation{}, fmt.Errorf("ensuring conversation: %w", err)
	}

	conv, err := scanConversation(tx.QueryRow(ctx, `
		SELECT `+convColumns+`
		FROM conversations
		WHERE session_id = $1
		FOR UPDATE`,
		params.SessionID))
	if err != nil {
		return Conversation{}, fmt.Errorf("locking conversation: %w", err)
	}

	var maxSeq int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0)
		FROM conversation_messages
		WHERE conversation_id = $1`,
		conv.ID).Scan(&maxSeq)
	if err != nil {
		return Conversation{}, fmt.Errorf("reading max sequence: %w", err)
	}

	docs := params.RetrievedDocuments
	if docs == nil {
		docs = []string{}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO conversation_messages
			(conversation_id, role, content, sequence_number, used_rag, retrieved_documents)
		VALUES
			($1, $2, $3, $4, FALSE, '{}'),
			($1, $5, $6, $7, $8, $9)`,
		conv.ID,
		RoleUser, params.UserMessage, maxSeq+1,
		RoleAssistant, params.AssistantMessage, maxSeq+2, params.UsedRAG, docs)
	if err != nil {
		return Conversation{}, fmt.Errorf("appending messages: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE conversations
		SET turn_count = turn_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING turn_count, updated_at`,
		conv.ID).Scan(&conv.TurnCount, &conv.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("updating turn count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, fmt.Errorf("committing turn: %w", err)
	}

	s.logger.Debug("turn appended",
		"session_id", params.SessionID,
		"turn_count", conv.TurnCount,
		"used_rag", params.UsedRAG)
	return conv, nil
}

// GetBySessionID returns a conversation and its full message log in
// sequence order.
func (s *Store) GetBySessionID(ctx context.Context, sessionID string) (Conversation, []Message, error) {
	conv, err := scanConversation(s.pool.QueryRow(ctx, `
		SELECT `+convColumns+` FROM conversations WHERE session_id = $1`,
		sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, nil, ErrNotFound
	}
	if err != nil {
		return Conversation{}, nil, fmt.Errorf("getting conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+msgColumns+`
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY sequence_number`,
		conv.ID)
	if err != nil {
		return Conversation{}, nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return Conversation{}, nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return Conversation{}, nil, fmt.Errorf("reading messages: %w", err)
	}

	return conv, msgs, nil
}

// RecentMessages returns the last n messages of a session in chronological
// order. An unknown session yields an empty slice, not an error, so a
// fresh chat starts with no history.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+msgColumns+`
		FROM (
			SELECT m.id, m.conversation_id, m.role, m.content, m.sequence_number,
			       m.used_rag, m.retrieved_documents, m.created_at
			FROM conversation_messages m
			JOIN conversations c ON c.id = m.conversation_id
			WHERE c.session_id = $1
			ORDER BY m.sequence_number DESC
			LIMIT $2
		) recent
		ORDER BY sequence_number`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("listing recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading recent messages: %w", err)
	}
	return msgs, nil
}

// ListByUser returns a user's conversations, most recently active first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+convColumns+`
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading conversations: %w", err)
	}
	return convs, nil
}

// Delete removes a conversation and, via cascade, its messages.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

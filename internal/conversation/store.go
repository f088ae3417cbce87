package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botlerhq/botler/internal/db"
)

// PgStore is the Postgres-backed Store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a Postgres-backed conversation store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const conversationColumns = `
	id, tenant_id, channel, state, last_inbound_at, window_expires_at,
	pending_calls, created_at, updated_at, closed_at`

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		conv        Conversation
		convID      string
		rawPending  []byte
		lastInbound time.Time
	)
	err := row.Scan(&convID, &conv.TenantID, &conv.Channel, &conv.State,
		&lastInbound, &conv.WindowExpiresAt, &rawPending,
		&conv.CreatedAt, &conv.UpdatedAt, &conv.ClosedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	conv.ID = convID
	conv.LastInboundAt = lastInbound
	if len(rawPending) > 0 {
		if err := json.Unmarshal(rawPending, &conv.PendingCalls); err != nil {
			return Conversation{}, fmt.Errorf("decode pending calls: %w", err)
		}
	}
	return conv, nil
}

// GetOpenByChannel implements Store.
func (s *PgStore) GetOpenByChannel(ctx context.Context, tenantID, channel string) (Conversation, error) {
	q := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE tenant_id = $1 AND channel = $2 AND state <> 'closed'
		ORDER BY created_at DESC
		LIMIT 1`
	return scanConversation(s.pool.QueryRow(ctx, q, tenantID, channel))
}

// Get implements Store.
func (s *PgStore) Get(ctx context.Context, id string) (Conversation, error) {
	convUUID, err := db.ParseUUID(id)
	if err != nil {
		return Conversation{}, ErrNotFound
	}
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(s.pool.QueryRow(ctx, q, convUUID))
}

// Create implements Store.
func (s *PgStore) Create(ctx context.Context, conv Conversation) (Conversation, error) {
	pending, err := marshalPending(conv.PendingCalls)
	if err != nil {
		return Conversation{}, err
	}
	q := `INSERT INTO conversations (
			id, tenant_id, channel, state, last_inbound_at, window_expires_at,
			pending_calls, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING ` + conversationColumns
	return scanConversation(s.pool.QueryRow(ctx, q,
		conv.ID, conv.TenantID, conv.Channel, conv.State,
		db.PgTime(conv.LastInboundAt), conv.WindowExpiresAt, pending))
}

// Update implements Store.
func (s *PgStore) Update(ctx context.Context, conv Conversation) error {
	pending, err := marshalPending(conv.PendingCalls)
	if err != nil {
		return err
	}
	q := `UPDATE conversations SET
			state = $2, last_inbound_at = $3, window_expires_at = $4,
			pending_calls = $5, closed_at = $6, updated_at = now()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q,
		conv.ID, conv.State, db.PgTime(conv.LastInboundAt),
		conv.WindowExpiresAt, pending, conv.ClosedAt)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", conv.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage implements Store.
func (s *PgStore) AppendMessage(ctx context.Context, msg Message) error {
	q := `INSERT INTO conversation_messages (
			id, conversation_id, role, content, tool_call_id, tool_name, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, q, msg.ID, msg.ConversationID, msg.Role,
		msg.Content, db.PgText(msg.ToolCallID), db.PgText(msg.ToolName), createdAt)
	if err != nil {
		return fmt.Errorf("append message to %s: %w", msg.ConversationID, err)
	}
	return nil
}

// History implements Store.
func (s *PgStore) History(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	q := `SELECT id, conversation_id, role, content,
			COALESCE(tool_call_id, ''), COALESCE(tool_name, ''), created_at
		FROM (
			SELECT * FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, q, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
			&msg.ToolCallID, &msg.ToolName, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// CloseIdle implements Store.
func (s *PgStore) CloseIdle(ctx context.Context, cutoff time.Time) (int, error) {
	q := `UPDATE conversations
		SET state = 'closed', closed_at = now(), updated_at = now()
		WHERE state <> 'closed' AND last_inbound_at < $1`
	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("close idle conversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func marshalPending(calls []ToolCall) ([]byte, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return nil, fmt.Errorf("encode pending calls: %w", err)
	}
	return data, nil
}

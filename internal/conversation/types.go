// Package conversation tracks per-customer dialogue state and enforces the
// transition and messaging-window rules around it.
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// State of a conversation. closed is terminal: a closed conversation is kept
// for audit and never mutated again; new inbound traffic on the same channel
// opens a fresh conversation.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingAI    State = "awaiting_ai"
	StateAwaitingTool  State = "awaiting_tool"
	StateAwaitingHuman State = "awaiting_human"
	StateClosed        State = "closed"
)

var (
	// ErrNotFound indicates no conversation with the given identity exists.
	ErrNotFound = errors.New("conversation not found")
	// ErrInvalidTransition indicates a state change outside the allowed graph.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrClosed indicates a mutation attempt on a closed conversation.
	ErrClosed = errors.New("conversation closed")
)

// ToolCall is one pending tool invocation requested by the AI engine,
// preserved in issue order.
type ToolCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Role of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a conversation's history.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	ToolCallID     string
	ToolName       string
	CreatedAt      time.Time
}

// Conversation is the dialogue state for one customer channel. It is owned by
// the Machine: every mutation goes through a Machine transition while the
// channel's keyed lock is held.
type Conversation struct {
	ID              string
	TenantID        string
	Channel         string
	State           State
	LastInboundAt   time.Time
	WindowExpiresAt *time.Time
	PendingCalls    []ToolCall
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosedAt        *time.Time
}

// WindowOpen reports whether a free-form outbound message is permitted at the
// given instant. Channels without window constraints carry a nil expiry and
// are always open.
func (c Conversation) WindowOpen(now time.Time) bool {
	if c.WindowExpiresAt == nil {
		return true
	}
	return now.Before(*c.WindowExpiresAt)
}

// Store persists conversations and their history.
type Store interface {
	// GetOpenByChannel returns the non-closed conversation for a channel,
	// or ErrNotFound.
	GetOpenByChannel(ctx context.Context, tenantID, channel string) (Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)
	Create(ctx context.Context, conv Conversation) (Conversation, error)
	Update(ctx context.Context, conv Conversation) error
	AppendMessage(ctx context.Context, msg Message) error
	// History returns the most recent messages in chronological order.
	History(ctx context.Context, conversationID string, limit int) ([]Message, error)
	// CloseIdle closes conversations with no inbound activity since the
	// cutoff. Returns the number closed.
	CloseIdle(ctx context.Context, cutoff time.Time) (int, error)
}

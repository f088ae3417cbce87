package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// validTransitions is the allowed state graph. Escalation and closing are
// handled separately: any live state may escalate or close.
var validTransitions = map[State][]State{
	StateIdle:          {StateAwaitingAI},
	StateAwaitingAI:    {StateIdle, StateAwaitingTool},
	StateAwaitingTool:  {StateAwaitingAI},
	StateAwaitingHuman: {StateIdle},
}

// MachineConfig carries the conversation policy parameters.
type MachineConfig struct {
	// Window is the free-form reply window opened by each inbound message.
	// Zero disables window tracking for the channel.
	Window time.Duration
	// HistoryLimit caps how many messages are replayed into AI context.
	HistoryLimit int
}

// Machine owns all conversation mutations. Callers hold the channel's keyed
// lock around a Begin..finish sequence; the Machine validates every
// transition against the state graph and persists through the Store.
type Machine struct {
	store Store
	locks *KeyedLock
	cfg   MachineConfig
	log   *slog.Logger
	now   func() time.Time
}

// NewMachine creates the state machine over the given store.
func NewMachine(log *slog.Logger, store Store, locks *KeyedLock, cfg MachineConfig) *Machine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	return &Machine{
		store: store,
		locks: locks,
		cfg:   cfg,
		log:   log.With(slog.String("service", "conversation")),
		now:   time.Now,
	}
}

// LockChannel acquires the single-writer lock for a channel.
func (m *Machine) LockChannel(tenantID, channel string) func() {
	return m.locks.Lock(tenantID + "/" + channel)
}

// Inbound records an inbound customer message and moves the conversation
// toward AI handling. The open conversation for the channel is loaded or a
// fresh one created; the reply window is set to sentAt+Window. Conversations
// waiting on a human stay in awaiting_human: the message is recorded for the
// agent but no AI turn starts. The returned bool reports whether an AI turn
// should run.
func (m *Machine) Inbound(ctx context.Context, tenantID, channel string, msg Message) (Conversation, bool, error) {
	conv, err := m.store.GetOpenByChannel(ctx, tenantID, channel)
	if errors.Is(err, ErrNotFound) {
		conv, err = m.store.Create(ctx, Conversation{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			Channel:   channel,
			State:     StateIdle,
			CreatedAt: m.now(),
		})
	}
	if err != nil {
		return Conversation{}, false, fmt.Errorf("load conversation for %s: %w", channel, err)
	}

	now := m.now()
	conv.LastInboundAt = now
	if m.cfg.Window > 0 {
		expires := msg.CreatedAt.Add(m.cfg.Window)
		conv.WindowExpiresAt = &expires
	}

	msg.ConversationID = conv.ID
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := m.store.AppendMessage(ctx, msg); err != nil {
		return Conversation{}, false, fmt.Errorf("append inbound message: %w", err)
	}

	startAI := false
	switch conv.State {
	case StateAwaitingHuman:
		// Recorded for the human agent; no AI turn.
	case StateIdle:
		conv.State = StateAwaitingAI
		startAI = true
	default:
		// A stale awaiting_ai/awaiting_tool state means a prior turn was
		// abandoned mid-flight; the new inbound restarts the turn.
		m.log.Warn("inbound on mid-turn conversation, restarting turn",
			slog.String("conversation_id", conv.ID),
			slog.String("state", string(conv.State)))
		conv.State = StateAwaitingAI
		conv.PendingCalls = nil
		startAI = true
	}

	if err := m.persist(ctx, &conv); err != nil {
		return Conversation{}, false, err
	}
	return conv, startAI, nil
}

// DirectReply records the AI's final answer and returns to idle.
func (m *Machine) DirectReply(ctx context.Context, conv *Conversation, reply string) error {
	if err := m.transition(conv, StateIdle); err != nil {
		return err
	}
	if err := m.store.AppendMessage(ctx, Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           RoleAssistant,
		Content:        reply,
		CreatedAt:      m.now(),
	}); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}
	return m.persist(ctx, conv)
}

// RequestTools records the AI's tool-call requests and moves to awaiting_tool.
func (m *Machine) RequestTools(ctx context.Context, conv *Conversation, calls []ToolCall) error {
	if len(calls) == 0 {
		return fmt.Errorf("%w: tool request without calls", ErrInvalidTransition)
	}
	if err := m.transition(conv, StateAwaitingTool); err != nil {
		return err
	}
	conv.PendingCalls = calls
	return m.persist(ctx, conv)
}

// ToolsResolved records the tool results and hands the turn back to the AI.
func (m *Machine) ToolsResolved(ctx context.Context, conv *Conversation, results []Message) error {
	if err := m.transition(conv, StateAwaitingAI); err != nil {
		return err
	}
	for _, msg := range results {
		msg.ConversationID = conv.ID
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if err := m.store.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("append tool result: %w", err)
		}
	}
	conv.PendingCalls = nil
	return m.persist(ctx, conv)
}

// Escalate hands the conversation to a human. Allowed from any live state.
func (m *Machine) Escalate(ctx context.Context, conv *Conversation, reason string) error {
	if conv.State == StateClosed {
		return ErrClosed
	}
	m.log.Info("conversation escalated",
		slog.String("conversation_id", conv.ID),
		slog.String("reason", reason))
	conv.State = StateAwaitingHuman
	conv.PendingCalls = nil
	return m.persist(ctx, conv)
}

// Resolve returns an escalated conversation to idle after human handling.
func (m *Machine) Resolve(ctx context.Context, conv *Conversation) error {
	if err := m.transition(conv, StateIdle); err != nil {
		return err
	}
	return m.persist(ctx, conv)
}

// Close marks the conversation terminally closed. Allowed from any state.
func (m *Machine) Close(ctx context.Context, conv *Conversation) error {
	if conv.State == StateClosed {
		return nil
	}
	now := m.now()
	conv.State = StateClosed
	conv.ClosedAt = &now
	conv.PendingCalls = nil
	return m.persist(ctx, conv)
}

// History returns the recent context replayed into the AI engine.
func (m *Machine) History(ctx context.Context, conversationID string) ([]Message, error) {
	return m.store.History(ctx, conversationID, m.cfg.HistoryLimit)
}

// CloseIdle closes conversations inactive since the cutoff.
func (m *Machine) CloseIdle(ctx context.Context, cutoff time.Time) (int, error) {
	return m.store.CloseIdle(ctx, cutoff)
}

func (m *Machine) transition(conv *Conversation, to State) error {
	if conv.State == StateClosed {
		return ErrClosed
	}
	for _, allowed := range validTransitions[conv.State] {
		if allowed == to {
			conv.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, conv.State, to)
}

func (m *Machine) persist(ctx context.Context, conv *Conversation) error {
	conv.UpdatedAt = m.now()
	if err := m.store.Update(ctx, *conv); err != nil {
		return fmt.Errorf("persist conversation %s: %w", conv.ID, err)
	}
	return nil
}

// SetClock overrides the time source. Test hook.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

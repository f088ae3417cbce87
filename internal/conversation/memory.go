package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used by tests and single-instance
// deployments without Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	convs    map[string]Conversation
	messages map[string][]Message
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    map[string]Conversation{},
		messages: map[string][]Message{},
		now:      time.Now,
	}
}

// GetOpenByChannel implements Store.
func (s *MemoryStore) GetOpenByChannel(_ context.Context, tenantID, channel string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conv := range s.convs {
		if conv.TenantID == tenantID && conv.Channel == channel && conv.State != StateClosed {
			return clone(conv), nil
		}
	}
	return Conversation{}, ErrNotFound
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return clone(conv), nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, conv Conversation) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.now()
	}
	conv.UpdatedAt = conv.CreatedAt
	s.convs[conv.ID] = clone(conv)
	return conv, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, conv Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conv.ID]; !ok {
		return ErrNotFound
	}
	s.convs[conv.ID] = clone(conv)
	return nil
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return nil
}

// History implements Store.
func (s *MemoryStore) History(_ context.Context, conversationID string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted, nil
}

// CloseIdle implements Store.
func (s *MemoryStore) CloseIdle(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	closed := 0
	for id, conv := range s.convs {
		if conv.State != StateClosed && conv.LastInboundAt.Before(cutoff) {
			conv.State = StateClosed
			closedAt := now
			conv.ClosedAt = &closedAt
			conv.UpdatedAt = now
			s.convs[id] = conv
			closed++
		}
	}
	return closed, nil
}

func clone(conv Conversation) Conversation {
	out := conv
	if conv.WindowExpiresAt != nil {
		w := *conv.WindowExpiresAt
		out.WindowExpiresAt = &w
	}
	if conv.ClosedAt != nil {
		c := *conv.ClosedAt
		out.ClosedAt = &c
	}
	if conv.PendingCalls != nil {
		out.PendingCalls = append([]ToolCall(nil), conv.PendingCalls...)
	}
	return out
}

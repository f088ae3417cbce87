// Package ai defines the engine interface the dispatch loop talks to and an
// OpenAI-compatible chat-completions client implementing it.
package ai

import (
	"context"
	"encoding/json"
)

// Role constants for engine messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the context sent to the engine.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the engine.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool is one capability schema advertised to the engine.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Reply is the engine's answer for one round: either a direct text reply or a
// batch of tool calls (an engine may return both; tool calls take precedence
// in the dispatch loop).
type Reply struct {
	Content   string
	ToolCalls []ToolCall
}

// Engine is the AI model boundary. Implementations carry their own timeout
// and retry policy; the dispatch loop treats failures as recoverable at the
// conversation level.
type Engine interface {
	Complete(ctx context.Context, messages []Message, tools []Tool) (Reply, error)
}

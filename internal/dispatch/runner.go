package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/botlerhq/botler/internal/ai"
	"github.com/botlerhq/botler/internal/conversation"
)

// ErrLoopExceeded indicates the engine kept requesting tool calls past the
// round limit. The caller must escalate the conversation to a human.
var ErrLoopExceeded = errors.New("tool call round limit exceeded")

// Recorder receives the per-round state transitions so the conversation
// record tracks the turn while it runs. The conversation Machine is the
// production implementation.
type Recorder interface {
	RequestTools(ctx context.Context, calls []conversation.ToolCall) error
	ToolsResolved(ctx context.Context, results []conversation.Message) error
}

// Runner drives one conversation turn: engine completion, tool dispatch,
// engine completion again with results appended, until the engine answers
// directly or the round limit forces escalation. The loop is explicitly
// iterative with a counter; there is no recursion to bound implicitly.
type Runner struct {
	engine     ai.Engine
	dispatcher *Dispatcher
	registry   *Registry
	maxRounds  int
	log        *slog.Logger
}

// NewRunner creates a Runner with the given round limit.
func NewRunner(log *slog.Logger, engine ai.Engine, dispatcher *Dispatcher, registry *Registry, maxRounds int) *Runner {
	if maxRounds <= 0 {
		maxRounds = 5
	}
	return &Runner{
		engine:     engine,
		dispatcher: dispatcher,
		registry:   registry,
		maxRounds:  maxRounds,
		log:        log.With(slog.String("service", "dispatch")),
	}
}

// RunTurn executes the turn and returns the engine's final reply text.
// Returns ErrLoopExceeded when the engine never stops requesting tools.
func (r *Runner) RunTurn(ctx context.Context, tenantID string, messages []ai.Message, rec Recorder) (string, error) {
	tools := r.registry.Tools()

	for round := 0; round < r.maxRounds; round++ {
		reply, err := r.engine.Complete(ctx, messages, tools)
		if err != nil {
			return "", fmt.Errorf("engine round %d: %w", round+1, err)
		}

		if len(reply.ToolCalls) == 0 {
			return reply.Content, nil
		}

		calls := make([]conversation.ToolCall, 0, len(reply.ToolCalls))
		for _, tc := range reply.ToolCalls {
			calls = append(calls, conversation.ToolCall{
				CallID:    tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		if err := rec.RequestTools(ctx, calls); err != nil {
			return "", err
		}

		results := r.dispatcher.Dispatch(ctx, tenantID, calls)

		resultMsgs := make([]conversation.Message, 0, len(results))
		for _, res := range results {
			resultMsgs = append(resultMsgs, res.Message())
		}
		if err := rec.ToolsResolved(ctx, resultMsgs); err != nil {
			return "", err
		}

		// Replay the round into engine context: the assistant's tool request,
		// then one tool message per result.
		messages = append(messages, ai.Message{
			Role:      ai.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})
		for _, res := range results {
			messages = append(messages, ai.Message{
				Role:       ai.RoleTool,
				ToolCallID: res.CallID,
				Name:       res.Name,
				Content:    res.Content,
			})
		}
	}

	r.log.Warn("turn exceeded round limit", slog.Int("max_rounds", r.maxRounds))
	return "", ErrLoopExceeded
}

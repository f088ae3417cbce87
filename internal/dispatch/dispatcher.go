package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/botlerhq/botler/internal/conversation"
)

// Error codes surfaced to the AI engine inside tool results. The engine is
// expected to handle partial and failed results; a bad tool call never
// crashes the conversation.
const (
	errUnknownFunction = "unknown_function"
	errTimeout         = "timeout"
	errHandlerFailed   = "handler_failed"
)

// Result is the recorded outcome of one tool call.
type Result struct {
	CallID      string
	Name        string
	Content     string
	IsError     bool
	IssuedAt    time.Time
	CompletedAt time.Time
}

// Message renders the result as a conversation history entry.
func (r Result) Message() conversation.Message {
	return conversation.Message{
		Role:       conversation.RoleTool,
		ToolCallID: r.CallID,
		ToolName:   r.Name,
		Content:    r.Content,
		CreatedAt:  r.CompletedAt,
	}
}

// Dispatcher resolves tool calls against the capability table. Each
// invocation runs under its own timeout so one stuck capability cannot stall
// the whole batch decision.
type Dispatcher struct {
	registry    *Registry
	callTimeout time.Duration
	log         *slog.Logger
	now         func() time.Time
}

// NewDispatcher creates a Dispatcher over the registry.
func NewDispatcher(log *slog.Logger, registry *Registry, callTimeout time.Duration) *Dispatcher {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &Dispatcher{
		registry:    registry,
		callTimeout: callTimeout,
		log:         log.With(slog.String("service", "dispatch")),
		now:         time.Now,
	}
}

// Dispatch executes the calls in order and returns one result per call,
// errors included. It never returns early: the engine always sees a complete
// result set for the round.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID string, calls []conversation.ToolCall) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, d.invoke(ctx, tenantID, call))
	}
	return results
}

func (d *Dispatcher) invoke(ctx context.Context, tenantID string, call conversation.ToolCall) Result {
	res := Result{CallID: call.CallID, Name: call.Name, IssuedAt: d.now()}

	handler, ok := d.registry.Get(call.Name)
	if !ok {
		d.log.Warn("unknown function requested", slog.String("function", call.Name))
		return d.fail(res, errUnknownFunction, fmt.Sprintf("no capability named %q", call.Name))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	payload, err := handler.Invoke(callCtx, tenantID, call.Arguments)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			d.log.Warn("capability timed out",
				slog.String("function", call.Name),
				slog.Duration("timeout", d.callTimeout))
			return d.fail(res, errTimeout, fmt.Sprintf("%s exceeded %s", call.Name, d.callTimeout))
		}
		d.log.Error("capability failed",
			slog.String("function", call.Name),
			slog.Any("error", err))
		return d.fail(res, errHandlerFailed, err.Error())
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return d.fail(res, errHandlerFailed, fmt.Sprintf("encode result: %v", err))
	}
	res.Content = string(encoded)
	res.CompletedAt = d.now()
	return res
}

func (d *Dispatcher) fail(res Result, code, detail string) Result {
	body, _ := json.Marshal(map[string]string{"error": code, "detail": detail})
	res.Content = string(body)
	res.IsError = true
	res.CompletedAt = d.now()
	return res
}

// SetClock overrides the time source. Test hook.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

package dispatch_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/botlerhq/botler/internal/ai"
	"github.com/botlerhq/botler/internal/conversation"
	"github.com/botlerhq/botler/internal/dispatch"
)

type fakeHandler struct {
	name   string
	invoke func(ctx context.Context, tenantID string, args json.RawMessage) (any, error)
}

func (h *fakeHandler) Name() string                { return h.name }
func (h *fakeHandler) Description() string         { return h.name }
func (h *fakeHandler) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (h *fakeHandler) Invoke(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
	return h.invoke(ctx, tenantID, args)
}

type scriptedEngine struct {
	replies []ai.Reply
	calls   int
}

func (e *scriptedEngine) Complete(_ context.Context, _ []ai.Message, _ []ai.Tool) (ai.Reply, error) {
	if e.calls >= len(e.replies) {
		return ai.Reply{}, fmt.Errorf("engine called %d times, scripted %d", e.calls+1, len(e.replies))
	}
	reply := e.replies[e.calls]
	e.calls++
	return reply, nil
}

// loopingEngine requests the same tool call forever.
type loopingEngine struct{ calls int }

func (e *loopingEngine) Complete(_ context.Context, _ []ai.Message, _ []ai.Tool) (ai.Reply, error) {
	e.calls++
	return ai.Reply{ToolCalls: []ai.ToolCall{{ID: fmt.Sprintf("c%d", e.calls), Name: "lookup", Arguments: []byte(`{}`)}}}, nil
}

type nopRecorder struct {
	requested int
	resolved  int
}

func (r *nopRecorder) RequestTools(_ context.Context, calls []conversation.ToolCall) error {
	r.requested += len(calls)
	return nil
}

func (r *nopRecorder) ToolsResolved(_ context.Context, results []conversation.Message) error {
	r.resolved += len(results)
	return nil
}

func newDispatcher(t *testing.T, timeout time.Duration, handlers ...dispatch.Handler) (*dispatch.Dispatcher, *dispatch.Registry) {
	t.Helper()
	reg := dispatch.NewRegistry()
	for _, h := range handlers {
		reg.MustRegister(h)
	}
	return dispatch.NewDispatcher(slog.Default(), reg, timeout), reg
}

func TestDispatcher_Success(t *testing.T) {
	t.Parallel()
	d, _ := newDispatcher(t, time.Second, &fakeHandler{
		name: "check_order_status",
		invoke: func(_ context.Context, tenantID string, args json.RawMessage) (any, error) {
			require.Equal(t, "t1", tenantID)
			return map[string]string{"status": "shipped"}, nil
		},
	})

	results := d.Dispatch(context.Background(), "t1", []conversation.ToolCall{
		{CallID: "c1", Name: "check_order_status", Arguments: []byte(`{"order_number":"1001"}`)},
	})
	require.Len(t, results, 1)
	require.False(t, results[0].IsError)
	require.JSONEq(t, `{"status":"shipped"}`, results[0].Content)
}

func TestDispatcher_UnknownFunction(t *testing.T) {
	t.Parallel()
	d, _ := newDispatcher(t, time.Second)

	results := d.Dispatch(context.Background(), "t1", []conversation.ToolCall{
		{CallID: "c1", Name: "launch_rocket", Arguments: []byte(`{}`)},
	})
	require.Len(t, results, 1)
	require.True(t, results[0].IsError)
	require.Contains(t, results[0].Content, "unknown_function")
}

func TestDispatcher_Timeout(t *testing.T) {
	t.Parallel()
	d, _ := newDispatcher(t, 20*time.Millisecond, &fakeHandler{
		name: "slow",
		invoke: func(ctx context.Context, _ string, _ json.RawMessage) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	results := d.Dispatch(context.Background(), "t1", []conversation.ToolCall{
		{CallID: "c1", Name: "slow", Arguments: []byte(`{}`)},
	})
	require.True(t, results[0].IsError)
	require.Contains(t, results[0].Content, "timeout")
}

func TestDispatcher_PartialFailureKeepsOrder(t *testing.T) {
	t.Parallel()
	d, _ := newDispatcher(t, time.Second,
		&fakeHandler{name: "ok", invoke: func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
			return "fine", nil
		}},
		&fakeHandler{name: "broken", invoke: func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
			return nil, fmt.Errorf("db down")
		}},
	)

	results := d.Dispatch(context.Background(), "t1", []conversation.ToolCall{
		{CallID: "c1", Name: "ok"},
		{CallID: "c2", Name: "broken"},
		{CallID: "c3", Name: "ok"},
	})
	require.Len(t, results, 3)
	require.Equal(t, []string{"c1", "c2", "c3"}, []string{results[0].CallID, results[1].CallID, results[2].CallID})
	require.False(t, results[0].IsError)
	require.True(t, results[1].IsError)
	require.False(t, results[2].IsError)
}

func TestRunner_DirectReply(t *testing.T) {
	t.Parallel()
	d, reg := newDispatcher(t, time.Second)
	engine := &scriptedEngine{replies: []ai.Reply{{Content: "Hello!"}}}
	runner := dispatch.NewRunner(slog.Default(), engine, d, reg, 5)

	rec := &nopRecorder{}
	reply, err := runner.RunTurn(context.Background(), "t1", []ai.Message{{Role: ai.RoleUser, Content: "hi"}}, rec)
	require.NoError(t, err)
	require.Equal(t, "Hello!", reply)
	require.Zero(t, rec.requested)
}

func TestRunner_ToolRoundThenReply(t *testing.T) {
	t.Parallel()
	d, reg := newDispatcher(t, time.Second, &fakeHandler{
		name: "check_order_status",
		invoke: func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
			return map[string]string{"status": "shipped"}, nil
		},
	})
	engine := &scriptedEngine{replies: []ai.Reply{
		{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "check_order_status", Arguments: []byte(`{"order_number":"1001"}`)}}},
		{Content: "Your order shipped."},
	}}
	runner := dispatch.NewRunner(slog.Default(), engine, d, reg, 5)

	rec := &nopRecorder{}
	reply, err := runner.RunTurn(context.Background(), "t1", []ai.Message{{Role: ai.RoleUser, Content: "where is order 1001?"}}, rec)
	require.NoError(t, err)
	require.Equal(t, "Your order shipped.", reply)
	require.Equal(t, 1, rec.requested)
	require.Equal(t, 1, rec.resolved)
	require.Equal(t, 2, engine.calls)
}

func TestRunner_LoopExceeded(t *testing.T) {
	t.Parallel()
	d, reg := newDispatcher(t, time.Second, &fakeHandler{
		name: "lookup",
		invoke: func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
			return "more data", nil
		},
	})
	engine := &loopingEngine{}
	runner := dispatch.NewRunner(slog.Default(), engine, d, reg, 5)

	rec := &nopRecorder{}
	_, err := runner.RunTurn(context.Background(), "t1", []ai.Message{{Role: ai.RoleUser, Content: "hi"}}, rec)
	require.ErrorIs(t, err, dispatch.ErrLoopExceeded)
	require.Equal(t, 5, engine.calls, "engine is invoked exactly maxRounds times")
	require.Equal(t, 5, rec.requested)
}

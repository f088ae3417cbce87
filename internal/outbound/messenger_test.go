package outbound_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/botlerhq/botler/internal/conversation"
	"github.com/botlerhq/botler/internal/event"
	"github.com/botlerhq/botler/internal/idempotency"
	"github.com/botlerhq/botler/internal/outbound"
)

type fakeSender struct {
	platform event.Platform
	errs     []error
	calls    int
	sent     []outbound.Message
}

func (s *fakeSender) Platform() event.Platform { return s.platform }

func (s *fakeSender) Send(_ context.Context, msg outbound.Message) error {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return s.errs[s.calls-1]
	}
	s.sent = append(s.sent, msg)
	return nil
}

func newMessenger(t *testing.T, sender outbound.Sender) *outbound.Messenger {
	t.Helper()
	m := outbound.NewMessenger(slog.Default(),
		idempotency.NewMemoryStore(idempotency.DefaultPolicy()),
		outbound.MessengerConfig{RetryMax: 3, RetryBackoff: time.Millisecond, SendRate: 1000, SendBurst: 100},
		sender)
	m.SetSleep(func(context.Context, time.Duration) error { return nil })
	return m
}

func openConv() conversation.Conversation {
	expires := time.Now().Add(time.Hour)
	return conversation.Conversation{ID: "conv-1", WindowExpiresAt: &expires}
}

func waMessage(key string) outbound.Message {
	return outbound.Message{
		TenantID:       "t1",
		Platform:       event.PlatformWhatsApp,
		To:             "15550001111",
		Kind:           outbound.KindFreeForm,
		Text:           "hello",
		IdempotencyKey: key,
	}
}

func TestMessenger_Send(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{platform: event.PlatformWhatsApp}
	m := newMessenger(t, sender)

	res, err := m.Send(context.Background(), openConv(), waMessage("k1"))
	require.NoError(t, err)
	require.True(t, res.Sent)
	require.Equal(t, 1, res.Attempts)
	require.Len(t, sender.sent, 1)
}

func TestMessenger_WindowBoundary(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{platform: event.PlatformWhatsApp}
	m := newMessenger(t, sender)

	expires := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	conv := conversation.Conversation{ID: "conv-1", WindowExpiresAt: &expires}

	// One second before expiry: allowed.
	m.SetClock(func() time.Time { return expires.Add(-time.Second) })
	_, err := m.Send(context.Background(), conv, waMessage("k-before"))
	require.NoError(t, err)

	// One second after expiry: rejected before any I/O.
	m.SetClock(func() time.Time { return expires.Add(time.Second) })
	_, err = m.Send(context.Background(), conv, waMessage("k-after"))
	require.ErrorIs(t, err, outbound.ErrWindowExpired)
	require.Len(t, sender.sent, 1, "expired send must not reach the sender")

	// Templates are exempt from the window.
	tmpl := waMessage("k-tmpl")
	tmpl.Kind = outbound.KindTemplate
	tmpl.Template = "order_update"
	_, err = m.Send(context.Background(), conv, tmpl)
	require.NoError(t, err)
}

func TestMessenger_DedupByIdempotencyKey(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{platform: event.PlatformWhatsApp}
	m := newMessenger(t, sender)

	_, err := m.Send(context.Background(), openConv(), waMessage("same-key"))
	require.NoError(t, err)

	res, err := m.Send(context.Background(), openConv(), waMessage("same-key"))
	require.NoError(t, err)
	require.True(t, res.Deduplicated)
	require.False(t, res.Sent)
	require.Len(t, sender.sent, 1, "exactly one delivery per idempotency key")
}

func TestMessenger_RetriesTransientFailures(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{
		platform: event.PlatformWhatsApp,
		errs:     []error{fmt.Errorf("status 503"), fmt.Errorf("connection reset")},
	}
	m := newMessenger(t, sender)

	res, err := m.Send(context.Background(), openConv(), waMessage("k1"))
	require.NoError(t, err)
	require.True(t, res.Sent)
	require.Equal(t, 3, res.Attempts)
}

func TestMessenger_ExhaustsRetries(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{
		platform: event.PlatformWhatsApp,
		errs:     []error{fmt.Errorf("down"), fmt.Errorf("down"), fmt.Errorf("down")},
	}
	m := newMessenger(t, sender)

	res, err := m.Send(context.Background(), openConv(), waMessage("k1"))
	require.Error(t, err)
	require.False(t, res.Sent)
	require.Equal(t, 3, sender.calls)
}

func TestMessenger_PermanentRejectionNotRetried(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{
		platform: event.PlatformWhatsApp,
		errs:     []error{&outbound.PermanentError{Reason: "invalid recipient"}},
	}
	m := newMessenger(t, sender)

	_, err := m.Send(context.Background(), openConv(), waMessage("k1"))
	var perm *outbound.PermanentError
	require.ErrorAs(t, err, &perm)
	require.Equal(t, 1, sender.calls, "permanent rejections must not retry")
}

func TestMessenger_UnknownPlatform(t *testing.T) {
	t.Parallel()
	m := newMessenger(t, &fakeSender{platform: event.PlatformWhatsApp})

	msg := waMessage("k1")
	msg.Platform = event.PlatformShopify
	_, err := m.Send(context.Background(), openConv(), msg)
	require.ErrorIs(t, err, outbound.ErrNoSender)
}

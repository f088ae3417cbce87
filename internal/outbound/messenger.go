package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/botlerhq/botler/internal/conversation"
	"github.com/botlerhq/botler/internal/event"
	"github.com/botlerhq/botler/internal/idempotency"
)

// MessengerConfig carries the send policy.
type MessengerConfig struct {
	// RetryMax is the number of attempts for transient failures.
	RetryMax int
	// RetryBackoff is the first backoff; it doubles per attempt, capped at
	// ten times the base.
	RetryBackoff time.Duration
	// SendRate / SendBurst throttle outbound traffic per messenger.
	SendRate  float64
	SendBurst int
}

// Messenger routes replies to platform senders. Window and throttle
// violations reject before any network I/O; transient failures retry with
// bounded exponential backoff; the send itself is deduplicated through the
// admission ledger so a re-run webhook task cannot double-deliver.
type Messenger struct {
	senders map[event.Platform]Sender
	idem    idempotency.Store
	limiter *rate.Limiter
	cfg     MessengerConfig
	log     *slog.Logger
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// NewMessenger creates a Messenger over the given senders.
func NewMessenger(log *slog.Logger, idem idempotency.Store, cfg MessengerConfig, senders ...Sender) *Messenger {
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 10
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = 5
	}
	m := &Messenger{
		senders: map[event.Platform]Sender{},
		idem:    idem,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		cfg:     cfg,
		log:     log.With(slog.String("service", "outbound")),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for _, s := range senders {
		m.senders[s.Platform()] = s
	}
	return m
}

// Send delivers one reply for the conversation.
func (m *Messenger) Send(ctx context.Context, conv conversation.Conversation, msg Message) (Result, error) {
	sender, ok := m.senders[msg.Platform]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoSender, msg.Platform)
	}

	if msg.Kind == KindFreeForm && !conv.WindowOpen(m.now()) {
		return Result{}, ErrWindowExpired
	}

	if msg.IdempotencyKey != "" {
		outcome, err := m.idem.Admit(ctx, "send:"+msg.IdempotencyKey)
		if err != nil {
			return Result{}, fmt.Errorf("admit send %s: %w", msg.IdempotencyKey, err)
		}
		if outcome != idempotency.Admitted {
			m.log.Info("outbound send deduplicated",
				slog.String("idempotency_key", msg.IdempotencyKey),
				slog.String("outcome", string(outcome)))
			return Result{Deduplicated: true}, nil
		}
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	attempts, err := m.sendWithRetry(ctx, sender, msg)
	result := Result{Sent: err == nil, Attempts: attempts}
	if msg.IdempotencyKey != "" {
		status := idempotency.StatusCompleted
		if err != nil {
			status = idempotency.StatusFailed
		}
		if markErr := m.idem.Mark(ctx, "send:"+msg.IdempotencyKey, status); markErr != nil {
			m.log.Error("mark send record", slog.Any("error", markErr))
		}
	}
	return result, err
}

func (m *Messenger) sendWithRetry(ctx context.Context, sender Sender, msg Message) (int, error) {
	backoff := m.cfg.RetryBackoff
	maxBackoff := 10 * m.cfg.RetryBackoff

	var lastErr error
	for attempt := 1; attempt <= m.cfg.RetryMax; attempt++ {
		lastErr = sender.Send(ctx, msg)
		if lastErr == nil {
			return attempt, nil
		}
		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			m.log.Warn("outbound send permanently rejected",
				slog.String("platform", string(msg.Platform)),
				slog.String("reason", perm.Reason))
			return attempt, lastErr
		}
		if attempt == m.cfg.RetryMax {
			break
		}
		m.log.Warn("outbound send failed, retrying",
			slog.String("platform", string(msg.Platform)),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", lastErr))
		if err := m.sleep(ctx, backoff); err != nil {
			return attempt, err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return m.cfg.RetryMax, fmt.Errorf("send failed after %d attempts: %w", m.cfg.RetryMax, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetClock overrides the time source. Test hook.
func (m *Messenger) SetClock(now func() time.Time) { m.now = now }

// SetSleep overrides the backoff sleep. Test hook.
func (m *Messenger) SetSleep(sleep func(context.Context, time.Duration) error) { m.sleep = sleep }

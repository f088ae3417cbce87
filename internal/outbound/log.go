package outbound

import (
	"context"
	"log/slog"

	"github.com/botlerhq/botler/internal/event"
)

// LogSender records sends without network I/O. It backs platforms that have
// no outbound channel (commerce webhooks) and local development.
type LogSender struct {
	platform event.Platform
	log      *slog.Logger
}

// NewLogSender creates a sender for the given platform.
func NewLogSender(log *slog.Logger, platform event.Platform) *LogSender {
	return &LogSender{
		platform: platform,
		log:      log.With(slog.String("service", "outbound_log")),
	}
}

// Platform implements Sender.
func (s *LogSender) Platform() event.Platform { return s.platform }

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info("outbound message",
		slog.String("platform", string(s.platform)),
		slog.String("tenant_id", msg.TenantID),
		slog.String("to", msg.To),
		slog.String("kind", string(msg.Kind)),
		slog.String("text", msg.Text))
	return nil
}

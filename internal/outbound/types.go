// Package outbound formats and sends replies through platform senders,
// enforcing the messaging window and send throttle before any network I/O.
package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/botlerhq/botler/internal/event"
)

// Kind of outbound message.
type Kind string

const (
	// KindFreeForm is a normal reply, only deliverable inside the window.
	KindFreeForm Kind = "free_form"
	// KindTemplate is a pre-approved template, deliverable any time.
	KindTemplate Kind = "template"
)

var (
	// ErrWindowExpired indicates a free-form send outside the reply window.
	// The caller must fall back to a template or escalate.
	ErrWindowExpired = errors.New("messaging window expired")
	// ErrNoSender indicates no sender is registered for the platform.
	ErrNoSender = errors.New("no sender for platform")
)

// PermanentError marks a rejection that must not be retried (invalid
// recipient, policy violation, any 4xx).
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanently rejected: %s", e.Reason)
}

// Message is one outbound reply.
type Message struct {
	TenantID string
	Platform event.Platform
	// To is the platform recipient id (wa_id for WhatsApp).
	To   string
	Kind Kind
	Text string
	// Template is the template name for KindTemplate sends.
	Template string
	// IdempotencyKey dedups the send itself, so a retried webhook task
	// cannot double-deliver the same reply.
	IdempotencyKey string
}

// Result of a send attempt.
type Result struct {
	Sent bool
	// Deduplicated reports the message was already sent by a prior attempt.
	Deduplicated bool
	Attempts     int
}

// Sender delivers messages for one platform.
type Sender interface {
	Platform() event.Platform
	Send(ctx context.Context, msg Message) error
}

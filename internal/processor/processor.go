// Package processor runs the full webhook pipeline: signature verification,
// idempotent admission, normalization, rate limiting, the conversation turn
// with the AI engine, and the outbound reply.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/botlerhq/botler/internal/ai"
	"github.com/botlerhq/botler/internal/capability"
	"github.com/botlerhq/botler/internal/conversation"
	"github.com/botlerhq/botler/internal/dispatch"
	"github.com/botlerhq/botler/internal/event"
	"github.com/botlerhq/botler/internal/idempotency"
	"github.com/botlerhq/botler/internal/outbound"
	"github.com/botlerhq/botler/internal/ratelimit"
	"github.com/botlerhq/botler/internal/signature"
	"github.com/botlerhq/botler/internal/tenant"
)

const systemPrompt = `You are a helpful e-commerce customer support assistant. Your role is to:

1. Help customers with order inquiries, tracking, and status updates
2. Assist with product searches and recommendations
3. Process return and refund requests
4. Update customer information when needed

Guidelines:
- Be friendly, professional, and helpful
- Use available functions to get real-time information
- If you cannot help with something, offer to connect them with a human agent
- Keep responses concise but informative`

const (
	fallbackReply   = "I'm having trouble processing your request right now. Please try again later."
	escalationReply = "I'm connecting you with a human agent who will follow up shortly."
	// escalationTemplate is the pre-approved template sent when the reply
	// window has closed.
	escalationTemplate = "human_followup"
)

// ErrUnknownTenant indicates the delivery addressed a tenant that does not exist.
var ErrUnknownTenant = tenant.ErrNotFound

// Ack summarizes how a delivery was handled. Webhook handlers return 200 for
// every ack; only signature and tenant failures surface as errors.
type Ack struct {
	Events     int
	Processed  int
	Duplicates int
	InProgress int
	Throttled  int
	Dropped    int
	Malformed  bool
}

// Processor wires the pipeline components together.
type Processor struct {
	tenants    tenant.Store
	events     *event.Registry
	idem       idempotency.Store
	msgLimiter *ratelimit.Limiter
	ordLimiter *ratelimit.Limiter
	machine    *conversation.Machine
	runner     *dispatch.Runner
	store      capability.Store
	messenger  *outbound.Messenger
	log        *slog.Logger
	now        func() time.Time
}

// New creates the Processor.
func New(
	log *slog.Logger,
	tenants tenant.Store,
	events *event.Registry,
	idem idempotency.Store,
	msgLimiter, ordLimiter *ratelimit.Limiter,
	machine *conversation.Machine,
	runner *dispatch.Runner,
	store capability.Store,
	messenger *outbound.Messenger,
) *Processor {
	return &Processor{
		tenants:    tenants,
		events:     events,
		idem:       idem,
		msgLimiter: msgLimiter,
		ordLimiter: ordLimiter,
		machine:    machine,
		runner:     runner,
		store:      store,
		messenger:  messenger,
		log:        log.With(slog.String("service", "processor")),
		now:        time.Now,
	}
}

// VerifyDelivery checks the platform signature over the exact raw bytes
// received. It must run before any payload parsing.
func (p *Processor) VerifyDelivery(ctx context.Context, raw event.RawDelivery) error {
	t, err := p.tenants.Get(ctx, raw.TenantID)
	if err != nil {
		return fmt.Errorf("resolve tenant %s: %w", raw.TenantID, err)
	}
	creds, ok := t.CredentialsFor(raw.Platform)
	if !ok {
		return signature.ErrSecretNotConfigured
	}
	switch raw.Platform {
	case event.PlatformShopify:
		return signature.VerifyShopify(raw.Body, raw.Header(signature.ShopifyHeader), creds.WebhookSecret)
	case event.PlatformWooCommerce:
		return signature.VerifyWooCommerce(raw.Body, raw.Header(signature.WooCommerceHeader), creds.WebhookSecret)
	case event.PlatformWhatsApp:
		return signature.VerifyWhatsApp(raw.Body, raw.Header(signature.WhatsAppHeader), creds.WebhookSecret)
	}
	return fmt.Errorf("unsupported platform: %s", raw.Platform)
}

// Process normalizes and handles a verified delivery. Malformed payloads are
// acked without admission so a corrected redelivery can still be processed.
func (p *Processor) Process(ctx context.Context, raw event.RawDelivery) (Ack, error) {
	events, err := p.events.Normalize(raw)
	if errors.Is(err, event.ErrMalformedPayload) {
		p.log.Warn("malformed payload",
			slog.String("platform", string(raw.Platform)),
			slog.String("tenant_id", raw.TenantID),
			slog.Any("error", err))
		return Ack{Malformed: true}, nil
	}
	if err != nil {
		return Ack{}, err
	}

	ack := Ack{Events: len(events)}
	for _, ev := range events {
		p.handleEvent(ctx, ev, &ack)
	}
	return ack, nil
}

func (p *Processor) handleEvent(ctx context.Context, ev event.InboundEvent, ack *Ack) {
	log := p.log.With(
		slog.String("platform", string(ev.Platform)),
		slog.String("tenant_id", ev.TenantID),
		slog.String("external_id", ev.ExternalID),
		slog.String("event_type", ev.Type))

	outcome, err := p.idem.Admit(ctx, ev.DedupKey())
	if err != nil {
		log.Error("admission failed", slog.Any("error", err))
		ack.Dropped++
		return
	}
	switch outcome {
	case idempotency.Duplicate:
		ack.Duplicates++
		return
	case idempotency.InProgress:
		ack.InProgress++
		return
	}

	// Unrecognized and receipt-only events are acknowledged, marked
	// completed, and never processed further.
	if ev.Class == event.ClassOther || ev.Type == event.TypeUnrecognized {
		p.mark(ctx, ev, idempotency.StatusCompleted)
		ack.Processed++
		return
	}

	if dec := p.limiterFor(ev.Class).Acquire(ev.TenantID+":"+string(ev.Platform), 1); !dec.Granted {
		// Throttle policy is drop-with-ack for every event class: returning
		// non-200 would trigger platform redelivery storms. The record is
		// left processing so an eventual redelivery can be re-admitted after
		// the liveness timeout.
		log.Warn("event throttled",
			slog.String("class", string(ev.Class)),
			slog.Duration("retry_after", dec.RetryAfter))
		ack.Throttled++
		return
	}

	var procErr error
	switch ev.Class {
	case event.ClassOrder:
		procErr = p.handleOrder(ctx, ev)
	case event.ClassMessage:
		procErr = p.handleMessage(ctx, ev)
	}
	if procErr != nil {
		log.Error("event processing failed", slog.Any("error", procErr))
		p.mark(ctx, ev, idempotency.StatusFailed)
		ack.Dropped++
		return
	}
	p.mark(ctx, ev, idempotency.StatusCompleted)
	ack.Processed++
}

func (p *Processor) limiterFor(class event.Class) *ratelimit.Limiter {
	if class == event.ClassOrder {
		return p.ordLimiter
	}
	return p.msgLimiter
}

func (p *Processor) mark(ctx context.Context, ev event.InboundEvent, status idempotency.Status) {
	if err := p.idem.Mark(ctx, ev.DedupKey(), status); err != nil {
		p.log.Error("mark admission record",
			slog.String("key", ev.DedupKey()),
			slog.Any("error", err))
	}
}

func (p *Processor) handleOrder(ctx context.Context, ev event.InboundEvent) error {
	if ev.Order == nil {
		return fmt.Errorf("order event without order payload")
	}
	o := ev.Order
	err := p.store.UpsertOrder(ctx, capability.Order{
		ID:                uuid.NewString(),
		TenantID:          ev.TenantID,
		Platform:          string(ev.Platform),
		ExternalID:        o.ExternalOrderID,
		Number:            o.Number,
		Status:            o.Status,
		FinancialStatus:   o.FinancialStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		Total:             o.Total,
		Currency:          o.Currency,
		CustomerEmail:     o.CustomerEmail,
		CustomerPhone:     o.CustomerPhone,
		CustomerName:      o.CustomerName,
		TrackingNumber:    o.TrackingNumber,
		TrackingURL:       o.TrackingURL,
		PlacedAt:          o.PlacedAt,
	})
	if err != nil {
		return err
	}

	// Order payloads carry customer contact details; keep the customer record
	// current so capability lookups can verify the caller.
	if o.CustomerPhone == "" {
		return nil
	}
	return p.store.UpsertCustomer(ctx, capability.Customer{
		ID:       uuid.NewString(),
		TenantID: ev.TenantID,
		Phone:    o.CustomerPhone,
		Email:    o.CustomerEmail,
		Name:     o.CustomerName,
	})
}

// machineRecorder adapts the conversation Machine to the dispatch Recorder,
// bound to one conversation under its channel lock.
type machineRecorder struct {
	machine *conversation.Machine
	conv    *conversation.Conversation
}

func (r *machineRecorder) RequestTools(ctx context.Context, calls []conversation.ToolCall) error {
	return r.machine.RequestTools(ctx, r.conv, calls)
}

func (r *machineRecorder) ToolsResolved(ctx context.Context, results []conversation.Message) error {
	return r.machine.ToolsResolved(ctx, r.conv, results)
}

func (p *Processor) handleMessage(ctx context.Context, ev event.InboundEvent) error {
	msg := ev.Message
	unlock := p.machine.LockChannel(ev.TenantID, ev.ChannelKey())
	defer unlock()

	conv, startAI, err := p.machine.Inbound(ctx, ev.TenantID, ev.ChannelKey(), conversation.Message{
		ID:        uuid.NewString(),
		Role:      conversation.RoleUser,
		Content:   msg.Text,
		CreatedAt: msg.SentAt,
	})
	if err != nil {
		return err
	}
	if !startAI {
		return nil
	}

	history, err := p.machine.History(ctx, conv.ID)
	if err != nil {
		return err
	}
	messages := make([]ai.Message, 0, len(history)+1)
	messages = append(messages, ai.Message{Role: ai.RoleSystem, Content: systemPrompt})
	for _, h := range history {
		messages = append(messages, ai.Message{
			Role:       string(h.Role),
			Content:    h.Content,
			ToolCallID: h.ToolCallID,
			Name:       h.ToolName,
		})
	}

	rec := &machineRecorder{machine: p.machine, conv: &conv}
	reply, err := p.runner.RunTurn(ctx, ev.TenantID, messages, rec)
	switch {
	case errors.Is(err, dispatch.ErrLoopExceeded):
		if escErr := p.machine.Escalate(ctx, &conv, "tool call round limit exceeded"); escErr != nil {
			return escErr
		}
		return p.reply(ctx, conv, ev, escalationReply)
	case err != nil:
		// Engine failures are recoverable at the conversation level: the
		// customer gets the fallback and a human takes over.
		p.log.Error("conversation turn failed",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err))
		if escErr := p.machine.Escalate(ctx, &conv, "ai engine failure"); escErr != nil {
			return escErr
		}
		return p.reply(ctx, conv, ev, fallbackReply)
	}

	if dErr := p.machine.DirectReply(ctx, &conv, reply); dErr != nil {
		return dErr
	}
	return p.reply(ctx, conv, ev, reply)
}

// reply sends text to the event's sender, falling back to the pre-approved
// template when the free-form window has closed.
func (p *Processor) reply(ctx context.Context, conv conversation.Conversation, ev event.InboundEvent, text string) error {
	msg := outbound.Message{
		TenantID:       ev.TenantID,
		Platform:       ev.Platform,
		To:             ev.Message.From,
		Kind:           outbound.KindFreeForm,
		Text:           text,
		IdempotencyKey: ev.DedupKey() + ":reply",
	}
	_, err := p.messenger.Send(ctx, conv, msg)
	if errors.Is(err, outbound.ErrWindowExpired) {
		p.log.Warn("reply window expired, sending template",
			slog.String("conversation_id", conv.ID))
		msg.Kind = outbound.KindTemplate
		msg.Template = escalationTemplate
		msg.IdempotencyKey = ev.DedupKey() + ":reply_template"
		if _, tErr := p.messenger.Send(ctx, conv, msg); tErr != nil {
			return p.machine.Escalate(ctx, &conv, "template fallback failed")
		}
		return nil
	}
	return err
}

// Package event defines the canonical inbound event model and the per-platform
// normalizers that map raw webhook payloads onto it.
package event

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Platform identifies an integrated source platform.
type Platform string

const (
	PlatformShopify     Platform = "shopify"
	PlatformWooCommerce Platform = "woocommerce"
	PlatformWhatsApp    Platform = "whatsapp"
)

// String returns the platform as a plain string.
func (p Platform) String() string {
	return string(p)
}

// ParsePlatform normalizes a raw platform name.
func ParsePlatform(raw string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(raw))) {
	case PlatformShopify:
		return PlatformShopify, nil
	case PlatformWooCommerce:
		return PlatformWooCommerce, nil
	case PlatformWhatsApp:
		return PlatformWhatsApp, nil
	}
	return "", errors.New("unknown platform: " + raw)
}

// Class groups event types for admission-control purposes. Each class carries
// its own rate-limit budget and throttle policy.
type Class string

const (
	// ClassMessage covers customer messages that feed the AI pipeline.
	ClassMessage Class = "message"
	// ClassOrder covers commerce events (order created/updated/fulfilled).
	ClassOrder Class = "order"
	// ClassOther covers recognized but non-actionable events (acknowledged only).
	ClassOther Class = "other"
)

// TypeUnrecognized marks events whose platform type is unknown to this version.
// They are acknowledged (to stop redelivery) but not processed further.
const TypeUnrecognized = "unrecognized"

// ErrMalformedPayload indicates a payload missing fields required for
// normalization. Malformed deliveries are acknowledged but never marked
// completed, so a corrected redelivery can still be processed.
var ErrMalformedPayload = errors.New("malformed payload")

// RawDelivery is a verified webhook delivery, exactly as received. Body is the
// raw byte sequence the signature was validated against.
type RawDelivery struct {
	Platform   Platform
	TenantID   string
	Headers    map[string]string
	Body       []byte
	ReceivedAt time.Time
}

// Header returns the trimmed header value for key, or "". Lookup tolerates
// canonicalized keys, since net/http canonicalizes on receipt.
func (d RawDelivery) Header(key string) string {
	if d.Headers == nil {
		return ""
	}
	if v, ok := d.Headers[key]; ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(d.Headers[http.CanonicalHeaderKey(key)])
}

// MessageEvent carries the normalized content of a customer message.
type MessageEvent struct {
	MessageID     string
	From          string
	SenderName    string
	Text          string
	PhoneNumberID string
	SentAt        time.Time
}

// OrderEvent carries the normalized content of a commerce event.
type OrderEvent struct {
	ExternalOrderID   string
	Number            string
	Status            string
	FinancialStatus   string
	FulfillmentStatus string
	Total             float64
	Currency          string
	CustomerEmail     string
	CustomerPhone     string
	CustomerName      string
	TrackingNumber    string
	TrackingURL       string
	PlacedAt          time.Time
}

// InboundEvent is the canonical shape every platform payload is mapped into.
// ExternalID is the platform-assigned delivery identifier used for dedup;
// it is unique per platform+tenant within the idempotency retention window
// and immutable once admitted.
type InboundEvent struct {
	Platform   Platform
	TenantID   string
	ExternalID string
	Type       string
	Class      Class
	Message    *MessageEvent
	Order      *OrderEvent
	ReceivedAt time.Time
}

// DedupKey returns the idempotency key for this event.
func (e InboundEvent) DedupKey() string {
	return strings.Join([]string{string(e.Platform), e.TenantID, e.ExternalID}, ":")
}

// ChannelKey identifies the conversation channel this event belongs to
// (platform + participant). Only message events map to a channel.
func (e InboundEvent) ChannelKey() string {
	if e.Message == nil {
		return ""
	}
	return string(e.Platform) + ":" + e.Message.From
}

// Normalizer maps one platform's raw deliveries into canonical events.
// Implementations are pure: no I/O, no shared state.
type Normalizer interface {
	Platform() Platform
	Normalize(raw RawDelivery) ([]InboundEvent, error)
}

package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type whatsAppPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Metadata         struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
				Statuses []json.RawMessage `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// WhatsAppNormalizer maps WhatsApp Cloud API deliveries onto canonical events.
// One delivery can batch several messages; each becomes its own event keyed by
// the platform message id. Status-only deliveries (sent/delivered/read
// receipts) normalize to a single acknowledged non-message event.
type WhatsAppNormalizer struct{}

func NewWhatsAppNormalizer() *WhatsAppNormalizer { return &WhatsAppNormalizer{} }

func (n *WhatsAppNormalizer) Platform() Platform { return PlatformWhatsApp }

func (n *WhatsAppNormalizer) Normalize(raw RawDelivery) ([]InboundEvent, error) {
	var payload whatsAppPayload
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode whatsapp payload: %v", ErrMalformedPayload, err)
	}
	if payload.Object != "whatsapp_business_account" {
		return nil, fmt.Errorf("%w: unexpected object %q", ErrMalformedPayload, payload.Object)
	}

	names := map[string]string{}
	var events []InboundEvent
	statusCount := 0
	var statusEntryID string

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, c := range change.Value.Contacts {
				if c.Profile.Name != "" {
					names[c.WaID] = c.Profile.Name
				}
			}
			statusCount += len(change.Value.Statuses)
			if statusEntryID == "" {
				statusEntryID = entry.ID
			}
			for _, msg := range change.Value.Messages {
				if msg.ID == "" || msg.From == "" {
					return nil, fmt.Errorf("%w: whatsapp message missing id or sender", ErrMalformedPayload)
				}
				ev := InboundEvent{
					Platform:   PlatformWhatsApp,
					TenantID:   raw.TenantID,
					ExternalID: msg.ID,
					Class:      ClassMessage,
					ReceivedAt: raw.ReceivedAt,
				}
				me := &MessageEvent{
					MessageID:     msg.ID,
					From:          msg.From,
					SenderName:    names[msg.From],
					PhoneNumberID: change.Value.Metadata.PhoneNumberID,
					SentAt:        whatsAppTimestamp(msg.Timestamp, raw.ReceivedAt),
				}
				switch msg.Type {
				case "text":
					ev.Type = "message"
					me.Text = msg.Text.Body
				default:
					// Media, reactions, locations: admitted so the customer
					// gets a reply, but with no text to feed the AI.
					ev.Type = TypeUnrecognized
					ev.Class = ClassOther
				}
				ev.Message = me
				events = append(events, ev)
			}
		}
	}

	// A receipt-only delivery still needs an identity so redeliveries dedup.
	if len(events) == 0 {
		if statusCount == 0 {
			return nil, fmt.Errorf("%w: whatsapp delivery carries no messages or statuses", ErrMalformedPayload)
		}
		return []InboundEvent{{
			Platform:   PlatformWhatsApp,
			TenantID:   raw.TenantID,
			ExternalID: "status:" + statusEntryID + ":" + strconv.FormatInt(raw.ReceivedAt.UnixNano(), 10),
			Type:       "status",
			Class:      ClassOther,
			ReceivedAt: raw.ReceivedAt,
		}}, nil
	}
	return events, nil
}

func whatsAppTimestamp(raw string, fallback time.Time) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Unix(secs, 0).UTC()
}

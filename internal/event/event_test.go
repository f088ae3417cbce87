package event_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/botlerhq/botler/internal/event"
)

var receivedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func shopifyDelivery(topic, webhookID string, body string) event.RawDelivery {
	headers := map[string]string{}
	if topic != "" {
		headers["X-Shopify-Topic"] = topic
	}
	if webhookID != "" {
		headers["X-Shopify-Webhook-Id"] = webhookID
	}
	return event.RawDelivery{
		Platform:   event.PlatformShopify,
		TenantID:   "tenant-1",
		Headers:    headers,
		Body:       []byte(body),
		ReceivedAt: receivedAt,
	}
}

const shopifyOrderBody = `{
	"id": 820982911946154508,
	"name": "#1001",
	"order_number": 1001,
	"email": "jane@example.com",
	"total_price": "254.98",
	"currency": "USD",
	"financial_status": "paid",
	"fulfillment_status": null,
	"created_at": "2025-05-30T09:15:00-04:00",
	"customer": {"first_name": "Jane", "last_name": "Doe", "phone": "+15550001111"},
	"fulfillments": [{"tracking_number": "1Z999", "tracking_url": "https://track.example/1Z999"}]
}`

func TestShopifyNormalize_OrderCreate(t *testing.T) {
	t.Parallel()
	events, err := event.NewShopifyNormalizer().Normalize(
		shopifyDelivery("orders/create", "wh-123", shopifyOrderBody))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	require.Equal(t, event.PlatformShopify, ev.Platform)
	require.Equal(t, "wh-123", ev.ExternalID)
	require.Equal(t, event.ClassOrder, ev.Class)
	require.Equal(t, "shopify:tenant-1:wh-123", ev.DedupKey())
	require.NotNil(t, ev.Order)
	require.Equal(t, "820982911946154508", ev.Order.ExternalOrderID)
	require.Equal(t, "1001", ev.Order.Number)
	require.Equal(t, "paid", ev.Order.Status)
	require.Equal(t, 254.98, ev.Order.Total)
	require.Equal(t, "jane@example.com", ev.Order.CustomerEmail)
	require.Equal(t, "+15550001111", ev.Order.CustomerPhone)
	require.Equal(t, "Jane Doe", ev.Order.CustomerName)
	require.Equal(t, "1Z999", ev.Order.TrackingNumber)
}

func TestShopifyNormalize_UnknownTopicIsTolerated(t *testing.T) {
	t.Parallel()
	events, err := event.NewShopifyNormalizer().Normalize(
		shopifyDelivery("carts/create", "wh-456", `{"id": 1}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, event.TypeUnrecognized, events[0].Type)
	require.Equal(t, event.ClassOther, events[0].Class)
	require.Nil(t, events[0].Order)
}

func TestShopifyNormalize_Malformed(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name     string
		delivery event.RawDelivery
	}{
		{"missing webhook id", shopifyDelivery("orders/create", "", shopifyOrderBody)},
		{"invalid json", shopifyDelivery("orders/create", "wh-1", `{"id":`)},
		{"missing order id", shopifyDelivery("orders/create", "wh-1", `{"name": "#1"}`)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := event.NewShopifyNormalizer().Normalize(tc.delivery)
			require.ErrorIs(t, err, event.ErrMalformedPayload)
		})
	}
}

func TestWooCommerceNormalize_OrderCreated(t *testing.T) {
	t.Parallel()
	body := `{
		"id": 727,
		"number": "727",
		"status": "processing",
		"total": "39.00",
		"currency": "EUR",
		"date_created_gmt": "2025-05-30T13:15:00",
		"billing": {"first_name": "Max", "last_name": "Mustermann", "email": "max@example.com", "phone": "+491700000000"}
	}`
	events, err := event.NewWooCommerceNormalizer().Normalize(event.RawDelivery{
		Platform: event.PlatformWooCommerce,
		TenantID: "tenant-1",
		Headers: map[string]string{
			"X-WC-Webhook-Topic":       "order.created",
			"X-WC-Webhook-Delivery-ID": "d-42",
		},
		Body:       []byte(body),
		ReceivedAt: receivedAt,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "d-42", events[0].ExternalID)
	require.Equal(t, event.ClassOrder, events[0].Class)
	require.Equal(t, "paid", events[0].Order.Status)
	require.Equal(t, 39.0, events[0].Order.Total)
	require.Equal(t, "Max Mustermann", events[0].Order.CustomerName)
}

func whatsAppDelivery(body string) event.RawDelivery {
	return event.RawDelivery{
		Platform:   event.PlatformWhatsApp,
		TenantID:   "tenant-1",
		Body:       []byte(body),
		ReceivedAt: receivedAt,
	}
}

func TestWhatsAppNormalize_TextMessage(t *testing.T) {
	t.Parallel()
	body := `{
		"object": "whatsapp_business_account",
		"entry": [{"id": "WABA1", "changes": [{"field": "messages", "value": {
			"metadata": {"phone_number_id": "pn-1"},
			"contacts": [{"wa_id": "15550002222", "profile": {"name": "Ana"}}],
			"messages": [{"id": "wamid.abc", "from": "15550002222", "timestamp": "1748606400", "type": "text", "text": {"body": "where is my order?"}}]
		}}]}]
	}`
	events, err := event.NewWhatsAppNormalizer().Normalize(whatsAppDelivery(body))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	require.Equal(t, "wamid.abc", ev.ExternalID)
	require.Equal(t, event.ClassMessage, ev.Class)
	require.Equal(t, "whatsapp:15550002222", ev.ChannelKey())
	require.Equal(t, "where is my order?", ev.Message.Text)
	require.Equal(t, "Ana", ev.Message.SenderName)
	require.Equal(t, "pn-1", ev.Message.PhoneNumberID)
	require.Equal(t, time.Unix(1748606400, 0).UTC(), ev.Message.SentAt)
}

func TestWhatsAppNormalize_BatchedMessages(t *testing.T) {
	t.Parallel()
	body := `{
		"object": "whatsapp_business_account",
		"entry": [{"id": "WABA1", "changes": [{"field": "messages", "value": {
			"metadata": {"phone_number_id": "pn-1"},
			"messages": [
				{"id": "wamid.1", "from": "1555", "timestamp": "1748606400", "type": "text", "text": {"body": "hi"}},
				{"id": "wamid.2", "from": "1555", "timestamp": "1748606401", "type": "image"}
			]
		}}]}]
	}`
	events, err := event.NewWhatsAppNormalizer().Normalize(whatsAppDelivery(body))
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "message", events[0].Type)
	require.Equal(t, event.TypeUnrecognized, events[1].Type)
	require.Equal(t, event.ClassOther, events[1].Class)
}

func TestWhatsAppNormalize_StatusOnly(t *testing.T) {
	t.Parallel()
	body := `{
		"object": "whatsapp_business_account",
		"entry": [{"id": "WABA1", "changes": [{"field": "messages", "value": {
			"statuses": [{"id": "wamid.1", "status": "delivered"}]
		}}]}]
	}`
	events, err := event.NewWhatsAppNormalizer().Normalize(whatsAppDelivery(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "status", events[0].Type)
	require.Equal(t, event.ClassOther, events[0].Class)
}

func TestWhatsAppNormalize_Malformed(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
	}{
		{"wrong object", `{"object": "page", "entry": []}`},
		{"empty entry", `{"object": "whatsapp_business_account", "entry": []}`},
		{"message without id", `{"object": "whatsapp_business_account", "entry": [{"changes": [{"field": "messages", "value": {"messages": [{"from": "1555", "type": "text"}]}}]}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := event.NewWhatsAppNormalizer().Normalize(whatsAppDelivery(tc.body))
			require.ErrorIs(t, err, event.ErrMalformedPayload)
		})
	}
}

func TestRegistry_Dispatch(t *testing.T) {
	t.Parallel()
	reg := event.DefaultRegistry()
	if _, ok := reg.Get(event.PlatformWhatsApp); !ok {
		t.Fatalf("whatsapp normalizer not registered")
	}
	_, err := reg.Normalize(event.RawDelivery{Platform: event.Platform("telegram")})
	if err == nil {
		t.Fatalf("expected error for unsupported platform")
	}
	if errors.Is(err, event.ErrMalformedPayload) {
		t.Fatalf("unsupported platform should not map to malformed payload")
	}
}

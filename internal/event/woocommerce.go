package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	wooTopicHeader      = "X-WC-Webhook-Topic"
	wooDeliveryIDHeader = "X-WC-Webhook-Delivery-ID"
)

type wooOrder struct {
	ID          int64  `json:"id"`
	Number      string `json:"number"`
	Status      string `json:"status"`
	Total       string `json:"total"`
	Currency    string `json:"currency"`
	DateCreated string `json:"date_created_gmt"`
	Billing     struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
	} `json:"billing"`
}

// WooCommerceNormalizer maps WooCommerce webhook deliveries onto canonical
// events. The delivery id header is the dedup identity.
type WooCommerceNormalizer struct{}

func NewWooCommerceNormalizer() *WooCommerceNormalizer { return &WooCommerceNormalizer{} }

func (n *WooCommerceNormalizer) Platform() Platform { return PlatformWooCommerce }

func (n *WooCommerceNormalizer) Normalize(raw RawDelivery) ([]InboundEvent, error) {
	topic := raw.Header(wooTopicHeader)
	deliveryID := raw.Header(wooDeliveryIDHeader)
	if deliveryID == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrMalformedPayload, wooDeliveryIDHeader)
	}

	ev := InboundEvent{
		Platform:   PlatformWooCommerce,
		TenantID:   raw.TenantID,
		ExternalID: deliveryID,
		Type:       topic,
		ReceivedAt: raw.ReceivedAt,
	}

	switch topic {
	case "order.created", "order.updated", "order.deleted":
		ev.Class = ClassOrder
	default:
		ev.Type = TypeUnrecognized
		ev.Class = ClassOther
		return []InboundEvent{ev}, nil
	}

	var order wooOrder
	if err := json.Unmarshal(raw.Body, &order); err != nil {
		return nil, fmt.Errorf("%w: decode woocommerce order: %v", ErrMalformedPayload, err)
	}
	if order.ID == 0 {
		return nil, fmt.Errorf("%w: woocommerce order missing id", ErrMalformedPayload)
	}

	total, _ := strconv.ParseFloat(order.Total, 64)
	placedAt, _ := time.Parse("2006-01-02T15:04:05", order.DateCreated)

	ev.Order = &OrderEvent{
		ExternalOrderID: strconv.FormatInt(order.ID, 10),
		Number:          order.Number,
		Status:          orderStatusFromWoo(order.Status),
		Total:           total,
		Currency:        order.Currency,
		CustomerEmail:   order.Billing.Email,
		CustomerPhone:   order.Billing.Phone,
		CustomerName:    strings.TrimSpace(order.Billing.FirstName + " " + order.Billing.LastName),
		PlacedAt:        placedAt,
	}
	return []InboundEvent{ev}, nil
}

func orderStatusFromWoo(status string) string {
	switch status {
	case "completed":
		return "fulfilled"
	case "processing":
		return "paid"
	case "cancelled", "failed":
		return "cancelled"
	case "refunded":
		return "refunded"
	default:
		return "pending"
	}
}

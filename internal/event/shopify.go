package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	shopifyTopicHeader     = "X-Shopify-Topic"
	shopifyWebhookIDHeader = "X-Shopify-Webhook-Id"
)

// shopifyOrder is the subset of a Shopify order payload we consume.
type shopifyOrder struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	OrderNumber       int64  `json:"order_number"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	TotalPrice        string `json:"total_price"`
	Currency          string `json:"currency"`
	FinancialStatus   string `json:"financial_status"`
	FulfillmentStatus string `json:"fulfillment_status"`
	CreatedAt         string `json:"created_at"`
	Customer          struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
	} `json:"customer"`
	Fulfillments []struct {
		TrackingNumber string `json:"tracking_number"`
		TrackingURL    string `json:"tracking_url"`
	} `json:"fulfillments"`
}

// ShopifyNormalizer maps Shopify webhook deliveries onto canonical events.
// The topic header selects the event type; the webhook id header is the
// dedup identity, so Shopify's own redeliveries collapse to one admission.
type ShopifyNormalizer struct{}

func NewShopifyNormalizer() *ShopifyNormalizer { return &ShopifyNormalizer{} }

func (n *ShopifyNormalizer) Platform() Platform { return PlatformShopify }

func (n *ShopifyNormalizer) Normalize(raw RawDelivery) ([]InboundEvent, error) {
	topic := raw.Header(shopifyTopicHeader)
	deliveryID := raw.Header(shopifyWebhookIDHeader)
	if deliveryID == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrMalformedPayload, shopifyWebhookIDHeader)
	}

	ev := InboundEvent{
		Platform:   PlatformShopify,
		TenantID:   raw.TenantID,
		ExternalID: deliveryID,
		Type:       topic,
		ReceivedAt: raw.ReceivedAt,
	}

	switch topic {
	case "orders/create", "orders/updated", "orders/fulfilled", "orders/cancelled":
		ev.Class = ClassOrder
	case "app/uninstalled", "shop/update":
		ev.Class = ClassOther
		return []InboundEvent{ev}, nil
	default:
		ev.Type = TypeUnrecognized
		ev.Class = ClassOther
		return []InboundEvent{ev}, nil
	}

	var order shopifyOrder
	if err := json.Unmarshal(raw.Body, &order); err != nil {
		return nil, fmt.Errorf("%w: decode shopify order: %v", ErrMalformedPayload, err)
	}
	if order.ID == 0 {
		return nil, fmt.Errorf("%w: shopify order missing id", ErrMalformedPayload)
	}

	total, _ := strconv.ParseFloat(order.TotalPrice, 64)
	placedAt, _ := time.Parse(time.RFC3339, order.CreatedAt)

	oe := &OrderEvent{
		ExternalOrderID:   strconv.FormatInt(order.ID, 10),
		Number:            strings.TrimPrefix(order.Name, "#"),
		FinancialStatus:   order.FinancialStatus,
		FulfillmentStatus: order.FulfillmentStatus,
		Total:             total,
		Currency:          order.Currency,
		CustomerEmail:     firstNonEmpty(order.Email, order.Customer.Email),
		CustomerPhone:     firstNonEmpty(order.Phone, order.Customer.Phone),
		CustomerName:      strings.TrimSpace(order.Customer.FirstName + " " + order.Customer.LastName),
		PlacedAt:          placedAt,
	}
	if oe.Number == "" && order.OrderNumber != 0 {
		oe.Number = strconv.FormatInt(order.OrderNumber, 10)
	}
	if len(order.Fulfillments) > 0 {
		oe.TrackingNumber = order.Fulfillments[0].TrackingNumber
		oe.TrackingURL = order.Fulfillments[0].TrackingURL
	}
	oe.Status = orderStatusFromShopify(topic, order.FinancialStatus, order.FulfillmentStatus)

	ev.Order = oe
	return []InboundEvent{ev}, nil
}

func orderStatusFromShopify(topic, financial, fulfillment string) string {
	switch topic {
	case "orders/cancelled":
		return "cancelled"
	case "orders/fulfilled":
		return "fulfilled"
	}
	if fulfillment == "fulfilled" {
		return "fulfilled"
	}
	if financial == "refunded" {
		return "refunded"
	}
	if financial == "paid" {
		return "paid"
	}
	return "pending"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

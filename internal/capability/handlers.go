package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/botlerhq/botler/internal/dispatch"
)

// Handlers bundles the capability implementations over one store.
type Handlers struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewHandlers creates the capability set.
func NewHandlers(log *slog.Logger, store Store) *Handlers {
	return &Handlers{
		store: store,
		log:   log.With(slog.String("service", "capability")),
		now:   time.Now,
	}
}

// RegisterAll installs every capability into the dispatch registry.
func (h *Handlers) RegisterAll(registry *dispatch.Registry) {
	registry.MustRegister(&orderStatusHandler{h})
	registry.MustRegister(&returnRequestHandler{h})
	registry.MustRegister(&productSearchHandler{h})
	registry.MustRegister(&customerUpdateHandler{h})
}

// --- check_order_status ---

type orderStatusHandler struct{ *Handlers }

func (*orderStatusHandler) Name() string { return "check_order_status" }

func (*orderStatusHandler) Description() string {
	return "Look up the current status, payment state, and tracking details of an order by its order number."
}

func (*orderStatusHandler) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"order_number": {"type": "string", "description": "The customer's order number, without the # prefix."}
		},
		"required": ["order_number"]
	}`)
}

type orderStatusArgs struct {
	OrderNumber string `json:"order_number"`
}

func (h *orderStatusHandler) Invoke(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
	var in orderStatusArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	number := strings.TrimPrefix(strings.TrimSpace(in.OrderNumber), "#")
	if number == "" {
		return nil, fmt.Errorf("order_number is required")
	}

	order, err := h.store.GetOrderByNumber(ctx, tenantID, number)
	if errors.Is(err, ErrOrderNotFound) {
		return map[string]any{"found": false, "order_number": number}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"found":            true,
		"order_number":     order.Number,
		"status":           order.Status,
		"financial_status": order.FinancialStatus,
		"total":            order.Total,
		"currency":         order.Currency,
		"placed_at":        order.PlacedAt.Format(time.RFC3339),
	}
	if order.TrackingNumber != "" {
		out["tracking_number"] = order.TrackingNumber
		out["tracking_url"] = order.TrackingURL
	}
	return out, nil
}

// --- process_return_request ---

type returnRequestHandler struct{ *Handlers }

func (*returnRequestHandler) Name() string { return "process_return_request" }

func (*returnRequestHandler) Description() string {
	return "Initiate a return for an order and issue an RMA number. Only fulfilled orders are returnable."
}

func (*returnRequestHandler) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"order_number": {"type": "string"},
			"reason": {"type": "string", "description": "The customer's stated reason for the return."}
		},
		"required": ["order_number", "reason"]
	}`)
}

type returnRequestArgs struct {
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
}

func (h *returnRequestHandler) Invoke(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
	var in returnRequestArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	number := strings.TrimPrefix(strings.TrimSpace(in.OrderNumber), "#")
	if number == "" {
		return nil, fmt.Errorf("order_number is required")
	}

	order, err := h.store.GetOrderByNumber(ctx, tenantID, number)
	if errors.Is(err, ErrOrderNotFound) {
		return map[string]any{"accepted": false, "reason": "order not found"}, nil
	}
	if err != nil {
		return nil, err
	}
	if order.Status != "fulfilled" {
		return map[string]any{
			"accepted": false,
			"reason":   fmt.Sprintf("order is %s, only fulfilled orders are returnable", order.Status),
		}, nil
	}

	now := h.now()
	ret, err := h.store.CreateReturn(ctx, Return{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		OrderNumber: number,
		RMA:         fmt.Sprintf("RET-%s-%s", number, now.Format("20060102")),
		Reason:      strings.TrimSpace(in.Reason),
		Status:      "pending",
		CreatedAt:   now,
	})
	if err != nil {
		return nil, err
	}
	h.log.Info("return initiated",
		slog.String("tenant_id", tenantID),
		slog.String("order_number", number),
		slog.String("rma", ret.RMA))
	return map[string]any{"accepted": true, "rma": ret.RMA, "status": ret.Status}, nil
}

// --- search_products ---

type productSearchHandler struct{ *Handlers }

func (*productSearchHandler) Name() string { return "search_products" }

func (*productSearchHandler) Description() string {
	return "Search the product catalog by keyword and return matching products with price and availability."
}

func (*productSearchHandler) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"max_price": {"type": "number", "description": "Only return products at or below this price."},
			"limit": {"type": "integer", "description": "Maximum results, default 5."}
		},
		"required": ["query"]
	}`)
}

type productSearchArgs struct {
	Query    string  `json:"query"`
	MaxPrice float64 `json:"max_price"`
	Limit    int     `json:"limit"`
}

func (h *productSearchHandler) Invoke(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
	var in productSearchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	limit := in.Limit
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	products, err := h.store.SearchProducts(ctx, tenantID, query, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(products))
	for _, p := range products {
		if in.MaxPrice > 0 && p.Price > in.MaxPrice {
			continue
		}
		items = append(items, map[string]any{
			"title":    p.Title,
			"price":    p.Price,
			"currency": p.Currency,
			"in_stock": p.InStock,
		})
	}
	return map[string]any{"count": len(items), "products": items}, nil
}

// --- update_customer_info ---

type customerUpdateHandler struct{ *Handlers }

func (*customerUpdateHandler) Name() string { return "update_customer_info" }

func (*customerUpdateHandler) Description() string {
	return "Update the customer's contact record (email, name, or shipping address) identified by their phone number."
}

func (*customerUpdateHandler) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"phone": {"type": "string", "description": "The customer's phone number in international format."},
			"email": {"type": "string"},
			"name": {"type": "string"},
			"address": {"type": "string"}
		},
		"required": ["phone"]
	}`)
}

type customerUpdateArgs struct {
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (h *customerUpdateHandler) Invoke(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
	var in customerUpdateArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		return nil, fmt.Errorf("phone is required")
	}
	if in.Email == "" && in.Name == "" && in.Address == "" {
		return nil, fmt.Errorf("at least one of email, name, address is required")
	}

	err := h.store.UpsertCustomer(ctx, Customer{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Phone:     phone,
		Email:     strings.TrimSpace(in.Email),
		Name:      strings.TrimSpace(in.Name),
		Address:   strings.TrimSpace(in.Address),
		UpdatedAt: h.now(),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"updated": true}, nil
}

package capability_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/botlerhq/botler/internal/capability"
	"github.com/botlerhq/botler/internal/dispatch"
)

func newRegistry(t *testing.T, store capability.Store) *dispatch.Registry {
	t.Helper()
	reg := dispatch.NewRegistry()
	capability.NewHandlers(slog.Default(), store).RegisterAll(reg)
	return reg
}

func invoke(t *testing.T, reg *dispatch.Registry, name, args string) map[string]any {
	t.Helper()
	h, ok := reg.Get(name)
	require.True(t, ok, "capability %s not registered", name)
	out, err := h.Invoke(context.Background(), "t1", json.RawMessage(args))
	require.NoError(t, err)
	encoded, err := json.Marshal(out)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	return decoded
}

func seedOrder(t *testing.T, store *capability.MemoryStore, number, status string) {
	t.Helper()
	require.NoError(t, store.UpsertOrder(context.Background(), capability.Order{
		ID:         "o-" + number,
		TenantID:   "t1",
		Platform:   "shopify",
		ExternalID: "ext-" + number,
		Number:     number,
		Status:     status,
		Total:      49.90,
		Currency:   "USD",
		PlacedAt:   time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC),
	}))
}

func TestCheckOrderStatus(t *testing.T) {
	t.Parallel()
	store := capability.NewMemoryStore()
	seedOrder(t, store, "1001", "fulfilled")
	reg := newRegistry(t, store)

	out := invoke(t, reg, "check_order_status", `{"order_number": "#1001"}`)
	require.Equal(t, true, out["found"])
	require.Equal(t, "fulfilled", out["status"])

	out = invoke(t, reg, "check_order_status", `{"order_number": "9999"}`)
	require.Equal(t, false, out["found"])
}

func TestProcessReturnRequest(t *testing.T) {
	t.Parallel()
	store := capability.NewMemoryStore()
	seedOrder(t, store, "1001", "fulfilled")
	seedOrder(t, store, "1002", "pending")
	reg := newRegistry(t, store)

	out := invoke(t, reg, "process_return_request", `{"order_number": "1001", "reason": "wrong size"}`)
	require.Equal(t, true, out["accepted"])
	rma, _ := out["rma"].(string)
	require.Regexp(t, `^RET-1001-\d{8}$`, rma)

	// Unfulfilled orders are not returnable.
	out = invoke(t, reg, "process_return_request", `{"order_number": "1002", "reason": "changed my mind"}`)
	require.Equal(t, false, out["accepted"])

	// Repeating the request the same day reuses the RMA.
	out = invoke(t, reg, "process_return_request", `{"order_number": "1001", "reason": "wrong size"}`)
	require.Equal(t, rma, out["rma"])
}

func TestSearchProducts(t *testing.T) {
	t.Parallel()
	store := capability.NewMemoryStore()
	store.AddProduct(capability.Product{ID: "p1", TenantID: "t1", Title: "Trail Running Shoes", Price: 120, Currency: "USD", InStock: true})
	store.AddProduct(capability.Product{ID: "p2", TenantID: "t1", Title: "Road Running Shoes", Price: 90, Currency: "USD", InStock: false})
	store.AddProduct(capability.Product{ID: "p3", TenantID: "t2", Title: "Running Socks", Price: 12, Currency: "USD", InStock: true})
	reg := newRegistry(t, store)

	out := invoke(t, reg, "search_products", `{"query": "running"}`)
	require.EqualValues(t, 2, out["count"], "other tenants' catalogs are invisible")

	products := out["products"].([]any)
	first := products[0].(map[string]any)
	require.Equal(t, "Trail Running Shoes", first["title"], "in-stock items rank first")

	out = invoke(t, reg, "search_products", `{"query": "running", "max_price": 100}`)
	require.EqualValues(t, 1, out["count"])
	only := out["products"].([]any)[0].(map[string]any)
	require.Equal(t, "Road Running Shoes", only["title"])
}

func TestUpdateCustomerInfo(t *testing.T) {
	t.Parallel()
	store := capability.NewMemoryStore()
	reg := newRegistry(t, store)

	out := invoke(t, reg, "update_customer_info", `{"phone": "+15550001111", "email": "new@example.com"}`)
	require.Equal(t, true, out["updated"])

	// A later partial update keeps earlier fields.
	invoke(t, reg, "update_customer_info", `{"phone": "+15550001111", "address": "1 Main St"}`)
	customer, ok := store.GetCustomer("t1", "+15550001111")
	require.True(t, ok)
	require.Equal(t, "new@example.com", customer.Email)
	require.Equal(t, "1 Main St", customer.Address)

	// No updatable field supplied.
	h, _ := reg.Get("update_customer_info")
	_, err := h.Invoke(context.Background(), "t1", json.RawMessage(`{"phone": "+15550001111"}`))
	require.Error(t, err)
}

func TestRegisteredSchemas(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, capability.NewMemoryStore())
	tools := reg.Tools()
	require.Len(t, tools, 4)
	require.Equal(t, "check_order_status", tools[0].Name)
	for _, tool := range tools {
		var schema map[string]any
		require.NoError(t, json.Unmarshal(tool.Parameters, &schema), "schema for %s must be valid JSON", tool.Name)
		require.Equal(t, "object", schema["type"])
	}
}

package handlers_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/botlerhq/botler/internal/ai"
	"github.com/botlerhq/botler/internal/capability"
	"github.com/botlerhq/botler/internal/conversation"
	"github.com/botlerhq/botler/internal/dispatch"
	"github.com/botlerhq/botler/internal/event"
	"github.com/botlerhq/botler/internal/handlers"
	"github.com/botlerhq/botler/internal/idempotency"
	"github.com/botlerhq/botler/internal/outbound"
	"github.com/botlerhq/botler/internal/processor"
	"github.com/botlerhq/botler/internal/ratelimit"
	"github.com/botlerhq/botler/internal/tenant"
)

type staticEngine struct{}

func (staticEngine) Complete(context.Context, []ai.Message, []ai.Tool) (ai.Reply, error) {
	return ai.Reply{Content: "ok"}, nil
}

func newEcho(t *testing.T) *echo.Echo {
	t.Helper()
	log := slog.Default()

	tenants := tenant.NewMemoryStore()
	tenants.Put(tenant.Tenant{
		ID:      "t1",
		Enabled: true,
		Credentials: map[event.Platform]tenant.Credentials{
			event.PlatformShopify:  {WebhookSecret: "shop-secret"},
			event.PlatformWhatsApp: {WebhookSecret: "app-secret", VerifyToken: "verify-me"},
		},
	})

	idem := idempotency.NewMemoryStore(idempotency.DefaultPolicy())
	machine := conversation.NewMachine(log, conversation.NewMemoryStore(), conversation.NewKeyedLock(),
		conversation.MachineConfig{Window: 24 * time.Hour, HistoryLimit: 10})
	registry := dispatch.NewRegistry()
	capStore := capability.NewMemoryStore()
	capability.NewHandlers(log, capStore).RegisterAll(registry)
	runner := dispatch.NewRunner(log, staticEngine{}, dispatch.NewDispatcher(log, registry, time.Second), registry, 5)
	messenger := outbound.NewMessenger(log, idem,
		outbound.MessengerConfig{RetryMax: 1, SendRate: 1000, SendBurst: 100},
		outbound.NewLogSender(log, event.PlatformWhatsApp))

	proc := processor.New(log, tenants, event.DefaultRegistry(), idem,
		ratelimit.NewLimiter(ratelimit.Limit{Capacity: 100, RefillRate: 10}),
		ratelimit.NewLimiter(ratelimit.Limit{Capacity: 100, RefillRate: 10}),
		machine, runner, capStore, messenger)

	e := echo.New()
	handlers.NewWebhookHandler(log, proc, tenants).Register(e)
	return e
}

func shopifySig(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhook_ValidShopifyOrder(t *testing.T) {
	t.Parallel()
	e := newEcho(t)
	body := `{"id": 42, "name": "#1001", "total_price": "10.00", "currency": "USD", "financial_status": "paid", "created_at": "2025-05-30T09:15:00Z"}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify/t1", strings.NewReader(body))
	req.Header.Set("X-Shopify-Hmac-SHA256", shopifySig(body, "shop-secret"))
	req.Header.Set("X-Shopify-Topic", "orders/create")
	req.Header.Set("X-Shopify-Webhook-Id", "wh-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"processed":1`)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	t.Parallel()
	e := newEcho(t)
	body := `{"id": 42}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify/t1", strings.NewReader(body))
	req.Header.Set("X-Shopify-Hmac-SHA256", shopifySig("other body", "shop-secret"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_MalformedPayloadStill200(t *testing.T) {
	t.Parallel()
	e := newEcho(t)
	body := `{"name": "#1001"}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify/t1", strings.NewReader(body))
	req.Header.Set("X-Shopify-Hmac-SHA256", shopifySig(body, "shop-secret"))
	req.Header.Set("X-Shopify-Topic", "orders/create")
	req.Header.Set("X-Shopify-Webhook-Id", "wh-bad")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, "malformed payloads are acked to stop redelivery")
}

func TestWebhook_UnknownTenant(t *testing.T) {
	t.Parallel()
	e := newEcho(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify/ghost", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_UnknownPlatform(t *testing.T) {
	t.Parallel()
	e := newEcho(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram/t1", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhook_WhatsAppHandshake(t *testing.T) {
	t.Parallel()
	e := newEcho(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp/t1?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "12345", rec.Body.String())
}

func TestWebhook_WhatsAppHandshakeBadToken(t *testing.T) {
	t.Parallel()
	e := newEcho(t)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/whatsapp/t1?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

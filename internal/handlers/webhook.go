package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/botlerhq/botler/internal/event"
	"github.com/botlerhq/botler/internal/processor"
	"github.com/botlerhq/botler/internal/signature"
	"github.com/botlerhq/botler/internal/tenant"
)

// WebhookHandler exposes one webhook endpoint per platform. Handlers are
// marshalling only: raw bytes and headers in, processor ack out. Every
// admission outcome (duplicates, throttles, malformed payloads included)
// returns 200 so the platform stops redelivering; only signature failures
// and unknown tenants are non-2xx.
type WebhookHandler struct {
	proc    *processor.Processor
	tenants tenant.Store
	logger  *slog.Logger
}

// NewWebhookHandler creates the webhook endpoints.
func NewWebhookHandler(log *slog.Logger, proc *processor.Processor, tenants tenant.Store) *WebhookHandler {
	return &WebhookHandler{
		proc:    proc,
		tenants: tenants,
		logger:  log.With(slog.String("handler", "webhook")),
	}
}

// Register mounts the routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/:platform/:tenant_id", h.Handle)
	e.GET("/webhooks/whatsapp/:tenant_id", h.VerifyWhatsApp)
}

// Handle receives one webhook delivery.
func (h *WebhookHandler) Handle(c echo.Context) error {
	platform, err := event.ParsePlatform(c.Param("platform"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown platform")
	}
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusNotFound, "tenant_id is required")
	}

	// The signature covers the exact raw byte sequence; read it before any
	// decoding touches the request.
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body")
	}

	raw := event.RawDelivery{
		Platform:   platform,
		TenantID:   tenantID,
		Headers:    flattenHeaders(c.Request().Header),
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	}

	ctx := c.Request().Context()
	if err := h.proc.VerifyDelivery(ctx, raw); err != nil {
		switch {
		case errors.Is(err, tenant.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "unknown tenant")
		case errors.Is(err, signature.ErrSecretNotConfigured):
			h.logger.Error("webhook secret not configured",
				slog.String("platform", string(platform)),
				slog.String("tenant_id", tenantID))
			return echo.NewHTTPError(http.StatusUnauthorized, "verification unavailable")
		default:
			h.logger.Warn("signature rejected",
				slog.String("platform", string(platform)),
				slog.String("tenant_id", tenantID))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		}
	}

	ack, err := h.proc.Process(ctx, raw)
	if err != nil {
		h.logger.Error("webhook processing failed",
			slog.String("platform", string(platform)),
			slog.String("tenant_id", tenantID),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "processing failed")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"events":      ack.Events,
		"processed":   ack.Processed,
		"duplicates":  ack.Duplicates,
		"in_progress": ack.InProgress,
		"throttled":   ack.Throttled,
	})
}

// VerifyWhatsApp answers Meta's one-time subscription handshake.
func (h *WebhookHandler) VerifyWhatsApp(c echo.Context) error {
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	t, err := h.tenants.Get(c.Request().Context(), tenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown tenant")
	}
	creds, ok := t.CredentialsFor(event.PlatformWhatsApp)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "whatsapp not configured")
	}

	challenge, err := signature.VerifyChallenge(
		c.QueryParam("hub.mode"),
		c.QueryParam("hub.verify_token"),
		c.QueryParam("hub.challenge"),
		creds.VerifyToken,
	)
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key := range header {
		out[http.CanonicalHeaderKey(key)] = header.Get(key)
	}
	return out
}

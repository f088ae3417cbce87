package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type PingHandler struct {
	logger *slog.Logger
	checks []healthCheck
}

type healthCheck struct {
	name  string
	check func(context.Context) error
}

func NewPingHandler(log *slog.Logger) *PingHandler {
	return &PingHandler{logger: log.With(slog.String("handler", "ping"))}
}

// AddCheck registers a named connectivity check reported by /health.
func (h *PingHandler) AddCheck(name string, check func(context.Context) error) {
	h.checks = append(h.checks, healthCheck{name: name, check: check})
}

func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)
	e.HEAD("/health", h.PingHead)
}

func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Health reports overall status plus each registered dependency check.
func (h *PingHandler) Health(c echo.Context) error {
	if len(h.checks) == 0 {
		return h.Ping(c)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	overall := "ok"
	results := map[string]string{}
	for _, hc := range h.checks {
		if err := hc.check(ctx); err != nil {
			h.logger.Warn("health check failed",
				slog.String("check", hc.name), slog.Any("error", err))
			results[hc.name] = err.Error()
			overall = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			results[hc.name] = "ok"
		}
	}
	return c.JSON(status, map[string]any{
		"status": overall,
		"checks": results,
	})
}

func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

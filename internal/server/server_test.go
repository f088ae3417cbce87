package server_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botlerhq/botler/internal/handlers"
	"github.com/botlerhq/botler/internal/server"
)

func TestServer_HealthRoute(t *testing.T) {
	t.Parallel()
	srv := server.NewServer(slog.Default(), ":0", handlers.NewPingHandler(slog.Default()), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_UnknownRoute(t *testing.T) {
	t.Parallel()
	srv := server.NewServer(slog.Default(), ":0", handlers.NewPingHandler(slog.Default()), nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

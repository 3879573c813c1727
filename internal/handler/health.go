package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"bff-gateway/internal/client"
	"bff-gateway/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

const probeTimeout = 5 * time.Second

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	client  *client.UpstreamClient
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, c *client.UpstreamClient, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:     cfg,
		version: v,
		client:  c,
		logger:  logger.With("component", "health_handler"),
	}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readyz reports whether the upstream answers at its base URL. Any status
// below 500 counts as reachable.
func (h *HealthHandler) Readyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()

	status, err := h.client.Probe(ctx, h.cfg.Upstream.BaseURL)
	if err != nil || status >= http.StatusInternalServerError {
		h.logger.Warn("upstream not ready", "err", err, "upstream_status", status)
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":          "unavailable",
			"upstream_status": status,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":          "ok",
		"upstream_status": status,
	})
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": h.cfg.Upstream.BaseURL,
		"prefix":       h.cfg.Gateway.Prefix,
		"methods":      h.cfg.Gateway.Methods,
	})
}

package handler

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bff-gateway/internal/config"
	"bff-gateway/internal/metrics"
	"bff-gateway/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The
// metrics parameter is optional.
//
// Local routes get a request id and security headers. Forwarded routes get
// neither, so relayed responses carry exactly what the upstream sent.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	local := []echo.MiddlewareFunc{
		echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}),
		middleware.SecurityHeaders(),
	}

	e.GET(config.HealthzPath, health.Healthz, local...)
	e.GET(config.ReadyzPath, health.Readyz, local...)
	e.GET(config.StatusPath, health.Status, local...)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), local...)
	}

	RegisterForwarding(e, cfg.Gateway.Prefix, cfg.Gateway.Methods, proxy.Handle)
}

// RegisterForwarding adds h for every method in methods, on the prefix itself
// and on everything below it. Methods outside the set never reach h; the
// router answers them.
func RegisterForwarding(e *echo.Echo, prefix string, methods []string, h echo.HandlerFunc) {
	for _, method := range methods {
		e.Add(method, prefix, h)
		e.Add(method, prefix+"/*", h)
	}
}

package api

import (
	"github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/north-cloud/guardrail/infrastructure/gin"
	infralogger "github.com/jonesrussell/north-cloud/guardrail/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/guardrail/internal/config"
)

// NewServer creates a new HTTP server using the infrastructure gin package.
// checks are added to GET /health next to the built-in status.
func NewServer(handler *Handler, cfg *config.Config, infraLog infralogger.Logger, checks map[string]infragin.HealthChecker) *infragin.Server {
	builder := infragin.NewServerBuilder(cfg.Service.Name, cfg.Server.Port).
		WithLogger(infraLog).
		WithHost(cfg.Server.Host).
		WithDebug(cfg.Server.Debug).
		WithVersion(cfg.Service.Version).
		WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout).
		WithShutdownTimeout(cfg.Server.ShutdownTimeout).
		WithCORS(infragin.CORSConfig{
			Enabled:        cfg.CORS.Enabled,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
		})

	for name, check := range checks {
		builder = builder.WithHealthCheck(name, check)
	}

	return builder.
		WithRoutes(func(router *gin.Engine) {
			// Setup service-specific routes (health routes added by builder)
			SetupRoutes(router, handler)
		}).
		Build()
}

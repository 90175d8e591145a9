package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures service-specific API routes (not health routes).
// Health routes are handled by the infrastructure gin package.
func SetupRoutes(router *gin.Engine, handler *Handler) {
	v1 := router.Group("/api/v1")

	// Guardrail endpoints
	guardrails := v1.Group("/guardrails")
	guardrails.GET("", handler.ListDeployments)          // GET /api/v1/guardrails
	guardrails.GET("/:deployment", handler.GetDeployment) // GET /api/v1/guardrails/:deployment
	guardrails.POST("/:deployment", handler.Classify)     // POST /api/v1/guardrails/:deployment

	v1.GET("/variants", handler.ListVariants) // GET /api/v1/variants

	// Metrics endpoints
	metrics := v1.Group("/metrics")
	metrics.GET("/ml-health", handler.GetMLHealth) // GET /api/v1/metrics/ml-health

	// Legacy per-deployment routes, e.g. POST /api/sojka_guard
	for _, name := range handler.order {
		if route := handler.deployments[name].Route; route != "" {
			router.POST(route, handler.classifyAs(name))
		}
	}
	router.GET("/api/ping", handler.Ping)

	if handler.telemetry != nil {
		router.GET("/metrics", gin.WrapH(handler.telemetry.Handler()))
	}
}

// Package api exposes guardrail deployments over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/north-cloud/guardrail/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/guardrail/internal/guardrail"
	"github.com/jonesrussell/north-cloud/guardrail/internal/mlhealth"
	"github.com/jonesrussell/north-cloud/guardrail/internal/payload"
	"github.com/jonesrussell/north-cloud/guardrail/internal/telemetry"
)

const (
	maxBodyBytes      = 10 << 20
	mlHealthTimeout   = 5 * time.Second
	errBodyMustBeJSON = "Request body must be JSON"
	errBodyTooLarge   = "Request body too large"
	unknownDeployment = "unknown deployment: "
)

// Deployment is a built guardrail and its optional legacy route.
type Deployment struct {
	Guardrail *guardrail.Guardrail
	Route     string
}

// Handler handles HTTP requests for the guardrail API.
type Handler struct {
	deployments map[string]Deployment
	order       []string
	variants    *guardrail.Registry
	sidecarURLs []string
	telemetry   *telemetry.Provider
	logger      infralogger.Logger
}

// NewHandler creates a new API handler. sidecarURLs are the distinct
// inference endpoints reported by the ml-health route.
func NewHandler(
	deployments []Deployment,
	variants *guardrail.Registry,
	sidecarURLs []string,
	tp *telemetry.Provider,
	log infralogger.Logger,
) *Handler {
	if log == nil {
		log = infralogger.NewNop()
	}
	if variants == nil {
		variants = guardrail.NewRegistry()
	}

	h := &Handler{
		deployments: make(map[string]Deployment, len(deployments)),
		order:       make([]string, 0, len(deployments)),
		variants:    variants,
		sidecarURLs: sidecarURLs,
		telemetry:   tp,
		logger:      log,
	}
	for _, d := range deployments {
		name := d.Guardrail.Name()
		h.deployments[name] = d
		h.order = append(h.order, name)
	}
	return h
}

// ClassifyResponse wraps a decision the way every guardrail route answers.
type ClassifyResponse struct {
	Results guardrail.Decision `json:"results"`
}

// Classify handles POST /api/v1/guardrails/:deployment
func (h *Handler) Classify(c *gin.Context) {
	h.classify(c, c.Param("deployment"))
}

// classifyAs binds a legacy route to one deployment.
func (h *Handler) classifyAs(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.classify(c, name)
	}
}

func (h *Handler) classify(c *gin.Context, name string) {
	d, ok := h.deployments[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": unknownDeployment + name})
		return
	}

	log := infralogger.FromContext(c.Request.Context()).With(infralogger.String("deployment", name))

	if !isJSONContentType(c.ContentType()) {
		log.Debug("Rejected non-JSON guardrail request", infralogger.String("content_type", c.ContentType()))
		c.JSON(http.StatusBadRequest, gin.H{"error": errBodyMustBeJSON})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errBodyTooLarge})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errBodyMustBeJSON})
		return
	}

	v, err := payload.Parse(body)
	if err != nil {
		log.Debug("Rejected malformed guardrail payload", infralogger.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": errBodyMustBeJSON})
		return
	}

	decision, err := d.Guardrail.ClassifyPayload(c.Request.Context(), v)
	if err != nil {
		log.Error("Guardrail request failed", infralogger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, ClassifyResponse{Results: decision})
}

// isJSONContentType matches the media type case-insensitively.
func isJSONContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}

// DeploymentsResponse lists the served deployments.
type DeploymentsResponse struct {
	Deployments []DeploymentInfo `json:"deployments"`
	Total       int              `json:"total"`
}

// DeploymentInfo is a deployment's effective settings plus its legacy route.
type DeploymentInfo struct {
	guardrail.Info
	Route string `json:"route,omitempty"`
}

// ListDeployments handles GET /api/v1/guardrails
func (h *Handler) ListDeployments(c *gin.Context) {
	out := make([]DeploymentInfo, 0, len(h.order))
	for _, name := range h.order {
		d := h.deployments[name]
		out = append(out, DeploymentInfo{Info: d.Guardrail.Info(), Route: d.Route})
	}
	c.JSON(http.StatusOK, DeploymentsResponse{Deployments: out, Total: len(out)})
}

// GetDeployment handles GET /api/v1/guardrails/:deployment
func (h *Handler) GetDeployment(c *gin.Context) {
	name := c.Param("deployment")
	d, ok := h.deployments[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": unknownDeployment + name})
		return
	}
	c.JSON(http.StatusOK, DeploymentInfo{Info: d.Guardrail.Info(), Route: d.Route})
}

// ListVariants handles GET /api/v1/variants
func (h *Handler) ListVariants(c *gin.Context) {
	views := h.variants.Views()
	c.JSON(http.StatusOK, gin.H{"variants": views, "total": len(views)})
}

// MLHealthResponse reports every inference sidecar.
type MLHealthResponse struct {
	Healthy  bool                     `json:"healthy"`
	Services []mlhealth.ServiceHealth `json:"services"`
}

// GetMLHealth handles GET /api/v1/metrics/ml-health
func (h *Handler) GetMLHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), mlHealthTimeout)
	defer cancel()

	services := mlhealth.CheckAll(ctx, h.sidecarURLs, h.telemetry)
	healthy := true
	for _, s := range services {
		if !s.Healthy {
			healthy = false
			h.logger.Warn("Inference sidecar unhealthy",
				infralogger.String("url", s.URL),
				infralogger.String("error", s.Error),
			)
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, MLHealthResponse{Healthy: healthy, Services: services})
}

// Ping handles GET /api/ping
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"response": "pong"})
}

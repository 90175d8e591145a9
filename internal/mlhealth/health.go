// Package mlhealth provides a single implementation for inference sidecar health checks.
package mlhealth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/guardrail/internal/mltransport"
	"github.com/jonesrussell/north-cloud/guardrail/internal/telemetry"
)

// Check calls GET /health at baseURL and returns reachable, latencyMs, model_version, and any error.
func Check(ctx context.Context, baseURL string) (reachable bool, latencyMs int64, modelVersion string, err error) {
	reachable, latencyMs, modelVersion, err = mltransport.DoHealth(ctx, baseURL)
	if err != nil {
		return reachable, latencyMs, modelVersion, fmt.Errorf("ml health check: %w", err)
	}
	return reachable, latencyMs, modelVersion, nil
}

// ServiceHealth is the report for one sidecar URL.
type ServiceHealth struct {
	URL          string    `json:"url"`
	Reachable    bool      `json:"reachable"`
	Healthy      bool      `json:"healthy"`
	LatencyMs    int64     `json:"latency_ms"`
	ModelVersion string    `json:"model_version,omitempty"`
	Error        string    `json:"error,omitempty"`
	LastChecked  time.Time `json:"last_checked"`
}

// CheckAll checks every URL concurrently and updates the sidecar_up gauge.
// Results keep the order of urls.
func CheckAll(ctx context.Context, urls []string, tp *telemetry.Provider) []ServiceHealth {
	out := make([]ServiceHealth, len(urls))

	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		go func() {
			defer wg.Done()

			reachable, latencyMs, version, err := Check(ctx, u)
			h := ServiceHealth{
				URL:          u,
				Reachable:    reachable,
				Healthy:      err == nil,
				LatencyMs:    latencyMs,
				ModelVersion: version,
				LastChecked:  time.Now().UTC(),
			}
			if err != nil {
				h.Error = err.Error()
			}
			tp.SetSidecarUp(u, err == nil)
			out[i] = h
		}()
	}
	wg.Wait()

	return out
}

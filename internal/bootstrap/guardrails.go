package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/guardrail/infrastructure/circuitbreaker"
	infragin "github.com/jonesrussell/north-cloud/guardrail/infrastructure/gin"
	infralogger "github.com/jonesrussell/north-cloud/guardrail/infrastructure/logger"
	infraredis "github.com/jonesrussell/north-cloud/guardrail/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/guardrail/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/guardrail/internal/api"
	"github.com/jonesrussell/north-cloud/guardrail/internal/cache"
	"github.com/jonesrussell/north-cloud/guardrail/internal/chunker"
	"github.com/jonesrussell/north-cloud/guardrail/internal/config"
	"github.com/jonesrussell/north-cloud/guardrail/internal/guardrail"
	"github.com/jonesrussell/north-cloud/guardrail/internal/mlclient"
	"github.com/jonesrussell/north-cloud/guardrail/internal/telemetry"
	"github.com/jonesrussell/north-cloud/guardrail/internal/tokenizer"
)

// Components holds everything the HTTP server and the CLI need.
type Components struct {
	Config      *config.Config
	Logger      infralogger.Logger
	Telemetry   *telemetry.Provider
	Variants    *guardrail.Registry
	Deployments []api.Deployment
	SidecarURLs []string
	Redis       *redis.Client

	// sidecars holds one client per distinct sidecar URL for health checks.
	sidecars map[string]*mlclient.Client
}

// BuildOptions tunes NewComponents.
type BuildOptions struct {
	// Only builds the named deployment, enabled or not.
	Only string
	// Offline tokenizes locally instead of through the sidecar.
	Offline bool
}

// NewComponents builds every enabled deployment. A deployment that fails to
// build is a startup error. An unreachable cache only disables caching.
func NewComponents(ctx context.Context, cfg *config.Config, log infralogger.Logger, tp *telemetry.Provider, opts BuildOptions) (*Components, error) {
	variants, err := cfg.VariantRegistry()
	if err != nil {
		return nil, fmt.Errorf("variants: %w", err)
	}

	c := &Components{
		Config:    cfg,
		Logger:    log,
		Telemetry: tp,
		Variants:  variants,
		Redis:     connectCache(ctx, cfg, log),
		sidecars:  make(map[string]*mlclient.Client),
	}

	for _, d := range selectDeployments(cfg, opts.Only) {
		g, client, buildErr := c.buildDeployment(ctx, d, opts.Offline)
		if buildErr != nil {
			c.Close()
			return nil, buildErr
		}
		c.Deployments = append(c.Deployments, api.Deployment{Guardrail: g, Route: d.Route})

		url := cfg.SidecarURLFor(d)
		if _, ok := c.sidecars[url]; !ok {
			c.sidecars[url] = client
			c.SidecarURLs = append(c.SidecarURLs, url)
		}

		info := g.Info()
		log.Info("Guardrail deployment ready",
			infralogger.String("deployment", info.Name),
			infralogger.String("variant", info.Variant.Name),
			infralogger.String("device", info.Device),
			infralogger.Int("max_tokens", info.MaxTokens),
			infralogger.Int("overlap", info.Overlap),
			infralogger.String("route", d.Route),
		)
	}

	if opts.Only != "" && len(c.Deployments) == 0 {
		c.Close()
		return nil, fmt.Errorf("deployment %q is not configured", opts.Only)
	}
	return c, nil
}

func selectDeployments(cfg *config.Config, only string) []config.DeploymentConfig {
	if only == "" {
		return cfg.EnabledDeployments()
	}
	if d, ok := cfg.Deployment(only); ok {
		return []config.DeploymentConfig{d}
	}
	return nil
}

func connectCache(ctx context.Context, cfg *config.Config, log infralogger.Logger) *redis.Client {
	if !cfg.Cache.Enabled {
		return nil
	}
	client, err := infraredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn("Prediction cache disabled, redis unavailable",
			infralogger.String("address", cfg.Redis.Address),
			infralogger.Error(err),
		)
		return nil
	}
	return client
}

func (c *Components) buildDeployment(ctx context.Context, d config.DeploymentConfig, offline bool) (*guardrail.Guardrail, *mlclient.Client, error) {
	cfg := c.Config
	device, err := guardrail.ParseDevice(d.Device)
	if err != nil {
		return nil, nil, fmt.Errorf("deployment %q: %w", d.Name, err)
	}

	log := c.Logger.With(infralogger.String("deployment", d.Name))
	client := mlclient.NewClient(mlclient.Config{
		BaseURL:   cfg.SidecarURLFor(d),
		ModelPath: d.ModelPath,
		Device:    device,
		Timeout:   cfg.Sidecar.Timeout,
		RateLimit: cfg.Sidecar.RateLimit,
		Burst:     cfg.Sidecar.Burst,
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.Sidecar.BreakerFailures,
			Timeout:          cfg.Sidecar.BreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				log.Warn("Sidecar circuit breaker state changed",
					infralogger.String("from", from.String()),
					infralogger.String("to", to.String()),
				)
			},
		},
		Retry:     retry.Config{MaxAttempts: cfg.Sidecar.ModelInfoAttempts},
		Telemetry: c.Telemetry,
	})

	var classifier guardrail.Classifier = client
	if c.Redis != nil {
		classifier = cache.New(client, c.Redis, cache.Options{
			Deployment: d.Name,
			ModelPath:  d.ModelPath,
			TTL:        cfg.Cache.TTL,
			Logger:     c.Logger,
			Telemetry:  c.Telemetry,
		})
	}

	var tok tokenizer.Tokenizer = client
	if offline {
		tok = tokenizer.NewWhitespace(0)
	}

	g, err := guardrail.New(ctx, guardrail.Options{
		Name:            d.Name,
		ModelType:       d.ModelType,
		ModelPath:       d.ModelPath,
		Device:          device,
		Variant:         d.Variant,
		Variants:        c.Variants,
		MaxTokens:       d.MaxTokens,
		Overlap:         derefOr(d.Overlap, chunker.DefaultOverlap),
		MinTextLength:   derefOr(d.MinTextLength, -1),
		FallbackOnEmpty: d.FallbackOnEmpty,
		Classifier:      classifier,
		Tokenizer:       tok,
		Logger:          c.Logger,
		Telemetry:       c.Telemetry,
	})
	if err != nil {
		return nil, nil, err
	}
	return g, client, nil
}

const healthCheckTimeout = 3 * time.Second

func derefOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Deployment returns the built deployment with the given name.
func (c *Components) Deployment(name string) (*guardrail.Guardrail, bool) {
	for _, d := range c.Deployments {
		if d.Guardrail.Name() == name {
			return d.Guardrail, true
		}
	}
	return nil, false
}

// HealthChecks are the dependency checks reported by GET /health.
func (c *Components) HealthChecks() map[string]infragin.HealthChecker {
	checks := make(map[string]infragin.HealthChecker)
	if c.Redis != nil {
		client := c.Redis
		checks["redis"] = infragin.PingHealthChecker("redis", infragin.HealthStatusDegraded, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer cancel()
			return client.Ping(ctx).Err()
		})
	}
	for i, url := range c.SidecarURLs {
		name := "sidecar"
		if i > 0 {
			name = fmt.Sprintf("sidecar_%d", i)
		}
		client := c.sidecars[url]
		checks[name] = infragin.PingHealthChecker(name, infragin.HealthStatusUnhealthy, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
			defer cancel()
			return client.Health(ctx)
		})
	}
	return checks
}

// Close releases the cache connection.
func (c *Components) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("Failed to close redis client", infralogger.Error(err))
		}
	}
}

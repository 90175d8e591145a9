// Package bootstrap wires configuration, logging, deployments and the HTTP
// server for the guardrail service.
package bootstrap

import (
	"context"
	"fmt"

	infralogger "github.com/jonesrussell/north-cloud/guardrail/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/guardrail/infrastructure/profiling"
	"github.com/jonesrussell/north-cloud/guardrail/internal/api"
	"github.com/jonesrussell/north-cloud/guardrail/internal/telemetry"
)

// ServeOptions are the command-line overrides for Serve.
type ServeOptions struct {
	ConfigPath string
	Debug      bool
}

// Serve runs the HTTP service until ctx is cancelled or a signal arrives.
func Serve(ctx context.Context, opts ServeOptions) error {
	// Phase 1: configuration and logging
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Debug {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
	}

	log, err := CreateLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// Phase 2: profiling
	profiling.StartPprof(log)
	profiler, err := profiling.StartPyroscope(cfg.Service.Name, cfg.Service.Version, log)
	if err != nil {
		log.Warn("Continuous profiling disabled", infralogger.Error(err))
	}
	defer func() { _ = profiler.Stop() }()

	// Phase 3: deployments
	tp := telemetry.NewProvider(nil)
	comps, err := NewComponents(ctx, cfg, log, tp, BuildOptions{})
	if err != nil {
		return fmt.Errorf("build deployments: %w", err)
	}
	defer comps.Close()

	if len(comps.Deployments) == 0 {
		log.Warn("No guardrail deployments enabled; only health and metadata routes are served")
	}

	// Phase 4: HTTP server
	handler := api.NewHandler(comps.Deployments, comps.Variants, comps.SidecarURLs, tp, log)
	server := api.NewServer(handler, cfg, log, comps.HealthChecks())

	return server.Run(ctx)
}

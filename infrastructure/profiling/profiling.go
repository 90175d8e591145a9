// Package profiling starts the optional pprof listener and pyroscope agent.
//
//	ENABLE_PROFILING=true             pprof on localhost:$PPROF_PORT (default 6060)
//	ENABLE_CONTINUOUS_PROFILING=true  push profiles to $PYROSCOPE_SERVER_URL
package profiling

import (
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // bound to localhost only
	"os"
	"runtime"
	"time"

	"github.com/grafana/pyroscope-go"

	infraconfig "github.com/jonesrussell/north-cloud/guardrail/infrastructure/config"
	"github.com/jonesrussell/north-cloud/guardrail/infrastructure/logger"
)

const (
	defaultPprofPort     = "6060"
	defaultPyroscopeURL  = "http://pyroscope:4040"
	pprofReadHeaderLimit = 5 * time.Second
)

// StartPprof serves net/http/pprof on localhost when ENABLE_PROFILING is set.
func StartPprof(log logger.Logger) {
	if !infraconfig.ParseBool(os.Getenv("ENABLE_PROFILING")) {
		return
	}

	port := os.Getenv("PPROF_PORT")
	if port == "" {
		port = defaultPprofPort
	}
	srv := &http.Server{
		Addr:              "localhost:" + port,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: pprofReadHeaderLimit,
	}

	go func() {
		log.Info("pprof listening", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("pprof server stopped", logger.Error(err))
		}
	}()
}

// Profiler is a running pyroscope agent. A nil Profiler is valid and stops nothing.
type Profiler struct {
	p *pyroscope.Profiler
}

// StartPyroscope starts continuous profiling when ENABLE_CONTINUOUS_PROFILING
// is set and returns nil otherwise.
func StartPyroscope(serviceName, version string, log logger.Logger) (*Profiler, error) {
	if !infraconfig.ParseBool(os.Getenv("ENABLE_CONTINUOUS_PROFILING")) {
		return nil, nil //nolint:nilnil // disabled is not an error
	}

	serverURL := os.Getenv("PYROSCOPE_SERVER_URL")
	if serverURL == "" {
		serverURL = defaultPyroscopeURL
	}
	env := os.Getenv("PYROSCOPE_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	host, _ := os.Hostname()

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: "north-cloud." + serviceName,
		ServerAddress:   serverURL,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
		Tags: map[string]string{
			"environment": env,
			"version":     version,
			"hostname":    host,
			"go_version":  runtime.Version(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start pyroscope: %w", err)
	}

	log.Info("Continuous profiling started",
		logger.String("server", serverURL),
		logger.String("environment", env),
	)
	return &Profiler{p: p}, nil
}

// Stop flushes and stops the agent.
func (p *Profiler) Stop() error {
	if p == nil || p.p == nil {
		return nil
	}
	return p.p.Stop()
}

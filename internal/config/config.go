// Package config holds the guardrail service configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	infraconfig "github.com/jonesrussell/north-cloud/guardrail/infrastructure/config"
)

// Default configuration values.
const (
	defaultServiceName     = "guardrail"
	defaultServiceVersion  = "1.0.0"
	defaultServicePort     = 5000
	defaultSidecarURL      = "http://localhost:8090"
	defaultSidecarTimeout  = 30 * time.Second
	defaultSidecarBurst    = 1
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	defaultModelInfoTries  = 5
	defaultCacheTTLHours   = 24
	defaultModelType       = "text_classification"
	defaultDevice          = "-1"
	defaultVariant         = "generic"
	defaultMaxTokens       = 500
	defaultOverlap         = 200
	defaultMinTextLength   = 8
)

// Built-in deployment names.
const (
	DeploymentNaskGuard  = "nask_guard"
	DeploymentSojkaGuard = "sojka_guard"
)

// Config holds all configuration for the guardrail service.
type Config struct {
	Service     ServiceConfig             `yaml:"service"`
	Server      infraconfig.ServerConfig  `yaml:"server"`
	Logging     infraconfig.LoggingConfig `yaml:"logging"`
	Redis       infraconfig.RedisConfig   `yaml:"redis"`
	Sidecar     SidecarConfig             `yaml:"sidecar"`
	Cache       CacheConfig               `yaml:"cache"`
	CORS        CORSConfig                `yaml:"cors"`
	Deployments []DeploymentConfig        `yaml:"deployments"`
	Variants    []VariantConfig           `yaml:"variants"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// SidecarConfig is the inference sidecar connection.
type SidecarConfig struct {
	URL     string        `env:"GUARDRAIL_SIDECAR_URL"     yaml:"url"`
	Timeout time.Duration `env:"GUARDRAIL_SIDECAR_TIMEOUT" yaml:"timeout"`
	// RateLimit is requests per second per deployment; zero disables it.
	RateLimit float64 `env:"GUARDRAIL_SIDECAR_RATE_LIMIT" yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`

	BreakerFailures   int           `yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
	ModelInfoAttempts int           `yaml:"model_info_attempts"`
}

// CacheConfig controls the Redis prediction cache.
type CacheConfig struct {
	Enabled bool          `env:"GUARDRAIL_CACHE_ENABLED" yaml:"enabled"`
	TTL     time.Duration `env:"GUARDRAIL_CACHE_TTL"     yaml:"ttl"`
}

// CORSConfig controls cross-origin access to the HTTP API.
type CORSConfig struct {
	Enabled        bool     `env:"GUARDRAIL_CORS_ENABLED" yaml:"enabled"`
	AllowedOrigins []string `env:"GUARDRAIL_CORS_ORIGINS" yaml:"allowed_origins"`
}

// DeploymentConfig is one guardrail deployment. Fields tagged env are read
// from EnvPrefix+tag, e.g. LLM_ROUTER_SOJKA_GUARD_MODEL_PATH.
type DeploymentConfig struct {
	Name      string `yaml:"name"`
	EnvPrefix string `yaml:"env_prefix"`
	Enabled   bool   `env:"ENABLED"     yaml:"enabled"`
	// Route is an extra POST path answering for this deployment.
	Route      string `yaml:"route"`
	ModelType  string `yaml:"model_type"`
	ModelPath  string `env:"MODEL_PATH"  yaml:"model_path"`
	Device     string `env:"DEVICE"      yaml:"device"`
	SidecarURL string `env:"SIDECAR_URL" yaml:"sidecar_url"`
	Variant    string `yaml:"variant"`
	MaxTokens  int    `yaml:"max_tokens"`
	// Overlap and MinTextLength are pointers so that zero can be configured.
	Overlap         *int `yaml:"overlap"`
	MinTextLength   *int `yaml:"min_text_length"`
	FallbackOnEmpty bool `yaml:"fallback_on_empty"`
}

// VariantConfig registers an extra threshold variant.
type VariantConfig struct {
	Name               string  `yaml:"name"`
	PipelineBatchSize  int     `yaml:"pipeline_batch_size"`
	MinScoreForSafe    float64 `yaml:"min_score_for_safe"`
	MinScoreForNotSafe float64 `yaml:"min_score_for_not_safe"`
}

// DefaultDeployments are used when the file declares none.
func DefaultDeployments() []DeploymentConfig {
	return []DeploymentConfig{
		{
			Name:      DeploymentNaskGuard,
			EnvPrefix: "LLM_ROUTER_NASK_PIB_GUARD_",
			Route:     "/api/nask_guard",
			Variant:   "nask_pib",
		},
		{
			Name:      DeploymentSojkaGuard,
			EnvPrefix: "LLM_ROUTER_SOJKA_GUARD_",
			Route:     "/api/sojka_guard",
			Variant:   "sojka",
		},
	}
}

// Load loads configuration from the specified path.
func Load(path string) (*Config, error) {
	cfg, err := infraconfig.LoadWithDefaults[Config](path, setDefaults)
	if err != nil {
		return nil, err
	}

	for i := range cfg.Deployments {
		d := &cfg.Deployments[i]
		if d.EnvPrefix == "" {
			continue
		}
		if envErr := infraconfig.ApplyEnv(d, d.EnvPrefix); envErr != nil {
			return nil, fmt.Errorf("deployment %s: %w", d.Name, envErr)
		}
	}

	if listenErr := applyListenEnv(&cfg.Server); listenErr != nil {
		return nil, listenErr
	}
	return cfg, nil
}

// applyListenEnv honors the router-wide LLM_ROUTER_API_HOST and
// LLM_ROUTER_API_PORT variables.
func applyListenEnv(s *infraconfig.ServerConfig) error {
	if host := os.Getenv("LLM_ROUTER_API_HOST"); host != "" {
		s.Host = host
	}
	if raw := os.Getenv("LLM_ROUTER_API_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return &infraconfig.ValidationError{Field: "LLM_ROUTER_API_PORT", Message: fmt.Sprintf("invalid integer %q", raw)}
		}
		s.Port = port
	}
	return nil
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	setServiceDefaults(&cfg.Service)
	cfg.Server.SetDefaults(defaultServicePort)
	cfg.Logging.SetDefaults()
	cfg.Redis.SetDefaults()
	setSidecarDefaults(&cfg.Sidecar)
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = defaultCacheTTLHours * time.Hour
	}

	if len(cfg.Deployments) == 0 {
		cfg.Deployments = DefaultDeployments()
	}
	for i := range cfg.Deployments {
		setDeploymentDefaults(&cfg.Deployments[i])
	}
}

func setServiceDefaults(s *ServiceConfig) {
	if s.Name == "" {
		s.Name = defaultServiceName
	}
	if s.Version == "" {
		s.Version = defaultServiceVersion
	}
}

func setSidecarDefaults(s *SidecarConfig) {
	if s.URL == "" {
		s.URL = defaultSidecarURL
	}
	if s.Timeout == 0 {
		s.Timeout = defaultSidecarTimeout
	}
	if s.Burst == 0 {
		s.Burst = defaultSidecarBurst
	}
	if s.BreakerFailures == 0 {
		s.BreakerFailures = defaultBreakerFailures
	}
	if s.BreakerTimeout == 0 {
		s.BreakerTimeout = defaultBreakerTimeout
	}
	if s.ModelInfoAttempts == 0 {
		s.ModelInfoAttempts = defaultModelInfoTries
	}
}

func setDeploymentDefaults(d *DeploymentConfig) {
	if d.ModelType == "" {
		d.ModelType = defaultModelType
	}
	if d.Device == "" {
		d.Device = defaultDevice
	}
	if d.Variant == "" {
		d.Variant = defaultVariant
	}
	if d.MaxTokens == 0 {
		d.MaxTokens = defaultMaxTokens
	}
	if d.Overlap == nil {
		d.Overlap = intPtr(defaultOverlap)
	}
	if d.MinTextLength == nil {
		d.MinTextLength = intPtr(defaultMinTextLength)
	}
}

func intPtr(n int) *int { return &n }

// Deployment returns the named deployment.
func (c *Config) Deployment(name string) (DeploymentConfig, bool) {
	for _, d := range c.Deployments {
		if d.Name == name {
			return d, true
		}
	}
	return DeploymentConfig{}, false
}

// EnabledDeployments returns the deployments to build, in file order.
func (c *Config) EnabledDeployments() []DeploymentConfig {
	out := make([]DeploymentConfig, 0, len(c.Deployments))
	for _, d := range c.Deployments {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// SidecarURLFor is the deployment's sidecar, falling back to the shared one.
func (c *Config) SidecarURLFor(d DeploymentConfig) string {
	if d.SidecarURL != "" {
		return d.SidecarURL
	}
	return c.Sidecar.URL
}

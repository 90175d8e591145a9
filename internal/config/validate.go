package config

import (
	"fmt"
	"strings"

	infraconfig "github.com/jonesrussell/north-cloud/guardrail/infrastructure/config"
	"github.com/jonesrussell/north-cloud/guardrail/internal/guardrail"
)

// VariantRegistry returns the built-in variants plus those declared in the file.
func (c *Config) VariantRegistry() (*guardrail.Registry, error) {
	reg := guardrail.NewRegistry()
	for _, v := range c.Variants {
		cfg, err := guardrail.NewThresholdConfig(v.PipelineBatchSize, v.MinScoreForSafe, v.MinScoreForNotSafe)
		if err != nil {
			return nil, fmt.Errorf("variant %q: %w", v.Name, err)
		}
		if regErr := reg.Register(v.Name, cfg); regErr != nil {
			return nil, regErr
		}
	}
	return reg, nil
}

// Validate checks the configuration. Only enabled deployments need a model.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Sidecar.RateLimit < 0 {
		return &infraconfig.ValidationError{Field: "sidecar.rate_limit", Message: "must not be negative"}
	}

	variants, err := c.VariantRegistry()
	if err != nil {
		return err
	}

	names := make(map[string]struct{}, len(c.Deployments))
	routes := make(map[string]string, len(c.Deployments))
	for i := range c.Deployments {
		d := &c.Deployments[i]
		if err := validateDeployment(d, variants); err != nil {
			return err
		}
		if _, dup := names[d.Name]; dup {
			return &infraconfig.ValidationError{Field: "deployments." + d.Name, Message: "is declared more than once"}
		}
		names[d.Name] = struct{}{}

		if d.Route == "" || !d.Enabled {
			continue
		}
		if other, dup := routes[d.Route]; dup {
			return &infraconfig.ValidationError{
				Field:   "deployments." + d.Name + ".route",
				Message: fmt.Sprintf("%s is already served by %s", d.Route, other),
			}
		}
		routes[d.Route] = d.Name
	}

	if c.hasEnabled() {
		if err := infraconfig.ValidateRequired("sidecar.url", c.Sidecar.URL); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) hasEnabled() bool {
	for _, d := range c.Deployments {
		if d.Enabled {
			return true
		}
	}
	return false
}

func validateDeployment(d *DeploymentConfig, variants *guardrail.Registry) error {
	if d.Name == "" {
		return &infraconfig.ValidationError{Field: "deployments.name", Message: "is required"}
	}
	field := "deployments." + d.Name

	if d.Route != "" && !strings.HasPrefix(d.Route, "/") {
		return &infraconfig.ValidationError{Field: field + ".route", Message: "must start with /"}
	}
	if _, err := variants.Lookup(d.Variant); err != nil {
		return &infraconfig.ValidationError{Field: field + ".variant", Message: err.Error()}
	}
	if _, err := guardrail.ParseDevice(d.Device); err != nil {
		return &infraconfig.ValidationError{Field: field + ".device", Message: err.Error()}
	}
	if d.MaxTokens < 1 {
		return &infraconfig.ValidationError{Field: field + ".max_tokens", Message: "must be at least 1"}
	}
	if d.Overlap != nil && (*d.Overlap < 0 || *d.Overlap >= d.MaxTokens) {
		return &infraconfig.ValidationError{
			Field:   field + ".overlap",
			Message: fmt.Sprintf("must be within [0, max_tokens), got %d", *d.Overlap),
		}
	}
	if d.MinTextLength != nil && *d.MinTextLength < 0 {
		return &infraconfig.ValidationError{Field: field + ".min_text_length", Message: "must not be negative"}
	}

	if !d.Enabled {
		return nil
	}
	if d.ModelType != guardrail.ModelTypeTextClassification {
		return &infraconfig.ValidationError{
			Field:   field + ".model_type",
			Message: fmt.Sprintf("unsupported %q, only %q", d.ModelType, guardrail.ModelTypeTextClassification),
		}
	}
	if d.ModelPath == "" {
		msg := "is required"
		if d.EnvPrefix != "" {
			msg = fmt.Sprintf("is required (export %sMODEL_PATH)", d.EnvPrefix)
		}
		return &infraconfig.ValidationError{Field: field + ".model_path", Message: msg}
	}
	return nil
}

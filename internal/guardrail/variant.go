package guardrail

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	infraconfig "github.com/jonesrussell/north-cloud/guardrail/infrastructure/config"
)

// ErrUnknownVariant is returned when a deployment names a variant nobody registered.
var ErrUnknownVariant = errors.New("unknown threshold variant")

// ModelConfig is the read-only tuning a deployment runs with.
type ModelConfig interface {
	PipelineBatchSize() int
	// MinScoreForSafe is the confidence a "safe" label needs to be trusted.
	MinScoreForSafe() float64
	// MinScoreForNotSafe is the confidence above which any other label is a violation.
	MinScoreForNotSafe() float64
}

// ThresholdConfig is an immutable ModelConfig. Build it with NewThresholdConfig.
type ThresholdConfig struct {
	batchSize     int
	safeFloor     float64
	unsafeCeiling float64
}

// NewThresholdConfig validates batchSize >= 1 and both thresholds within [0, 1].
func NewThresholdConfig(batchSize int, safeFloor, unsafeCeiling float64) (ThresholdConfig, error) {
	if batchSize < 1 {
		return ThresholdConfig{}, &infraconfig.ValidationError{
			Field:   "batch_size",
			Message: fmt.Sprintf("must be at least 1, got %d", batchSize),
		}
	}
	if err := infraconfig.ValidateUnitInterval("min_score_for_safe", safeFloor); err != nil {
		return ThresholdConfig{}, err
	}
	if err := infraconfig.ValidateUnitInterval("min_score_for_not_safe", unsafeCeiling); err != nil {
		return ThresholdConfig{}, err
	}
	return ThresholdConfig{batchSize: batchSize, safeFloor: safeFloor, unsafeCeiling: unsafeCeiling}, nil
}

func mustThresholds(batchSize int, safeFloor, unsafeCeiling float64) ThresholdConfig {
	c, err := NewThresholdConfig(batchSize, safeFloor, unsafeCeiling)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ThresholdConfig) PipelineBatchSize() int { return c.batchSize }
func (c ThresholdConfig) MinScoreForSafe() float64 { return c.safeFloor }
func (c ThresholdConfig) MinScoreForNotSafe() float64 { return c.unsafeCeiling }

// Built-in variant names.
const (
	VariantGeneric = "generic"
	VariantNaskPIB = "nask_pib"
	VariantSojka   = "sojka"
)

// Built-in variants. The generic one is lenient; sojka demands more
// confidence before an unsafe label counts.
var (
	GenericConfig = mustThresholds(64, 0.5, 0.5)
	NaskPIBConfig = mustThresholds(64, 0.5, 0.5)
	SojkaConfig   = mustThresholds(64, 0.5, 0.7)
)

// Registry maps variant names to configs. It is filled at startup and read
// concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	variants map[string]ModelConfig
}

// NewRegistry returns a registry holding the built-in variants.
func NewRegistry() *Registry {
	return &Registry{variants: map[string]ModelConfig{
		VariantGeneric: GenericConfig,
		VariantNaskPIB: NaskPIBConfig,
		VariantSojka:   SojkaConfig,
	}}
}

// Register adds a named variant. Names are unique, built-ins included.
func (r *Registry) Register(name string, cfg ModelConfig) error {
	if name == "" {
		return &infraconfig.ValidationError{Field: "variants.name", Message: "is required"}
	}
	if _, err := NewThresholdConfig(cfg.PipelineBatchSize(), cfg.MinScoreForSafe(), cfg.MinScoreForNotSafe()); err != nil {
		return fmt.Errorf("variant %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.variants[name]; exists {
		return &infraconfig.ValidationError{Field: "variants." + name, Message: "is already registered"}
	}
	r.variants[name] = cfg
	return nil
}

// Lookup returns the named variant or ErrUnknownVariant.
func (r *Registry) Lookup(name string) (ModelConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.variants[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownVariant, name, r.namesLocked())
	}
	return cfg, nil
}

// Names lists the registered variants, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.variants))
	for name := range r.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VariantView is the JSON form of a registered variant.
type VariantView struct {
	Name               string  `json:"name"`
	PipelineBatchSize  int     `json:"pipeline_batch_size"`
	MinScoreForSafe    float64 `json:"min_score_for_safe"`
	MinScoreForNotSafe float64 `json:"min_score_for_not_safe"`
}

// View describes cfg under name.
func View(name string, cfg ModelConfig) VariantView {
	return VariantView{
		Name:               name,
		PipelineBatchSize:  cfg.PipelineBatchSize(),
		MinScoreForSafe:    cfg.MinScoreForSafe(),
		MinScoreForNotSafe: cfg.MinScoreForNotSafe(),
	}
}

// Views describes every registered variant, sorted by name.
func (r *Registry) Views() []VariantView {
	names := r.Names()
	views := make([]VariantView, 0, len(names))
	for _, name := range names {
		cfg, err := r.Lookup(name)
		if err != nil {
			continue
		}
		views = append(views, View(name, cfg))
	}
	return views
}

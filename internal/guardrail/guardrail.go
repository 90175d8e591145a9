// Package guardrail runs one deployment of the content-safety gate:
// extract text from a payload, chunk it, classify the windows and decide.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	infralogger "github.com/jonesrussell/north-cloud/guardrail/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/guardrail/internal/chunker"
	"github.com/jonesrussell/north-cloud/guardrail/internal/extract"
	"github.com/jonesrussell/north-cloud/guardrail/internal/payload"
	"github.com/jonesrussell/north-cloud/guardrail/internal/telemetry"
	"github.com/jonesrussell/north-cloud/guardrail/internal/tokenizer"
)

// ModelTypeTextClassification is the only supported model type.
const ModelTypeTextClassification = "text_classification"

var (
	// ErrUnsupportedModelType is a construction error for any other model type.
	ErrUnsupportedModelType = errors.New("unsupported model type")
	// ErrMissingModelPath is a construction error for a deployment without a model.
	ErrMissingModelPath = errors.New("model path is required")
	// ErrMissingBackend is a construction error when no classifier or tokenizer is wired.
	ErrMissingBackend = errors.New("classifier and tokenizer are required")
	// ErrInference wraps any failure of the tokenizer or classifier during a request.
	ErrInference = errors.New("inference failed")
)

// Classifier labels text windows. It must return exactly one prediction per
// window, in input order, and be safe for concurrent use.
type Classifier interface {
	ClassifyBatch(ctx context.Context, windows []string, batchSize int) ([]Prediction, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, windows []string, batchSize int) ([]Prediction, error)

func (f ClassifierFunc) ClassifyBatch(ctx context.Context, windows []string, batchSize int) ([]Prediction, error) {
	return f(ctx, windows, batchSize)
}

// Options configures New.
type Options struct {
	Name      string
	ModelType string
	ModelPath string
	Device    Device

	// Variant names the threshold variant in Variants.
	Variant  string
	Variants *Registry

	MaxTokens       int
	Overlap         int
	MinTextLength   int
	FallbackOnEmpty bool

	Classifier Classifier
	Tokenizer  tokenizer.Tokenizer
	Logger     infralogger.Logger
	Telemetry  *telemetry.Provider
}

// Guardrail is one deployment. It is immutable after New and safe for
// concurrent use.
type Guardrail struct {
	name       string
	modelType  string
	modelPath  string
	device     Device
	variant    string
	cfg        ModelConfig
	extractor  extract.Extractor
	chunker    *chunker.Chunker
	classifier Classifier
	logger     infralogger.Logger
	telemetry  *telemetry.Provider
}

// New validates opts and builds the deployment. Every error it returns is
// a configuration error; the deployment must not serve traffic.
func New(ctx context.Context, opts Options) (*Guardrail, error) {
	if opts.ModelType != ModelTypeTextClassification {
		return nil, fmt.Errorf("%w: %q (supported: %q)", ErrUnsupportedModelType, opts.ModelType, ModelTypeTextClassification)
	}
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("deployment %q: %w", opts.Name, ErrMissingModelPath)
	}
	if opts.Classifier == nil || opts.Tokenizer == nil {
		return nil, fmt.Errorf("deployment %q: %w", opts.Name, ErrMissingBackend)
	}

	variants := opts.Variants
	if variants == nil {
		variants = NewRegistry()
	}
	cfg, err := variants.Lookup(opts.Variant)
	if err != nil {
		return nil, fmt.Errorf("deployment %q: %w", opts.Name, err)
	}

	ch, err := chunker.New(ctx, opts.Tokenizer, opts.MaxTokens, opts.Overlap)
	if err != nil {
		return nil, fmt.Errorf("deployment %q: %w", opts.Name, err)
	}

	log := opts.Logger
	if log == nil {
		log = infralogger.NewNop()
	}

	return &Guardrail{
		name:       opts.Name,
		modelType:  opts.ModelType,
		modelPath:  opts.ModelPath,
		device:     opts.Device,
		variant:    opts.Variant,
		cfg:        cfg,
		extractor:  extract.New(opts.MinTextLength, opts.FallbackOnEmpty),
		chunker:    ch,
		classifier: opts.Classifier,
		logger:     log.With(infralogger.String("deployment", opts.Name)),
		telemetry:  opts.Telemetry,
	}, nil
}

// Name is the deployment name.
func (g *Guardrail) Name() string { return g.name }

// Config is the deployment's threshold variant.
func (g *Guardrail) Config() ModelConfig { return g.cfg }

// ClassifyPayload returns the decision for v. On error no partial decision
// is returned.
func (g *Guardrail) ClassifyPayload(ctx context.Context, v payload.Value) (Decision, error) {
	start := time.Now()
	ctx, span := g.telemetry.StartSpan(ctx, "guardrail.classify_payload", attribute.String("deployment", g.name))

	decision, windows, err := g.classify(ctx, v)
	telemetry.EndSpan(span, err)
	if err != nil {
		g.telemetry.RecordFailure(g.name, time.Since(start))
		g.logger.Error("Guardrail classification failed", infralogger.Error(err))
		return Decision{}, err
	}

	violations := decision.Violations()
	g.telemetry.RecordDecision(g.name, decision.Safe, violations, windows, time.Since(start))
	g.logger.Debug("Guardrail decision",
		infralogger.Bool("safe", decision.Safe),
		infralogger.Int("windows", windows),
		infralogger.Int("violations", violations),
		infralogger.Duration("duration", time.Since(start)),
	)
	return decision, nil
}

func (g *Guardrail) classify(ctx context.Context, v payload.Value) (Decision, int, error) {
	extracted := g.extractor.Extract(v)
	if extracted.Degraded {
		g.telemetry.RecordDegradedExtraction(g.name)
		g.logger.Debug("Payload classified in degraded key=value mode",
			infralogger.String("kind", v.Kind.String()),
		)
	}

	windows, err := g.chunker.ChunkAll(ctx, extracted.Texts)
	if err != nil {
		return Decision{}, 0, fmt.Errorf("%w: tokenize: %w", ErrInference, err)
	}
	if len(windows) == 0 {
		return Decide(nil, g.cfg), 0, nil
	}

	texts := make([]string, len(windows))
	for i, w := range windows {
		texts[i] = w.Text
	}

	preds, err := g.infer(ctx, texts)
	if err != nil {
		return Decision{}, len(windows), err
	}

	results := make([]Result, len(windows))
	for i, w := range windows {
		results[i] = Result{Window: w, Prediction: preds[i]}
	}
	return Decide(results, g.cfg), len(windows), nil
}

func (g *Guardrail) infer(ctx context.Context, texts []string) ([]Prediction, error) {
	start := time.Now()
	ctx, span := g.telemetry.StartSpan(ctx, "guardrail.inference",
		attribute.String("deployment", g.name),
		attribute.Int("windows", len(texts)),
		attribute.Int("batch_size", g.cfg.PipelineBatchSize()),
	)

	preds, err := g.classifier.ClassifyBatch(ctx, texts, g.cfg.PipelineBatchSize())
	switch {
	case err != nil:
		err = fmt.Errorf("%w: %w", ErrInference, err)
	case len(preds) != len(texts):
		err = fmt.Errorf("%w: classifier returned %d predictions for %d windows", ErrInference, len(preds), len(texts))
	}

	telemetry.EndSpan(span, err)
	g.telemetry.RecordInference(g.name, time.Since(start))
	if err != nil {
		return nil, err
	}
	return preds, nil
}

// Info describes a deployment for the API and CLI.
type Info struct {
	Name            string      `json:"name"`
	ModelType       string      `json:"model_type"`
	ModelPath       string      `json:"model_path"`
	Device          string      `json:"device"`
	Variant         VariantView `json:"variant"`
	MaxTokens       int         `json:"max_tokens"`
	Overlap         int         `json:"overlap"`
	ModelMaxLength  int         `json:"model_max_length"`
	MinTextLength   int         `json:"min_text_length"`
	FallbackOnEmpty bool        `json:"fallback_on_empty"`
}

// Info reports the effective settings, after clamping.
func (g *Guardrail) Info() Info {
	return Info{
		Name:            g.name,
		ModelType:       g.modelType,
		ModelPath:       g.modelPath,
		Device:          g.device.String(),
		Variant:         View(g.variant, g.cfg),
		MaxTokens:       g.chunker.MaxTokens(),
		Overlap:         g.chunker.Overlap(),
		ModelMaxLength:  g.chunker.ModelLimit(),
		MinTextLength:   g.extractor.MinLength,
		FallbackOnEmpty: g.extractor.FallbackOnEmpty,
	}
}

// Package cache memoizes window predictions in Redis in front of a classifier.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	infralogger "github.com/jonesrussell/north-cloud/guardrail/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/guardrail/internal/guardrail"
	"github.com/jonesrussell/north-cloud/guardrail/internal/telemetry"
)

// Options configures New.
type Options struct {
	Deployment string
	ModelPath  string
	// TTL defaults to DefaultTTLHours.
	TTL       time.Duration
	Logger    infralogger.Logger
	Telemetry *telemetry.Provider
}

// Classifier is a guardrail.Classifier that answers repeated windows from
// Redis. Redis failures fall through to the inner classifier.
type Classifier struct {
	inner     guardrail.Classifier
	client    redis.UniversalClient
	keys      *Keys
	ttl       time.Duration
	logger    infralogger.Logger
	telemetry *telemetry.Provider
}

// New wraps inner.
func New(inner guardrail.Classifier, client redis.UniversalClient, opts Options) *Classifier {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTLHours * time.Hour
	}
	log := opts.Logger
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Classifier{
		inner:     inner,
		client:    client,
		keys:      NewKeys(opts.Deployment, opts.ModelPath),
		ttl:       ttl,
		logger:    log.With(infralogger.String("deployment", opts.Deployment)),
		telemetry: opts.Telemetry,
	}
}

// ClassifyBatch looks every window up in one MGET and sends only the misses,
// in order, to the inner classifier as one batch.
func (c *Classifier) ClassifyBatch(ctx context.Context, windows []string, batchSize int) ([]guardrail.Prediction, error) {
	if len(windows) == 0 {
		return c.inner.ClassifyBatch(ctx, windows, batchSize)
	}

	keys := make([]string, len(windows))
	for i, w := range windows {
		keys[i] = c.keys.Window(w)
	}

	cached, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("Prediction cache lookup failed, classifying without cache", infralogger.Error(err))
		c.telemetry.RecordCacheLookups(0, 0, len(windows))
		return c.inner.ClassifyBatch(ctx, windows, batchSize)
	}

	preds := make([]guardrail.Prediction, len(windows))
	var missIdx []int
	var missTexts []string
	for i, v := range cached {
		if p, ok := decode(v); ok {
			preds[i] = p
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, windows[i])
	}
	c.telemetry.RecordCacheLookups(len(windows)-len(missIdx), len(missIdx), 0)

	if len(missIdx) == 0 {
		return preds, nil
	}

	fresh, err := c.inner.ClassifyBatch(ctx, missTexts, batchSize)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("classifier returned %d predictions for %d windows", len(fresh), len(missTexts))
	}

	for j, i := range missIdx {
		preds[i] = fresh[j]
	}
	c.store(ctx, keys, missIdx, fresh)
	return preds, nil
}

func (c *Classifier) store(ctx context.Context, keys []string, missIdx []int, fresh []guardrail.Prediction) {
	pipe := c.client.Pipeline()
	for j, i := range missIdx {
		raw, err := json.Marshal(fresh[j])
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[i], raw, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to store predictions in cache",
			infralogger.Int("windows", len(missIdx)),
			infralogger.Error(err),
		)
	}
}

func decode(v any) (guardrail.Prediction, bool) {
	s, ok := v.(string)
	if !ok {
		return guardrail.Prediction{}, false
	}
	var p guardrail.Prediction
	if err := json.Unmarshal([]byte(s), &p); err != nil || p.Label == "" {
		return guardrail.Prediction{}, false
	}
	return p, true
}

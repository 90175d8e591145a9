// Package mlclient is the inference sidecar client. One Client serves one
// model: it classifies windows and tokenizes text with that model's tokenizer.
package mlclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/north-cloud/guardrail/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/guardrail/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/guardrail/internal/guardrail"
	"github.com/jonesrussell/north-cloud/guardrail/internal/mltransport"
	"github.com/jonesrussell/north-cloud/guardrail/internal/telemetry"
)

// ErrUnavailable indicates the inference sidecar is unreachable.
var ErrUnavailable = errors.New("inference sidecar unavailable")

// ErrInvalidModelInfo is returned when the sidecar reports no usable input limit.
var ErrInvalidModelInfo = errors.New("invalid model info")

const defaultTimeout = 30 * time.Second

// Config configures a Client. Zero values take the defaults.
type Config struct {
	BaseURL   string
	ModelPath string
	Device    guardrail.Device
	// Timeout bounds each sidecar call.
	Timeout time.Duration
	// RateLimit is requests per second; zero or less disables limiting.
	RateLimit float64
	Burst     int
	Breaker   circuitbreaker.Config
	Retry     retry.Config
	Telemetry *telemetry.Provider
}

// Client is safe for concurrent use.
type Client struct {
	baseURL   string
	modelPath string
	device    guardrail.Device
	timeout   time.Duration
	limiter   *rate.Limiter
	breaker   *circuitbreaker.Breaker
	retry     retry.Config
	telemetry *telemetry.Provider

	mu       sync.Mutex
	maxLen   int
	maxKnown bool
}

// NewClient creates a sidecar client for one model.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := max(cfg.Burst, 1)

	breakerCfg := cfg.Breaker
	if breakerCfg.IsFailure == nil {
		breakerCfg.IsFailure = countsAsFailure
	}

	retryCfg := cfg.Retry
	if retryCfg.IsRetryable == nil {
		retryCfg.IsRetryable = func(err error) bool {
			return retry.DefaultIsRetryable(err) || mltransport.IsServerError(err)
		}
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		modelPath: cfg.ModelPath,
		device:    cfg.Device,
		timeout:   cfg.Timeout,
		limiter:   rate.NewLimiter(limit, burst),
		breaker:   circuitbreaker.New(breakerCfg),
		retry:     retryCfg,
		telemetry: cfg.Telemetry,
	}
}

// countsAsFailure keeps 4xx answers, which are request problems, from
// opening the circuit.
func countsAsFailure(err error) bool {
	var se *mltransport.StatusError
	if errors.As(err, &se) {
		return mltransport.IsServerError(err)
	}
	return true
}

// BaseURL is the sidecar address.
func (c *Client) BaseURL() string { return c.baseURL }

// ClassifyBatch sends all windows in one request. It is not retried.
func (c *Client) ClassifyBatch(ctx context.Context, windows []string, batchSize int) ([]guardrail.Prediction, error) {
	req := &mltransport.ClassifyRequest{
		ModelPath: c.modelPath,
		Device:    int(c.device),
		BatchSize: batchSize,
		Texts:     windows,
	}

	var resp mltransport.ClassifyResponse
	err := c.call(ctx, mltransport.EndpointClassify, func(ctx context.Context) error {
		_, _, err := mltransport.DoClassify(ctx, c.baseURL, req, &resp)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	preds := make([]guardrail.Prediction, len(resp.Results))
	for i, r := range resp.Results {
		preds[i] = guardrail.Prediction{Label: r.Label, Score: r.Score}
	}
	return preds, nil
}

// Encode tokenizes text without special tokens.
func (c *Client) Encode(ctx context.Context, text string) ([]int, error) {
	var ids []int
	err := c.call(ctx, mltransport.EndpointTokenize, func(ctx context.Context) error {
		var err error
		ids, err = mltransport.DoTokenize(ctx, c.baseURL, &mltransport.TokenizeRequest{ModelPath: c.modelPath, Text: text})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}
	return ids, nil
}

// Decode turns ids back into text, skipping special tokens.
func (c *Client) Decode(ctx context.Context, ids []int) (string, error) {
	var text string
	err := c.call(ctx, mltransport.EndpointDetokenize, func(ctx context.Context) error {
		var err error
		text, err = mltransport.DoDetokenize(ctx, c.baseURL, &mltransport.DetokenizeRequest{ModelPath: c.modelPath, IDs: ids})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("detokenize: %w", err)
	}
	return text, nil
}

// MaxLength returns the model's input limit. The first successful answer is
// cached; failures are retried with backoff.
func (c *Client) MaxLength(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxKnown {
		return c.maxLen, nil
	}

	var info *mltransport.ModelInfo
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.call(ctx, mltransport.EndpointModelInfo, func(ctx context.Context) error {
			var err error
			info, err = mltransport.DoModelInfo(ctx, c.baseURL, c.modelPath)
			return err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("model info: %w", err)
	}
	if info.MaxPositionEmbeddings < 1 {
		return 0, fmt.Errorf("%w: max_position_embeddings=%d", ErrInvalidModelInfo, info.MaxPositionEmbeddings)
	}

	c.maxLen = info.MaxPositionEmbeddings
	c.maxKnown = true
	return c.maxLen, nil
}

// Health checks if the sidecar is healthy.
func (c *Client) Health(ctx context.Context) error {
	reachable, _, _, err := mltransport.DoHealth(ctx, c.baseURL)
	c.telemetry.SetSidecarUp(c.baseURL, err == nil)
	if err != nil {
		if !reachable {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return err
	}
	return nil
}

// call waits for the limiter, then runs fn through the breaker under the
// per-call timeout.
func (c *Client) call(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return fn(callCtx)
	})
	c.telemetry.RecordSidecarCall(endpoint, time.Since(start), err)
	return err
}

// Package chunker splits text into overlapping token windows that fit the
// classifier's context.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonesrussell/north-cloud/guardrail/internal/tokenizer"
)

// Defaults used when a deployment does not set its own window.
const (
	DefaultMaxTokens = 500
	DefaultOverlap   = 200
)

// ErrInvalidWindow is returned by New when the window cannot advance.
var ErrInvalidWindow = errors.New("invalid chunk window")

// Window is one slice of a source text. Start and End are token offsets,
// End exclusive.
type Window struct {
	Index   int    `json:"index"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// Chunker holds a validated window size. It is safe for concurrent use when
// its tokenizer is.
type Chunker struct {
	tok       tokenizer.Tokenizer
	maxTokens int
	overlap   int
	limit     int
}

// New asks tok for its context limit once, clamps maxTokens down to it and
// rejects windows whose step (maxTokens - overlap) would not be positive.
func New(ctx context.Context, tok tokenizer.Tokenizer, maxTokens, overlap int) (*Chunker, error) {
	limit, err := tok.MaxLength(ctx)
	if err != nil {
		return nil, fmt.Errorf("query tokenizer max length: %w", err)
	}
	if limit < 1 {
		return nil, fmt.Errorf("%w: tokenizer reports max length %d", ErrInvalidWindow, limit)
	}

	maxTokens = min(maxTokens, limit)

	switch {
	case maxTokens < 1:
		return nil, fmt.Errorf("%w: max_tokens must be at least 1, got %d", ErrInvalidWindow, maxTokens)
	case overlap < 0:
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidWindow, overlap)
	case overlap >= maxTokens:
		return nil, fmt.Errorf("%w: overlap %d must be smaller than max_tokens %d (after clamping to model limit %d)",
			ErrInvalidWindow, overlap, maxTokens, limit)
	}

	return &Chunker{tok: tok, maxTokens: maxTokens, overlap: overlap, limit: limit}, nil
}

// MaxTokens is the effective window size after clamping.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// Overlap is the number of tokens shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// ModelLimit is the tokenizer's reported context limit.
func (c *Chunker) ModelLimit() int { return c.limit }

// Chunk returns the windows of text in order. Text with no tokens has no
// windows; text within one window comes back whole.
func (c *Chunker) Chunk(ctx context.Context, text string) ([]Window, error) {
	ids, err := c.tok.Encode(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	n := len(ids)
	if n == 0 {
		return nil, nil
	}

	step := c.maxTokens - c.overlap
	windows := make([]Window, 0, 1+max(0, n-c.maxTokens+step-1)/step)
	for start := 0; ; start += step {
		end := min(start+c.maxTokens, n)

		decoded, decodeErr := c.tok.Decode(ctx, ids[start:end])
		if decodeErr != nil {
			return nil, fmt.Errorf("decode tokens [%d, %d): %w", start, end, decodeErr)
		}

		windows = append(windows, Window{
			Index:   len(windows),
			Text:    strings.TrimSpace(decoded),
			IsFinal: end == n,
			Start:   start,
			End:     end,
		})
		if end == n {
			return windows, nil
		}
	}
}

// ChunkAll chunks each text and concatenates the windows in source order.
// Indices restart at zero for every source text.
func (c *Chunker) ChunkAll(ctx context.Context, texts []string) ([]Window, error) {
	var all []Window
	for i, text := range texts {
		windows, err := c.Chunk(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("chunk text %d: %w", i, err)
		}
		all = append(all, windows...)
	}
	return all, nil
}

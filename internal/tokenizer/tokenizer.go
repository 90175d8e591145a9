// Package tokenizer defines the encode/decode contract the chunker needs
// and a whitespace implementation for offline use and tests.
package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownToken is returned when decoding an id the tokenizer never issued.
var ErrUnknownToken = errors.New("unknown token id")

// Tokenizer converts text to token ids and back. Implementations must be
// safe for concurrent use.
type Tokenizer interface {
	Encode(ctx context.Context, text string) ([]int, error)
	Decode(ctx context.Context, ids []int) (string, error)
	// MaxLength is the model's hard context limit in tokens.
	MaxLength(ctx context.Context) (int, error)
}

// DefaultWhitespaceMaxLength mirrors the common 512-position encoder limit.
const DefaultWhitespaceMaxLength = 512

// Whitespace treats every whitespace-separated word as one token. Ids are
// assigned on first sight and stay stable for the life of the instance.
type Whitespace struct {
	maxLength int

	mu    sync.RWMutex
	ids   map[string]int
	words []string
}

// NewWhitespace returns a tokenizer reporting maxLength as its context
// limit; values below 1 use DefaultWhitespaceMaxLength.
func NewWhitespace(maxLength int) *Whitespace {
	if maxLength < 1 {
		maxLength = DefaultWhitespaceMaxLength
	}
	return &Whitespace{maxLength: maxLength, ids: make(map[string]int)}
}

func (w *Whitespace) Encode(_ context.Context, text string) ([]int, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, nil
	}

	out := make([]int, len(fields))
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, f := range fields {
		id, ok := w.ids[f]
		if !ok {
			id = len(w.words)
			w.ids[f] = id
			w.words = append(w.words, f)
		}
		out[i] = id
	}
	return out, nil
}

// Decode joins words with single spaces.
func (w *Whitespace) Decode(_ context.Context, ids []int) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	words := make([]string, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(w.words) {
			return "", fmt.Errorf("%w: %d", ErrUnknownToken, id)
		}
		words[i] = w.words[id]
	}
	return strings.Join(words, " "), nil
}

func (w *Whitespace) MaxLength(context.Context) (int, error) {
	return w.maxLength, nil
}

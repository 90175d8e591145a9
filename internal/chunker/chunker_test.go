package chunker_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/guardrail/internal/chunker"
	"github.com/jonesrussell/north-cloud/guardrail/internal/tokenizer"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func newChunker(t *testing.T, limit, maxTokens, overlap int) *chunker.Chunker {
	t.Helper()
	c, err := chunker.New(context.Background(), tokenizer.NewWhitespace(limit), maxTokens, overlap)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsNonAdvancingWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		limit     int
		maxTokens int
		overlap   int
	}{
		{"overlap equals max", 512, 10, 10},
		{"overlap exceeds max", 512, 10, 11},
		{"overlap exceeds clamped max", 100, 500, 200},
		{"negative overlap", 512, 10, -1},
		{"zero max", 512, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := chunker.New(context.Background(), tokenizer.NewWhitespace(tt.limit), tt.maxTokens, tt.overlap)
			require.ErrorIs(t, err, chunker.ErrInvalidWindow)
		})
	}
}

func TestNew_ClampsToModelLimit(t *testing.T) {
	t.Parallel()

	c := newChunker(t, 256, chunker.DefaultMaxTokens, chunker.DefaultOverlap)
	assert.Equal(t, 256, c.MaxTokens())
	assert.Equal(t, chunker.DefaultOverlap, c.Overlap())
	assert.Equal(t, 256, c.ModelLimit())

	c = newChunker(t, 512, chunker.DefaultMaxTokens, chunker.DefaultOverlap)
	assert.Equal(t, chunker.DefaultMaxTokens, c.MaxTokens())
}

type failingLimit struct{ tokenizer.Tokenizer }

func (failingLimit) MaxLength(context.Context) (int, error) { return 0, errors.New("sidecar down") }

func TestNew_MaxLengthError(t *testing.T) {
	t.Parallel()

	_, err := chunker.New(context.Background(), failingLimit{tokenizer.NewWhitespace(8)}, 4, 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, chunker.ErrInvalidWindow)
}

func TestChunk_ZeroTokens(t *testing.T) {
	t.Parallel()

	windows, err := newChunker(t, 512, 4, 1).Chunk(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestChunk_SingleWindow(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 3, 4} {
		text := words(n)
		windows, err := newChunker(t, 512, 4, 2).Chunk(context.Background(), "  "+text+"\n")
		require.NoError(t, err)
		require.Len(t, windows, 1, "n=%d", n)
		assert.Equal(t, chunker.Window{Index: 0, Text: text, IsFinal: true, Start: 0, End: n}, windows[0])
	}
}

func TestChunk_KnownLayout(t *testing.T) {
	t.Parallel()

	windows, err := newChunker(t, 512, 4, 1).Chunk(context.Background(), words(10))
	require.NoError(t, err)

	want := []chunker.Window{
		{Index: 0, Text: "w0 w1 w2 w3", Start: 0, End: 4},
		{Index: 1, Text: "w3 w4 w5 w6", Start: 3, End: 7},
		{Index: 2, Text: "w6 w7 w8 w9", IsFinal: true, Start: 6, End: 10},
	}
	assert.Equal(t, want, windows)
}

func TestChunk_CoverageAndOverlap(t *testing.T) {
	t.Parallel()

	for maxTokens := 1; maxTokens <= 7; maxTokens++ {
		for overlap := 0; overlap < maxTokens; overlap++ {
			for n := 1; n <= 25; n++ {
				name := fmt.Sprintf("max=%d overlap=%d n=%d", maxTokens, overlap, n)
				windows, err := newChunker(t, 512, maxTokens, overlap).Chunk(context.Background(), words(n))
				require.NoError(t, err, name)
				require.NotEmpty(t, windows, name)

				covered := make([]bool, n)
				for i, w := range windows {
					assert.Equal(t, i, w.Index, name)
					assert.Greater(t, w.End, w.Start, name)
					assert.LessOrEqual(t, w.End-w.Start, maxTokens, name)
					assert.Equal(t, words(w.End)[len(words(w.Start)):], prefixed(w), name)
					for tok := w.Start; tok < w.End; tok++ {
						covered[tok] = true
					}

					last := i == len(windows)-1
					assert.Equal(t, last, w.IsFinal, name)
					if !last {
						next := windows[i+1]
						assert.Equal(t, overlap, w.End-next.Start, name)
					}
				}
				for tok, ok := range covered {
					assert.True(t, ok, "%s: token %d not covered", name, tok)
				}
				assert.Equal(t, n, windows[len(windows)-1].End, name)
			}
		}
	}
}

// prefixed renders a window the way words(End)[len(words(Start)):] does:
// with a leading separator unless the window starts at zero.
func prefixed(w chunker.Window) string {
	if w.Start == 0 {
		return w.Text
	}
	return " " + w.Text
}

func TestChunkAll_FlattensInSourceOrder(t *testing.T) {
	t.Parallel()

	c := newChunker(t, 512, 3, 1)
	windows, err := c.ChunkAll(context.Background(), []string{"a b c d e", "", "x y"})
	require.NoError(t, err)

	got := make([]string, len(windows))
	idx := make([]int, len(windows))
	for i, w := range windows {
		got[i] = w.Text
		idx[i] = w.Index
	}
	assert.Equal(t, []string{"a b c", "c d e", "x y"}, got)
	assert.Equal(t, []int{0, 1, 0}, idx)
}

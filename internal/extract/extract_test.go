package extract_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/guardrail/internal/extract"
	"github.com/jonesrussell/north-cloud/guardrail/internal/payload"
)

func mustParse(t *testing.T, doc string) payload.Value {
	t.Helper()
	v, err := payload.Parse([]byte(doc))
	require.NoError(t, err)
	return v
}

func TestTexts_Traversal(t *testing.T) {
	t.Parallel()

	doc := `{
		"conversation": [
			{"role": "user", "content": "please summarise this document"},
			{"role": "bot", "content": "short"}
		],
		"description_field": {"nested_key_long": "another qualifying value"},
		"n": 12345678901,
		"flag": true,
		"repeated": ["duplicate text", "duplicate text"]
	}`

	got := extract.New(extract.DefaultMinLength, false).Texts(mustParse(t, doc))

	want := []string{
		"conversation",
		"please summarise this document",
		"description_field",
		"nested_key_long",
		"another qualifying value",
		"duplicate text",
		"duplicate text",
	}
	assert.Equal(t, want, got)
}

func TestTexts_StrictLengthBoundary(t *testing.T) {
	t.Parallel()

	e := extract.New(extract.DefaultMinLength, false)

	assert.Empty(t, e.Texts(payload.String("12345678")), "exactly eight is excluded")
	assert.Equal(t, []string{"123456789"}, e.Texts(payload.String("123456789")))
	assert.Empty(t, e.Texts(payload.String("zażółćgę")), "eight code points, more bytes")
}

func TestTexts_NeverShorterThanMinimum(t *testing.T) {
	t.Parallel()

	e := extract.New(4, false)
	v := mustParse(t, `{"abcd": "abcde", "abcdefg": ["x", "yyyyy", {"zz": "zzzzzzzz"}], "": ""}`)

	got := e.Texts(v)
	for _, s := range got {
		assert.Greater(t, utf8.RuneCountInString(s), 4, s)
	}
	assert.Equal(t, []string{"abcde", "abcdefg", "yyyyy", "zzzzzzzz"}, got)
}

func TestExtract_Scenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		doc          string
		fallback     bool
		wantTexts    []string
		wantDegraded bool
	}{
		{name: "short value", doc: `{"note": "short"}`, wantTexts: nil},
		{
			name:      "single message",
			doc:       `{"message": "this text exceeds the minimum length threshold easily"}`,
			wantTexts: []string{"this text exceeds the minimum length threshold easily"},
		},
		{name: "empty map", doc: `{}`, fallback: true, wantTexts: nil},
		{name: "numbers without fallback", doc: `{"a": 1, "b": 2}`, wantTexts: nil},
		{name: "numbers with fallback", doc: `{"a": 1, "b": 2}`, fallback: true, wantTexts: []string{"a=1, b=2"}, wantDegraded: true},
		{name: "top level number", doc: `42`, wantTexts: nil},
		{name: "top level number with fallback", doc: `123456789012`, fallback: true, wantTexts: nil},
		{name: "top level bool", doc: `true`, fallback: true, wantTexts: nil},
		{name: "top level null", doc: `null`, wantTexts: nil},
		{name: "short top level string", doc: `"tiny"`, fallback: true, wantTexts: nil},
		{name: "top level string", doc: `"a plain string payload"`, wantTexts: []string{"a plain string payload"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := extract.New(extract.DefaultMinLength, tt.fallback).Extract(mustParse(t, tt.doc))
			assert.Equal(t, tt.wantTexts, got.Texts)
			assert.Equal(t, tt.wantDegraded, got.Degraded)
		})
	}
}

func TestDegraded_NestedValues(t *testing.T) {
	t.Parallel()

	v := payload.Map(
		payload.E("user", payload.String("ann")),
		payload.E("tags", payload.Sequence(payload.String("a"), payload.Number("2"))),
		payload.E("ok", payload.Bool(true)),
	)

	got := extract.Degraded(v)
	require.Len(t, got, 1)
	assert.Equal(t, `user=ann, tags=["a",2], ok=true`, got[0])
	assert.NotEmpty(t, strings.TrimSpace(got[0]))
}

func TestDegraded_OnlyMaps(t *testing.T) {
	t.Parallel()

	assert.Nil(t, extract.Degraded(payload.Number("42")))
	assert.Nil(t, extract.Degraded(payload.Bool(true)))
	assert.Nil(t, extract.Degraded(payload.String("a long enough string")))
	assert.Nil(t, extract.Degraded(payload.Sequence(payload.Number("1"))))
	assert.Nil(t, extract.Degraded(payload.Map()))
}

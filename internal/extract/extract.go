// Package extract pulls the strings worth classifying out of a payload tree.
package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/jonesrussell/north-cloud/guardrail/internal/payload"
)

// DefaultMinLength is the length a key or string value must exceed to be kept.
const DefaultMinLength = 8

// Extractor is stateless and safe for concurrent use.
type Extractor struct {
	// MinLength is compared against the number of code points, strictly.
	MinLength int
	// FallbackOnEmpty switches a non-empty map that yields no text to the
	// degraded "key=value" form instead of classifying nothing.
	FallbackOnEmpty bool
}

// New returns an Extractor; a negative minLength means DefaultMinLength.
func New(minLength int, fallbackOnEmpty bool) Extractor {
	if minLength < 0 {
		minLength = DefaultMinLength
	}
	return Extractor{MinLength: minLength, FallbackOnEmpty: fallbackOnEmpty}
}

// Result is the outcome of Extract.
type Result struct {
	Texts []string
	// Degraded is set when Texts came from the "key=value" join.
	Degraded bool
}

// Extract walks maps, sequences and strings. A top-level number, bool or
// null yields nothing. Only a non-empty map can fall back to the degraded
// join.
func (e Extractor) Extract(v payload.Value) Result {
	texts := e.Texts(v)
	if len(texts) == 0 && e.FallbackOnEmpty && v.Kind == payload.KindMap {
		if degraded := Degraded(v); len(degraded) > 0 {
			return Result{Texts: degraded, Degraded: true}
		}
	}
	return Result{Texts: texts}
}

// Texts walks v depth first. A qualifying map key is emitted before anything
// found under its value. Duplicates are kept.
func (e Extractor) Texts(v payload.Value) []string {
	var out []string
	e.walk(v, &out)
	return out
}

func (e Extractor) walk(v payload.Value, out *[]string) {
	switch v.Kind {
	case payload.KindMap:
		for _, entry := range v.Entries {
			if e.qualifies(entry.Key) {
				*out = append(*out, entry.Key)
			}
			e.walk(entry.Value, out)
		}
	case payload.KindSequence:
		for _, item := range v.Items {
			e.walk(item, out)
		}
	case payload.KindString:
		if e.qualifies(v.Str) {
			*out = append(*out, v.Str)
		}
	}
}

func (e Extractor) qualifies(s string) bool {
	return utf8.RuneCountInString(s) > e.MinLength
}

// Degraded renders a map as one "k1=v1, k2=v2" string. Empty maps and
// other kinds give nothing.
func Degraded(v payload.Value) []string {
	if v.Kind != payload.KindMap || len(v.Entries) == 0 {
		return nil
	}

	parts := make([]string, 0, len(v.Entries))
	for _, entry := range v.Entries {
		parts = append(parts, entry.Key+"="+entry.Value.Text())
	}
	return []string{strings.Join(parts, ", ")}
}

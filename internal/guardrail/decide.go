package guardrail

import (
	"math"
	"strings"

	"github.com/jonesrussell/north-cloud/guardrail/internal/chunker"
)

// SafeLabel is the label, compared case-insensitively, that marks a window safe.
const SafeLabel = "safe"

// scoreDigits is the precision of reported scores.
const scoreDigits = 4

// Prediction is the classifier output for one window.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Result pairs a window with its prediction.
type Result struct {
	Window chunker.Window
	Prediction
}

// Detail is the per-window part of a Decision. Safe is the label verdict;
// Violation is the threshold verdict that drives the overall decision and
// stays off the wire.
type Detail struct {
	ChunkIndex int     `json:"chunk_index"`
	ChunkText  string  `json:"chunk_text"`
	Label      string  `json:"label"`
	Score      float64 `json:"score"`
	Safe       bool    `json:"safe"`
	Violation  bool    `json:"-"`
}

// Decision is the guardrail verdict for one payload.
type Decision struct {
	Safe     bool     `json:"safe"`
	Detailed []Detail `json:"detailed"`
}

// Violations counts the windows that triggered a violation.
func (d Decision) Violations() int {
	n := 0
	for _, det := range d.Detailed {
		if det.Violation {
			n++
		}
	}
	return n
}

// Decide applies cfg to every result. A "safe" window below the safe floor
// and any other window above the unsafe ceiling are violations; ties are not.
// One violation makes the decision unsafe. No results means safe.
//
// Comparisons use the raw score. Reported scores are rounded to four digits,
// half away from zero.
func Decide(results []Result, cfg ModelConfig) Decision {
	d := Decision{Safe: true, Detailed: make([]Detail, 0, len(results))}
	for _, r := range results {
		locallySafe := strings.EqualFold(r.Label, SafeLabel)
		violation := IsViolation(locallySafe, r.Score, cfg)
		if violation {
			d.Safe = false
		}

		d.Detailed = append(d.Detailed, Detail{
			ChunkIndex: r.Window.Index,
			ChunkText:  r.Window.Text,
			Label:      r.Label,
			Score:      RoundScore(r.Score),
			Safe:       locallySafe,
			Violation:  violation,
		})
	}
	return d
}

// IsViolation is the per-window rule used by Decide.
func IsViolation(locallySafe bool, score float64, cfg ModelConfig) bool {
	if locallySafe {
		return score < cfg.MinScoreForSafe()
	}
	return score > cfg.MinScoreForNotSafe()
}

// RoundScore rounds to four decimal digits, half away from zero.
func RoundScore(score float64) float64 {
	scale := math.Pow10(scoreDigits)
	return math.Round(score*scale) / scale
}

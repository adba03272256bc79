// Package scorer maps image color statistics to a simulated okra maturity
// classification.
package scorer

import (
	"math"
	"strings"

	"github.com/example/okra-classifier/internal/imageprocessor"
)

// Label is one of the two maturity classes.
type Label string

const (
	LabelMature     Label = "mature_Okra"
	LabelOverMature Label = "over_matured_Okra"
)

// Labels lists the class vocabulary in output order.
var Labels = []Label{LabelMature, LabelOverMature}

// Formatted renders the label for display, e.g. "Over Matured Okra".
func (l Label) Formatted() string {
	words := strings.Split(string(l), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

const (
	ratioPivot   = 0.38
	ratioSlope   = 2.0
	baseFloor    = 0.15
	baseCeiling  = 0.85
	noiseSpan    = 0.1
	probFloor    = 0.05
	probCeiling  = 0.95
	fallbackLow  = 0.3
	fallbackHigh = 0.9
)

// Result is the outcome of a single classification.
type Result struct {
	Label          Label                    `json:"prediction"`
	Confidence     float64                  `json:"confidence"`
	MatureProb     float64                  `json:"mature_prob"`
	OverMatureProb float64                  `json:"over_mature_prob"`
	Fallback       bool                     `json:"fallback"`
	Analysis       *imageprocessor.Analysis `json:"analysis,omitempty"`
}

// Probabilities returns the distribution keyed by label.
func (r Result) Probabilities() map[Label]float64 {
	return map[Label]float64{
		LabelMature:     r.MatureProb,
		LabelOverMature: r.OverMatureProb,
	}
}

// Scorer applies the green-ratio heuristic. It holds no per-call state and
// can be shared across goroutines as long as its Source can.
type Scorer struct {
	analyzer imageprocessor.Analyzer
	src      Source
}

// New creates a scorer reading images through analyzer and drawing noise
// from src.
func New(analyzer imageprocessor.Analyzer, src Source) *Scorer {
	return &Scorer{analyzer: analyzer, src: src}
}

// Score classifies an encoded image. Unreadable input yields a
// *imageprocessor.DecodeError and no result.
func (s *Scorer) Score(data []byte) (Result, error) {
	analysis, err := s.analyzer.Analyze(data)
	if err != nil {
		return Result{}, err
	}
	return s.ScoreAnalysis(analysis), nil
}

// ScoreAnalysis classifies already computed color statistics.
func (s *Scorer) ScoreAnalysis(analysis *imageprocessor.Analysis) Result {
	p := BaseProbability(analysis.GreenRatio)
	p += uniform(s.src, -noiseSpan, noiseSpan)
	p = clamp(p, probFloor, probCeiling)

	res := decide(p)
	res.Analysis = analysis
	return res
}

// Fallback produces a random, flagged result that carries no analysis.
func (s *Scorer) Fallback() Result {
	res := decide(uniform(s.src, fallbackLow, fallbackHigh))
	res.Fallback = true
	return res
}

// ScoreOrFallback is Score with failures masked: when analysis fails it
// returns Fallback() together with the error that was masked. The result
// is always usable; callers tell the two cases apart by Result.Fallback.
func (s *Scorer) ScoreOrFallback(data []byte) (Result, error) {
	res, err := s.Score(data)
	if err != nil {
		return s.Fallback(), err
	}
	return res, nil
}

// BaseProbability maps a green ratio to the pre-noise probability of the
// mature class. It is continuous at the pivot and flat beyond the clamps.
func BaseProbability(greenRatio float64) float64 {
	if greenRatio > ratioPivot {
		return math.Min(baseCeiling, 0.5+(greenRatio-ratioPivot)*ratioSlope)
	}
	return math.Max(baseFloor, 0.5-(ratioPivot-greenRatio)*ratioSlope)
}

// decide picks the label; ties go to the over-matured class.
func decide(mature float64) Result {
	over := 1 - mature
	res := Result{MatureProb: mature, OverMatureProb: over}
	if mature > over {
		res.Label, res.Confidence = LabelMature, mature
	} else {
		res.Label, res.Confidence = LabelOverMature, over
	}
	return res
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

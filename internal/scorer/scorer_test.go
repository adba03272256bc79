package scorer

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/okra-classifier/internal/imageprocessor"
)

func solidPNG(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 6, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestScoreProbabilitiesSumToOneAndStayInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := New(imageprocessor.NewProcessor(0, 0), NewLockedSource(11))

	for i := 0; i < 200; i++ {
		analysis := &imageprocessor.Analysis{GreenRatio: rng.Float64()}
		res := s.ScoreAnalysis(analysis)

		require.InDelta(t, 1.0, res.MatureProb+res.OverMatureProb, 1e-9)
		require.GreaterOrEqual(t, res.MatureProb, probFloor)
		require.LessOrEqual(t, res.MatureProb, probCeiling)
		require.GreaterOrEqual(t, res.OverMatureProb, probFloor)
		require.LessOrEqual(t, res.OverMatureProb, probCeiling)
		require.False(t, res.Fallback)
	}
}

func TestBaseProbabilityIsMonotonic(t *testing.T) {
	prev := BaseProbability(0)
	for i := 1; i <= 1000; i++ {
		cur := BaseProbability(float64(i) / 1000)
		require.GreaterOrEqual(t, cur, prev, "ratio %v", float64(i)/1000)
		prev = cur
	}
}

func TestBaseProbabilityShape(t *testing.T) {
	require.InDelta(t, 0.5, BaseProbability(0.38), 1e-12)
	require.InDelta(t, 0.6, BaseProbability(0.43), 1e-12)
	require.InDelta(t, 0.4, BaseProbability(0.33), 1e-12)
	require.Equal(t, baseCeiling, BaseProbability(0.6))
	require.Equal(t, baseFloor, BaseProbability(0.1))
}

func TestZeroNoiseScoreEqualsBaseProbability(t *testing.T) {
	s := New(imageprocessor.NewProcessor(0, 0), FixedSource(0.5))
	res := s.ScoreAnalysis(&imageprocessor.Analysis{GreenRatio: 0.45})
	require.InDelta(t, BaseProbability(0.45), res.MatureProb, 1e-12)
}

func TestGreenRatioInvariantUnderChannelScaling(t *testing.T) {
	p := imageprocessor.NewProcessor(0, 0)
	a, err := p.Analyze(solidPNG(t, color.NRGBA{R: 40, G: 120, B: 80, A: 255}))
	require.NoError(t, err)
	b, err := p.Analyze(solidPNG(t, color.NRGBA{R: 20, G: 60, B: 40, A: 255}))
	require.NoError(t, err)

	require.InDelta(t, BaseProbability(a.GreenRatio), BaseProbability(b.GreenRatio), 1e-4)
}

func TestAllBlackImageLeansOverMatured(t *testing.T) {
	s := New(imageprocessor.NewProcessor(0, 0), FixedSource(0.5))

	res, err := s.Score(solidPNG(t, color.NRGBA{A: 255}))
	require.NoError(t, err)
	require.Equal(t, 0.0, res.Analysis.GreenRatio)
	require.Equal(t, LabelOverMature, res.Label)
	require.InDelta(t, 0.85, res.Confidence, 1e-12)
}

func TestPureGreenImageIsMature(t *testing.T) {
	data := solidPNG(t, color.NRGBA{G: 255, A: 255})
	for seed := int64(1); seed <= 50; seed++ {
		s := New(imageprocessor.NewProcessor(0, 0), NewLockedSource(seed))
		res, err := s.Score(data)
		require.NoError(t, err)
		require.Equal(t, LabelMature, res.Label)
		require.GreaterOrEqual(t, res.Confidence, 0.75)
	}
}

func TestScoreSurfacesDecodeError(t *testing.T) {
	s := New(imageprocessor.NewProcessor(0, 0), NewLockedSource(1))

	_, err := s.Score([]byte("plain text"))
	var decErr *imageprocessor.DecodeError
	require.ErrorAs(t, err, &decErr)
}

func TestScoreOrFallbackFlagsMaskedFailures(t *testing.T) {
	s := New(imageprocessor.NewProcessor(0, 0), NewLockedSource(3))

	for i := 0; i < 50; i++ {
		res, err := s.ScoreOrFallback([]byte("plain text"))
		require.True(t, imageprocessor.IsDecodeError(err))
		require.True(t, res.Fallback)
		require.Nil(t, res.Analysis)
		require.GreaterOrEqual(t, res.MatureProb, fallbackLow)
		require.Less(t, res.MatureProb, fallbackHigh)
		require.InDelta(t, 1.0, res.MatureProb+res.OverMatureProb, 1e-9)
	}
}

func TestScoreOrFallbackPassesThroughReadableImages(t *testing.T) {
	s := New(imageprocessor.NewProcessor(0, 0), NewLockedSource(3))

	res, err := s.ScoreOrFallback(solidPNG(t, color.NRGBA{R: 10, G: 200, B: 10, A: 255}))
	require.NoError(t, err)
	require.False(t, res.Fallback)
	require.NotNil(t, res.Analysis)
}

func TestSameSeedSameResult(t *testing.T) {
	data := solidPNG(t, color.NRGBA{R: 90, G: 100, B: 70, A: 255})

	first, err := New(imageprocessor.NewProcessor(0, 0), NewLockedSource(42)).Score(data)
	require.NoError(t, err)
	second, err := New(imageprocessor.NewProcessor(0, 0), NewLockedSource(42)).Score(data)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDecideTieGoesToOverMatured(t *testing.T) {
	res := decide(0.5)
	require.Equal(t, LabelOverMature, res.Label)
	require.Equal(t, 0.5, res.Confidence)
}

func TestFallbackConfidenceRule(t *testing.T) {
	low := New(nil, FixedSource(0)).Fallback()
	require.Equal(t, LabelOverMature, low.Label)
	require.InDelta(t, 0.7, low.Confidence, 1e-12)

	high := New(nil, FixedSource(0.99)).Fallback()
	require.Equal(t, LabelMature, high.Label)
	require.InDelta(t, 0.894, high.Confidence, 1e-12)
}

func TestLabelFormatted(t *testing.T) {
	require.Equal(t, "Mature Okra", LabelMature.Formatted())
	require.Equal(t, "Over Matured Okra", LabelOverMature.Formatted())
}

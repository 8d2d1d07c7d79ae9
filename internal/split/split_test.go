package split

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/histoboost/histoboost/internal/binmatrix"
	"github.com/histoboost/histoboost/internal/histogram"
	"github.com/histoboost/histoboost/pkg/config"
)

func testConfig() *config.BoostConfig {
	cfg := config.Default()
	cfg.MinGain = 0
	cfg.MinNodeHess = 0
	cfg.RegAlpha = 0
	cfg.RegLambda = 1
	cfg.MaxBruteBins = 10
	return &cfg
}

// buildOneFeature constructs a single-feature histogram from parallel rows
// of (bin, grad, hess) observations, numBins wide.
func buildOneFeature(t *testing.T, numBins int, bins []uint32, grad, hess []float64) *histogram.Histogram {
	t.Helper()
	require.Len(t, bins, len(grad))
	require.Len(t, bins, len(hess))

	rows := len(bins)
	m := binmatrix.NewForMaxBins(numBins, rows, 1)
	for r, b := range bins {
		m.Set(r, 0, b)
	}
	rowIDs := make([]int32, rows)
	for i := range rowIDs {
		rowIDs[i] = int32(i)
	}

	return histogram.BuildHorizontal(context.Background(), rowIDs, m, grad, hess, []int{0}, []int{numBins}, 2)
}

func TestFindBest_NumericPicksCleanThreshold(t *testing.T) {
	cfg := testConfig()
	// bin 0 = missing (none here), bins 1,2 low gradient, bins 3,4 high gradient.
	bins := []uint32{1, 1, 2, 2, 3, 3, 4, 4}
	grad := []float64{-1, -1, -1, -1, 1, 1, 1, 1}
	hess := []float64{1, 1, 1, 1, 1, 1, 1, 1}
	h := buildOneFeature(t, 5, bins, grad, hess)

	best := FindBest(h, []int{0}, []int{5}, []Kind{Numeric}, cfg)
	require.NotNil(t, best)
	assert.Equal(t, Numeric, best.Kind)
	assert.Equal(t, uint32(3), best.Threshold) // bins {1,2} left, {3,4} right
	assert.Greater(t, best.Gain, 0.0)
}

func TestFindBest_RejectsBelowMinGain(t *testing.T) {
	cfg := testConfig()
	cfg.MinGain = 1000 // impossibly high floor
	bins := []uint32{1, 1, 2, 2}
	grad := []float64{-1, -1, 1, 1}
	hess := []float64{1, 1, 1, 1}
	h := buildOneFeature(t, 3, bins, grad, hess)

	best := FindBest(h, []int{0}, []int{3}, []Kind{Numeric}, cfg)
	assert.Nil(t, best)
}

func TestFindBest_RejectsBelowMinNodeHess(t *testing.T) {
	cfg := testConfig()
	cfg.MinNodeHess = 10
	bins := []uint32{1, 2}
	grad := []float64{-1, 1}
	hess := []float64{1, 1}
	h := buildOneFeature(t, 3, bins, grad, hess)

	best := FindBest(h, []int{0}, []int{3}, []Kind{Numeric}, cfg)
	assert.Nil(t, best)
}

func TestFindBest_MissingBinRoutesToBetterSide(t *testing.T) {
	cfg := testConfig()
	// missing bin carries strongly negative gradient, matching the left
	// (negative-gradient) side; it should route left.
	bins := []uint32{0, 0, 1, 1, 2, 2}
	grad := []float64{-5, -5, -1, -1, 1, 1}
	hess := []float64{1, 1, 1, 1, 1, 1}
	h := buildOneFeature(t, 3, bins, grad, hess)

	best := FindBest(h, []int{0}, []int{3}, []Kind{Numeric}, cfg)
	require.NotNil(t, best)
	assert.True(t, best.DefaultLeft)
	assert.True(t, best.RoutesLeft(0))
}

func TestGainFormula_L1ShrinkageZeroesSmallGradients(t *testing.T) {
	cfg := testConfig()
	cfg.RegAlpha = 10 // shrinks any |g| <= 10 to exactly 0
	left := histogram.GradHess{Grad: 2, Hess: 1}
	right := histogram.GradHess{Grad: -2, Hess: 1}
	assert.Equal(t, 0.0, gain(left, right, cfg))
}

func TestGainFormula_MatchesHandComputation(t *testing.T) {
	cfg := testConfig()
	cfg.RegAlpha = 0
	cfg.RegLambda = 1
	left := histogram.GradHess{Grad: 4, Hess: 2}
	right := histogram.GradHess{Grad: -2, Hess: 3}

	sl := (4.0 * 4.0) / (2 + 1)
	sr := (2.0 * 2.0) / (3 + 1)
	sp := (2.0 * 2.0) / (5 + 1)
	want := 0.5 * (sl + sr - sp)

	assert.InDelta(t, want, gain(left, right, cfg), 1e-9)
}

func TestFindBest_CategoricalBruteForce_SeparatesByGradientSign(t *testing.T) {
	cfg := testConfig()
	// 3 real bins (<= maxBruteBins), bin 2 on its own should split off.
	bins := []uint32{1, 1, 2, 2, 3, 3}
	grad := []float64{-1, -1, 5, 5, -1, -1}
	hess := []float64{1, 1, 1, 1, 1, 1}
	h := buildOneFeature(t, 4, bins, grad, hess)

	best := FindBest(h, []int{0}, []int{4}, []Kind{Categorical}, cfg)
	require.NotNil(t, best)
	assert.Equal(t, Categorical, best.Kind)
	assert.True(t, best.LeftCodes[2] != best.LeftCodes[1])
}

func TestFindBest_CategoricalSortedScan_UsedAboveMaxBruteBins(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBruteBins = 2 // force the sorted-scan path with 4 real bins

	bins := make([]uint32, 0, 40)
	grad := make([]float64, 0, 40)
	hess := make([]float64, 0, 40)
	gradByBin := map[uint32]float64{1: -3, 2: -1, 3: 1, 4: 3}
	for b := uint32(1); b <= 4; b++ {
		for i := 0; i < 10; i++ {
			bins = append(bins, b)
			grad = append(grad, gradByBin[b])
			hess = append(hess, 1)
		}
	}
	h := buildOneFeature(t, 5, bins, grad, hess)

	best := FindBest(h, []int{0}, []int{5}, []Kind{Categorical}, cfg)
	require.NotNil(t, best)
	assert.Equal(t, Categorical, best.Kind)
	// the sorted-by-ratio scan should keep the most negative-gradient bins
	// together on one side.
	assert.Equal(t, best.LeftCodes[1], best.LeftCodes[2])
	assert.NotEqual(t, best.LeftCodes[1], best.LeftCodes[4])
}

func TestFindBest_TieBreak_PrefersLowerFeatureIndex(t *testing.T) {
	cfg := testConfig()
	// identical gradient/hessian layout on two features -> identical gain;
	// the lower feature index must win.
	bins0 := []uint32{1, 1, 2, 2}
	grad := []float64{-1, -1, 1, 1}
	hess := []float64{1, 1, 1, 1}

	rows := len(bins0)
	m := binmatrix.NewForMaxBins(3, rows, 2)
	for r, b := range bins0 {
		m.Set(r, 0, b)
		m.Set(r, 1, b)
	}
	rowIDs := []int32{0, 1, 2, 3}
	h := histogram.BuildHorizontal(context.Background(), rowIDs, m, grad, hess, []int{0, 1}, []int{3, 3}, 2)

	best := FindBest(h, []int{0, 1}, []int{3, 3}, []Kind{Numeric, Numeric}, cfg)
	require.NotNil(t, best)
	assert.Equal(t, 0, best.Feature)
}

func TestRoutesLeft_NumericThreshold(t *testing.T) {
	s := &Split{Kind: Numeric, Threshold: 3, DefaultLeft: false}
	assert.True(t, s.RoutesLeft(1))
	assert.True(t, s.RoutesLeft(2))
	assert.False(t, s.RoutesLeft(3))
	assert.False(t, s.RoutesLeft(0)) // missing, DefaultLeft false
}

func TestRoutesLeft_CategoricalMembership(t *testing.T) {
	s := &Split{Kind: Categorical, LeftCodes: map[uint32]bool{2: true, 4: true}, DefaultLeft: true}
	assert.True(t, s.RoutesLeft(2))
	assert.False(t, s.RoutesLeft(3))
	assert.True(t, s.RoutesLeft(0)) // missing, DefaultLeft true
}

// Package split searches a node's histogram for the best feature split,
// scoring candidates with the L1/L2-regularized gain formula and applying
// the same deterministic tie-break regardless of which code path produced
// the candidate.
package split

import (
	"sort"

	"github.com/histoboost/histoboost/internal/histogram"
	"github.com/histoboost/histoboost/pkg/config"
)

// plus returns a+b without mutating either operand; GradHess.Add mutates
// through a pointer receiver, which the scan loops below need to avoid since
// they reuse the same running accumulator across both missing-direction
// variants at each split position.
func plus(a, b histogram.GradHess) histogram.GradHess {
	return histogram.GradHess{Grad: a.Grad + b.Grad, Hess: a.Hess + b.Hess, Count: a.Count + b.Count}
}

// Kind distinguishes how a Split's Payload should be interpreted at both
// tree-build and inference time.
type Kind int

const (
	Numeric Kind = iota
	Categorical
)

// Split is the best candidate found for one (node, feature) pair, or the
// best across all features when returned by FindBest.
type Split struct {
	Feature int
	Kind    Kind

	// Numeric: bins with index < Threshold route left (missing bin 0 is
	// never part of this range; its routing is decided by DefaultLeft).
	Threshold uint32

	// Categorical: the set of bin codes that route left. Missing bin 0 is
	// never a member; its routing is decided by DefaultLeft.
	LeftCodes map[uint32]bool

	Gain        float64
	DefaultLeft bool
	LeftSum     histogram.GradHess
	RightSum    histogram.GradHess
}

// soft applies L1 shrinkage: sign(g)*max(0, |g|-alpha).
func soft(g, alpha float64) float64 {
	if g > alpha {
		return g - alpha
	}
	if g < -alpha {
		return g + alpha
	}
	return 0
}

// score is S(g,h) = soft(g,alpha)^2 / (h+lambda), the regularized leaf score
// whose combination across a candidate's two children and their parent
// yields the split gain.
func score(g, h, alpha, lambda float64) float64 {
	denom := h + lambda
	if denom <= 0 {
		return 0
	}
	s := soft(g, alpha)
	return s * s / denom
}

// gain computes the split gain for one (left, right) partition of a node's
// (g,h) mass. There is no separate gamma tunable in config: minGain already
// serves as the accept/reject threshold the spec calls out explicitly, so
// gamma is folded to 0 here rather than invented as a second, redundant knob.
func gain(left, right histogram.GradHess, cfg *config.BoostConfig) float64 {
	sl := score(left.Grad, left.Hess, cfg.RegAlpha, cfg.RegLambda)
	sr := score(right.Grad, right.Hess, cfg.RegAlpha, cfg.RegLambda)
	sp := score(left.Grad+right.Grad, left.Hess+right.Hess, cfg.RegAlpha, cfg.RegLambda)
	return 0.5 * (sl + sr - sp)
}

// acceptable rejects candidates whose children don't carry enough hessian
// mass to trust, or whose gain doesn't clear the configured floor.
func acceptable(left, right histogram.GradHess, g float64, cfg *config.BoostConfig) bool {
	if left.Hess < cfg.MinNodeHess || right.Hess < cfg.MinNodeHess {
		return false
	}
	return g >= cfg.MinGain
}

// FindBest scans every feature in featureSubset against h and returns the
// single best split, or nil if no feature produced an acceptable one.
// featureKinds[f] selects numeric-scan vs categorical search for feature f.
func FindBest(h *histogram.Histogram, featureSubset []int, numBinsPerFeature []int, featureKinds []Kind, cfg *config.BoostConfig) *Split {
	var best *Split

	for _, f := range featureSubset {
		numBins := numBinsPerFeature[f]
		if numBins < 2 {
			continue
		}

		var candidate *Split
		switch featureKinds[f] {
		case Categorical:
			if numBins-1 <= cfg.MaxBruteBins {
				candidate = bestCategoricalBruteForce(h, f, numBins, cfg)
			} else {
				candidate = bestCategoricalSortedScan(h, f, numBins, cfg)
			}
		default:
			candidate = bestNumeric(h, f, numBins, cfg)
		}

		if candidate == nil {
			continue
		}
		// Strict '>' preserves the deterministic tie-break: features are
		// visited in ascending order and, within bestNumeric/categorical,
		// split positions are visited in ascending order too, so the first
		// candidate to reach a given gain is always the lowest feature
		// index / lowest split position.
		if best == nil || candidate.Gain > best.Gain {
			best = candidate
		}
	}

	return best
}

// bestNumeric scans bins left to right, maintaining a running left-side
// prefix sum over real (non-missing) bins. The missing bin (index 0) is
// evaluated separately at each split position, folded into whichever side
// yields the higher gain, and that side becomes the default routing
// direction for values that resolve to the missing bin at inference time.
func bestNumeric(h *histogram.Histogram, feature, numBins int, cfg *config.BoostConfig) *Split {
	missing := h.At(feature, 0)

	var total histogram.GradHess
	for b := 1; b < numBins; b++ {
		total.Add(h.At(feature, uint32(b)))
	}

	var best *Split
	var left histogram.GradHess
	for b := 1; b < numBins-1; b++ {
		left.Add(h.At(feature, uint32(b)))
		right := total.Sub(left)

		// Variant A: missing routes left.
		leftA := plus(left, missing)
		gA := gain(leftA, right, cfg)
		if acceptable(leftA, right, gA, cfg) && (best == nil || gA > best.Gain) {
			best = &Split{
				Feature: feature, Kind: Numeric, Threshold: uint32(b + 1),
				Gain: gA, DefaultLeft: true, LeftSum: leftA, RightSum: right,
			}
		}

		// Variant B: missing routes right.
		rightB := plus(right, missing)
		gB := gain(left, rightB, cfg)
		if acceptable(left, rightB, gB, cfg) && (best == nil || gB > best.Gain) {
			best = &Split{
				Feature: feature, Kind: Numeric, Threshold: uint32(b + 1),
				Gain: gB, DefaultLeft: false, LeftSum: left, RightSum: rightB,
			}
		}
	}

	return best
}

// bestCategoricalBruteForce enumerates every non-trivial bipartition of the
// feature's real (non-missing) bins: 2^(k-1)-1 candidates, since a partition
// and its complement are the same split with sides swapped.
func bestCategoricalBruteForce(h *histogram.Histogram, feature, numBins int, cfg *config.BoostConfig) *Split {
	missing := h.At(feature, 0)
	k := numBins - 1 // real bins are indices 1..numBins-1
	if k < 2 {
		return nil
	}

	var total histogram.GradHess
	cells := make([]histogram.GradHess, k)
	for i := 0; i < k; i++ {
		cells[i] = h.At(feature, uint32(i+1))
		total.Add(cells[i])
	}

	var best *Split
	masks := uint64(1) << uint(k-1)
	for mask := uint64(1); mask < masks; mask++ {
		var left histogram.GradHess
		leftCodes := make(map[uint32]bool)
		for i := 0; i < k; i++ {
			if mask&(uint64(1)<<uint(i)) != 0 {
				left.Add(cells[i])
				leftCodes[uint32(i+1)] = true
			}
		}
		right := total.Sub(left)

		leftA := plus(left, missing)
		gA := gain(leftA, right, cfg)
		if acceptable(leftA, right, gA, cfg) && (best == nil || gA > best.Gain) {
			best = &Split{
				Feature: feature, Kind: Categorical, LeftCodes: leftCodes,
				Gain: gA, DefaultLeft: true, LeftSum: leftA, RightSum: right,
			}
		}

		rightB := plus(right, missing)
		gB := gain(left, rightB, cfg)
		if acceptable(left, rightB, gB, cfg) && (best == nil || gB > best.Gain) {
			best = &Split{
				Feature: feature, Kind: Categorical, LeftCodes: leftCodes,
				Gain: gB, DefaultLeft: false, LeftSum: left, RightSum: rightB,
			}
		}
	}

	return best
}

// bestCategoricalSortedScan handles feature cardinalities too large to
// brute-force: bins are ordered by g/h ratio (the standard relaxation that
// makes the optimal bipartition reachable by a single ordered scan) and then
// walked exactly like bestNumeric.
func bestCategoricalSortedScan(h *histogram.Histogram, feature, numBins int, cfg *config.BoostConfig) *Split {
	missing := h.At(feature, 0)
	k := numBins - 1
	if k < 2 {
		return nil
	}

	type binRatio struct {
		code  uint32
		ratio float64
	}
	order := make([]binRatio, k)
	var total histogram.GradHess
	for i := 0; i < k; i++ {
		cell := h.At(feature, uint32(i+1))
		total.Add(cell)
		r := cell.Grad / (cell.Hess + cfg.RegLambda)
		order[i] = binRatio{code: uint32(i + 1), ratio: r}
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].ratio != order[j].ratio {
			return order[i].ratio < order[j].ratio
		}
		return order[i].code < order[j].code
	})

	var best *Split
	var left histogram.GradHess
	leftCodes := make(map[uint32]bool, k)
	for i := 0; i < k-1; i++ {
		cell := h.At(feature, order[i].code)
		left.Add(cell)
		leftCodes[order[i].code] = true
		right := total.Sub(left)

		snapshot := cloneCodes(leftCodes)

		leftA := plus(left, missing)
		gA := gain(leftA, right, cfg)
		if acceptable(leftA, right, gA, cfg) && (best == nil || gA > best.Gain) {
			best = &Split{
				Feature: feature, Kind: Categorical, LeftCodes: snapshot,
				Gain: gA, DefaultLeft: true, LeftSum: leftA, RightSum: right,
			}
		}

		rightB := plus(right, missing)
		gB := gain(left, rightB, cfg)
		if acceptable(left, rightB, gB, cfg) && (best == nil || gB > best.Gain) {
			best = &Split{
				Feature: feature, Kind: Categorical, LeftCodes: snapshot,
				Gain: gB, DefaultLeft: false, LeftSum: left, RightSum: rightB,
			}
		}
	}

	return best
}

func cloneCodes(m map[uint32]bool) map[uint32]bool {
	out := make(map[uint32]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// RoutesLeft reports whether a row whose value resolved to bin code b (for
// the split's feature, under its Kind) routes to the left child. Bin 0
// (missing) always routes per DefaultLeft.
func (s *Split) RoutesLeft(bin uint32) bool {
	if bin == 0 {
		return s.DefaultLeft
	}
	switch s.Kind {
	case Categorical:
		return s.LeftCodes[bin]
	default:
		return bin < s.Threshold
	}
}

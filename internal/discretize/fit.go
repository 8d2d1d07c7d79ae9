package discretize

import (
	"math"
	"sort"

	"github.com/histoboost/histoboost/pkg/config"
)

// columnSketch is the partial, mergeable summary produced by scanning one
// partition's worth of a single column. A tree-reduce of columnSketches
// (Merge) followed by one Finalize produces the column's fitted
// ColumnSummary, matching the "fits in one distributed pass with a
// tree-reduce of partial summaries" contract.
type columnSketch struct {
	kind ColumnKind

	// numeric
	numeric  *quantileSketch // NumericQuantile only
	min, max float64
	sawAny   bool

	// categorical / rank
	freq map[float64]int64

	zeroAsMissing bool
	maxBins       int
}

func newColumnSketch(kind ColumnKind, cfg *config.BoostConfig) *columnSketch {
	s := &columnSketch{
		kind:          kind,
		min:           math.Inf(1),
		max:           math.Inf(-1),
		zeroAsMissing: cfg.ZeroAsMissing,
		maxBins:       cfg.MaxBins,
	}
	if kind == NumericQuantile {
		s.numeric = newQuantileSketch(cfg.MaxBins * 4)
	}
	if kind == Categorical || kind == Rank {
		s.freq = make(map[float64]int64)
	}
	return s
}

func (s *columnSketch) observe(v float64) {
	if s.zeroAsMissing && v == 0 {
		return
	}
	if math.IsNaN(v) {
		return
	}

	switch s.kind {
	case NumericQuantile:
		s.numeric.Add(v)
		s.sawAny = true
	case NumericWidth:
		if v < s.min {
			s.min = v
		}
		if v > s.max {
			s.max = v
		}
		s.sawAny = true
	case Categorical, Rank:
		s.freq[v]++
		s.sawAny = true
	}
}

// merge combines another partition's sketch into s, the tree-reduce step.
func (s *columnSketch) merge(other *columnSketch) {
	if other == nil || !other.sawAny {
		return
	}
	s.sawAny = true

	switch s.kind {
	case NumericQuantile:
		s.numeric.Merge(other.numeric)
	case NumericWidth:
		if other.min < s.min {
			s.min = other.min
		}
		if other.max > s.max {
			s.max = other.max
		}
	case Categorical, Rank:
		for v, n := range other.freq {
			s.freq[v] += n
		}
	}
}

// fitPartial scans one column's full observed-value slice and returns its
// sketch; Fit treats each column's whole slice as a single partition.
func fitPartial(values []float64, kind ColumnKind, cfg *config.BoostConfig) *columnSketch {
	s := newColumnSketch(kind, cfg)
	for _, v := range values {
		s.observe(v)
	}
	return s
}

// finalize turns a (possibly merged) sketch into an immutable ColumnSummary.
// Its second result is always 0; Fit computes sparsity with columnSparsity.
func finalize(s *columnSketch, cfg *config.BoostConfig) (ColumnSummary, float64) {
	maxBins := cfg.MaxBins
	summary := ColumnSummary{Kind: s.kind, ZeroAsMissing: s.zeroAsMissing}

	switch s.kind {
	case NumericQuantile:
		k := maxBins - 2
		var thresholds []float64
		if s.numeric != nil && !s.numeric.empty() {
			thresholds = s.numeric.Thresholds(k)
		}
		summary.Thresholds = thresholds
		summary.NumBins = len(thresholds) + 2 // +1 real intervals, +1 for missing bin 0

	case NumericWidth:
		k := maxBins - 1
		var thresholds []float64
		if s.sawAny && s.max > s.min {
			width := (s.max - s.min) / float64(k)
			thresholds = make([]float64, 0, k-1)
			for i := 1; i < k; i++ {
				thresholds = append(thresholds, s.min+width*float64(i))
			}
		}
		summary.Thresholds = thresholds
		summary.NumBins = len(thresholds) + 2

	case Categorical, Rank:
		type kv struct {
			val   float64
			count int64
		}
		entries := make([]kv, 0, len(s.freq))
		for v, n := range s.freq {
			entries = append(entries, kv{v, n})
		}

		if s.kind == Rank {
			sort.Slice(entries, func(i, j int) bool { return entries[i].val < entries[j].val })
		} else {
			sort.Slice(entries, func(i, j int) bool {
				if entries[i].count != entries[j].count {
					return entries[i].count > entries[j].count
				}
				return entries[i].val < entries[j].val
			})
		}

		codes := make(map[float64]uint32, len(entries))
		var catchAll uint32

		topCapacity := maxBins - 1 // bins [1, maxBins-1] available for real codes
		if len(entries) <= topCapacity {
			for i, e := range entries {
				codes[e.val] = uint32(i + 1)
			}
			summary.NumBins = len(entries) + 1
		} else {
			// Reserve the last slot as a shared catch-all for the remainder.
			keep := topCapacity - 1
			if keep < 0 {
				keep = 0
			}
			for i := 0; i < keep; i++ {
				codes[entries[i].val] = uint32(i + 1)
			}
			catchAll = uint32(keep + 1)
			for i := keep; i < len(entries); i++ {
				codes[entries[i].val] = catchAll
			}
			summary.NumBins = keep + 2 // keep real codes + catch-all + missing
		}

		summary.Codes = codes
		summary.CatchAllCode = catchAll
	}

	if summary.NumBins < 1 {
		summary.NumBins = 1
	}
	if summary.NumBins > maxBins {
		summary.NumBins = maxBins
	}

	return summary, 0
}

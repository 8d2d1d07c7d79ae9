package discretize

import "sort"

// quantileSketch is a capacity-bounded sorted-sample summary used to derive
// approximate quantile thresholds for a numeric column without holding every
// observed value in memory. Once the sample exceeds twice its target
// capacity it is halved by keeping every other element in sorted order — a
// greedy merge that trades precision for a fixed memory ceiling, cheap
// enough to run per partition and combine with Merge across a tree-reduce.
type quantileSketch struct {
	capacity int
	samples  []float64
}

func newQuantileSketch(capacity int) *quantileSketch {
	if capacity < 16 {
		capacity = 16
	}
	return &quantileSketch{capacity: capacity}
}

// Add inserts v in sorted position, compacting if the sample has grown too
// large.
func (s *quantileSketch) Add(v float64) {
	i := sort.SearchFloat64s(s.samples, v)
	s.samples = append(s.samples, 0)
	copy(s.samples[i+1:], s.samples[i:])
	s.samples[i] = v

	if len(s.samples) > 2*s.capacity {
		s.compact()
	}
}

// compact halves the sample by dropping every other element, preserving
// sortedness.
func (s *quantileSketch) compact() {
	half := make([]float64, 0, len(s.samples)/2+1)
	for i := 0; i < len(s.samples); i += 2 {
		half = append(half, s.samples[i])
	}
	s.samples = half
}

// Merge absorbs another sketch's samples, used to combine per-partition
// sketches into one tree-global summary.
func (s *quantileSketch) Merge(other *quantileSketch) {
	if other == nil || len(other.samples) == 0 {
		return
	}
	merged := make([]float64, 0, len(s.samples)+len(other.samples))
	i, j := 0, 0
	for i < len(s.samples) && j < len(other.samples) {
		if s.samples[i] <= other.samples[j] {
			merged = append(merged, s.samples[i])
			i++
		} else {
			merged = append(merged, other.samples[j])
			j++
		}
	}
	merged = append(merged, s.samples[i:]...)
	merged = append(merged, other.samples[j:]...)
	s.samples = merged

	for len(s.samples) > 2*s.capacity {
		s.compact()
	}
}

// Thresholds returns k strictly-increasing approximate quantile thresholds
// splitting the sketch's distribution into k+1 roughly equal-mass buckets.
// Returns fewer than k values if the sample has fewer than k+1 distinct
// values.
func (s *quantileSketch) Thresholds(k int) []float64 {
	if k <= 0 || len(s.samples) == 0 {
		return nil
	}

	out := make([]float64, 0, k)
	n := len(s.samples)
	for i := 1; i <= k; i++ {
		pos := float64(i) * float64(n) / float64(k+1)
		idx := int(pos)
		if idx >= n {
			idx = n - 1
		}
		t := s.samples[idx]
		if len(out) == 0 || out[len(out)-1] < t {
			out = append(out, t)
		}
	}
	return out
}

func (s *quantileSketch) empty() bool { return len(s.samples) == 0 }

// Package histogram aggregates per-(feature,bin) gradient/hessian sums for a
// single tree node, the input the split finder scans to pick the best split.
package histogram

import (
	"context"

	"github.com/histoboost/histoboost/internal/binmatrix"
	"github.com/histoboost/histoboost/pkg/parallel"
)

// GradHess is one (gradient-sum, hessian-sum, count) accumulator cell.
type GradHess struct {
	Grad  float64
	Hess  float64
	Count int64
}

// Add accumulates another cell into this one.
func (c *GradHess) Add(o GradHess) {
	c.Grad += o.Grad
	c.Hess += o.Hess
	c.Count += o.Count
}

// Sub removes another cell's contribution from this one (the subtraction
// trick: a sibling node's histogram is its parent's minus the chosen
// child's, avoiding a second full scan).
func (c GradHess) Sub(o GradHess) GradHess {
	return GradHess{Grad: c.Grad - o.Grad, Hess: c.Hess - o.Hess, Count: c.Count - o.Count}
}

// Histogram holds one GradHess cell per (feature, bin) for one tree node.
type Histogram struct {
	numBins []int // numBins[feature] = number of valid bin indices for that feature
	cells   [][]GradHess
}

// New allocates a zero-valued histogram sized by numBinsPerFeature.
func New(numBinsPerFeature []int) *Histogram {
	h := &Histogram{numBins: numBinsPerFeature, cells: make([][]GradHess, len(numBinsPerFeature))}
	for f, n := range numBinsPerFeature {
		h.cells[f] = make([]GradHess, n)
	}
	return h
}

// NumFeatures returns the feature count.
func (h *Histogram) NumFeatures() int { return len(h.cells) }

// At returns the accumulated cell for (feature, bin).
func (h *Histogram) At(feature int, bin uint32) GradHess {
	return h.cells[feature][bin]
}

// add accumulates one (feature, bin, grad, hess) observation.
func (h *Histogram) add(feature int, bin uint32, g, hs float64) {
	c := &h.cells[feature][bin]
	c.Grad += g
	c.Hess += hs
	c.Count++
}

// Merge elementwise-accumulates other into h. Panics if shapes disagree,
// a programmer error since histograms are always built from the same
// numBinsPerFeature within a run.
func (h *Histogram) Merge(other *Histogram) {
	for f := range h.cells {
		row := h.cells[f]
		otherRow := other.cells[f]
		for b := range row {
			row[b].Add(otherRow[b])
		}
	}
}

// Subtract returns a new histogram equal to parent minus child, the
// sibling-by-subtraction trick used once a node's two children have split;
// only the smaller child's histogram needs a direct build.
func Subtract(parent, child *Histogram) *Histogram {
	out := New(parent.numBins)
	for f := range parent.cells {
		for b := range parent.cells[f] {
			out.cells[f][b] = parent.cells[f][b].Sub(child.cells[f][b])
		}
	}
	return out
}

// rowChunks splits rowIDs into roughly equal contiguous chunks, one per
// worker.
func rowChunks(rowIDs []int32, numChunks int) [][]int32 {
	if numChunks < 1 {
		numChunks = 1
	}
	if numChunks > len(rowIDs) {
		numChunks = len(rowIDs)
	}
	if numChunks == 0 {
		return nil
	}
	chunkSize := (len(rowIDs) + numChunks - 1) / numChunks
	chunks := make([][]int32, 0, numChunks)
	for i := 0; i < len(rowIDs); i += chunkSize {
		end := i + chunkSize
		if end > len(rowIDs) {
			end = len(rowIDs)
		}
		chunks = append(chunks, rowIDs[i:end])
	}
	return chunks
}

func buildChunk(rows []int32, bins binmatrix.AnyMatrix, grad, hess []float64, featureSubset []int, numBinsPerFeature []int) *Histogram {
	h := New(numBinsPerFeature)
	for _, r := range rows {
		row := int(r)
		g, hs := grad[row], hess[row]
		for _, f := range featureSubset {
			bin := bins.Get(row, f)
			h.add(f, bin, g, hs)
		}
	}
	return h
}

// treeReduce merges parts into one histogram, fanning in arity-many
// histograms per merge step. A larger arity merges more partials per
// communication round and fewer rounds overall, trading peak memory for
// fewer reduction passes — the knob spec.md's `aggregationDepth` names.
func treeReduce(parts []*Histogram, arity int) *Histogram {
	if len(parts) == 0 {
		return nil
	}
	if arity < 2 {
		arity = 2
	}
	for len(parts) > 1 {
		next := make([]*Histogram, 0, (len(parts)+arity-1)/arity)
		for i := 0; i < len(parts); i += arity {
			end := i + arity
			if end > len(parts) {
				end = len(parts)
			}
			group := parts[i]
			for _, p := range parts[i+1 : end] {
				group.Merge(p)
			}
			next = append(next, group)
		}
		parts = next
	}
	return parts[0]
}

// BuildHorizontal computes a node's histogram by row-partitioning rowIDs
// across workers (each worker sees every feature in featureSubset, a subset
// of rows) and tree-reducing the partials with the given fan-in arity.
func BuildHorizontal(ctx context.Context, rowIDs []int32, bins binmatrix.AnyMatrix, grad, hess []float64, featureSubset []int, numBinsPerFeature []int, aggregationDepth int) *Histogram {
	if len(rowIDs) == 0 {
		return New(numBinsPerFeature)
	}

	workers := parallel.DefaultPoolConfig().MaxWorkers
	chunks := rowChunks(rowIDs, workers)

	partials := parallel.MapReduce(ctx, chunks, parallel.DefaultPoolConfig(),
		func(_ context.Context, chunk []int32) *Histogram {
			return buildChunk(chunk, bins, grad, hess, featureSubset, numBinsPerFeature)
		},
		func(mapped []*Histogram) []*Histogram { return mapped },
	)

	return treeReduce(partials, aggregationDepth)
}

// BuildVertical computes a node's histogram by column-partitioning the
// feature set across workers: each worker owns a disjoint feature subset
// and writes only into its own columns, so no cross-worker summation is
// needed — results are merged by placement, not addition.
func BuildVertical(ctx context.Context, rowIDs []int32, bins binmatrix.AnyMatrix, grad, hess []float64, featurePartitions [][]int, numBinsPerFeature []int) *Histogram {
	out := New(numBinsPerFeature)

	parallel.ForEach(ctx, featurePartitions, parallel.DefaultPoolConfig(),
		func(_ context.Context, owned []int) error {
			for _, r32 := range rowIDs {
				row := int(r32)
				g, hs := grad[row], hess[row]
				for _, f := range owned {
					bin := bins.Get(row, f)
					out.add(f, bin, g, hs)
				}
			}
			return nil
		},
	)

	return out
}

// Package tree grows one histogram-based decision tree via level-wise
// frontier expansion: each level samples columns, builds per-node
// histograms, searches for the best split per node, and routes rows to
// children through a dense row-id-indexed array rather than any physical
// repartitioning.
package tree

import (
	"context"
	"math/rand"
	"sort"

	"go.opentelemetry.io/otel"

	"github.com/histoboost/histoboost/internal/binmatrix"
	"github.com/histoboost/histoboost/internal/histogram"
	"github.com/histoboost/histoboost/internal/split"
	"github.com/histoboost/histoboost/pkg/config"
	"github.com/histoboost/histoboost/pkg/parallel"
)

var tracer = otel.Tracer("histoboost")

// Node is one tree node, leaf or internal. Internal nodes carry enough of
// the committed split to route a row and, later, to persist and reload
// losslessly (internal/modelstore.TreeNodeRow mirrors this shape).
type Node struct {
	ID      int32
	IsLeaf  bool
	Feature int

	SplitKind   split.Kind
	Threshold   uint32
	LeftCodes   map[uint32]bool
	DefaultLeft bool

	Gain  float64
	Left  int32
	Right int32

	LeafValue float64
}

// Tree is a flat node array rooted at index corresponding to ID 0.
type Tree struct {
	Nodes []Node
}

// Predict walks bins from the root and returns the landed leaf's value.
func (t *Tree) Predict(bins []uint32) float64 {
	n := &t.Nodes[0]
	for !n.IsLeaf {
		bin := bins[n.Feature]
		if routesLeft(n, bin) {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n.LeafValue
}

// Leaf walks bins from the root and returns the id of the landed leaf node.
func (t *Tree) Leaf(bins []uint32) int32 {
	n := &t.Nodes[0]
	for !n.IsLeaf {
		bin := bins[n.Feature]
		if routesLeft(n, bin) {
			n = &t.Nodes[n.Left]
		} else {
			n = &t.Nodes[n.Right]
		}
	}
	return n.ID
}

// NumLeaves counts leaf nodes, the one-hot width Leaf() expansion needs.
func (t *Tree) NumLeaves() int {
	n := 0
	for _, node := range t.Nodes {
		if node.IsLeaf {
			n++
		}
	}
	return n
}

// LeafIndex returns the landed leaf's rank among this tree's leaves in
// node-array order (0-based), the compact index a one-hot leaf encoding
// needs instead of the raw, non-contiguous node id.
func (t *Tree) LeafIndex(bins []uint32) int {
	id := t.Leaf(bins)
	rank := 0
	for _, node := range t.Nodes {
		if node.IsLeaf {
			if node.ID == id {
				return rank
			}
			rank++
		}
	}
	return -1
}

func routesLeft(n *Node, bin uint32) bool {
	if bin == 0 {
		return n.DefaultLeft
	}
	if n.SplitKind == split.Categorical {
		return n.LeftCodes[bin]
	}
	return bin < n.Threshold
}

// sampleFeatures picks a deterministic, ascending-sorted subset of
// [0,n) at the given keep ratio. ratio>=1 keeps everything.
func sampleFeatures(n int, ratio float64, rng *rand.Rand) []int {
	if ratio >= 1 || n <= 1 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	k := int(ratio*float64(n) + 0.5)
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	kept := append([]int{}, idx[:k]...)
	sort.Ints(kept)
	return kept
}

// intersect returns elements present in both sorted slices, preserving
// ascending order (and so the split finder's lower-feature-index tie-break).
func intersect(a, b []int) []int {
	set := make(map[int]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	out := make([]int, 0, len(a))
	for _, v := range a {
		if set[v] {
			out = append(out, v)
		}
	}
	return out
}

// isSubset reports whether every element of sub is present in super.
func isSubset(sub, super []int) bool {
	set := make(map[int]bool, len(super))
	for _, v := range super {
		set[v] = true
	}
	for _, v := range sub {
		if !set[v] {
			return false
		}
	}
	return true
}

func leafValue(sum histogram.GradHess, cfg *config.BoostConfig, leafScale float64) float64 {
	denom := sum.Hess + cfg.RegLambda
	if denom <= 0 {
		return 0 // NumericDegenerate: silently demoted, not raised.
	}
	shrunk := sum.Grad
	if shrunk > cfg.RegAlpha {
		shrunk -= cfg.RegAlpha
	} else if shrunk < -cfg.RegAlpha {
		shrunk += cfg.RegAlpha
	} else {
		shrunk = 0
	}
	return -shrunk / denom * leafScale
}

type frontierResult struct {
	nodeID int32
	rows   []int32
	hist   *histogram.Histogram
	best   *split.Split
	sum    histogram.GradHess
}

// Grow builds one tree over rowIDs (already subsampled by the caller per
// subSample/blockSize policy). bins/numBinsPerFeature/featureKinds describe
// the full discretized feature matrix; grad/hess are dense, row-id-indexed
// slices sized to cover every id in rowIDs. leafScale is stepSize for GBTree
// or 1.0 for DART (DART instead rescales the tree's weight post-hoc).
//
// Within each level, exactly one child of every split pair gets its
// histogram built directly; the other (the one with more rows) is derived
// via histogram.Subtract(parentHist, siblingHist) whenever the parent's
// stored histogram covers this level's sampled features, skipping a full
// data pass for it entirely.
func Grow(ctx context.Context, bins binmatrix.AnyMatrix, numBinsPerFeature []int, featureKinds []split.Kind, rowIDs []int32, grad, hess []float64, cfg *config.BoostConfig, rng *rand.Rand, leafScale float64) *Tree {
	numFeatures := len(numBinsPerFeature)
	treeFeatures := sampleFeatures(numFeatures, cfg.ColSampleByTree, rng)

	maxRow := int32(0)
	for _, r := range rowIDs {
		if r > maxRow {
			maxRow = r
		}
	}
	nodeOf := make([]int32, maxRow+1)

	t := &Tree{Nodes: []Node{{ID: 0}}}
	frontier := []int32{0}
	leafCount := 1
	depth := 0

	parentOf := make(map[int32]int32)
	nodeHist := make(map[int32]*histogram.Histogram)
	nodeHistFeatures := make(map[int32][]int)

	for len(frontier) > 0 {
		rowsByNode := make(map[int32][]int32, len(frontier))
		for _, r := range rowIDs {
			n := nodeOf[r]
			rowsByNode[n] = append(rowsByNode[n], r)
		}

		atMaxDepth := depth >= cfg.MaxDepth
		levelFeatures := intersect(treeFeatures, sampleFeatures(numFeatures, cfg.ColSampleByLevel, rng))

		// Pair up this level's siblings and pick, per pair, which child
		// gets a direct build (the one with fewer rows) versus which is
		// derived by subtraction from the parent's stored histogram.
		// Subtraction only applies when that histogram actually covers
		// every feature this level samples; otherwise both siblings fall
		// back to a direct build, same as before this was wired in.
		childrenByParent := make(map[int32][]int32, len(frontier))
		for _, nodeID := range frontier {
			if p, ok := parentOf[nodeID]; ok {
				childrenByParent[p] = append(childrenByParent[p], nodeID)
			}
		}
		derivedFrom := make(map[int32]int32, len(frontier)/2)
		for p, children := range childrenByParent {
			if len(children) != 2 {
				continue
			}
			if _, ok := nodeHist[p]; !ok || !isSubset(levelFeatures, nodeHistFeatures[p]) {
				continue
			}
			direct, derived := children[0], children[1]
			if len(rowsByNode[direct]) > len(rowsByNode[derived]) {
				direct, derived = derived, direct
			}
			derivedFrom[derived] = direct
		}

		var directNodes []int32
		for _, nodeID := range frontier {
			if _, isDerived := derivedFrom[nodeID]; !isDerived {
				directNodes = append(directNodes, nodeID)
			}
		}

		directResults := parallel.MapReduce(ctx, directNodes, parallel.DefaultPoolConfig(),
			func(_ context.Context, nodeID int32) frontierResult {
				rows := rowsByNode[nodeID]
				var sum histogram.GradHess
				for _, r := range rows {
					sum.Add(histogram.GradHess{Grad: grad[r], Hess: hess[r], Count: 1})
				}
				if atMaxDepth || leafCount >= cfg.MaxLeaves || len(levelFeatures) == 0 {
					return frontierResult{nodeID: nodeID, rows: rows, sum: sum}
				}
				reduceCtx, reduceSpan := tracer.Start(ctx, "tree.histogramReduction")
				h := histogram.BuildHorizontal(reduceCtx, rows, bins, grad, hess, levelFeatures, numBinsPerFeature, cfg.AggregationDepth)
				reduceSpan.End()
				best := split.FindBest(h, levelFeatures, numBinsPerFeature, featureKinds, cfg)
				return frontierResult{nodeID: nodeID, rows: rows, hist: h, best: best, sum: sum}
			},
			func(mapped []frontierResult) []frontierResult { return mapped },
		)

		resultByNode := make(map[int32]frontierResult, len(frontier))
		for _, res := range directResults {
			resultByNode[res.nodeID] = res
		}

		for derived, sibling := range derivedFrom {
			rows := rowsByNode[derived]
			var sum histogram.GradHess
			for _, r := range rows {
				sum.Add(histogram.GradHess{Grad: grad[r], Hess: hess[r], Count: 1})
			}
			if atMaxDepth || leafCount >= cfg.MaxLeaves || len(levelFeatures) == 0 {
				resultByNode[derived] = frontierResult{nodeID: derived, rows: rows, sum: sum}
				continue
			}
			_, deriveSpan := tracer.Start(ctx, "tree.histogramDerive")
			parent := parentOf[derived]
			h := histogram.Subtract(nodeHist[parent], resultByNode[sibling].hist)
			deriveSpan.End()
			best := split.FindBest(h, levelFeatures, numBinsPerFeature, featureKinds, cfg)
			resultByNode[derived] = frontierResult{nodeID: derived, rows: rows, hist: h, best: best, sum: sum}
		}

		// Rebuild in frontier order so tree construction below stays
		// deterministic regardless of map iteration order above.
		results := make([]frontierResult, len(frontier))
		for i, nodeID := range frontier {
			results[i] = resultByNode[nodeID]
		}

		var next []int32
		for _, res := range results {
			idx := res.nodeID

			if res.best == nil || leafCount >= cfg.MaxLeaves {
				t.Nodes[idx].IsLeaf = true
				t.Nodes[idx].LeafValue = leafValue(res.sum, cfg, leafScale)
				continue
			}

			leftID := int32(len(t.Nodes))
			rightID := leftID + 1
			// append may reallocate t.Nodes's backing array, so every write
			// below indexes freshly through t.Nodes rather than a pointer
			// captured before this point.
			t.Nodes = append(t.Nodes, Node{ID: leftID}, Node{ID: rightID})
			leafCount++ // splitting one leaf into two nets one new leaf

			t.Nodes[idx].Feature = res.best.Feature
			t.Nodes[idx].SplitKind = res.best.Kind
			t.Nodes[idx].Threshold = res.best.Threshold
			t.Nodes[idx].LeftCodes = res.best.LeftCodes
			t.Nodes[idx].DefaultLeft = res.best.DefaultLeft
			t.Nodes[idx].Gain = res.best.Gain
			t.Nodes[idx].Left = leftID
			t.Nodes[idx].Right = rightID

			for _, r := range res.rows {
				if routesLeft(&t.Nodes[idx], bins.Get(int(r), t.Nodes[idx].Feature)) {
					nodeOf[r] = leftID
				} else {
					nodeOf[r] = rightID
				}
			}

			parentOf[leftID] = idx
			parentOf[rightID] = idx
			nodeHist[idx] = res.hist
			nodeHistFeatures[idx] = levelFeatures

			next = append(next, leftID, rightID)
		}

		frontier = next
		depth++
	}

	return t
}

// Package model is the trained ensemble: a flat, append-only list of trees
// and their weights, each tagged with the output dimension it contributes
// to, plus the prediction, leaf-index, and feature-importance operations
// spec.md §4.7 names.
package model

import (
	"github.com/histoboost/histoboost/internal/tree"
)

// Model is the additive ensemble baseScore + Σ weight_i * tree_i.predict().
// Trees accumulate one boosting iteration at a time; IterationRanges
// records, for each completed iteration, the half-open [start,end) slice of
// tree indices it contributed, so its length is the number of completed
// iterations a continued run resumes from. DART dropout does not use it; it
// samples base models of rawSize consecutive trees.
type Model struct {
	BaseScore       []float64
	Trees           []*tree.Tree
	Weights         []float64
	Outputs         []int
	IterationRanges [][2]int
	NumFeatures     int
}

// New creates an empty model with the given per-output base score.
func New(baseScore []float64, numFeatures int) *Model {
	out := make([]float64, len(baseScore))
	copy(out, baseScore)
	return &Model{BaseScore: out, NumFeatures: numFeatures}
}

// NumOutputs is the objective's rawSize, inferred from BaseScore's length.
func (m *Model) NumOutputs() int { return len(m.BaseScore) }

// NumTrees is the total number of committed trees across every iteration.
func (m *Model) NumTrees() int { return len(m.Trees) }

// AppendIteration commits every tree one boosting round grew, recording the
// [start,end) range those trees occupy in IterationRanges.
func (m *Model) AppendIteration(trees []*tree.Tree, weights []float64, outputs []int) {
	start := len(m.Trees)
	m.Trees = append(m.Trees, trees...)
	m.Weights = append(m.Weights, weights...)
	m.Outputs = append(m.Outputs, outputs...)
	m.IterationRanges = append(m.IterationRanges, [2]int{start, len(m.Trees)})
}

// Predict sums baseScore with the weighted contribution of the first firstN
// trees (in commit order), routed to the output dimension each tree was
// grown for. firstN <= 0 or > NumTrees() means "every committed tree."
func (m *Model) Predict(bins []uint32, firstN int) []float64 {
	n := m.clampFirstN(firstN)
	raw := make([]float64, len(m.BaseScore))
	copy(raw, m.BaseScore)
	for i := 0; i < n; i++ {
		raw[m.Outputs[i]] += m.Weights[i] * m.Trees[i].Predict(bins)
	}
	return raw
}

// PredictBatch runs Predict over every row of a dense bin matrix getter,
// returning one raw-score vector per row.
func (m *Model) PredictBatch(rows [][]uint32, firstN int) [][]float64 {
	out := make([][]float64, len(rows))
	for i, bins := range rows {
		out[i] = m.Predict(bins, firstN)
	}
	return out
}

// Leaf returns the landed leaf node id for every committed tree, and, when
// oneHot is set, a one-hot vector over the cumulative leaf-index space
// (tree 0's leaves first, then tree 1's, ...) suitable for feeding a linear
// model downstream.
func (m *Model) Leaf(bins []uint32, oneHot bool) (ids []int32, encoded []float64) {
	ids = make([]int32, len(m.Trees))
	for i, t := range m.Trees {
		ids[i] = t.Leaf(bins)
	}
	if !oneHot {
		return ids, nil
	}

	total := 0
	for _, t := range m.Trees {
		total += t.NumLeaves()
	}
	encoded = make([]float64, total)
	offset := 0
	for _, t := range m.Trees {
		rank := t.LeafIndex(bins)
		if rank >= 0 {
			encoded[offset+rank] = 1
		}
		offset += t.NumLeaves()
	}
	return ids, encoded
}

// FeatureImportance sums weight*gain over every internal split node of the
// first firstN trees, grouped by feature and normalized to sum to 1 (an
// all-leaf ensemble reports all zeros; firstN <= 0 means every tree, as in
// Predict).
func (m *Model) FeatureImportance(firstN int) []float64 {
	n := m.clampFirstN(firstN)
	importance := make([]float64, m.NumFeatures)
	var total float64
	for i := 0; i < n; i++ {
		w := m.Weights[i]
		for _, node := range m.Trees[i].Nodes {
			if !node.IsLeaf {
				contribution := w * node.Gain
				importance[node.Feature] += contribution
				total += contribution
			}
		}
	}
	if total > 0 {
		for i := range importance {
			importance[i] /= total
		}
	}
	return importance
}

func (m *Model) clampFirstN(firstN int) int {
	if firstN <= 0 || firstN > len(m.Trees) {
		return len(m.Trees)
	}
	return firstN
}

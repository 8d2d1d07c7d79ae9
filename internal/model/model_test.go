package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/histoboost/histoboost/internal/split"
	"github.com/histoboost/histoboost/internal/tree"
)

// stump builds a single-split, two-leaf tree on featureIdx: bin < threshold
// goes left (leafLeft), else right (leafRight). Missing (bin 0) routes left.
func stump(featureIdx int, threshold uint32, leafLeft, leafRight, gain float64) *tree.Tree {
	return &tree.Tree{Nodes: []tree.Node{
		{ID: 0, Feature: featureIdx, SplitKind: split.Numeric, Threshold: threshold, DefaultLeft: true, Gain: gain, Left: 1, Right: 2},
		{ID: 1, IsLeaf: true, LeafValue: leafLeft},
		{ID: 2, IsLeaf: true, LeafValue: leafRight},
	}}
}

func TestPredict_AccumulatesBaseScorePlusWeightedTrees(t *testing.T) {
	m := New([]float64{0.5}, 2)
	m.AppendIteration([]*tree.Tree{stump(0, 3, -1, 1, 2.0)}, []float64{0.1}, []int{0})

	raw := m.Predict([]uint32{1, 0}, 0)
	assert.InDelta(t, 0.5+0.1*-1, raw[0], 1e-12)

	raw = m.Predict([]uint32{5, 0}, 0)
	assert.InDelta(t, 0.5+0.1*1, raw[0], 1e-12)
}

func TestPredict_FirstNLimitsContributingTrees(t *testing.T) {
	m := New([]float64{0}, 1)
	m.AppendIteration([]*tree.Tree{stump(0, 3, -1, 1, 1)}, []float64{1}, []int{0})
	m.AppendIteration([]*tree.Tree{stump(0, 3, -10, 10, 1)}, []float64{1}, []int{0})

	bins := []uint32{5}
	full := m.Predict(bins, 0)
	assert.InDelta(t, 11, full[0], 1e-12)

	partial := m.Predict(bins, 1)
	assert.InDelta(t, 1, partial[0], 1e-12)
}

func TestPredict_MultiOutputRoutesToCorrectColumn(t *testing.T) {
	m := New([]float64{0, 0}, 1)
	m.AppendIteration(
		[]*tree.Tree{stump(0, 3, -1, 1, 1), stump(0, 3, -2, 2, 1)},
		[]float64{1, 1},
		[]int{0, 1},
	)

	raw := m.Predict([]uint32{5}, 0)
	require.Len(t, raw, 2)
	assert.InDelta(t, 1, raw[0], 1e-12)
	assert.InDelta(t, 2, raw[1], 1e-12)
}

func TestLeaf_ReturnsOneIDPerTree(t *testing.T) {
	m := New([]float64{0}, 1)
	m.AppendIteration([]*tree.Tree{stump(0, 3, -1, 1, 1)}, []float64{1}, []int{0})
	m.AppendIteration([]*tree.Tree{stump(0, 3, -1, 1, 1)}, []float64{1}, []int{0})

	ids, encoded := m.Leaf([]uint32{5}, false)
	require.Len(t, ids, 2)
	assert.Nil(t, encoded)
	assert.Equal(t, int32(2), ids[0])
	assert.Equal(t, int32(2), ids[1])
}

func TestLeaf_OneHotEncodesAcrossCumulativeLeafSpace(t *testing.T) {
	m := New([]float64{0}, 1)
	m.AppendIteration([]*tree.Tree{stump(0, 3, -1, 1, 1)}, []float64{1}, []int{0})
	m.AppendIteration([]*tree.Tree{stump(0, 3, -1, 1, 1)}, []float64{1}, []int{0})

	_, encoded := m.Leaf([]uint32{5}, true)
	require.Len(t, encoded, 4) // 2 leaves per tree * 2 trees

	var onCount int
	for _, v := range encoded {
		if v == 1 {
			onCount++
		}
	}
	assert.Equal(t, 2, onCount)
	assert.Equal(t, 1.0, encoded[1]) // right leaf of tree 0
	assert.Equal(t, 1.0, encoded[3]) // right leaf of tree 1
}

func TestFeatureImportance_NormalizesToSumOne(t *testing.T) {
	m := New([]float64{0}, 3)
	m.AppendIteration([]*tree.Tree{stump(0, 3, -1, 1, 4)}, []float64{1}, []int{0})
	m.AppendIteration([]*tree.Tree{stump(1, 3, -1, 1, 1)}, []float64{2}, []int{0})

	importance := m.FeatureImportance(0)
	require.Len(t, importance, 3)
	assert.InDelta(t, 4.0/6.0, importance[0], 1e-9)
	assert.InDelta(t, 2.0/6.0, importance[1], 1e-9)
	assert.InDelta(t, 0, importance[2], 1e-9)

	var sum float64
	for _, v := range importance {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-9)
}

func TestFeatureImportance_AllLeafEnsembleIsAllZero(t *testing.T) {
	m := New([]float64{0}, 2)
	m.AppendIteration([]*tree.Tree{{Nodes: []tree.Node{{ID: 0, IsLeaf: true, LeafValue: 0.3}}}}, []float64{1}, []int{0})

	importance := m.FeatureImportance(0)
	assert.Equal(t, []float64{0, 0}, importance)
}

func TestNumTrees_ReflectsCommittedIterations(t *testing.T) {
	m := New([]float64{0}, 1)
	assert.Equal(t, 0, m.NumTrees())
	m.AppendIteration([]*tree.Tree{stump(0, 3, -1, 1, 1), stump(0, 3, -1, 1, 1)}, []float64{1, 1}, []int{0, 0})
	assert.Equal(t, 2, m.NumTrees())
	assert.Equal(t, [][2]int{{0, 2}}, m.IterationRanges)
}

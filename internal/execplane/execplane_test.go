package execplane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReorganize_ConcatenatesNamedParents(t *testing.T) {
	parents := []Partition{{1, 2}, {3, 4}, {5}}
	out := Reorganize(parents, [][]int{{0, 2}, {1}})
	require.Len(t, out, 2)
	assert.Equal(t, Partition{1, 2, 5}, out[0])
	assert.Equal(t, Partition{3, 4}, out[1])
}

func TestExtendPartitions_CyclesWhenGrowing(t *testing.T) {
	parents := []Partition{{1}, {2}}
	out := ExtendPartitions(parents, 5)
	require.Len(t, out, 5)
	assert.Equal(t, Partition{1}, out[0])
	assert.Equal(t, Partition{2}, out[1])
	assert.Equal(t, Partition{1}, out[2])
	assert.Equal(t, Partition{2}, out[3])
	assert.Equal(t, Partition{1}, out[4])
}

func TestExtendPartitions_TruncatesWhenShrinking(t *testing.T) {
	parents := []Partition{{1}, {2}, {3}}
	out := ExtendPartitions(parents, 2)
	assert.Equal(t, []Partition{{1}, {2}}, out)
}

func TestSamplePartitions_KeepAndDrop(t *testing.T) {
	parents := []Partition{{1, 2, 3}, {4, 5}}
	out := SamplePartitions(parents, []PartitionWeight{Keep, Drop}, 1)
	assert.Equal(t, Partition{1, 2, 3}, out[0])
	assert.Nil(t, out[1])
}

func TestSamplePartitions_FractionalIsReproducibleForFixedSeed(t *testing.T) {
	parents := []Partition{make(Partition, 1000)}
	for i := range parents[0] {
		parents[0][i] = int32(i)
	}
	weights := []PartitionWeight{0.3}
	a := SamplePartitions(parents, weights, 42)
	b := SamplePartitions(parents, weights, 42)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, parents)
}

func TestSampleInstances_RateOneKeepsAll(t *testing.T) {
	p := Partition{1, 2, 3, 4}
	out := SampleInstances(p, 1, 7)
	assert.Equal(t, p, out)
}

func TestSampleInstances_ReproducibleGivenSeed(t *testing.T) {
	p := make(Partition, 500)
	for i := range p {
		p[i] = int32(i)
	}
	a := SampleInstances(p, 0.4, 11)
	b := SampleInstances(p, 0.4, 11)
	assert.Equal(t, a, b)
}

func TestSampleBlocks_KeepsWholeBlocksOnly(t *testing.T) {
	p := make(Partition, 10)
	for i := range p {
		p[i] = int32(i)
	}
	out := SampleBlocks(p, 5, 0, 1) // rate 0 -> every block dropped
	assert.Empty(t, out)

	full := SampleBlocks(p, 5, 1, 1)
	assert.Equal(t, p, full)
}

func TestAllgather_PreservesSourcePartitionThenOrdinalOrder(t *testing.T) {
	parents := []Partition{{10, 11}, {20, 21, 22}}
	out := Allgather(parents, 3)
	require.Len(t, out, 3)
	want := Partition{10, 11, 20, 21, 22}
	for _, dest := range out {
		assert.Equal(t, want, dest)
	}
}

func TestAllgather_DestinationsAreIndependentCopies(t *testing.T) {
	parents := []Partition{{1, 2}}
	out := Allgather(parents, 2)
	out[0][0] = 999
	assert.NotEqual(t, out[0][0], out[1][0])
}

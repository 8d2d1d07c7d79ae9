package boost

import (
	"github.com/histoboost/histoboost/internal/binmatrix"
	"github.com/histoboost/histoboost/internal/split"
)

// Dataset is one discretized, row-major split (train or test) the driver
// trains or evaluates against. Label is rawSize columns, one []float64 of
// length NumRows per output dimension; Weight is an optional per-row
// instance weight (nil means uniform 1).
type Dataset struct {
	Bins              binmatrix.AnyMatrix
	NumBinsPerFeature []int
	FeatureKinds      []split.Kind
	Label             [][]float64
	Weight            []float64
	NumRows           int
}

func (d *Dataset) weightOf(row int) float64 {
	if d.Weight == nil {
		return 1
	}
	return d.Weight[row]
}

// Row returns the discretized bin vector for one row, the shape tree.Grow
// and model.Model.Predict both expect.
func (d *Dataset) Row(row int) []uint32 {
	out := make([]uint32, len(d.NumBinsPerFeature))
	for c := range out {
		out[c] = d.Bins.Get(row, c)
	}
	return out
}

func fullPartition(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}

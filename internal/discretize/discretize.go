// Package discretize converts raw numeric, categorical, and rank columns
// into compact integer bin indices, fitting per-column summaries in one pass
// with a tree-reduce of partial sketches and transforming rows against the
// fitted summaries thereafter.
package discretize

import (
	"math"
	"sort"

	"github.com/histoboost/histoboost/pkg/config"
	"github.com/histoboost/histoboost/pkg/errors"
)

// ColumnKind names how a column's raw values map to bin indices.
type ColumnKind int

const (
	NumericQuantile ColumnKind = iota
	NumericWidth
	Categorical
	Rank
)

// missingBin is reserved for "value absent" or "value unseen during fit"
// uniformly across every column kind; real codes start at 1. The split
// finder (internal/split) treats bin 0 as a universal routing direction
// regardless of a column's kind, so every kind must agree on this reservation.
const missingBin uint32 = 0

// ColumnSummary is the fitted, immutable state for one column: enough to
// transform any future row without re-scanning training data.
type ColumnSummary struct {
	Kind ColumnKind

	// NumericQuantile / NumericWidth
	Thresholds []float64 // strictly increasing t_1 < ... < t_{numBins-2}; bin i+1 = [t_i, t_i+1)

	// Categorical / Rank
	Codes        map[float64]uint32 // raw value -> code in [1, numBins-1]
	CatchAllCode uint32             // 0 if no catch-all bucket was needed

	NumBins       int
	ZeroAsMissing bool
}

// bin maps one raw value to its bin index under this column's fitted
// summary. Values never observed during fit resolve to missingBin.
func (c *ColumnSummary) bin(v float64) uint32 {
	if c.ZeroAsMissing && v == 0 {
		return missingBin
	}
	if math.IsNaN(v) {
		return missingBin
	}

	switch c.Kind {
	case NumericQuantile, NumericWidth:
		idx := sort.Search(len(c.Thresholds), func(i int) bool { return c.Thresholds[i] > v })
		return uint32(idx) + 1
	case Categorical, Rank:
		if code, ok := c.Codes[v]; ok {
			return code
		}
		if c.CatchAllCode != 0 {
			return c.CatchAllCode
		}
		return missingBin
	default:
		return missingBin
	}
}

// columnSparsity reports the fraction of values that route to the missing
// bin under c; Fit stores it in Discretizer.Sparsity.
func columnSparsity(c *ColumnSummary, values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var missing int64
	for _, v := range values {
		if c.bin(v) == missingBin {
			missing++
		}
	}
	return float64(missing) / float64(len(values))
}

// Discretizer holds one fitted ColumnSummary per column.
type Discretizer struct {
	Columns  []ColumnSummary
	Sparsity []float64
}

// NumCols returns the fitted column count.
func (d *Discretizer) NumCols() int { return len(d.Columns) }

// MaxNumBins returns the largest numBins across all columns, the value that
// determines the bin-index width of any matrix built against this
// discretizer (internal/binmatrix.WidthFor).
func (d *Discretizer) MaxNumBins() int {
	max := 0
	for _, c := range d.Columns {
		if c.NumBins > max {
			max = c.NumBins
		}
	}
	return max
}

// Transform discretizes one row into bin indices, returning a ShapeMismatch
// error if the row width disagrees with the fitted column count.
func (d *Discretizer) Transform(row []float64) ([]uint32, error) {
	if len(row) != len(d.Columns) {
		return nil, errors.New(errors.CodeShapeMismatch, "discretize: row width disagrees with discretizer")
	}
	out := make([]uint32, len(row))
	for i, v := range row {
		out[i] = d.Columns[i].bin(v)
	}
	return out, nil
}

// Fit fits a discretizer over columnar data: columns[c] holds every observed
// value for column c across the whole (in-process-simulated) partitioned
// dataset. kinds[c] selects how column c is discretized.
func Fit(columns [][]float64, kinds []ColumnKind, cfg *config.BoostConfig) (*Discretizer, error) {
	if len(columns) != len(kinds) {
		return nil, errors.New(errors.CodeShapeMismatch, "discretize: columns/kinds length mismatch")
	}

	d := &Discretizer{
		Columns:  make([]ColumnSummary, len(columns)),
		Sparsity: make([]float64, len(columns)),
	}

	for c := range columns {
		sketch := fitPartial(columns[c], kinds[c], cfg)
		summary, _ := finalize(sketch, cfg)
		d.Columns[c] = summary
		d.Sparsity[c] = columnSparsity(&summary, columns[c])
	}

	return d, nil
}

// PartitionSketch is a per-partition, per-column partial summary. A caller
// that splits fit across partitions builds one per (partition, column),
// combines them with MergeSketches, and finalizes once.
type PartitionSketch struct {
	sketch *columnSketch
}

// FitPartition scans one partition's observed values for a single column
// and returns its partial sketch.
func FitPartition(values []float64, kind ColumnKind, cfg *config.BoostConfig) PartitionSketch {
	return PartitionSketch{sketch: fitPartial(values, kind, cfg)}
}

// MergeSketches tree-reduces a column's per-partition sketches into one.
func MergeSketches(parts []PartitionSketch, kind ColumnKind, cfg *config.BoostConfig) PartitionSketch {
	combined := newColumnSketch(kind, cfg)
	for _, p := range parts {
		combined.merge(p.sketch)
	}
	return PartitionSketch{sketch: combined}
}

// FinalizeColumn turns a merged sketch into its fitted ColumnSummary.
func FinalizeColumn(merged PartitionSketch, cfg *config.BoostConfig) ColumnSummary {
	summary, _ := finalize(merged.sketch, cfg)
	return summary
}

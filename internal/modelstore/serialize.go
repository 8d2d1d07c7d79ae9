package modelstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/histoboost/histoboost/internal/discretize"
	"github.com/histoboost/histoboost/internal/model"
	"github.com/histoboost/histoboost/internal/split"
	"github.com/histoboost/histoboost/internal/tree"
)

// codePair is the wire shape for a discretize.ColumnSummary.Codes entry:
// map[float64]uint32 can't round-trip through encoding/json directly (its
// keys aren't strings), so codes are flattened to a slice of pairs.
type codePair struct {
	Value float64 `json:"value"`
	Code  uint32  `json:"code"`
}

type columnPayload struct {
	Thresholds    []float64  `json:"thresholds,omitempty"`
	Codes         []codePair `json:"codes,omitempty"`
	CatchAllCode  uint32     `json:"catch_all_code"`
	ZeroAsMissing bool       `json:"zero_as_missing"`
}

func kindToString(k discretize.ColumnKind) string {
	switch k {
	case discretize.NumericQuantile:
		return "numeric_quantile"
	case discretize.NumericWidth:
		return "numeric_width"
	case discretize.Categorical:
		return "categorical"
	case discretize.Rank:
		return "rank"
	default:
		return "numeric_quantile"
	}
}

func kindFromString(s string) discretize.ColumnKind {
	switch s {
	case "numeric_width":
		return discretize.NumericWidth
	case "categorical":
		return discretize.Categorical
	case "rank":
		return discretize.Rank
	default:
		return discretize.NumericQuantile
	}
}

// SaveDiscretizer persists every fitted column summary under runID.
func SaveDiscretizer(ctx context.Context, store *Store, runID string, d *discretize.Discretizer) error {
	rows := make([]DiscretizerColumnRow, len(d.Columns))
	for i, col := range d.Columns {
		payload := columnPayload{
			Thresholds:    col.Thresholds,
			CatchAllCode:  col.CatchAllCode,
			ZeroAsMissing: col.ZeroAsMissing,
		}
		for v, code := range col.Codes {
			payload.Codes = append(payload.Codes, codePair{Value: v, Code: code})
		}
		blob, err := ToJSONField(payload)
		if err != nil {
			return fmt.Errorf("modelstore: encode column %d: %w", i, err)
		}
		sparsity := 0.0
		if i < len(d.Sparsity) {
			sparsity = d.Sparsity[i]
		}
		rows[i] = DiscretizerColumnRow{
			RunID:      runID,
			ColumnID:   i,
			Kind:       kindToString(col.Kind),
			Thresholds: blob,
			NumBins:    col.NumBins,
			Sparsity:   sparsity,
		}
	}
	return store.Discretizer.SaveColumns(ctx, runID, rows)
}

// LoadDiscretizer reconstructs a Discretizer from its persisted columns.
func LoadDiscretizer(ctx context.Context, store *Store, runID string) (*discretize.Discretizer, error) {
	rows, err := store.Discretizer.LoadColumns(ctx, runID)
	if err != nil {
		return nil, err
	}
	d := &discretize.Discretizer{
		Columns:  make([]discretize.ColumnSummary, len(rows)),
		Sparsity: make([]float64, len(rows)),
	}
	for _, row := range rows {
		if row.ColumnID < 0 || row.ColumnID >= len(rows) {
			return nil, fmt.Errorf("modelstore: column_id %d out of range", row.ColumnID)
		}
		var payload columnPayload
		if err := row.Thresholds.MarshalTo(&payload); err != nil {
			return nil, fmt.Errorf("modelstore: decode column %d: %w", row.ColumnID, err)
		}
		codes := make(map[float64]uint32, len(payload.Codes))
		for _, p := range payload.Codes {
			codes[p.Value] = p.Code
		}
		d.Columns[row.ColumnID] = discretize.ColumnSummary{
			Kind:          kindFromString(row.Kind),
			Thresholds:    payload.Thresholds,
			Codes:         codes,
			CatchAllCode:  payload.CatchAllCode,
			NumBins:       row.NumBins,
			ZeroAsMissing: payload.ZeroAsMissing,
		}
		d.Sparsity[row.ColumnID] = row.Sparsity
	}
	return d, nil
}

type splitPayload struct {
	Threshold uint32   `json:"threshold,omitempty"`
	LeftCodes []uint32 `json:"left_codes,omitempty"`
}

func splitKindToString(k split.Kind) string {
	if k == split.Categorical {
		return "categorical"
	}
	return "numeric"
}

func splitKindFromString(s string) split.Kind {
	if s == "categorical" {
		return split.Categorical
	}
	return split.Numeric
}

func defaultDirString(left bool) string {
	if left {
		return "left"
	}
	return "right"
}

// SaveModel persists every committed tree, its weight and output column,
// and the base-score/iteration-range bookkeeping a resumed run needs.
func SaveModel(ctx context.Context, store *Store, runID string, m *model.Model) error {
	weightRows := make([]TreeWeightRow, len(m.Trees))
	for i := range m.Trees {
		weightRows[i] = TreeWeightRow{RunID: runID, TreeIndex: i, Weight: m.Weights[i]}
	}
	if err := store.Weights.SaveWeights(ctx, runID, weightRows); err != nil {
		return fmt.Errorf("modelstore: save weights: %w", err)
	}

	for i, t := range m.Trees {
		nodeRows := make([]TreeNodeRow, len(t.Nodes))
		for j, n := range t.Nodes {
			var payload splitPayload
			if !n.IsLeaf {
				payload.Threshold = n.Threshold
				for code, in := range n.LeftCodes {
					if in {
						payload.LeftCodes = append(payload.LeftCodes, code)
					}
				}
			}
			blob, err := ToJSONField(payload)
			if err != nil {
				return fmt.Errorf("modelstore: encode tree %d node %d: %w", i, j, err)
			}
			nodeRows[j] = TreeNodeRow{
				RunID:        runID,
				TreeIndex:    i,
				NodeID:       int(n.ID),
				IsLeaf:       n.IsLeaf,
				FeatureID:    n.Feature,
				SplitKind:    splitKindToString(n.SplitKind),
				SplitPayload: blob,
				Gain:         n.Gain,
				LeftID:       int(n.Left),
				RightID:      int(n.Right),
				DefaultDir:   defaultDirString(n.DefaultLeft),
				LeafValue:    n.LeafValue,
			}
		}
		if err := store.Trees.SaveTree(ctx, runID, i, nodeRows); err != nil {
			return fmt.Errorf("modelstore: save tree %d: %w", i, err)
		}
		if err := store.Extra.Put(ctx, runID, outputKey(i), strconv.Itoa(m.Outputs[i])); err != nil {
			return fmt.Errorf("modelstore: save output column for tree %d: %w", i, err)
		}
	}

	baseScore, err := ToJSONField(m.BaseScore)
	if err != nil {
		return fmt.Errorf("modelstore: encode base score: %w", err)
	}
	if err := store.Extra.Put(ctx, runID, "base_score", string(baseScore)); err != nil {
		return fmt.Errorf("modelstore: save base score: %w", err)
	}
	ranges, err := ToJSONField(m.IterationRanges)
	if err != nil {
		return fmt.Errorf("modelstore: encode iteration ranges: %w", err)
	}
	if err := store.Extra.Put(ctx, runID, "iteration_ranges", string(ranges)); err != nil {
		return fmt.Errorf("modelstore: save iteration ranges: %w", err)
	}
	return nil
}

func outputKey(treeIndex int) string {
	return fmt.Sprintf("tree_output_%d", treeIndex)
}

// LoadModel reconstructs a model.Model from its persisted tables.
func LoadModel(ctx context.Context, store *Store, runID string, numFeatures int) (*model.Model, error) {
	weightRows, err := store.Weights.LoadWeights(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("modelstore: load weights: %w", err)
	}
	allNodes, err := store.Trees.LoadAllTrees(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("modelstore: load trees: %w", err)
	}

	var baseScoreJSON string
	if raw, ok, err := store.Extra.Get(ctx, runID, "base_score"); err != nil {
		return nil, fmt.Errorf("modelstore: load base score: %w", err)
	} else if ok {
		baseScoreJSON = raw
	}
	var baseScore []float64
	if baseScoreJSON != "" {
		if err := JSONField(baseScoreJSON).MarshalTo(&baseScore); err != nil {
			return nil, fmt.Errorf("modelstore: decode base score: %w", err)
		}
	}

	m := model.New(baseScore, numFeatures)
	m.Trees = make([]*tree.Tree, len(weightRows))
	m.Weights = make([]float64, len(weightRows))
	m.Outputs = make([]int, len(weightRows))

	seen := make([]bool, len(weightRows))
	for _, wr := range weightRows {
		if wr.TreeIndex < 0 || wr.TreeIndex >= len(weightRows) {
			return nil, fmt.Errorf("modelstore: tree_index %d out of range", wr.TreeIndex)
		}
		if seen[wr.TreeIndex] {
			return nil, fmt.Errorf("modelstore: duplicate tree_index %d", wr.TreeIndex)
		}
		seen[wr.TreeIndex] = true
		m.Weights[wr.TreeIndex] = wr.Weight

		nodeRows := allNodes[wr.TreeIndex]
		nodes := make([]tree.Node, len(nodeRows))
		for _, nr := range nodeRows {
			var payload splitPayload
			if err := nr.SplitPayload.MarshalTo(&payload); err != nil {
				return nil, fmt.Errorf("modelstore: decode tree %d node %d: %w", wr.TreeIndex, nr.NodeID, err)
			}
			leftCodes := map[uint32]bool(nil)
			if len(payload.LeftCodes) > 0 {
				leftCodes = make(map[uint32]bool, len(payload.LeftCodes))
				for _, c := range payload.LeftCodes {
					leftCodes[c] = true
				}
			}
			nodes[nr.NodeID] = tree.Node{
				ID:          int32(nr.NodeID),
				IsLeaf:      nr.IsLeaf,
				Feature:     nr.FeatureID,
				SplitKind:   splitKindFromString(nr.SplitKind),
				Threshold:   payload.Threshold,
				LeftCodes:   leftCodes,
				DefaultLeft: nr.DefaultDir == "left",
				Gain:        nr.Gain,
				Left:        int32(nr.LeftID),
				Right:       int32(nr.RightID),
				LeafValue:   nr.LeafValue,
			}
		}
		m.Trees[wr.TreeIndex] = &tree.Tree{Nodes: nodes}

		outStr, ok, err := store.Extra.Get(ctx, runID, outputKey(wr.TreeIndex))
		if err != nil {
			return nil, fmt.Errorf("modelstore: load output column for tree %d: %w", wr.TreeIndex, err)
		}
		if ok {
			o, err := strconv.Atoi(outStr)
			if err != nil {
				return nil, fmt.Errorf("modelstore: parse output column for tree %d: %w", wr.TreeIndex, err)
			}
			m.Outputs[wr.TreeIndex] = o
		}
	}

	// Bounds plus uniqueness already force coverage by pigeonhole, but this
	// stays explicit so a future relaxation of either check can't silently
	// reintroduce a nil m.Trees[i] that panics on the next Predict/Leaf call.
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("modelstore: tree_index set has gap at %d, expected contiguous [0, %d)", i, len(weightRows))
		}
	}

	if raw, ok, err := store.Extra.Get(ctx, runID, "iteration_ranges"); err != nil {
		return nil, fmt.Errorf("modelstore: load iteration ranges: %w", err)
	} else if ok {
		if err := JSONField(raw).MarshalTo(&m.IterationRanges); err != nil {
			return nil, fmt.Errorf("modelstore: decode iteration ranges: %w", err)
		}
	}

	return m, nil
}

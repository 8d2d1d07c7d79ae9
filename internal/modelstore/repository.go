package modelstore

import "context"

// DiscretizerRepository persists and reloads fitted column summaries.
type DiscretizerRepository interface {
	SaveColumns(ctx context.Context, runID string, columns []DiscretizerColumnRow) error
	LoadColumns(ctx context.Context, runID string) ([]DiscretizerColumnRow, error)
}

// WeightRepository persists and reloads per-tree ensemble weights.
type WeightRepository interface {
	SaveWeights(ctx context.Context, runID string, weights []TreeWeightRow) error
	AppendWeight(ctx context.Context, runID string, treeIndex int, weight float64) error
	RescaleWeights(ctx context.Context, runID string, treeIndices []int, factor float64) error
	LoadWeights(ctx context.Context, runID string) ([]TreeWeightRow, error)
}

// TreeRepository persists and reloads tree node arrays.
type TreeRepository interface {
	SaveTree(ctx context.Context, runID string, treeIndex int, nodes []TreeNodeRow) error
	LoadTree(ctx context.Context, runID string, treeIndex int) ([]TreeNodeRow, error)
	LoadAllTrees(ctx context.Context, runID string) (map[int][]TreeNodeRow, error)
	CountTrees(ctx context.Context, runID string) (int, error)
}

// ExtraRepository persists and reloads free-form (key, value) metadata,
// including the serialized baseScore vector.
type ExtraRepository interface {
	Put(ctx context.Context, runID string, key string, value string) error
	Get(ctx context.Context, runID string, key string) (string, bool, error)
	All(ctx context.Context, runID string) (map[string]string, error)
}

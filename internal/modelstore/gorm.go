package modelstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormDiscretizerRepository implements DiscretizerRepository using GORM.
type GormDiscretizerRepository struct {
	db *gorm.DB
}

// NewGormDiscretizerRepository creates a new GormDiscretizerRepository.
func NewGormDiscretizerRepository(db *gorm.DB) *GormDiscretizerRepository {
	return &GormDiscretizerRepository{db: db}
}

// SaveColumns replaces a run's column summaries with a fresh batch.
func (r *GormDiscretizerRepository) SaveColumns(ctx context.Context, runID string, columns []DiscretizerColumnRow) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&DiscretizerColumnRow{}).Error; err != nil {
			return fmt.Errorf("modelstore: clear discretizer columns: %w", err)
		}
		for i := range columns {
			columns[i].RunID = runID
		}
		if len(columns) == 0 {
			return nil
		}
		if err := tx.Create(&columns).Error; err != nil {
			return fmt.Errorf("modelstore: insert discretizer columns: %w", err)
		}
		return nil
	})
}

// LoadColumns retrieves every column summary for a run, ordered by column id.
func (r *GormDiscretizerRepository) LoadColumns(ctx context.Context, runID string) ([]DiscretizerColumnRow, error) {
	var rows []DiscretizerColumnRow
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("column_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("modelstore: load discretizer columns: %w", err)
	}
	return rows, nil
}

// GormWeightRepository implements WeightRepository using GORM.
type GormWeightRepository struct {
	db *gorm.DB
}

// NewGormWeightRepository creates a new GormWeightRepository.
func NewGormWeightRepository(db *gorm.DB) *GormWeightRepository {
	return &GormWeightRepository{db: db}
}

// SaveWeights replaces a run's weight vector wholesale.
func (r *GormWeightRepository) SaveWeights(ctx context.Context, runID string, weights []TreeWeightRow) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", runID).Delete(&TreeWeightRow{}).Error; err != nil {
			return fmt.Errorf("modelstore: clear weights: %w", err)
		}
		for i := range weights {
			weights[i].RunID = runID
		}
		if len(weights) == 0 {
			return nil
		}
		if err := tx.Create(&weights).Error; err != nil {
			return fmt.Errorf("modelstore: insert weights: %w", err)
		}
		return nil
	})
}

// AppendWeight adds a single new tree's weight, append-only as §3 requires.
func (r *GormWeightRepository) AppendWeight(ctx context.Context, runID string, treeIndex int, weight float64) error {
	row := TreeWeightRow{RunID: runID, TreeIndex: treeIndex, Weight: weight}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("modelstore: append weight: %w", err)
	}
	return nil
}

// RescaleWeights multiplies the weights of the named trees by factor, used
// for DART's dropped-tree rescaling.
func (r *GormWeightRepository) RescaleWeights(ctx context.Context, runID string, treeIndices []int, factor float64) error {
	if len(treeIndices) == 0 {
		return nil
	}
	result := r.db.WithContext(ctx).
		Model(&TreeWeightRow{}).
		Where("run_id = ? AND tree_index IN ?", runID, treeIndices).
		Update("weight", gorm.Expr("weight * ?", factor))
	if result.Error != nil {
		return fmt.Errorf("modelstore: rescale weights: %w", result.Error)
	}
	return nil
}

// LoadWeights retrieves a run's weight vector ordered by tree index.
func (r *GormWeightRepository) LoadWeights(ctx context.Context, runID string) ([]TreeWeightRow, error) {
	var rows []TreeWeightRow
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("tree_index ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("modelstore: load weights: %w", err)
	}
	return rows, nil
}

// GormTreeRepository implements TreeRepository using GORM.
type GormTreeRepository struct {
	db *gorm.DB
}

// NewGormTreeRepository creates a new GormTreeRepository.
func NewGormTreeRepository(db *gorm.DB) *GormTreeRepository {
	return &GormTreeRepository{db: db}
}

// SaveTree inserts a tree's full node array. Trees are append-only; an
// existing tree_index is never resaved.
func (r *GormTreeRepository) SaveTree(ctx context.Context, runID string, treeIndex int, nodes []TreeNodeRow) error {
	for i := range nodes {
		nodes[i].RunID = runID
		nodes[i].TreeIndex = treeIndex
	}
	if len(nodes) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&nodes).Error; err != nil {
		return fmt.Errorf("modelstore: save tree %d: %w", treeIndex, err)
	}
	return nil
}

// LoadTree retrieves one tree's node array ordered by level-order node id.
func (r *GormTreeRepository) LoadTree(ctx context.Context, runID string, treeIndex int) ([]TreeNodeRow, error) {
	var rows []TreeNodeRow
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND tree_index = ?", runID, treeIndex).
		Order("node_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("modelstore: load tree %d: %w", treeIndex, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("modelstore: tree not found: run=%s index=%d", runID, treeIndex)
	}
	return rows, nil
}

// LoadAllTrees retrieves every tree in a run, grouped by tree index.
func (r *GormTreeRepository) LoadAllTrees(ctx context.Context, runID string) (map[int][]TreeNodeRow, error) {
	var rows []TreeNodeRow
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("tree_index ASC, node_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("modelstore: load all trees: %w", err)
	}

	out := make(map[int][]TreeNodeRow)
	for _, row := range rows {
		out[row.TreeIndex] = append(out[row.TreeIndex], row)
	}
	return out, nil
}

// CountTrees returns the number of distinct trees persisted for a run.
func (r *GormTreeRepository) CountTrees(ctx context.Context, runID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&TreeNodeRow{}).
		Where("run_id = ?", runID).
		Distinct("tree_index").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("modelstore: count trees: %w", err)
	}
	return int(count), nil
}

// GormExtraRepository implements ExtraRepository using GORM.
type GormExtraRepository struct {
	db *gorm.DB
}

// NewGormExtraRepository creates a new GormExtraRepository.
func NewGormExtraRepository(db *gorm.DB) *GormExtraRepository {
	return &GormExtraRepository{db: db}
}

// Put upserts a (key, value) pair for a run.
func (r *GormExtraRepository) Put(ctx context.Context, runID string, key string, value string) error {
	row := ExtraKVRow{RunID: runID, Key: key, Value: value}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("modelstore: put extra kv: %w", err)
	}
	return nil
}

// Get retrieves a single (key, value) pair for a run.
func (r *GormExtraRepository) Get(ctx context.Context, runID string, key string) (string, bool, error) {
	var row ExtraKVRow
	err := r.db.WithContext(ctx).
		Where("run_id = ? AND key = ?", runID, key).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("modelstore: get extra kv: %w", err)
	}
	return row.Value, true, nil
}

// All retrieves every (key, value) pair for a run.
func (r *GormExtraRepository) All(ctx context.Context, runID string) (map[string]string, error) {
	var rows []ExtraKVRow
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("modelstore: list extra kv: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

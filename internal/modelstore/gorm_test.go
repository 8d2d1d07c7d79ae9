package modelstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestGormDiscretizerRepository_SaveAndLoad(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormDiscretizerRepository(db)
	ctx := context.Background()

	thresholds, err := ToJSONField([]float64{0.1, 0.5, 0.9})
	require.NoError(t, err)

	cols := []DiscretizerColumnRow{
		{ColumnID: 1, Kind: "numeric_quantile", Thresholds: thresholds, NumBins: 4},
		{ColumnID: 0, Kind: "categorical", NumBins: 8},
	}
	require.NoError(t, repo.SaveColumns(ctx, "run-1", cols))

	loaded, err := repo.LoadColumns(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 0, loaded[0].ColumnID)
	assert.Equal(t, 1, loaded[1].ColumnID)

	var decoded []float64
	require.NoError(t, loaded[1].Thresholds.MarshalTo(&decoded))
	assert.Equal(t, []float64{0.1, 0.5, 0.9}, decoded)
}

func TestGormDiscretizerRepository_SaveReplacesPriorBatch(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormDiscretizerRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.SaveColumns(ctx, "run-1", []DiscretizerColumnRow{{ColumnID: 0, NumBins: 4}}))
	require.NoError(t, repo.SaveColumns(ctx, "run-1", []DiscretizerColumnRow{{ColumnID: 0, NumBins: 8}}))

	loaded, err := repo.LoadColumns(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 8, loaded[0].NumBins)
}

func TestGormWeightRepository_AppendAndRescale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormWeightRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.AppendWeight(ctx, "run-2", 0, 1.0))
	require.NoError(t, repo.AppendWeight(ctx, "run-2", 1, 1.0))
	require.NoError(t, repo.AppendWeight(ctx, "run-2", 2, 0.2))

	require.NoError(t, repo.RescaleWeights(ctx, "run-2", []int{0, 1}, 0.5))

	loaded, err := repo.LoadWeights(ctx, "run-2")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, 0.5, loaded[0].Weight)
	assert.Equal(t, 0.5, loaded[1].Weight)
	assert.Equal(t, 0.2, loaded[2].Weight)
}

func TestGormTreeRepository_SaveLoadAndCount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormTreeRepository(db)
	ctx := context.Background()

	nodes := []TreeNodeRow{
		{NodeID: 0, IsLeaf: false, FeatureID: 3, SplitKind: "numeric", LeftID: 1, RightID: 2},
		{NodeID: 1, IsLeaf: true, LeafValue: 0.25},
		{NodeID: 2, IsLeaf: true, LeafValue: -0.1},
	}
	require.NoError(t, repo.SaveTree(ctx, "run-3", 0, nodes))

	loaded, err := repo.LoadTree(ctx, "run-3", 0)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, 0, loaded[0].NodeID)

	_, err = repo.LoadTree(ctx, "run-3", 1)
	assert.Error(t, err)

	require.NoError(t, repo.SaveTree(ctx, "run-3", 1, []TreeNodeRow{{NodeID: 0, IsLeaf: true, LeafValue: 0.1}}))

	count, err := repo.CountTrees(ctx, "run-3")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	all, err := repo.LoadAllTrees(ctx, "run-3")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Len(t, all[0], 3)
}

func TestGormExtraRepository_PutGetAll(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormExtraRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "run-4", "baseScore", "[0.5]"))
	require.NoError(t, repo.Put(ctx, "run-4", "baseScore", "[0.7]"))

	value, ok, err := repo.Get(ctx, "run-4", "baseScore")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[0.7]", value)

	_, ok, err = repo.Get(ctx, "run-4", "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := repo.All(ctx, "run-4")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"baseScore": "[0.7]"}, all)
}

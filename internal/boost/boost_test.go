package boost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/histoboost/histoboost/internal/binmatrix"
	"github.com/histoboost/histoboost/internal/eval"
	"github.com/histoboost/histoboost/internal/model"
	"github.com/histoboost/histoboost/internal/objective"
	"github.com/histoboost/histoboost/internal/split"
	"github.com/histoboost/histoboost/pkg/config"
)

func testCfg() *config.BoostConfig {
	cfg := config.Default()
	cfg.MaxIter = 5
	cfg.MaxDepth = 3
	cfg.MinGain = 1e-6
	cfg.CheckpointInterval = -1
	return &cfg
}

// buildDataset lays out a single numeric feature (bin 1 = "low", bin 2 =
// "high") against the given labels.
func buildDataset(feature0 []uint32, label []float64) *Dataset {
	bins := binmatrix.NewForMaxBins(3, len(feature0), 1)
	for r, b := range feature0 {
		bins.Set(r, 0, b)
	}
	return &Dataset{
		Bins:              bins,
		NumBinsPerFeature: []int{3},
		FeatureKinds:      []split.Kind{split.Numeric},
		Label:             [][]float64{label},
		NumRows:           len(feature0),
	}
}

func TestTrain_GBTreeFitsSeparableRegressionData(t *testing.T) {
	cfg := testCfg()
	cfg.BoostType = config.BoostTypeGBTree
	cfg.StepSize = 0.3
	ds := buildDataset(
		[]uint32{1, 1, 1, 2, 2, 2},
		[]float64{-3, -3, -3, 3, 3, 3},
	)

	m, trainHistory, testHistory, err := Train(context.Background(), &TrainConfig{
		Cfg:        cfg,
		Objective:  objective.MSE{},
		Train:      ds,
		Evaluators: []EvaluatorFactory{func() eval.Evaluator { return eval.NewRMSE() }},
	})
	require.NoError(t, err)
	assert.Nil(t, testHistory)
	require.Len(t, trainHistory, cfg.MaxIter)

	lowPred := m.Predict([]uint32{1}, 0)[0]
	highPred := m.Predict([]uint32{2}, 0)[0]
	assert.Less(t, lowPred, 0.0)
	assert.Greater(t, highPred, 0.0)

	// RMSE should trend downward as boosting proceeds.
	assert.Less(t, trainHistory[cfg.MaxIter-1]["rmse"], trainHistory[0]["rmse"])
}

func TestTrain_LogisticObjectiveSeparatesClasses(t *testing.T) {
	cfg := testCfg()
	cfg.MaxIter = 8
	cfg.StepSize = 0.5
	ds := buildDataset(
		[]uint32{1, 1, 1, 2, 2, 2},
		[]float64{0, 0, 0, 1, 1, 1},
	)

	m, trainHistory, _, err := Train(context.Background(), &TrainConfig{
		Cfg:        cfg,
		Objective:  objective.Logistic{},
		Train:      ds,
		Evaluators: []EvaluatorFactory{func() eval.Evaluator { return eval.NewErrorRate(0.5) }},
	})
	require.NoError(t, err)

	score := objective.Logistic{}.Transform(m.Predict([]uint32{2}, 0))[0]
	assert.Greater(t, score, 0.5)
	assert.Equal(t, 0.0, trainHistory[len(trainHistory)-1]["error"])
}

func TestTrain_DARTReweightsDroppedAndNewTreesPerFormula(t *testing.T) {
	cfg := testCfg()
	cfg.BoostType = config.BoostTypeDART
	cfg.MaxIter = 2
	cfg.StepSize = 0.2
	cfg.DropSkip = 0 // always attempt dropout
	cfg.DropRate = 1
	cfg.MinDrop = 1
	cfg.MaxDrop = 10
	ds := buildDataset(
		[]uint32{1, 1, 2, 2},
		[]float64{-1, -1, 1, 1},
	)

	m, _, _, err := Train(context.Background(), &TrainConfig{
		Cfg:       cfg,
		Objective: objective.MSE{},
		Train:     ds,
	})
	require.NoError(t, err)
	require.Equal(t, 2, m.NumTrees())

	// Iteration 1 has no prior base models, so no dropout can occur yet:
	// new tree weight must be exactly 1.
	assert.InDelta(t, 1.0, m.Weights[0], 1e-12)

	// Iteration 2 has 1 prior base model, dropRate=1 and dropSkip=0 force
	// it dropped: k=1, new weight = 1/(1+stepSize), old tree rescaled by
	// k/(k+stepSize).
	k := 1.0
	wantNew := 1 / (k + cfg.StepSize)
	wantOld := k / (k + cfg.StepSize) * 1.0
	assert.InDelta(t, wantNew, m.Weights[1], 1e-12)
	assert.InDelta(t, wantOld, m.Weights[0], 1e-12)
}

func TestTrain_SubSampleOneIsSeedIndependent(t *testing.T) {
	ds := buildDataset(
		[]uint32{1, 1, 1, 2, 2, 2},
		[]float64{-3, -3, -3, 3, 3, 3},
	)

	run := func(seed int64) *model.Model {
		cfg := testCfg()
		cfg.Seed = seed
		cfg.SubSample = 1
		cfg.ColSampleByTree = 1
		cfg.ColSampleByLevel = 1
		m, _, _, err := Train(context.Background(), &TrainConfig{
			Cfg: cfg, Objective: objective.MSE{}, Train: ds,
		})
		require.NoError(t, err)
		return m
	}

	a := run(1)
	b := run(99)

	require.Equal(t, a.NumTrees(), b.NumTrees())
	for i := range a.Trees {
		assert.Equal(t, a.Trees[i].Nodes, b.Trees[i].Nodes)
		assert.Equal(t, a.Weights[i], b.Weights[i])
	}
}

func TestTrain_CallbackStopsEarly(t *testing.T) {
	cfg := testCfg()
	cfg.MaxIter = 5
	ds := buildDataset([]uint32{1, 1, 2, 2}, []float64{-1, -1, 1, 1})

	calls := 0
	m, trainHistory, _, err := Train(context.Background(), &TrainConfig{
		Cfg:       cfg,
		Objective: objective.MSE{},
		Train:     ds,
		Callback: func(_ *config.BoostConfig, _ *model.Model, iteration int, _, _ []map[string]float64) bool {
			calls++
			return iteration >= 2
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, trainHistory, 2)
	assert.Equal(t, 2, m.NumTrees())
}

func TestTrain_AllEmptyIterationTerminatesGracefully(t *testing.T) {
	cfg := testCfg()
	cfg.MinGain = 1e9 // no split can ever clear this bar
	ds := buildDataset([]uint32{1, 1, 2, 2}, []float64{-1, -1, 1, 1})

	m, trainHistory, _, err := Train(context.Background(), &TrainConfig{
		Cfg: cfg, Objective: objective.MSE{}, Train: ds,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, m.NumTrees())
	assert.Empty(t, trainHistory)
}

func TestTrain_ContinuationMatchesStraightThroughTraining(t *testing.T) {
	ds := buildDataset(
		[]uint32{1, 1, 1, 2, 2, 2},
		[]float64{-3, -3, -3, 3, 3, 3},
	)

	straight := testCfg()
	straight.MaxIter = 4
	full, _, _, err := Train(context.Background(), &TrainConfig{
		Cfg: straight, Objective: objective.MSE{}, Train: ds,
	})
	require.NoError(t, err)

	firstHalf := testCfg()
	firstHalf.MaxIter = 2
	partial, _, _, err := Train(context.Background(), &TrainConfig{
		Cfg: firstHalf, Objective: objective.MSE{}, Train: ds,
	})
	require.NoError(t, err)

	secondHalf := testCfg()
	secondHalf.MaxIter = 4
	continued, _, _, err := Train(context.Background(), &TrainConfig{
		Cfg: secondHalf, Objective: objective.MSE{}, Train: ds, Initial: partial,
	})
	require.NoError(t, err)

	require.Equal(t, full.NumTrees(), continued.NumTrees())
	for i := range full.Trees {
		assert.Equal(t, full.Trees[i].Nodes, continued.Trees[i].Nodes)
		assert.InDelta(t, full.Weights[i], continued.Weights[i], 1e-12)
	}
}

func TestTrain_RejectsMultiOutputObjective(t *testing.T) {
	cfg := testCfg()
	ds := buildDataset([]uint32{1, 2}, []float64{-1, 1})

	_, _, _, err := Train(context.Background(), &TrainConfig{
		Cfg: cfg, Objective: fakeMultiOutput{}, Train: ds,
	})
	assert.Error(t, err)
}

type fakeMultiOutput struct{}

func (fakeMultiOutput) Name() string    { return "fake" }
func (fakeMultiOutput) RawSize() int    { return 2 }
func (fakeMultiOutput) Transform(raw []float64) []float64 {
	return raw
}
func (fakeMultiOutput) Compute(label, score []float64) ([]float64, []float64) {
	return label, score
}

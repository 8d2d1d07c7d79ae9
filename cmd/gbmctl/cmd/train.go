package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/histoboost/histoboost/internal/binmatrix"
	"github.com/histoboost/histoboost/internal/boost"
	"github.com/histoboost/histoboost/internal/checkpoint"
	"github.com/histoboost/histoboost/internal/discretize"
	"github.com/histoboost/histoboost/internal/eval"
	"github.com/histoboost/histoboost/internal/modelstore"
	"github.com/histoboost/histoboost/internal/objective"
	"github.com/histoboost/histoboost/internal/split"
	"github.com/histoboost/histoboost/pkg/config"
)

var (
	trainInput        string
	trainTest         string
	trainLabelCol     string
	trainCategorical  string
	trainDBPath       string
	trainRunID        string
	trainObjectiveStr string
	trainEvaluators   string

	trainMaxIter          int
	trainMaxDepth         int
	trainMaxLeaves        int
	trainMaxBins          int
	trainStepSize         float64
	trainRegAlpha         float64
	trainRegLambda        float64
	trainMinGain          float64
	trainSubSample        float64
	trainColSampleTree    float64
	trainColSampleLevel   float64
	trainBoostTypeStr     string
	trainDropRate         float64
	trainDropSkip         float64
	trainSeed             int64
	trainCheckpointEvery  int
	trainCheckpointDir    string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a boosted ensemble from a CSV dataset",
	RunE:  runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().StringVarP(&trainInput, "input", "i", "", "Training CSV file (required)")
	trainCmd.Flags().StringVar(&trainTest, "test", "", "Optional held-out CSV file, evaluated each iteration")
	trainCmd.Flags().StringVar(&trainLabelCol, "label", "", "Label column name (defaults to the last column)")
	trainCmd.Flags().StringVar(&trainCategorical, "categorical", "", "Comma-separated feature column names to discretize as categorical")
	trainCmd.Flags().StringVarP(&trainDBPath, "output", "o", "gbmctl.db", "SQLite file the trained model is persisted to")
	trainCmd.Flags().StringVar(&trainRunID, "run-id", "", "Run identifier the model is saved under (auto-generated if empty)")
	trainCmd.Flags().StringVar(&trainObjectiveStr, "objective", "mse", "Objective: mse or logistic")
	trainCmd.Flags().StringVar(&trainEvaluators, "evaluators", "", "Comma-separated metrics to track: rmse, logloss, error")
	trainCmd.MarkFlagRequired("input")

	trainCmd.Flags().IntVar(&trainMaxIter, "max-iter", 100, "Number of boosting iterations")
	trainCmd.Flags().IntVar(&trainMaxDepth, "max-depth", 6, "Maximum tree depth")
	trainCmd.Flags().IntVar(&trainMaxLeaves, "max-leaves", 31, "Maximum leaves per tree")
	trainCmd.Flags().IntVar(&trainMaxBins, "max-bins", 256, "Maximum bins per feature")
	trainCmd.Flags().Float64Var(&trainStepSize, "step-size", 0.1, "Learning rate (GBTree weight, DART base unit)")
	trainCmd.Flags().Float64Var(&trainRegAlpha, "reg-alpha", 0, "L1 regularization")
	trainCmd.Flags().Float64Var(&trainRegLambda, "reg-lambda", 1, "L2 regularization")
	trainCmd.Flags().Float64Var(&trainMinGain, "min-gain", 0, "Minimum gain to accept a split")
	trainCmd.Flags().Float64Var(&trainSubSample, "sub-sample", 1, "Row subsample rate per tree")
	trainCmd.Flags().Float64Var(&trainColSampleTree, "col-sample-by-tree", 1, "Column subsample rate per tree")
	trainCmd.Flags().Float64Var(&trainColSampleLevel, "col-sample-by-level", 1, "Column subsample rate per level")
	trainCmd.Flags().StringVar(&trainBoostTypeStr, "boost-type", "gbtree", "Boosting algorithm: gbtree or dart")
	trainCmd.Flags().Float64Var(&trainDropRate, "drop-rate", 0, "DART dropout rate")
	trainCmd.Flags().Float64Var(&trainDropSkip, "drop-skip", 0.5, "DART probability of skipping dropout in a round")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "Random seed")
	trainCmd.Flags().IntVar(&trainCheckpointEvery, "checkpoint-interval", 0, "Checkpoint every N iterations (0 disables)")
	trainCmd.Flags().StringVar(&trainCheckpointDir, "checkpoint-dir", "./checkpoints", "Local directory for checkpoint blobs")
}

func runTrain(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	ctx := context.Background()

	cfg, err := buildTrainConfig()
	if err != nil {
		return err
	}

	runID := trainRunID
	if runID == "" {
		runID = fmt.Sprintf("run-%s", time.Now().Format("20060102-150405"))
	}

	log.Info("gbmctl: loading training data from %s", trainInput)
	trainTable, err := loadCSV(trainInput, trainLabelCol)
	if err != nil {
		return err
	}
	log.Info("gbmctl: %d rows, %d features", trainTable.NumRows, len(trainTable.FeatureNames))

	kinds := parseColumnKinds(trainTable.FeatureNames, trainCategorical)
	disc, err := discretize.Fit(trainTable.Columns, kinds, cfg)
	if err != nil {
		return fmt.Errorf("fit discretizer: %w", err)
	}

	trainDataset, err := toDataset(disc, trainTable)
	if err != nil {
		return err
	}

	var testDataset *boost.Dataset
	if trainTest != "" {
		testTable, err := loadCSV(trainTest, trainLabelCol)
		if err != nil {
			return err
		}
		testDataset, err = toDataset(disc, testTable)
		if err != nil {
			return err
		}
	}

	obj, err := parseObjective(trainObjectiveStr)
	if err != nil {
		return err
	}
	evaluators := parseEvaluators(trainEvaluators, trainObjectiveStr)

	var mgr *checkpoint.Manager
	if trainCheckpointEvery > 0 {
		store, err := checkpoint.NewStore(config.CheckpointConfig{
			Type:      config.CheckpointTypeLocal,
			LocalPath: trainCheckpointDir,
		})
		if err != nil {
			return fmt.Errorf("open checkpoint store: %w", err)
		}
		mgr = checkpoint.NewManager(store)
		defer mgr.Close()
	}

	log.Info("gbmctl: training %s for %d iterations (run %s)", cfg.BoostType, cfg.MaxIter, runID)
	m, trainHistory, testHistory, err := boost.Train(ctx, &boost.TrainConfig{
		Cfg:        cfg,
		Objective:  obj,
		Train:      trainDataset,
		Test:       testDataset,
		Evaluators: evaluators,
		Checkpoint: mgr,
		RunID:      runID,
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	logHistoryTail(log, "train", trainHistory)
	if testHistory != nil {
		logHistoryTail(log, "test", testHistory)
	}

	gormDB, err := modelstore.NewGormDB(&modelstore.DBConfig{Type: "sqlite", Database: trainDBPath})
	if err != nil {
		return fmt.Errorf("open model store: %w", err)
	}
	if err := modelstore.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("migrate model store: %w", err)
	}
	store := modelstore.NewStore(gormDB)
	defer store.Close()

	if err := modelstore.SaveDiscretizer(ctx, store, runID, disc); err != nil {
		return fmt.Errorf("save discretizer: %w", err)
	}
	if err := modelstore.SaveModel(ctx, store, runID, m); err != nil {
		return fmt.Errorf("save model: %w", err)
	}

	log.Info("gbmctl: saved model %s to %s (%d trees)", runID, trainDBPath, m.NumTrees())
	return nil
}

func buildTrainConfig() (*config.BoostConfig, error) {
	cfg := config.Default()
	cfg.MaxIter = trainMaxIter
	cfg.MaxDepth = trainMaxDepth
	cfg.MaxLeaves = trainMaxLeaves
	cfg.MaxBins = trainMaxBins
	cfg.StepSize = trainStepSize
	cfg.RegAlpha = trainRegAlpha
	cfg.RegLambda = trainRegLambda
	cfg.MinGain = trainMinGain
	cfg.SubSample = trainSubSample
	cfg.ColSampleByTree = trainColSampleTree
	cfg.ColSampleByLevel = trainColSampleLevel
	cfg.DropRate = trainDropRate
	cfg.DropSkip = trainDropSkip
	cfg.Seed = trainSeed
	cfg.CheckpointInterval = trainCheckpointEvery

	switch trainBoostTypeStr {
	case "gbtree":
		cfg.BoostType = config.BoostTypeGBTree
	case "dart":
		cfg.BoostType = config.BoostTypeDART
	default:
		return nil, fmt.Errorf("unknown boost type: %q (valid: gbtree, dart)", trainBoostTypeStr)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func parseObjective(s string) (objective.Objective, error) {
	switch s {
	case "mse":
		return objective.MSE{}, nil
	case "logistic":
		return objective.Logistic{}, nil
	default:
		return nil, fmt.Errorf("unknown objective: %q (valid: mse, logistic)", s)
	}
}

func parseEvaluators(csv, objName string) []boost.EvaluatorFactory {
	names := splitNonEmpty(csv)
	if len(names) == 0 {
		if objName == "logistic" {
			names = []string{"logloss", "error"}
		} else {
			names = []string{"rmse"}
		}
	}
	factories := make([]boost.EvaluatorFactory, 0, len(names))
	for _, name := range names {
		name := name
		switch name {
		case "rmse":
			factories = append(factories, func() eval.Evaluator { return eval.NewRMSE() })
		case "logloss":
			factories = append(factories, func() eval.Evaluator { return eval.NewLogLoss() })
		case "error":
			factories = append(factories, func() eval.Evaluator { return eval.NewErrorRate(0.5) })
		}
	}
	return factories
}

func toDataset(disc *discretize.Discretizer, t *csvTable) (*boost.Dataset, error) {
	bins := binmatrix.NewForMaxBins(disc.MaxNumBins(), t.NumRows, disc.NumCols())
	numBinsPerFeature := make([]int, disc.NumCols())
	featureKinds := make([]split.Kind, disc.NumCols())
	for c, col := range disc.Columns {
		numBinsPerFeature[c] = col.NumBins
		if col.Kind == discretize.Categorical {
			featureKinds[c] = split.Categorical
		} else {
			featureKinds[c] = split.Numeric
		}
	}

	row := make([]float64, disc.NumCols())
	for r := 0; r < t.NumRows; r++ {
		for c := range row {
			row[c] = t.Columns[c][r]
		}
		binned, err := disc.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("discretize row %d: %w", r, err)
		}
		for c, b := range binned {
			bins.Set(r, c, b)
		}
	}

	return &boost.Dataset{
		Bins:              bins,
		NumBinsPerFeature: numBinsPerFeature,
		FeatureKinds:      featureKinds,
		Label:             [][]float64{t.Label},
		NumRows:           t.NumRows,
	}, nil
}

func splitNonEmpty(csv string) []string {
	var out []string
	cur := ""
	for _, r := range csv {
		if r == ',' {
			if cur != "" {
				out = append(out, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func logHistoryTail(log interface {
	Info(string, ...interface{})
}, label string, history []map[string]float64) {
	if len(history) == 0 {
		return
	}
	last := history[len(history)-1]
	for k, v := range last {
		log.Info("gbmctl: %s %s = %.6f", label, k, v)
	}
}

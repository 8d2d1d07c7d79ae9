package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/histoboost/histoboost/internal/modelstore"
	"github.com/histoboost/histoboost/pkg/writer"
)

var (
	predictInput      string
	predictOutput     string
	predictDBPath     string
	predictRunID      string
	predictLabelCol   string
	predictSummary    string
	predictSummaryGz  bool
)

// predictionSummary is the shape written by --summary: the scored model's
// feature importance alongside the full prediction vector, for callers that
// want one artifact instead of scanning a predictions CSV.
type predictionSummary struct {
	RunID             string    `json:"run_id"`
	NumRows           int       `json:"num_rows"`
	FeatureImportance []float64 `json:"feature_importance"`
	Predictions       []float64 `json:"predictions"`
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Score a CSV file with a previously trained model",
	RunE:  runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().StringVarP(&predictInput, "input", "i", "", "CSV file to score (required)")
	predictCmd.Flags().StringVarP(&predictOutput, "output", "o", "", "Where to write predictions (defaults to stdout)")
	predictCmd.Flags().StringVar(&predictDBPath, "model", "gbmctl.db", "SQLite file the model was saved to")
	predictCmd.Flags().StringVar(&predictRunID, "run-id", "", "Run identifier to load (required)")
	predictCmd.Flags().StringVar(&predictLabelCol, "label", "", "Label column to exclude from the features (default: the last column); it must be present and numeric")
	predictCmd.Flags().StringVar(&predictSummary, "summary", "", "Optional path to also write a JSON prediction summary")
	predictCmd.Flags().BoolVar(&predictSummaryGz, "summary-gzip", false, "Gzip the JSON summary file")
	predictCmd.MarkFlagRequired("input")
	predictCmd.MarkFlagRequired("run-id")
}

func runPredict(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	ctx := context.Background()

	gormDB, err := modelstore.NewGormDB(&modelstore.DBConfig{Type: "sqlite", Database: predictDBPath})
	if err != nil {
		return fmt.Errorf("open model store: %w", err)
	}
	store := modelstore.NewStore(gormDB)
	defer store.Close()

	disc, err := modelstore.LoadDiscretizer(ctx, store, predictRunID)
	if err != nil {
		return fmt.Errorf("load discretizer: %w", err)
	}
	m, err := modelstore.LoadModel(ctx, store, predictRunID, disc.NumCols())
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	log.Info("gbmctl: loaded model %s (%d trees)", predictRunID, m.NumTrees())

	table, err := loadCSV(predictInput, predictLabelCol)
	if err != nil {
		return err
	}

	out := os.Stdout
	if predictOutput != "" {
		f, err := os.Create(predictOutput)
		if err != nil {
			return fmt.Errorf("create %s: %w", predictOutput, err)
		}
		defer f.Close()
		out = f
	}
	w := csv.NewWriter(out)
	defer w.Flush()
	if err := w.Write([]string{"row", "prediction"}); err != nil {
		return err
	}

	predictions := make([]float64, table.NumRows)
	row := make([]float64, disc.NumCols())
	for r := 0; r < table.NumRows; r++ {
		for c := range row {
			row[c] = table.Columns[c][r]
		}
		bins, err := disc.Transform(row)
		if err != nil {
			return fmt.Errorf("discretize row %d: %w", r, err)
		}
		pred := m.Predict(bins, 0)[0]
		predictions[r] = pred
		if err := w.Write([]string{strconv.Itoa(r), strconv.FormatFloat(pred, 'g', -1, 64)}); err != nil {
			return err
		}
	}

	log.Info("gbmctl: scored %d rows", table.NumRows)

	if predictSummary != "" {
		summary := predictionSummary{
			RunID:             predictRunID,
			NumRows:           table.NumRows,
			FeatureImportance: m.FeatureImportance(0),
			Predictions:       predictions,
		}
		if predictSummaryGz {
			if err := writer.NewGzipWriter[predictionSummary]().WriteToFile(summary, predictSummary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
		} else {
			if err := writer.NewPrettyJSONWriter[predictionSummary]().WriteToFile(summary, predictSummary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
		}
		log.Info("gbmctl: wrote prediction summary to %s", predictSummary)
	}

	return nil
}

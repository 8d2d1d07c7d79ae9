package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/histoboost/histoboost/pkg/log"
	"github.com/histoboost/histoboost/pkg/telemetry"
)

var (
	verbose           bool
	logger            log.Logger
	configPath        string
	telemetryShutdown telemetry.ShutdownFunc
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "gbmctl",
	Short: "Train and score histogram-based gradient boosting models",
	Long: `gbmctl is a CLI for training and scoring histogram-based gradient
boosting models (GBTree and DART) over discretized tabular data.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := log.LevelInfo
		if verbose {
			level = log.LevelDebug
		}
		logger = log.New(level, os.Stdout)

		shutdown, err := telemetry.Init(context.Background())
		if err != nil {
			logger.Warn("gbmctl: telemetry init failed, continuing without tracing: %v", err)
		}
		telemetryShutdown = shutdown
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if telemetryShutdown == nil {
			return nil
		}
		return telemetryShutdown(context.Background())
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a boosting config file (the value is not read; train takes its settings from its flags)")

	binName := BinName()
	rootCmd.Example = `  # Train a model from a CSV file, label in the last column
  ` + binName + ` train -i train.csv -o run.db --max-iter 100 --step-size 0.1

  # Train a DART model with a held-out test file
  ` + binName + ` train -i train.csv --test test.csv --boost-type dart

  # Predict with a trained model
  ` + binName + ` predict -i score.csv --model run.db --run-id <run-id>`
}

// GetLogger returns the configured logger.
func GetLogger() log.Logger {
	return logger
}

// BinName returns the base name of the current executable.
func BinName() string {
	return filepath.Base(os.Args[0])
}

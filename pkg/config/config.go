// Package config provides configuration loading and validation for the
// boosting driver.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/histoboost/histoboost/pkg/errors"
)

// BoostType selects the boosting algorithm.
type BoostType string

const (
	// BoostTypeGBTree is plain additive gradient boosting.
	BoostTypeGBTree BoostType = "gbtree"
	// BoostTypeDART is dropout-regularized boosting.
	BoostTypeDART BoostType = "dart"
	// BoostTypeGoss names a planned-but-unimplemented mode (see spec §9
	// open questions). Rejected at Validate time.
	BoostTypeGoss BoostType = "goss"
)

// NumericalBinType selects how numeric columns are discretized.
type NumericalBinType string

const (
	// BinTypeWidth is uniform-width binning.
	BinTypeWidth NumericalBinType = "width"
	// BinTypeDepth is approximate-quantile ("depth"-equalized) binning.
	BinTypeDepth NumericalBinType = "depth"
)

// FloatPrecision selects the gradient/hessian accumulator element type.
type FloatPrecision string

const (
	// PrecisionSingle names a planned-but-unimplemented float32
	// accumulator mode (see spec §9's numeric-width polymorphism matrix).
	// Rejected at Validate time, same treatment as BoostTypeGoss.
	PrecisionSingle FloatPrecision = "single"
	// PrecisionDouble uses float64 accumulators, the only instantiation
	// internal/histogram and internal/tree actually build.
	PrecisionDouble FloatPrecision = "double"
)

// CheckpointType selects the checkpoint storage backend.
type CheckpointType string

const (
	// CheckpointTypeLocal persists checkpoints to the local filesystem.
	CheckpointTypeLocal CheckpointType = "local"
	// CheckpointTypeCOS persists checkpoints to Tencent Cloud Object Storage.
	CheckpointTypeCOS CheckpointType = "cos"
)

// CheckpointConfig configures where periodic training snapshots are written.
type CheckpointConfig struct {
	Type      CheckpointType `mapstructure:"type"`
	LocalPath string         `mapstructure:"local_path"`
	Bucket    string         `mapstructure:"bucket"`
	Region    string         `mapstructure:"region"`
	SecretID  string         `mapstructure:"secret_id"`
	SecretKey string         `mapstructure:"secret_key"`
	Domain    string         `mapstructure:"domain"`
	Scheme    string         `mapstructure:"scheme"`
}

// BoostConfig holds every tunable named in the external interface contract.
// Field names and mapstructure tags match the authoritative names verbatim.
type BoostConfig struct {
	MaxIter              int              `mapstructure:"max_iter"`
	MaxDepth             int              `mapstructure:"max_depth"`
	MaxLeaves            int              `mapstructure:"max_leaves"`
	MaxBins              int              `mapstructure:"max_bins"`
	MinGain              float64          `mapstructure:"min_gain"`
	MinNodeHess          float64          `mapstructure:"min_node_hess"`
	StepSize             float64          `mapstructure:"step_size"`
	RegAlpha             float64          `mapstructure:"reg_alpha"`
	RegLambda            float64          `mapstructure:"reg_lambda"`
	BaseScore            []float64        `mapstructure:"base_score"` // nil => auto (label mean)
	SubSample            float64          `mapstructure:"sub_sample"`
	ColSampleByTree      float64          `mapstructure:"col_sample_by_tree"`
	ColSampleByLevel     float64          `mapstructure:"col_sample_by_level"`
	BoostType            BoostType        `mapstructure:"boost_type"`
	DropRate             float64          `mapstructure:"drop_rate"`
	DropSkip             float64          `mapstructure:"drop_skip"`
	MinDrop              int              `mapstructure:"min_drop"`
	MaxDrop              int              `mapstructure:"max_drop"`
	MaxBruteBins         int              `mapstructure:"max_brute_bins"`
	NumericalBinType     NumericalBinType `mapstructure:"numerical_bin_type"`
	ZeroAsMissing        bool             `mapstructure:"zero_as_missing"`
	CheckpointInterval   int              `mapstructure:"checkpoint_interval"`
	AggregationDepth     int              `mapstructure:"aggregation_depth"`
	Seed                 int64            `mapstructure:"seed"`
	BaseModelParallelism int              `mapstructure:"base_model_parallelism"`
	BlockSize            int              `mapstructure:"block_size"`
	SampleBlocks         bool             `mapstructure:"sample_blocks"`
	FloatPrecision       FloatPrecision   `mapstructure:"float_precision"`
	Checkpoint           CheckpointConfig `mapstructure:"checkpoint"`
}

// Default returns a BoostConfig populated with the defaults named in the
// external interface contract.
func Default() BoostConfig {
	return BoostConfig{
		MaxIter:              20,
		MaxDepth:             5,
		MaxLeaves:            1000,
		MaxBins:              64,
		MinGain:              0,
		MinNodeHess:          0,
		StepSize:             0.1,
		RegAlpha:             0,
		RegLambda:            1,
		BaseScore:            nil,
		SubSample:            1,
		ColSampleByTree:      1,
		ColSampleByLevel:     1,
		BoostType:            BoostTypeGBTree,
		DropRate:             0,
		DropSkip:             0.5,
		MinDrop:              0,
		MaxDrop:              50,
		MaxBruteBins:         10,
		NumericalBinType:     BinTypeWidth,
		ZeroAsMissing:        false,
		CheckpointInterval:   10,
		AggregationDepth:     2,
		Seed:                 0,
		BaseModelParallelism: 1,
		BlockSize:            0,
		SampleBlocks:         false,
		FloatPrecision:       PrecisionDouble,
		Checkpoint: CheckpointConfig{
			Type:      CheckpointTypeLocal,
			LocalPath: "./checkpoints",
		},
	}
}

// Load reads configuration from the given path (or standard locations if
// empty), applying defaults and environment overrides, then validates it.
func Load(configPath string) (*BoostConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gbm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// fall through on defaults
		} else if os.IsNotExist(err) {
			// fall through on defaults
		} else {
			return nil, errors.Wrap(errors.CodeConfigError, "failed to read config file", err)
		}
	}

	v.AutomaticEnv()

	var cfg BoostConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.CodeConfigError, "failed to unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw bytes of the given format
// (e.g. "yaml", "json"); useful in tests.
func LoadFromReader(configType string, content []byte) (*BoostConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, errors.Wrap(errors.CodeConfigError, "failed to read config", err)
	}

	var cfg BoostConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.CodeConfigError, "failed to unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("max_iter", d.MaxIter)
	v.SetDefault("max_depth", d.MaxDepth)
	v.SetDefault("max_leaves", d.MaxLeaves)
	v.SetDefault("max_bins", d.MaxBins)
	v.SetDefault("min_gain", d.MinGain)
	v.SetDefault("min_node_hess", d.MinNodeHess)
	v.SetDefault("step_size", d.StepSize)
	v.SetDefault("reg_alpha", d.RegAlpha)
	v.SetDefault("reg_lambda", d.RegLambda)
	v.SetDefault("sub_sample", d.SubSample)
	v.SetDefault("col_sample_by_tree", d.ColSampleByTree)
	v.SetDefault("col_sample_by_level", d.ColSampleByLevel)
	v.SetDefault("boost_type", string(d.BoostType))
	v.SetDefault("drop_rate", d.DropRate)
	v.SetDefault("drop_skip", d.DropSkip)
	v.SetDefault("min_drop", d.MinDrop)
	v.SetDefault("max_drop", d.MaxDrop)
	v.SetDefault("max_brute_bins", d.MaxBruteBins)
	v.SetDefault("numerical_bin_type", string(d.NumericalBinType))
	v.SetDefault("zero_as_missing", d.ZeroAsMissing)
	v.SetDefault("checkpoint_interval", d.CheckpointInterval)
	v.SetDefault("aggregation_depth", d.AggregationDepth)
	v.SetDefault("seed", d.Seed)
	v.SetDefault("base_model_parallelism", d.BaseModelParallelism)
	v.SetDefault("block_size", d.BlockSize)
	v.SetDefault("sample_blocks", d.SampleBlocks)
	v.SetDefault("float_precision", string(d.FloatPrecision))
	v.SetDefault("checkpoint.type", string(d.Checkpoint.Type))
	v.SetDefault("checkpoint.local_path", d.Checkpoint.LocalPath)
}

// Validate checks the configuration for invalid parameters, returning a
// ConfigurationError describing the first problem found.
func (c *BoostConfig) Validate() error {
	switch {
	case c.MaxIter < 1:
		return errors.New(errors.CodeConfigError, "max_iter must be >= 1")
	case c.MaxDepth < 1:
		return errors.New(errors.CodeConfigError, "max_depth must be >= 1")
	case c.MaxLeaves < 1:
		return errors.New(errors.CodeConfigError, "max_leaves must be >= 1")
	case c.MaxBins < 2 || c.MaxBins > 1<<20:
		return errors.New(errors.CodeConfigError, "max_bins must be in [2, 1<<20]")
	case c.RegLambda < 0:
		return errors.New(errors.CodeConfigError, "reg_lambda must be >= 0")
	case c.RegAlpha < 0:
		return errors.New(errors.CodeConfigError, "reg_alpha must be >= 0")
	case c.StepSize <= 0:
		return errors.New(errors.CodeConfigError, "step_size must be > 0")
	case c.SubSample <= 0 || c.SubSample > 1:
		return errors.New(errors.CodeConfigError, "sub_sample must be in (0, 1]")
	case c.ColSampleByTree <= 0 || c.ColSampleByTree > 1:
		return errors.New(errors.CodeConfigError, "col_sample_by_tree must be in (0, 1]")
	case c.ColSampleByLevel <= 0 || c.ColSampleByLevel > 1:
		return errors.New(errors.CodeConfigError, "col_sample_by_level must be in (0, 1]")
	case c.BoostType == BoostTypeGoss:
		return errors.New(errors.CodeConfigError, "boost_type \"goss\" is a planned, not-implemented mode")
	case c.BoostType != BoostTypeGBTree && c.BoostType != BoostTypeDART:
		return errors.New(errors.CodeConfigError, fmt.Sprintf("unsupported boost_type: %s", c.BoostType))
	case c.DropRate < 0 || c.DropRate > 1:
		return errors.New(errors.CodeConfigError, "drop_rate must be in [0, 1]")
	case c.DropSkip < 0 || c.DropSkip > 1:
		return errors.New(errors.CodeConfigError, "drop_skip must be in [0, 1]")
	case c.MinDrop < 0:
		return errors.New(errors.CodeConfigError, "min_drop must be >= 0")
	case c.MaxDrop < c.MinDrop:
		return errors.New(errors.CodeConfigError, "max_drop must be >= min_drop")
	case c.MaxBruteBins < 1:
		return errors.New(errors.CodeConfigError, "max_brute_bins must be >= 1")
	case c.NumericalBinType != BinTypeWidth && c.NumericalBinType != BinTypeDepth:
		return errors.New(errors.CodeConfigError, fmt.Sprintf("unsupported numerical_bin_type: %s", c.NumericalBinType))
	case c.CheckpointInterval == 0:
		return errors.New(errors.CodeConfigError, "checkpoint_interval must be nonzero (negative disables checkpointing)")
	case c.AggregationDepth < 1:
		return errors.New(errors.CodeConfigError, "aggregation_depth must be >= 1")
	case c.BaseModelParallelism < 1:
		return errors.New(errors.CodeConfigError, "base_model_parallelism must be >= 1")
	case c.FloatPrecision == PrecisionSingle:
		return errors.New(errors.CodeConfigError, "float_precision \"single\" is a planned, not-implemented mode")
	case c.FloatPrecision != PrecisionDouble:
		return errors.New(errors.CodeConfigError, fmt.Sprintf("unsupported float_precision: %s", c.FloatPrecision))
	case c.Checkpoint.Type != "" && c.Checkpoint.Type != CheckpointTypeLocal && c.Checkpoint.Type != CheckpointTypeCOS:
		return errors.New(errors.CodeConfigError, fmt.Sprintf("unsupported checkpoint.type: %s", c.Checkpoint.Type))
	case c.Checkpoint.Type == CheckpointTypeCOS && (c.Checkpoint.Bucket == "" || c.Checkpoint.Region == ""):
		return errors.New(errors.CodeConfigError, "checkpoint.bucket and checkpoint.region are required for cos checkpoints")
	case c.Checkpoint.Type == CheckpointTypeCOS && (c.Checkpoint.SecretID == "" || c.Checkpoint.SecretKey == ""):
		return errors.New(errors.CodeConfigError, "checkpoint.secret_id and checkpoint.secret_key are required for cos checkpoints")
	}
	return nil
}

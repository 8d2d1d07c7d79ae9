package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "gbm.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("max_iter: 50\n"), 0644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.MaxIter)
	assert.Equal(t, 5, cfg.MaxDepth)
	assert.Equal(t, 1000, cfg.MaxLeaves)
	assert.Equal(t, BoostTypeGBTree, cfg.BoostType)
	assert.Equal(t, 0.1, cfg.StepSize)
	assert.Equal(t, BinTypeWidth, cfg.NumericalBinType)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().MaxIter, cfg.MaxIter)
}

func TestLoadFromReader_DART(t *testing.T) {
	content := []byte(`
boost_type: dart
drop_rate: 0.5
drop_skip: 0.0
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)
	assert.Equal(t, BoostTypeDART, cfg.BoostType)
	assert.Equal(t, 0.5, cfg.DropRate)
	assert.Equal(t, 0.0, cfg.DropSkip)
}

func TestValidate_RejectsGoss(t *testing.T) {
	cfg := Default()
	cfg.BoostType = BoostTypeGoss
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-implemented")
}

func TestValidate_RejectsFloatPrecisionSingle(t *testing.T) {
	cfg := Default()
	cfg.FloatPrecision = PrecisionSingle
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-implemented")
}

func TestValidate_RejectsBadParams(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BoostConfig)
	}{
		{"max_iter", func(c *BoostConfig) { c.MaxIter = 0 }},
		{"max_depth", func(c *BoostConfig) { c.MaxDepth = 0 }},
		{"max_bins", func(c *BoostConfig) { c.MaxBins = 1 }},
		{"reg_lambda", func(c *BoostConfig) { c.RegLambda = -1 }},
		{"step_size", func(c *BoostConfig) { c.StepSize = 0 }},
		{"sub_sample", func(c *BoostConfig) { c.SubSample = 1.5 }},
		{"boost_type", func(c *BoostConfig) { c.BoostType = "bogus" }},
		{"drop_rate", func(c *BoostConfig) { c.DropRate = 2 }},
		{"max_drop_lt_min_drop", func(c *BoostConfig) { c.MinDrop = 10; c.MaxDrop = 5 }},
		{"checkpoint_interval", func(c *BoostConfig) { c.CheckpointInterval = 0 }},
		{"base_model_parallelism", func(c *BoostConfig) { c.BaseModelParallelism = 0 }},
		{"float_precision", func(c *BoostConfig) { c.FloatPrecision = "half" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

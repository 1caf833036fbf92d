package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_PassesValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsOutOfBoundGridPriceInterval(t *testing.T) {
	cfg := Default()
	cfg.GridPriceInterval = 0.5 // > 0.2 cap
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid_price_interval")
}

func TestValidate_RejectsNonPositiveCallbackRatio(t *testing.T) {
	cfg := Default()
	cfg.GridCallbackRatio = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsPositiveStopLoss(t *testing.T) {
	cfg := Default()
	cfg.GridStopLoss = 0.1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid_stop_loss")
}

func TestLoad_ReadsJSONOverridesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "daemon.json")

	overrides := map[string]interface{}{
		"grid_price_interval": 0.08,
		"enable_auto_trading": true,
	}
	raw, err := json.Marshal(overrides)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, raw, 0o644))

	cfg, err := Load("", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 0.08, cfg.GridPriceInterval)
	assert.True(t, cfg.EnableAutoTrading)
	// untouched fields keep their defaults
	assert.Equal(t, 0.005, cfg.GridCallbackRatio)
}

func TestLoad_MissingConfigFileIsFatal(t *testing.T) {
	_, err := Load("", "/nonexistent/daemon.json")
	assert.Error(t, err)
}

func TestLoad_MalformedConfigFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte("{not json"), 0o644))

	_, err := Load("", cfgPath)
	assert.Error(t, err)
}

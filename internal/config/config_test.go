package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interval-sniper/pkg/types"
)

func baseConfig(t *testing.T) *Config {
	t.Helper()
	t.Setenv("MM_DRY_RUN", "true")
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := baseConfig(t)

	assert.Equal(t, types.AssetBTC5m, cfg.Asset)
	assert.True(t, cfg.MinBuyPrice.Equal(decimal.RequireFromString("0.90")))
	assert.True(t, cfg.MaxBuyPrice.Equal(decimal.RequireFromString("0.95")))
	assert.Equal(t, 100, cfg.LoopMS)
	assert.Equal(t, types.OrderTypeFAK, cfg.TakeProfitTimeInForce)
	assert.Equal(t, types.OrderTypeFAK, cfg.StopLossTimeInForce)
	assert.NoError(t, cfg.Validate())
}

func TestPercentPricesNormalised(t *testing.T) {
	t.Setenv("MM_MIN_BUY_PRICE", "90")
	t.Setenv("MM_MAX_BUY_PRICE", "95")
	t.Setenv("MM_TAKE_PROFIT_PRICE", "97")
	cfg := baseConfig(t)

	assert.True(t, cfg.MinBuyPrice.Equal(decimal.RequireFromString("0.9")))
	assert.True(t, cfg.MaxBuyPrice.Equal(decimal.RequireFromString("0.95")))
	assert.True(t, cfg.TakeProfitPrice.Equal(decimal.RequireFromString("0.97")))
}

func TestSolMarketSelection(t *testing.T) {
	t.Setenv("INTERVAL_SNIPER_MARKET", "sol_5m")
	cfg := baseConfig(t)

	assert.Equal(t, types.AssetSOL5m, cfg.Asset)
	assert.Equal(t, "sol-updown-5m", cfg.Asset.SlugPrefix())
}

func TestValidateRejectsInvertedBand(t *testing.T) {
	cfg := baseConfig(t)
	cfg.MinBuyPrice = decimal.RequireFromString("0.96")
	cfg.MaxBuyPrice = decimal.RequireFromString("0.90")

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsLoopOutOfRange(t *testing.T) {
	cfg := baseConfig(t)
	cfg.LoopMS = 501
	assert.Error(t, cfg.Validate())

	cfg.LoopMS = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsWideMargin(t *testing.T) {
	cfg := baseConfig(t)
	cfg.TakeProfitPriceMargin = decimal.RequireFromString("0.06")
	assert.Error(t, cfg.Validate())
}

func TestValidateEnforcesMinSecondsAfterOpenFloor(t *testing.T) {
	t.Setenv("MM_MIN_SECONDS_AFTER_MARKET_OPEN", "0")
	cfg := baseConfig(t)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.MinSecondsAfterMarketOpen)
}

func TestValidateRequiresCredentialsWhenLive(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DryRun = false
	cfg.PrivateKey = ""

	assert.Error(t, cfg.Validate())
}

func TestQuantityPercentBounds(t *testing.T) {
	cfg := baseConfig(t)
	cfg.AutoSellQuantityPct = 0
	assert.Error(t, cfg.Validate())

	cfg = baseConfig(t)
	cfg.StopLossQuantityPct = 101
	assert.Error(t, cfg.Validate())
}

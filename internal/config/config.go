// Package config defines all configuration for the interval sniper.
// Everything is environment-variable driven (MM_* for trading knobs,
// INTERVAL_SNIPER_MARKET for the market family, wallet/API credentials for
// auth); viper supplies defaults and the env binding, Load applies the
// tolerant numeric parsing and Validate enforces ranges.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"interval-sniper/pkg/types"
)

// Config is the full runtime configuration for one bot run.
type Config struct {
	// Market selection and endpoints.
	Asset        types.IntervalAsset
	GammaBaseURL string
	ClobBaseURL  string
	WSMarketURL  string

	// Entry band and size.
	MinBuyPrice  decimal.Decimal
	MaxBuyPrice  decimal.Decimal
	SizeShares   decimal.Decimal
	AllowBuyUp   bool
	AllowBuyDown bool

	// Take profit.
	EnableAutoSell         bool
	TakeProfitPrice        decimal.Decimal
	TakeProfitPriceMargin  decimal.Decimal
	TakeProfitTimeInForce  types.OrderType
	AutoSellAtMaxPrice     bool
	AutoSellQuantityPct    int
	MinSecondsAfterBuy     int // wait before TP may fire

	// Stop loss.
	EnableStopLoss      bool
	StopLossPrice       decimal.Decimal
	StopLossTimeInForce types.OrderType
	StopLossQuantityPct int

	// Loop and windows.
	LoopMS                    int
	CooldownMS                int
	SecondsBeforeClose        int
	NoWindowAllIntervals      bool
	MinSecondsAfterMarketOpen int
	DedupeTTL                 time.Duration
	StaleThreshold            time.Duration

	// Safety.
	DryRun bool

	// Wallet / API auth.
	PrivateKey    string
	ApiKey        string
	Secret        string
	Passphrase    string
	ChainID       int
	FunderAddress string
	SignatureType int
	NegRisk       bool

	// Session journal.
	SessionLogEnabled bool
	SessionLogDir     string

	// Observability.
	MetricsAddr string
	LogLevel    string
	LogFormat   string
}

// Load reads configuration from the environment via viper.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Asset:        parseAsset(v.GetString("INTERVAL_SNIPER_MARKET")),
		GammaBaseURL: strings.TrimSuffix(v.GetString("GAMMA_BASE_URL"), "/"),
		ClobBaseURL:  strings.TrimSuffix(v.GetString("POLYMARKET_CLOB_HOST"), "/"),
		WSMarketURL:  v.GetString("POLYMARKET_WS_MARKET_URL"),

		AllowBuyUp:   v.GetBool("MM_ALLOW_BUY_UP"),
		AllowBuyDown: v.GetBool("MM_ALLOW_BUY_DOWN"),

		EnableAutoSell:        v.GetBool("MM_ENABLE_AUTO_SELL"),
		TakeProfitTimeInForce: parseTIF(v.GetString("MM_TAKE_PROFIT_TIME_IN_FORCE"), types.OrderTypeFAK),
		AutoSellAtMaxPrice:    v.GetBool("MM_AUTO_SELL_AT_MAX_PRICE"),
		AutoSellQuantityPct:   v.GetInt("MM_TAKE_PROFIT_QUANTITY_PERCENT"),
		MinSecondsAfterBuy:    v.GetInt("MM_MIN_SECONDS_AFTER_BUY_BEFORE_AUTO_SELL"),

		EnableStopLoss:      v.GetBool("MM_ENABLE_STOP_LOSS"),
		StopLossTimeInForce: parseTIF(v.GetString("MM_STOP_LOSS_TIME_IN_FORCE"), types.OrderTypeFAK),
		StopLossQuantityPct: v.GetInt("MM_STOP_LOSS_QUANTITY_PERCENT"),

		LoopMS:                    v.GetInt("MM_LOOP_MS"),
		CooldownMS:                v.GetInt("MM_COOLDOWN_MS"),
		SecondsBeforeClose:        v.GetInt("MM_SECONDS_BEFORE_CLOSE"),
		NoWindowAllIntervals:      v.GetBool("MM_NO_WINDOW_ALL_INTERVALS"),
		MinSecondsAfterMarketOpen: v.GetInt("MM_MIN_SECONDS_AFTER_MARKET_OPEN"),
		DedupeTTL:                 time.Duration(v.GetInt("MM_DEDUPE_TTL_MS")) * time.Millisecond,
		StaleThreshold:            time.Duration(v.GetInt("MM_STALE_THRESHOLD_MS")) * time.Millisecond,

		DryRun: v.GetBool("MM_DRY_RUN"),

		PrivateKey:    firstNonEmpty(v.GetString("PRIVATE_KEY"), v.GetString("POLYMARKET_PRIVATE_KEY")),
		ApiKey:        v.GetString("API_KEY"),
		Secret:        firstNonEmpty(v.GetString("SECRET"), v.GetString("API_SECRET")),
		Passphrase:    firstNonEmpty(v.GetString("PASSPHRASE"), v.GetString("API_PASSPHRASE")),
		ChainID:       v.GetInt("POLYMARKET_CHAIN_ID"),
		FunderAddress: v.GetString("FUNDER_ADDRESS"),
		SignatureType: v.GetInt("SIGNATURE_TYPE"),
		NegRisk:       v.GetBool("MM_NEG_RISK"),

		SessionLogEnabled: v.GetBool("MM_SESSION_LOG_ENABLED"),
		SessionLogDir:     v.GetString("MM_SESSION_LOG_DIR"),

		MetricsAddr: v.GetString("MM_METRICS_ADDR"),
		LogLevel:    v.GetString("MM_LOG_LEVEL"),
		LogFormat:   v.GetString("MM_LOG_FORMAT"),
	}

	var err error
	if cfg.MinBuyPrice, err = parsePrice(v.GetString("MM_MIN_BUY_PRICE")); err != nil {
		return nil, fmt.Errorf("MM_MIN_BUY_PRICE: %w", err)
	}
	if cfg.MaxBuyPrice, err = parsePrice(v.GetString("MM_MAX_BUY_PRICE")); err != nil {
		return nil, fmt.Errorf("MM_MAX_BUY_PRICE: %w", err)
	}
	if cfg.TakeProfitPrice, err = parsePrice(v.GetString("MM_TAKE_PROFIT_PRICE")); err != nil {
		return nil, fmt.Errorf("MM_TAKE_PROFIT_PRICE: %w", err)
	}
	if cfg.StopLossPrice, err = parsePrice(v.GetString("MM_STOP_LOSS_PRICE")); err != nil {
		return nil, fmt.Errorf("MM_STOP_LOSS_PRICE: %w", err)
	}
	if cfg.TakeProfitPriceMargin, err = decimal.NewFromString(v.GetString("MM_TAKE_PROFIT_PRICE_MARGIN")); err != nil {
		return nil, fmt.Errorf("MM_TAKE_PROFIT_PRICE_MARGIN: %w", err)
	}
	if cfg.SizeShares, err = decimal.NewFromString(v.GetString("MM_SIZE_SHARES")); err != nil {
		return nil, fmt.Errorf("MM_SIZE_SHARES: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("INTERVAL_SNIPER_MARKET", "btc_5m")
	v.SetDefault("GAMMA_BASE_URL", "https://gamma-api.polymarket.com")
	v.SetDefault("POLYMARKET_CLOB_HOST", "https://clob.polymarket.com")
	v.SetDefault("POLYMARKET_WS_MARKET_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market")

	v.SetDefault("MM_MIN_BUY_PRICE", "0.90")
	v.SetDefault("MM_MAX_BUY_PRICE", "0.95")
	v.SetDefault("MM_SIZE_SHARES", "5")
	v.SetDefault("MM_ALLOW_BUY_UP", true)
	v.SetDefault("MM_ALLOW_BUY_DOWN", true)

	v.SetDefault("MM_ENABLE_AUTO_SELL", true)
	v.SetDefault("MM_TAKE_PROFIT_PRICE", "0.97")
	v.SetDefault("MM_TAKE_PROFIT_PRICE_MARGIN", "0.01")
	v.SetDefault("MM_TAKE_PROFIT_TIME_IN_FORCE", "FAK")
	v.SetDefault("MM_AUTO_SELL_AT_MAX_PRICE", false)
	v.SetDefault("MM_TAKE_PROFIT_QUANTITY_PERCENT", 100)
	v.SetDefault("MM_MIN_SECONDS_AFTER_BUY_BEFORE_AUTO_SELL", 0)

	v.SetDefault("MM_ENABLE_STOP_LOSS", true)
	v.SetDefault("MM_STOP_LOSS_PRICE", "0.90")
	v.SetDefault("MM_STOP_LOSS_TIME_IN_FORCE", "FAK")
	v.SetDefault("MM_STOP_LOSS_QUANTITY_PERCENT", 100)

	v.SetDefault("MM_LOOP_MS", 100)
	v.SetDefault("MM_COOLDOWN_MS", 0)
	v.SetDefault("MM_SECONDS_BEFORE_CLOSE", 300)
	v.SetDefault("MM_NO_WINDOW_ALL_INTERVALS", false)
	v.SetDefault("MM_MIN_SECONDS_AFTER_MARKET_OPEN", 3)
	v.SetDefault("MM_DEDUPE_TTL_MS", 50)
	v.SetDefault("MM_STALE_THRESHOLD_MS", 200)

	v.SetDefault("MM_DRY_RUN", false)
	v.SetDefault("POLYMARKET_CHAIN_ID", 137)
	v.SetDefault("SIGNATURE_TYPE", 0)
	v.SetDefault("MM_NEG_RISK", false)

	v.SetDefault("MM_SESSION_LOG_ENABLED", true)
	v.SetDefault("MM_SESSION_LOG_DIR", "logs")

	v.SetDefault("MM_METRICS_ADDR", "")
	v.SetDefault("MM_LOG_LEVEL", "info")
	v.SetDefault("MM_LOG_FORMAT", "text")
}

// parsePrice parses a probability, tolerating percent inputs: values above 1
// and up to 100 are divided by 100 (e.g. "93" → 0.93).
func parsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, err
	}
	if d.GreaterThan(decimal.NewFromInt(1)) && d.LessThanOrEqual(decimal.NewFromInt(100)) {
		d = d.Div(decimal.NewFromInt(100))
	}
	return d, nil
}

func parseAsset(s string) types.IntervalAsset {
	if strings.EqualFold(strings.TrimSpace(s), string(types.AssetSOL5m)) {
		return types.AssetSOL5m
	}
	return types.AssetBTC5m
}

func parseTIF(s string, fallback types.OrderType) types.OrderType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GTC":
		return types.OrderTypeGTC
	case "FOK":
		return types.OrderTypeFOK
	case "FAK":
		return types.OrderTypeFAK
	default:
		return fallback
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	one := decimal.NewFromInt(1)
	if c.MinBuyPrice.LessThanOrEqual(decimal.Zero) || c.MinBuyPrice.GreaterThan(one) {
		return fmt.Errorf("MM_MIN_BUY_PRICE must be in (0, 1], got %s", c.MinBuyPrice)
	}
	if c.MaxBuyPrice.LessThanOrEqual(decimal.Zero) || c.MaxBuyPrice.GreaterThan(one) {
		return fmt.Errorf("MM_MAX_BUY_PRICE must be in (0, 1], got %s", c.MaxBuyPrice)
	}
	if c.MinBuyPrice.GreaterThan(c.MaxBuyPrice) {
		return fmt.Errorf("MM_MIN_BUY_PRICE %s exceeds MM_MAX_BUY_PRICE %s", c.MinBuyPrice, c.MaxBuyPrice)
	}
	if c.SizeShares.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("MM_SIZE_SHARES must be > 0")
	}
	if c.TakeProfitPriceMargin.IsNegative() || c.TakeProfitPriceMargin.GreaterThan(decimal.RequireFromString("0.05")) {
		return fmt.Errorf("MM_TAKE_PROFIT_PRICE_MARGIN must be in [0, 0.05], got %s", c.TakeProfitPriceMargin)
	}
	if c.AutoSellQuantityPct < 1 || c.AutoSellQuantityPct > 100 {
		return fmt.Errorf("MM_TAKE_PROFIT_QUANTITY_PERCENT must be in [1, 100], got %d", c.AutoSellQuantityPct)
	}
	if c.StopLossQuantityPct < 1 || c.StopLossQuantityPct > 100 {
		return fmt.Errorf("MM_STOP_LOSS_QUANTITY_PERCENT must be in [1, 100], got %d", c.StopLossQuantityPct)
	}
	if c.LoopMS < 1 || c.LoopMS > 500 {
		return fmt.Errorf("MM_LOOP_MS must be in [1, 500], got %d", c.LoopMS)
	}
	if c.CooldownMS < 0 || c.CooldownMS > 60000 {
		return fmt.Errorf("MM_COOLDOWN_MS must be in [0, 60000], got %d", c.CooldownMS)
	}
	if c.MinSecondsAfterMarketOpen > 300 {
		return fmt.Errorf("MM_MIN_SECONDS_AFTER_MARKET_OPEN must be <= 300, got %d", c.MinSecondsAfterMarketOpen)
	}
	// The first seconds of an interval open with a one-sided book; never
	// enter before the exchange has seeded both outcome tokens.
	if c.MinSecondsAfterMarketOpen < 3 {
		c.MinSecondsAfterMarketOpen = 3
	}
	if c.MinSecondsAfterBuy < 0 || c.MinSecondsAfterBuy > 30 {
		return fmt.Errorf("MM_MIN_SECONDS_AFTER_BUY_BEFORE_AUTO_SELL must be in [0, 30], got %d", c.MinSecondsAfterBuy)
	}
	switch c.TakeProfitTimeInForce {
	case types.OrderTypeGTC, types.OrderTypeFOK, types.OrderTypeFAK:
	default:
		return fmt.Errorf("MM_TAKE_PROFIT_TIME_IN_FORCE must be GTC, FOK or FAK")
	}
	if !c.DryRun {
		if c.PrivateKey == "" {
			return fmt.Errorf("PRIVATE_KEY is required (or set MM_DRY_RUN=true)")
		}
		if c.ApiKey == "" || c.Secret == "" || c.Passphrase == "" {
			return fmt.Errorf("API_KEY, SECRET and PASSPHRASE are required (or set MM_DRY_RUN=true)")
		}
	}
	switch c.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("SIGNATURE_TYPE must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	return nil
}

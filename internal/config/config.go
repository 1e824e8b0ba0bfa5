// Package config defines all configuration for the trading platform.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via EA_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/heheshang/ea-okx/internal/backtest"
	"github.com/heheshang/ea-okx/internal/cost"
	"github.com/heheshang/ea-okx/internal/risk"
	"github.com/heheshang/ea-okx/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Symbols      []string           `mapstructure:"symbols"`
	Exchange     ExchangeConfig     `mapstructure:"exchange"`
	OrderManager OrderManagerConfig `mapstructure:"order_manager"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Cost         CostConfig         `mapstructure:"cost"`
	Data         DataConfig         `mapstructure:"data"`
	Backtest     BacktestConfig     `mapstructure:"backtest"`
	Store        StoreConfig        `mapstructure:"store"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ExchangeConfig holds OKX endpoints and API credentials. Credentials are
// normally supplied via EA_API_KEY, EA_SECRET_KEY, EA_PASSPHRASE.
type ExchangeConfig struct {
	RestBaseURL  string `mapstructure:"rest_base_url"`
	WSPublicURL  string `mapstructure:"ws_public_url"`
	WSPrivateURL string `mapstructure:"ws_private_url"`
	APIKey       string `mapstructure:"api_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Passphrase   string `mapstructure:"passphrase"`
	Simulated    bool   `mapstructure:"simulated"`
}

// OrderManagerConfig tunes submission retry and reconciliation.
type OrderManagerConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	OrderTimeout      time.Duration `mapstructure:"order_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
}

// RiskConfig sets the pre-trade limits.
//
//   - MaxPositionSize: per-symbol cap on position quantity after a fill.
//   - MaxLeverage: gross exposure over equity ceiling.
//   - DailyLossLimit: once breached, every new order is rejected.
//   - MaxConcentrationPct: single-order share of equity (warning only).
//   - MaxOpenPositions: new-symbol cap (warning only).
//   - MinMarginRatio: required margin as a fraction of order notional.
type RiskConfig struct {
	MaxPositionSize     map[string]float64 `mapstructure:"max_position_size"`
	MaxPortfolioValue   float64            `mapstructure:"max_portfolio_value"`
	MaxLeverage         float64            `mapstructure:"max_leverage"`
	DailyLossLimit      float64            `mapstructure:"daily_loss_limit"`
	MaxConcentrationPct float64            `mapstructure:"max_concentration_pct"`
	MaxOpenPositions    int                `mapstructure:"max_open_positions"`
	MinMarginRatio      float64            `mapstructure:"min_margin_ratio"`
}

// CostConfig selects the commission/slippage model.
type CostConfig struct {
	// Preset selects a named model: okx_spot, okx_spot_conservative,
	// okx_futures_aggressive. Empty uses the default.
	Preset string `mapstructure:"preset"`
}

// DataConfig tunes the collector and candle store.
type DataConfig struct {
	Interval      string        `mapstructure:"interval"`
	CandleDBPath  string        `mapstructure:"candle_db_path"`
	MaxStaleness  time.Duration `mapstructure:"max_staleness"`
	AnomalyZScore float64       `mapstructure:"anomaly_zscore"`
}

// BacktestConfig parameterizes backtest runs.
type BacktestConfig struct {
	InitialCapital float64   `mapstructure:"initial_capital"`
	StartTime      time.Time `mapstructure:"start_time"`
	EndTime        time.Time `mapstructure:"end_time"`
	MaxPositions   int       `mapstructure:"max_positions"`
	SizingMode     string    `mapstructure:"sizing_mode"`
	SizingAmount   float64   `mapstructure:"sizing_amount"`
	SizingPercent  float64   `mapstructure:"sizing_percent"`
	KellyWinRate   float64   `mapstructure:"kelly_win_rate"`
	KellyRatio     float64   `mapstructure:"kelly_ratio"`
}

// StoreConfig sets where run artifacts are persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: EA_API_KEY, EA_SECRET_KEY, EA_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("EA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("EA_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("EA_SECRET_KEY"); secret != "" {
		cfg.Exchange.SecretKey = secret
	}
	if pass := os.Getenv("EA_PASSPHRASE"); pass != "" {
		cfg.Exchange.Passphrase = pass
	}
	if os.Getenv("EA_SIMULATED") == "true" || os.Getenv("EA_SIMULATED") == "1" {
		cfg.Exchange.Simulated = true
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols is required")
	}
	for _, s := range c.Symbols {
		if _, err := types.NewSymbol(s); err != nil {
			return fmt.Errorf("symbols: %w", err)
		}
	}
	if c.Exchange.RestBaseURL == "" {
		return fmt.Errorf("exchange.rest_base_url is required")
	}
	if c.Risk.MaxLeverage <= 0 {
		return fmt.Errorf("risk.max_leverage must be > 0")
	}
	if c.Risk.DailyLossLimit <= 0 {
		return fmt.Errorf("risk.daily_loss_limit must be > 0")
	}
	if c.Risk.MaxOpenPositions <= 0 {
		return fmt.Errorf("risk.max_open_positions must be > 0")
	}
	if c.OrderManager.OrderTimeout <= 0 {
		return fmt.Errorf("order_manager.order_timeout must be > 0")
	}
	switch c.Cost.Preset {
	case "", "okx_spot", "okx_spot_conservative", "okx_futures_aggressive":
	default:
		return fmt.Errorf("cost.preset %q unknown", c.Cost.Preset)
	}
	return nil
}

// ParsedSymbols converts the configured symbol strings. Call after
// Validate.
func (c *Config) ParsedSymbols() []types.Symbol {
	symbols := make([]types.Symbol, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		if sym, err := types.NewSymbol(s); err == nil {
			symbols = append(symbols, sym)
		}
	}
	return symbols
}

// RiskLimits converts the YAML-friendly float fields into the validator's
// decimal limits.
func (c *Config) RiskLimits() risk.Limits {
	limits := risk.Limits{
		MaxPositionSize:     make(map[string]decimal.Decimal, len(c.Risk.MaxPositionSize)),
		MaxPortfolioValue:   decimal.NewFromFloat(c.Risk.MaxPortfolioValue),
		MaxLeverage:         decimal.NewFromFloat(c.Risk.MaxLeverage),
		DailyLossLimit:      decimal.NewFromFloat(c.Risk.DailyLossLimit),
		MaxConcentrationPct: decimal.NewFromFloat(c.Risk.MaxConcentrationPct),
		MaxOpenPositions:    c.Risk.MaxOpenPositions,
		MinMarginRatio:      decimal.NewFromFloat(c.Risk.MinMarginRatio),
	}
	for symbol, qty := range c.Risk.MaxPositionSize {
		if sym, err := types.NewSymbol(symbol); err == nil {
			limits.MaxPositionSize[sym.String()] = decimal.NewFromFloat(qty)
		}
	}
	return limits
}

// CostModel resolves the configured preset.
func (c *Config) CostModel() cost.Model {
	switch c.Cost.Preset {
	case "okx_spot_conservative":
		return cost.OKXSpotConservative()
	case "okx_futures_aggressive":
		return cost.OKXFuturesAggressive()
	default:
		return cost.Default()
	}
}

// BacktestRun converts the backtest section into an engine config.
func (c *Config) BacktestRun() backtest.Config {
	cfg := backtest.DefaultConfig()
	cfg.Symbols = c.ParsedSymbols()
	cfg.Interval = c.Data.Interval
	cfg.CostModel = c.CostModel()
	if c.Backtest.InitialCapital > 0 {
		cfg.InitialCapital = decimal.NewFromFloat(c.Backtest.InitialCapital)
	}
	if c.Backtest.MaxPositions > 0 {
		cfg.MaxPositions = c.Backtest.MaxPositions
	}
	cfg.StartTime = c.Backtest.StartTime
	cfg.EndTime = c.Backtest.EndTime

	switch c.Backtest.SizingMode {
	case "fixed":
		cfg.Sizing = backtest.PositionSizing{
			Mode:   backtest.SizingFixed,
			Amount: decimal.NewFromFloat(c.Backtest.SizingAmount),
		}
	case "kelly":
		cfg.Sizing = backtest.PositionSizing{
			Mode:         backtest.SizingKelly,
			WinRate:      decimal.NewFromFloat(c.Backtest.KellyWinRate),
			WinLossRatio: decimal.NewFromFloat(c.Backtest.KellyRatio),
		}
	case "percent_of_equity":
		cfg.Sizing = backtest.PositionSizing{
			Mode:    backtest.SizingPercentOfEquity,
			Percent: decimal.NewFromFloat(c.Backtest.SizingPercent),
		}
	}
	return cfg
}

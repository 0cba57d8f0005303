package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Trading  Trading  `mapstructure:"trading"`
	Risk     Risk     `mapstructure:"risk"`
	Logger   Logger   `mapstructure:"logger"`
	Database Database `mapstructure:"database"`
	Lock     Lock     `mapstructure:"lock"`
}

// Binance holds the configuration for the Binance API.
type Binance struct {
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Asset is one configured tradable asset.
type Asset struct {
	Name          string  `mapstructure:"name"`
	Symbol        string  `mapstructure:"symbol"`
	Active        bool    `mapstructure:"active"`
	ProfitPercent float64 `mapstructure:"profit_percent"`
	MaxAllocation float64 `mapstructure:"max_allocation"`
}

// Trading holds the configuration for the trading logic.
type Trading struct {
	QuoteAsset        string  `mapstructure:"quote_asset"`
	Assets            []Asset `mapstructure:"assets"`
	RsiPeriod         int     `mapstructure:"rsi_period"`
	Timeframe         string  `mapstructure:"timeframe"`
	MaxTradeAmount    float64 `mapstructure:"max_trade_amount"`
	MinBalanceReserve float64 `mapstructure:"min_balance_reserve"`
	MinOrderNotional  float64 `mapstructure:"min_order_notional"`
	DryRun            bool    `mapstructure:"dry_run"`
}

// Risk holds the per-order and process-wide risk parameters.
type Risk struct {
	CooldownMinutes       int     `mapstructure:"cooldown_minutes"`
	MaxDailyTrades        int     `mapstructure:"max_daily_trades"`
	MaxPositionsPerSymbol int     `mapstructure:"max_positions_per_symbol"`
	StopLossPercent       float64 `mapstructure:"stop_loss_percent"`
	StopLimitBuffer       float64 `mapstructure:"stop_limit_buffer"`
	FirstEntryRsi         float64 `mapstructure:"first_entry_rsi"`
	ReEntryRsi            float64 `mapstructure:"re_entry_rsi"`
	UseBracketOrders      bool    `mapstructure:"use_bracket_orders"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN           string `mapstructure:"dsn"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Lock holds the single-instance advisory lock configuration.
type Lock struct {
	Path string `mapstructure:"path"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("binance.rate_limit", 20)      // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5) // burst size
	viper.SetDefault("trading.quote_asset", "USDC")
	viper.SetDefault("trading.rsi_period", 14)
	viper.SetDefault("trading.timeframe", "1h")
	viper.SetDefault("trading.max_trade_amount", 165)
	viper.SetDefault("trading.min_balance_reserve", 21)
	viper.SetDefault("trading.min_order_notional", 10)
	viper.SetDefault("risk.cooldown_minutes", 30)
	viper.SetDefault("risk.max_daily_trades", 50)
	viper.SetDefault("risk.max_positions_per_symbol", 10)
	viper.SetDefault("risk.stop_loss_percent", -8.0)
	viper.SetDefault("risk.stop_limit_buffer", 0.02)
	viper.SetDefault("risk.first_entry_rsi", 35)
	viper.SetDefault("risk.re_entry_rsi", 30)
	viper.SetDefault("risk.use_bracket_orders", true)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.max_size_mb", 20)
	viper.SetDefault("logger.max_backups", 5)
	viper.SetDefault("database.dsn", "db/trading.db")
	viper.SetDefault("database.retention_days", 365)
	viper.SetDefault("lock.path", "db/trader.lock")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}

// Validate checks the configuration before any trading begins. It returns a
// fatal error for values the engine cannot run with and a list of warnings
// for suspicious but workable ones.
func (c *Config) Validate() (warnings []string, err error) {
	if c.Binance.ApiKey == "" || c.Binance.SecretKey == "" {
		return nil, fmt.Errorf("binance api credentials are required")
	}
	if c.Trading.QuoteAsset == "" {
		return nil, fmt.Errorf("trading.quote_asset is required")
	}

	active := 0
	for i, a := range c.Trading.Assets {
		if !a.Active {
			continue
		}
		active++
		if a.Symbol == "" {
			return nil, fmt.Errorf("asset #%d is active but has no symbol", i)
		}
		if a.ProfitPercent <= 0 || a.ProfitPercent >= 100 {
			return nil, fmt.Errorf("asset %s: profit_percent must be in (0, 100), got %.2f", a.Symbol, a.ProfitPercent)
		}
		if a.MaxAllocation <= 0 || a.MaxAllocation > 1 {
			return nil, fmt.Errorf("asset %s: max_allocation must be in (0, 1], got %.3f", a.Symbol, a.MaxAllocation)
		}
	}
	if active == 0 {
		warnings = append(warnings, "no active assets configured, nothing will be traded")
	}

	if c.Risk.StopLossPercent >= 0 || c.Risk.StopLossPercent <= -100 {
		return nil, fmt.Errorf("risk.stop_loss_percent must be in (-100, 0), got %.2f", c.Risk.StopLossPercent)
	}
	if c.Risk.StopLimitBuffer < 0 || c.Risk.StopLimitBuffer >= 1 {
		return nil, fmt.Errorf("risk.stop_limit_buffer must be in [0, 1), got %.3f", c.Risk.StopLimitBuffer)
	}
	if c.Risk.CooldownMinutes < 0 || c.Risk.MaxDailyTrades <= 0 || c.Risk.MaxPositionsPerSymbol <= 0 {
		return nil, fmt.Errorf("risk limits must be positive")
	}

	// Re-entering a position should need stronger oversold confirmation than
	// the first entry.
	if c.Risk.ReEntryRsi > c.Risk.FirstEntryRsi {
		warnings = append(warnings, fmt.Sprintf(
			"risk.re_entry_rsi (%.1f) is above risk.first_entry_rsi (%.1f); re-entries will be easier than first entries",
			c.Risk.ReEntryRsi, c.Risk.FirstEntryRsi))
	}

	return warnings, nil
}

// ActiveAssets returns the configured assets with Active set.
func (c *Config) ActiveAssets() []Asset {
	var out []Asset
	for _, a := range c.Trading.Assets {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

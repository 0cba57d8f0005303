package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Binance: Binance{ApiKey: "k", SecretKey: "s"},
		Trading: Trading{
			QuoteAsset: "USDC",
			Assets: []Asset{
				{Name: "BTC", Symbol: "BTCUSDC", Active: true, ProfitPercent: 3.0, MaxAllocation: 0.1},
			},
		},
		Risk: Risk{
			CooldownMinutes:       30,
			MaxDailyTrades:        50,
			MaxPositionsPerSymbol: 10,
			StopLossPercent:       -8.0,
			StopLimitBuffer:       0.02,
			FirstEntryRsi:         35,
			ReEntryRsi:            30,
		},
	}
}

func TestValidateOK(t *testing.T) {
	cfg := validConfig()
	warnings, err := cfg.Validate()
	assert.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestValidateFatalErrors(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing credentials", func(c *Config) { c.Binance.ApiKey = "" }},
		{"positive stop loss", func(c *Config) { c.Risk.StopLossPercent = 8.0 }},
		{"stop loss at or below -100", func(c *Config) { c.Risk.StopLossPercent = -150 }},
		{"profit percent out of range", func(c *Config) { c.Trading.Assets[0].ProfitPercent = 100 }},
		{"allocation out of range", func(c *Config) { c.Trading.Assets[0].MaxAllocation = 1.5 }},
		{"active asset without symbol", func(c *Config) { c.Trading.Assets[0].Symbol = "" }},
		{"zero daily trades", func(c *Config) { c.Risk.MaxDailyTrades = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			_, err := cfg.Validate()
			assert.Error(t, err)
		})
	}
}

func TestValidateWarnsOnInvertedRsiThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.ReEntryRsi = 40 // above first_entry_rsi

	warnings, err := cfg.Validate()
	assert.NoError(t, err)
	assert.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "re_entry_rsi")
}

func TestActiveAssets(t *testing.T) {
	cfg := validConfig()
	cfg.Trading.Assets = append(cfg.Trading.Assets,
		Asset{Name: "ETH", Symbol: "ETHUSDC", Active: false, ProfitPercent: 3, MaxAllocation: 0.1})

	active := cfg.ActiveAssets()
	assert.Len(t, active, 1)
	assert.Equal(t, "BTCUSDC", active[0].Symbol)
}

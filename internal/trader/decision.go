package trader

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"rsi-trade-bot/internal/indicator"
)

// ShouldBuy decides whether a buy for the symbol is allowed right now and
// returns a human-readable reason either way. Checks run cheapest first:
// security gates (cooldown, daily quota), then open position count, then the
// RSI entry thresholds. Any check that cannot be evaluated rejects the buy.
func (e *Engine) ShouldBuy(symbol string) (bool, string) {
	if ok, reason := e.checkTradingSecurity(symbol); !ok {
		return false, reason
	}

	count, err := e.CountPositions(symbol)
	if err != nil {
		return false, fmt.Sprintf("open position count unavailable: %v", err)
	}
	maxPositions := e.cfg.Risk.MaxPositionsPerSymbol
	if count >= maxPositions {
		return false, fmt.Sprintf("maximum of %d open positions reached for %s", maxPositions, symbol)
	}

	rsiVal, err := e.rsi.RSI(symbol, e.cfg.Trading.RsiPeriod, e.cfg.Trading.Timeframe)
	if err != nil {
		e.logger.Warn("RSI unavailable, treating momentum as neutral",
			zap.String("symbol", symbol), zap.Error(err))
		rsiVal = indicator.NeutralRSI
	}

	if count == 0 {
		threshold := e.cfg.Risk.FirstEntryRsi
		if rsiVal <= threshold {
			return true, fmt.Sprintf("first buy: RSI %.2f <= %.2f", rsiVal, threshold)
		}
		return false, fmt.Sprintf("RSI %.2f above first-entry threshold %.2f", rsiVal, threshold)
	}

	threshold := e.cfg.Risk.ReEntryRsi
	if rsiVal <= threshold {
		return true, fmt.Sprintf("re-entry with %d open position(s): RSI %.2f <= %.2f", count, rsiVal, threshold)
	}
	return false, fmt.Sprintf("%d open position(s), RSI %.2f above re-entry threshold %.2f", count, rsiVal, threshold)
}

// checkTradingSecurity enforces the per-symbol cooldown and the global daily
// buy quota. Persistence failures reject the buy rather than let an
// unverifiable trade through.
func (e *Engine) checkTradingSecurity(symbol string) (bool, string) {
	now := e.now()

	last, found, err := e.store.LastBuyTime(symbol)
	if err != nil {
		return false, fmt.Sprintf("could not check cooldown: %v", err)
	}
	cooldown := time.Duration(e.cfg.Risk.CooldownMinutes) * time.Minute
	if found {
		elapsed := now.Sub(last)
		if elapsed < cooldown {
			remaining := (cooldown - elapsed).Round(time.Second)
			return false, fmt.Sprintf("cooldown active for %s, %s remaining", symbol, remaining)
		}
	}

	count, err := e.store.CountBuysToday(now)
	if err != nil {
		return false, fmt.Sprintf("could not check daily quota: %v", err)
	}
	limit := int64(e.cfg.Risk.MaxDailyTrades)
	if count >= limit {
		return false, fmt.Sprintf("daily buy limit reached (%d/%d)", count, limit)
	}
	if float64(count) >= float64(limit)*0.8 {
		e.logger.Warn("Approaching daily buy limit",
			zap.Int64("count", count), zap.Int64("limit", limit))
	}
	return true, ""
}

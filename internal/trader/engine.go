package trader

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"rsi-trade-bot/internal/binance"
	"rsi-trade-bot/internal/config"
	"rsi-trade-bot/internal/database"
	"rsi-trade-bot/internal/indicator"
)

// Engine runs one full trading cycle per invocation: it reconciles open exit
// orders against the exchange, takes a portfolio snapshot, and then evaluates
// each configured asset for a buy. Scheduling across cycles is left to an
// external runner (cron, systemd timer).
type Engine struct {
	logger *zap.Logger
	cfg    *config.Config
	client binance.RestClientInterface
	store  *database.Store
	rsi    indicator.Source
	now    func() time.Time
}

// NewEngine creates a new trading engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, client binance.RestClientInterface, store *database.Store, rsi indicator.Source) *Engine {
	return &Engine{
		logger: logger,
		cfg:    cfg,
		client: client,
		store:  store,
		rsi:    rsi,
		now:    time.Now,
	}
}

// snapshot is the shared portfolio view for one cycle. All per-asset sizing
// decisions read from it so every asset sees the same balances and prices.
type snapshot struct {
	prices         map[string]float64
	free           map[string]float64
	locked         map[string]float64
	quoteFree      float64
	portfolioValue float64
}

func (s *snapshot) totalBalance(asset string) float64 {
	return s.free[asset] + s.locked[asset]
}

// RunCycle performs one complete cycle. Monitoring runs first so freshly
// filled exits are reflected in cooldown and position checks; a failure to
// take the portfolio snapshot aborts the cycle because no sizing decision is
// safe without it.
func (e *Engine) RunCycle(ctx context.Context) error {
	start := e.now()
	e.logger.Info("Starting trading cycle")

	if resolved, err := e.ReconcileExitOrders(); err != nil {
		e.logger.Error("Exit order reconciliation failed", zap.Error(err))
	} else if resolved > 0 {
		e.logger.Info("Resolved exit orders", zap.Int("count", resolved))
	}

	snap, err := e.takeSnapshot()
	if err != nil {
		return fmt.Errorf("portfolio snapshot failed: %w", err)
	}
	e.logger.Info("Portfolio snapshot",
		zap.Float64("portfolio_value", snap.portfolioValue),
		zap.Float64("free_quote", snap.quoteFree))

	processed, skipped := 0, 0
	for _, asset := range e.cfg.ActiveAssets() {
		if ctx.Err() != nil {
			e.logger.Warn("Cycle interrupted", zap.Error(ctx.Err()))
			break
		}
		if err := e.processAsset(asset, snap); err != nil {
			e.logger.Error("Asset processing failed",
				zap.String("symbol", asset.Symbol), zap.Error(err))
			skipped++
			continue
		}
		processed++
	}

	if days := e.cfg.Database.RetentionDays; days > 0 {
		cutoff := start.AddDate(0, 0, -days)
		if _, err := e.store.PruneTransactions(cutoff); err != nil {
			e.logger.Warn("Transaction pruning failed", zap.Error(err))
		}
	}

	e.logger.Info("Cycle complete",
		zap.Int("processed", processed),
		zap.Int("skipped", skipped),
		zap.Duration("duration", e.now().Sub(start)))
	return nil
}

// takeSnapshot fetches account balances and the full ticker map in one pass.
func (e *Engine) takeSnapshot() (*snapshot, error) {
	account, err := e.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("could not get account: %w", err)
	}
	prices, err := e.client.GetAllTickerPrices()
	if err != nil {
		return nil, fmt.Errorf("could not get ticker prices: %w", err)
	}

	snap := &snapshot{
		prices: prices,
		free:   make(map[string]float64),
		locked: make(map[string]float64),
	}
	for _, b := range account.Balances {
		free := binance.ParseFloatOrZero(b.Free)
		locked := binance.ParseFloatOrZero(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		snap.free[b.Asset] = free
		snap.locked[b.Asset] = locked
	}

	quote := e.cfg.Trading.QuoteAsset
	snap.quoteFree = snap.free[quote]
	snap.portfolioValue = snap.free[quote] + snap.locked[quote]
	for _, asset := range e.cfg.ActiveAssets() {
		bal := snap.totalBalance(asset.Name)
		if bal == 0 {
			continue
		}
		price, ok := snap.prices[asset.Symbol]
		if !ok {
			e.logger.Warn("No ticker price for held asset, excluding from portfolio value",
				zap.String("symbol", asset.Symbol))
			continue
		}
		snap.portfolioValue += bal * price
	}
	return snap, nil
}

// processAsset sizes and, when the entry conditions hold, executes a buy plus
// its exit order for a single asset. Errors here never touch other assets.
func (e *Engine) processAsset(asset config.Asset, snap *snapshot) error {
	symbol := asset.Symbol
	price, ok := snap.prices[symbol]
	if !ok || price <= 0 {
		return fmt.Errorf("no ticker price for %s", symbol)
	}

	currentValue := snap.totalBalance(asset.Name) * price
	targetValue := snap.portfolioValue * asset.MaxAllocation
	missing := targetValue - currentValue
	if missing < e.cfg.Trading.MinOrderNotional {
		e.logger.Debug("Allocation satisfied",
			zap.String("symbol", symbol),
			zap.Float64("current_value", currentValue),
			zap.Float64("target_value", targetValue))
		return nil
	}

	invest := math.Min(e.cfg.Trading.MaxTradeAmount, snap.quoteFree*0.25)
	invest = math.Min(invest, missing)
	invest = math.Min(invest, snap.quoteFree-e.cfg.Trading.MinBalanceReserve)
	if invest < e.cfg.Trading.MinOrderNotional {
		e.logger.Info("Insufficient free quote balance for a trade",
			zap.String("symbol", symbol),
			zap.Float64("investable", invest),
			zap.Float64("free_quote", snap.quoteFree))
		return nil
	}

	buy, reason := e.ShouldBuy(symbol)
	e.logger.Info("Buy decision",
		zap.String("symbol", symbol),
		zap.Bool("buy", buy),
		zap.String("reason", reason))
	if !buy {
		return nil
	}

	if e.cfg.Trading.DryRun {
		e.logger.Warn("Dry run enabled, skipping order placement",
			zap.String("symbol", symbol),
			zap.Float64("quote_amount", invest))
		return nil
	}

	tx, err := e.ExecuteBuy(symbol, invest)
	if err != nil {
		return fmt.Errorf("buy failed: %w", err)
	}
	snap.quoteFree -= tx.Price * tx.Quantity

	var link *uint
	if tx.ID != 0 {
		link = &tx.ID
	}
	exit, err := e.ExecuteExit(symbol, tx.Quantity, tx.Price, asset.ProfitPercent, link)
	if err != nil {
		return fmt.Errorf("exit placement failed: %w", err)
	}
	e.logger.Info("Position opened",
		zap.String("symbol", symbol),
		zap.Float64("quantity", tx.Quantity),
		zap.Float64("buy_price", tx.Price),
		zap.String("exit_kind", exit.Kind),
		zap.Float64("target_price", exit.TargetPrice))
	return nil
}

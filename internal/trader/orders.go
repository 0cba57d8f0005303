package trader

import (
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"rsi-trade-bot/internal/binance"
	"rsi-trade-bot/internal/models"
)

// ExecuteBuy places a market buy for quoteAmount worth of the symbol's base
// asset and records the resulting transaction. The returned transaction
// aggregates all partial fills: summed quantity, notional-weighted average
// price and summed commission. The error covers exchange failures only; a
// persistence failure after a confirmed fill is logged as a critical
// inconsistency and the in-memory transaction is still returned.
func (e *Engine) ExecuteBuy(symbol string, quoteAmount float64) (*models.Transaction, error) {
	price, err := e.client.GetPrice(symbol)
	if err != nil {
		return nil, fmt.Errorf("could not get price for %s: %w", symbol, err)
	}
	filters, err := e.client.GetSymbolFilters(symbol)
	if err != nil {
		return nil, fmt.Errorf("could not get symbol filters for %s: %w", symbol, err)
	}

	quantity := NormalizeQuantity(quoteAmount/price, filters.MinQty, filters.MaxQty, filters.StepSize)
	if quantity < filters.MinQty || quantity <= 0 {
		return nil, fmt.Errorf("quote amount %.8f yields unorderable quantity %.8f for %s", quoteAmount, quantity, symbol)
	}

	e.logger.Info("Placing market buy",
		zap.String("symbol", symbol),
		zap.Float64("quantity", quantity),
		zap.Float64("quote_amount", quoteAmount))

	order, err := e.client.PlaceMarketBuy(symbol, quantity)
	if err != nil {
		return nil, err
	}

	tx := e.aggregateFills(symbol, order)
	created, err := e.store.InsertTransaction(tx)
	if err != nil {
		e.logger.Error("CRITICAL: buy filled on exchange but could not be recorded locally",
			zap.String("symbol", symbol),
			zap.String("order_id", tx.OrderID),
			zap.Error(err))
		return tx, nil
	}
	if !created {
		e.logger.Warn("Buy transaction was already recorded",
			zap.String("symbol", symbol), zap.String("order_id", tx.OrderID))
	}
	return tx, nil
}

// aggregateFills reduces a market order's fills to a single transaction.
// Commissions are summed only while they share one asset; a fill charged in
// a different asset is excluded with a warning rather than converted.
func (e *Engine) aggregateFills(symbol string, order *binance.CreateOrderResponse) *models.Transaction {
	var totalQty, totalNotional, commission float64
	commissionAsset := ""
	for _, f := range order.Fills {
		fillQty := binance.ParseFloatOrZero(f.Qty)
		fillPrice := binance.ParseFloatOrZero(f.Price)
		totalQty += fillQty
		totalNotional += fillQty * fillPrice

		if commissionAsset == "" || f.CommissionAsset == commissionAsset {
			commissionAsset = f.CommissionAsset
			commission += binance.ParseFloatOrZero(f.Commission)
		} else {
			e.logger.Warn("Fill commission charged in a different asset, excluding from total",
				zap.String("symbol", symbol),
				zap.String("expected_asset", commissionAsset),
				zap.String("fill_asset", f.CommissionAsset))
		}
	}

	avgPrice := 0.0
	switch {
	case totalQty > 0:
		avgPrice = totalNotional / totalQty
	default:
		// some endpoints omit fills; fall back to the order totals
		totalQty = binance.ParseFloatOrZero(order.ExecutedQuantity)
		quoteQty := binance.ParseFloatOrZero(order.CummulativeQuoteQty)
		if totalQty > 0 {
			avgPrice = quoteQty / totalQty
		}
	}

	return &models.Transaction{
		Symbol:          symbol,
		OrderID:         strconv.FormatInt(order.OrderID, 10),
		Side:            models.SideBuy,
		Price:           avgPrice,
		Quantity:        totalQty,
		Commission:      commission,
		CommissionAsset: commissionAsset,
		TransactTime:    order.TransactTime,
	}
}

// ExecuteExit places the exit order for a filled buy: a bracket (take-profit
// plus stop-loss) when enabled, degrading to a plain take-profit limit when
// the exchange rejects the bracket outright. The persisted ExitOrder row is
// returned; callers can tell the two shapes apart by its Kind.
func (e *Engine) ExecuteExit(symbol string, boughtQty, buyPrice, profitPercent float64, buyTxID *uint) (*models.ExitOrder, error) {
	filters, err := e.client.GetSymbolFilters(symbol)
	if err != nil {
		return nil, fmt.Errorf("could not get symbol filters for %s: %w", symbol, err)
	}

	targetPrice := RoundTick(TargetSellPrice(buyPrice, profitPercent), filters.TickSize)
	stopPrice, stopLimitPrice := StopPrices(buyPrice, e.cfg.Risk.StopLossPercent, e.cfg.Risk.StopLimitBuffer)
	stopPrice = RoundTick(stopPrice, filters.TickSize)
	stopLimitPrice = RoundTick(stopLimitPrice, filters.TickSize)

	sellQty, keptQty, err := CapitalRecoverySplit(boughtQty, buyPrice, targetPrice, filters.MinNotional, filters.StepSize)
	if err != nil {
		return nil, fmt.Errorf("cannot build exit order for %s: %w", symbol, err)
	}

	exit := &models.ExitOrder{
		Symbol:           symbol,
		BuyTransactionID: buyTxID,
		TargetPrice:      targetPrice,
		StopPrice:        stopPrice,
		QuantityToSell:   sellQty,
		QuantityKept:     keptQty,
		Status:           models.StatusActive,
	}

	placed := false
	if e.cfg.Risk.UseBracketOrders {
		bracket, err := e.client.PlaceBracketSell(symbol, sellQty, targetPrice, stopPrice, stopLimitPrice)
		switch {
		case err == nil:
			exit.Kind = models.KindBracket
			exit.GroupID = strconv.FormatInt(bracket.OrderListID, 10)
			for _, report := range bracket.OrderReports {
				switch report.Type {
				case binance.OrderTypeLimitMaker:
					exit.ProfitOrderID = strconv.FormatInt(report.OrderID, 10)
				case binance.OrderTypeStopLossLimit:
					exit.StopOrderID = strconv.FormatInt(report.OrderID, 10)
				}
			}
			placed = true
		case binance.IsNonRetryable(err):
			e.logger.Warn("Bracket order rejected, falling back to plain take-profit limit",
				zap.String("symbol", symbol), zap.Error(err))
		default:
			return nil, fmt.Errorf("bracket placement failed for %s: %w", symbol, err)
		}
	}

	if !placed {
		order, err := e.client.PlaceLimitSell(symbol, sellQty, targetPrice)
		if err != nil {
			return nil, fmt.Errorf("limit sell placement failed for %s: %w", symbol, err)
		}
		exit.Kind = models.KindPlain
		exit.OrderID = strconv.FormatInt(order.OrderID, 10)
		exit.StopPrice = 0
		e.logger.Warn("Position has no stop-loss protection",
			zap.String("symbol", symbol),
			zap.String("order_id", exit.OrderID))
	}

	if err := e.store.InsertExitOrder(exit); err != nil {
		e.logger.Error("CRITICAL: exit order placed on exchange but could not be recorded locally",
			zap.String("symbol", symbol),
			zap.String("kind", exit.Kind),
			zap.String("group_id", exit.GroupID),
			zap.String("order_id", exit.OrderID),
			zap.Error(err))
		return exit, nil
	}

	e.logger.Info("Exit order placed",
		zap.String("symbol", symbol),
		zap.String("kind", exit.Kind),
		zap.Float64("sell_quantity", sellQty),
		zap.Float64("kept_quantity", keptQty),
		zap.Float64("target_price", targetPrice),
		zap.Float64("stop_price", exit.StopPrice))
	return exit, nil
}

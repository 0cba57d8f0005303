package trader

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"rsi-trade-bot/internal/binance"
	"rsi-trade-bot/internal/models"
)

// historyLookback pads the order-history scan window so orders placed just
// before the exit row was written are still visible.
const historyLookback = time.Hour

// ReconcileExitOrders polls every locally active exit order against the
// exchange and settles the ones that reached a terminal state. A failure on
// one order is logged and skipped so the rest still reconcile; the returned
// error covers only the initial listing.
func (e *Engine) ReconcileExitOrders() (int, error) {
	active, err := e.store.ListActiveExitOrders()
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range active {
		order := &active[i]
		var done bool
		var rerr error
		switch order.Kind {
		case models.KindBracket:
			done, rerr = e.reconcileBracket(order)
		case models.KindPlain:
			done, rerr = e.reconcilePlain(order)
		default:
			e.logger.Error("Exit order with unknown kind, skipping",
				zap.Uint("id", order.ID), zap.String("kind", order.Kind))
			continue
		}
		if rerr != nil {
			e.logger.Error("Failed to reconcile exit order",
				zap.Uint("id", order.ID),
				zap.String("symbol", order.Symbol),
				zap.Error(rerr))
			continue
		}
		if done {
			resolved++
		}
	}
	return resolved, nil
}

// reconcileBracket checks both legs of a bracket. The fast path queries each
// leg directly; when the exchange no longer recognizes a leg the recent order
// history decides between canceled and externally executed.
func (e *Engine) reconcileBracket(order *models.ExitOrder) (bool, error) {
	profitOrd, perr := e.client.GetOrder(order.Symbol, order.ProfitOrderID)
	if perr == nil && profitOrd.Status == binance.OrderStatusFilled {
		return e.settleFill(order, models.LegProfit, profitOrd)
	}
	stopOrd, serr := e.client.GetOrder(order.Symbol, order.StopOrderID)
	if serr == nil && stopOrd.Status == binance.OrderStatusFilled {
		return e.settleFill(order, models.LegStop, stopOrd)
	}

	if binance.IsUnknownOrder(perr) || binance.IsUnknownOrder(serr) {
		return e.reconcileFromHistory(order)
	}
	if perr != nil {
		return false, perr
	}
	if serr != nil {
		return false, serr
	}

	if terminalOrderStatus(profitOrd.Status) && terminalOrderStatus(stopOrd.Status) {
		return e.settleCanceled(order)
	}
	return false, nil
}

// reconcileFromHistory resolves a bracket whose legs the order query no
// longer returns by scanning recent orders for the group id.
func (e *Engine) reconcileFromHistory(order *models.ExitOrder) (bool, error) {
	since := order.CreatedAt.Add(-historyLookback)
	history, err := e.client.ListRecentOrders(order.Symbol, since)
	if err != nil {
		return false, err
	}

	groupID, _ := strconv.ParseInt(order.GroupID, 10, 64)
	found := false
	var filled *binance.Order
	for i := range history {
		if history[i].OrderListID != groupID {
			continue
		}
		found = true
		if history[i].Status == binance.OrderStatusFilled {
			filled = &history[i]
			break
		}
	}

	if !found {
		// the whole group fell out of the visible history, nothing executed
		return e.settleCanceled(order)
	}
	if filled == nil {
		updated, err := e.store.UpdateExitOrderStatus(order.Kind, order.GroupID, models.StatusUnknownExecuted, 0, 0, models.LegUnknown)
		if err != nil {
			return false, err
		}
		if updated {
			e.logger.Error("Exit order group resolved outside the order query with no filled leg, manual review needed",
				zap.String("symbol", order.Symbol),
				zap.String("group_id", order.GroupID))
		}
		return updated, nil
	}

	leg := models.LegUnknown
	switch strconv.FormatInt(filled.OrderID, 10) {
	case order.ProfitOrderID:
		leg = models.LegProfit
	case order.StopOrderID:
		leg = models.LegStop
	}
	return e.settleFill(order, leg, filled)
}

// reconcilePlain checks a single take-profit limit order. An order the
// exchange no longer recognizes may still have filled before aging out of the
// query, so the recent history gets the final word.
func (e *Engine) reconcilePlain(order *models.ExitOrder) (bool, error) {
	ord, err := e.client.GetOrder(order.Symbol, order.OrderID)
	if binance.IsUnknownOrder(err) {
		return e.reconcilePlainFromHistory(order)
	}
	if err != nil {
		return false, err
	}

	switch {
	case ord.Status == binance.OrderStatusFilled:
		return e.settleFill(order, models.LegProfit, ord)
	case terminalOrderStatus(ord.Status):
		return e.settleCanceled(order)
	default:
		return false, nil
	}
}

// reconcilePlainFromHistory resolves a plain order the order query no longer
// returns by scanning recent orders for its id.
func (e *Engine) reconcilePlainFromHistory(order *models.ExitOrder) (bool, error) {
	since := order.CreatedAt.Add(-historyLookback)
	history, err := e.client.ListRecentOrders(order.Symbol, since)
	if err != nil {
		return false, err
	}

	orderID, _ := strconv.ParseInt(order.OrderID, 10, 64)
	for i := range history {
		if history[i].OrderID != orderID {
			continue
		}
		if history[i].Status == binance.OrderStatusFilled {
			return e.settleFill(order, models.LegProfit, &history[i])
		}
		if terminalOrderStatus(history[i].Status) {
			return e.settleCanceled(order)
		}
		updated, uerr := e.store.UpdateExitOrderStatus(order.Kind, order.OrderID, models.StatusUnknownExecuted, 0, 0, models.LegUnknown)
		if uerr != nil {
			return false, uerr
		}
		if updated {
			e.logger.Error("Exit order unresolved between the order query and history, manual review needed",
				zap.String("symbol", order.Symbol),
				zap.String("order_id", order.OrderID))
		}
		return updated, nil
	}

	// fell out of the visible history without a fill
	return e.settleCanceled(order)
}

// settleFill marks the exit order with the filled leg's outcome and records
// the matching sell transaction. Both writes are idempotent, so reconciling
// the same fill twice is harmless.
func (e *Engine) settleFill(order *models.ExitOrder, leg string, ord *binance.Order) (bool, error) {
	price := binance.ParseFloatOrZero(ord.Price)
	qty := binance.ParseFloatOrZero(ord.ExecutedQty)

	status := models.StatusProfitFilled
	if leg == models.LegStop {
		status = models.StatusStopFilled
	}
	updated, err := e.store.UpdateExitOrderStatus(order.Kind, e.statusKey(order), status, price, qty, leg)
	if err != nil {
		return false, err
	}

	tx := &models.Transaction{
		Symbol:       order.Symbol,
		OrderID:      strconv.FormatInt(ord.OrderID, 10),
		Side:         models.SideSell,
		Price:        price,
		Quantity:     qty,
		TransactTime: ord.UpdateTime,
	}
	if _, err := e.store.InsertTransaction(tx); err != nil {
		return updated, err
	}

	if updated {
		if leg == models.LegStop {
			e.logger.Warn("Stop-loss leg filled, position closed at a loss",
				zap.String("symbol", order.Symbol),
				zap.Float64("price", price),
				zap.Float64("quantity", qty))
		} else {
			e.logger.Info("Take-profit filled, capital recovered",
				zap.String("symbol", order.Symbol),
				zap.Float64("price", price),
				zap.Float64("quantity", qty),
				zap.Float64("kept_quantity", order.QuantityKept))
		}
	}
	return updated, nil
}

// settleCanceled closes out an exit order whose legs ended without a fill.
func (e *Engine) settleCanceled(order *models.ExitOrder) (bool, error) {
	updated, err := e.store.UpdateExitOrderStatus(order.Kind, e.statusKey(order), models.StatusExpiredOrCanceled, 0, 0, "")
	if err != nil {
		return false, err
	}
	if updated {
		e.logger.Warn("Exit order canceled or expired without executing, position is unprotected",
			zap.String("symbol", order.Symbol),
			zap.String("group_id", order.GroupID),
			zap.String("order_id", order.OrderID))
	}
	return updated, nil
}

func (e *Engine) statusKey(order *models.ExitOrder) string {
	if order.Kind == models.KindBracket {
		return order.GroupID
	}
	return order.OrderID
}

func terminalOrderStatus(status string) bool {
	return status == binance.OrderStatusFilled ||
		status == binance.OrderStatusCanceled ||
		status == binance.OrderStatusExpired
}

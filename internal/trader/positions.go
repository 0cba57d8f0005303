package trader

import (
	"fmt"

	"rsi-trade-bot/internal/binance"
)

// CountPositions counts logical open positions for a symbol from its open
// SELL orders. The two legs of a bracket share a group id and count as one
// position; each standalone sell order counts on its own.
func (e *Engine) CountPositions(symbol string) (int, error) {
	orders, err := e.client.GetOpenOrders(symbol)
	if err != nil {
		return 0, fmt.Errorf("could not list open orders for %s: %w", symbol, err)
	}

	groups := make(map[int64]struct{})
	singles := 0
	for _, o := range orders {
		if o.Side != binance.OrderSideSell {
			continue
		}
		if o.OrderListID != binance.GroupIDNone {
			groups[o.OrderListID] = struct{}{}
		} else {
			singles++
		}
	}
	return len(groups) + singles, nil
}

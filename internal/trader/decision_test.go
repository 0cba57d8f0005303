package trader

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"rsi-trade-bot/internal/binance"
	"rsi-trade-bot/internal/models"
)

func recordBuy(t *testing.T, h *testHarness, symbol string, orderID string, at time.Time) {
	t.Helper()
	_, err := h.store.InsertTransaction(&models.Transaction{
		Symbol:       symbol,
		OrderID:      orderID,
		Side:         models.SideBuy,
		Price:        100,
		Quantity:     1,
		TransactTime: at.UnixMilli(),
	})
	assert.NoError(t, err)
}

func TestShouldBuyCooldownBeatsAnyRsi(t *testing.T) {
	h := newTestHarness(t)
	recordBuy(t, h, "BTCUSDC", "1", h.now.Add(-5*time.Minute))

	buy, reason := h.engine.ShouldBuy("BTCUSDC")
	assert.False(t, buy)
	assert.Contains(t, reason, "cooldown")
	// rejected before any market data is touched
	h.rsi.AssertNotCalled(t, "RSI", mock.Anything, mock.Anything, mock.Anything)
	h.client.AssertNotCalled(t, "GetOpenOrders", mock.Anything)
}

func TestShouldBuyCooldownExpires(t *testing.T) {
	h := newTestHarness(t)
	recordBuy(t, h, "BTCUSDC", "1", h.now.Add(-31*time.Minute))
	h.client.On("GetOpenOrders", "BTCUSDC").Return([]binance.Order{}, nil)
	h.rsi.On("RSI", "BTCUSDC", 14, "15m").Return(25.0, nil)

	buy, reason := h.engine.ShouldBuy("BTCUSDC")
	assert.True(t, buy)
	assert.Contains(t, reason, "first buy")
}

func TestShouldBuyDailyQuota(t *testing.T) {
	h := newTestHarness(t)
	h.cfg.Risk.MaxDailyTrades = 2
	// buys on other symbols still count against the global quota
	recordBuy(t, h, "ETHUSDC", "1", h.now.Add(-2*time.Hour))
	recordBuy(t, h, "SOLUSDC", "2", h.now.Add(-3*time.Hour))

	buy, reason := h.engine.ShouldBuy("BTCUSDC")
	assert.False(t, buy)
	assert.Contains(t, reason, "daily buy limit")
}

func TestShouldBuyQuotaIgnoresYesterday(t *testing.T) {
	h := newTestHarness(t)
	h.cfg.Risk.MaxDailyTrades = 1
	recordBuy(t, h, "ETHUSDC", "1", h.now.Add(-25*time.Hour))
	h.client.On("GetOpenOrders", "BTCUSDC").Return([]binance.Order{}, nil)
	h.rsi.On("RSI", "BTCUSDC", 14, "15m").Return(25.0, nil)

	buy, _ := h.engine.ShouldBuy("BTCUSDC")
	assert.True(t, buy)
}

func TestShouldBuyFirstEntryThreshold(t *testing.T) {
	h := newTestHarness(t)
	h.client.On("GetOpenOrders", "BTCUSDC").Return([]binance.Order{}, nil)
	h.rsi.On("RSI", "BTCUSDC", 14, "15m").Return(40.0, nil)

	buy, reason := h.engine.ShouldBuy("BTCUSDC")
	assert.False(t, buy)
	assert.Contains(t, reason, "first-entry")
}

func TestShouldBuyReEntryNeedsDeeperDip(t *testing.T) {
	h := newTestHarness(t)
	// one plain sell order open: RSI 32 passes the first-entry bar but not
	// the re-entry one
	open := []binance.Order{{Side: binance.OrderSideSell, OrderListID: binance.GroupIDNone, OrderID: 7}}
	h.client.On("GetOpenOrders", "BTCUSDC").Return(open, nil)
	h.rsi.On("RSI", "BTCUSDC", 14, "15m").Return(32.0, nil)

	buy, reason := h.engine.ShouldBuy("BTCUSDC")
	assert.False(t, buy)
	assert.Contains(t, reason, "re-entry")
}

func TestShouldBuyReEntryAccepted(t *testing.T) {
	h := newTestHarness(t)
	open := []binance.Order{{Side: binance.OrderSideSell, OrderListID: binance.GroupIDNone, OrderID: 7}}
	h.client.On("GetOpenOrders", "BTCUSDC").Return(open, nil)
	h.rsi.On("RSI", "BTCUSDC", 14, "15m").Return(28.0, nil)

	buy, reason := h.engine.ShouldBuy("BTCUSDC")
	assert.True(t, buy)
	assert.Contains(t, reason, "re-entry")
}

func TestShouldBuyMaxPositions(t *testing.T) {
	h := newTestHarness(t)
	var open []binance.Order
	for i := 0; i < h.cfg.Risk.MaxPositionsPerSymbol; i++ {
		open = append(open, binance.Order{
			Side:        binance.OrderSideSell,
			OrderListID: binance.GroupIDNone,
			OrderID:     int64(i + 1),
		})
	}
	h.client.On("GetOpenOrders", "BTCUSDC").Return(open, nil)

	buy, reason := h.engine.ShouldBuy("BTCUSDC")
	assert.False(t, buy)
	assert.Contains(t, reason, "maximum")
	h.rsi.AssertNotCalled(t, "RSI", mock.Anything, mock.Anything, mock.Anything)
}

func TestShouldBuyRsiErrorDegradesToNeutral(t *testing.T) {
	h := newTestHarness(t)
	h.client.On("GetOpenOrders", "BTCUSDC").Return([]binance.Order{}, nil)
	h.rsi.On("RSI", "BTCUSDC", 14, "15m").Return(0.0, errors.New("kline fetch failed"))

	// neutral 50 never clears the 35 first-entry bar
	buy, _ := h.engine.ShouldBuy("BTCUSDC")
	assert.False(t, buy)
}

func TestShouldBuyFailsClosedOnPositionError(t *testing.T) {
	h := newTestHarness(t)
	h.client.On("GetOpenOrders", "BTCUSDC").Return(nil, errors.New("exchange down"))

	buy, reason := h.engine.ShouldBuy("BTCUSDC")
	assert.False(t, buy)
	assert.Contains(t, reason, "position count")
}

package trader

import (
	"time"

	"github.com/stretchr/testify/mock"

	"rsi-trade-bot/internal/binance"
)

// mockRestClient is a testify mock of the exchange client.
type mockRestClient struct {
	mock.Mock
}

var _ binance.RestClientInterface = (*mockRestClient)(nil)

func (m *mockRestClient) GetServerTime() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockRestClient) SyncServerTime() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockRestClient) GetPrice(symbol string) (float64, error) {
	args := m.Called(symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockRestClient) GetAllTickerPrices() (map[string]float64, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]float64), args.Error(1)
}

func (m *mockRestClient) GetAccount() (*binance.AccountResponse, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.AccountResponse), args.Error(1)
}

func (m *mockRestClient) GetSymbolFilters(symbol string) (binance.SymbolFilters, error) {
	args := m.Called(symbol)
	return args.Get(0).(binance.SymbolFilters), args.Error(1)
}

func (m *mockRestClient) GetKlineCloses(symbol, interval string, limit int) ([]float64, error) {
	args := m.Called(symbol, interval, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float64), args.Error(1)
}

func (m *mockRestClient) PlaceMarketBuy(symbol string, quantity float64) (*binance.CreateOrderResponse, error) {
	args := m.Called(symbol, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.CreateOrderResponse), args.Error(1)
}

func (m *mockRestClient) PlaceBracketSell(symbol string, quantity, price, stopPrice, stopLimitPrice float64) (*binance.BracketOrderResponse, error) {
	args := m.Called(symbol, quantity, price, stopPrice, stopLimitPrice)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.BracketOrderResponse), args.Error(1)
}

func (m *mockRestClient) PlaceLimitSell(symbol string, quantity, price float64) (*binance.CreateOrderResponse, error) {
	args := m.Called(symbol, quantity, price)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.CreateOrderResponse), args.Error(1)
}

func (m *mockRestClient) GetOrder(symbol, orderID string) (*binance.Order, error) {
	args := m.Called(symbol, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*binance.Order), args.Error(1)
}

func (m *mockRestClient) ListRecentOrders(symbol string, since time.Time) ([]binance.Order, error) {
	args := m.Called(symbol, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]binance.Order), args.Error(1)
}

func (m *mockRestClient) GetOpenOrders(symbol string) ([]binance.Order, error) {
	args := m.Called(symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]binance.Order), args.Error(1)
}

// mockRsiSource returns canned RSI values per symbol.
type mockRsiSource struct {
	mock.Mock
}

func (m *mockRsiSource) RSI(symbol string, period int, timeframe string) (float64, error) {
	args := m.Called(symbol, period, timeframe)
	return args.Get(0).(float64), args.Error(1)
}

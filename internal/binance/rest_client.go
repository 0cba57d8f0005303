package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rsi-trade-bot/internal/cache"
	"rsi-trade-bot/internal/config"
)

const (
	baseURL        = "https://api.binance.com/api/v3"
	testnetBaseURL = "https://testnet.binance.vision/api/v3"
	recvWindow     = "5000" // How long a request is valid in milliseconds

	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	OrderTypeMarket        = "MARKET"
	OrderTypeLimit         = "LIMIT"
	OrderTypeLimitMaker    = "LIMIT_MAKER"
	OrderTypeStopLossLimit = "STOP_LOSS_LIMIT"

	OrderStatusFilled   = "FILLED"
	OrderStatusCanceled = "CANCELED"
	OrderStatusExpired  = "EXPIRED"

	// GroupIDNone is the orderListId the exchange reports for orders that are
	// not part of a bracket group.
	GroupIDNone = int64(-1)

	maxAttempts      = 3
	rateLimitPause   = 60 * time.Second
	filterCacheTTL   = 5 * time.Minute
	recentOrderLimit = 500
)

// RestClientInterface defines the interface for the Binance REST API client.
type RestClientInterface interface {
	GetServerTime() (int64, error)
	SyncServerTime() error
	GetPrice(symbol string) (float64, error)
	GetAllTickerPrices() (map[string]float64, error)
	GetAccount() (*AccountResponse, error)
	GetSymbolFilters(symbol string) (SymbolFilters, error)
	GetKlineCloses(symbol, interval string, limit int) ([]float64, error)
	PlaceMarketBuy(symbol string, quantity float64) (*CreateOrderResponse, error)
	PlaceBracketSell(symbol string, quantity, price, stopPrice, stopLimitPrice float64) (*BracketOrderResponse, error)
	PlaceLimitSell(symbol string, quantity, price float64) (*CreateOrderResponse, error)
	GetOrder(symbol, orderID string) (*Order, error)
	ListRecentOrders(symbol string, since time.Time) ([]Order, error)
	GetOpenOrders(symbol string) ([]Order, error)
}

// SymbolFilters are the exchange-mandated order constraints for one symbol.
type SymbolFilters struct {
	MinQty      float64
	MaxQty      float64
	StepSize    float64
	TickSize    float64
	MinNotional float64
}

// Fill is one partial execution inside a market order response.
type Fill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

// CreateOrderResponse represents the response from creating a new order.
type CreateOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	OrderListID         int64  `json:"orderListId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Price               string `json:"price"`
	OrigQuantity        string `json:"origQty"`
	ExecutedQuantity    string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	Fills               []Fill `json:"fills"`
}

// Order is the exchange's view of a single order, as returned by the order
// query, open-orders and order-history endpoints.
type Order struct {
	Symbol       string `json:"symbol"`
	OrderID      int64  `json:"orderId"`
	OrderListID  int64  `json:"orderListId"`
	Price        string `json:"price"`
	OrigQty      string `json:"origQty"`
	ExecutedQty  string `json:"executedQty"`
	Status       string `json:"status"`
	Type         string `json:"type"`
	Side         string `json:"side"`
	StopPrice    string `json:"stopPrice"`
	Time         int64  `json:"time"`
	UpdateTime   int64  `json:"updateTime"`
	IsWorking    bool   `json:"isWorking"`
	QuoteOrigQty string `json:"origQuoteOrderQty"`
}

// BracketLeg identifies one order inside a bracket group.
type BracketLeg struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
}

// OrderReport carries the per-leg detail returned on bracket placement.
type OrderReport struct {
	OrderID     int64  `json:"orderId"`
	OrderListID int64  `json:"orderListId"`
	Type        string `json:"type"`
	Side        string `json:"side"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	StopPrice   string `json:"stopPrice"`
	OrigQty     string `json:"origQty"`
}

// BracketOrderResponse represents a placed bracket (OCO) order.
type BracketOrderResponse struct {
	OrderListID     int64         `json:"orderListId"`
	ListStatusType  string        `json:"listStatusType"`
	ListOrderStatus string        `json:"listOrderStatus"`
	TransactionTime int64         `json:"transactionTime"`
	Orders          []BracketLeg  `json:"orders"`
	OrderReports    []OrderReport `json:"orderReports"`
}

// Balance is one asset line of the account snapshot.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountResponse is the account snapshot with all balances.
type AccountResponse struct {
	Balances []Balance `json:"balances"`
}

// RestClient is a client for the Binance REST API.
// It implements the RestClientInterface.
type RestClient struct {
	client     *resty.Client
	apiKey     string
	secretKey  string
	logger     *zap.Logger
	limiter    *rate.Limiter
	timeOffset atomic.Int64 // server time minus local time, milliseconds
	filters    *cache.TTL[string, SymbolFilters]
}

// ensure RestClient implements the interface
var _ RestClientInterface = (*RestClient)(nil)

// NewRestClient creates a new Binance REST API client.
func NewRestClient(cfg *config.Binance, logger *zap.Logger) *RestClient {
	var url string
	if cfg.Testnet {
		url = testnetBaseURL
		logger.Warn("Using Binance Testnet")
	} else {
		url = baseURL
		logger.Info("Using Binance Production API")
	}

	client := resty.New().SetBaseURL(url)

	// The limiter paces every outbound call to stay under published rate
	// limits. rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
		filters:   cache.NewTTL[string, SymbolFilters](filterCacheTTL, nil),
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// timestamp returns the current time corrected by the tracked server offset.
func (c *RestClient) timestamp() int64 {
	return time.Now().UnixMilli() + c.timeOffset.Load()
}

// publicRequest builds an unsigned request.
func (c *RestClient) publicRequest() *resty.Request {
	return c.client.R().SetError(&APIError{})
}

// signedQuery builds a signed GET/DELETE request carrying params in the
// query string. The timestamp and signature are computed per attempt so a
// retry after a clock resync signs fresh values.
func (c *RestClient) signedQuery(params url.Values) *resty.Request {
	params.Set("timestamp", strconv.FormatInt(c.timestamp(), 10))
	params.Set("recvWindow", recvWindow)
	query := params.Encode()
	return c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(query + "&signature=" + c.sign(query)).
		SetError(&APIError{})
}

// signedForm builds a signed POST request carrying params in the body.
func (c *RestClient) signedForm(params url.Values) *resty.Request {
	params.Set("timestamp", strconv.FormatInt(c.timestamp(), 10))
	params.Set("recvWindow", recvWindow)
	query := params.Encode()
	return c.client.R().
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(query + "&signature=" + c.sign(query)).
		SetError(&APIError{})
}

// doRequest executes a request through the uniform retry policy. build is
// invoked once per attempt so signed parameters are regenerated after a
// clock resync. Classification: clock skew resyncs and retries immediately,
// rate limiting sleeps a fixed cooldown, server faults and network errors
// back off exponentially, business errors abort without retry.
func (c *RestClient) doRequest(ctx context.Context, method, path string, build func() *resty.Request) (*resty.Response, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		req := build().SetContext(ctx)
		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+path))
		resp, err := req.Execute(method, path)

		if err == nil && !resp.IsError() {
			if attempt > 0 {
				c.logger.Info("Request succeeded after retry",
					zap.String("path", path), zap.Int("attempts", attempt+1))
			}
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			apiErr, ok := resp.Error().(*APIError)
			if !ok || apiErr == nil {
				apiErr = &APIError{Message: resp.String()}
			}
			apiErr.Status = resp.StatusCode()
			lastErr = apiErr
		}

		var wait time.Duration
		switch {
		case IsClockSkew(lastErr):
			c.logger.Warn("Server time out of sync, resynchronizing", zap.Error(lastErr))
			if syncErr := c.SyncServerTime(); syncErr != nil {
				c.logger.Warn("Time resync failed", zap.Error(syncErr))
			}
		case IsRateLimit(lastErr):
			wait = rateLimitPause
			if resp != nil {
				if secs, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					wait = time.Duration(secs) * time.Second
				}
			}
			c.logger.Warn("Rate limited by exchange, cooling down",
				zap.String("path", path), zap.Duration("wait", wait))
		case IsTransient(lastErr):
			// Exponential backoff: 1s, 2s, 4s
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
			c.logger.Warn("Transient exchange failure, retrying",
				zap.String("path", path), zap.Int("attempt", attempt+1),
				zap.Duration("retry_after", wait), zap.Error(lastErr))
		default:
			return nil, lastErr
		}

		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

// GetServerTime fetches the current server time from Binance.
// This is a good endpoint to test connectivity.
func (c *RestClient) GetServerTime() (int64, error) {
	type ServerTimeResponse struct {
		ServerTime int64 `json:"serverTime"`
	}

	var result ServerTimeResponse
	_, err := c.doRequest(context.Background(), "GET", "/time", func() *resty.Request {
		return c.publicRequest().SetResult(&result)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get server time: %w", err)
	}
	return result.ServerTime, nil
}

// SyncServerTime measures the server/local clock offset so signed requests
// carry timestamps the exchange accepts.
func (c *RestClient) SyncServerTime() error {
	serverTime, err := c.GetServerTime()
	if err != nil {
		return err
	}
	offset := serverTime - time.Now().UnixMilli()
	c.timeOffset.Store(offset)
	c.logger.Info("Server time synchronized", zap.Int64("offset_ms", offset))
	return nil
}

// TickerPrice represents the response for a single ticker price.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetPrice fetches the latest price for one symbol.
func (c *RestClient) GetPrice(symbol string) (float64, error) {
	var ticker TickerPrice
	_, err := c.doRequest(context.Background(), "GET", "/ticker/price", func() *resty.Request {
		return c.publicRequest().SetQueryParam("symbol", symbol).SetResult(&ticker)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price %q for %s: %w", ticker.Price, symbol, err)
	}
	return price, nil
}

// GetAllTickerPrices fetches the latest price for all symbols.
func (c *RestClient) GetAllTickerPrices() (map[string]float64, error) {
	var prices []*TickerPrice
	_, err := c.doRequest(context.Background(), "GET", "/ticker/price", func() *resty.Request {
		return c.publicRequest().SetResult(&prices)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get all ticker prices: %w", err)
	}

	priceMap := make(map[string]float64, len(prices))
	for _, p := range prices {
		price, convErr := strconv.ParseFloat(p.Price, 64)
		if convErr != nil {
			c.logger.Warn("Skipping unparseable ticker price",
				zap.String("symbol", p.Symbol), zap.String("price", p.Price))
			continue
		}
		priceMap[p.Symbol] = price
	}
	return priceMap, nil
}

// GetAccount fetches the account snapshot with all balances.
func (c *RestClient) GetAccount() (*AccountResponse, error) {
	var account AccountResponse
	_, err := c.doRequest(context.Background(), "GET", "/account", func() *resty.Request {
		return c.signedQuery(url.Values{}).SetResult(&account)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// exchangeInfoResponse mirrors the /exchangeInfo payload.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			MinQty      string `json:"minQty,omitempty"`
			MaxQty      string `json:"maxQty,omitempty"`
			StepSize    string `json:"stepSize,omitempty"`
			TickSize    string `json:"tickSize,omitempty"`
			MinNotional string `json:"minNotional,omitempty"`
		} `json:"filters"`
	} `json:"symbols"`
}

// GetSymbolFilters fetches the lot-size, price and notional filters for a
// symbol. Results are cached for a short TTL to avoid hammering the
// metadata endpoint once per order.
func (c *RestClient) GetSymbolFilters(symbol string) (SymbolFilters, error) {
	if f, ok := c.filters.Get(symbol); ok {
		return f, nil
	}

	var info exchangeInfoResponse
	_, err := c.doRequest(context.Background(), "GET", "/exchangeInfo", func() *resty.Request {
		return c.publicRequest().SetQueryParam("symbol", symbol).SetResult(&info)
	})
	if err != nil {
		return SymbolFilters{}, fmt.Errorf("failed to get exchange info for %s: %w", symbol, err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		var f SymbolFilters
		for _, filter := range s.Filters {
			switch filter.FilterType {
			case "LOT_SIZE":
				f.MinQty = ParseFloatOrZero(filter.MinQty)
				f.MaxQty = ParseFloatOrZero(filter.MaxQty)
				f.StepSize = ParseFloatOrZero(filter.StepSize)
			case "PRICE_FILTER":
				f.TickSize = ParseFloatOrZero(filter.TickSize)
			case "NOTIONAL", "MIN_NOTIONAL":
				f.MinNotional = ParseFloatOrZero(filter.MinNotional)
			}
		}
		if f.StepSize == 0 {
			return SymbolFilters{}, fmt.Errorf("symbol %s has no LOT_SIZE filter", symbol)
		}
		c.filters.Set(symbol, f)
		return f, nil
	}

	return SymbolFilters{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

// GetKlineCloses returns the close prices of the most recent candles for a
// symbol, oldest first.
func (c *RestClient) GetKlineCloses(symbol, interval string, limit int) ([]float64, error) {
	var raw [][]interface{}
	_, err := c.doRequest(context.Background(), "GET", "/klines", func() *resty.Request {
		return c.publicRequest().
			SetQueryParams(map[string]string{
				"symbol":   symbol,
				"interval": interval,
				"limit":    strconv.Itoa(limit),
			}).
			SetResult(&raw)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, err)
	}

	closes := make([]float64, 0, len(raw))
	for _, candle := range raw {
		// Kline array layout: [openTime, open, high, low, close, ...]
		if len(candle) < 5 {
			continue
		}
		closeStr, ok := candle[4].(string)
		if !ok {
			continue
		}
		closePrice, convErr := strconv.ParseFloat(closeStr, 64)
		if convErr != nil {
			continue
		}
		closes = append(closes, closePrice)
	}
	return closes, nil
}

// PlaceMarketBuy submits a market buy and returns the full fill report.
// The client order id is a fresh UUID so an accidental double submission is
// deduplicated by the exchange.
func (c *RestClient) PlaceMarketBuy(symbol string, quantity float64) (*CreateOrderResponse, error) {
	clientOrderID := uuid.New().String()

	var order CreateOrderResponse
	_, err := c.doRequest(context.Background(), "POST", "/order", func() *resty.Request {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("side", OrderSideBuy)
		params.Set("type", OrderTypeMarket)
		params.Set("quantity", formatDecimal(quantity))
		params.Set("newOrderRespType", "FULL")
		params.Set("newClientOrderId", clientOrderID)
		return c.signedForm(params).SetResult(&order)
	})
	if err != nil {
		c.logger.Error("Failed to place market buy",
			zap.String("symbol", symbol), zap.Float64("quantity", quantity), zap.Error(err))
		return nil, fmt.Errorf("failed to place market buy for %s: %w", symbol, err)
	}

	c.logger.Info("Market buy placed",
		zap.String("symbol", symbol),
		zap.Int64("order_id", order.OrderID),
		zap.String("executed_qty", order.ExecutedQuantity))
	return &order, nil
}

// PlaceBracketSell submits a profit-leg/stop-leg pair that mutually cancel.
func (c *RestClient) PlaceBracketSell(symbol string, quantity, price, stopPrice, stopLimitPrice float64) (*BracketOrderResponse, error) {
	clientOrderID := uuid.New().String()

	var bracket BracketOrderResponse
	_, err := c.doRequest(context.Background(), "POST", "/order/oco", func() *resty.Request {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("side", OrderSideSell)
		params.Set("quantity", formatDecimal(quantity))
		params.Set("price", formatDecimal(price))
		params.Set("stopPrice", formatDecimal(stopPrice))
		params.Set("stopLimitPrice", formatDecimal(stopLimitPrice))
		params.Set("stopLimitTimeInForce", "GTC")
		params.Set("listClientOrderId", clientOrderID)
		params.Set("newOrderRespType", "FULL")
		return c.signedForm(params).SetResult(&bracket)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place bracket sell for %s: %w", symbol, err)
	}

	c.logger.Info("Bracket sell placed",
		zap.String("symbol", symbol),
		zap.Int64("group_id", bracket.OrderListID),
		zap.Float64("target_price", price),
		zap.Float64("stop_price", stopPrice))
	return &bracket, nil
}

// PlaceLimitSell submits a plain GTC limit sell.
func (c *RestClient) PlaceLimitSell(symbol string, quantity, price float64) (*CreateOrderResponse, error) {
	clientOrderID := uuid.New().String()

	var order CreateOrderResponse
	_, err := c.doRequest(context.Background(), "POST", "/order", func() *resty.Request {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("side", OrderSideSell)
		params.Set("type", OrderTypeLimit)
		params.Set("timeInForce", "GTC")
		params.Set("quantity", formatDecimal(quantity))
		params.Set("price", formatDecimal(price))
		params.Set("newClientOrderId", clientOrderID)
		return c.signedForm(params).SetResult(&order)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place limit sell for %s: %w", symbol, err)
	}

	c.logger.Info("Limit sell placed",
		zap.String("symbol", symbol),
		zap.Int64("order_id", order.OrderID),
		zap.Float64("price", price))
	return &order, nil
}

// GetOrder queries a single order by id.
func (c *RestClient) GetOrder(symbol, orderID string) (*Order, error) {
	var order Order
	_, err := c.doRequest(context.Background(), "GET", "/order", func() *resty.Request {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("orderId", orderID)
		return c.signedQuery(params).SetResult(&order)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListRecentOrders returns the symbol's order history since the given time,
// terminal and open alike, bounded by the exchange's page limit.
func (c *RestClient) ListRecentOrders(symbol string, since time.Time) ([]Order, error) {
	var orders []Order
	_, err := c.doRequest(context.Background(), "GET", "/allOrders", func() *resty.Request {
		params := url.Values{}
		params.Set("symbol", symbol)
		params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
		params.Set("limit", strconv.Itoa(recentOrderLimit))
		return c.signedQuery(params).SetResult(&orders)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list recent orders for %s: %w", symbol, err)
	}
	return orders, nil
}

// GetOpenOrders returns the symbol's currently open orders.
func (c *RestClient) GetOpenOrders(symbol string) ([]Order, error) {
	var orders []Order
	_, err := c.doRequest(context.Background(), "GET", "/openOrders", func() *resty.Request {
		params := url.Values{}
		params.Set("symbol", symbol)
		return c.signedQuery(params).SetResult(&orders)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders for %s: %w", symbol, err)
	}
	return orders, nil
}

// formatDecimal renders a price or quantity the way the exchange expects:
// plain decimal notation, never scientific.
func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 8, 64)
}

// ParseFloatOrZero converts an exchange decimal string, treating anything
// unparseable as zero.
func ParseFloatOrZero(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

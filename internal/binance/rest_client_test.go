package binance

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rsi-trade-bot/internal/cache"
)

// setupTestServer creates a new test server and a RestClient configured to use it.
// Responses are served as JSON so the client decodes them like the real API's.
func setupTestServer(handler http.Handler) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		handler.ServeHTTP(w, r)
	}))

	client := resty.New().SetBaseURL(server.URL)
	logger := zap.NewNop() // Use a no-op logger for tests

	rc := &RestClient{
		client:    client,
		apiKey:    "test_api_key",
		secretKey: "test_secret_key",
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Inf, 1), // Allow all requests in tests
		filters:   cache.NewTTL[string, SymbolFilters](time.Minute, nil),
	}
	return rc, server
}

func TestGetPrice(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDC", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, `{"symbol":"BTCUSDC","price":"61250.42000000"}`)
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	price, err := rc.GetPrice("BTCUSDC")
	assert.NoError(t, err)
	assert.Equal(t, 61250.42, price)
}

func TestRateLimitRetriesOnceWithoutMutatingParams(t *testing.T) {
	var calls int32
	var seenQuantities []string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.NoError(t, r.ParseForm())
		seenQuantities = append(seenQuantities, r.PostForm.Get("quantity"))

		if n == 1 {
			w.Header().Set("Retry-After", "0")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests."}`)
			return
		}
		fmt.Fprint(w, `{"symbol":"BTCUSDC","orderId":42,"status":"FILLED","executedQty":"0.00100000","fills":[{"price":"61000.00","qty":"0.00100000","commission":"0.061","commissionAsset":"USDC"}]}`)
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	order, err := rc.PlaceMarketBuy("BTCUSDC", 0.001)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), order.OrderID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "exactly one retry expected")
	assert.Len(t, seenQuantities, 2)
	assert.Equal(t, seenQuantities[0], seenQuantities[1], "retry must not mutate order parameters")
}

func TestNonRetryableErrorAbortsImmediately(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`)
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	_, err := rc.PlaceMarketBuy("BTCUSDC", 100)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "business errors must not be retried")
	assert.True(t, IsNonRetryable(err))
}

func TestClockSkewResyncsAndRetries(t *testing.T) {
	var orderCalls, timeCalls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/time":
			atomic.AddInt32(&timeCalls, 1)
			fmt.Fprintf(w, `{"serverTime":%d}`, time.Now().UnixMilli()+1500)
		case "/order":
			if atomic.AddInt32(&orderCalls, 1) == 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`)
				return
			}
			fmt.Fprint(w, `{"symbol":"BTCUSDC","orderId":7,"status":"FILLED"}`)
		}
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	order, err := rc.PlaceMarketBuy("BTCUSDC", 0.001)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), order.OrderID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&timeCalls), "skew should trigger one resync")
	assert.InDelta(t, 1500, rc.timeOffset.Load(), 250, "offset should track server time")
}

func TestServerFaultRetriesExhaust(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	start := time.Now()
	_, err := rc.GetPrice("BTCUSDC")
	assert.Error(t, err)
	assert.Equal(t, int32(maxAttempts), atomic.LoadInt32(&calls))
	// 1s + 2s backoff between the three attempts.
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Second)
}

func TestGetSymbolFiltersParsesAndCaches(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"symbols":[{"symbol":"ETHUSDC","status":"TRADING","filters":[
			{"filterType":"LOT_SIZE","minQty":"0.00010000","maxQty":"9000.00000000","stepSize":"0.00010000"},
			{"filterType":"PRICE_FILTER","tickSize":"0.01000000"},
			{"filterType":"NOTIONAL","minNotional":"5.00000000"}
		]}]}`)
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	f, err := rc.GetSymbolFilters("ETHUSDC")
	assert.NoError(t, err)
	assert.Equal(t, 0.0001, f.MinQty)
	assert.Equal(t, 9000.0, f.MaxQty)
	assert.Equal(t, 0.0001, f.StepSize)
	assert.Equal(t, 0.01, f.TickSize)
	assert.Equal(t, 5.0, f.MinNotional)

	_, err = rc.GetSymbolFilters("ETHUSDC")
	assert.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second lookup should hit the cache")
}

func TestListRecentOrders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/allOrders", r.URL.Path)
		assert.Equal(t, "SOLUSDC", r.URL.Query().Get("symbol"))
		assert.NotEmpty(t, r.URL.Query().Get("startTime"))
		fmt.Fprint(w, `[{"symbol":"SOLUSDC","orderId":1,"orderListId":55,"status":"FILLED","side":"SELL","price":"180.00","executedQty":"2.00000000"},
			{"symbol":"SOLUSDC","orderId":2,"orderListId":55,"status":"CANCELED","side":"SELL"}]`)
	})
	rc, server := setupTestServer(handler)
	defer server.Close()

	orders, err := rc.ListRecentOrders("SOLUSDC", time.Now().Add(-24*time.Hour))
	assert.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.Equal(t, int64(55), orders[0].OrderListID)
	assert.Equal(t, OrderStatusFilled, orders[0].Status)
}

package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/algotrader/internal/algotrader/application"
	"github.com/wyfcoding/algotrader/internal/algotrader/infrastructure/persistence/memory"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	events := memory.NewEventStore()
	orders := memory.NewAlgoOrderRepository(events)
	analytics := memory.NewVWAPAnalyticRepository()

	h := NewHandler(
		application.NewVWAPTradingService(orders, analytics, logger, nil, application.DefaultOptions()),
		application.NewAlgoOrderCommandService(orders, logger, nil),
		application.NewQueryService(orders, analytics, events),
		logger,
	)
	r := gin.New()
	h.RegisterRoutes(r.Group("/api"))
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateAndGetAlgoOrder(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodPost, "/api/v1/algo-orders", `{"order_id":"ORD-1","symbol":"AAPL","limit_price":"100","quantity":"500"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "ORD-1", decode(t, w)["order_id"])

	w = do(r, http.MethodPost, "/api/v1/algo-orders", `{"order_id":"ORD-1","symbol":"AAPL","limit_price":"100","quantity":"500"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodGet, "/api/v1/algo-orders/ORD-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "500", body["shares_remaining"])
	assert.Equal(t, "AAPL", body["symbol"])

	w = do(r, http.MethodGet, "/api/v1/algo-orders/NOPE", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAlgoOrderValidation(t *testing.T) {
	r := newRouter(t)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/algo-orders", `{"limit_price":"100","quantity":"5"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/algo-orders", `{"symbol":"AAPL","limit_price":"100","quantity":"0"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/v1/algo-orders", `not json`).Code)
}

func TestQuoteBarsDriveSlices(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodPost, "/api/v1/algo-orders", `{"order_id":"A","symbol":"AAPL","limit_price":"100","quantity":"150"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	bar := `{"symbol":"AAPL","price":"100","volume":"1000","total_quantity":"1000"}`
	for i := 0; i < 9; i++ {
		w = do(r, http.MethodPost, "/api/v1/quote-bars", bar)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, false, decode(t, w)["ready"])
	}

	w = do(r, http.MethodPost, "/api/v1/quote-bars", bar)
	require.Equal(t, http.StatusOK, w.Code)
	result := decode(t, w)
	assert.Equal(t, true, result["ready"])
	assert.Equal(t, "900", result["remaining_volume"])
	require.Len(t, result["slices"], 1)

	w = do(r, http.MethodGet, "/api/v1/vwap/AAPL", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100", decode(t, w)["vwap"])

	w = do(r, http.MethodGet, "/api/v1/algo-orders?symbol=AAPL", "")
	require.Equal(t, http.StatusOK, w.Code)
	orders := decode(t, w)["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, "50", orders[0].(map[string]any)["shares_remaining"])

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/algo-orders", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/vwap/MSFT", "").Code)
}

func TestQuoteBarRejectsInvalidObservation(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodPost, "/api/v1/quote-bars", `{"symbol":"AAPL","price":"0","volume":"1000","total_quantity":"10"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/v1/quote-bars", `{"price":"10","volume":"1000","total_quantity":"10"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventEndpoints(t *testing.T) {
	r := newRouter(t)

	for _, id := range []string{"A", "B", "C"} {
		w := do(r, http.MethodPost, "/api/v1/algo-orders", `{"order_id":"`+id+`","symbol":"AAPL","limit_price":"100","quantity":"10"}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(r, http.MethodGet, "/api/v1/events/count", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["count"])

	w = do(r, http.MethodGet, "/api/v1/events?since=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["events"], 2)

	w = do(r, http.MethodGet, "/api/v1/events?from=1&to=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	events := decode(t, w)["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, "A", events[0].(map[string]any)["aggregate_id"])

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/events?from=3&to=1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/events?from=x&to=1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/events?since=x", "").Code)
}

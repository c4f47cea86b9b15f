package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/algotrader/internal/algotrader/application"
	"github.com/wyfcoding/algotrader/internal/algotrader/domain"
)

type Handler struct {
	trading  *application.VWAPTradingService
	commands *application.AlgoOrderCommandService
	queries  *application.QueryService
	logger   *slog.Logger
}

func NewHandler(trading *application.VWAPTradingService, commands *application.AlgoOrderCommandService, queries *application.QueryService, logger *slog.Logger) *Handler {
	return &Handler{trading: trading, commands: commands, queries: queries, logger: logger}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	v1 := r.Group("/v1")
	{
		v1.POST("/algo-orders", h.CreateAlgoOrder)
		v1.GET("/algo-orders", h.ListOpenBuyOrders)
		v1.GET("/algo-orders/:id", h.GetAlgoOrder)
		v1.GET("/vwap/:symbol", h.GetVWAPAnalytic)
		v1.POST("/quote-bars", h.SubmitQuoteBar)
		v1.GET("/events", h.ListEvents)
		v1.GET("/events/count", h.CountEvents)
	}
}

type createAlgoOrderRequest struct {
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol" binding:"required"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Quantity   decimal.Decimal `json:"quantity"`
}

func (h *Handler) CreateAlgoOrder(c *gin.Context) {
	var req createAlgoOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.commands.CreateAlgoBuyOrder(c.Request.Context(), application.CreateAlgoBuyOrderCommand{
		OrderID:    req.OrderID,
		Symbol:     req.Symbol,
		LimitPrice: req.LimitPrice,
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_id": id})
}

func (h *Handler) GetAlgoOrder(c *gin.Context) {
	dto, err := h.queries.GetAlgoOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (h *Handler) ListOpenBuyOrders(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	dtos, err := h.queries.ListOpenBuyOrders(c.Request.Context(), symbol)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": dtos})
}

func (h *Handler) GetVWAPAnalytic(c *gin.Context) {
	dto, err := h.queries.GetVWAPAnalytic(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto)
}

func (h *Handler) SubmitQuoteBar(c *gin.Context) {
	var bar domain.QuoteBar
	if err := c.ShouldBindJSON(&bar); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if bar.Timestamp.IsZero() {
		bar.Timestamp = time.Now()
	}

	result, err := h.trading.OnQuoteBar(c.Request.Context(), bar)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListEvents 支持 ?since=N 或 ?from=A&to=B
func (h *Handler) ListEvents(c *gin.Context) {
	var (
		events []*application.StoredEventDTO
		err    error
	)
	if from, to := c.Query("from"), c.Query("to"); from != "" || to != "" {
		low, lerr := strconv.ParseInt(from, 10, 64)
		high, herr := strconv.ParseInt(to, 10, 64)
		if lerr != nil || herr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must both be integers"})
			return
		}
		events, err = h.queries.EventsBetween(c.Request.Context(), low, high)
	} else {
		since, perr := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an integer"})
			return
		}
		events, err = h.queries.EventsSince(c.Request.Context(), since)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) CountEvents(c *gin.Context) {
	count, err := h.queries.CountEvents(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrIllegalState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidObservation),
		errors.Is(err, domain.ErrInvalidQuoteBar),
		errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrInvalidOrderID),
		errors.Is(err, domain.ErrInvalidSliceSize),
		errors.Is(err, application.ErrInvalidEventRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

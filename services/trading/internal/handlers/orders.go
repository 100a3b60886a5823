package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/marketdata"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/service"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/gin-gonic/gin"
)

type createOrderRequest struct {
	CoinID    string `json:"coin_id"`
	Quantity  string `json:"quantity"`
	OrderType string `json:"order_type"`
}

type orderItem struct {
	OrderID      string `json:"order_id"`
	OrderType    string `json:"order_type"`
	Status       string `json:"status"`
	RejectReason string `json:"reject_reason,omitempty"`
	Price        string `json:"price"`
	CoinID       string `json:"coin_id"`
	Symbol       string `json:"symbol"`
	Quantity     string `json:"quantity"`
	BuyPrice     string `json:"buy_price"`
	SellPrice    string `json:"sell_price"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type listOrdersResponse struct {
	Orders []orderItem `json:"orders"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	coinID := strings.TrimSpace(req.CoinID)
	if coinID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "coin_id is required", nil)
		return
	}
	quantity, ok := parseDecimal(req.Quantity)
	if !ok {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid quantity", nil)
		return
	}
	orderType, err := service.ParseOrderType(req.OrderType)
	if err != nil {
		h.writeServiceError(c, "create order", err)
		return
	}

	if h.Coins == nil {
		writeError(c, http.StatusServiceUnavailable, "MARKET_DATA_UNAVAILABLE", "market data unavailable", nil)
		return
	}
	coin, err := h.Coins.Resolve(c.Request.Context(), coinID)
	if err != nil {
		h.writeCoinError(c, coinID, err)
		return
	}

	order, err := h.Settlement.ProcessOrder(c.Request.Context(), coin, quantity, orderType, userID)
	if err != nil {
		h.writeServiceError(c, "create order", err)
		return
	}
	c.JSON(http.StatusOK, orderToItem(*order))
}

func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	orderType := strings.TrimSpace(c.Query("order_type"))
	if orderType != "" {
		parsed, err := service.ParseOrderType(orderType)
		if err != nil {
			h.writeServiceError(c, "list orders", err)
			return
		}
		orderType = parsed
	}

	orders, err := h.Orders.List(c.Request.Context(), userID, orderType, c.Query("asset_symbol"))
	if err != nil {
		h.writeServiceError(c, "list orders", err)
		return
	}

	items := make([]orderItem, 0, len(orders))
	for _, order := range orders {
		items = append(items, orderToItem(order))
	}
	c.JSON(http.StatusOK, listOrdersResponse{Orders: items})
}

func (h *Handler) GetOrder(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}

	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil)
		return
	}

	order, err := h.Orders.GetForUser(c.Request.Context(), userID, orderID)
	if err != nil {
		h.writeServiceError(c, "get order", err)
		return
	}
	c.JSON(http.StatusOK, orderToItem(*order))
}

func (h *Handler) writeCoinError(c *gin.Context, coinID string, err error) {
	if errors.Is(err, marketdata.ErrUnknownCoin) {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "unknown coin", nil)
		return
	}
	h.Logger.Error("resolve coin failed", "coin_id", coinID, "error", err)
	writeError(c, http.StatusServiceUnavailable, "MARKET_DATA_UNAVAILABLE", "market data unavailable", nil)
}

func orderToItem(order storage.Order) orderItem {
	return orderItem{
		OrderID:      order.ID.String(),
		OrderType:    order.OrderType,
		Status:       order.Status,
		RejectReason: order.RejectReason,
		Price:        order.Price.String(),
		CoinID:       order.Item.CoinID,
		Symbol:       order.Item.Symbol,
		Quantity:     order.Item.Quantity.String(),
		BuyPrice:     order.Item.BuyPrice.String(),
		SellPrice:    order.Item.SellPrice.String(),
		CreatedAt:    order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    order.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

package handlers

import (
	"net/http"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/service"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/gin-gonic/gin"
)

type createPaymentRequest struct {
	Amount string `json:"amount"`
	Method string `json:"method"`
}

type confirmPaymentRequest struct {
	PaymentID string `json:"payment_id"`
}

type paymentOrderResponse struct {
	PaymentOrderID   string `json:"payment_order_id"`
	Amount           string `json:"amount"`
	Method           string `json:"method"`
	Status           string `json:"status"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
	CreatedAt        string `json:"created_at"`
}

type paymentDetailsRequest struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	IFSC          string `json:"ifsc"`
	BankName      string `json:"bank_name"`
}

type paymentDetailsResponse struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	IFSC          string `json:"ifsc"`
	BankName      string `json:"bank_name"`
	UpdatedAt     string `json:"updated_at"`
}

func (h *Handler) CreatePayment(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	amount, ok := parseDecimal(req.Amount)
	if !ok {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid amount", nil)
		return
	}

	order, err := h.Payments.CreatePendingOrder(c.Request.Context(), userID, amount, req.Method)
	if err != nil {
		h.writeServiceError(c, "create payment", err)
		return
	}
	c.JSON(http.StatusCreated, paymentToResponse(*order))
}

func (h *Handler) ConfirmPayment(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payment_order_id", nil)
		return
	}
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	ctx := c.Request.Context()
	if _, err := h.Payments.GetForUser(ctx, userID, orderID); err != nil {
		h.writeServiceError(c, "confirm payment", err)
		return
	}
	credited, err := h.Payments.Confirm(ctx, orderID, req.PaymentID)
	if err != nil {
		h.writeServiceError(c, "confirm payment", err)
		return
	}
	order, err := h.Payments.GetForUser(ctx, userID, orderID)
	if err != nil {
		h.writeServiceError(c, "confirm payment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"credited":      credited,
		"payment_order": paymentToResponse(*order),
	})
}

func (h *Handler) SavePaymentDetails(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req paymentDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	details, err := h.Payments.SaveDetails(c.Request.Context(), userID, service.PaymentDetailsInput{
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		IFSC:          req.IFSC,
		BankName:      req.BankName,
	})
	if err != nil {
		h.writeServiceError(c, "save payment details", err)
		return
	}
	c.JSON(http.StatusOK, detailsToResponse(*details))
}

func (h *Handler) GetPaymentDetails(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	details, err := h.Payments.Details(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "get payment details", err)
		return
	}
	c.JSON(http.StatusOK, detailsToResponse(*details))
}

func paymentToResponse(order storage.PaymentOrder) paymentOrderResponse {
	return paymentOrderResponse{
		PaymentOrderID:   order.ID.String(),
		Amount:           order.Amount.String(),
		Method:           order.Method,
		Status:           order.Status,
		GatewayPaymentID: order.GatewayPaymentID,
		CreatedAt:        order.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func detailsToResponse(details storage.PaymentDetails) paymentDetailsResponse {
	return paymentDetailsResponse{
		AccountNumber: details.AccountNumber,
		AccountName:   details.AccountName,
		IFSC:          details.IFSC,
		BankName:      details.BankName,
		UpdatedAt:     details.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

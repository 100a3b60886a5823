package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/gin-gonic/gin"
)

type withdrawalRequest struct {
	Amount string `json:"amount"`
}

type withdrawalItem struct {
	WithdrawalID string  `json:"withdrawal_id"`
	UserID       string  `json:"user_id"`
	Amount       string  `json:"amount"`
	Status       string  `json:"status"`
	RequestedAt  string  `json:"requested_at"`
	ResolvedAt   *string `json:"resolved_at,omitempty"`
}

func (h *Handler) RequestWithdrawal(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	amount, ok := parseDecimal(req.Amount)
	if !ok {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid amount", nil)
		return
	}

	withdrawal, err := h.Withdrawals.Request(c.Request.Context(), userID, amount)
	if err != nil {
		h.writeServiceError(c, "request withdrawal", err)
		return
	}
	c.JSON(http.StatusCreated, withdrawalToItem(*withdrawal))
}

func (h *Handler) WithdrawalHistory(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	withdrawals, err := h.Withdrawals.History(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "withdrawal history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": withdrawalsToItems(withdrawals)})
}

func (h *Handler) AllWithdrawals(c *gin.Context) {
	withdrawals, err := h.Withdrawals.All(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, "list withdrawals", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": withdrawalsToItems(withdrawals)})
}

func (h *Handler) ProceedWithdrawal(c *gin.Context) {
	withdrawalID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid withdrawal_id", nil)
		return
	}
	accept, err := strconv.ParseBool(c.Param("accept"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "accept must be true or false", nil)
		return
	}

	withdrawal, err := h.Withdrawals.Proceed(c.Request.Context(), withdrawalID, accept)
	if err != nil {
		h.writeServiceError(c, "proceed withdrawal", err)
		return
	}
	c.JSON(http.StatusOK, withdrawalToItem(*withdrawal))
}

func withdrawalsToItems(withdrawals []storage.Withdrawal) []withdrawalItem {
	items := make([]withdrawalItem, 0, len(withdrawals))
	for _, w := range withdrawals {
		items = append(items, withdrawalToItem(w))
	}
	return items
}

func withdrawalToItem(w storage.Withdrawal) withdrawalItem {
	item := withdrawalItem{
		WithdrawalID: w.ID.String(),
		UserID:       w.UserID.String(),
		Amount:       w.Amount.String(),
		Status:       w.Status,
		RequestedAt:  w.RequestedAt.UTC().Format(time.RFC3339),
	}
	if w.ResolvedAt != nil {
		resolved := w.ResolvedAt.UTC().Format(time.RFC3339)
		item.ResolvedAt = &resolved
	}
	return item
}

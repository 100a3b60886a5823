package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type walletResponse struct {
	WalletID  string `json:"wallet_id"`
	UserID    string `json:"user_id"`
	Balance   string `json:"balance"`
	UpdatedAt string `json:"updated_at"`
}

type walletTransactionItem struct {
	TransactionID string `json:"transaction_id"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	BalanceAfter  string `json:"balance_after"`
	ReferenceID   string `json:"reference_id,omitempty"`
	Purpose       string `json:"purpose,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type transferRequest struct {
	Amount  string `json:"amount"`
	Purpose string `json:"purpose"`
}

func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	wallet, err := h.Wallets.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "get wallet", err)
		return
	}
	c.JSON(http.StatusOK, walletToResponse(*wallet))
}

func (h *Handler) WalletHistory(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	txs, err := h.Wallets.History(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "wallet history", err)
		return
	}
	items := make([]walletTransactionItem, 0, len(txs))
	for _, tx := range txs {
		item := walletTransactionItem{
			TransactionID: tx.ID.String(),
			Type:          tx.Type,
			Amount:        tx.Amount.String(),
			BalanceAfter:  tx.BalanceAfter.String(),
			Purpose:       tx.Purpose,
			CreatedAt:     tx.CreatedAt.UTC().Format(time.RFC3339),
		}
		if tx.ReferenceID != uuid.Nil {
			item.ReferenceID = tx.ReferenceID.String()
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"transactions": items})
}

func (h *Handler) Transfer(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	recipient, err := parseUUIDParam(c.Param("walletId"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid wallet_id", nil)
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	amount, ok := parseDecimal(req.Amount)
	if !ok {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid amount", nil)
		return
	}

	wallet, err := h.Wallets.Transfer(c.Request.Context(), userID, recipient, amount, strings.TrimSpace(req.Purpose))
	if err != nil {
		h.writeServiceError(c, "wallet transfer", err)
		return
	}
	c.JSON(http.StatusOK, walletToResponse(*wallet))
}

func walletToResponse(wallet storage.Wallet) walletResponse {
	return walletResponse{
		WalletID:  wallet.ID.String(),
		UserID:    wallet.UserID.String(),
		Balance:   wallet.Balance.String(),
		UpdatedAt: wallet.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

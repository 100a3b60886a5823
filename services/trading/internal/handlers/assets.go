package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/service"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/gin-gonic/gin"
)

type assetItem struct {
	AssetID   string `json:"asset_id"`
	CoinID    string `json:"coin_id"`
	Symbol    string `json:"symbol"`
	Quantity  string `json:"quantity"`
	BuyPrice  string `json:"buy_price"`
	UpdatedAt string `json:"updated_at"`
}

func (h *Handler) ListAssets(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	assets, err := h.Positions.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "list assets", err)
		return
	}
	items := make([]assetItem, 0, len(assets))
	for _, a := range assets {
		items = append(items, assetToItem(a))
	}
	c.JSON(http.StatusOK, gin.H{"assets": items})
}

func (h *Handler) GetAsset(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	assetID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid asset_id", nil)
		return
	}
	asset, err := h.Positions.Get(c.Request.Context(), userID, assetID)
	if err != nil {
		h.writeServiceError(c, "get asset", err)
		return
	}
	c.JSON(http.StatusOK, assetToItem(*asset))
}

func (h *Handler) GetAssetByCoin(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	coinID := strings.ToLower(strings.TrimSpace(c.Param("coinId")))
	if coinID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "coin_id is required", nil)
		return
	}
	asset, err := h.Positions.FindByUserAndCoin(c.Request.Context(), userID, coinID)
	if err != nil {
		h.writeServiceError(c, "get asset by coin", err)
		return
	}
	if asset == nil {
		h.writeServiceError(c, "get asset by coin", service.ErrAssetNotFound)
		return
	}
	c.JSON(http.StatusOK, assetToItem(*asset))
}

func assetToItem(a storage.Asset) assetItem {
	return assetItem{
		AssetID:   a.ID.String(),
		CoinID:    a.CoinID,
		Symbol:    a.Symbol,
		Quantity:  a.Quantity.String(),
		BuyPrice:  a.BuyPrice.String(),
		UpdatedAt: a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

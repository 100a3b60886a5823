package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/service"
	"github.com/gin-gonic/gin"
)

type watchlistCoin struct {
	CoinID       string `json:"coin_id"`
	Symbol       string `json:"symbol,omitempty"`
	CurrentPrice string `json:"current_price,omitempty"`
}

// GetWatchlist lists the user's coins with current prices. Coins the market
// data source cannot price are still listed, without a price.
func (h *Handler) GetWatchlist(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	list, err := h.Watchlists.Get(ctx, userID)
	if err != nil {
		h.writeServiceError(c, "get watchlist", err)
		return
	}

	coins := make([]watchlistCoin, 0, len(list.CoinIDs))
	for _, coinID := range list.CoinIDs {
		item := watchlistCoin{CoinID: coinID}
		if h.Coins != nil {
			if coin, err := h.Coins.Resolve(ctx, coinID); err == nil {
				item = coinToWatchlistItem(coin)
			} else {
				h.Logger.Warn("watchlist price unavailable", "coin_id", coinID, "error", err)
			}
		}
		coins = append(coins, item)
	}
	c.JSON(http.StatusOK, gin.H{
		"watchlist_id": list.ID.String(),
		"coins":        coins,
		"updated_at":   list.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) ToggleWatchlistCoin(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	coinID := strings.TrimSpace(c.Param("coinId"))
	if coinID == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "coin_id is required", nil)
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

	watched, err := h.Watchlists.Toggle(c.Request.Context(), userID, coin)
	if err != nil {
		h.writeServiceError(c, "toggle watchlist coin", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"coin":    coinToWatchlistItem(coin),
		"watched": watched,
	})
}

func coinToWatchlistItem(coin service.Coin) watchlistCoin {
	return watchlistCoin{
		CoinID:       coin.ID,
		Symbol:       coin.Symbol,
		CurrentPrice: coin.CurrentPrice.String(),
	}
}

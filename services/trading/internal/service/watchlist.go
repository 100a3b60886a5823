package service

import (
	"context"
	"log/slog"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
)

// Watchlists keeps the coins each user follows. The list is created on first
// use and never holds a coin twice.
type Watchlists struct {
	store  Store
	logger *slog.Logger
}

func NewWatchlists(store Store, logger *slog.Logger) *Watchlists {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchlists{store: store, logger: logger}
}

func (w *Watchlists) Get(ctx context.Context, userID uuid.UUID) (*storage.Watchlist, error) {
	if userID == uuid.Nil {
		return nil, invalidInput("user_id is required")
	}
	list, err := w.store.GetOrCreateWatchlist(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	return list, nil
}

// Toggle adds coin to the user's watchlist, or removes it when already
// present. It reports whether the coin is watched afterwards.
func (w *Watchlists) Toggle(ctx context.Context, userID uuid.UUID, coin Coin) (bool, error) {
	if userID == uuid.Nil {
		return false, invalidInput("user_id is required")
	}
	if coin.ID == "" {
		return false, invalidInput("coin is required")
	}
	watched, err := w.store.ToggleWatchlistCoin(ctx, userID, coin.ID)
	if err != nil {
		return false, translate(err)
	}
	w.logger.Info("watchlist updated", "user_id", userID, "coin", coin.ID, "watched", watched)
	return watched, nil
}

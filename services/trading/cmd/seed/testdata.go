package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/config"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/service"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/shopspring/decimal"
)

// seedTestData gives the trader an open position in every configured coin
// and leaves one withdrawal pending for the admin queue.
func seedTestData(ctx context.Context, cfg *config.Config, store *storage.Postgres, ledger *service.Ledger, coins []service.Coin, logger *slog.Logger) error {
	positions := service.NewPositions(store, cfg.Settlement.DustThreshold, nil)
	orders := service.NewOrders(store)
	settlement := service.NewSettlement(store, ledger, positions, orders, nil, logger, nil)
	withdrawals := service.NewWithdrawals(store, ledger, nil, logger, nil)

	for _, coin := range coins {
		existing, err := positions.FindByUserAndCoin(ctx, traderUserID, coin.ID)
		if err != nil {
			return fmt.Errorf("lookup %s position: %w", coin.ID, err)
		}
		if existing != nil {
			continue
		}
		quantity := decimal.NewFromInt(1000).Div(coin.CurrentPrice).Round(8)
		if _, err := settlement.ProcessOrder(ctx, coin, quantity, storage.OrderTypeBuy, traderUserID); err != nil {
			if errors.Is(err, service.ErrInsufficientFunds) {
				continue
			}
			return fmt.Errorf("buy %s: %w", coin.ID, err)
		}
	}

	pending, err := withdrawals.History(ctx, traderUserID)
	if err != nil {
		return err
	}
	for _, w := range pending {
		if w.Status == storage.WithdrawalStatusPending {
			return nil
		}
	}
	_, err = withdrawals.Request(ctx, traderUserID, decimal.NewFromInt(250))
	return err
}

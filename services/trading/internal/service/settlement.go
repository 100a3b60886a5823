package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const rejectReasonInsufficientFunds = "insufficient_funds"

// Settlement turns a buy or sell intent into one atomic change of order,
// wallet and position.
type Settlement struct {
	store     Store
	ledger    *Ledger
	positions *Positions
	orders    *Orders
	events    Events
	logger    *slog.Logger
	metrics   *Metrics
}

func NewSettlement(store Store, ledger *Ledger, positions *Positions, orders *Orders, events Events, logger *slog.Logger, metrics *Metrics) *Settlement {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = noopEvents{}
	}
	return &Settlement{
		store:     store,
		ledger:    ledger,
		positions: positions,
		orders:    orders,
		events:    events,
		logger:    logger,
		metrics:   metrics,
	}
}

// ProcessOrder settles quantity of coin at coin.CurrentPrice for userID.
func (s *Settlement) ProcessOrder(ctx context.Context, coin Coin, quantity decimal.Decimal, orderType string, userID uuid.UUID) (*storage.Order, error) {
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	if exceedsScale(quantity) {
		return nil, ErrQuantityScale
	}
	if userID == uuid.Nil {
		return nil, invalidInput("user_id is required")
	}
	if coin.ID == "" {
		return nil, invalidInput("coin is required")
	}
	coin.CurrentPrice = coin.CurrentPrice.Round(MoneyScale)
	if !coin.CurrentPrice.IsPositive() {
		return nil, invalidInput("coin price must be positive")
	}
	if !settlementTotal(coin.CurrentPrice, quantity).IsPositive() {
		return nil, ErrOrderTooSmall
	}

	start := time.Now()
	var (
		order *storage.Order
		err   error
	)
	switch orderType {
	case storage.OrderTypeBuy:
		order, err = s.buy(ctx, coin, quantity, userID)
	case storage.OrderTypeSell:
		order, err = s.sell(ctx, coin, quantity, userID)
	default:
		return nil, ErrInvalidOrderType
	}

	if err != nil {
		err = translate(err)
		s.metrics.ObserveSettlement(orderType, string(KindOf(err)), time.Since(start))
		s.metrics.observeError("settlement", err)
		if KindOf(err) == KindInternal {
			s.logger.Error("order settlement failed", "order_type", orderType, "user_id", userID, "coin", coin.ID, "error", err)
		}
		return nil, err
	}

	s.metrics.ObserveSettlement(orderType, order.Status, time.Since(start))
	s.events.OrderSettled(ctx, *order)
	s.logger.Info("order settled",
		"order_id", order.ID,
		"order_type", orderType,
		"user_id", userID,
		"coin", coin.ID,
		"quantity", quantity.String(),
		"total", order.Price.String(),
	)
	return order, nil
}

func (s *Settlement) buy(ctx context.Context, coin Coin, quantity decimal.Decimal, userID uuid.UUID) (*storage.Order, error) {
	unitPrice := coin.CurrentPrice
	total := settlementTotal(unitPrice, quantity)
	order := newOrder(userID, storage.OrderTypeBuy, total, coin, quantity, unitPrice, decimal.Zero)

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		wallet, err := tx.GetOrCreateWalletForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		asset, err := tx.GetAssetForUpdate(ctx, userID, coin.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("lock asset: %w", err)
		}

		if err := s.orders.create(ctx, tx, order); err != nil {
			return err
		}
		if err := s.ledger.Debit(ctx, tx, wallet, total, Entry{
			Type:        storage.TxTypeBuyAsset,
			ReferenceID: order.ID,
			Purpose:     fmt.Sprintf("buy %s %s @ %s", quantity, coin.Symbol, unitPrice),
		}); err != nil {
			return err
		}

		if asset == nil {
			_, err = s.positions.Open(ctx, tx, userID, coin, quantity, unitPrice)
			if errors.Is(err, ErrDuplicatePosition) {
				// a concurrent first buy of the same coin committed the row
				return ErrConcurrencyConflict
			}
		} else {
			_, _, err = s.positions.Adjust(ctx, tx, asset.ID, quantity, unitPrice)
		}
		if err != nil {
			return err
		}
		return s.orders.markSuccess(ctx, tx, order)
	})
	if errors.Is(err, ErrInsufficientFunds) {
		if recErr := s.orders.recordRejected(ctx, order, rejectReasonInsufficientFunds); recErr != nil {
			s.logger.Error("record rejected order failed", "order_id", order.ID, "error", recErr)
		} else {
			s.events.OrderRejected(ctx, *order)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Settlement) sell(ctx context.Context, coin Coin, quantity decimal.Decimal, userID uuid.UUID) (*storage.Order, error) {
	held, err := s.positions.FindByUserAndCoin(ctx, userID, coin.ID)
	if err != nil {
		return nil, err
	}
	if held == nil {
		return nil, ErrAssetNotFound
	}
	if held.Quantity.LessThan(quantity) {
		return nil, ErrInsufficientQuantity
	}

	unitPrice := coin.CurrentPrice
	total := settlementTotal(unitPrice, quantity)
	var order *storage.Order

	err = s.store.InTx(ctx, func(tx storage.Tx) error {
		wallet, err := tx.GetOrCreateWalletForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		asset, err := tx.GetAssetForUpdate(ctx, userID, coin.ID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrAssetNotFound
			}
			return fmt.Errorf("lock asset: %w", err)
		}
		if asset.Quantity.LessThan(quantity) {
			return ErrInsufficientQuantity
		}

		order = newOrder(userID, storage.OrderTypeSell, total, coin, quantity, asset.BuyPrice, unitPrice)
		if err := s.orders.create(ctx, tx, order); err != nil {
			return err
		}
		if _, _, err := s.positions.Adjust(ctx, tx, asset.ID, quantity.Neg(), unitPrice); err != nil {
			return err
		}
		if err := s.ledger.Credit(ctx, tx, wallet, total, Entry{
			Type:        storage.TxTypeSellAsset,
			ReferenceID: order.ID,
			Purpose:     fmt.Sprintf("sell %s %s @ %s", quantity, coin.Symbol, unitPrice),
		}); err != nil {
			return err
		}
		return s.orders.markSuccess(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// settlementTotal is the wallet amount for quantity at unitPrice, rounded to
// the stored scale so the journal, order price and balance agree.
func settlementTotal(unitPrice, quantity decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(quantity).Round(MoneyScale)
}

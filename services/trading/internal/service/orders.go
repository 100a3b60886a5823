package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Orders is the order record and its PENDING -> SUCCESS | REJECTED machine.
type Orders struct {
	store Store
}

func NewOrders(store Store) *Orders {
	return &Orders{store: store}
}

// ParseOrderType normalises a client supplied order type.
func ParseOrderType(value string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case storage.OrderTypeBuy:
		return storage.OrderTypeBuy, nil
	case storage.OrderTypeSell:
		return storage.OrderTypeSell, nil
	default:
		return "", ErrInvalidOrderType
	}
}

func newOrder(userID uuid.UUID, orderType string, total decimal.Decimal, coin Coin, quantity, buyPrice, sellPrice decimal.Decimal) *storage.Order {
	now := time.Now().UTC()
	id := uuid.New()
	return &storage.Order{
		ID:        id,
		UserID:    userID,
		OrderType: orderType,
		Price:     total,
		Status:    storage.OrderStatusPending,
		Item: storage.OrderItem{
			ID:        uuid.New(),
			OrderID:   id,
			CoinID:    coin.ID,
			Symbol:    coin.Symbol,
			Quantity:  quantity,
			BuyPrice:  buyPrice,
			SellPrice: sellPrice,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (o *Orders) create(ctx context.Context, tx storage.Tx, order *storage.Order) error {
	if err := tx.InsertOrder(ctx, order); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (o *Orders) markSuccess(ctx context.Context, tx storage.Tx, order *storage.Order) error {
	now := time.Now().UTC()
	if err := tx.UpdateOrderStatus(ctx, order.ID, storage.OrderStatusSuccess, "", now); err != nil {
		return fmt.Errorf("mark order %s success: %w", order.ID, err)
	}
	order.Status = storage.OrderStatusSuccess
	order.UpdatedAt = now
	return nil
}

// recordRejected persists a rejected order in its own transaction.
func (o *Orders) recordRejected(ctx context.Context, order *storage.Order, reason string) error {
	order.Status = storage.OrderStatusRejected
	order.RejectReason = reason
	order.UpdatedAt = time.Now().UTC()
	return o.store.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertOrder(ctx, order)
	})
}

func (o *Orders) Get(ctx context.Context, orderID uuid.UUID) (*storage.Order, error) {
	order, err := o.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// GetForUser hides other users' orders behind ErrOrderNotFound.
func (o *Orders) GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*storage.Order, error) {
	order, err := o.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// List returns the user's orders newest first, optionally filtered by order
// type and coin symbol.
func (o *Orders) List(ctx context.Context, userID uuid.UUID, orderType, assetSymbol string) ([]storage.Order, error) {
	filter := storage.OrderFilter{UserID: userID, AssetSymbol: strings.TrimSpace(assetSymbol)}
	if strings.TrimSpace(orderType) != "" {
		parsed, err := ParseOrderType(orderType)
		if err != nil {
			return nil, err
		}
		filter.OrderType = parsed
	}
	return o.store.ListOrders(ctx, filter)
}

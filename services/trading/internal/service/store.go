package service

import (
	"context"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store interface {
	InTx(ctx context.Context, fn func(storage.Tx) error) error

	GetWalletByUser(ctx context.Context, userID uuid.UUID) (*storage.Wallet, error)
	ListWalletTransactions(ctx context.Context, walletID uuid.UUID) ([]storage.WalletTransaction, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, error)
	ListOrders(ctx context.Context, filter storage.OrderFilter) ([]storage.Order, error)
	GetAsset(ctx context.Context, assetID uuid.UUID) (*storage.Asset, error)
	GetAssetByUserAndCoin(ctx context.Context, userID uuid.UUID, coinID string) (*storage.Asset, error)
	ListAssets(ctx context.Context, userID uuid.UUID) ([]storage.Asset, error)
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*storage.Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID uuid.UUID) ([]storage.Withdrawal, error)
	GetPaymentOrder(ctx context.Context, id uuid.UUID) (*storage.PaymentOrder, error)
	UpsertPaymentDetails(ctx context.Context, details *storage.PaymentDetails) (*storage.PaymentDetails, error)
	GetPaymentDetails(ctx context.Context, userID uuid.UUID) (*storage.PaymentDetails, error)
	GetOrCreateWatchlist(ctx context.Context, userID uuid.UUID) (*storage.Watchlist, error)
	ToggleWatchlistCoin(ctx context.Context, userID uuid.UUID, coinID string) (bool, error)
}

// Coin is a market-data snapshot supplied by the caller.
type Coin struct {
	ID           string
	Symbol       string
	CurrentPrice decimal.Decimal
}

// Events receives notifications after the owning transaction commits.
type Events interface {
	OrderSettled(ctx context.Context, order storage.Order)
	OrderRejected(ctx context.Context, order storage.Order)
	WalletTransferred(ctx context.Context, transferID uuid.UUID, from, to storage.Wallet, amount decimal.Decimal)
	WithdrawalRequested(ctx context.Context, w storage.Withdrawal)
	WithdrawalResolved(ctx context.Context, w storage.Withdrawal)
	PaymentSettled(ctx context.Context, p storage.PaymentOrder)
}

type noopEvents struct{}

func (noopEvents) OrderSettled(context.Context, storage.Order)  {}
func (noopEvents) OrderRejected(context.Context, storage.Order) {}
func (noopEvents) WalletTransferred(context.Context, uuid.UUID, storage.Wallet, storage.Wallet, decimal.Decimal) {
}
func (noopEvents) WithdrawalRequested(context.Context, storage.Withdrawal) {}
func (noopEvents) WithdrawalResolved(context.Context, storage.Withdrawal)  {}
func (noopEvents) PaymentSettled(context.Context, storage.PaymentOrder)    {}

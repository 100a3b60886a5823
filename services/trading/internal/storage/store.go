package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrConflict covers lock timeouts, deadlocks, serialization failures and
	// stale version checks. Callers may retry the whole transaction.
	ErrConflict = errors.New("concurrent update conflict")
)

// Tx is a unit of work. Methods named ...ForUpdate lock the row until the
// transaction ends. Row locks must be taken wallet first, then asset, then
// order, withdrawal or payment rows.
type Tx interface {
	GetOrCreateWalletForUpdate(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	GetWalletForUpdate(ctx context.Context, walletID uuid.UUID) (*Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal, expectedVersion int64) (*Wallet, error)
	InsertWalletTransaction(ctx context.Context, entry *WalletTransaction) error

	GetAssetForUpdate(ctx context.Context, userID uuid.UUID, coinID string) (*Asset, error)
	GetAssetByIDForUpdate(ctx context.Context, assetID uuid.UUID) (*Asset, error)
	InsertAsset(ctx context.Context, asset *Asset) error
	UpdateAssetQuantity(ctx context.Context, assetID uuid.UUID, quantity decimal.Decimal, expectedVersion int64) (*Asset, error)
	DeleteAsset(ctx context.Context, assetID uuid.UUID, expectedVersion int64) error

	InsertOrder(ctx context.Context, order *Order) error
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status, reason string, now time.Time) error

	InsertWithdrawal(ctx context.Context, w *Withdrawal) error
	GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (*Withdrawal, error)
	UpdateWithdrawalStatus(ctx context.Context, id uuid.UUID, status string, resolvedAt time.Time) error

	InsertPaymentOrder(ctx context.Context, p *PaymentOrder) error
	GetPaymentOrderForUpdate(ctx context.Context, id uuid.UUID) (*PaymentOrder, error)
	UpdatePaymentOrder(ctx context.Context, id uuid.UUID, status, gatewayPaymentID string, now time.Time) error
}

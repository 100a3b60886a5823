package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	OrderTypeBuy  = "BUY"
	OrderTypeSell = "SELL"

	OrderStatusPending  = "PENDING"
	OrderStatusSuccess  = "SUCCESS"
	OrderStatusRejected = "REJECTED"

	WithdrawalStatusPending  = "PENDING"
	WithdrawalStatusAccepted = "ACCEPTED"
	WithdrawalStatusRejected = "REJECTED"

	PaymentStatusPending = "PENDING"
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFailed  = "FAILED"

	PaymentMethodRazorpay = "RAZORPAY"
	PaymentMethodStripe   = "STRIPE"

	TxTypeBuyAsset           = "BUY_ASSET"
	TxTypeSellAsset          = "SELL_ASSET"
	TxTypeWalletTransfer     = "WALLET_TRANSFER"
	TxTypeWithdrawal         = "WITHDRAWAL"
	TxTypeWithdrawalReversal = "WITHDRAWAL_REVERSAL"
	TxTypeAddMoney           = "ADD_MONEY"
)

type Wallet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Balance   decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletTransaction is one journal line; Amount is signed.
type WalletTransaction struct {
	ID           uuid.UUID
	WalletID     uuid.UUID
	Type         string
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	ReferenceID  uuid.UUID
	Purpose      string
	CreatedAt    time.Time
}

type Asset struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CoinID    string
	Symbol    string
	Quantity  decimal.Decimal
	BuyPrice  decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	OrderType    string
	Price        decimal.Decimal
	Status       string
	RejectReason string
	Item         OrderItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type OrderItem struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	CoinID    string
	Symbol    string
	Quantity  decimal.Decimal
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal
}

type OrderFilter struct {
	UserID      uuid.UUID
	OrderType   string
	AssetSymbol string
}

type Withdrawal struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Status      string
	RequestedAt time.Time
	ResolvedAt  *time.Time
}

type PaymentOrder struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Amount           decimal.Decimal
	Method           string
	Status           string
	GatewayPaymentID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type PaymentDetails struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AccountNumber string
	AccountName   string
	IFSC          string
	BankName      string
	UpdatedAt     time.Time
}

// Watchlist holds the coins a user follows, oldest first.
type Watchlist struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CoinIDs   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

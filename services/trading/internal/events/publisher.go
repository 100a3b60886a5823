package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/AfshinJalili/tradingplatform/libs/kafka"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TypeOrderExecuted       = "orders.executed"
	TypeOrderRejected       = "orders.rejected"
	TypeWalletTransferred   = "wallets.transferred"
	TypeWithdrawalRequested = "withdrawals.requested"
	TypeWithdrawalResolved  = "withdrawals.resolved"
	TypePaymentSettled      = "payments.settled"
)

type Topics struct {
	Orders      string
	Wallets     string
	Withdrawals string
	Payments    string
}

type OrderEvent struct {
	kafka.Envelope
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id"`
	OrderType    string    `json:"order_type"`
	Status       string    `json:"status"`
	RejectReason string    `json:"reject_reason,omitempty"`
	CoinID       string    `json:"coin_id"`
	Symbol       string    `json:"symbol"`
	Quantity     string    `json:"quantity"`
	Total        string    `json:"total"`
	BuyPrice     string    `json:"buy_price"`
	SellPrice    string    `json:"sell_price"`
	ExecutedAt   time.Time `json:"executed_at"`
}

type TransferEvent struct {
	kafka.Envelope
	TransferID   string `json:"transfer_id"`
	FromWalletID string `json:"from_wallet_id"`
	ToWalletID   string `json:"to_wallet_id"`
	Amount       string `json:"amount"`
}

type WithdrawalEvent struct {
	kafka.Envelope
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Amount       string `json:"amount"`
	Status       string `json:"status"`
}

type PaymentEvent struct {
	kafka.Envelope
	PaymentOrderID   string `json:"payment_order_id"`
	UserID           string `json:"user_id"`
	Amount           string `json:"amount"`
	Method           string `json:"method"`
	Status           string `json:"status"`
	GatewayPaymentID string `json:"gateway_payment_id,omitempty"`
}

// Publisher emits domain events to Kafka after commit. Failures are logged only.
type Publisher struct {
	producer kafka.Publisher
	topics   Topics
	logger   *slog.Logger
}

func NewPublisher(producer kafka.Publisher, topics Topics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{producer: producer, topics: topics, logger: logger}
}

func (p *Publisher) OrderSettled(ctx context.Context, order storage.Order) {
	p.publishOrder(ctx, TypeOrderExecuted, order)
}

func (p *Publisher) OrderRejected(ctx context.Context, order storage.Order) {
	p.publishOrder(ctx, TypeOrderRejected, order)
}

func (p *Publisher) publishOrder(ctx context.Context, eventType string, order storage.Order) {
	env, ok := p.envelope(eventType, order.ID.String(), order.Status)
	if !ok {
		return
	}
	p.publish(ctx, p.topics.Orders, order.UserID.String(), OrderEvent{
		Envelope:     env,
		OrderID:      order.ID.String(),
		UserID:       order.UserID.String(),
		OrderType:    order.OrderType,
		Status:       order.Status,
		RejectReason: order.RejectReason,
		CoinID:       order.Item.CoinID,
		Symbol:       order.Item.Symbol,
		Quantity:     order.Item.Quantity.String(),
		Total:        order.Price.String(),
		BuyPrice:     order.Item.BuyPrice.String(),
		SellPrice:    order.Item.SellPrice.String(),
		ExecutedAt:   order.UpdatedAt,
	})
}

func (p *Publisher) WalletTransferred(ctx context.Context, transferID uuid.UUID, from, to storage.Wallet, amount decimal.Decimal) {
	env, ok := p.envelope(TypeWalletTransferred, transferID.String())
	if !ok {
		return
	}
	p.publish(ctx, p.topics.Wallets, from.ID.String(), TransferEvent{
		Envelope:     env,
		TransferID:   transferID.String(),
		FromWalletID: from.ID.String(),
		ToWalletID:   to.ID.String(),
		Amount:       amount.String(),
	})
}

func (p *Publisher) WithdrawalRequested(ctx context.Context, w storage.Withdrawal) {
	p.publishWithdrawal(ctx, TypeWithdrawalRequested, w)
}

func (p *Publisher) WithdrawalResolved(ctx context.Context, w storage.Withdrawal) {
	p.publishWithdrawal(ctx, TypeWithdrawalResolved, w)
}

func (p *Publisher) publishWithdrawal(ctx context.Context, eventType string, w storage.Withdrawal) {
	env, ok := p.envelope(eventType, w.ID.String(), w.Status)
	if !ok {
		return
	}
	p.publish(ctx, p.topics.Withdrawals, w.UserID.String(), WithdrawalEvent{
		Envelope:     env,
		WithdrawalID: w.ID.String(),
		UserID:       w.UserID.String(),
		Amount:       w.Amount.String(),
		Status:       w.Status,
	})
}

func (p *Publisher) PaymentSettled(ctx context.Context, order storage.PaymentOrder) {
	env, ok := p.envelope(TypePaymentSettled, order.ID.String(), order.Status)
	if !ok {
		return
	}
	p.publish(ctx, p.topics.Payments, order.UserID.String(), PaymentEvent{
		Envelope:         env,
		PaymentOrderID:   order.ID.String(),
		UserID:           order.UserID.String(),
		Amount:           order.Amount.String(),
		Method:           order.Method,
		Status:           order.Status,
		GatewayPaymentID: order.GatewayPaymentID,
	})
}

// envelope derives the event id from the entity and state so redeliveries
// of one transition share an id.
func (p *Publisher) envelope(eventType string, parts ...string) (kafka.Envelope, bool) {
	id := kafka.DeterministicEventID(append([]string{eventType}, parts...)...)
	env, err := kafka.NewEnvelopeWithID(id, eventType, 1, parts[0])
	if err != nil {
		p.logger.Error("build event envelope failed", "event_type", eventType, "error", err)
		return kafka.Envelope{}, false
	}
	return env, true
}

func (p *Publisher) publish(ctx context.Context, topic, key string, value any) {
	if p.producer == nil || topic == "" {
		return
	}
	if _, _, err := p.producer.PublishJSON(ctx, topic, key, value); err != nil {
		p.logger.Error("publish event failed", "topic", topic, "key", key, "error", err)
	}
}

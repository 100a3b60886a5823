package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type publishCall struct {
	topic string
	key   string
	value any
}

type stubProducer struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (s *stubProducer) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, publishCall{topic: topic, key: key, value: value})
	return 0, 0, s.err
}

func (s *stubProducer) Close() error { return nil }

var testTopics = Topics{Orders: "orders", Wallets: "wallets", Withdrawals: "withdrawals", Payments: "payments"}

func TestOrderSettledEvent(t *testing.T) {
	producer := &stubProducer{}
	pub := NewPublisher(producer, testTopics, slog.Default())

	order := storage.Order{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		OrderType: storage.OrderTypeBuy,
		Price:     decimal.RequireFromString("300"),
		Status:    storage.OrderStatusSuccess,
		Item: storage.OrderItem{
			CoinID:   "bitcoin",
			Symbol:   "btc",
			Quantity: decimal.RequireFromString("0.01"),
			BuyPrice: decimal.RequireFromString("30000"),
		},
		UpdatedAt: time.Now().UTC(),
	}
	pub.OrderSettled(context.Background(), order)
	pub.OrderSettled(context.Background(), order)

	if len(producer.calls) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(producer.calls))
	}
	call := producer.calls[0]
	if call.topic != "orders" || call.key != order.UserID.String() {
		t.Fatalf("unexpected topic/key %s %s", call.topic, call.key)
	}
	evt, ok := call.value.(OrderEvent)
	if !ok {
		t.Fatalf("expected OrderEvent, got %T", call.value)
	}
	if evt.EventType != TypeOrderExecuted || evt.Total != "300" || evt.Quantity != "0.01" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if err := evt.Validate(); err != nil {
		t.Fatalf("invalid envelope: %v", err)
	}
	second := producer.calls[1].value.(OrderEvent)
	if second.EventID != evt.EventID {
		t.Fatalf("expected stable event id for the same transition")
	}
}

func TestPublishErrorsAreSwallowed(t *testing.T) {
	producer := &stubProducer{err: errors.New("broker down")}
	pub := NewPublisher(producer, testTopics, slog.Default())

	pub.WithdrawalResolved(context.Background(), storage.Withdrawal{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Amount: decimal.NewFromInt(5),
		Status: storage.WithdrawalStatusRejected,
	})
	if len(producer.calls) != 1 {
		t.Fatalf("expected publish attempt, got %d", len(producer.calls))
	}
}

func TestEmptyTopicSkipsPublish(t *testing.T) {
	producer := &stubProducer{}
	pub := NewPublisher(producer, Topics{}, slog.Default())
	pub.PaymentSettled(context.Background(), storage.PaymentOrder{ID: uuid.New(), UserID: uuid.New()})
	if len(producer.calls) != 0 {
		t.Fatalf("expected no publish, got %d", len(producer.calls))
	}
}

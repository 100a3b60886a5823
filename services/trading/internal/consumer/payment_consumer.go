package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AfshinJalili/tradingplatform/libs/kafka"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/service"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

const paymentsCapturedEventType = "payments.captured"

// PaymentCapturedEvent is emitted by the payment gateway bridge once a
// gateway has reported the outcome of a payment.
type PaymentCapturedEvent struct {
	kafka.Envelope
	PaymentOrderID   string `json:"payment_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Captured         bool   `json:"captured"`
}

func (e *PaymentCapturedEvent) Validate() error {
	if err := e.Envelope.Validate(); err != nil {
		return err
	}
	if e.EventType != paymentsCapturedEventType {
		return fmt.Errorf("unexpected event_type: %s", e.EventType)
	}
	if strings.TrimSpace(e.PaymentOrderID) == "" {
		return fmt.Errorf("payment_order_id is required")
	}
	if _, err := uuid.Parse(strings.TrimSpace(e.PaymentOrderID)); err != nil {
		return fmt.Errorf("invalid payment_order_id")
	}
	if e.Captured && strings.TrimSpace(e.GatewayPaymentID) == "" {
		return fmt.Errorf("gateway_payment_id is required for captured payments")
	}
	return nil
}

type PaymentApplier interface {
	Apply(ctx context.Context, paymentOrderID uuid.UUID, gatewayPaymentID string, captured bool) (bool, error)
}

type PaymentConsumer struct {
	payments PaymentApplier
	logger   *slog.Logger
}

func NewPaymentConsumer(payments PaymentApplier, logger *slog.Logger) *PaymentConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentConsumer{payments: payments, logger: logger}
}

// HandleMessage applies a gateway outcome to its payment order. Malformed
// events go to the dead letter topic; redeliveries of a resolved order are
// acknowledged without effect.
func (c *PaymentConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "decode")
	}
	var event PaymentCapturedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode %s: %w", paymentsCapturedEventType, err), "decode")
	}
	if err := event.Validate(); err != nil {
		return kafka.DLQ(err, "validate")
	}

	orderID := uuid.MustParse(strings.TrimSpace(event.PaymentOrderID))
	credited, err := c.payments.Apply(ctx, orderID, strings.TrimSpace(event.GatewayPaymentID), event.Captured)
	switch {
	case err == nil:
		c.logger.Info("payment capture applied", "event_id", event.EventID, "payment_order_id", orderID, "credited", credited)
		return nil
	case errors.Is(err, service.ErrAlreadyResolved):
		c.logger.Info("payment order already resolved", "event_id", event.EventID, "payment_order_id", orderID)
		return nil
	case errors.Is(err, service.ErrPaymentOrderNotFound):
		c.logger.Warn("payment order missing for capture event", "event_id", event.EventID, "payment_order_id", orderID)
		return kafka.DLQ(err, "unknown_payment_order")
	case service.IsRetryable(err), service.KindOf(err) == service.KindInternal:
		return fmt.Errorf("apply payment %s: %w", orderID, err)
	default:
		return kafka.DLQ(err, string(service.KindOf(err)))
	}
}

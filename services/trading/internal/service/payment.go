package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GatewayVerifier asks a payment gateway whether a payment was captured for
// the given order.
type GatewayVerifier interface {
	Captured(ctx context.Context, gatewayPaymentID string, order storage.PaymentOrder) (bool, error)
}

// Payments bridges gateway confirmations into wallet deposits.
type Payments struct {
	store     Store
	ledger    *Ledger
	verifiers map[string]GatewayVerifier
	events    Events
	logger    *slog.Logger
	metrics   *Metrics
}

func NewPayments(store Store, ledger *Ledger, verifiers map[string]GatewayVerifier, events Events, logger *slog.Logger, metrics *Metrics) *Payments {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = noopEvents{}
	}
	return &Payments{
		store:     store,
		ledger:    ledger,
		verifiers: verifiers,
		events:    events,
		logger:    logger,
		metrics:   metrics,
	}
}

func ParsePaymentMethod(value string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case storage.PaymentMethodRazorpay:
		return storage.PaymentMethodRazorpay, nil
	case storage.PaymentMethodStripe:
		return storage.PaymentMethodStripe, nil
	default:
		return "", invalidInput("unsupported payment method %q", value)
	}
}

func (p *Payments) CreatePendingOrder(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, method string) (*storage.PaymentOrder, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if exceedsScale(amount) {
		return nil, ErrAmountScale
	}
	if userID == uuid.Nil {
		return nil, invalidInput("user_id is required")
	}
	method, err := ParsePaymentMethod(method)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &storage.PaymentOrder{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Method:    method,
		Status:    storage.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.store.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertPaymentOrder(ctx, order)
	}); err != nil {
		p.logger.Error("create payment order failed", "user_id", userID, "error", err)
		return nil, translate(err)
	}
	p.metrics.IncPayment(storage.PaymentStatusPending)
	return order, nil
}

// Confirm checks the gateway and applies the outcome. It returns true when the
// order moved to SUCCESS and the wallet was credited.
func (p *Payments) Confirm(ctx context.Context, paymentOrderID uuid.UUID, gatewayPaymentID string) (bool, error) {
	order, err := p.get(ctx, paymentOrderID)
	if err != nil {
		return false, err
	}
	if order.Status != storage.PaymentStatusPending {
		return false, ErrAlreadyResolved
	}
	if strings.TrimSpace(gatewayPaymentID) == "" {
		return false, invalidInput("payment_id is required")
	}

	verifier, ok := p.verifiers[order.Method]
	if !ok || verifier == nil {
		return false, invalidInput("no gateway configured for %s", order.Method)
	}
	captured, err := verifier.Captured(ctx, gatewayPaymentID, *order)
	if err != nil {
		p.logger.Error("gateway verification failed", "payment_order_id", order.ID, "method", order.Method, "error", err)
		return false, fmt.Errorf("verify payment: %w", err)
	}
	return p.Apply(ctx, paymentOrderID, gatewayPaymentID, captured)
}

// Apply moves a PENDING payment order to SUCCESS, crediting the wallet in the
// same transaction, or to FAILED. Any other state yields ErrAlreadyResolved.
func (p *Payments) Apply(ctx context.Context, paymentOrderID uuid.UUID, gatewayPaymentID string, captured bool) (bool, error) {
	order, err := p.get(ctx, paymentOrderID)
	if err != nil {
		return false, err
	}

	var settled storage.PaymentOrder
	err = p.store.InTx(ctx, func(tx storage.Tx) error {
		wallet, err := tx.GetOrCreateWalletForUpdate(ctx, order.UserID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		current, err := tx.GetPaymentOrderForUpdate(ctx, paymentOrderID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrPaymentOrderNotFound
			}
			return err
		}
		if current.Status != storage.PaymentStatusPending {
			return ErrAlreadyResolved
		}

		status := storage.PaymentStatusFailed
		if captured {
			status = storage.PaymentStatusSuccess
			if err := p.ledger.Credit(ctx, tx, wallet, current.Amount, Entry{
				Type:        storage.TxTypeAddMoney,
				ReferenceID: current.ID,
				Purpose:     fmt.Sprintf("deposit via %s", strings.ToLower(current.Method)),
			}); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if err := tx.UpdatePaymentOrder(ctx, current.ID, status, gatewayPaymentID, now); err != nil {
			return fmt.Errorf("update payment order: %w", err)
		}
		current.Status = status
		current.GatewayPaymentID = gatewayPaymentID
		current.UpdatedAt = now
		settled = *current
		return nil
	})
	if err != nil {
		err = translate(err)
		p.metrics.observeError("payment", err)
		if KindOf(err) == KindInternal {
			p.logger.Error("apply payment failed", "payment_order_id", paymentOrderID, "error", err)
		}
		return false, err
	}

	p.metrics.IncPayment(settled.Status)
	p.events.PaymentSettled(ctx, settled)
	p.logger.Info("payment order resolved", "payment_order_id", settled.ID, "status", settled.Status)
	return settled.Status == storage.PaymentStatusSuccess, nil
}

// GetForUser returns a payment order owned by userID; other users' orders read as missing.
func (p *Payments) GetForUser(ctx context.Context, userID, paymentOrderID uuid.UUID) (*storage.PaymentOrder, error) {
	order, err := p.get(ctx, paymentOrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrPaymentOrderNotFound
	}
	return order, nil
}

func (p *Payments) get(ctx context.Context, id uuid.UUID) (*storage.PaymentOrder, error) {
	order, err := p.store.GetPaymentOrder(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrPaymentOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

type PaymentDetailsInput struct {
	AccountNumber string
	AccountName   string
	IFSC          string
	BankName      string
}

func (p *Payments) SaveDetails(ctx context.Context, userID uuid.UUID, in PaymentDetailsInput) (*storage.PaymentDetails, error) {
	required := []struct{ name, value string }{
		{"account_number", in.AccountNumber},
		{"account_name", in.AccountName},
		{"ifsc", in.IFSC},
		{"bank_name", in.BankName},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return nil, invalidInput("%s is required", field.name)
		}
	}
	return p.store.UpsertPaymentDetails(ctx, &storage.PaymentDetails{
		ID:            uuid.New(),
		UserID:        userID,
		AccountNumber: strings.TrimSpace(in.AccountNumber),
		AccountName:   strings.TrimSpace(in.AccountName),
		IFSC:          strings.ToUpper(strings.TrimSpace(in.IFSC)),
		BankName:      strings.TrimSpace(in.BankName),
		UpdatedAt:     time.Now().UTC(),
	})
}

func (p *Payments) Details(ctx context.Context, userID uuid.UUID) (*storage.PaymentDetails, error) {
	details, err := p.store.GetPaymentDetails(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrPaymentDetailsNotFound
		}
		return nil, err
	}
	return details, nil
}

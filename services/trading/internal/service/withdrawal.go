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

// Withdrawals reserves funds on request by debiting the wallet up front and
// returns them to the owner if an operator rejects the request.
type Withdrawals struct {
	store   Store
	ledger  *Ledger
	events  Events
	logger  *slog.Logger
	metrics *Metrics
}

func NewWithdrawals(store Store, ledger *Ledger, events Events, logger *slog.Logger, metrics *Metrics) *Withdrawals {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = noopEvents{}
	}
	return &Withdrawals{store: store, ledger: ledger, events: events, logger: logger, metrics: metrics}
}

func (w *Withdrawals) Request(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*storage.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if exceedsScale(amount) {
		return nil, ErrAmountScale
	}
	if userID == uuid.Nil {
		return nil, invalidInput("user_id is required")
	}

	withdrawal := &storage.Withdrawal{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Status:      storage.WithdrawalStatusPending,
		RequestedAt: time.Now().UTC(),
	}
	err := w.store.InTx(ctx, func(tx storage.Tx) error {
		wallet, err := tx.GetOrCreateWalletForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		if err := w.ledger.Debit(ctx, tx, wallet, amount, Entry{
			Type:        storage.TxTypeWithdrawal,
			ReferenceID: withdrawal.ID,
			Purpose:     "withdrawal request",
		}); err != nil {
			return err
		}
		if err := tx.InsertWithdrawal(ctx, withdrawal); err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, w.fail("withdrawal request failed", err, "user_id", userID)
	}

	w.metrics.IncWithdrawal(storage.WithdrawalStatusPending)
	w.events.WithdrawalRequested(ctx, *withdrawal)
	w.logger.Info("withdrawal requested", "withdrawal_id", withdrawal.ID, "user_id", userID, "amount", amount.String())
	return withdrawal, nil
}

// Proceed resolves a PENDING withdrawal exactly once. Rejection credits the
// reserved amount back to the owner's wallet.
func (w *Withdrawals) Proceed(ctx context.Context, withdrawalID uuid.UUID, accept bool) (*storage.Withdrawal, error) {
	existing, err := w.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}

	var resolved *storage.Withdrawal
	err = w.store.InTx(ctx, func(tx storage.Tx) error {
		wallet, err := tx.GetOrCreateWalletForUpdate(ctx, existing.UserID)
		if err != nil {
			return fmt.Errorf("lock wallet: %w", err)
		}
		current, err := tx.GetWithdrawalForUpdate(ctx, withdrawalID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrWithdrawalNotFound
			}
			return err
		}
		if current.Status != storage.WithdrawalStatusPending {
			return ErrAlreadyResolved
		}

		status := storage.WithdrawalStatusAccepted
		if !accept {
			status = storage.WithdrawalStatusRejected
			if err := w.ledger.Credit(ctx, tx, wallet, current.Amount, Entry{
				Type:        storage.TxTypeWithdrawalReversal,
				ReferenceID: current.ID,
				Purpose:     "withdrawal rejected",
			}); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		if err := tx.UpdateWithdrawalStatus(ctx, current.ID, status, now); err != nil {
			return fmt.Errorf("update withdrawal: %w", err)
		}
		current.Status = status
		current.ResolvedAt = &now
		resolved = current
		return nil
	})
	if err != nil {
		return nil, w.fail("withdrawal proceed failed", err, "withdrawal_id", withdrawalID)
	}

	w.metrics.IncWithdrawal(resolved.Status)
	w.events.WithdrawalResolved(ctx, *resolved)
	w.logger.Info("withdrawal resolved", "withdrawal_id", resolved.ID, "status", resolved.Status)
	return resolved, nil
}

func (w *Withdrawals) History(ctx context.Context, userID uuid.UUID) ([]storage.Withdrawal, error) {
	return w.store.ListWithdrawals(ctx, userID)
}

func (w *Withdrawals) All(ctx context.Context) ([]storage.Withdrawal, error) {
	return w.store.ListWithdrawals(ctx, uuid.Nil)
}

func (w *Withdrawals) fail(msg string, err error, args ...any) error {
	err = translate(err)
	w.metrics.observeError("withdrawal", err)
	if KindOf(err) == KindInternal {
		w.logger.Error(msg, append(args, "error", err)...)
	}
	return err
}

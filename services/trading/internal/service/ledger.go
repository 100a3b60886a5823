package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places stored for balances, prices and
// quantities.
const MoneyScale = 18

func exceedsScale(d decimal.Decimal) bool {
	return !d.Equal(d.Truncate(MoneyScale))
}

// Entry describes the journal line written alongside a balance change.
type Entry struct {
	Type        string
	ReferenceID uuid.UUID
	Purpose     string
}

// Ledger owns every wallet balance mutation.
type Ledger struct {
	store   Store
	events  Events
	logger  *slog.Logger
	metrics *Metrics
}

func NewLedger(store Store, events Events, logger *slog.Logger, metrics *Metrics) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = noopEvents{}
	}
	return &Ledger{
		store:   store,
		events:  events,
		logger:  logger,
		metrics: metrics,
	}
}

// GetOrCreate returns the user's wallet, creating an empty one on first use.
func (l *Ledger) GetOrCreate(ctx context.Context, userID uuid.UUID) (*storage.Wallet, error) {
	if userID == uuid.Nil {
		return nil, invalidInput("user_id is required")
	}
	var wallet *storage.Wallet
	err := l.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		wallet, err = tx.GetOrCreateWalletForUpdate(ctx, userID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	return wallet, nil
}

// Credit adds amount to a wallet locked by tx and journals it. wallet is
// updated in place with the new balance and version.
func (l *Ledger) Credit(ctx context.Context, tx storage.Tx, wallet *storage.Wallet, amount decimal.Decimal, entry Entry) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if exceedsScale(amount) {
		return ErrAmountScale
	}
	return l.apply(ctx, tx, wallet, amount, entry)
}

// Debit subtracts amount from a wallet locked by tx. It fails with
// ErrInsufficientFunds and leaves the wallet untouched when the balance is short.
func (l *Ledger) Debit(ctx context.Context, tx storage.Tx, wallet *storage.Wallet, amount decimal.Decimal, entry Entry) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if exceedsScale(amount) {
		return ErrAmountScale
	}
	if wallet.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	return l.apply(ctx, tx, wallet, amount.Neg(), entry)
}

func (l *Ledger) apply(ctx context.Context, tx storage.Tx, wallet *storage.Wallet, delta decimal.Decimal, entry Entry) error {
	updated, err := tx.UpdateWalletBalance(ctx, wallet.ID, wallet.Balance.Add(delta), wallet.Version)
	if err != nil {
		return fmt.Errorf("update wallet %s: %w", wallet.ID, err)
	}
	*wallet = *updated

	if err := tx.InsertWalletTransaction(ctx, &storage.WalletTransaction{
		ID:           uuid.New(),
		WalletID:     wallet.ID,
		Type:         entry.Type,
		Amount:       delta,
		BalanceAfter: wallet.Balance,
		ReferenceID:  entry.ReferenceID,
		Purpose:      entry.Purpose,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("journal wallet %s: %w", wallet.ID, err)
	}
	l.metrics.IncWalletMutation(entry.Type)
	return nil
}

// Transfer moves amount from the sender's wallet to the wallet with id
// recipientWalletID. Both balances change or neither does.
func (l *Ledger) Transfer(ctx context.Context, senderUserID, recipientWalletID uuid.UUID, amount decimal.Decimal, purpose string) (*storage.Wallet, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if exceedsScale(amount) {
		return nil, ErrAmountScale
	}
	if senderUserID == uuid.Nil {
		return nil, invalidInput("user_id is required")
	}
	if recipientWalletID == uuid.Nil {
		return nil, ErrWalletNotFound
	}

	// A sender without a wallet has nothing to send.
	sender, err := l.store.GetWalletByUser(ctx, senderUserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInsufficientFunds
		}
		return nil, translate(err)
	}
	if sender.ID == recipientWalletID {
		return nil, ErrSelfTransfer
	}

	transferID := uuid.New()
	var from, to *storage.Wallet
	err = l.store.InTx(ctx, func(tx storage.Tx) error {
		// Lock both wallets in ascending id order.
		first, second := sender.ID, recipientWalletID
		if bytes.Compare(first[:], second[:]) > 0 {
			first, second = second, first
		}
		locked := make(map[uuid.UUID]*storage.Wallet, 2)
		for _, id := range []uuid.UUID{first, second} {
			w, err := tx.GetWalletForUpdate(ctx, id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return ErrWalletNotFound
				}
				return err
			}
			locked[id] = w
		}
		from, to = locked[sender.ID], locked[recipientWalletID]

		if err := l.Debit(ctx, tx, from, amount, Entry{
			Type:        storage.TxTypeWalletTransfer,
			ReferenceID: transferID,
			Purpose:     transferPurpose(purpose, "to", to.ID),
		}); err != nil {
			return err
		}
		return l.Credit(ctx, tx, to, amount, Entry{
			Type:        storage.TxTypeWalletTransfer,
			ReferenceID: transferID,
			Purpose:     transferPurpose(purpose, "from", from.ID),
		})
	})
	if err != nil {
		err = translate(err)
		l.metrics.IncTransfer(string(KindOf(err)))
		l.metrics.observeError("transfer", err)
		if KindOf(err) == KindInternal {
			l.logger.Error("wallet transfer failed", "sender", senderUserID, "recipient_wallet", recipientWalletID, "error", err)
		}
		return nil, err
	}

	l.metrics.IncTransfer("success")
	l.events.WalletTransferred(ctx, transferID, *from, *to, amount)
	l.logger.Info("wallet transfer", "transfer_id", transferID, "from_wallet", from.ID, "to_wallet", to.ID, "amount", amount.String())
	return from, nil
}

// History returns the wallet journal newest first; a user without a wallet has none.
func (l *Ledger) History(ctx context.Context, userID uuid.UUID) ([]storage.WalletTransaction, error) {
	wallet, err := l.store.GetWalletByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []storage.WalletTransaction{}, nil
		}
		return nil, err
	}
	return l.store.ListWalletTransactions(ctx, wallet.ID)
}

func transferPurpose(purpose, direction string, counterparty uuid.UUID) string {
	base := fmt.Sprintf("transfer %s wallet %s", direction, counterparty)
	if purpose == "" {
		return base
	}
	return base + ": " + purpose
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()

	first, err := h.ledger.GetOrCreate(context.Background(), userID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	second, err := h.ledger.GetOrCreate(context.Background(), userID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same wallet, got %s and %s", first.ID, second.ID)
	}
	assertDecimal(t, "balance", first.Balance, "0")
}

func TestDebitRejectsOverdraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.fund(t, userID, "50")

	err := h.store.InTx(ctx, func(tx storage.Tx) error {
		wallet, err := tx.GetOrCreateWalletForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		return h.ledger.Debit(ctx, tx, wallet, dec("50.01"), Entry{Type: storage.TxTypeWithdrawal})
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	assertDecimal(t, "balance", h.balance(t, userID), "50")

	err = h.store.InTx(ctx, func(tx storage.Tx) error {
		wallet, err := tx.GetOrCreateWalletForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		return h.ledger.Credit(ctx, tx, wallet, dec("0"), Entry{Type: storage.TxTypeAddMoney})
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestTransferMovesFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	h.fund(t, sender, "500")
	recipientWallet, _ := h.ledger.GetOrCreate(ctx, recipient)

	after, err := h.ledger.Transfer(ctx, sender, recipientWallet.ID, dec("200"), "rent")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	assertDecimal(t, "sender balance", after.Balance, "300")
	assertDecimal(t, "recipient balance", h.balance(t, recipient), "200")

	history, err := h.ledger.History(ctx, recipient)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Type != storage.TxTypeWalletTransfer {
		t.Fatalf("expected one transfer entry, got %+v", history)
	}
	assertDecimal(t, "entry amount", history[0].Amount, "200")
	assertDecimal(t, "entry balance after", history[0].BalanceAfter, "200")
	if h.events.transfers != 1 {
		t.Fatalf("expected transfer event, got %d", h.events.transfers)
	}
}

func TestTransferFailuresLeaveBalancesUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	senderWallet := h.fund(t, sender, "100")
	recipientWallet, _ := h.ledger.GetOrCreate(ctx, recipient)

	cases := []struct {
		name     string
		walletID uuid.UUID
		amount   string
		want     error
	}{
		{name: "insufficient", walletID: recipientWallet.ID, amount: "100.01", want: ErrInsufficientFunds},
		{name: "zero amount", walletID: recipientWallet.ID, amount: "0", want: ErrInvalidAmount},
		{name: "negative amount", walletID: recipientWallet.ID, amount: "-5", want: ErrInvalidAmount},
		{name: "unknown recipient", walletID: uuid.New(), amount: "10", want: ErrWalletNotFound},
		{name: "self", walletID: senderWallet.ID, amount: "10", want: ErrSelfTransfer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.ledger.Transfer(ctx, sender, tc.walletID, dec(tc.amount), "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	assertDecimal(t, "sender balance", h.balance(t, sender), "100")
	assertDecimal(t, "recipient balance", h.balance(t, recipient), "0")
}

func TestOpposingTransfersConserveTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	aliceWallet := h.fund(t, alice, "1000")
	bobWallet := h.fund(t, bob, "1000")

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := h.ledger.Transfer(ctx, alice, bobWallet.ID, dec("10"), ""); err != nil && !IsRetryable(err) {
				t.Errorf("alice transfer: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := h.ledger.Transfer(ctx, bob, aliceWallet.ID, dec("7"), ""); err != nil && !IsRetryable(err) {
				t.Errorf("bob transfer: %v", err)
			}
		}()
	}
	wg.Wait()

	total := h.balance(t, alice).Add(h.balance(t, bob))
	assertDecimal(t, "total", total, "2000")
}

func TestHistoryWithoutWalletIsEmpty(t *testing.T) {
	h := newHarness(t)
	entries, err := h.ledger.History(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestAmountsBeyondStoredScaleAreRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	h.fund(t, sender, "1")
	recipientWallet, _ := h.ledger.GetOrCreate(ctx, recipient)
	tiny := dec("0.0000000000000000005")

	if _, err := h.ledger.Transfer(ctx, sender, recipientWallet.ID, tiny, ""); !errors.Is(err, ErrAmountScale) {
		t.Fatalf("transfer: expected amount scale error, got %v", err)
	}
	if _, err := h.withdrawals.Request(ctx, sender, dec("0.1000000000000000001")); !errors.Is(err, ErrAmountScale) {
		t.Fatalf("withdrawal: expected amount scale error, got %v", err)
	}
	if _, err := h.payments.CreatePendingOrder(ctx, sender, tiny, storage.PaymentMethodStripe); !errors.Is(err, ErrAmountScale) {
		t.Fatalf("payment: expected amount scale error, got %v", err)
	}
	err := h.store.InTx(ctx, func(tx storage.Tx) error {
		wallet, err := tx.GetOrCreateWalletForUpdate(ctx, sender)
		if err != nil {
			return err
		}
		return h.ledger.Credit(ctx, tx, wallet, tiny, Entry{Type: storage.TxTypeAddMoney})
	})
	if !errors.Is(err, ErrAmountScale) {
		t.Fatalf("credit: expected amount scale error, got %v", err)
	}

	total := h.balance(t, sender).Add(h.balance(t, recipient))
	assertDecimal(t, "total", total, "1")
}

func TestTransferAtFullScaleConservesTotal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	h.fund(t, sender, "1")
	recipientWallet, _ := h.ledger.GetOrCreate(ctx, recipient)

	if _, err := h.ledger.Transfer(ctx, sender, recipientWallet.ID, dec("0.000000000000000001"), ""); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	assertDecimal(t, "sender balance", h.balance(t, sender), "0.999999999999999999")
	assertDecimal(t, "recipient balance", h.balance(t, recipient), "0.000000000000000001")
}

func TestTransferFromUserWithoutWalletCreatesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()
	recipientWallet, _ := h.ledger.GetOrCreate(ctx, recipient)

	if _, err := h.ledger.Transfer(ctx, sender, recipientWallet.ID, dec("10"), ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := h.ledger.Transfer(ctx, sender, uuid.New(), dec("10"), ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if _, err := h.store.GetWalletByUser(ctx, sender); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no sender wallet, got %v", err)
	}
}

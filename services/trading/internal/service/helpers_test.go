package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type recordedEvents struct {
	mu          sync.Mutex
	settled     []storage.Order
	rejected    []storage.Order
	transfers   int
	requested   []storage.Withdrawal
	resolved    []storage.Withdrawal
	paymentsSet []storage.PaymentOrder
}

func (r *recordedEvents) OrderSettled(_ context.Context, order storage.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, order)
}

func (r *recordedEvents) OrderRejected(_ context.Context, order storage.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, order)
}

func (r *recordedEvents) WalletTransferred(_ context.Context, _ uuid.UUID, _, _ storage.Wallet, _ decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transfers++
}

func (r *recordedEvents) WithdrawalRequested(_ context.Context, w storage.Withdrawal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested = append(r.requested, w)
}

func (r *recordedEvents) WithdrawalResolved(_ context.Context, w storage.Withdrawal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, w)
}

func (r *recordedEvents) PaymentSettled(_ context.Context, p storage.PaymentOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paymentsSet = append(r.paymentsSet, p)
}

type harness struct {
	store       *storage.Memory
	events      *recordedEvents
	ledger      *Ledger
	positions   *Positions
	orders      *Orders
	settlement  *Settlement
	withdrawals *Withdrawals
	payments    *Payments
	verifier    *fakeVerifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := storage.NewMemory(2 * time.Second)
	events := &recordedEvents{}
	logger := slog.Default()
	verifier := &fakeVerifier{captured: true}

	ledger := NewLedger(store, events, logger, nil)
	positions := NewPositions(store, DefaultDustThreshold, nil)
	orders := NewOrders(store)
	return &harness{
		store:       store,
		events:      events,
		ledger:      ledger,
		positions:   positions,
		orders:      orders,
		settlement:  NewSettlement(store, ledger, positions, orders, events, logger, nil),
		withdrawals: NewWithdrawals(store, ledger, events, logger, nil),
		payments: NewPayments(store, ledger, map[string]GatewayVerifier{
			storage.PaymentMethodRazorpay: verifier,
			storage.PaymentMethodStripe:   verifier,
		}, events, logger, nil),
		verifier: verifier,
	}
}

func (h *harness) fund(t *testing.T, userID uuid.UUID, amount string) *storage.Wallet {
	t.Helper()
	var wallet *storage.Wallet
	err := h.store.InTx(context.Background(), func(tx storage.Tx) error {
		w, err := tx.GetOrCreateWalletForUpdate(context.Background(), userID)
		if err != nil {
			return err
		}
		if err := h.ledger.Credit(context.Background(), tx, w, dec(amount), Entry{Type: storage.TxTypeAddMoney}); err != nil {
			return err
		}
		wallet = w
		return nil
	})
	if err != nil {
		t.Fatalf("fund wallet: %v", err)
	}
	return wallet
}

func (h *harness) balance(t *testing.T, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	wallet, err := h.ledger.GetOrCreate(context.Background(), userID)
	if err != nil {
		t.Fatalf("get wallet: %v", err)
	}
	return wallet.Balance
}

type fakeVerifier struct {
	mu       sync.Mutex
	captured bool
	err      error
	calls    int
}

func (f *fakeVerifier) Captured(_ context.Context, _ string, _ storage.PaymentOrder) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.captured, f.err
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func btc(price string) Coin {
	return Coin{ID: "bitcoin", Symbol: "btc", CurrentPrice: dec(price)}
}

func assertDecimal(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("expected %s %s, got %s", name, want, got)
	}
}

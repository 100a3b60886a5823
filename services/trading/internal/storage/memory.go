package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Store with the same locking contract as Postgres:
// per-row exclusive locks held until the transaction ends, bounded lock waits
// reported as ErrConflict, and all-or-nothing commits. Used by tests and local runs.
type Memory struct {
	mu          sync.Mutex
	lockTimeout time.Duration
	locks       map[string]chan struct{}

	wallets      map[uuid.UUID]Wallet
	walletByUser map[uuid.UUID]uuid.UUID
	walletTxs    []WalletTransaction

	assets     map[uuid.UUID]Asset
	assetByKey map[string]uuid.UUID

	orders      map[uuid.UUID]Order
	orderSeq    []uuid.UUID
	withdrawal  map[uuid.UUID]Withdrawal
	withdrawSeq []uuid.UUID
	payments    map[uuid.UUID]PaymentOrder
	details     map[uuid.UUID]PaymentDetails
	watchlists  map[uuid.UUID]Watchlist
}

// numericScale matches the NUMERIC(38, 18) money and quantity columns.
const numericScale = 18

func NewMemory(lockTimeout time.Duration) *Memory {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &Memory{
		lockTimeout:  lockTimeout,
		locks:        make(map[string]chan struct{}),
		wallets:      make(map[uuid.UUID]Wallet),
		walletByUser: make(map[uuid.UUID]uuid.UUID),
		assets:       make(map[uuid.UUID]Asset),
		assetByKey:   make(map[string]uuid.UUID),
		orders:       make(map[uuid.UUID]Order),
		withdrawal:   make(map[uuid.UUID]Withdrawal),
		payments:     make(map[uuid.UUID]PaymentOrder),
		details:      make(map[uuid.UUID]PaymentDetails),
		watchlists:   make(map[uuid.UUID]Watchlist),
	}
}

func (m *Memory) InTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memTx{
		m:           m,
		held:        make(map[string]bool),
		wallets:     make(map[uuid.UUID]Wallet),
		assets:      make(map[uuid.UUID]*Asset),
		orders:      make(map[uuid.UUID]Order),
		withdrawals: make(map[uuid.UUID]Withdrawal),
		payments:    make(map[uuid.UUID]PaymentOrder),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *Memory) GetWalletByUser(_ context.Context, userID uuid.UUID) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.walletByUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	w := m.wallets[id]
	return &w, nil
}

func (m *Memory) ListWalletTransactions(_ context.Context, walletID uuid.UUID) ([]WalletTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WalletTransaction, 0)
	for i := len(m.walletTxs) - 1; i >= 0; i-- {
		if m.walletTxs[i].WalletID == walletID {
			out = append(out, m.walletTxs[i])
		}
	}
	return out, nil
}

func (m *Memory) GetOrder(_ context.Context, orderID uuid.UUID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *Memory) ListOrders(_ context.Context, filter OrderFilter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0)
	for i := len(m.orderSeq) - 1; i >= 0; i-- {
		o := m.orders[m.orderSeq[i]]
		if o.UserID != filter.UserID {
			continue
		}
		if filter.OrderType != "" && o.OrderType != filter.OrderType {
			continue
		}
		if filter.AssetSymbol != "" && !strings.EqualFold(o.Item.Symbol, filter.AssetSymbol) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *Memory) GetAsset(_ context.Context, assetID uuid.UUID) (*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assets[assetID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *Memory) GetAssetByUserAndCoin(_ context.Context, userID uuid.UUID, coinID string) (*Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.assetByKey[assetKey(userID, coinID)]
	if !ok {
		return nil, ErrNotFound
	}
	a := m.assets[id]
	return &a, nil
}

func (m *Memory) ListAssets(_ context.Context, userID uuid.UUID) ([]Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Asset, 0)
	for _, a := range m.assets {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Asset) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (m *Memory) ListWithdrawals(_ context.Context, userID uuid.UUID) ([]Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Withdrawal, 0)
	for i := len(m.withdrawSeq) - 1; i >= 0; i-- {
		w := m.withdrawal[m.withdrawSeq[i]]
		if userID != uuid.Nil && w.UserID != userID {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (m *Memory) GetWithdrawal(_ context.Context, id uuid.UUID) (*Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawal[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (m *Memory) GetPaymentOrder(_ context.Context, id uuid.UUID) (*PaymentOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) UpsertPaymentDetails(_ context.Context, details *PaymentDetails) (*PaymentDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := *details
	if existing, ok := m.details[d.UserID]; ok {
		d.ID = existing.ID
	}
	m.details[d.UserID] = d
	return &d, nil
}

func (m *Memory) GetPaymentDetails(_ context.Context, userID uuid.UUID) (*PaymentDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.details[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *Memory) GetOrCreateWatchlist(_ context.Context, userID uuid.UUID) (*Watchlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.watchlistLocked(userID)
	w.CoinIDs = slices.Clone(w.CoinIDs)
	return &w, nil
}

func (m *Memory) ToggleWatchlistCoin(_ context.Context, userID uuid.UUID, coinID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.watchlistLocked(userID)
	added := false
	if i := slices.Index(w.CoinIDs, coinID); i >= 0 {
		w.CoinIDs = slices.Delete(slices.Clone(w.CoinIDs), i, i+1)
	} else {
		w.CoinIDs = append(slices.Clone(w.CoinIDs), coinID)
		added = true
	}
	w.UpdatedAt = time.Now().UTC()
	m.watchlists[userID] = w
	return added, nil
}

func (m *Memory) watchlistLocked(userID uuid.UUID) Watchlist {
	w, ok := m.watchlists[userID]
	if !ok {
		now := time.Now().UTC()
		w = Watchlist{ID: uuid.New(), UserID: userID, CreatedAt: now, UpdatedAt: now}
		m.watchlists[userID] = w
	}
	return w
}

func assetKey(userID uuid.UUID, coinID string) string {
	return userID.String() + ":" + coinID
}

type memTx struct {
	m        *Memory
	held     map[string]bool
	heldKeys []string

	wallets     map[uuid.UUID]Wallet
	walletTxs   []WalletTransaction
	assets      map[uuid.UUID]*Asset
	orders      map[uuid.UUID]Order
	newOrders   []uuid.UUID
	withdrawals map[uuid.UUID]Withdrawal
	newWithdraw []uuid.UUID
	payments    map[uuid.UUID]PaymentOrder
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	t.m.mu.Lock()
	ch, ok := t.m.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		t.m.locks[key] = ch
	}
	t.m.mu.Unlock()

	timer := time.NewTimer(t.m.lockTimeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		t.held[key] = true
		t.heldKeys = append(t.heldKeys, key)
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: lock wait on %s", ErrConflict, key)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memTx) release() {
	t.m.mu.Lock()
	chans := make([]chan struct{}, 0, len(t.heldKeys))
	for _, key := range t.heldKeys {
		chans = append(chans, t.m.locks[key])
	}
	t.m.mu.Unlock()
	for _, ch := range chans {
		<-ch
	}
	t.heldKeys = nil
	t.held = map[string]bool{}
}

func (t *memTx) commit() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()

	for id, w := range t.wallets {
		t.m.wallets[id] = w
		t.m.walletByUser[w.UserID] = id
	}
	t.m.walletTxs = append(t.m.walletTxs, t.walletTxs...)
	for id, a := range t.assets {
		if a == nil {
			if existing, ok := t.m.assets[id]; ok {
				delete(t.m.assetByKey, assetKey(existing.UserID, existing.CoinID))
			}
			delete(t.m.assets, id)
			continue
		}
		t.m.assets[id] = *a
		t.m.assetByKey[assetKey(a.UserID, a.CoinID)] = id
	}
	for id, o := range t.orders {
		t.m.orders[id] = o
	}
	t.m.orderSeq = append(t.m.orderSeq, t.newOrders...)
	for id, w := range t.withdrawals {
		t.m.withdrawal[id] = w
	}
	t.m.withdrawSeq = append(t.m.withdrawSeq, t.newWithdraw...)
	for id, p := range t.payments {
		t.m.payments[id] = p
	}
}

func (t *memTx) currentWallet(walletID uuid.UUID) (Wallet, bool) {
	if w, ok := t.wallets[walletID]; ok {
		return w, true
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	w, ok := t.m.wallets[walletID]
	return w, ok
}

func (t *memTx) walletIDForUser(userID uuid.UUID) (uuid.UUID, bool) {
	for id, w := range t.wallets {
		if w.UserID == userID {
			return id, true
		}
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	id, ok := t.m.walletByUser[userID]
	return id, ok
}

func (t *memTx) GetOrCreateWalletForUpdate(ctx context.Context, userID uuid.UUID) (*Wallet, error) {
	if err := t.lock(ctx, "wallet:"+userID.String()); err != nil {
		return nil, err
	}
	if id, ok := t.walletIDForUser(userID); ok {
		w, _ := t.currentWallet(id)
		return &w, nil
	}
	now := time.Now().UTC()
	w := Wallet{ID: uuid.New(), UserID: userID, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	t.wallets[w.ID] = w
	return &w, nil
}

func (t *memTx) GetWalletForUpdate(ctx context.Context, walletID uuid.UUID) (*Wallet, error) {
	w, ok := t.currentWallet(walletID)
	if !ok {
		return nil, ErrNotFound
	}
	if err := t.lock(ctx, "wallet:"+w.UserID.String()); err != nil {
		return nil, err
	}
	w, _ = t.currentWallet(walletID)
	return &w, nil
}

func (t *memTx) UpdateWalletBalance(_ context.Context, walletID uuid.UUID, balance decimal.Decimal, expectedVersion int64) (*Wallet, error) {
	w, ok := t.currentWallet(walletID)
	if !ok || w.Version != expectedVersion {
		return nil, fmt.Errorf("%w: wallet %s version %d", ErrConflict, walletID, expectedVersion)
	}
	if balance.IsNegative() {
		return nil, fmt.Errorf("wallet %s: balance check violated", walletID)
	}
	w.Balance = balance.Round(numericScale)
	w.Version++
	w.UpdatedAt = time.Now().UTC()
	t.wallets[walletID] = w
	return &w, nil
}

func (t *memTx) InsertWalletTransaction(_ context.Context, entry *WalletTransaction) error {
	e := *entry
	e.Amount = e.Amount.Round(numericScale)
	e.BalanceAfter = e.BalanceAfter.Round(numericScale)
	t.walletTxs = append(t.walletTxs, e)
	return nil
}

func (t *memTx) currentAsset(assetID uuid.UUID) (*Asset, bool) {
	if a, ok := t.assets[assetID]; ok {
		if a == nil {
			return nil, false
		}
		cp := *a
		return &cp, true
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	a, ok := t.m.assets[assetID]
	if !ok {
		return nil, false
	}
	return &a, true
}

func (t *memTx) GetAssetForUpdate(ctx context.Context, userID uuid.UUID, coinID string) (*Asset, error) {
	if err := t.lock(ctx, "asset:"+assetKey(userID, coinID)); err != nil {
		return nil, err
	}
	for _, a := range t.assets {
		if a != nil && a.UserID == userID && a.CoinID == coinID {
			cp := *a
			return &cp, nil
		}
	}
	t.m.mu.Lock()
	id, ok := t.m.assetByKey[assetKey(userID, coinID)]
	t.m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	a, ok := t.currentAsset(id)
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (t *memTx) GetAssetByIDForUpdate(ctx context.Context, assetID uuid.UUID) (*Asset, error) {
	a, ok := t.currentAsset(assetID)
	if !ok {
		return nil, ErrNotFound
	}
	if err := t.lock(ctx, "asset:"+assetKey(a.UserID, a.CoinID)); err != nil {
		return nil, err
	}
	a, ok = t.currentAsset(assetID)
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (t *memTx) InsertAsset(ctx context.Context, asset *Asset) error {
	existing, err := t.GetAssetForUpdate(ctx, asset.UserID, asset.CoinID)
	if err == nil && existing != nil {
		return fmt.Errorf("%w: asset %s/%s", ErrDuplicate, asset.UserID, asset.CoinID)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	cp := *asset
	cp.Quantity = cp.Quantity.Round(numericScale)
	cp.BuyPrice = cp.BuyPrice.Round(numericScale)
	cp.UpdatedAt = cp.CreatedAt
	t.assets[cp.ID] = &cp
	return nil
}

func (t *memTx) UpdateAssetQuantity(_ context.Context, assetID uuid.UUID, quantity decimal.Decimal, expectedVersion int64) (*Asset, error) {
	a, ok := t.currentAsset(assetID)
	if !ok || a.Version != expectedVersion {
		return nil, fmt.Errorf("%w: asset %s version %d", ErrConflict, assetID, expectedVersion)
	}
	if quantity.IsNegative() {
		return nil, fmt.Errorf("asset %s: quantity check violated", assetID)
	}
	a.Quantity = quantity.Round(numericScale)
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	t.assets[assetID] = a
	cp := *a
	return &cp, nil
}

func (t *memTx) DeleteAsset(_ context.Context, assetID uuid.UUID, expectedVersion int64) error {
	a, ok := t.currentAsset(assetID)
	if !ok || a.Version != expectedVersion {
		return fmt.Errorf("%w: asset %s version %d", ErrConflict, assetID, expectedVersion)
	}
	t.assets[assetID] = nil
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, order *Order) error {
	o := *order
	o.Item.OrderID = o.ID
	t.orders[o.ID] = o
	t.newOrders = append(t.newOrders, o.ID)
	return nil
}

func (t *memTx) UpdateOrderStatus(_ context.Context, orderID uuid.UUID, status, reason string, now time.Time) error {
	o, ok := t.orders[orderID]
	if !ok {
		t.m.mu.Lock()
		o, ok = t.m.orders[orderID]
		t.m.mu.Unlock()
	}
	if !ok || o.Status != OrderStatusPending {
		return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	o.Status = status
	o.RejectReason = reason
	o.UpdatedAt = now
	t.orders[orderID] = o
	return nil
}

func (t *memTx) InsertWithdrawal(_ context.Context, w *Withdrawal) error {
	t.withdrawals[w.ID] = *w
	t.newWithdraw = append(t.newWithdraw, w.ID)
	return nil
}

func (t *memTx) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	if err := t.lock(ctx, "withdrawal:"+id.String()); err != nil {
		return nil, err
	}
	if w, ok := t.withdrawals[id]; ok {
		return &w, nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	w, ok := t.m.withdrawal[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (t *memTx) UpdateWithdrawalStatus(ctx context.Context, id uuid.UUID, status string, resolvedAt time.Time) error {
	w, err := t.GetWithdrawalForUpdate(ctx, id)
	if err != nil {
		return err
	}
	w.Status = status
	resolved := resolvedAt
	w.ResolvedAt = &resolved
	t.withdrawals[id] = *w
	return nil
}

func (t *memTx) InsertPaymentOrder(_ context.Context, p *PaymentOrder) error {
	t.payments[p.ID] = *p
	return nil
}

func (t *memTx) GetPaymentOrderForUpdate(ctx context.Context, id uuid.UUID) (*PaymentOrder, error) {
	if err := t.lock(ctx, "payment:"+id.String()); err != nil {
		return nil, err
	}
	if p, ok := t.payments[id]; ok {
		return &p, nil
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	p, ok := t.m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTx) UpdatePaymentOrder(ctx context.Context, id uuid.UUID, status, gatewayPaymentID string, now time.Time) error {
	p, err := t.GetPaymentOrderForUpdate(ctx, id)
	if err != nil {
		return err
	}
	p.Status = status
	p.GatewayPaymentID = gatewayPaymentID
	p.UpdatedAt = now
	t.payments[id] = *p
	return nil
}

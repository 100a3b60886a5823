package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestBuyThenSellRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.fund(t, userID, "1000")

	order, err := h.settlement.ProcessOrder(ctx, btc("30000"), dec("0.01"), storage.OrderTypeBuy, userID)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if order.Status != storage.OrderStatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", order.Status)
	}
	assertDecimal(t, "order price", order.Price, "300")
	assertDecimal(t, "item buy price", order.Item.BuyPrice, "30000")
	assertDecimal(t, "item sell price", order.Item.SellPrice, "0")
	assertDecimal(t, "balance", h.balance(t, userID), "700")

	asset, err := h.positions.FindByUserAndCoin(ctx, userID, "bitcoin")
	if err != nil || asset == nil {
		t.Fatalf("expected asset, got %v %v", asset, err)
	}
	assertDecimal(t, "quantity", asset.Quantity, "0.01")
	assertDecimal(t, "buy price", asset.BuyPrice, "30000")

	sell, err := h.settlement.ProcessOrder(ctx, btc("30000"), dec("0.01"), storage.OrderTypeSell, userID)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	assertDecimal(t, "sell item buy price", sell.Item.BuyPrice, "30000")
	assertDecimal(t, "sell item sell price", sell.Item.SellPrice, "30000")
	assertDecimal(t, "balance", h.balance(t, userID), "1000")

	asset, err = h.positions.FindByUserAndCoin(ctx, userID, "bitcoin")
	if err != nil {
		t.Fatalf("find asset: %v", err)
	}
	if asset != nil {
		t.Fatalf("expected asset to be deleted, got %+v", asset)
	}
	if len(h.events.settled) != 2 {
		t.Fatalf("expected 2 settled events, got %d", len(h.events.settled))
	}
}

func TestBuyInsufficientFundsRecordsRejectedOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.fund(t, userID, "100")

	_, err := h.settlement.ProcessOrder(ctx, btc("300"), dec("1"), storage.OrderTypeBuy, userID)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	assertDecimal(t, "balance", h.balance(t, userID), "100")

	asset, _ := h.positions.FindByUserAndCoin(ctx, userID, "bitcoin")
	if asset != nil {
		t.Fatalf("expected no asset, got %+v", asset)
	}

	orders, err := h.orders.List(ctx, userID, "", "")
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Status != storage.OrderStatusRejected || orders[0].RejectReason != rejectReasonInsufficientFunds {
		t.Fatalf("expected rejected order, got %s %q", orders[0].Status, orders[0].RejectReason)
	}
	if len(h.events.rejected) != 1 {
		t.Fatalf("expected rejected event")
	}
}

func TestRepeatedBuysKeepFirstBuyPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.fund(t, userID, "1000")

	if _, err := h.settlement.ProcessOrder(ctx, btc("100"), dec("1"), storage.OrderTypeBuy, userID); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := h.settlement.ProcessOrder(ctx, btc("200"), dec("1"), storage.OrderTypeBuy, userID); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	asset, err := h.positions.FindByUserAndCoin(ctx, userID, "bitcoin")
	if err != nil || asset == nil {
		t.Fatalf("expected asset: %v", err)
	}
	assertDecimal(t, "quantity", asset.Quantity, "2")
	assertDecimal(t, "buy price", asset.BuyPrice, "100")
	assertDecimal(t, "balance", h.balance(t, userID), "700")
}

func TestPartialSellKeepsPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.fund(t, userID, "1000")

	if _, err := h.settlement.ProcessOrder(ctx, btc("100"), dec("2"), storage.OrderTypeBuy, userID); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := h.settlement.ProcessOrder(ctx, btc("150"), dec("1"), storage.OrderTypeSell, userID); err != nil {
		t.Fatalf("sell: %v", err)
	}

	asset, err := h.positions.FindByUserAndCoin(ctx, userID, "bitcoin")
	if err != nil || asset == nil {
		t.Fatalf("expected asset: %v", err)
	}
	assertDecimal(t, "quantity", asset.Quantity, "1")
	assertDecimal(t, "balance", h.balance(t, userID), "950")
}

func TestSellLeavingDustDeletesPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.fund(t, userID, "1000")

	if _, err := h.settlement.ProcessOrder(ctx, btc("100"), dec("1"), storage.OrderTypeBuy, userID); err != nil {
		t.Fatalf("buy: %v", err)
	}
	// 0.005 left at 100 is worth 0.5, below the default threshold of 1.
	if _, err := h.settlement.ProcessOrder(ctx, btc("100"), dec("0.995"), storage.OrderTypeSell, userID); err != nil {
		t.Fatalf("sell: %v", err)
	}
	asset, _ := h.positions.FindByUserAndCoin(ctx, userID, "bitcoin")
	if asset != nil {
		t.Fatalf("expected dust position to be deleted, got %s", asset.Quantity)
	}
	assertDecimal(t, "balance", h.balance(t, userID), "999.5")
}

func TestSellFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.fund(t, userID, "1000")

	if _, err := h.settlement.ProcessOrder(ctx, btc("100"), dec("1"), storage.OrderTypeSell, userID); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected asset not found, got %v", err)
	}

	if _, err := h.settlement.ProcessOrder(ctx, btc("100"), dec("1"), storage.OrderTypeBuy, userID); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := h.settlement.ProcessOrder(ctx, btc("100"), dec("2"), storage.OrderTypeSell, userID); !errors.Is(err, ErrInsufficientQuantity) {
		t.Fatalf("expected insufficient quantity, got %v", err)
	}

	asset, _ := h.positions.FindByUserAndCoin(ctx, userID, "bitcoin")
	assertDecimal(t, "quantity", asset.Quantity, "1")
	assertDecimal(t, "balance", h.balance(t, userID), "900")

	orders, _ := h.orders.List(ctx, userID, "", "")
	if len(orders) != 1 {
		t.Fatalf("expected only the buy order, got %d", len(orders))
	}
}

func TestProcessOrderValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.fund(t, userID, "1000")

	cases := []struct {
		name      string
		coin      Coin
		quantity  string
		orderType string
		want      error
		wantKind  Kind
	}{
		{name: "zero quantity", coin: btc("100"), quantity: "0", orderType: storage.OrderTypeBuy, want: ErrInvalidQuantity},
		{name: "negative quantity", coin: btc("100"), quantity: "-1", orderType: storage.OrderTypeSell, want: ErrInvalidQuantity},
		{name: "unknown type", coin: btc("100"), quantity: "1", orderType: "HOLD", want: ErrInvalidOrderType},
		{name: "zero price", coin: btc("0"), quantity: "1", orderType: storage.OrderTypeBuy, wantKind: KindInvalidInput},
		{name: "quantity beyond scale", coin: btc("100"), quantity: "0.0000000000000000005", orderType: storage.OrderTypeBuy, want: ErrQuantityScale},
		{name: "total rounds to zero", coin: btc("0.1"), quantity: "0.000000000000000001", orderType: storage.OrderTypeBuy, want: ErrOrderTooSmall},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.settlement.ProcessOrder(ctx, tc.coin, dec(tc.quantity), tc.orderType, userID)
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.wantKind != "" && KindOf(err) != tc.wantKind {
				t.Fatalf("expected kind %s, got %v", tc.wantKind, err)
			}
		})
	}

	orders, _ := h.orders.List(ctx, userID, "", "")
	if len(orders) != 0 {
		t.Fatalf("expected no orders, got %d", len(orders))
	}
	assertDecimal(t, "balance", h.balance(t, userID), "1000")
}

func TestConcurrentBuysNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.fund(t, userID, "1000")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.settlement.ProcessOrder(ctx, btc("100"), dec("1"), storage.OrderTypeBuy, userID)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientFunds) && !IsRetryable(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 10 {
		t.Fatalf("expected 10 successful buys, got %d", successes)
	}
	assertDecimal(t, "balance", h.balance(t, userID), "0")
	asset, _ := h.positions.FindByUserAndCoin(ctx, userID, "bitcoin")
	if asset == nil {
		t.Fatalf("expected a single position")
	}
	assertDecimal(t, "quantity", asset.Quantity, "10")
}

func TestListOrdersFilters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.fund(t, userID, "10000")

	eth := Coin{ID: "ethereum", Symbol: "eth", CurrentPrice: dec("2000")}
	if _, err := h.settlement.ProcessOrder(ctx, btc("1000"), dec("1"), storage.OrderTypeBuy, userID); err != nil {
		t.Fatalf("buy btc: %v", err)
	}
	if _, err := h.settlement.ProcessOrder(ctx, eth, dec("1"), storage.OrderTypeBuy, userID); err != nil {
		t.Fatalf("buy eth: %v", err)
	}
	last, err := h.settlement.ProcessOrder(ctx, eth, dec("0.5"), storage.OrderTypeSell, userID)
	if err != nil {
		t.Fatalf("sell eth: %v", err)
	}

	all, _ := h.orders.List(ctx, userID, "", "")
	if len(all) != 3 || all[0].ID != last.ID {
		t.Fatalf("expected 3 orders newest first, got %d", len(all))
	}
	buys, _ := h.orders.List(ctx, userID, "buy", "")
	if len(buys) != 2 {
		t.Fatalf("expected 2 buys, got %d", len(buys))
	}
	ethOrders, _ := h.orders.List(ctx, userID, "", "ETH")
	if len(ethOrders) != 2 {
		t.Fatalf("expected 2 eth orders, got %d", len(ethOrders))
	}
	if _, err := h.orders.List(ctx, userID, "short", ""); !errors.Is(err, ErrInvalidOrderType) {
		t.Fatalf("expected invalid order type, got %v", err)
	}

	if _, err := h.orders.GetForUser(ctx, uuid.New(), last.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected order hidden from other user, got %v", err)
	}
	if _, err := h.orders.Get(ctx, uuid.New()); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
}

func TestBuyTotalIsRoundedToStoredScale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()
	h.fund(t, userID, "1")

	coin := Coin{ID: "dogecoin", Symbol: "doge", CurrentPrice: dec("0.333333333333333333")}
	order, err := h.settlement.ProcessOrder(ctx, coin, dec("0.3"), storage.OrderTypeBuy, userID)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	assertDecimal(t, "order price", order.Price, "0.1")
	assertDecimal(t, "balance", h.balance(t, userID), "0.9")

	history, err := h.ledger.History(ctx, userID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	sum := decimal.Zero
	for _, entry := range history {
		sum = sum.Add(entry.Amount)
	}
	assertDecimal(t, "journal sum", sum, "0.9")
}

type failingStore struct {
	*storage.Memory
	failOn string
}

func (s *failingStore) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	return s.Memory.InTx(ctx, func(tx storage.Tx) error {
		return fn(&failingTx{Tx: tx, failOn: s.failOn})
	})
}

var errStoreDown = errors.New("store down")

type failingTx struct {
	storage.Tx
	failOn string
}

func (t *failingTx) InsertAsset(ctx context.Context, asset *storage.Asset) error {
	if t.failOn == "insert_asset" {
		return errStoreDown
	}
	return t.Tx.InsertAsset(ctx, asset)
}

func (t *failingTx) UpdateAssetQuantity(ctx context.Context, assetID uuid.UUID, quantity decimal.Decimal, expectedVersion int64) (*storage.Asset, error) {
	if t.failOn == "update_asset" {
		return nil, errStoreDown
	}
	return t.Tx.UpdateAssetQuantity(ctx, assetID, quantity, expectedVersion)
}

func (t *failingTx) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status, reason string, now time.Time) error {
	if t.failOn == "update_order" {
		return errStoreDown
	}
	return t.Tx.UpdateOrderStatus(ctx, orderID, status, reason, now)
}

func TestSettlementFailureAfterDebitRollsBackEverything(t *testing.T) {
	cases := []struct {
		name      string
		failOn    string
		orderType string
		holding   string
	}{
		{name: "first buy asset insert", failOn: "insert_asset", orderType: storage.OrderTypeBuy},
		{name: "repeat buy asset update", failOn: "update_asset", orderType: storage.OrderTypeBuy, holding: "1"},
		{name: "buy mark success", failOn: "update_order", orderType: storage.OrderTypeBuy},
		{name: "sell asset update", failOn: "update_asset", orderType: storage.OrderTypeSell, holding: "5"},
		{name: "sell mark success", failOn: "update_order", orderType: storage.OrderTypeSell, holding: "5"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			userID := uuid.New()
			h.fund(t, userID, "1000")
			if tc.holding != "" {
				if _, err := h.settlement.ProcessOrder(ctx, btc("100"), dec(tc.holding), storage.OrderTypeBuy, userID); err != nil {
					t.Fatalf("seed position: %v", err)
				}
			}

			balanceBefore := h.balance(t, userID)
			historyBefore, _ := h.ledger.History(ctx, userID)
			ordersBefore, _ := h.orders.List(ctx, userID, "", "")
			assetBefore, _ := h.positions.FindByUserAndCoin(ctx, userID, "bitcoin")

			failing := &failingStore{Memory: h.store, failOn: tc.failOn}
			ledger := NewLedger(failing, h.events, nil, nil)
			positions := NewPositions(failing, DefaultDustThreshold, nil)
			settlement := NewSettlement(failing, ledger, positions, NewOrders(failing), h.events, nil, nil)

			_, err := settlement.ProcessOrder(ctx, btc("100"), dec("2"), tc.orderType, userID)
			if KindOf(err) != KindInternal {
				t.Fatalf("expected internal error, got %v", err)
			}

			if got := h.balance(t, userID); !got.Equal(balanceBefore) {
				t.Fatalf("expected balance %s, got %s", balanceBefore, got)
			}
			history, _ := h.ledger.History(ctx, userID)
			if len(history) != len(historyBefore) {
				t.Fatalf("expected %d journal entries, got %d", len(historyBefore), len(history))
			}
			orders, _ := h.orders.List(ctx, userID, "", "")
			if len(orders) != len(ordersBefore) {
				t.Fatalf("expected %d orders, got %d", len(ordersBefore), len(orders))
			}
			asset, _ := h.positions.FindByUserAndCoin(ctx, userID, "bitcoin")
			switch {
			case assetBefore == nil && asset != nil:
				t.Fatalf("expected no position, got %+v", asset)
			case assetBefore != nil && (asset == nil || !asset.Quantity.Equal(assetBefore.Quantity)):
				t.Fatalf("expected quantity %s, got %+v", assetBefore.Quantity, asset)
			}
		})
	}
}

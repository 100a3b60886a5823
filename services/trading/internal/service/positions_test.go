package service

import (
	"context"
	"errors"
	"testing"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestOpenRejectsDuplicatePosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()

	open := func() error {
		return h.store.InTx(ctx, func(tx storage.Tx) error {
			_, err := h.positions.Open(ctx, tx, userID, btc("100"), dec("1"), dec("100"))
			return err
		})
	}
	if err := open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := open(); !errors.Is(err, ErrDuplicatePosition) {
		t.Fatalf("expected duplicate position, got %v", err)
	}
}

func TestAdjust(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	userID := uuid.New()

	var assetID uuid.UUID
	if err := h.store.InTx(ctx, func(tx storage.Tx) error {
		asset, err := h.positions.Open(ctx, tx, userID, btc("100"), dec("2"), dec("100"))
		if err != nil {
			return err
		}
		assetID = asset.ID
		return nil
	}); err != nil {
		t.Fatalf("open: %v", err)
	}

	adjust := func(id uuid.UUID, delta, price string) (*storage.Asset, bool, error) {
		var (
			asset  *storage.Asset
			closed bool
		)
		err := h.store.InTx(ctx, func(tx storage.Tx) error {
			var err error
			asset, closed, err = h.positions.Adjust(ctx, tx, id, dec(delta), dec(price))
			return err
		})
		return asset, closed, err
	}

	if _, _, err := adjust(uuid.New(), "-1", "100"); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected position not found, got %v", err)
	}
	if _, _, err := adjust(assetID, "-3", "100"); !errors.Is(err, ErrNegativeQuantity) {
		t.Fatalf("expected negative quantity, got %v", err)
	}

	asset, closed, err := adjust(assetID, "0.5", "100")
	if err != nil || closed {
		t.Fatalf("expected open position, got closed=%v err=%v", closed, err)
	}
	assertDecimal(t, "quantity", asset.Quantity, "2.5")

	// A small holding that grows stays open even when its value is under the threshold.
	asset, closed, err = adjust(assetID, "0.1", "0.0001")
	if err != nil || closed {
		t.Fatalf("expected increase to keep position, got closed=%v err=%v", closed, err)
	}
	assertDecimal(t, "quantity", asset.Quantity, "2.6")

	_, closed, err = adjust(assetID, "-2.6", "100")
	if err != nil || !closed {
		t.Fatalf("expected full liquidation to close, got closed=%v err=%v", closed, err)
	}
	if _, err := h.positions.Get(ctx, userID, assetID); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected asset gone, got %v", err)
	}
}

func TestZeroDustThresholdOnlyClosesEmptyPositions(t *testing.T) {
	store := storage.NewMemory(0)
	positions := NewPositions(store, decimal.Zero, nil)
	ctx := context.Background()
	userID := uuid.New()

	var assetID uuid.UUID
	_ = store.InTx(ctx, func(tx storage.Tx) error {
		asset, err := positions.Open(ctx, tx, userID, btc("1"), dec("1"), dec("1"))
		if err == nil {
			assetID = asset.ID
		}
		return err
	})

	var closed bool
	err := store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		_, closed, err = positions.Adjust(ctx, tx, assetID, dec("-0.999"), dec("0.01"))
		return err
	})
	if err != nil || closed {
		t.Fatalf("expected residual position to stay, got closed=%v err=%v", closed, err)
	}
}

func TestGetHidesOtherUsersAssets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := uuid.New()
	h.fund(t, owner, "1000")
	if _, err := h.settlement.ProcessOrder(ctx, btc("100"), dec("1"), storage.OrderTypeBuy, owner); err != nil {
		t.Fatalf("buy: %v", err)
	}
	assets, err := h.positions.ListByUser(ctx, owner)
	if err != nil || len(assets) != 1 {
		t.Fatalf("expected one asset, got %d %v", len(assets), err)
	}

	if _, err := h.positions.Get(ctx, owner, assets[0].ID); err != nil {
		t.Fatalf("owner get: %v", err)
	}
	if _, err := h.positions.Get(ctx, uuid.New(), assets[0].ID); !errors.Is(err, ErrAssetNotFound) {
		t.Fatalf("expected asset not found for other user, got %v", err)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var DefaultDustThreshold = decimal.NewFromInt(1)

// Positions manages per-(user, coin) holdings.
type Positions struct {
	store   Store
	dust    decimal.Decimal
	metrics *Metrics
}

func NewPositions(store Store, dustThreshold decimal.Decimal, metrics *Metrics) *Positions {
	if dustThreshold.IsNegative() {
		dustThreshold = decimal.Zero
	}
	return &Positions{store: store, dust: dustThreshold, metrics: metrics}
}

func (p *Positions) DustThreshold() decimal.Decimal {
	return p.dust
}

// Open creates a position. A second open for the same (user, coin) fails
// with ErrDuplicatePosition; buyers go through Adjust instead.
func (p *Positions) Open(ctx context.Context, tx storage.Tx, userID uuid.UUID, coin Coin, quantity, buyPrice decimal.Decimal) (*storage.Asset, error) {
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	now := time.Now().UTC()
	asset := &storage.Asset{
		ID:        uuid.New(),
		UserID:    userID,
		CoinID:    coin.ID,
		Symbol:    coin.Symbol,
		Quantity:  quantity,
		BuyPrice:  buyPrice,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.InsertAsset(ctx, asset); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrDuplicatePosition
		}
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	return asset, nil
}

// Adjust adds delta to the position's quantity. When a reduction leaves a
// market value (remaining x unitPrice) below the dust threshold, or nothing
// at all, the position is deleted and closed is true.
func (p *Positions) Adjust(ctx context.Context, tx storage.Tx, assetID uuid.UUID, delta, unitPrice decimal.Decimal) (asset *storage.Asset, closed bool, err error) {
	current, err := tx.GetAssetByIDForUpdate(ctx, assetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, ErrPositionNotFound
		}
		return nil, false, err
	}

	remaining := current.Quantity.Add(delta)
	if remaining.IsNegative() {
		return nil, false, ErrNegativeQuantity
	}

	if delta.IsNegative() && (remaining.IsZero() || remaining.Mul(unitPrice).LessThan(p.dust)) {
		if err := tx.DeleteAsset(ctx, current.ID, current.Version); err != nil {
			return nil, false, fmt.Errorf("delete asset: %w", err)
		}
		p.metrics.IncPositionClosed()
		current.Quantity = remaining
		return current, true, nil
	}

	updated, err := tx.UpdateAssetQuantity(ctx, current.ID, remaining, current.Version)
	if err != nil {
		return nil, false, fmt.Errorf("update asset: %w", err)
	}
	return updated, false, nil
}

// FindByUserAndCoin reports absence as (nil, nil).
func (p *Positions) FindByUserAndCoin(ctx context.Context, userID uuid.UUID, coinID string) (*storage.Asset, error) {
	asset, err := p.store.GetAssetByUserAndCoin(ctx, userID, coinID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return asset, nil
}

func (p *Positions) ListByUser(ctx context.Context, userID uuid.UUID) ([]storage.Asset, error) {
	return p.store.ListAssets(ctx, userID)
}

// Get returns a position owned by userID; other users' positions read as missing.
func (p *Positions) Get(ctx context.Context, userID, assetID uuid.UUID) (*storage.Asset, error) {
	asset, err := p.store.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	if asset.UserID != userID {
		return nil, ErrAssetNotFound
	}
	return asset, nil
}

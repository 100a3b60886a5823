package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AfshinJalili/tradingplatform/services/trading/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const defaultRedisPrefix = "tp:coin:"

var ErrUnknownCoin = errors.New("unknown coin")

// Resolver returns the current price snapshot for a coin id.
type Resolver interface {
	Resolve(ctx context.Context, coinID string) (service.Coin, error)
}

func normalize(coinID string) string {
	return strings.ToLower(strings.TrimSpace(coinID))
}

// StaticResolver serves prices held in memory, loaded from configuration.
type StaticResolver struct {
	mu          sync.RWMutex
	coins       map[string]service.Coin
	lastRefresh time.Time
}

func NewStaticResolver(coins []service.Coin) *StaticResolver {
	r := &StaticResolver{}
	r.Load(coins)
	return r
}

func (r *StaticResolver) Load(coins []service.Coin) {
	next := make(map[string]service.Coin, len(coins))
	for _, coin := range coins {
		id := normalize(coin.ID)
		if id == "" {
			continue
		}
		coin.ID = id
		coin.Symbol = strings.ToLower(strings.TrimSpace(coin.Symbol))
		next[id] = coin
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.coins = next
	r.lastRefresh = time.Now().UTC()
}

func (r *StaticResolver) SetPrice(coinID string, price decimal.Decimal) {
	id := normalize(coinID)
	r.mu.Lock()
	defer r.mu.Unlock()
	coin := r.coins[id]
	coin.ID = id
	if coin.Symbol == "" {
		coin.Symbol = id
	}
	coin.CurrentPrice = price
	r.coins[id] = coin
}

func (r *StaticResolver) Resolve(_ context.Context, coinID string) (service.Coin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	coin, ok := r.coins[normalize(coinID)]
	if !ok {
		return service.Coin{}, fmt.Errorf("%w: %s", ErrUnknownCoin, coinID)
	}
	return coin, nil
}

func (r *StaticResolver) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.coins)
}

// RedisResolver reads coin snapshots written by the market-data feed as
// hashes {symbol, price} under prefix+coinID.
type RedisResolver struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisResolver(client redis.UniversalClient, prefix string) *RedisResolver {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisResolver{client: client, prefix: prefix}
}

func (r *RedisResolver) Resolve(ctx context.Context, coinID string) (service.Coin, error) {
	id := normalize(coinID)
	if id == "" {
		return service.Coin{}, fmt.Errorf("%w: empty id", ErrUnknownCoin)
	}
	fields, err := r.client.HGetAll(ctx, r.prefix+id).Result()
	if err != nil {
		return service.Coin{}, fmt.Errorf("read coin %s: %w", id, err)
	}
	if len(fields) == 0 {
		return service.Coin{}, fmt.Errorf("%w: %s", ErrUnknownCoin, coinID)
	}
	price, err := decimal.NewFromString(fields["price"])
	if err != nil {
		return service.Coin{}, fmt.Errorf("parse price for %s: %w", id, err)
	}
	symbol := fields["symbol"]
	if symbol == "" {
		symbol = id
	}
	return service.Coin{ID: id, Symbol: strings.ToLower(symbol), CurrentPrice: price}, nil
}

// Publish stores a snapshot in the layout Resolve reads. Used by the seed tool.
func (r *RedisResolver) Publish(ctx context.Context, coin service.Coin) error {
	return r.client.HSet(ctx, r.prefix+normalize(coin.ID), map[string]any{
		"symbol": coin.Symbol,
		"price":  coin.CurrentPrice.String(),
	}).Err()
}

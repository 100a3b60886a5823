package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/AfshinJalili/tradingplatform/libs/auth"
	"github.com/AfshinJalili/tradingplatform/libs/logging"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/config"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/marketdata"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/service"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var (
	demoUserID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	traderUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	adminUserID  = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

type seedUser struct {
	name    string
	id      uuid.UUID
	balance decimal.Decimal
	roles   []string
}

var seedUsers = []seedUser{
	{name: "demo", id: demoUserID, balance: decimal.NewFromInt(10000), roles: []string{"user"}},
	{name: "trader", id: traderUserID, balance: decimal.NewFromInt(50000), roles: []string{"user"}},
	{name: "admin", id: adminUserID, balance: decimal.Zero, roles: []string{"user", "admin"}},
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.App.Env != "dev" && cfg.App.Env != "test" {
		log.Fatalf("refusing to seed: TP_ENV must be 'dev' or 'test' (got '%s')", cfg.App.Env)
	}
	logger := logging.NewLogger("warn", "trading-seed", cfg.App.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if path := os.Getenv("SEED_SCHEMA"); path != "" {
		if err := applySchema(ctx, pool, path); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
		fmt.Println("✓ Schema applied")
	}

	store := storage.NewPostgres(pool, cfg.DB.LockTimeout, logger)
	ledger := service.NewLedger(store, nil, logger, nil)

	if err := seedWallets(ctx, store, ledger); err != nil {
		log.Fatalf("seed wallets: %v", err)
	}
	fmt.Println("✓ Wallets seeded")

	coins, err := configuredCoins(cfg)
	if err != nil {
		log.Fatalf("market data: %v", err)
	}
	if cfg.Redis.Addr != "" {
		if err := publishPrices(ctx, cfg, coins); err != nil {
			log.Fatalf("publish prices: %v", err)
		}
		fmt.Println("✓ Coin prices published")
	}

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, cfg, store, ledger, coins, logger); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	if cfg.App.Env == "dev" {
		fmt.Println("\nBearer tokens (DEV ONLY, valid 24h):")
		for _, u := range seedUsers {
			token, err := mintToken(u.id, u.roles, []byte(cfg.Auth.JWTSecret))
			if err != nil {
				log.Fatalf("mint token: %v", err)
			}
			fmt.Printf("  %s: %s\n", u.name, token)
		}
	}
}

func applySchema(ctx context.Context, pool *pgxpool.Pool, path string) error {
	sql, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, string(sql))
	return err
}

// seedWallets tops every seed wallet up to its target balance so the tool can
// be rerun without inflating balances.
func seedWallets(ctx context.Context, store *storage.Postgres, ledger *service.Ledger) error {
	for _, u := range seedUsers {
		err := store.InTx(ctx, func(tx storage.Tx) error {
			wallet, err := tx.GetOrCreateWalletForUpdate(ctx, u.id)
			if err != nil {
				return err
			}
			topUp := u.balance.Sub(wallet.Balance)
			if !topUp.IsPositive() {
				return nil
			}
			return ledger.Credit(ctx, tx, wallet, topUp, service.Entry{
				Type:    storage.TxTypeAddMoney,
				Purpose: "seed",
			})
		})
		if err != nil {
			return fmt.Errorf("%s wallet: %w", u.name, err)
		}
	}
	return nil
}

func configuredCoins(cfg *config.Config) ([]service.Coin, error) {
	coins := make([]service.Coin, 0, len(cfg.MarketData.Coins))
	for _, c := range cfg.MarketData.Coins {
		price, err := decimal.NewFromString(c.Price)
		if err != nil {
			return nil, fmt.Errorf("coin %s: invalid price %q: %w", c.ID, c.Price, err)
		}
		coins = append(coins, service.Coin{ID: c.ID, Symbol: c.Symbol, CurrentPrice: price})
	}
	return coins, nil
}

func publishPrices(ctx context.Context, cfg *config.Config, coins []service.Coin) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	resolver := marketdata.NewRedisResolver(client, cfg.MarketData.Prefix)
	for _, coin := range coins {
		if err := resolver.Publish(ctx, coin); err != nil {
			return fmt.Errorf("coin %s: %w", coin.ID, err)
		}
	}
	return nil
}

func mintToken(userID uuid.UUID, roles []string, secret []byte) (string, error) {
	now := time.Now()
	claims := auth.Claims{
		Roles:  roles,
		Scopes: []string{"read", "trade"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "trading-seed",
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

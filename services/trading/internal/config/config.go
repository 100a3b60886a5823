package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/AfshinJalili/tradingplatform/libs/config"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type DBConfig struct {
	Host        string
	Port        int
	Name        string
	User        string
	Password    string
	SSLMode     string
	LockTimeout time.Duration
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type GRPCConfig struct {
	Host string
	Port int
}

type KafkaTopics struct {
	Orders           string
	Wallets          string
	Withdrawals      string
	Payments         string
	PaymentsCaptured string
	DeadLetter       string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	MaxAttempts   int
	Topics        KafkaTopics
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type SettlementConfig struct {
	DustThreshold decimal.Decimal
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type CoinConfig struct {
	ID     string `mapstructure:"id"`
	Symbol string `mapstructure:"symbol"`
	Price  string `mapstructure:"price"`
}

type MarketDataConfig struct {
	Source string
	Prefix string
	Coins  []CoinConfig
}

type GatewayConfig struct {
	RazorpayURL       string
	RazorpayKeyID     string
	RazorpayKeySecret string
	StripeURL         string
	StripeSecretKey   string
	Timeout           time.Duration
}

type Config struct {
	App        base.AppConfig
	DB         DBConfig
	GRPC       GRPCConfig
	Kafka      KafkaConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Settlement SettlementConfig
	RateLimit  RateLimitConfig
	MarketData MarketDataConfig
	Gateway    GatewayConfig
}

func setDefaults(v *viper.Viper) {
	base.SetDefaults(v)
	v.SetDefault("db.lock_timeout", "2s")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.consumer_group", "trading-service")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("kafka.topics.orders", "trading.orders")
	v.SetDefault("kafka.topics.wallets", "trading.wallets")
	v.SetDefault("kafka.topics.withdrawals", "trading.withdrawals")
	v.SetDefault("kafka.topics.payments", "trading.payments")
	v.SetDefault("kafka.topics.payments_captured", "payments.captured")
	v.SetDefault("kafka.topics.dead_letter", "payments.captured.dlq")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("settlement.dust_threshold", "1")
	v.SetDefault("rate_limit.limit", 30)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("market_data.source", "static")
	v.SetDefault("market_data.prefix", "tp:coin:")
	v.SetDefault("gateway.razorpay_url", "https://api.razorpay.com/v1")
	v.SetDefault("gateway.stripe_url", "https://api.stripe.com/v1")
	v.SetDefault("gateway.timeout", "5s")
}

// Load reads config.yaml (or TP_CONFIG) plus TP_* environment overrides.
// Postgres and a few deployment settings also honour the conventional
// unprefixed variables.
func Load() (*Config, error) {
	v := base.NewViper()
	setDefaults(v)
	if err := base.ReadFile(v, ""); err != nil {
		return nil, err
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var app base.AppConfig
	if err := v.Unmarshal(&app); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	var coins []CoinConfig
	if err := v.UnmarshalKey("market_data.coins", &coins); err != nil {
		return nil, fmt.Errorf("unmarshal market_data.coins: %w", err)
	}

	dustRaw := envString("DUST_THRESHOLD", v.GetString("settlement.dust_threshold"))
	dust, err := decimal.NewFromString(strings.TrimSpace(dustRaw))
	if err != nil {
		return nil, fmt.Errorf("settlement.dust_threshold %q: %w", dustRaw, err)
	}

	cfg := &Config{
		App: app,
		DB: DBConfig{
			Host:        envString("POSTGRES_HOST", "localhost"),
			Port:        envInt("POSTGRES_PORT", 5432),
			Name:        envString("POSTGRES_DB", "trading"),
			User:        envString("POSTGRES_USER", "trading"),
			Password:    envString("POSTGRES_PASSWORD", "trading"),
			SSLMode:     envString("POSTGRES_SSLMODE", "disable"),
			LockTimeout: envDuration("POSTGRES_LOCK_TIMEOUT", v.GetDuration("db.lock_timeout")),
		},
		GRPC: GRPCConfig{
			Host: envString("TP_GRPC_HOST", "0.0.0.0"),
			Port: envInt("TP_GRPC_PORT", 9090),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			MaxAttempts:   v.GetInt("kafka.max_attempts"),
			Topics: KafkaTopics{
				Orders:           v.GetString("kafka.topics.orders"),
				Wallets:          v.GetString("kafka.topics.wallets"),
				Withdrawals:      v.GetString("kafka.topics.withdrawals"),
				Payments:         v.GetString("kafka.topics.payments"),
				PaymentsCaptured: envString("KAFKA_PAYMENTS_TOPIC", v.GetString("kafka.topics.payments_captured")),
				DeadLetter:       envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: envString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       v.GetInt("redis.db"),
		},
		Auth: AuthConfig{
			JWTSecret: envString("JWT_SECRET", v.GetString("auth.jwt_secret")),
		},
		Settlement: SettlementConfig{
			DustThreshold: dust,
		},
		RateLimit: RateLimitConfig{
			Limit:  v.GetInt("rate_limit.limit"),
			Window: v.GetDuration("rate_limit.window"),
		},
		MarketData: MarketDataConfig{
			Source: strings.ToLower(strings.TrimSpace(v.GetString("market_data.source"))),
			Prefix: v.GetString("market_data.prefix"),
			Coins:  coins,
		},
		Gateway: GatewayConfig{
			RazorpayURL:       v.GetString("gateway.razorpay_url"),
			RazorpayKeyID:     envString("RAZORPAY_KEY_ID", v.GetString("gateway.razorpay_key_id")),
			RazorpayKeySecret: envString("RAZORPAY_KEY_SECRET", v.GetString("gateway.razorpay_key_secret")),
			StripeURL:         v.GetString("gateway.stripe_url"),
			StripeSecretKey:   envString("STRIPE_SECRET_KEY", v.GetString("gateway.stripe_secret_key")),
			Timeout:           v.GetDuration("gateway.timeout"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.GRPC.Port <= 0 {
		return fmt.Errorf("TP_GRPC_PORT must be positive")
	}
	if c.App.HTTP.Port <= 0 {
		return fmt.Errorf("http.port must be positive")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("jwt secret required")
	}
	if c.DB.LockTimeout <= 0 {
		return fmt.Errorf("db.lock_timeout must be positive")
	}
	if c.Settlement.DustThreshold.IsNegative() {
		return fmt.Errorf("settlement.dust_threshold must not be negative")
	}
	if len(c.Kafka.Brokers) > 0 {
		if c.Kafka.ConsumerGroup == "" {
			return fmt.Errorf("kafka consumer group required")
		}
		if c.Kafka.Topics.PaymentsCaptured == "" {
			return fmt.Errorf("kafka payments captured topic required")
		}
		if c.Kafka.MaxAttempts <= 0 {
			return fmt.Errorf("kafka.max_attempts must be positive")
		}
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.limit and rate_limit.window must be positive")
	}
	switch c.MarketData.Source {
	case "static":
		for _, coin := range c.MarketData.Coins {
			if strings.TrimSpace(coin.ID) == "" {
				return fmt.Errorf("market_data.coins: id required")
			}
			if _, err := decimal.NewFromString(coin.Price); err != nil {
				return fmt.Errorf("market_data.coins %s: invalid price %q", coin.ID, coin.Price)
			}
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr required for market_data.source=redis")
		}
	default:
		return fmt.Errorf("market_data.source must be static or redis, got %q", c.MarketData.Source)
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("gateway.timeout must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

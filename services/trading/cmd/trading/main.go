package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AfshinJalili/tradingplatform/libs/health"
	"github.com/AfshinJalili/tradingplatform/libs/httpmiddleware"
	"github.com/AfshinJalili/tradingplatform/libs/kafka"
	"github.com/AfshinJalili/tradingplatform/libs/logging"
	"github.com/AfshinJalili/tradingplatform/libs/metrics"
	"github.com/AfshinJalili/tradingplatform/libs/trace"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/config"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/consumer"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/events"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/gateway"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/handlers"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/marketdata"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/ratelimit"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/service"
	"github.com/AfshinJalili/tradingplatform/services/trading/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	var logger *slog.Logger
	if cfg.App.LogFile != "" {
		var closer io.Closer
		logger, closer = logging.NewFileLogger(cfg.App.LogFile, cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
		defer closer.Close()
	} else {
		logger = logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	}

	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env, cfg.App.Trace.Endpoint, cfg.App.Trace.SampleRatio)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	tradingMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	ready.AddCheck("postgres", pool.Ping)

	store := storage.NewPostgres(pool, cfg.DB.LockTimeout, logger)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		ready.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	coins, err := buildResolver(cfg, redisClient)
	if err != nil {
		logger.Error("market data init failed", "error", err)
		os.Exit(1)
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemory(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	if redisClient != nil {
		limiter = ratelimit.NewFallback(
			ratelimit.NewRedisLimiter(redisClient, cfg.RateLimit.Limit, cfg.RateLimit.Window, "tp:ratelimit:"),
			limiter,
			logger,
		)
	}

	producer, closeProducer, err := buildPublisher(cfg, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer closeProducer()

	publisher := events.NewPublisher(producer, events.Topics{
		Orders:      cfg.Kafka.Topics.Orders,
		Wallets:     cfg.Kafka.Topics.Wallets,
		Withdrawals: cfg.Kafka.Topics.Withdrawals,
		Payments:    cfg.Kafka.Topics.Payments,
	}, logger)

	verifiers := map[string]service.GatewayVerifier{
		storage.PaymentMethodRazorpay: gateway.NewRazorpayVerifier(cfg.Gateway.RazorpayURL, cfg.Gateway.RazorpayKeyID, cfg.Gateway.RazorpayKeySecret, cfg.Gateway.Timeout),
		storage.PaymentMethodStripe:   gateway.NewStripeVerifier(cfg.Gateway.StripeURL, cfg.Gateway.StripeSecretKey, cfg.Gateway.Timeout),
	}

	ledger := service.NewLedger(store, publisher, logger, tradingMetrics)
	positions := service.NewPositions(store, cfg.Settlement.DustThreshold, tradingMetrics)
	orders := service.NewOrders(store)
	settlement := service.NewSettlement(store, ledger, positions, orders, publisher, logger, tradingMetrics)
	withdrawals := service.NewWithdrawals(store, ledger, publisher, logger, tradingMetrics)
	payments := service.NewPayments(store, ledger, verifiers, publisher, logger, tradingMetrics)
	watchlists := service.NewWatchlists(store, logger)

	api := handlers.New(handlers.Handler{
		Settlement:  settlement,
		Orders:      orders,
		Wallets:     ledger,
		Withdrawals: withdrawals,
		Payments:    payments,
		Positions:   positions,
		Watchlists:  watchlists,
		Coins:       coins,
		Logger:      logger,
	})

	httpServer := buildHTTPServer(cfg, api, limiter, ready, registry, logger)

	grpcServer := grpc.NewServer()
	healthServer := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Error("grpc listen failed", "error", err)
		os.Exit(1)
	}

	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	if len(cfg.Kafka.Brokers) > 0 {
		consumerGroup, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
		if err != nil {
			logger.Error("kafka consumer init failed", "error", err)
			os.Exit(1)
		}
		consumerGroup.WithDLQ(producer, cfg.Kafka.Topics.DeadLetter, cfg.Kafka.MaxAttempts)
		defer consumerGroup.Close()

		paymentConsumer := consumer.NewPaymentConsumer(payments, logger)
		go func() {
			logger.Info("payment consumer starting", "topic", cfg.Kafka.Topics.PaymentsCaptured)
			if err := consumerGroup.Consume(consumerCtx, []string{cfg.Kafka.Topics.PaymentsCaptured}, paymentConsumer); err != nil {
				logger.Error("kafka consumer error", "error", err)
			}
		}()
	} else {
		logger.Warn("kafka brokers not configured; events are logged and payment captures are not consumed")
	}

	ready.SetReady(true)

	go func() {
		logger.Info("trading grpc starting", "addr", grpcAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", "error", err)
		}
	}()

	go func() {
		logger.Info("trading http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(grpcServer, healthServer, httpServer, ready, consumerCancel, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildResolver(cfg *config.Config, client *redis.Client) (marketdata.Resolver, error) {
	if cfg.MarketData.Source == "redis" {
		if client == nil {
			return nil, fmt.Errorf("market data source redis requires redis.addr")
		}
		return marketdata.NewRedisResolver(client, cfg.MarketData.Prefix), nil
	}

	coins := make([]service.Coin, 0, len(cfg.MarketData.Coins))
	for _, c := range cfg.MarketData.Coins {
		price, err := decimal.NewFromString(c.Price)
		if err != nil {
			return nil, fmt.Errorf("coin %s: invalid price %q: %w", c.ID, c.Price, err)
		}
		coins = append(coins, service.Coin{ID: c.ID, Symbol: c.Symbol, CurrentPrice: price})
	}
	return marketdata.NewStaticResolver(coins), nil
}

func buildPublisher(cfg *config.Config, logger *slog.Logger, producerMetrics *kafka.ProducerMetrics) (kafka.Publisher, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return kafka.NewLogPublisher(logger), func() {}, nil
	}

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, cfg.App.ServiceName, logger, producerMetrics)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := producer.Close(); err != nil {
			logger.Error("kafka producer close failed", "error", err)
		}
	}
	if cfg.Kafka.Topics.DeadLetter == "" {
		return producer, closeFn, nil
	}
	return kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger), closeFn, nil
}

func buildHTTPServer(cfg *config.Config, api *handlers.Handler, limiter ratelimit.Limiter, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	api.Register(router, []byte(cfg.Auth.JWTSecret), limiter)

	return &http.Server{
		Addr:         cfg.App.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(grpcServer *grpc.Server, healthServer *grpchealth.Server, httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	grpcDone := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(grpcDone)
	}()

	select {
	case <-grpcDone:
	case <-ctx.Done():
		grpcServer.Stop()
	}

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/bidledger/pkg/auth"
	pkgdb "github.com/floroz/bidledger/pkg/database"
	"github.com/floroz/bidledger/services/bid-service/internal/adapters/api"
	"github.com/floroz/bidledger/services/bid-service/internal/adapters/cache"
	"github.com/floroz/bidledger/services/bid-service/internal/adapters/database"
	"github.com/floroz/bidledger/services/bid-service/internal/adapters/events"
	"github.com/floroz/bidledger/services/bid-service/internal/config"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/bids"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/creditrequests"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
	"github.com/floroz/bidledger/services/bid-service/internal/metrics"
	"github.com/floroz/bidledger/services/bid-service/migrations"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply database migrations before serving")
	flag.Parse()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrate, logger); err != nil {
		logger.Error("Bid Service API stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Bid Service API stopped")
}

func run(ctx context.Context, cfg *config.Config, migrate bool, logger *slog.Logger) error {
	// 1. Initialize Postgres Connection Pool
	pool, err := connectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("Postgres Connected")

	if migrate {
		if err := pkgdb.Migrate(ctx, pool, migrations.FS); err != nil {
			return err
		}
		logger.Info("Migrations applied")
	}

	// 2. Token validation only needs the auth service's public key
	if len(cfg.JWTPublicKey) == 0 {
		return errors.New("JWT_PUBLIC_KEY or JWT_PUBLIC_KEY_FILE is not set")
	}
	signer, err := auth.NewSignerFromPublicKey(cfg.JWTPublicKey, cfg.JWTIssuer)
	if err != nil {
		return fmt.Errorf("failed to load JWT public key: %w", err)
	}

	// 3. Initialize Repositories (Infrastructure Layer)
	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.LockTimeout)
	bidRepo := database.NewPostgresBidRepository(pool)
	outboxRepo := database.NewPostgresOutboxRepository(pool)
	creditLedger := ledger.NewLedger(
		database.NewPostgresAccountRepository(pool),
		database.NewPostgresAdjustmentRepository(pool),
	)

	opts := []bids.Option{bids.WithTimeout(cfg.StoreTimeout), bids.WithLogger(logger)}

	// 4. Redis is optional: without it reads go straight to Postgres
	if cfg.RedisURL != "" {
		rdb := newRedisClient(cfg.RedisURL)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis connection failed, standing cache disabled", "error", err)
		} else {
			logger.Info("Redis Connected")
			opts = append(opts, bids.WithStandingCache(cache.NewRedisStandingCache(rdb, cfg.StandingCacheTTL)))
		}
	}

	// 5. Initialize Services (Domain Layer)
	auctionService := bids.NewAuctionService(
		txManager,
		bidRepo,
		database.NewPostgresAuctionLocker(),
		database.NewPostgresPlacementRepository(),
		outboxRepo,
		creditLedger,
		opts...,
	)
	requestService := creditrequests.NewService(
		txManager,
		database.NewPostgresCreditRequestRepository(pool),
		outboxRepo,
		creditLedger,
		cfg.StoreTimeout,
	)

	// 6. Initialize API Handler (ConnectRPC)
	interceptors := []connect.Interceptor{
		metrics.NewInterceptor(),
		auth.NewAuthInterceptor(signer, api.PublicProcedures...),
	}
	var limiter *api.RateLimiter
	if cfg.BidRateLimit > 0 {
		limiter = api.NewRateLimiter(cfg.BidRateLimit, cfg.BidRateBurst, 10*time.Minute)
		interceptors = append(interceptors, api.NewRateLimitInterceptor(limiter,
			api.PlaceBidProcedure,
			api.CreateCreditRequestProcedure,
		))
	}

	mux := http.NewServeMux()
	api.NewBidServiceHandler(auctionService, requestService, creditLedger, logger).
		Register(mux, connect.WithInterceptors(interceptors...))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("DB UNAVAILABLE"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Use h2c for HTTP/2 without TLS (common for internal services / local dev)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// 7. Start Outbox Relay
	if cfg.EmbeddedRelay {
		amqpConn, err := amqp.Dial(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		defer amqpConn.Close()
		logger.Info("RabbitMQ Connected")

		producer, err := events.NewBidEventsProducer(pool, amqpConn, events.ProducerConfig{
			BatchSize:   cfg.RelayBatchSize,
			Interval:    cfg.RelayInterval,
			LockTimeout: cfg.LockTimeout,
		}, logger)
		if err != nil {
			return err
		}
		defer producer.Close()

		g.Go(func() error {
			logger.Info("Starting Outbox Relay...")
			return producer.Run(ctx)
		})
	}

	if limiter != nil {
		g.Go(func() error {
			limiter.Run(ctx)
			return nil
		})
	}

	// 8. Start Server
	g.Go(func() error {
		logger.Info("Starting Bid Service API", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func connectPostgres(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	dbConfig, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return pool, nil
}

// newRedisClient accepts a redis:// URL or a bare host:port.
func newRedisClient(redisURL string) *redis.Client {
	if strings.Contains(redisURL, "://") {
		if opts, err := redis.ParseURL(redisURL); err == nil {
			return redis.NewClient(opts)
		}
	}
	return redis.NewClient(&redis.Options{Addr: redisURL})
}

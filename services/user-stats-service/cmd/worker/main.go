package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	pkgdb "github.com/floroz/bidledger/pkg/database"
	"github.com/floroz/bidledger/services/user-stats-service/internal/adapters/database"
	"github.com/floroz/bidledger/services/user-stats-service/internal/adapters/events"
	"github.com/floroz/bidledger/services/user-stats-service/internal/config"
	"github.com/floroz/bidledger/services/user-stats-service/internal/domain/userstats"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireWorker()
	}
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Consumer failed", "error", err)
		os.Exit(1)
	}
	logger.Info("User stats consumer stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// 1. Initialize Postgres Connection Pool
	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("unable to create connection pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("unable to ping database: %w", err)
	}
	logger.Info("Postgres Connected")

	// 2. Initialize Dependencies
	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.LockTimeout)
	statsService := userstats.NewService(database.NewBidderStatsRepository(pool), txManager)

	// 3. Connect to RabbitMQ
	amqpConn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer amqpConn.Close()

	consumer := events.NewBidConsumer(amqpConn, statsService, cfg.Exchange, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	// 4. Start Consumer
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting bid consumer...")
		return consumer.Run(ctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

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
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/bidledger/pkg/auth"
	pkgdb "github.com/floroz/bidledger/pkg/database"
	"github.com/floroz/bidledger/services/user-stats-service/internal/adapters/api"
	"github.com/floroz/bidledger/services/user-stats-service/internal/adapters/database"
	"github.com/floroz/bidledger/services/user-stats-service/internal/config"
	"github.com/floroz/bidledger/services/user-stats-service/internal/domain/userstats"
	"github.com/floroz/bidledger/services/user-stats-service/migrations"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply database migrations before serving")
	flag.Parse()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireAPI()
	}
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrate, logger); err != nil {
		logger.Error("User Stats Service API stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("User Stats Service API stopped")
}

func run(ctx context.Context, cfg *config.Config, migrate bool, logger *slog.Logger) error {
	// 1. Token validation only needs the auth service's public key
	signer, err := auth.NewSignerFromPublicKey(cfg.JWTPublicKey, cfg.JWTIssuer)
	if err != nil {
		return fmt.Errorf("failed to load JWT public key: %w", err)
	}

	// 2. Initialize Postgres Connection Pool
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

	if migrate {
		if err := pkgdb.Migrate(ctx, pool, migrations.FS); err != nil {
			return err
		}
		logger.Info("Migrations applied")
	}

	// 3. Initialize Dependencies
	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.LockTimeout)
	statsService := userstats.NewService(database.NewBidderStatsRepository(pool), txManager)

	// 4. Initialize API Handler with auth interceptor
	mux := http.NewServeMux()
	api.NewUserStatsServiceHandler(statsService, logger).
		Register(mux, connect.WithInterceptors(auth.NewAuthInterceptor(signer)))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 5. Start Server
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting User Stats Service API", "addr", cfg.HTTPAddr)
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

package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/wealth-ledger/internal/api"
	"github.com/ayo6706/wealth-ledger/internal/api/middleware"
	"github.com/ayo6706/wealth-ledger/internal/config"
	"github.com/ayo6706/wealth-ledger/internal/db"
	"github.com/ayo6706/wealth-ledger/internal/idempotency"
	"github.com/ayo6706/wealth-ledger/internal/observability"
	"github.com/ayo6706/wealth-ledger/internal/repository"
	"github.com/ayo6706/wealth-ledger/internal/service"
	"github.com/ayo6706/wealth-ledger/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.ApplySchema(ctx, pool); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		logger.Info("schema applied")
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := repository.NewStore(pool)
	idemStore := idempotency.NewStore(redisClient, store.Queries(), cfg.IdempotencyTTL)
	svc := BuildServices(store, cfg)

	withdrawalWorker := worker.NewWithdrawalWorker(svc.Vaults, cfg.SupportedCurrencies).
		WithPollInterval(cfg.WithdrawalPollInterval).
		WithBatchSize(cfg.WithdrawalBatchSize)
	stopWithdrawals := withdrawalWorker.Run(ctx)
	logger.Info("withdrawal worker started", zap.Stringer("worker", withdrawalWorker))

	stopVesting := worker.NewVestingWorker(svc.Vesting, cfg.VestingCurrencies).
		WithInterval(cfg.VestingReleaseInterval).
		Run(ctx)
	logger.Info("vesting worker started",
		zap.Duration("interval", cfg.VestingReleaseInterval),
		zap.Strings("currencies", cfg.VestingCurrencies))

	stopRecon := worker.NewReconciliationWorker(svc.Recon).
		WithInterval(cfg.ReconciliationInterval).
		Run(ctx)
	logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconciliationInterval))

	stopPurge := runIdempotencyPurge(ctx, idemStore, cfg.IdempotencyTTL)

	router := api.NewRouter(cfg, logger, pool, idemStore, redisClient, svc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopWithdrawals()
	stopVesting()
	stopRecon()
	stopPurge()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// BuildServices wires the domain services over one store.
func BuildServices(store service.QueryStore, cfg *config.Config) api.Services {
	currencies := cfg.SupportedCurrencies
	funds := service.NewFundsService(store, currencies...)
	locks := service.NewWalletLockService(store, currencies...)
	vesting := service.NewVestingService(store, funds, locks, currencies...)
	return api.Services{
		Funds:   funds,
		Webhook: service.NewWebhookService(funds, cfg.WebhookHMACKey, cfg.WebhookSkipSignature),
		Offers:  service.NewOfferService(store, funds, locks),
		Vaults:  service.NewVaultService(store, funds, locks, vesting, currencies...),
		Vesting: vesting,
		Locks:   locks,
		History: service.NewHistoryService(store, currencies...),
		Recon:   service.NewReconciliationService(store),
	}
}

// runIdempotencyPurge drops expired HTTP idempotency records once per TTL.
func runIdempotencyPurge(ctx context.Context, store *idempotency.Store, ttl time.Duration) func() {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				n, err := store.Purge(ctx, now)
				if err != nil {
					zap.L().Warn("idempotency purge failed", zap.Error(err))
					continue
				}
				zap.L().Info("idempotency keys purged", zap.Int64("count", n))
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// NewLogger builds the production JSON logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

package api

import (
	"net/http"

	"github.com/ayo6706/wealth-ledger/internal/api/handler"
	"github.com/ayo6706/wealth-ledger/internal/api/middleware"
	"github.com/ayo6706/wealth-ledger/internal/api/spec"
	"github.com/ayo6706/wealth-ledger/internal/config"
	"github.com/ayo6706/wealth-ledger/internal/idempotency"
	"github.com/ayo6706/wealth-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services bundles the domain services the HTTP layer exposes.
type Services struct {
	Funds   *service.FundsService
	Webhook *service.WebhookService
	Offers  *service.OfferService
	Vaults  *service.VaultService
	Vesting *service.VestingService
	Locks   *service.WalletLockService
	History *service.HistoryService
	Recon   *service.ReconciliationService
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	idemStore *idempotency.Store
	redis     redis.Cmdable
	svc       Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, idemStore *idempotency.Store, redisClient redis.Cmdable, svc Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		idemStore: idemStore,
		redis:     redisClient,
		svc:       svc,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	webhookHandler := handler.NewWebhookHandler(api.svc.Webhook)
	complianceHandler := handler.NewComplianceHandler(api.svc.Funds)
	offerHandler := handler.NewOfferHandler(api.svc.Offers)
	vaultHandler := handler.NewVaultHandler(api.svc.Vaults)
	walletHandler := handler.NewWalletHandler(api.svc.Locks, api.svc.History)
	adminHandler := handler.NewAdminHandler(api.svc.Vaults, api.svc.Vesting, api.svc.Recon)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Get("/health", healthHandler.Live)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/index.html", http.StatusMovedPermanently)
	})

	// Provider callbacks authenticate by HMAC signature.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/webhooks/deposits", webhookHandler.HandleDepositWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))
		idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

		r.Get("/v1/offers", offerHandler.List)
		r.Get("/v1/offers/{id}", offerHandler.Get)
		r.With(idem).Post("/v1/offers/{id}/investments", offerHandler.Invest)

		r.With(idem).Post("/v1/vaults/{code}/deposits", vaultHandler.Deposit)
		r.With(idem).Post("/v1/vaults/{code}/withdrawals", vaultHandler.Withdraw)
		r.With(idem).Post("/v1/vaults/{code}/withdrawals/{id}/cancel", vaultHandler.CancelWithdrawal)
		r.Get("/v1/vaults/{code}/positions/{currency}", vaultHandler.Position)

		r.Get("/v1/wallets/{currency}", walletHandler.Summary)
		r.Get("/v1/wallets/{currency}/history", walletHandler.History)
		r.Get("/v1/transactions/{id}", walletHandler.GetTransaction)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(handler.RoleCompliance, handler.RoleAdmin))
			r.Use(idem)
			r.Post("/v1/compliance/transactions/{id}/release", complianceHandler.Release)
			r.Post("/v1/compliance/transactions/{id}/reject", complianceHandler.Reject)
		})

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(handler.RoleAdmin))
			r.Get("/vaults", adminHandler.ListVaults)
			r.With(idem).Post("/vesting/release", adminHandler.ReleaseVesting)
			r.With(idem).Post("/vaults/{code}/withdrawals/process", adminHandler.ProcessWithdrawals)
			r.With(idem).Post("/vaults/{code}/liquidity/{direction}", adminHandler.Liquidity)
			r.Post("/reconciliation", adminHandler.Reconcile)
		})
	})

	return r
}

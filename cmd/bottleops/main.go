package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"

	"github.com/bottleops/bottleops/internal/app"
	"github.com/bottleops/bottleops/internal/consolidation"
	"github.com/bottleops/bottleops/internal/observability"
	"github.com/bottleops/bottleops/internal/orders"
	"github.com/bottleops/bottleops/internal/platform/cache"
	"github.com/bottleops/bottleops/internal/platform/db"
	"github.com/bottleops/bottleops/internal/pricing"
	"github.com/bottleops/bottleops/internal/production"
	"github.com/bottleops/bottleops/internal/shared"
	"github.com/bottleops/bottleops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	domainMetrics := metrics.Domain()

	formatter, err := pricing.NewFormatter(cfg.Currency, language.AmericanEnglish)
	if err != nil {
		logger.Error("currency formatter", slog.Any("error", err))
		os.Exit(1)
	}
	calculator := pricing.NewCalculator(pricing.Config{KitMOQ: cfg.PricingKitMOQ, DepositPercent: cfg.PricingDepositPercent})
	catalog := pricing.NewRepository(dbpool)

	locker := shared.NewLocker(redisClient, cfg.LockTTL)
	auditLogger := shared.NewAuditLogger(dbpool)
	approvals := shared.NewApprovalRecorder(dbpool, logger)

	queueOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue, err := jobs.NewClient(queueOpts)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	consolidationService := consolidation.NewService(nil, consolidation.NewCache(redisClient, cfg.ConsolidationCacheTTL), formatter, logger)

	orderService := orders.NewService(orders.NewRepository(dbpool), orders.ServiceDeps{
		Catalog:    catalog,
		Calculator: calculator,
		Audit:      auditLogger,
		Approvals:  approvals,
		Intents:    jobs.NewIntentDispatcher(queue),
		Locker:     locker,
		Listener:   consolidationService,
		Metrics:    domainMetrics,
		Logger:     logger,
	})
	productionService := production.NewService(production.NewRepository(dbpool), catalog, locker, domainMetrics, logger)
	orderService.SetProductionGate(productionService)
	consolidationService.SetOrderSource(orderService)

	inspector := asynq.NewInspector(queueOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		OrdersHandler:        orders.NewHandler(logger, orderService),
		ProductionHandler:    production.NewHandler(logger, productionService),
		PricingHandler:       pricing.NewHandler(logger, catalog, calculator, formatter),
		ConsolidationHandler: consolidation.NewHandler(logger, consolidationService),
		JobHandler:           jobs.NewHandler(inspector, logger),
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

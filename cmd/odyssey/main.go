package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/bookings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/rates"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sources"
	"github.com/odyssey-erp/odyssey-ledger/internal/adjustments"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar"
	"github.com/odyssey-erp/odyssey-ledger/internal/ar/payments"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/inventory"
	"github.com/odyssey-erp/odyssey-ledger/internal/masterdata/products"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners"
	"github.com/odyssey-erp/odyssey-ledger/internal/partners/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/sales"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func main() {
	if app.SkipStartup("odyssey") {
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

	if len(os.Args) > 1 {
		code := runCommand(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr)
		stop()
		os.Exit(code)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.WithApplicationName("odyssey-ledger"), db.WithMaxConns(cfg.PGMaxConns))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cache.WithClientName("odyssey-ledger"), cache.WithDB(cfg.RedisDB))
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	registry, err := sources.LoadRegistry(ctx, sources.NewRepository(pool))
	if err != nil {
		logger.Error("load transaction sources", slog.Any("error", err))
		os.Exit(1)
	}

	txm := db.NewTxManager(pool)
	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	locker := shared.NewDocumentLocker(redisClient, cfg.DocumentLockTTL)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	accountRepo := accounts.NewRepository(pool)
	directory := accounts.NewCachedDirectory(accountRepo, redisClient, cfg.AccountCacheTTL)
	accountService := accounts.NewService(accountRepo, directory, logger)
	bookingRepo := bookings.NewRepository(pool)
	rateService := rates.NewService(rates.NewRepository(pool))
	inventoryService := inventory.NewService(inventory.NewRepository(pool), txm, logger)
	entryRepo := ledger.NewRepository(pool)
	receiptRepo := ar.NewRepository(pool)
	productRepo := products.NewRepository(pool)

	builder := posting.NewBuilder(directory, registry, posting.Options{
		ForeignCostCurrency:     cfg.ForeignCostCurrency,
		OpeningBalanceAccountID: cfg.OpeningBalanceAccountID,
	})
	coordinator := integration.NewCoordinator(integration.Deps{
		Tx:       txm,
		Bookings: bookingRepo,
		Stock:    inventoryService,
		Entries:  entryRepo,
		Receipts: receiptRepo,
		Audit:    auditLogger,
		Metrics:  metrics.Ledger(),
		Logger:   logger,
	})

	partnerService := partners.NewService(partners.Deps{
		Repo:     partners.NewRepository(pool),
		Tx:       txm,
		Accounts: directory,
		Builder:  builder,
		Poster:   coordinator,
		Entries:  entryRepo,
		Receipts: receiptRepo,
		Logger:   logger,
	})
	salesService := sales.NewService(sales.Deps{
		Repo:                sales.NewRepository(pool),
		Tx:                  txm,
		Products:            productRepo,
		Partners:            partnerService,
		Rates:               rateService,
		Builder:             builder,
		Poster:              coordinator,
		Receipts:            receiptRepo,
		Locker:              locker,
		ForeignCostCurrency: cfg.ForeignCostCurrency,
		Logger:              logger,
	})
	adjustmentService := adjustments.NewService(adjustments.Deps{
		Repo:                adjustments.NewRepository(pool),
		Tx:                  txm,
		Products:            productRepo,
		Levels:              inventoryService,
		Rates:               rateService,
		Builder:             builder,
		Poster:              coordinator,
		Locker:              locker,
		ForeignCostCurrency: cfg.ForeignCostCurrency,
		Logger:              logger,
	})
	paymentService := payments.NewService(payments.Deps{
		Repo:        receiptRepo,
		Tx:          txm,
		Builder:     builder,
		Poster:      coordinator,
		Idempotency: idempotencyStore,
		Locker:      locker,
		Metrics:     metrics.Ledger(),
		Logger:      logger,
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AccountingHandler:  accounting.NewHandler(logger, accountService, bookings.NewService(bookingRepo), rateService),
		ProductsHandler:    products.NewHandler(logger, products.NewService(productRepo, logger), inventoryService),
		PartnersHandler:    partners.NewHandler(logger, partnerService),
		SalesHandler:       sales.NewHandler(logger, salesService),
		AdjustmentsHandler: adjustments.NewHandler(logger, adjustmentService),
		PaymentsHandler:    payments.NewHandler(logger, paymentService),
		JobHandler:         jobs.NewHandler(inspector, jobClient, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

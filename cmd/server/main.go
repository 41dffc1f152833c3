package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-matcher/internal/application/dispatcher"
	"github.com/garyjia/invoice-matcher/internal/application/gate"
	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/application/service"
	"github.com/garyjia/invoice-matcher/internal/clock"
	"github.com/garyjia/invoice-matcher/internal/config"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/external/lark"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/external/openai"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/lock"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/persistence/repository"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/storage"
	"github.com/garyjia/invoice-matcher/internal/infrastructure/worker"
	httpapi "github.com/garyjia/invoice-matcher/internal/interfaces/http"
	"github.com/garyjia/invoice-matcher/internal/invoice"
	"github.com/garyjia/invoice-matcher/internal/observability/metrics"
	"github.com/garyjia/invoice-matcher/pkg/database"
	"github.com/garyjia/invoice-matcher/pkg/utils"
)

func main() {
	configPath := "configs/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	sugared := utils.NewSugaredLogger(logger)

	logger.Info("Starting invoice matcher",
		zap.String("version", "1.0.0"),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Int64("monthly_budget_cents", cfg.Budget.MonthlyCents))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database and run migrations
	rawDB, err := database.OpenMigrated(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer rawDB.Close()
	db := sqlite.NewDB(rawDB.DB, logger)

	// Initialize repositories
	invoiceRepo := repository.NewInvoiceRepository(db, logger)
	usageRepo := repository.NewUsageRepository(db, logger)
	ledgerRepo := repository.NewLedgerEntryRepository(db, logger)
	auditRepo := repository.NewAuditRepository(db, logger)
	settingsRepo := repository.NewSettingsRepository(db, logger)

	// Initialize blob storage
	blobs, blobServer, closeBlobs, err := openBlobStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("Failed to initialize blob storage", zap.Error(err))
	}
	defer closeBlobs()

	// Serialize extraction across processes when Redis is configured
	var gateOpts []gate.Option
	if cfg.Redis.Enabled() {
		rdb, err := lock.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect Redis", zap.Error(err))
		}
		defer func(rdb *redis.Client) { _ = rdb.Close() }(rdb)
		gateOpts = append(gateOpts, gate.WithLocker(lock.NewRedisLocker(rdb, cfg.Redis.LockKey, cfg.Redis.LockTTL, logger)))
		logger.Info("Cross-process extraction lock enabled", zap.String("key", cfg.Redis.LockKey))
	}

	// Initialize extractor
	extractor, err := openai.NewExtractor(openai.Config{
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		Model:     cfg.OpenAI.Model,
		Timeout:   cfg.OpenAI.Timeout,
		MaxTokens: cfg.OpenAI.MaxTokens,
	}, invoice.NewPDFRasterizer(invoice.DefaultMaxPages, logger), logger)
	if err != nil {
		logger.Fatal("Failed to initialize extractor", zap.Error(err))
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	// Event dispatcher with audit and budget alert handlers
	events := dispatcher.NewDispatcher(
		dispatcher.WithLogger(sugared),
		dispatcher.WithAsyncTimeout(30*time.Second),
	)
	var alerter *service.BudgetAlerter
	if cfg.Lark.Enabled() {
		notifier := lark.NewNotifier(lark.Config{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
			ChatID:    cfg.Lark.AlertChatID,
		}, logger)
		alerter = service.NewBudgetAlerter(notifier, sugared)
	} else {
		logger.Info("Lark budget alerts disabled")
	}
	clk := clock.Real{}
	service.RegisterHandlers(events, service.NewAuditRecorder(auditRepo, clk, sugared), alerter)

	// Application services
	budget := service.NewBudgetService(usageRepo, settingsRepo, clk, service.BudgetConfig{
		MonthlyBudgetCents:    cfg.Budget.MonthlyCents,
		AlertThresholdPercent: cfg.Budget.AlertThresholdPercent,
	}, sugared)
	matcher := service.NewMatchService(ledgerRepo, cfg.Ingest.MatchLimit, sugared)

	ingest := service.NewIngestService(service.IngestDependencies{
		Invoices:  invoiceRepo,
		Usage:     usageRepo,
		Blobs:     blobs,
		Extractor: extractor,
		Tx:        db,
		Budget:    budget,
		Matcher:   matcher,
		Cost:      service.NewCostEstimator(cfg.OpenAI.InputCentsPerM, cfg.OpenAI.OutputCentsPerM),
		Gate:      gate.New(gateOpts...),
		Clock:     clk,
		Events:    events,
		Metrics:   pipelineMetrics,
		Logger:    sugared,
	}, service.IngestConfig{
		MaxBatchFiles: cfg.Ingest.MaxBatchFiles,
		MaxFileBytes:  cfg.Ingest.MaxFileBytes,
		MatchLimit:    cfg.Ingest.MatchLimit,
	})
	invoices := service.NewInvoiceService(invoiceRepo, ledgerRepo, blobs, db, matcher, events, cfg.Storage.DownloadTTL, sugared)
	reports := service.NewReportService(usageRepo, budget, sugared)

	// Background maintenance
	workers := worker.NewWorkerManager(logger)
	workers.Register(worker.NewPeriodicWorker("stale-sweep", cfg.Workers.SweepInterval,
		worker.NewStaleSweepTask(ingest, worker.SweepConfig{
			Interval:  cfg.Workers.SweepInterval,
			OlderThan: cfg.Workers.StaleAfter,
			BatchSize: cfg.Workers.SweepBatchSize,
		}), logger))
	workers.Register(worker.NewPeriodicWorker("spend-gauge", cfg.Workers.SpendGaugeInterval,
		worker.NewSpendGaugeTask(ingest), logger))
	if err := workers.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	// HTTP server
	server := httpapi.NewServer(httpapi.ServerConfig{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxBatchFiles:   cfg.Ingest.MaxBatchFiles,
		MaxFileBytes:    cfg.Ingest.MaxFileBytes,
	}, httpapi.Services{
		Ingest:   ingest,
		Invoices: invoices,
		Budget:   budget,
		Reports:  reports,
		Blobs:    blobServer,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, sugared)

	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server stopped with error", zap.Error(err))
	}

	if err := workers.StopAll(); err != nil {
		logger.Error("Failed to stop workers", zap.Error(err))
	}

	// Drain pending audit writes and alerts
	if err := events.Close(); err != nil {
		logger.Error("Failed to close event dispatcher", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}

// openBlobStore builds the configured store. The local store is also
// returned as the signed-URL server; GCS serves its own signed URLs.
func openBlobStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (port.BlobStore, httpapi.BlobServer, func(), error) {
	switch cfg.Driver {
	case "gcs":
		store, err := storage.NewGCSBlobStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsJSON, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, func() { _ = store.Close() }, nil
	default:
		store, err := storage.NewLocalBlobStore(cfg.LocalDir, cfg.SigningSecret, cfg.PublicBaseURL, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, func() {}, nil
	}
}

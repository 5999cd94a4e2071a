package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filevault/internal/capabilities"
	"filevault/internal/config"
	"filevault/internal/domain/repositories"
	vaultRepo "filevault/internal/domain/repositories/vault"
	vaultSvc "filevault/internal/domain/services/vault"
	"filevault/internal/httputil"
	"filevault/internal/metrics"
	"filevault/internal/middleware"
	"filevault/internal/ratelimiter"
	"filevault/internal/repository/memory"
	"filevault/internal/repository/postgres"
	pgvault "filevault/internal/repository/postgres/vault"
	"filevault/internal/service/vault"
	"filevault/internal/telemetry"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// stores bundles the repositories of one backend
type stores struct {
	folders     vaultRepo.FolderRepository
	files       vaultRepo.FileRepository
	versions    vaultRepo.VersionRepository
	permissions vaultRepo.PermissionRepository
	shares      vaultRepo.ShareRepository
	accessLog   vaultRepo.AccessLogRepository
	txManager   repositories.TransactionManager
	ping        func(context.Context) error
	close       func()
}

// services is everything an embedding API layer would consume
type services struct {
	Folders     vaultSvc.FolderService
	Files       vaultSvc.FileService
	Checkout    vaultSvc.CheckoutService
	Permissions vaultSvc.PermissionService
	Shares      vaultSvc.ShareService
}

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, cfg.LogMaxFiles, time.Now())
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer logFile.Close()
		out = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("vault starting",
		"environment", cfg.Environment,
		"store", cfg.Store,
		"table_prefix", cfg.TablePrefix,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, "filevault", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.close()

	presets, err := capabilities.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to initialize permission presets: %v", err)
	}
	logger.Info("permission presets loaded", "count", len(presets.List()))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(reg)

	limiter := ratelimiter.NewKeyed(uint(cfg.ShareRateLimitRPS), uint(cfg.ShareRateLimitBurst))
	clock := vault.SystemClock{}
	svc := buildServices(cfg, st, presets, limiter, recorder, clock, logger)

	logger.Info("services initialized")

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(reg))
	mux.HandleFunc("GET /health", httputil.HealthHandler(cfg.Store, st.ping))

	// Order: Tracing → RequestID → Logging → Recovery → Routes
	var handler http.Handler = mux
	handler = middleware.Recovery(logger)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	handler = otelhttp.NewHandler(handler, "vault-operator")

	server := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
			stop()
		}
	}()

	sweeper := vault.NewSweeper(svc.Checkout, svc.Shares, limiter, cfg.SweepInterval, recorder, clock, logger)
	if err := sweeper.RunOnce(ctx); err != nil {
		logger.Error("initial maintenance sweep failed", "error", err)
	}
	sweeper.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}
	logger.Info("vault stopped")
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store; data is lost on exit")
		store := memory.NewStore()
		return &stores{
			folders:     memory.NewFolderRepository(store),
			files:       memory.NewFileRepository(store),
			versions:    memory.NewVersionRepository(store),
			permissions: memory.NewPermissionRepository(store),
			shares:      memory.NewShareRepository(store),
			accessLog:   memory.NewAccessLogRepository(store),
			txManager:   memory.NewTransactionManager(store),
			close:       func() {},
		}, nil
	}

	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	tables := postgres.NewTableNames(cfg.TablePrefix)
	if err := postgres.Migrate(ctx, pool, tables, logger); err != nil {
		pool.Close()
		return nil, err
	}

	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	return &stores{
		folders:     pgvault.NewFolderRepository(repoConfig),
		files:       pgvault.NewFileRepository(repoConfig),
		versions:    pgvault.NewVersionRepository(repoConfig),
		permissions: pgvault.NewPermissionRepository(repoConfig),
		shares:      pgvault.NewShareRepository(repoConfig),
		accessLog:   pgvault.NewAccessLogRepository(repoConfig),
		txManager:   postgres.NewTransactionManager(pool, logger),
		ping:        pool.Ping,
		close:       pool.Close,
	}, nil
}

func buildServices(
	cfg *config.Config,
	st *stores,
	presets *capabilities.Registry,
	limiter *ratelimiter.Keyed,
	recorder metrics.Recorder,
	clock vault.Clock,
	logger *slog.Logger,
) *services {
	validator := vault.NewResourceValidator(st.folders, st.files)
	return &services{
		Folders:  vault.NewFolderService(st.folders, st.files, st.txManager, validator, recorder, clock, logger),
		Files:    vault.NewFileService(st.files, st.versions, st.txManager, validator, clock, logger),
		Checkout: vault.NewCheckoutService(st.files, validator, cfg.DefaultCheckoutHours, recorder, clock, logger),
		Permissions: vault.NewPermissionService(st.permissions, st.txManager, validator, presets,
			cfg.PermissionCacheTTL, recorder, clock, logger),
		Shares: vault.NewShareService(st.shares, st.accessLog, st.files, st.txManager, validator, vault.ShareOptions{
			BcryptCost: cfg.BcryptCost,
			Limiter:    limiter,
		}, recorder, clock, logger),
	}
}

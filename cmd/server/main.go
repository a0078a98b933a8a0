package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vodhub/internal/cache"
	"vodhub/internal/collect"
	"vodhub/internal/config"
	cronrunner "vodhub/internal/cron"
	"vodhub/internal/db"
	"vodhub/internal/handler"
	"vodhub/internal/logger"
	"vodhub/internal/metrics"
	gormrepository "vodhub/internal/repository/gorm"
	"vodhub/internal/service"
	"vodhub/internal/source"
)

func main() {
	cfgPath := os.Getenv("VH_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("VH_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	if err := store.SeedCategories(context.Background(), collect.DefaultCategories()); err != nil {
		logger.Warn("category seed failed", zap.Error(err))
	}

	appCache := cache.New(cfg.Cache.DefaultTTL, cfg.Cache.CleanupInterval)
	appMetrics := metrics.New()

	httpClient := &http.Client{Timeout: cfg.Source.Timeout}
	sourceClient := source.NewClient(httpClient, cfg.Source.UserAgent, logger)

	registry := &service.Registry{
		Repo:             store,
		Cache:            appCache,
		Logger:           logger,
		FailureThreshold: cfg.Health.FailureThreshold,
	}
	classifier := &collect.Classifier{Store: store, Cache: appCache, Logger: logger}
	merger := &collect.Merger{}

	monitor := &service.HealthMonitor{
		Registry:        registry,
		Client:          sourceClient,
		Logger:          logger,
		ProbeTimeout:    cfg.Source.ProbeTimeout,
		SlowThresholdMs: cfg.Health.SlowThresholdMs,
	}
	aggregator := &service.Aggregator{
		Repo:               store,
		Registry:           registry,
		Client:             sourceClient,
		Classifier:         classifier,
		Merger:             merger,
		Cache:              appCache,
		Metrics:            appMetrics,
		Logger:             logger,
		CacheTTL:           cfg.Cache.AggregateTTL,
		DefaultTimeout:     cfg.Aggregator.Timeout,
		IncludeLowPriority: cfg.Aggregator.IncludeLowPrio,
		SlowThresholdMs:    cfg.Aggregator.SlowThresholdMs,
	}
	engine := &service.TaskEngine{
		Repo:             store,
		Registry:         registry,
		Client:           sourceClient,
		Classifier:       classifier,
		Merger:           merger,
		Metrics:          appMetrics,
		Logger:           logger,
		Workers:          cfg.Collector.Workers,
		PageDelay:        cfg.Collector.PageDelay,
		MaxPagesPerRun:   cfg.Collector.MaxPagesPerRun,
		SourceErrorLimit: cfg.Collector.SourceErrorLimit,
	}
	syncer := &service.CategorySyncer{
		Repo:       store,
		Client:     sourceClient,
		Classifier: classifier,
		Logger:     logger,
	}
	catalogQuery := &service.CatalogQuery{
		Repo:            store,
		Logger:          logger,
		DefaultPageSize: cfg.Aggregator.PageSizeFallback,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(router)
	sourceHandler := &handler.SourceHandler{Registry: registry, Monitor: monitor, Syncer: syncer}
	sourceHandler.Register(router)
	categoryHandler := &handler.CategoryHandler{Repo: store, Classifier: classifier}
	categoryHandler.Register(router)
	taskHandler := &handler.TaskHandler{Engine: engine, Repo: store}
	taskHandler.Register(router)
	catalogHandler := &handler.CatalogHandler{Query: catalogQuery, Aggregator: aggregator}
	catalogHandler.Register(router)
	router.GET("/metrics", appMetrics.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add("health_probe", cfg.Cron.HealthProbe, func(ctx context.Context) {
			monitor.ProbeAll(ctx)
		})
		if err != nil {
			logger.Warn("cron register health probe failed", zap.Error(err))
		}
		_, err = cronRunner.Add("incremental_collect", cfg.Cron.Incremental, func(ctx context.Context) {
			taskType := cfg.Collector.IncrementalType
			if taskType == "" {
				taskType = "incremental"
			}
			if err := engine.RunScheduled(ctx, taskType, service.TaskConfig{}); err != nil {
				logger.Warn("scheduled incremental collect failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register incremental collect failed", zap.Error(err))
		}
		_, err = cronRunner.Add("log_prune", cfg.Cron.LogPrune, func(ctx context.Context) {
			n, err := engine.PruneLogs(ctx, cfg.Logs.RetentionDays)
			if err != nil {
				logger.Warn("log prune failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("pruned collection logs", zap.Int64("count", n))
			}
		})
		if err != nil {
			logger.Warn("cron register log prune failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

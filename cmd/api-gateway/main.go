package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	_ "github.com/civicfix/civicfix-api/api/swagger"
	"github.com/civicfix/civicfix-api/internal/handler"
	"github.com/civicfix/civicfix-api/internal/repository"
	"github.com/civicfix/civicfix-api/internal/router"
	"github.com/civicfix/civicfix-api/internal/service"
	"github.com/civicfix/civicfix-api/pkg/cache"
	"github.com/civicfix/civicfix-api/pkg/config"
	"github.com/civicfix/civicfix-api/pkg/database"
	"github.com/civicfix/civicfix-api/pkg/jobs"
	"github.com/civicfix/civicfix-api/pkg/logger"
	"github.com/civicfix/civicfix-api/pkg/storage"
)

// @title CivicFix API
// @version 1.0.0
// @description Citizen infrastructure issue reporting and triage
// @BasePath /api/v1
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	uploadStore, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}

	userRepo := repository.NewUserRepository(db)
	reportRepo := repository.NewReportRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	draftRepo := repository.NewDraftRepository(redisClient, cfg.Drafts.TTL)
	quotaRepo := repository.NewQuotaRepository(redisClient)
	eventRepo := repository.NewEventRepository(redisClient, cfg.Stream.Channel)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, true)

	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "civicfix-api",
	})

	classifierClient := service.NewClassifierClient(cfg.Classifier, logr)
	geocoderClient := service.NewGeocoderClient(cfg.Geocoder, logr)

	eventSvc := service.NewEventService(eventRepo, metricsSvc, cfg.Stream.ClientBuffer, logr)

	submissionSvc := service.NewSubmissionService(
		draftRepo,
		quotaRepo,
		reportRepo,
		userRepo,
		uploadStore,
		classifierClient,
		geocoderClient,
		eventSvc,
		cacheSvc,
		metricsSvc,
		nil,
		logr,
		cfg.Classifier,
		cfg.Uploads,
	)

	reportSvc := service.NewReportService(reportRepo, userRepo, eventSvc, cacheSvc, nil, logr)
	dashboardSvc := service.NewDashboardService(reportRepo, userRepo, cacheSvc, cfg.Dashboard.CacheTTL, logr)
	userSvc := service.NewUserService(userRepo, nil, logr)

	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exporterSvc := service.NewExportService(reportRepo, exportStore, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr, nil, nil)

	exportWorker := service.NewExportWorker(exportJobRepo, exporterSvc, cfg.Exports.WorkerRetries, logr)
	exportQueue := jobs.NewQueue("exports", exportWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
	})

	exportJobSvc := service.NewExportJobService(exportJobRepo, exportQueue, exporterSvc, userRepo, nil, logr, service.ExportJobConfig{
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
		MaxRetries:      cfg.Exports.WorkerRetries,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exportQueue.Start(ctx)
	defer exportQueue.Stop()

	eventSvc.Start(ctx)
	defer eventSvc.Stop()

	exportJobSvc.RecoverPendingJobs(ctx)
	exportJobSvc.StartCleanup(ctx)

	engine := router.New(router.Dependencies{
		Config:  cfg,
		Logger:  logr,
		Metrics: metricsSvc,

		AuthService: authSvc,
		UserRepo:    userRepo,

		Auth:        handler.NewAuthHandler(authSvc),
		Users:       handler.NewUserHandler(userSvc, reportSvc),
		Submissions: handler.NewSubmissionHandler(submissionSvc),
		Reports:     handler.NewReportHandler(reportSvc),
		Dashboard:   handler.NewDashboardHandler(dashboardSvc),
		Exports:     handler.NewExportHandler(exportJobSvc),
		Stream:      handler.NewStreamHandler(eventSvc, cfg.Stream.PingInterval),
		Health:      handler.NewHealthHandler(db, redisClient),
		MetricsH:    handler.NewMetricsHandler(metricsSvc),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

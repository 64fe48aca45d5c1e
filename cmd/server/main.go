// Package main runs the back-office HTTP API: admin login, tenant provisioning and progress.
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
	"go.uber.org/zap/zapcore"

	"github.com/brokerdesk/backoffice/config"
	"github.com/brokerdesk/backoffice/internal/auth"
	"github.com/brokerdesk/backoffice/internal/middleware"
	"github.com/brokerdesk/backoffice/internal/models"
	"github.com/brokerdesk/backoffice/internal/notifications"
	"github.com/brokerdesk/backoffice/internal/plans"
	"github.com/brokerdesk/backoffice/internal/provisioning"
	"github.com/brokerdesk/backoffice/internal/realtime"
	"github.com/brokerdesk/backoffice/internal/tenantdb"
	"github.com/brokerdesk/backoffice/internal/tenants"
	"github.com/brokerdesk/backoffice/internal/usage"
	"github.com/brokerdesk/backoffice/pkg/cache"
	"github.com/brokerdesk/backoffice/pkg/database"
	"github.com/brokerdesk/backoffice/pkg/queue"
	"github.com/brokerdesk/backoffice/pkg/redis"
	"github.com/brokerdesk/backoffice/pkg/response"
	"github.com/brokerdesk/backoffice/pkg/storage"
	"github.com/brokerdesk/backoffice/pkg/utils"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Tenant databases are created through a role that may CREATE DATABASE.
	adminDSN := cfg.TenantDatabase.AdminURL
	if adminDSN == "" {
		adminDSN = cfg.Database.DSN()
	}
	adminPool := pool
	if cfg.TenantDatabase.AdminURL != "" {
		adminPool, err = database.NewPostgresPool(ctx, adminDSN, logger)
		if err != nil {
			logger.Fatal("tenant admin database", zap.Error(err))
		}
		defer adminPool.Close()
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		LogosBucket:     cfg.AWS.LogosBucket,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	// Auth
	authRepo := auth.NewRepository(pool)
	if err := bootstrapAdmin(ctx, authRepo, cfg.Bootstrap, logger); err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Registry and central records
	planRepo := plans.NewRepository(pool)
	planHandler := plans.NewHandler(planRepo)
	tenantRepo := tenants.NewRepository(pool)
	tenantHandler := tenants.NewHandler(tenantRepo)

	// Notifications are queued here and delivered by cmd/worker.
	jobQueue := queue.NewQueue(rdb.Client, logger)
	notificationRepo := notifications.NewRepository(pool)
	notificationSvc := notifications.NewService(notificationRepo, jobQueue, logger)
	notificationHandler := notifications.NewHandler(notificationRepo)

	usageRepo := usage.NewRepository(pool)
	usageHandler := usage.NewHandler(usageRepo)

	// Provisioning
	pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
	progressStore := cache.NewRedisStore(rdb.Client)
	tracker := provisioning.NewTracker(progressStore, cfg.Provisioning.ProgressTTL(), pubsub, logger)
	reporter := provisioning.NewReporter(progressStore)
	orchestrator := provisioning.NewOrchestrator(provisioning.Deps{
		Plans:     planRepo,
		Tenants:   tenantRepo,
		Databases: tenantdb.NewManager(adminPool, adminDSN, cfg.TenantDatabase.Prefix, logger),
		Logos:     s3Client,
		Notifier:  notificationSvc,
		Tracker:   tracker,
	}, provisioning.Settings{
		BaseDomain:       cfg.Provisioning.BaseDomain,
		DefaultTrialDays: cfg.Provisioning.DefaultTrialDays,
		DefaultTimezone:  cfg.Provisioning.DefaultTimezone,
		DefaultCurrency:  cfg.Provisioning.DefaultCurrency,
		LoginURLTemplate: cfg.Provisioning.LoginURLTemplate,
	}, logger)
	provisioningHandler := provisioning.NewHandler(orchestrator, reporter, logger)
	progressStream := provisioning.NewStream(reporter, pubsub, jwtService.RoleFromToken, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			response.ServiceUnavailable(c, "redis unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Auth (public)
	router.POST("/auth/login", authHandler.Login)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/admin/tenants/provision/progress/ws", progressStream.ServeWs(models.RolePlatformAdmin))

	// Protected API (platform admins only)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService), middleware.RequireRole(models.RolePlatformAdmin))
	{
		api.GET("/plans", planHandler.ListActive)

		api.POST("/admin/tenants/provision", provisioningHandler.Provision)
		api.POST("/admin/tenants/provision/progress", provisioningHandler.Progress)

		api.GET("/admin/tenants", tenantHandler.List)
		api.GET("/admin/tenants/:id", tenantHandler.Get)
		api.GET("/admin/tenants/:id/notifications", notificationHandler.ListByTenant)
		api.GET("/admin/tenants/:id/usage-alerts", usageHandler.ListByTenant)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// bootstrapAdmin upserts the configured platform admin. No-op when unset.
func bootstrapAdmin(ctx context.Context, repo *auth.Repository, cfg config.BootstrapConfig, logger *zap.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}
	hash, err := utils.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	admin, err := repo.Upsert(ctx, strings.ToLower(strings.TrimSpace(cfg.AdminEmail)), hash, cfg.AdminName)
	if err != nil {
		return err
	}
	logger.Info("platform admin ready", zap.String("email", admin.Email))
	return nil
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

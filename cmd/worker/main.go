// Package main runs the background worker: email delivery and usage-alert scans.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brokerdesk/backoffice/config"
	"github.com/brokerdesk/backoffice/internal/notifications"
	"github.com/brokerdesk/backoffice/internal/plans"
	"github.com/brokerdesk/backoffice/internal/tenantdb"
	"github.com/brokerdesk/backoffice/internal/tenants"
	"github.com/brokerdesk/backoffice/internal/usage"
	"github.com/brokerdesk/backoffice/internal/worker"
	"github.com/brokerdesk/backoffice/pkg/database"
	"github.com/brokerdesk/backoffice/pkg/queue"
	"github.com/brokerdesk/backoffice/pkg/redis"
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

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	notificationRepo := notifications.NewRepository(pool)
	notificationSvc := notifications.NewService(notificationRepo, jobQueue, logger)

	mailer := notifications.NewMailer(notifications.SMTPConfig{
		Host:        cfg.Email.SMTPHost,
		Port:        cfg.Email.SMTPPort,
		Username:    cfg.Email.SMTPUser,
		Password:    cfg.Email.SMTPPass,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
	}, logger)
	if cfg.Email.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set; email jobs will be marked failed")
	}
	processor := worker.NewEmailProcessor(jobQueue, mailer, notificationRepo, logger)

	// Usage counts are read from tenant databases; the admin DSN reaches them all.
	tenantDSN := cfg.TenantDatabase.AdminURL
	if tenantDSN == "" {
		tenantDSN = cfg.Database.DSN()
	}
	checker := usage.NewChecker(
		tenants.NewRepository(pool),
		plans.NewRepository(pool),
		tenantdb.NewManager(pool, tenantDSN, cfg.TenantDatabase.Prefix, logger),
		usage.NewRepository(pool),
		notificationSvc,
		cfg.Usage.Thresholds,
		logger,
	)
	scanner := worker.NewUsageScanner(checker, cfg.Usage.ScanInterval(), logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		scanner.Run(workerCtx)
	}()
	logger.Info("worker started", zap.Duration("usage_scan_interval", cfg.Usage.ScanInterval()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	repoPostgres "github.com/commshub/communicator/internal/campaign_service/repository/postgres"
	"github.com/commshub/communicator/internal/maintenance_service/app"
	"github.com/commshub/communicator/internal/platform/config"
	"github.com/commshub/communicator/internal/platform/database"
	"github.com/commshub/communicator/internal/platform/logger"
	"github.com/commshub/communicator/internal/platform/messagebroker"
)

const serviceName = "maintenance_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("Maintenance service starting...", "schedule_spec", cfg.ScheduleCronSpec, "cleanup_spec", cfg.CleanupCronSpec)

	dbPool, err := database.NewDBPool(context.Background(), cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL database")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	appLogger.Info("Connected to NATS")

	campaignRepo := repoPostgres.NewPgCampaignRepository(dbPool)

	poller := app.NewSchedulePoller(campaignRepo, natsClient, cfg.ScheduleBatchSize, appLogger)
	cleaner := app.NewCleaner(campaignRepo, cfg.RetentionDays, appLogger)

	c := cron.New()
	if _, err := c.AddFunc(cfg.ScheduleCronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := poller.FireDue(ctx, time.Now().UTC()); err != nil {
			appLogger.Error("Schedule poll failed", "error", err)
		}
	}); err != nil {
		appLogger.Error("Invalid schedule cron spec", "spec", cfg.ScheduleCronSpec, "error", err)
		os.Exit(1)
	}
	if _, err := c.AddFunc(cfg.CleanupCronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := cleaner.RunRetention(ctx, time.Now().UTC()); err != nil {
			appLogger.Error("Retention cleanup failed", "error", err)
		}
	}); err != nil {
		appLogger.Error("Invalid cleanup cron spec", "spec", cfg.CleanupCronSpec, "error", err)
		os.Exit(1)
	}
	c.Start()
	appLogger.Info("Cron jobs registered and started")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metricsMux}
	go func() {
		appLogger.Info(fmt.Sprintf("Metrics server listening on port %d", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Metrics server failed to serve", "error", err)
		}
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	<-quitChan

	appLogger.Info("Shutdown signal received, stopping cron...")
	<-c.Stop().Done()
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metricsServer.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("Metrics server shutdown failed", "error", err)
	}
	appLogger.Info("Maintenance service shut down.")
}

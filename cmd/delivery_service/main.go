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
	"golang.org/x/time/rate"

	repoPostgres "github.com/commshub/communicator/internal/campaign_service/repository/postgres"
	"github.com/commshub/communicator/internal/delivery_service/app"
	"github.com/commshub/communicator/internal/delivery_service/transport"
	"github.com/commshub/communicator/internal/platform/config"
	"github.com/commshub/communicator/internal/platform/database"
	"github.com/commshub/communicator/internal/platform/logger"
	"github.com/commshub/communicator/internal/platform/messagebroker"
)

const serviceName = "delivery_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("Delivery service starting...", "max_concurrency", cfg.DeliveryMaxConcurrency, "send_rate", cfg.DeliverySendRate)

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
	progressRepo := repoPostgres.NewPgRecipientProgressRepository(dbPool)

	// Simulated chat platform transport until the real connector ships.
	msgTransport := transport.NewMockTransport(appLogger, 0, 0, 20*time.Millisecond)

	// One limiter for the whole process: concurrent campaigns share the
	// transport's send budget instead of multiplying it.
	limiter := rate.NewLimiter(rate.Limit(cfg.DeliverySendRate), cfg.DeliveryMaxConcurrency)

	orchestrator := app.NewOrchestrator(campaignRepo, progressRepo, msgTransport, limiter, appLogger, app.OrchestratorConfig{
		MaxConcurrency: cfg.DeliveryMaxConcurrency,
		BatchSize:      cfg.RecipientBatchSize,
		RetryBudget:    cfg.DeliveryRetryBudget,
		BackoffBase:    cfg.BackoffBase(),
		BackoffCap:     cfg.BackoffCap(),
		SendTimeout:    cfg.SendTimeout(),
		PollInterval:   cfg.PollInterval(),
	})
	aggregator := app.NewAggregator(campaignRepo, progressRepo, appLogger)
	deliveryService := app.NewDeliveryAppService(orchestrator, aggregator, appLogger)

	sub, err := natsClient.Subscribe(context.Background(), messagebroker.SubjectCampaignSend, messagebroker.QueueGroupDeliveryWorkers, deliveryService.HandleMessage)
	if err != nil {
		appLogger.Error("Failed to subscribe to send jobs", "subject", messagebroker.SubjectCampaignSend, "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()
	appLogger.Info("Subscribed to send jobs", "subject", messagebroker.SubjectCampaignSend, "queue_group", messagebroker.QueueGroupDeliveryWorkers)

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

	appLogger.Info("Shutdown signal received, draining...")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := metricsServer.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("Metrics server shutdown failed", "error", err)
	}
	appLogger.Info("Delivery service shut down.")
}

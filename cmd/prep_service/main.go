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
	"github.com/redis/go-redis/v9"

	repoPostgres "github.com/commshub/communicator/internal/campaign_service/repository/postgres"
	deliverytransport "github.com/commshub/communicator/internal/delivery_service/transport"
	"github.com/commshub/communicator/internal/platform/config"
	"github.com/commshub/communicator/internal/platform/database"
	"github.com/commshub/communicator/internal/platform/logger"
	"github.com/commshub/communicator/internal/platform/messagebroker"
	"github.com/commshub/communicator/internal/prep_service/app"
	"github.com/commshub/communicator/internal/prep_service/directory"
)

const serviceName = "prep_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("Prep service starting...")

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

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		appLogger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	appLogger.Info("Connected to Redis")

	campaignRepo := repoPostgres.NewPgCampaignRepository(dbPool)
	progressRepo := repoPostgres.NewPgRecipientProgressRepository(dbPool)

	identityCache := directory.NewRedisIdentityCache(redisClient, time.Duration(cfg.IdentityCacheTTLHours)*time.Hour)

	// Directory and app installer back onto the simulated chat platform
	// until the real connector ships.
	dir := directory.NewMockDirectory(appLogger)
	installer := deliverytransport.NewMockTransport(appLogger, 0, 0, 10*time.Millisecond)

	resolver := app.NewResolver(dir, identityCache, appLogger, app.ResolverConfig{
		RetryBudget: cfg.DirectoryRetryBudget,
		CallTimeout: cfg.DirectoryTimeout(),
	})
	batcher := app.NewBatcher(progressRepo, cfg.RecipientBatchSize, appLogger)

	prepService := app.NewPrepAppService(
		campaignRepo,
		progressRepo,
		resolver,
		batcher,
		installer,
		identityCache,
		natsClient,
		appLogger,
		cfg.InstallConcurrency,
	)

	sub, err := natsClient.Subscribe(context.Background(), messagebroker.SubjectCampaignPrepare, messagebroker.QueueGroupPrepWorkers, prepService.HandleMessage)
	if err != nil {
		appLogger.Error("Failed to subscribe to prepare jobs", "subject", messagebroker.SubjectCampaignPrepare, "error", err)
		os.Exit(1)
	}
	defer sub.Unsubscribe()
	appLogger.Info("Subscribed to prepare jobs", "subject", messagebroker.SubjectCampaignPrepare, "queue_group", messagebroker.QueueGroupPrepWorkers)

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
	appLogger.Info("Prep service shut down.")
}

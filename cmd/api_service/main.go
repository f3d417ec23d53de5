package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/commshub/communicator/internal/campaign_service/app"
	repoPostgres "github.com/commshub/communicator/internal/campaign_service/repository/postgres"
	httptransport "github.com/commshub/communicator/internal/campaign_service/transport/http"
	"github.com/commshub/communicator/internal/platform/config"
	"github.com/commshub/communicator/internal/platform/database"
	"github.com/commshub/communicator/internal/platform/logger"
	"github.com/commshub/communicator/internal/platform/messagebroker"
)

const serviceName = "api_service"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(serviceName, cfg.LogLevel)
	appLogger.Info("API service starting...", "port", cfg.APIServicePort)

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

	campaignService := app.NewCampaignAppService(campaignRepo, progressRepo, natsClient, appLogger)

	validate := validator.New()
	campaignHandler := httptransport.NewCampaignHandler(campaignService, appLogger, validate)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(httptransport.PrometheusMetricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/campaigns", func(campaignRouter chi.Router) {
		campaignHandler.RegisterRoutes(campaignRouter)
	})

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.APIServicePort), Handler: r}
	go func() {
		appLogger.Info(fmt.Sprintf("API server listening on port %d", cfg.APIServicePort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server failed to serve", "error", err)
		}
	}()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, syscall.SIGINT, syscall.SIGTERM)
	<-quitChan

	appLogger.Info("Shutdown signal received, shutting down HTTP server...")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		appLogger.Error("HTTP server shutdown failed", "error", err)
	} else {
		appLogger.Info("HTTP server shut down gracefully.")
	}
	appLogger.Info("API service shut down.")
}

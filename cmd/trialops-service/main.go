package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/trialdesk/platform/pkg/common/config"
	"github.com/trialdesk/platform/pkg/common/database"
	"github.com/trialdesk/platform/pkg/common/kafka"
	"github.com/trialdesk/platform/pkg/common/logger"
	"github.com/trialdesk/platform/pkg/common/middleware"
	"github.com/trialdesk/platform/pkg/compliance"
	"github.com/trialdesk/platform/pkg/observability/metrics"
	"github.com/trialdesk/platform/pkg/trialops"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := trialops.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate trialops tables")
	}

	catalog, err := compliance.LoadCatalog(cfg.DosingCatalogPath)
	if err != nil {
		logger.Log.WithError(err).WithField("path", cfg.DosingCatalogPath).
			Warn("Dosing catalog load failed, using compiled-in default")
	}

	cache := trialops.NewTimelineCache(database.GetRedis(), cfg.TimelineCacheTTL)
	producer := kafka.NewProducer(cfg.VisitEventsTopic)
	defer producer.Close()

	service := trialops.NewService(repo, cache, producer, catalog)
	handler := trialops.NewHandler(service)

	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	handler.RegisterRoutes(router)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Trial operations service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start trial operations service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down trial operations service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Trial operations service forced to shutdown")
	}
	database.ClosePostgres()
	database.CloseRedis()
	logger.Log.Info("Trial operations service stopped")
}

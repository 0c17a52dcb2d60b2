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
	"github.com/predict-mdr/platform/pkg/common/config"
	"github.com/predict-mdr/platform/pkg/common/database"
	"github.com/predict-mdr/platform/pkg/common/kafka"
	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/gateway/middleware"
	"github.com/predict-mdr/platform/pkg/hotspot"
	"github.com/predict-mdr/platform/pkg/observability/metrics"
	"github.com/predict-mdr/platform/pkg/patients"
	"github.com/predict-mdr/platform/pkg/risk"
	"github.com/predict-mdr/platform/pkg/serving"
	"github.com/predict-mdr/platform/pkg/storage"
)

func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	var opts []risk.Option
	var history risk.History

	if cfg.PersistPredictions {
		db, err := database.GetPostgres(cfg)
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to postgres")
		}
		defer database.ClosePostgres()

		repo := serving.NewRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate prediction tables")
		}
		opts = append(opts, risk.WithRecorder(repo))
		history = repo
	}

	rdb := database.GetRedis(cfg)
	if rdb != nil {
		defer database.CloseRedis()
		opts = append(opts, risk.WithCache(storage.NewFeatureStore(rdb, cfg.FeatureStoreCacheTTL)))
	}

	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.PredictionEventsTopic)
		defer producer.Close()
		opts = append(opts, risk.WithPublisher(producer))
	}

	svc, components, err := risk.Build(cfg, rdb, opts...)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to configure risk pipeline")
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	patients.NewHTTPHandler(patients.NewService(components.Client)).Register(api)
	risk.NewHTTPHandler(svc, history).Register(api)
	hotspot.NewHTTPHandler(components.Client, cfg.HotspotEpsKm, cfg.HotspotMinPoints).Register(api)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      middleware.Chain(router, cfg.MaxRequestBody, cfg.RateLimitRPS, cfg.RateLimitBurst),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Prediction Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Prediction Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Prediction Service stopped")
}

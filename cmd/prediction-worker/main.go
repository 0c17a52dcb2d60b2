package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/predict-mdr/platform/pkg/common/config"
	"github.com/predict-mdr/platform/pkg/common/database"
	"github.com/predict-mdr/platform/pkg/common/kafka"
	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/observability/metrics"
	"github.com/predict-mdr/platform/pkg/risk"
	"github.com/predict-mdr/platform/pkg/serving"
	"github.com/predict-mdr/platform/pkg/storage"
)

// prediction-worker scores patients named by prediction.requested events so
// that batch rescoring does not go through the HTTP API.
func main() {
	logger.Init()
	metrics.Init()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []risk.Option
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
	}

	rdb := database.GetRedis(cfg)
	if rdb != nil {
		defer database.CloseRedis()
		opts = append(opts, risk.WithCache(storage.NewFeatureStore(rdb, cfg.FeatureStoreCacheTTL)))
	}

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.PredictionEventsTopic)
	defer producer.Close()
	opts = append(opts, risk.WithPublisher(producer))

	svc, _, err := risk.Build(cfg, rdb, opts...)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to configure risk pipeline")
	}

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Error("metrics server failed")
		}
	}()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.PredictionRequestTopic, cfg.KafkaGroupID,
		kafka.WithRetry(cfg.ConsumerRetryAttempts, cfg.ConsumerRetryBackoff),
		kafka.WithDeadLetter(cfg.KafkaBrokers, cfg.DeadLetterTopic),
	)
	defer consumer.Close()

	logger.Log.WithFields(map[string]interface{}{
		"topic":       cfg.PredictionRequestTopic,
		"group":       cfg.KafkaGroupID,
		"dead_letter": cfg.DeadLetterTopic,
		"attempts":    cfg.ConsumerRetryAttempts,
	}).Info("Prediction Worker started")

	if err := consumer.Consume(ctx, svc.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.WithError(err).Error("consumer stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Log.Info("Prediction Worker stopped")
}

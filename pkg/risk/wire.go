package risk

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/predict-mdr/platform/pkg/artifacts"
	"github.com/predict-mdr/platform/pkg/common/config"
	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/dhis2"
	"github.com/predict-mdr/platform/pkg/features"
	"github.com/predict-mdr/platform/pkg/serving/predictor"
	"github.com/predict-mdr/platform/pkg/terminology"
)

// Components are the owned singletons behind a Service.
type Components struct {
	Client *dhis2.Client
	Store  *artifacts.Store
	Engine *predictor.Engine
	Schema *features.Schema
	Names  *terminology.Catalog
}

// Build wires a Service from configuration. rdb may be nil.
func Build(cfg *config.Config, rdb *redis.Client, opts ...Option) (*Service, *Components, error) {
	schema, err := features.LoadSchema(cfg.FeatureSchemaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("feature schema: %w", err)
	}
	names, err := terminology.Load(cfg.DisplayNamesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("display names: %w", err)
	}
	client, err := dhis2.New(dhis2.ConfigFrom(cfg))
	if err != nil {
		return nil, nil, err
	}
	store := artifacts.NewStoreFromConfig(cfg, rdb)
	engine := predictor.NewEngine(store.ModelBytes)

	c := &Components{Client: client, Store: store, Engine: engine, Schema: schema, Names: names}
	base := []Option{
		WithThreshold(cfg.PositiveThreshold),
		WithTimeout(cfg.PipelineTimeout),
		WithEstimator(Estimator{Seed: cfg.ImportanceSeed, Workers: cfg.ImportanceWorkers}),
		WithReset(func(ctx context.Context) {
			store.Reset(ctx, true)
			engine.Reset()
		}),
	}
	svc := NewService(schema, client, store, engine, names, append(base, opts...)...)

	logger.Log.WithFields(map[string]interface{}{
		"columns":     schema.Width(),
		"categorical": len(schema.Categorical),
		"numeric":     len(schema.Numeric),
		"dhis2":       cfg.DHIS2BaseURL,
	}).Info("Risk pipeline configured")
	return svc, c, nil
}

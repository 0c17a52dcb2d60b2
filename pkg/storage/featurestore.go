package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

// FeatureStore is the hot cache of the latest assessment per patient.
type FeatureStore struct {
	redisClient *redis.Client
	cacheTTL    time.Duration
}

func NewFeatureStore(client *redis.Client, ttl time.Duration) *FeatureStore {
	return &FeatureStore{redisClient: client, cacheTTL: ttl}
}

func assessmentKey(patientID string) string {
	return fmt.Sprintf("assessments:%s", patientID)
}

// Store caches a; no_data results are cached too so repeated views of an
// empty patient stay cheap.
func (f *FeatureStore) Store(ctx context.Context, a models.RiskAssessment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	key := assessmentKey(a.PatientID)
	logger.Log.WithFields(map[string]interface{}{
		"key":  key,
		"size": len(data),
	}).Debug("Caching assessment")
	return f.redisClient.Set(ctx, key, data, f.cacheTTL).Err()
}

// Latest returns nil on a cache miss.
func (f *FeatureStore) Latest(ctx context.Context, patientID string) (*models.RiskAssessment, error) {
	data, err := f.redisClient.Get(ctx, assessmentKey(patientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var a models.RiskAssessment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode cached assessment: %w", err)
	}
	return &a, nil
}

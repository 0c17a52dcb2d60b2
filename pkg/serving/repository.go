package serving

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/predict-mdr/platform/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PredictionLog is the persistence model of one risk assessment.
type PredictionLog struct {
	ID             uuid.UUID         `gorm:"primaryKey;column:id"`
	RunID          string            `gorm:"column:run_id;uniqueIndex"`
	PatientID      string            `gorm:"column:patient_id;index"`
	ModelVersion   string            `gorm:"column:model_version"`
	Status         string            `gorm:"column:status"`
	Average        float64           `gorm:"column:average"`
	Positive       bool              `gorm:"column:positive"`
	Classification string            `gorm:"column:classification"`
	Request        datatypes.JSONMap `gorm:"column:request"`
	Response       datatypes.JSONMap `gorm:"column:response"`
	LatencyMs      float64           `gorm:"column:latency_ms"`
	CreatedAt      time.Time         `gorm:"column:created_at;index"`
}

// TableName overrides gorm naming.
func (PredictionLog) TableName() string {
	return "prediction_logs"
}

// Repository handles prediction logs queries.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PredictionLog{})
}

// RecordAssessment stores a finished assessment.
func (r *Repository) RecordAssessment(ctx context.Context, a models.RiskAssessment) error {
	log, err := NewPredictionLog(a)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&log).Error
}

// Recent returns the most recent assessments up to limit.
func (r *Repository) Recent(ctx context.Context, limit int) ([]models.RiskAssessment, error) {
	return r.find(r.db.WithContext(ctx), limit)
}

// ForPatient returns the assessment history of one patient, newest first.
func (r *Repository) ForPatient(ctx context.Context, patientID string, limit int) ([]models.RiskAssessment, error) {
	return r.find(r.db.WithContext(ctx).Where("patient_id = ?", patientID), limit)
}

func (r *Repository) find(q *gorm.DB, limit int) ([]models.RiskAssessment, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []PredictionLog
	if err := q.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	out := make([]models.RiskAssessment, 0, len(logs))
	for _, l := range logs {
		a, err := l.Assessment()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// NewPredictionLog flattens an assessment into a row. The request column
// keeps the inputs (events and diagnostics), the response the full result.
func NewPredictionLog(a models.RiskAssessment) (PredictionLog, error) {
	response, err := toJSONMap(a)
	if err != nil {
		return PredictionLog{}, err
	}
	request, err := toJSONMap(map[string]interface{}{
		"patient_id":  a.PatientID,
		"events":      a.Events,
		"diagnostics": a.Diagnostics,
	})
	if err != nil {
		return PredictionLog{}, err
	}
	created := a.CompletedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return PredictionLog{
		ID:             uuid.New(),
		RunID:          a.RunID,
		PatientID:      a.PatientID,
		ModelVersion:   a.ModelVersion,
		Status:         a.Status,
		Average:        a.Average,
		Positive:       a.Positive,
		Classification: a.Classification,
		Request:        request,
		Response:       response,
		LatencyMs:      float64(a.Latency.Microseconds()) / 1000.0,
		CreatedAt:      created,
	}, nil
}

// Assessment decodes the stored response.
func (l PredictionLog) Assessment() (models.RiskAssessment, error) {
	var a models.RiskAssessment
	raw, err := json.Marshal(l.Response)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("decode prediction log %s: %w", l.ID, err)
	}
	return a, nil
}

func toJSONMap(v interface{}) (datatypes.JSONMap, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := datatypes.JSONMap{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

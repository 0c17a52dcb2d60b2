// Package risk runs the MDR-TB risk assessment of one patient: fetch,
// feature building, inference, aggregation and permutation importance.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/predict-mdr/platform/pkg/features"
	"github.com/predict-mdr/platform/pkg/observability/metrics"
	"github.com/predict-mdr/platform/pkg/serving/predictor"
	"github.com/predict-mdr/platform/pkg/terminology"
)

const (
	StatusScored = "scored"
	StatusNoData = "no_data"

	EventCompleted = "prediction.completed"
	EventFailed    = "prediction.failed"
	EventRequested = "prediction.requested"

	eventSource = "prediction-service"
)

type Entities interface {
	GetTrackedEntity(ctx context.Context, id string) (*models.TrackedEntity, error)
	ListDataElements(ctx context.Context) ([]models.DataElement, error)
}

type Artifacts interface {
	LabelEncoder(ctx context.Context) (features.LabelEncoder, error)
	Scaler(ctx context.Context) (features.Scaler, error)
}

type Models interface {
	Model(ctx context.Context) (predictor.Model, error)
}

type Recorder interface {
	RecordAssessment(ctx context.Context, assessment models.RiskAssessment) error
}

type Cache interface {
	Latest(ctx context.Context, patientID string) (*models.RiskAssessment, error)
	Store(ctx context.Context, assessment models.RiskAssessment) error
}

type Publisher interface {
	PublishEvent(ctx context.Context, key string, eventType string, source string, data map[string]interface{}) error
}

type Service struct {
	schema    *features.Schema
	entities  Entities
	artifacts Artifacts
	models    Models
	names     *terminology.Catalog

	threshold float64
	timeout   time.Duration
	estimator Estimator

	recorder  Recorder
	cache     Cache
	publisher Publisher
	resetters []func(ctx context.Context)

	tracker *tracker
}

type Option func(*Service)

func WithThreshold(threshold float64) Option {
	return func(s *Service) { s.threshold = threshold }
}

// WithTimeout bounds every run, fetches included.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Service) { s.timeout = timeout }
}

func WithEstimator(e Estimator) Option {
	return func(s *Service) { s.estimator = e }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithReset registers a hook run by Reload, such as dropping cached artifacts.
func WithReset(fn func(ctx context.Context)) Option {
	return func(s *Service) { s.resetters = append(s.resetters, fn) }
}

func NewService(schema *features.Schema, entities Entities, artifacts Artifacts, models Models, names *terminology.Catalog, opts ...Option) *Service {
	if names == nil {
		names = terminology.DefaultCatalog()
	}
	s := &Service{
		schema:    schema,
		entities:  entities,
		artifacts: artifacts,
		models:    models,
		names:     names,
		threshold: DefaultThreshold,
		estimator: Estimator{Seed: 42, Workers: 4},
		tracker:   newTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports the run in flight for patientID, or Idle when there is none.
func (s *Service) State(patientID string) State {
	return s.tracker.state(patientID)
}

// Latest returns the cached assessment, or nil when there is none.
func (s *Service) Latest(ctx context.Context, patientID string) (*models.RiskAssessment, error) {
	if s.cache == nil {
		return nil, nil
	}
	return s.cache.Latest(ctx, patientID)
}

// Reload drops cached artifacts and the model handle.
func (s *Service) Reload(ctx context.Context) {
	for _, fn := range s.resetters {
		fn(ctx)
	}
	logger.Log.Info("Risk artifacts reset")
}

// Assess runs the full pipeline for one tracked entity. A patient without
// events yields a no_data assessment, not an error.
func (s *Service) Assess(ctx context.Context, patientID string) (*models.RiskAssessment, error) {
	if err := s.tracker.begin(patientID); err != nil {
		metrics.ObservePipeline(Outcome(err), 0)
		return nil, err
	}

	start := time.Now()
	runID := uuid.New().String()
	log := logger.Log.WithFields(logrus.Fields{"patient_id": patientID, "run_id": runID})
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	assessment, err := s.run(ctx, runID, patientID, log)
	elapsed := time.Since(start)
	if err != nil {
		_ = s.tracker.advance(patientID, Failed)
		metrics.ObservePipeline(Outcome(err), elapsed)
		log.WithError(err).WithField("outcome", Outcome(err)).Warn("Risk assessment failed")
		s.publish(ctx, patientID, EventFailed, map[string]interface{}{
			"patient_id": patientID,
			"run_id":     runID,
			"outcome":    Outcome(err),
			"error":      err.Error(),
		})
		return nil, err
	}

	assessment.Latency = elapsed
	assessment.CompletedAt = time.Now().UTC()
	if err := s.tracker.advance(patientID, Done); err != nil {
		log.WithError(err).Error("Pipeline state out of sync")
	}
	metrics.ObservePipeline(assessment.Status, elapsed)
	log.WithFields(logrus.Fields{
		"status":     assessment.Status,
		"events":     len(assessment.Events),
		"average":    assessment.Average,
		"latency_ms": elapsed.Milliseconds(),
	}).Info("Risk assessment completed")

	s.persist(ctx, *assessment)
	return assessment, nil
}

type inputs struct {
	entity  *models.TrackedEntity
	encoder features.LabelEncoder
	scaler  features.Scaler
	model   predictor.Model
}

// load fetches the patient and every artifact concurrently.
func (s *Service) load(ctx context.Context, patientID string) (inputs, error) {
	var in inputs
	var elements []models.DataElement
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entity, err := s.entities.GetTrackedEntity(gctx, patientID)
		if err != nil {
			return classify(sourceEntity, err)
		}
		in.entity = entity
		return nil
	})
	g.Go(func() error {
		des, err := s.entities.ListDataElements(gctx)
		if err != nil {
			return classify("data_elements", err)
		}
		elements = des
		return nil
	})
	g.Go(func() error {
		enc, err := s.artifacts.LabelEncoder(gctx)
		if err != nil {
			return classify("label_encoders", err)
		}
		in.encoder = enc
		return nil
	})
	g.Go(func() error {
		sc, err := s.artifacts.Scaler(gctx)
		if err != nil {
			return classify("scalers", err)
		}
		in.scaler = sc
		return nil
	})
	g.Go(func() error {
		model, err := s.models.Model(gctx)
		if err != nil {
			return classify("model", err)
		}
		in.model = model
		return nil
	})
	if err := g.Wait(); err != nil {
		return inputs{}, err
	}
	s.names.Merge(elements)
	return in, nil
}

func (s *Service) run(ctx context.Context, runID, patientID string, log *logrus.Entry) (*models.RiskAssessment, error) {
	in, err := s.load(ctx, patientID)
	if err != nil {
		return nil, err
	}

	assessment := &models.RiskAssessment{
		RunID:         runID,
		PatientID:     patientID,
		Events:        []models.EventPrediction{},
		Contributions: []models.FeatureContribution{},
		ModelVersion:  in.model.Version(),
	}

	report := &features.Report{}
	ex := features.Extract(in.entity, s.schema, report)
	if ex.Len() == 0 {
		assessment.Status = StatusNoData
		log.Info("Patient has no events to assess")
		return assessment, nil
	}

	if err := s.tracker.advance(patientID, Processing); err != nil {
		return nil, err
	}
	if in.model.Width() != s.schema.Width() {
		return nil, &ModelLoadError{Err: fmt.Errorf("model expects %d features, schema has %d", in.model.Width(), s.schema.Width())}
	}

	builder := features.Builder{Schema: s.schema, Encoder: in.encoder, Scaler: in.scaler}
	ids, vectors, err := builder.Vectors(ex, report)
	if err != nil {
		return nil, classify("features", err)
	}
	s.reportDiagnostics(report, log)
	assessment.Diagnostics = report.Diagnostics()

	probabilities := make([]float64, len(vectors))
	for i, vec := range vectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := in.model.Predict(vec)
		if err != nil {
			return nil, fmt.Errorf("predict event %s: %w", ids[i], err)
		}
		probabilities[i] = p
		assessment.Events = append(assessment.Events, models.EventPrediction{EventID: ids[i], Probability: p})
	}
	metrics.ObserveInference(len(vectors))

	agg, err := AggregatePredictions(probabilities, s.threshold)
	if err != nil {
		return nil, err
	}
	assessment.Status = StatusScored
	assessment.Average = agg.Average
	assessment.Positive = agg.Positive
	assessment.Classification = agg.Classification

	importance, err := s.estimator.Estimate(ctx, in.model.Predict, vectors, agg.Average)
	if err != nil {
		return nil, fmt.Errorf("feature importance: %w", err)
	}
	assessment.Contributions = Rank(importance, s.schema.Columns(), s.names.DisplayName)
	return assessment, nil
}

func (s *Service) reportDiagnostics(report *features.Report, log *logrus.Entry) {
	metrics.ObserveDiagnostics(len(report.UnseenCategories), len(report.ParseFailures))
	if len(report.UnseenCategories) > 0 {
		log.WithField("values", report.UnseenCategories).Debug("Unseen categorical values encoded as 0")
	}
	if len(report.ParseFailures) > 0 {
		log.WithField("values", report.ParseFailures).Warn("Unparseable numeric values treated as 0")
	}
}

// persist stores and announces a finished assessment. Failures are logged;
// the caller already has its result.
func (s *Service) persist(ctx context.Context, a models.RiskAssessment) {
	ctx = context.WithoutCancel(ctx)
	if s.recorder != nil {
		if err := s.recorder.RecordAssessment(ctx, a); err != nil {
			logger.Log.WithError(err).WithField("patient_id", a.PatientID).Warn("Failed to record assessment")
		}
	}
	if s.cache != nil {
		if err := s.cache.Store(ctx, a); err != nil {
			logger.Log.WithError(err).WithField("patient_id", a.PatientID).Warn("Failed to cache assessment")
		}
	}
	s.publish(ctx, a.PatientID, EventCompleted, map[string]interface{}{
		"patient_id":     a.PatientID,
		"run_id":         a.RunID,
		"status":         a.Status,
		"average":        a.Average,
		"positive":       a.Positive,
		"classification": a.Classification,
		"events":         len(a.Events),
		"model_version":  a.ModelVersion,
	})
}

func (s *Service) publish(ctx context.Context, key, eventType string, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.PublishEvent(ctx, key, eventType, eventSource, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("Failed to publish prediction event")
	}
}

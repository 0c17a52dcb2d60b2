package predictor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/predict-mdr/platform/pkg/common/logger"
)

// Loader fetches the raw model artifact.
type Loader func(ctx context.Context) ([]byte, error)

// LoadError reports that the model artifact could not be loaded. Once an
// engine has failed it keeps returning the same error until Reset.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("model load failed: %v", e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// Engine owns the single cached model handle of a process.
type Engine struct {
	load Loader

	mu     sync.Mutex
	model  Model
	err    error
	loaded bool
}

func NewEngine(load Loader) *Engine {
	return &Engine{load: load}
}

// NewStaticEngine wraps an already built model.
func NewStaticEngine(model Model) *Engine {
	return &Engine{model: model, loaded: true}
}

// Model returns the cached handle, loading it on first use. Cancellation of
// the caller's context is not cached as a failure.
func (e *Engine) Model(ctx context.Context) (Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.model, e.err
	}
	if e.load == nil {
		return nil, &LoadError{Err: errors.New("no model loader configured")}
	}

	start := time.Now()
	data, err := e.load(ctx)
	if err == nil {
		e.model, err = Parse(data)
	}
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	e.loaded = true
	if err != nil {
		e.err = &LoadError{Err: err}
		logger.Log.WithError(err).Error("model artifact failed to load; prediction disabled until reset")
		return nil, e.err
	}
	logger.Log.WithFields(map[string]interface{}{
		"version":    e.model.Version(),
		"width":      e.model.Width(),
		"latency_ms": time.Since(start).Milliseconds(),
	}).Info("Model loaded")
	return e.model, nil
}

// Predict runs one forward pass.
func (e *Engine) Predict(ctx context.Context, vector []float64) (float64, error) {
	model, err := e.Model(ctx)
	if err != nil {
		return 0, err
	}
	return model.Predict(vector)
}

// Reset drops the cached handle (or failure) so the next call reloads.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model, e.err, e.loaded = nil, nil, false
}

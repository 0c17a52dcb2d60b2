package risk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/predict-mdr/platform/pkg/artifacts"
	"github.com/predict-mdr/platform/pkg/dhis2"
	"github.com/predict-mdr/platform/pkg/features"
	"github.com/predict-mdr/platform/pkg/serving/predictor"
)

var (
	// ErrNoEvents marks a patient without any event to score.
	ErrNoEvents = errors.New("no events to assess")
	// ErrPipelineBusy is returned while another run for the same patient is in flight.
	ErrPipelineBusy = errors.New("risk assessment already in progress")
)

// UpstreamDataError wraps a failed or malformed fetch of patient data,
// metadata or an artifact.
type UpstreamDataError struct {
	Source string
	Err    error
}

func (e *UpstreamDataError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Source, e.Err)
}

func (e *UpstreamDataError) Unwrap() error { return e.Err }

// SchemaMismatchError lists numeric columns the scaler does not define.
type SchemaMismatchError struct {
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return "scaler missing numeric columns: " + strings.Join(e.Missing, ", ")
}

// ModelLoadError disables prediction until the engine is reset.
type ModelLoadError struct {
	Err error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("model unavailable: %v", e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// NonNumericFeatureError is a NaN or infinity in an assembled vector.
type NonNumericFeatureError = features.NonNumericFeatureError

func IsUpstream(err error) bool {
	var target *UpstreamDataError
	return errors.As(err, &target)
}

// sourceEntity labels the tracked-entity fetch.
const sourceEntity = "tracked_entity"

// IsNotFound reports whether DHIS2 has no record of the requested patient.
// A 404 on metadata or artifacts is a misconfigured upstream, not a missing
// patient.
func IsNotFound(err error) bool {
	var up *UpstreamDataError
	return errors.As(err, &up) && up.Source == sourceEntity && errors.Is(up.Err, dhis2.ErrNotFound)
}

func IsSchemaMismatch(err error) bool {
	var target *SchemaMismatchError
	return errors.As(err, &target)
}

func IsModelLoad(err error) bool {
	var target *ModelLoadError
	return errors.As(err, &target)
}

func IsNonNumeric(err error) bool {
	var target *NonNumericFeatureError
	return errors.As(err, &target)
}

// classify maps errors of the lower layers onto the pipeline taxonomy.
func classify(source string, err error) error {
	if err == nil {
		return nil
	}
	if IsUpstream(err) || IsSchemaMismatch(err) || IsModelLoad(err) || IsNonNumeric(err) ||
		errors.Is(err, ErrNoEvents) || errors.Is(err, ErrPipelineBusy) {
		return err
	}

	var loadErr *predictor.LoadError
	if errors.As(err, &loadErr) {
		return &ModelLoadError{Err: loadErr.Err}
	}
	var missing *features.MissingScalerError
	if errors.As(err, &missing) {
		return &SchemaMismatchError{Missing: missing.Columns}
	}
	var artErr *artifacts.Error
	if errors.As(err, &artErr) {
		return &UpstreamDataError{Source: artErr.Artifact, Err: artErr.Err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &UpstreamDataError{Source: source, Err: err}
}

// HTTPStatus is the response code for a pipeline error.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrPipelineBusy):
		return http.StatusConflict
	case IsNotFound(err):
		return http.StatusNotFound
	case IsSchemaMismatch(err), IsModelLoad(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case IsUpstream(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Outcome is the metrics label of a finished run.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "scored"
	case errors.Is(err, ErrNoEvents):
		return "no_data"
	case errors.Is(err, ErrPipelineBusy):
		return "busy"
	case IsNotFound(err):
		return "not_found"
	case IsSchemaMismatch(err):
		return "schema_mismatch"
	case IsModelLoad(err):
		return "model_unavailable"
	case IsNonNumeric(err):
		return "non_numeric"
	case IsUpstream(err):
		return "upstream_error"
	default:
		return "error"
	}
}

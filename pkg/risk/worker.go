package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/predict-mdr/platform/pkg/common/kafka"
	"github.com/predict-mdr/platform/pkg/common/models"
)

// HandleEvent runs an assessment for a prediction.requested event. Errors
// that another attempt cannot fix are marked with kafka.ErrSkip so the
// consumer neither retries nor parks the event.
func (s *Service) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != EventRequested {
		return kafka.ErrSkip
	}
	patientID, _ := event.Data["patient_id"].(string)
	if patientID == "" {
		return fmt.Errorf("event %s has no patient_id: %w", event.ID, kafka.ErrSkip)
	}

	_, err := s.Assess(ctx, patientID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPipelineBusy), IsNotFound(err), IsSchemaMismatch(err), IsModelLoad(err), IsNonNumeric(err):
		return fmt.Errorf("%v: %w", err, kafka.ErrSkip)
	default:
		return err
	}
}

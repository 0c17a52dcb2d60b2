package features

import (
	"github.com/predict-mdr/platform/pkg/common/models"
)

// RawEventRecord holds the declared data values of one tracker event.
type RawEventRecord struct {
	EventID string
	Values  map[string]models.Value
}

// ProcessedEventRecord has every schema column present.
type ProcessedEventRecord struct {
	EventID string
	Values  map[string]models.Value
}

// EncodedEventRecord carries integer codes for every categorical column.
type EncodedEventRecord struct {
	EventID string
	Codes   map[string]int
	Numeric map[string]models.Value
}

// ScaledEventRecord carries standardised, non-negative numeric columns.
type ScaledEventRecord struct {
	EventID string
	Codes   map[string]int
	Numeric map[string]float64
}

// FeatureVector is the model input for one event, in schema order.
type FeatureVector []float64

// Report collects recoverable data-quality conditions seen while building
// vectors. A nil *Report discards them.
type Report struct {
	UnseenCategories []string
	ParseFailures    []string
}

func (r *Report) unseen(eventID, col, value string) {
	if r == nil {
		return
	}
	r.UnseenCategories = append(r.UnseenCategories, eventID+"/"+col+"="+value)
}

func (r *Report) parseFailure(eventID, col, value string) {
	if r == nil {
		return
	}
	r.ParseFailures = append(r.ParseFailures, eventID+"/"+col+"="+value)
}

func (r *Report) Diagnostics() models.Diagnostics {
	if r == nil {
		return models.Diagnostics{}
	}
	return models.Diagnostics{
		UnseenCategories: append([]string(nil), r.UnseenCategories...),
		ParseFailures:    append([]string(nil), r.ParseFailures...),
	}
}

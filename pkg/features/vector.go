package features

import (
	"fmt"
	"math"
)

// NonNumericFeatureError signals a value that cannot enter the model, such
// as NaN or an infinity produced by a zero scale.
type NonNumericFeatureError struct {
	EventID string
	Column  string
	Value   float64
}

func (e *NonNumericFeatureError) Error() string {
	return fmt.Sprintf("event %s: column %s has non-numeric value %v", e.EventID, e.Column, e.Value)
}

// Assemble flattens a scaled record into schema order.
func Assemble(rec ScaledEventRecord, schema *Schema) (FeatureVector, error) {
	vec := make(FeatureVector, 0, schema.Width())
	for _, col := range schema.Categorical {
		vec = append(vec, float64(rec.Codes[col]))
	}
	for _, col := range schema.Numeric {
		v := rec.Numeric[col]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &NonNumericFeatureError{EventID: rec.EventID, Column: col, Value: v}
		}
		vec = append(vec, v)
	}
	return vec, nil
}

// Builder runs normalize -> encode -> scale -> assemble with one set of
// artifacts.
type Builder struct {
	Schema  *Schema
	Encoder LabelEncoder
	Scaler  Scaler
}

// Vectors builds one vector per extracted event. It fails before touching
// any event when the scaler does not cover the schema.
func (b Builder) Vectors(ex Extraction, report *Report) ([]string, []FeatureVector, error) {
	if missing := b.Scaler.MissingColumns(b.Schema); len(missing) > 0 {
		return nil, nil, &MissingScalerError{Columns: missing}
	}
	ids := make([]string, 0, ex.Len())
	vectors := make([]FeatureVector, 0, ex.Len())
	for _, processed := range NormalizeAll(ex, b.Schema) {
		encoded := Encode(processed, b.Schema, b.Encoder, report)
		scaled, err := Scale(encoded, b.Schema, b.Scaler, report)
		if err != nil {
			return nil, nil, err
		}
		vec, err := Assemble(scaled, b.Schema)
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, processed.EventID)
		vectors = append(vectors, vec)
	}
	return ids, vectors, nil
}

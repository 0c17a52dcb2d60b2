package features

import (
	"fmt"
	"math"

	"github.com/predict-mdr/platform/pkg/common/models"
)

// MissingScalerError reports numeric columns the scaler does not cover.
type MissingScalerError struct {
	Columns []string
}

func (e *MissingScalerError) Error() string {
	return fmt.Sprintf("scaler missing numeric columns %v", e.Columns)
}

// Scale applies max(0, (v-mean)/scale) to every numeric column. Text values
// are parsed first and count as 0 when unparseable.
func Scale(rec EncodedEventRecord, schema *Schema, sc Scaler, report *Report) (ScaledEventRecord, error) {
	if missing := sc.MissingColumns(schema); len(missing) > 0 {
		return ScaledEventRecord{}, &MissingScalerError{Columns: missing}
	}
	out := ScaledEventRecord{
		EventID: rec.EventID,
		Codes:   rec.Codes,
		Numeric: make(map[string]float64, len(schema.Numeric)),
	}
	for _, col := range schema.Numeric {
		params := sc[col]
		x := numericValue(rec.EventID, col, rec.Numeric[col], report)
		out.Numeric[col] = math.Max(0, (x-params.Mean)/params.Scale)
	}
	return out, nil
}

func numericValue(eventID, col string, v models.Value, report *Report) float64 {
	switch v.Kind {
	case models.Number:
		return v.Num
	case models.Text:
		if f, ok := ParseLeadingFloat(v.Str); ok {
			return f
		}
		report.parseFailure(eventID, col, v.Str)
	}
	return 0
}

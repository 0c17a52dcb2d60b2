package features

import "github.com/predict-mdr/platform/pkg/common/models"

// Normalize returns a record holding every schema column. Columns missing
// from raw, or present but absent, default to numeric zero. A nil raw
// record yields an all-zero record.
func Normalize(eventID string, raw *RawEventRecord, schema *Schema) ProcessedEventRecord {
	values := make(map[string]models.Value, schema.Width())
	for _, col := range schema.Columns() {
		values[col] = models.NumberValue(0)
	}
	if raw != nil {
		if eventID == "" {
			eventID = raw.EventID
		}
		for col, v := range raw.Values {
			if !schema.Declares(col) || v.IsAbsent() {
				continue
			}
			values[col] = v
		}
	}
	return ProcessedEventRecord{EventID: eventID, Values: values}
}

// NormalizeAll normalizes every extracted event, preserving order.
func NormalizeAll(ex Extraction, schema *Schema) []ProcessedEventRecord {
	out := make([]ProcessedEventRecord, 0, ex.Len())
	for i := range ex.Events {
		out = append(out, Normalize(ex.Events[i].EventID, &ex.Events[i], schema))
	}
	return out
}

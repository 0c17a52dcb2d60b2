package features

import "github.com/predict-mdr/platform/pkg/common/models"

// UnseenCode is substituted for categories missing from a column's mapping.
// It can coincide with a real class code.
const UnseenCode = 0

// Encode replaces every categorical value with its integer code. Values are
// looked up by their string form, so a defaulted zero is looked up as "0".
func Encode(rec ProcessedEventRecord, schema *Schema, enc LabelEncoder, report *Report) EncodedEventRecord {
	out := EncodedEventRecord{
		EventID: rec.EventID,
		Codes:   make(map[string]int, len(schema.Categorical)),
		Numeric: make(map[string]models.Value, len(schema.Numeric)),
	}
	for _, col := range schema.Categorical {
		v := rec.Values[col]
		code, ok := lookup(enc, col, v)
		if !ok {
			code = UnseenCode
			if v.Kind == models.Text {
				report.unseen(rec.EventID, col, v.Str)
			}
		}
		out.Codes[col] = code
	}
	for _, col := range schema.Numeric {
		out.Numeric[col] = rec.Values[col]
	}
	return out
}

func lookup(enc LabelEncoder, col string, v models.Value) (int, bool) {
	ce, ok := enc[col]
	if !ok || v.IsAbsent() {
		return 0, false
	}
	code, ok := ce.Mapping[v.String()]
	return code, ok
}

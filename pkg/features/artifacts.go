package features

import (
	"encoding/json"
	"fmt"
	"math"
)

// ColumnEncoder is the label mapping of one categorical column.
type ColumnEncoder struct {
	Classes []string       `json:"classes"`
	Mapping map[string]int `json:"mapping"`
}

// LabelEncoder maps categorical column ids to their label mapping. It is
// immutable once loaded.
type LabelEncoder map[string]ColumnEncoder

// ColumnScaler holds the standardisation parameters of one numeric column.
type ColumnScaler struct {
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// Scaler maps numeric column ids to their standardisation parameters.
type Scaler map[string]ColumnScaler

// ParseLabelEncoder decodes {col: {classes: [...], mapping: {raw: code}}}.
// When a column carries classes but no mapping, codes follow class order.
func ParseLabelEncoder(data []byte) (LabelEncoder, error) {
	var raw map[string]struct {
		Classes []string           `json:"classes"`
		Mapping map[string]float64 `json:"mapping"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode label encoder: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("label encoder is empty")
	}
	enc := make(LabelEncoder, len(raw))
	for col, entry := range raw {
		ce := ColumnEncoder{Classes: entry.Classes, Mapping: make(map[string]int, len(entry.Mapping))}
		for k, code := range entry.Mapping {
			if code != math.Trunc(code) {
				return nil, fmt.Errorf("label encoder %s: code %v for %q is not an integer", col, code, k)
			}
			ce.Mapping[k] = int(code)
		}
		if len(ce.Mapping) == 0 {
			for i, class := range entry.Classes {
				ce.Mapping[class] = i
			}
		}
		enc[col] = ce
	}
	return enc, nil
}

// ParseScaler decodes {col: {mean, scale}}.
func ParseScaler(data []byte) (Scaler, error) {
	var raw map[string]*struct {
		Mean  *float64 `json:"mean"`
		Scale *float64 `json:"scale"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("scaler is empty")
	}
	sc := make(Scaler, len(raw))
	for col, entry := range raw {
		if entry == nil || entry.Mean == nil || entry.Scale == nil {
			return nil, fmt.Errorf("scaler %s: mean and scale are required", col)
		}
		sc[col] = ColumnScaler{Mean: *entry.Mean, Scale: *entry.Scale}
	}
	return sc, nil
}

// MissingColumns lists numeric schema columns without scaler parameters.
func (s Scaler) MissingColumns(schema *Schema) []string {
	var missing []string
	for _, col := range schema.Numeric {
		if _, ok := s[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

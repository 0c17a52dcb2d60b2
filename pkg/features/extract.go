package features

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/predict-mdr/platform/pkg/common/models"
)

// Extraction is the per-event view of one tracked entity, in
// enrollment/event order.
type Extraction struct {
	Events []RawEventRecord
	byID   map[string]int
}

func (e Extraction) Len() int { return len(e.Events) }

func (e Extraction) Get(eventID string) (RawEventRecord, bool) {
	idx, ok := e.byID[eventID]
	if !ok {
		return RawEventRecord{}, false
	}
	return e.Events[idx], true
}

// Extract walks enrollments -> events -> dataValues and keeps the values of
// declared columns. Numeric columns are parsed (0 on failure), categorical
// columns keep the raw string. Events sharing an id are merged.
func Extract(entity *models.TrackedEntity, schema *Schema, report *Report) Extraction {
	out := Extraction{byID: map[string]int{}}
	if entity == nil {
		return out
	}
	for ei, enrollment := range entity.Enrollments {
		for vi, event := range enrollment.Events {
			eventID := event.Event
			if eventID == "" {
				eventID = fmt.Sprintf("enrollment-%d/event-%d", ei, vi)
			}
			idx, seen := out.byID[eventID]
			if !seen {
				idx = len(out.Events)
				out.byID[eventID] = idx
				out.Events = append(out.Events, RawEventRecord{EventID: eventID, Values: map[string]models.Value{}})
			}
			record := out.Events[idx]
			for _, dv := range event.DataValues {
				switch {
				case schema.IsNumeric(dv.DataElement):
					record.Values[dv.DataElement] = models.NumberValue(parseNumeric(eventID, dv.DataElement, dv.Value, report))
				case schema.IsCategorical(dv.DataElement):
					record.Values[dv.DataElement] = dv.Value
				}
			}
		}
	}
	return out
}

func parseNumeric(eventID, col string, v models.Value, report *Report) float64 {
	switch v.Kind {
	case models.Number:
		return v.Num
	case models.Text:
		if f, ok := ParseLeadingFloat(v.Str); ok {
			return f
		}
		if strings.TrimSpace(v.Str) != "" {
			report.parseFailure(eventID, col, v.Str)
		}
	}
	return 0
}

var leadingFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParseLeadingFloat parses the longest numeric prefix of s after leading
// whitespace, so "12.5 kg" yields 12.5. "Infinity" is accepted as well.
func ParseLeadingFloat(s string) (float64, bool) {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	for _, inf := range []string{"Infinity", "+Infinity", "-Infinity"} {
		if strings.HasPrefix(s, inf) {
			f, _ := strconv.ParseFloat(strings.TrimPrefix(inf, "+"), 64)
			return f, true
		}
	}
	m := leadingFloat.FindString(s)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

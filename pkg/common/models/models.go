package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Event bus envelope
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // prediction.requested, prediction.completed, prediction.failed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// DHIS2 tracker payloads
type TrackedEntity struct {
	TrackedEntityInstance string       `json:"trackedEntityInstance"`
	OrgUnit               string       `json:"orgUnit,omitempty"`
	OrgUnitName           string       `json:"orgUnitName,omitempty"`
	Created               string       `json:"created,omitempty"`
	Attributes            []Attribute  `json:"attributes,omitempty"`
	Enrollments           []Enrollment `json:"enrollments,omitempty"`
	Geometry              *Geometry    `json:"geometry,omitempty"`
}

type Attribute struct {
	Attribute   string `json:"attribute"`
	DisplayName string `json:"displayName,omitempty"`
	Value       string `json:"value"`
}

type Enrollment struct {
	Enrollment  string         `json:"enrollment,omitempty"`
	OrgUnit     string         `json:"orgUnit,omitempty"`
	OrgUnitName string         `json:"orgUnitName,omitempty"`
	Events      []TrackerEvent `json:"events,omitempty"`
}

// TrackerEvent is a single data-collection event of an enrollment.
type TrackerEvent struct {
	Event        string      `json:"event"`
	EventDate    string      `json:"eventDate,omitempty"`
	ProgramStage string      `json:"programStage,omitempty"`
	DataValues   []DataValue `json:"dataValues,omitempty"`
}

type DataValue struct {
	DataElement string `json:"dataElement"`
	Value       Value  `json:"value"`
}

// Geometry is a GeoJSON geometry. Coordinates stay raw because polygons nest
// deeper than points.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
}

// Point returns the longitude and latitude of a Point geometry.
func (g *Geometry) Point() (lng, lat float64, ok bool) {
	if g == nil || !strings.EqualFold(g.Type, "Point") || len(g.Coordinates) == 0 {
		return 0, 0, false
	}
	var pair []float64
	if err := json.Unmarshal(g.Coordinates, &pair); err != nil || len(pair) < 2 {
		return 0, 0, false
	}
	return pair[0], pair[1], true
}

type TrackedEntityPage struct {
	TrackedEntityInstances []TrackedEntity `json:"trackedEntityInstances"`
	Pager                  *Pager          `json:"pager,omitempty"`
}

type Pager struct {
	Page      int `json:"page"`
	PageSize  int `json:"pageSize"`
	PageCount int `json:"pageCount"`
	Total     int `json:"total"`
}

type DataElement struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

type OrgUnit struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Geometry *Geometry `json:"geometry,omitempty"`
}

// Patient views
type PatientSummary struct {
	TrackedEntityInstance string `json:"trackedEntityInstance"`
	DisplayName           string `json:"displayName"`
	TBNumber              string `json:"tbNumber"`
	NationalID            string `json:"nationalId"`
	OrgUnitName           string `json:"orgUnitName"`
	Created               string `json:"created"`
}

type PatientDetails struct {
	PatientSummary
	OrgUnit    string            `json:"orgUnit"`
	Attributes map[string]string `json:"attributes"`
	DataValues []DataValueRow    `json:"dataValues"`
	Location   *Coordinate       `json:"location,omitempty"`
}

type DataValueRow struct {
	Event       string `json:"event"`
	DataElement string `json:"dataElement"`
	Value       string `json:"value"`
}

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Risk assessment
type FeatureContribution struct {
	FeatureID   string  `json:"featureId"`
	DisplayName string  `json:"displayName"`
	Importance  float64 `json:"importance"`
}

type EventPrediction struct {
	EventID     string  `json:"eventId"`
	Probability float64 `json:"probability"`
}

type Diagnostics struct {
	UnseenCategories []string `json:"unseenCategories,omitempty"`
	ParseFailures    []string `json:"parseFailures,omitempty"`
}

type RiskAssessment struct {
	RunID          string                `json:"runId"`
	PatientID      string                `json:"patientId"`
	Status         string                `json:"status"` // scored, no_data
	Events         []EventPrediction     `json:"events"`
	Average        float64               `json:"average"`
	Positive       bool                  `json:"positive"`
	Classification string                `json:"classification"`
	Contributions  []FeatureContribution `json:"contributions"`
	Diagnostics    Diagnostics           `json:"diagnostics"`
	ModelVersion   string                `json:"modelVersion"`
	Latency        time.Duration         `json:"latency"`
	CompletedAt    time.Time             `json:"completedAt"`
}

// Hotspots
type HeatPoint [3]float64

type Hotspots struct {
	Points   []HeatPoint `json:"points"`
	Clusters []int       `json:"clusters"`
	Count    int         `json:"count"`
}

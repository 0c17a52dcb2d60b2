// Package patients builds the list, search and detail views of tracked
// entities.
package patients

import (
	"context"
	"errors"
	"strings"

	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/predict-mdr/platform/pkg/dhis2"
	"github.com/predict-mdr/platform/pkg/hotspot"
)

const UnknownPatient = "Unknown Patient"

// ErrNotFound is returned for unknown patients.
var ErrNotFound = errors.New("patient not found")

type Directory interface {
	GetTrackedEntity(ctx context.Context, id string) (*models.TrackedEntity, error)
	ListTrackedEntities(ctx context.Context, page, pageSize int) (*models.TrackedEntityPage, error)
	SearchTrackedEntities(ctx context.Context, term string) ([]models.TrackedEntity, error)
	GetOrgUnit(ctx context.Context, id string) (*models.OrgUnit, error)
}

func attributeValues(te models.TrackedEntity) map[string]string {
	out := make(map[string]string, len(te.Attributes))
	for _, a := range te.Attributes {
		out[a.Attribute] = strings.TrimSpace(a.Value)
	}
	return out
}

// DisplayName is the patient name attribute, else first and last name, else
// UnknownPatient.
func DisplayName(te models.TrackedEntity) string {
	attrs := attributeValues(te)
	if name := attrs[dhis2.AttrPatientName]; name != "" {
		return name
	}
	if full := strings.TrimSpace(attrs[dhis2.AttrFirstName] + " " + attrs[dhis2.AttrLastName]); full != "" {
		return full
	}
	return UnknownPatient
}

func Summarize(te models.TrackedEntity) models.PatientSummary {
	attrs := attributeValues(te)
	return models.PatientSummary{
		TrackedEntityInstance: te.TrackedEntityInstance,
		DisplayName:           DisplayName(te),
		TBNumber:              attrs[dhis2.AttrTBNumber],
		NationalID:            attrs[dhis2.AttrNationalID],
		OrgUnitName:           te.OrgUnitName,
		Created:               te.Created,
	}
}

func SummarizeAll(entities []models.TrackedEntity) []models.PatientSummary {
	out := make([]models.PatientSummary, 0, len(entities))
	for _, te := range entities {
		out = append(out, Summarize(te))
	}
	return out
}

// Details flattens attributes (keyed by display name when known) and every
// data value of every event.
func Details(te models.TrackedEntity) models.PatientDetails {
	d := models.PatientDetails{
		PatientSummary: Summarize(te),
		OrgUnit:        te.OrgUnit,
		Attributes:     make(map[string]string, len(te.Attributes)),
		DataValues:     []models.DataValueRow{},
	}
	for _, a := range te.Attributes {
		key := a.DisplayName
		if key == "" {
			key = a.Attribute
		}
		d.Attributes[key] = a.Value
	}
	for _, en := range te.Enrollments {
		if d.OrgUnit == "" {
			d.OrgUnit = en.OrgUnit
		}
		if d.OrgUnitName == "" {
			d.OrgUnitName = en.OrgUnitName
		}
		for _, ev := range en.Events {
			for _, dv := range ev.DataValues {
				if dv.Value.IsAbsent() {
					continue
				}
				d.DataValues = append(d.DataValues, models.DataValueRow{
					Event:       ev.Event,
					DataElement: dv.DataElement,
					Value:       dv.Value.String(),
				})
			}
		}
	}
	if c, ok := hotspot.Locate(te); ok {
		d.Location = &c
	}
	return d
}

type Service struct {
	directory Directory
}

func NewService(directory Directory) *Service {
	return &Service{directory: directory}
}

func (s *Service) List(ctx context.Context, page, pageSize int) ([]models.PatientSummary, *models.Pager, error) {
	res, err := s.directory.ListTrackedEntities(ctx, page, pageSize)
	if err != nil {
		return nil, nil, err
	}
	return SummarizeAll(res.TrackedEntityInstances), res.Pager, nil
}

func (s *Service) Search(ctx context.Context, term string) ([]models.PatientSummary, error) {
	found, err := s.directory.SearchTrackedEntities(ctx, term)
	if err != nil {
		return nil, err
	}
	return SummarizeAll(found), nil
}

// Get returns the detail view. Without a patient position the org unit's
// point, when it has one, stands in for the map.
func (s *Service) Get(ctx context.Context, id string) (*models.PatientDetails, error) {
	te, err := s.directory.GetTrackedEntity(ctx, id)
	if errors.Is(err, dhis2.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d := Details(*te)
	if d.Location == nil && d.OrgUnit != "" {
		ou, err := s.directory.GetOrgUnit(ctx, d.OrgUnit)
		if err != nil {
			logger.Log.WithError(err).WithField("org_unit", d.OrgUnit).Warn("org unit lookup failed")
			return &d, nil
		}
		if d.OrgUnitName == "" {
			d.OrgUnitName = ou.Name
		}
		if lng, lat, ok := ou.Geometry.Point(); ok {
			d.Location = &models.Coordinate{Lat: lat, Lng: lng}
		}
	}
	return &d, nil
}

// Package hotspot turns patient locations into heatmap points and density
// clusters.
package hotspot

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/common/models"
)

// GISAttribute is the display name of the coordinates attribute.
const GISAttribute = "GIS Coordinates"

const earthRadiusKm = 6371.0088

// Locate reads a patient's position from the GIS attribute ("[lng, lat]"),
// falling back to a Point geometry.
func Locate(entity models.TrackedEntity) (models.Coordinate, bool) {
	for _, attr := range entity.Attributes {
		if attr.DisplayName != GISAttribute {
			continue
		}
		var pair []float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(attr.Value)), &pair); err != nil || len(pair) < 2 {
			logger.Log.WithField("patient_id", entity.TrackedEntityInstance).Debug("invalid GIS coordinates")
			break
		}
		if c := (models.Coordinate{Lat: pair[1], Lng: pair[0]}); valid(c) {
			return c, true
		}
		break
	}
	if lng, lat, ok := entity.Geometry.Point(); ok {
		if c := (models.Coordinate{Lat: lat, Lng: lng}); valid(c) {
			return c, true
		}
	}
	return models.Coordinate{}, false
}

func valid(c models.Coordinate) bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lng) &&
		c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Coordinates locates every entity, skipping those without a position.
func Coordinates(entities []models.TrackedEntity) []models.Coordinate {
	out := make([]models.Coordinate, 0, len(entities))
	for _, te := range entities {
		if c, ok := Locate(te); ok {
			out = append(out, c)
		}
	}
	return out
}

// HeatPoints renders [lat, lng, intensity] triples with unit intensity.
func HeatPoints(coords []models.Coordinate) []models.HeatPoint {
	out := make([]models.HeatPoint, len(coords))
	for i, c := range coords {
		out[i] = models.HeatPoint{c.Lat, c.Lng, 1}
	}
	return out
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(a, b models.Coordinate) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Noise labels points outside every cluster.
const Noise = -1

// DBSCAN clusters coords; labels are cluster ids from 0, or Noise. A point
// counts itself towards minPoints.
func DBSCAN(coords []models.Coordinate, epsKm float64, minPoints int) []int {
	const unvisited = -2
	labels := make([]int, len(coords))
	for i := range labels {
		labels[i] = unvisited
	}
	neighbours := func(i int) []int {
		var out []int
		for j := range coords {
			if Haversine(coords[i], coords[j]) <= epsKm {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := range coords {
		if labels[i] != unvisited {
			continue
		}
		seeds := neighbours(i)
		if len(seeds) < minPoints {
			labels[i] = Noise
			continue
		}
		labels[i] = cluster
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == Noise {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			if more := neighbours(j); len(more) >= minPoints {
				seeds = append(seeds, more...)
			}
		}
		cluster++
	}
	return labels
}

// Build computes the hotspot layer of entities.
func Build(entities []models.TrackedEntity, epsKm float64, minPoints int) models.Hotspots {
	coords := Coordinates(entities)
	labels := DBSCAN(coords, epsKm, minPoints)
	clusters := 0
	for _, l := range labels {
		if l+1 > clusters {
			clusters = l + 1
		}
	}
	return models.Hotspots{
		Points:   HeatPoints(coords),
		Clusters: labels,
		Count:    clusters,
	}
}

// Source lists patients with their locations.
type Source interface {
	ListCoordinates(ctx context.Context) ([]models.TrackedEntity, error)
}

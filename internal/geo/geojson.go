package geo

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/agritrace/fieldmap/internal/model"
)

// Ring converts boundary points into a closed orb ring (first point repeated
// at the end), the form GeoJSON polygons require.
func Ring(points []model.BoundaryPoint) orb.Ring {
	ring := make(orb.Ring, 0, len(points)+1)
	for _, p := range points {
		ring = append(ring, orb.Point{p.Longitude, p.Latitude})
	}
	if len(ring) > 0 && !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring
}

// Feature builds a GeoJSON polygon feature for a mapping. Mappings with
// fewer than three points cannot form a polygon and are rejected.
func Feature(m model.BoundaryMapping) (*geojson.Feature, error) {
	if len(m.Points) < MinPolygonPoints {
		return nil, fmt.Errorf("boundary %s has %d points, need at least %d for a polygon",
			m.ID, len(m.Points), MinPolygonPoints)
	}

	f := geojson.NewFeature(orb.Polygon{Ring(m.Points)})
	f.ID = m.ID
	f.Properties["name"] = m.Name
	f.Properties["area_ha"] = m.Area
	f.Properties["perimeter_m"] = m.Perimeter
	f.Properties["accuracy_level"] = string(m.AccuracyLevel)
	f.Properties["status"] = string(m.Status)
	f.Properties["point_count"] = len(m.Points)
	f.Properties["created_at"] = m.CreatedAt.UTC().Format(time.RFC3339)
	if m.CompletedAt != nil {
		f.Properties["completed_at"] = m.CompletedAt.UTC().Format(time.RFC3339)
	}
	if c, ok := Centroid(m.Points); ok {
		f.Properties["centroid"] = []float64{c.Lng, c.Lat}
	}

	return f, nil
}

// MarshalFeature renders the mapping as GeoJSON bytes.
func MarshalFeature(m model.BoundaryMapping) ([]byte, error) {
	f, err := Feature(m)
	if err != nil {
		return nil, err
	}
	data, err := f.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode geojson: %w", err)
	}
	return data, nil
}

package geo

import (
	"math"

	"github.com/agritrace/fieldmap/internal/model"
)

const (
	// MetersPerDegree is the length of one degree of latitude used by the
	// square-degree to square-metre conversion.
	MetersPerDegree = 111319.9

	// ReferenceLatitude is the nominal deployment latitude (degrees) at which
	// longitude degrees are scaled. Area figures are a small-parcel planar
	// approximation that degrades away from this latitude.
	ReferenceLatitude = 7.0

	// MinPolygonPoints is the smallest point count that forms a polygon.
	MinPolygonPoints = 3

	squareMetersPerHectare = 10000.0
)

// Metrics are the figures derived from a boundary's points.
type Metrics struct {
	Area          float64 // hectares
	Perimeter     float64 // metres
	AccuracyLevel model.AccuracyLevel
}

// ComputeMetrics derives area, perimeter and accuracy class from points,
// which must already be ordered by Order. Fewer than three points yield
// zero area, zero perimeter and poor accuracy.
func ComputeMetrics(points []model.BoundaryPoint) Metrics {
	if len(points) < MinPolygonPoints {
		return Metrics{AccuracyLevel: model.AccuracyPoor}
	}

	var accuracySum float64
	for _, p := range points {
		accuracySum += p.Accuracy
	}

	return Metrics{
		Area:          PolygonArea(points),
		Perimeter:     Perimeter(points),
		AccuracyLevel: ClassifyAccuracy(accuracySum / float64(len(points))),
	}
}

// PolygonArea applies the shoelace formula over (lon, lat) pairs and
// converts the result from square degrees to hectares.
func PolygonArea(points []model.BoundaryPoint) float64 {
	n := len(points)
	if n < MinPolygonPoints {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += points[i].Longitude * points[j].Latitude
		sum -= points[j].Longitude * points[i].Latitude
	}
	squareDegrees := math.Abs(sum) / 2

	return squareDegrees * MetersPerDegree * MetersPerDegree *
		math.Cos(toRadians(ReferenceLatitude)) / squareMetersPerHectare
}

// Perimeter sums the haversine length of all n edges, including the closing
// edge from the last point back to the first.
func Perimeter(points []model.BoundaryPoint) float64 {
	n := len(points)
	if n < MinPolygonPoints {
		return 0
	}

	var total float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		total += HaversineDistance(
			LatLng{Lat: points[i].Latitude, Lng: points[i].Longitude},
			LatLng{Lat: points[j].Latitude, Lng: points[j].Longitude},
		)
	}
	return total
}

// ClassifyAccuracy maps a mean accuracy in metres to an accuracy level.
// Thresholds are inclusive: 2, 5 and 10 metres.
func ClassifyAccuracy(mean float64) model.AccuracyLevel {
	switch {
	case mean <= 2:
		return model.AccuracyExcellent
	case mean <= 5:
		return model.AccuracyGood
	case mean <= 10:
		return model.AccuracyFair
	default:
		return model.AccuracyPoor
	}
}

// PointsFromLatLng converts bare coordinate pairs to ordered boundary points
// with the given accuracy, so plot outlines can be measured like boundaries.
func PointsFromLatLng(coords []model.LatLng, accuracy float64) []model.BoundaryPoint {
	out := make([]model.BoundaryPoint, len(coords))
	for i, c := range coords {
		out[i] = model.BoundaryPoint{Latitude: c.Lat, Longitude: c.Lng, Accuracy: accuracy, Order: i + 1}
	}
	return out
}

// Package geo implements the coordinate primitives and polygon metrics used
// for land boundary measurement.
package geo

import (
	"fmt"
	"math"
)

// EarthRadius is the mean Earth radius in metres used by HaversineDistance.
const EarthRadius = 6371000.0

// LatLng is a geographic position in decimal degrees.
type LatLng struct {
	Lat float64
	Lng float64
}

// IsValidCoordinate reports whether lat is within [-90, 90] and lng within [-180, 180].
func IsValidCoordinate(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// HaversineDistance returns the great-circle distance in metres between a and b.
// Both positions must satisfy IsValidCoordinate.
func HaversineDistance(a, b LatLng) float64 {
	phi1 := toRadians(a.Lat)
	phi2 := toRadians(b.Lat)
	dPhi := toRadians(b.Lat - a.Lat)
	dLambda := toRadians(b.Lng - a.Lng)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadius * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// FormatDMS renders a latitude or longitude as degrees, minutes and seconds,
// e.g. 6°25'41.16"N. isLat selects the N/S or E/W hemisphere suffix.
func FormatDMS(value float64, isLat bool) string {
	var dir string
	switch {
	case isLat && value >= 0:
		dir = "N"
	case isLat:
		dir = "S"
	case value >= 0:
		dir = "E"
	default:
		dir = "W"
	}

	abs := math.Abs(value)
	degrees := math.Floor(abs)
	minutes := math.Floor((abs - degrees) * 60)
	seconds := math.Round(((abs-degrees)*60-minutes)*60*100) / 100

	return fmt.Sprintf("%d°%d'%s\"%s", int(degrees), int(minutes), trimFloat(seconds), dir)
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}

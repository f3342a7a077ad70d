package geo

import (
	"github.com/paulmach/orb"

	"github.com/agritrace/fieldmap/internal/model"
)

// LiberiaBound is the approximate bounding box of Liberia.
var LiberiaBound = orb.Bound{
	Min: orb.Point{-11.49, 4.35},
	Max: orb.Point{-7.37, 8.55},
}

// InLiberia reports whether the position falls inside LiberiaBound.
func InLiberia(lat, lng float64) bool {
	return LiberiaBound.Contains(orb.Point{lng, lat})
}

// County returns a coarse Liberian county guess for the position, or ""
// when it lies outside the country. The bands are rough and only meant to
// pre-fill registration forms.
func County(lat, lng float64) string {
	if !InLiberia(lat, lng) {
		return ""
	}

	switch {
	case lat > 7.5:
		return "Lofa"
	case lat > 7.0 && lng > -9.5:
		return "Gbarpolu"
	case lat > 6.5 && lng > -9.0:
		return "Bong"
	case lat > 6.0 && lng > -8.5:
		return "Nimba"
	case lat > 5.5:
		return "Grand Gedeh"
	case lng < -10.0:
		return "Grand Cape Mount"
	case lng < -9.5:
		return "Montserrado"
	}
	return "Unknown County"
}

// Centroid returns the arithmetic mean of the boundary vertices.
// ok is false for an empty point list.
func Centroid(points []model.BoundaryPoint) (c LatLng, ok bool) {
	if len(points) == 0 {
		return LatLng{}, false
	}
	for _, p := range points {
		c.Lat += p.Latitude
		c.Lng += p.Longitude
	}
	n := float64(len(points))
	c.Lat /= n
	c.Lng /= n
	return c, true
}

// Bounds returns the bounding box of the boundary vertices.
func Bounds(points []model.BoundaryPoint) orb.Bound {
	mp := make(orb.MultiPoint, 0, len(points))
	for _, p := range points {
		mp = append(mp, orb.Point{p.Longitude, p.Latitude})
	}
	return mp.Bound()
}

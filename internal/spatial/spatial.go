// Package spatial provides great-circle helpers for radius filtering.
package spatial

import (
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6371008.8

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Bounds is a lat/lon rectangle in degrees that fully contains a spherical
// cap. When the rectangle crosses the antimeridian MinLon > MaxLon.
type Bounds struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	// AllLongitudes is set when the cap covers a pole, in which case the
	// longitude edges carry no information.
	AllLongitudes bool
}

// CrossesAntimeridian reports whether the longitude range wraps.
func (b Bounds) CrossesAntimeridian() bool {
	return !b.AllLongitudes && b.MinLon > b.MaxLon
}

// RadiusBound returns the bounding rectangle of the cap of radius meters
// around (lat, lon). It is a cheap index prefilter; exact membership must
// still be decided by a distance check.
func RadiusBound(lat, lon, meters float64) Bounds {
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	c := s2.CapFromCenterAngle(center, s1.Angle(meters/EarthRadiusMeters))
	r := c.RectBound()
	return Bounds{
		MinLat:        s1.Angle(r.Lat.Lo).Degrees(),
		MaxLat:        s1.Angle(r.Lat.Hi).Degrees(),
		MinLon:        s1.Angle(r.Lng.Lo).Degrees(),
		MaxLon:        s1.Angle(r.Lng.Hi).Degrees(),
		AllLongitudes: r.Lng.IsFull(),
	}
}

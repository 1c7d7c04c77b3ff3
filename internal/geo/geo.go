// Package geo holds the spherical geometry used by the track pipeline.
// Coordinates are orb.Point values, which store longitude first.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// EarthRadius is the mean earth radius in meters used by every distance here.
const EarthRadius = 6371000.0

// Haversine returns the great-circle distance between two points in meters.
func Haversine(p1, p2 orb.Point) float64 {
	lat1Rad := p1.Lat() * math.Pi / 180
	lat2Rad := p2.Lat() * math.Pi / 180
	deltaLat := (p2.Lat() - p1.Lat()) * math.Pi / 180
	deltaLon := (p2.Lon() - p1.Lon()) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}

// CrossTrackDistance returns the absolute distance in meters from p to the
// great circle through start and end. When start and end coincide the
// distance to start is returned.
func CrossTrackDistance(p, start, end orb.Point) float64 {
	if start == end {
		return Haversine(p, start)
	}

	angular13 := Haversine(start, p) / EarthRadius
	bearing13 := orbgeo.Bearing(start, p) * math.Pi / 180
	bearing12 := orbgeo.Bearing(start, end) * math.Pi / 180

	xt := math.Asin(math.Sin(angular13) * math.Sin(bearing13-bearing12))
	return math.Abs(xt) * EarthRadius
}

// DegreesToMeters converts an arc expressed in degrees to meters on the
// EarthRadius sphere.
func DegreesToMeters(deg float64) float64 {
	return deg * math.Pi / 180 * EarthRadius
}

// Package geo holds the small amount of spherical math the retrievers,
// filter stage, and ranker share.
package geo

import "math"

const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance in meters between two
// coordinate pairs.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// IndiaBoundingBox is the declared country box business coordinates must
// fall in when present.
var IndiaBoundingBox = BoundingBox{
	MinLat: 6.5,
	MaxLat: 35.7,
	MinLng: 68.0,
	MaxLng: 97.5,
}

type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

func (b BoundingBox) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

package geo

import "math"

const earthRadiusKm = 6371.0088

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within WGS84 bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

func DistanceM(a, b Point) float64 {
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng) * 1000
}

// Offset moves p by the given metres north and east. Accurate enough for
// the short hops used when building paths.
func Offset(p Point, northM, eastM float64) Point {
	dLat := northM / (earthRadiusKm * 1000)
	dLng := eastM / (earthRadiusKm * 1000 * math.Cos(toRad(p.Lat)))
	return Point{Lat: p.Lat + dLat*180/math.Pi, Lng: p.Lng + dLng*180/math.Pi}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

package geo

import "math"

const earthRadiusKm = 6371.0

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64
	Lng float64
}

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceMeters returns the haversine distance between a and b in meters.
func DistanceMeters(a, b Coordinate) float64 {
	if a == b {
		return 0
	}
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng) * 1000
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

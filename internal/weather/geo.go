package weather

import "math"

const earthRadiusKm = 6371.0

// AnchorEpsilon is the coordinate tolerance (degrees, about 10 m) under which
// two positions are considered the same cache anchor.
const AnchorEpsilon = 1e-4

// Distance returns the haversine great-circle distance in kilometres.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180.0
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// SameAnchor reports whether a and b are within AnchorEpsilon on both axes.
func SameAnchor(a, b Coordinates) bool {
	return math.Abs(a.Lat-b.Lat) <= AnchorEpsilon && math.Abs(a.Lon-b.Lon) <= AnchorEpsilon
}

package geospatial

import "math"

const earthRadiusKm = 6371.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// Perimeter returns the length in meters of the closed loop through lats/lons.
// The closing edge is added when the loop is open.
func Perimeter(lats, lons []float64) float64 {
	n := len(lats)
	if n < 2 || len(lons) != n {
		return 0
	}
	total := 0.0
	for i := 1; i < n; i++ {
		total += Haversine(lats[i-1], lons[i-1], lats[i], lons[i])
	}
	if lats[0] != lats[n-1] || lons[0] != lons[n-1] {
		total += Haversine(lats[n-1], lons[n-1], lats[0], lons[0])
	}
	return total
}

// BoundingBox returns a bounding box around a point with the given radius in
// meters. Latitudes stop at the poles and longitudes at the antimeridian.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	latDelta := radiusMeters / 111320.0
	minLat = math.Max(-90, lat-latDelta)
	maxLat = math.Min(90, lat+latDelta)

	cos := math.Cos(toRad(lat))
	if cos < 1e-9 || minLat == -90 || maxLat == 90 {
		return minLat, -180, maxLat, 180
	}
	lonDelta := radiusMeters / (111320.0 * cos)
	return minLat, math.Max(-180, lon-lonDelta), maxLat, math.Min(180, lon+lonDelta)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

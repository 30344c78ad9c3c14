package wkt

import (
	"math"
	"strconv"
)

// Coordinate validity domain.
const (
	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 180.0
)

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ClampLat limits a latitude to [-90, 90].
func ClampLat(lat float64) float64 {
	return math.Max(MinLat, math.Min(MaxLat, lat))
}

// InDomain reports whether p lies inside the coordinate validity domain.
func InDomain(p Point) bool {
	return p.Lat >= MinLat && p.Lat <= MaxLat && p.Lon >= MinLon && p.Lon <= MaxLon
}

// parseField reads one coordinate field. strconv accepts "NaN" and "Inf",
// which are rejected here.
func parseField(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !isFinite(v) {
		return 0, false
	}
	return v, true
}

// formatNumber writes the shortest decimal form without an exponent.
func formatNumber(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Package wkt converts between Well-Known Text POLYGON/MULTIPOLYGON literals
// and the (lat, lon) coordinate model used by the rest of the service.
//
// WKT on the wire is (longitude latitude). Every axis swap happens inside this
// package, once per direction, so callers never reason about axis order.
package wkt

import (
	"encoding/json"
	"fmt"
)

// Point is a coordinate in internal axis order.
type Point struct {
	Lat float64
	Lon float64
}

// MarshalJSON encodes the point as a plain [lat, lon] pair.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lat, p.Lon})
}

// UnmarshalJSON accepts a [lat, lon] pair.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("point must have 2 values, got %d", len(pair))
	}
	p.Lat, p.Lon = pair[0], pair[1]
	return nil
}

// Ring is an ordered loop of points. It may or may not repeat its first point.
type Ring []Point

// Closed reports whether the last point equals the first one by value.
func (r Ring) Closed() bool {
	return len(r) > 0 && r[0] == r[len(r)-1]
}

// Close returns the ring with its first point appended when it is not
// already closed. The receiver is never modified.
func (r Ring) Close() Ring {
	if len(r) == 0 || r.Closed() {
		out := make(Ring, len(r))
		copy(out, r)
		return out
	}
	out := make(Ring, len(r), len(r)+1)
	copy(out, r)
	return append(out, r[0])
}

// PolygonWithHoles is an outer ring plus hole rings in source order.
type PolygonWithHoles struct {
	Outer Ring   `json:"outer"`
	Holes []Ring `json:"holes"`
}

// MultiPolygon is an ordered list of polygons.
type MultiPolygon struct {
	Polygons []PolygonWithHoles `json:"polygons"`
}

// Rings returns every ring of the geometry, outer rings first within each polygon.
func (m MultiPolygon) Rings() []Ring {
	var rings []Ring
	for _, p := range m.Polygons {
		rings = append(rings, p.Outer)
		rings = append(rings, p.Holes...)
	}
	return rings
}

// PointCount is the total number of points over all rings.
func (m MultiPolygon) PointCount() int {
	n := 0
	for _, r := range m.Rings() {
		n += len(r)
	}
	return n
}

package wkt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	kml "github.com/twpayne/go-kml"
)

var errEmptyGeometry = errors.New("wkt: geometry has no polygons")

// ToGeom converts to a go-geom XY multipolygon (x = lon, y = lat). Rings are
// closed on the way out since GeoJSON and KML both require it.
func ToGeom(m MultiPolygon) (*geom.MultiPolygon, error) {
	if len(m.Polygons) == 0 {
		return nil, errEmptyGeometry
	}
	coords := make([][][]geom.Coord, 0, len(m.Polygons))
	for _, p := range m.Polygons {
		rings := make([][]geom.Coord, 0, 1+len(p.Holes))
		rings = append(rings, geomRing(p.Outer))
		for _, h := range p.Holes {
			rings = append(rings, geomRing(h))
		}
		coords = append(coords, rings)
	}
	mp, err := geom.NewMultiPolygon(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, fmt.Errorf("build multipolygon: %w", err)
	}
	return mp, nil
}

func geomRing(r Ring) []geom.Coord {
	closed := r.Close()
	out := make([]geom.Coord, 0, len(closed))
	for _, p := range closed {
		out = append(out, geom.Coord{p.Lon, p.Lat})
	}
	return out
}

// GeoJSON returns the geometry as a GeoJSON MultiPolygon object.
func GeoJSON(m MultiPolygon) ([]byte, error) {
	g, err := ToGeom(m)
	if err != nil {
		return nil, err
	}
	return geojson.Marshal(g)
}

// Bounds returns the bounding box of all rings.
func Bounds(m MultiPolygon) (minLat, minLon, maxLat, maxLon float64, err error) {
	g, err := ToGeom(m)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	b := g.Bounds()
	return b.Min(1), b.Min(0), b.Max(1), b.Max(0), nil
}

// KML renders the geometry as a single placemark document.
func KML(name, description string, m MultiPolygon) ([]byte, error) {
	if len(m.Polygons) == 0 {
		return nil, errEmptyGeometry
	}
	polygons := make([]kml.Element, 0, len(m.Polygons))
	for _, p := range m.Polygons {
		children := []kml.Element{
			kml.OuterBoundaryIs(kml.LinearRing(kml.Coordinates(kmlCoords(p.Outer)...))),
		}
		for _, h := range p.Holes {
			children = append(children, kml.InnerBoundaryIs(kml.LinearRing(kml.Coordinates(kmlCoords(h)...))))
		}
		polygons = append(polygons, kml.Polygon(children...))
	}

	var shape kml.Element
	if len(polygons) == 1 {
		shape = polygons[0]
	} else {
		shape = kml.MultiGeometry(polygons...)
	}

	doc := kml.KML(kml.Placemark(
		kml.Name(name),
		kml.Description(description),
		shape,
	))
	var buf bytes.Buffer
	if err := doc.WriteIndent(&buf, "", "  "); err != nil {
		return nil, fmt.Errorf("write kml: %w", err)
	}
	return buf.Bytes(), nil
}

func kmlCoords(r Ring) []kml.Coordinate {
	closed := r.Close()
	out := make([]kml.Coordinate, 0, len(closed))
	for _, p := range closed {
		out = append(out, kml.Coordinate{Lon: p.Lon, Lat: p.Lat})
	}
	return out
}

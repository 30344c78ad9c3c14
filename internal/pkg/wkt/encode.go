package wkt

import (
	"fmt"
	"strings"
)

// WorldRing is the closed outer ring used for inverted encodings, in wire
// (lon lat) order. Its four corners span the whole coordinate domain.
const WorldRing = "-180 -90, 180 -90, 180 90, -180 90, -180 -90"

// Encode is the entry point for collaborators that hold plain ring data.
// With multi unset only rings[0] is encoded, optionally inverted. Inversion is
// not defined for multipolygons: combining both flags yields "".
func (c *Codec) Encode(rings []Ring, multi, inverted bool) string {
	if multi {
		if inverted {
			c.report(Anomaly{Kind: AnomalyUnsupportedMode, Detail: "inverted multipolygon encoding is not defined"})
			return ""
		}
		return c.EncodeRings(rings)
	}
	if len(rings) == 0 {
		return ""
	}
	return c.EncodeRing(rings[0], inverted)
}

// EncodeRing emits POLYGON ((ring)), or POLYGON ((world), (ring)) when
// inverted. Rings with fewer than 3 points encode to "".
func (c *Codec) EncodeRing(r Ring, inverted bool) string {
	body, ok := c.ringBody(r)
	if !ok {
		return ""
	}
	if inverted {
		return "POLYGON ((" + WorldRing + "), (" + body + "))"
	}
	return "POLYGON ((" + body + "))"
}

// EncodeRings emits one single-ring polygon per input ring inside a
// MULTIPOLYGON. Undersized rings are skipped; if none remain the result is "".
func (c *Codec) EncodeRings(rings []Ring) string {
	parts := make([]string, 0, len(rings))
	for _, r := range rings {
		body, ok := c.ringBody(r)
		if !ok {
			continue
		}
		parts = append(parts, "(("+body+"))")
	}
	if len(parts) == 0 {
		return ""
	}
	return "MULTIPOLYGON (" + strings.Join(parts, ", ") + ")"
}

// EncodePolygon emits a POLYGON with its holes. Undersized holes are skipped;
// an undersized outer ring yields "".
func (c *Codec) EncodePolygon(p PolygonWithHoles) string {
	body, ok := c.polygonBody(p)
	if !ok {
		return ""
	}
	return "POLYGON " + body
}

// EncodeMultiPolygon emits a MULTIPOLYGON with holes, or "" when no polygon
// has a valid outer ring.
func (c *Codec) EncodeMultiPolygon(m MultiPolygon) string {
	parts := make([]string, 0, len(m.Polygons))
	for _, p := range m.Polygons {
		if body, ok := c.polygonBody(p); ok {
			parts = append(parts, body)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "MULTIPOLYGON (" + strings.Join(parts, ", ") + ")"
}

// Normalize decodes text and re-encodes it: rings closed, whitespace and
// number formatting canonical, invalid elements gone. A single polygon stays
// a POLYGON.
func (c *Codec) Normalize(text string) (string, error) {
	if Keyword(text) == kwPolygon {
		p, err := c.ParsePolygon(text)
		if err != nil {
			return "", err
		}
		return c.EncodePolygon(*p), nil
	}
	mp, err := c.ParseGeometry(text)
	if err != nil {
		return "", err
	}
	return c.EncodeMultiPolygon(*mp), nil
}

func (c *Codec) polygonBody(p PolygonWithHoles) (string, bool) {
	outer, ok := c.ringBody(p.Outer)
	if !ok {
		return "", false
	}
	var sb strings.Builder
	sb.WriteString("((")
	sb.WriteString(outer)
	sb.WriteString(")")
	for _, h := range p.Holes {
		hole, ok := c.ringBody(h)
		if !ok {
			continue
		}
		sb.WriteString(", (")
		sb.WriteString(hole)
		sb.WriteString(")")
	}
	sb.WriteString(")")
	return sb.String(), true
}

// ringBody writes the closed ring as "lon lat, lon lat, ...".
func (c *Codec) ringBody(r Ring) (string, bool) {
	pts := make(Ring, 0, len(r)+1)
	for i, p := range r {
		if !isFinite(p.Lat) || !isFinite(p.Lon) {
			c.report(Anomaly{Kind: AnomalyNonFinitePoint, Offset: i, Detail: fmt.Sprintf("point %d is not finite", i)})
			continue
		}
		pts = append(pts, p)
	}
	if len(pts) < 3 {
		if len(r) > 0 {
			c.report(Anomaly{Kind: AnomalyRingTooShort, Detail: fmt.Sprintf("ring has %d usable points, need 3", len(pts))})
		}
		return "", false
	}
	pts = pts.Close()

	var sb strings.Builder
	for i, p := range pts {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(formatNumber(p.Lon))
		sb.WriteByte(' ')
		sb.WriteString(formatNumber(p.Lat))
	}
	return sb.String(), true
}

package wkt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var triangle = Ring{{Lat: 10, Lon: 30}, {Lat: 40, Lon: 40}, {Lat: 40, Lon: 20}}

func TestEncodeRing(t *testing.T) {
	assert.Equal(t, "POLYGON ((30 10, 40 40, 20 40, 30 10))", EncodeRing(triangle, false))
}

func TestEncodeRing_ClosureIdempotent(t *testing.T) {
	assert.Equal(t, EncodeRing(triangle, false), EncodeRing(triangle.Close(), false))
	assert.Len(t, triangle, 3, "input ring is not mutated")
}

func TestEncodeRing_Inverted(t *testing.T) {
	assert.Equal(t,
		"POLYGON ((-180 -90, 180 -90, 180 90, -180 90, -180 -90), (30 10, 40 40, 20 40, 30 10))",
		EncodeRing(triangle, true))
}

func TestEncodeRing_TooShort(t *testing.T) {
	c, anomalies := collectingCodec()
	assert.Equal(t, "", c.EncodeRing(Ring{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}, false))
	assert.Equal(t, "", c.EncodeRing(nil, true))
	assert.Equal(t, []AnomalyKind{AnomalyRingTooShort}, kinds(*anomalies))
}

func TestEncodeRing_NonFinitePointsDropped(t *testing.T) {
	c, anomalies := collectingCodec()
	r := Ring{{Lat: 0, Lon: 0}, {Lat: math.NaN(), Lon: 5}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: math.Inf(1)}, {Lat: 1, Lon: 1}}
	assert.Equal(t, "POLYGON ((0 0, 1 0, 1 1, 0 0))", c.EncodeRing(r, false))
	assert.Equal(t, []AnomalyKind{AnomalyNonFinitePoint, AnomalyNonFinitePoint}, kinds(*anomalies))
}

func TestEncodeRing_NumberFormatting(t *testing.T) {
	r := Ring{{Lat: 43.263012, Lon: -2.935037}, {Lat: math.Copysign(0, -1), Lon: 0.0000001}, {Lat: 1e2, Lon: -179.5}}
	assert.Equal(t, "POLYGON ((-2.935037 43.263012, 0.0000001 0, -179.5 100, -2.935037 43.263012))", EncodeRing(r, false))
}

func TestEncodeRings(t *testing.T) {
	second := Ring{{Lat: 5, Lon: 5}, {Lat: 5, Lon: 6}, {Lat: 6, Lon: 6}}
	got := EncodeRings([]Ring{triangle, {{Lat: 1, Lon: 1}}, second})
	assert.Equal(t, "MULTIPOLYGON (((30 10, 40 40, 20 40, 30 10)), ((5 5, 6 5, 6 6, 5 5)))", got)

	assert.Equal(t, "", EncodeRings(nil))
	assert.Equal(t, "", EncodeRings([]Ring{{{Lat: 1, Lon: 1}}}))
}

func TestEncode_Modes(t *testing.T) {
	rings := []Ring{triangle, {{Lat: 5, Lon: 5}, {Lat: 5, Lon: 6}, {Lat: 6, Lon: 6}}}

	assert.Equal(t, EncodeRing(triangle, false), Encode(rings, false, false), "single mode uses the first ring only")
	assert.Equal(t, EncodeRing(triangle, true), Encode(rings, false, true))
	assert.Equal(t, EncodeRings(rings), Encode(rings, true, false))
	assert.Equal(t, "", Encode(nil, false, false))

	c, anomalies := collectingCodec()
	assert.Equal(t, "", c.Encode(rings, true, true))
	assert.Equal(t, []AnomalyKind{AnomalyUnsupportedMode}, kinds(*anomalies))
}

func TestEncodePolygon_WithHoles(t *testing.T) {
	p := PolygonWithHoles{
		Outer: Ring{{0, 0}, {0, 10}, {10, 10}, {10, 0}},
		Holes: []Ring{
			{{2, 2}, {2, 4}, {4, 4}},
			{{1, 1}},
		},
	}
	assert.Equal(t, "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0), (2 2, 4 2, 4 4, 2 2))", EncodePolygon(p))
	assert.Equal(t, "", EncodePolygon(PolygonWithHoles{Outer: Ring{{0, 0}}}))
}

func TestEncodeMultiPolygon(t *testing.T) {
	m := MultiPolygon{Polygons: []PolygonWithHoles{
		{Outer: Ring{{0, 0}, {0, 1}, {1, 1}}},
		{Outer: Ring{{9, 9}}},
		{Outer: Ring{{5, 5}, {5, 6}, {6, 6}}, Holes: []Ring{{{5.1, 5.5}, {5.2, 5.6}, {5.3, 5.5}}}},
	}}
	assert.Equal(t,
		"MULTIPOLYGON (((0 0, 1 0, 1 1, 0 0)), ((5 5, 6 5, 6 6, 5 5), (5.5 5.1, 5.6 5.2, 5.5 5.3, 5.5 5.1)))",
		EncodeMultiPolygon(m))
	assert.Equal(t, "", EncodeMultiPolygon(MultiPolygon{}))
}

func TestRoundTrip(t *testing.T) {
	poly, err := ParsePolygon(EncodeRing(triangle, false))
	require.NoError(t, err)
	assert.Equal(t, triangle.Close(), poly.Outer)

	poly, err = ParsePolygon(EncodeRing(triangle, true))
	require.NoError(t, err)
	assert.Len(t, poly.Outer, 5)
	require.Len(t, poly.Holes, 1)
	assert.Equal(t, triangle.Close(), poly.Holes[0])

	precise := Ring{{Lat: 43.26301234567, Lon: -2.93503712345}, {Lat: 43.3, Lon: -2.9}, {Lat: 43.2, Lon: -2.8}}
	poly, err = ParsePolygon(EncodeRing(precise, false))
	require.NoError(t, err)
	assert.Equal(t, precise.Close(), poly.Outer)
}

func TestRoundTrip_MultiPolygon(t *testing.T) {
	in := "MULTIPOLYGON (((0 0, 10 0, 10 10, 0 10, 0 0), (2 2, 4 2, 4 4, 2 2)), ((20 20, 30 20, 30 30, 20 20)))"
	mp, err := ParseMultiPolygon(in)
	require.NoError(t, err)
	assert.Equal(t, in, EncodeMultiPolygon(*mp))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"polygon((0 0,1 0,1 1))", "POLYGON ((0 0, 1 0, 1 1, 0 0))"},
		{
			"POLYGON ((0 0, 10 0, 10 10, 0 0), (1 1, 2 1, 2 2), (3 3, 4 4))",
			"POLYGON ((0 0, 10 0, 10 10, 0 0), (1 1, 2 1, 2 2, 1 1))",
		},
		{
			"multipolygon(((0 0,1 0,1 1)),((5 5,6 5,6 6)))",
			"MULTIPOLYGON (((0 0, 1 0, 1 1, 0 0)), ((5 5, 6 5, 6 6, 5 5)))",
		},
		{"POLYGON ((0 0, 1.50 0, 1 95))", "POLYGON ((0 0, 1.5 0, 1 90, 0 0))"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)

		again, err := Normalize(got)
		require.NoError(t, err)
		assert.Equal(t, got, again, "normalized text is a fixed point")
	}

	_, err := Normalize("NOT WKT")
	assert.ErrorIs(t, err, ErrUnknownKeyword)
	_, err = Normalize("POLYGON ((0 0, 1 1))")
	assert.ErrorIs(t, err, ErrInsufficientPoints)
}

func TestRing_Close(t *testing.T) {
	closed := triangle.Close()
	assert.True(t, closed.Closed())
	assert.Len(t, closed, 4)
	assert.Equal(t, closed, closed.Close())
	assert.Empty(t, Ring{}.Close())
}

func TestPoint_JSON(t *testing.T) {
	p := Point{Lat: 43.26, Lon: -2.93}
	b, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[43.26, -2.93]`, string(b))

	var back Point
	require.NoError(t, back.UnmarshalJSON(b))
	assert.Equal(t, p, back)
	assert.Error(t, back.UnmarshalJSON([]byte(`[1, 2, 3]`)))
}

func TestClampLat(t *testing.T) {
	assert.Equal(t, 90.0, ClampLat(123))
	assert.Equal(t, -90.0, ClampLat(-123))
	assert.Equal(t, 45.5, ClampLat(45.5))
	assert.True(t, InDomain(Point{Lat: 90, Lon: -180}))
	assert.False(t, InDomain(Point{Lat: 0, Lon: 181}))
}

package usecases_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/samirrijal/annotation/internal/core/domain"
	"github.com/samirrijal/annotation/internal/core/usecases"
	"github.com/samirrijal/annotation/internal/pkg/wkt"
)

func TestGeometryService_Parse(t *testing.T) {
	svc := usecases.NewGeometryService(nil, 0)

	res, err := svc.Parse(context.Background(), "polygon((1 2, 3 2, 3 4, 1 4))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Type != "POLYGON" {
		t.Errorf("expected POLYGON, got %s", res.Type)
	}
	if res.Normalized != "POLYGON ((1 2, 3 2, 3 4, 1 4, 1 2))" {
		t.Errorf("unexpected normalized text %q", res.Normalized)
	}
	if res.Bounds.MinLat != 2 || res.Bounds.MaxLat != 4 || res.Bounds.MinLon != 1 || res.Bounds.MaxLon != 3 {
		t.Errorf("unexpected bounds %+v", res.Bounds)
	}
	if res.Points != 4 {
		t.Errorf("expected 4 points, got %d", res.Points)
	}
	if res.Perimeter <= 0 {
		t.Errorf("expected a positive perimeter, got %f", res.Perimeter)
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("expected no anomalies, got %v", res.Anomalies)
	}
}

func TestGeometryService_Parse_CollectsAnomalies(t *testing.T) {
	svc := usecases.NewGeometryService(nil, 0)

	res, err := svc.Parse(context.Background(), "MULTIPOLYGON (((0 95, 1 0, 1 1, x y)), ((0 0, 1 1)))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Type != "MULTIPOLYGON" {
		t.Errorf("expected MULTIPOLYGON, got %s", res.Type)
	}
	var kinds []wkt.AnomalyKind
	for _, a := range res.Anomalies {
		kinds = append(kinds, a.Kind)
	}
	want := map[wkt.AnomalyKind]bool{
		wkt.AnomalyLatClamped:     false,
		wkt.AnomalyPairDropped:    false,
		wkt.AnomalyPolygonSkipped: false,
	}
	for _, k := range kinds {
		if _, ok := want[k]; ok {
			want[k] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("expected anomaly %s in %v", k, kinds)
		}
	}
	if res.Bounds.MaxLat != 90 {
		t.Errorf("expected clamped max lat 90, got %f", res.Bounds.MaxLat)
	}
}

func TestGeometryService_Parse_Invalid(t *testing.T) {
	svc := usecases.NewGeometryService(nil, 0)

	tests := []struct {
		name   string
		input  string
		reason error
	}{
		{"empty", "  ", wkt.ErrEmptyInput},
		{"keyword", "LINESTRING (0 0, 1 1)", wkt.ErrUnknownKeyword},
		{"short", "POLYGON ((0 0, 1 1))", wkt.ErrInsufficientPoints},
		{"garbage", "POLYGON ((0 0, a b, c d))", wkt.ErrCoordinateParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Parse(context.Background(), tt.input)
			if !errors.Is(err, domain.ErrInvalidGeometry) {
				t.Fatalf("expected ErrInvalidGeometry, got %v", err)
			}
			if !errors.Is(err, tt.reason) {
				t.Errorf("expected %v, got %v", tt.reason, err)
			}
		})
	}
}

func TestGeometryService_Parse_TooLarge(t *testing.T) {
	svc := usecases.NewGeometryService(nil, 32)
	_, err := svc.Parse(context.Background(), "POLYGON (("+strings.Repeat("0 0, ", 20)+"0 0))")
	if !errors.Is(err, domain.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestGeometryService_Normalize(t *testing.T) {
	svc := usecases.NewGeometryService(nil, 0)
	out, err := svc.Normalize(context.Background(), "MULTIPOLYGON(((1 2,3 2,3 4)))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "MULTIPOLYGON (((1 2, 3 2, 3 4, 1 2)))" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestGeometryService_Encode(t *testing.T) {
	svc := usecases.NewGeometryService(nil, 0)
	ring := wkt.Ring{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}}

	out, _, err := svc.Encode(context.Background(), usecases.EncodeRequest{Rings: []wkt.Ring{ring}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "POLYGON ((0 0, 1 0, 1 1, 0 0))" {
		t.Errorf("unexpected output %q", out)
	}

	_, _, err = svc.Encode(context.Background(), usecases.EncodeRequest{Rings: []wkt.Ring{ring}, Multi: true, Inverted: true})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for multi+inverted, got %v", err)
	}

	_, anomalies, err := svc.Encode(context.Background(), usecases.EncodeRequest{Rings: []wkt.Ring{ring[:2]}})
	if !errors.Is(err, domain.ErrInvalidGeometry) {
		t.Errorf("expected ErrInvalidGeometry for a short ring, got %v", err)
	}
	if len(anomalies) != 1 || anomalies[0].Kind != wkt.AnomalyRingTooShort {
		t.Errorf("expected one ring_too_short anomaly, got %v", anomalies)
	}
}

func TestGeometryService_EditorRing(t *testing.T) {
	svc := usecases.NewGeometryService(nil, 0)

	ring, err := svc.EditorRing(context.Background(), "POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ring) != 4 {
		t.Fatalf("expected closing point removed, got %d points", len(ring))
	}

	ring, err = svc.EditorRing(context.Background(), "POLYGON ((0 0, 1 0, 0 0))")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ring) != 3 {
		t.Errorf("expected a 3-point ring kept as is, got %d points", len(ring))
	}
}

func TestGeometryService_Envelope(t *testing.T) {
	svc := usecases.NewGeometryService(nil, 0)
	env, err := svc.Envelope(43.26, -2.93, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mp, err := wkt.ParseGeometry(env)
	if err != nil {
		t.Fatalf("envelope did not parse: %v", err)
	}
	outer := mp.Polygons[0].Outer
	if len(outer) != 5 {
		t.Fatalf("expected a closed 4-corner ring, got %d points", len(outer))
	}
	for _, p := range outer {
		if p.Lat < 43.25 || p.Lat > 43.27 || p.Lon < -2.95 || p.Lon > -2.91 {
			t.Errorf("corner %+v too far from center", p)
		}
	}
}

func TestGeometryService_EnvelopeNotFinite(t *testing.T) {
	svc := usecases.NewGeometryService(nil, 0)
	for _, c := range [][3]float64{
		{math.NaN(), 0, 1000},
		{43, -2, math.NaN()},
		{43, math.Inf(1), 1000},
	} {
		if _, err := svc.Envelope(c[0], c[1], c[2]); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%v: expected validation error, got %v", c, err)
		}
	}
}

package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/samirrijal/annotation/internal/core/domain"
	"github.com/samirrijal/annotation/internal/pkg/geospatial"
	"github.com/samirrijal/annotation/internal/pkg/metrics"
	"github.com/samirrijal/annotation/internal/pkg/telemetry"
	"github.com/samirrijal/annotation/internal/pkg/wkt"
)

// DefaultMaxWKTBytes caps geometry text when no limit is configured.
const DefaultMaxWKTBytes = 1 << 20

// ParseResult is the decoded form of a geometry plus what the decoder noticed.
type ParseResult struct {
	Type       string            `json:"type"`
	Geometry   *wkt.MultiPolygon `json:"geometry"`
	Normalized string            `json:"normalized"`
	Anomalies  []wkt.Anomaly     `json:"anomalies"`
	Bounds     domain.Bounds     `json:"bounds"`
	Points     int               `json:"points"`
	Perimeter  float64           `json:"perimeter_m"` // outer rings only
}

// EncodeRequest carries ring data from the map editor.
type EncodeRequest struct {
	Rings    []wkt.Ring `json:"rings"`
	Multi    bool       `json:"multi"`
	Inverted bool       `json:"inverted"`
}

// GeometryService exposes the WKT codec to the rest of the service.
type GeometryService struct {
	logger   *slog.Logger
	maxBytes int
}

// NewGeometryService creates a new GeometryService. A nil logger means
// slog.Default(); maxBytes <= 0 means DefaultMaxWKTBytes.
func NewGeometryService(logger *slog.Logger, maxBytes int) *GeometryService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxWKTBytes
	}
	return &GeometryService{logger: logger, maxBytes: maxBytes}
}

// codec returns a per-call codec whose anomalies land in the returned slice.
func (s *GeometryService) codec() (*wkt.Codec, func() []wkt.Anomaly) {
	var (
		mu        sync.Mutex
		anomalies = []wkt.Anomaly{}
	)
	c := wkt.NewCodec(s.logger, func(a wkt.Anomaly) {
		metrics.WKTAnomalies.WithLabelValues(string(a.Kind)).Inc()
		mu.Lock()
		anomalies = append(anomalies, a)
		mu.Unlock()
	})
	return c, func() []wkt.Anomaly {
		mu.Lock()
		defer mu.Unlock()
		return anomalies
	}
}

// Parse decodes text and reports bounds, anomalies and the canonical encoding.
// Failures wrap both domain.ErrInvalidGeometry and the wkt reason.
func (s *GeometryService) Parse(ctx context.Context, text string) (*ParseResult, error) {
	_, span := telemetry.Tracer().Start(ctx, telemetry.SpanGeometryParse)
	defer span.End()
	span.SetAttributes(attribute.Int(telemetry.AttrWKTBytes, len(text)))

	if len(text) > s.maxBytes {
		metrics.WKTDecodes.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w: geometry is %d bytes, limit is %d", domain.ErrInvalidGeometry, len(text), s.maxBytes)
	}

	codec, anomalies := s.codec()
	mp, err := codec.ParseGeometry(text)
	if err != nil {
		reason := wkt.Code(err)
		metrics.WKTDecodes.WithLabelValues(reason).Inc()
		span.SetAttributes(attribute.String(telemetry.AttrWKTReason, reason))
		span.SetStatus(codes.Error, reason)
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidGeometry, err)
	}
	metrics.WKTDecodes.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.Int(telemetry.AttrWKTPolygons, len(mp.Polygons)))

	res := &ParseResult{
		Type:     wkt.Keyword(text),
		Geometry: mp,
		Points:   mp.PointCount(),
	}
	if res.Type == "POLYGON" {
		res.Normalized = codec.EncodePolygon(mp.Polygons[0])
	} else {
		res.Normalized = codec.EncodeMultiPolygon(*mp)
	}
	if minLat, minLon, maxLat, maxLon, err := wkt.Bounds(*mp); err == nil {
		res.Bounds = domain.Bounds{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon}
	}
	for _, p := range mp.Polygons {
		res.Perimeter += perimeter(p.Outer)
	}
	res.Anomalies = anomalies()
	return res, nil
}

// Normalize returns the canonical re-encoding of text.
func (s *GeometryService) Normalize(ctx context.Context, text string) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.SpanGeometryNormalize)
	defer span.End()

	res, err := s.Parse(ctx, text)
	if err != nil {
		return "", err
	}
	return res.Normalized, nil
}

// Encode turns editor rings into WKT. An empty encoding is an error here:
// the rings were too short or the flag combination is unsupported.
func (s *GeometryService) Encode(ctx context.Context, req EncodeRequest) (string, []wkt.Anomaly, error) {
	_, span := telemetry.Tracer().Start(ctx, telemetry.SpanGeometryEncode)
	defer span.End()

	mode := "single"
	switch {
	case req.Multi && req.Inverted:
		mode = "multi_inverted"
	case req.Multi:
		mode = "multi"
	case req.Inverted:
		mode = "inverted"
	}
	metrics.WKTEncodes.WithLabelValues(mode).Inc()

	codec, anomalies := s.codec()
	out := codec.Encode(req.Rings, req.Multi, req.Inverted)
	if out == "" {
		if req.Multi && req.Inverted {
			return "", anomalies(), fmt.Errorf("%w: inverted multipolygons are not supported", domain.ErrValidation)
		}
		return "", anomalies(), fmt.Errorf("%w: no ring with at least 3 valid points", domain.ErrInvalidGeometry)
	}
	return out, anomalies(), nil
}

// EditorRing returns the outer ring of the first polygon the way the map
// editor shows it: without the repeated closing point once the ring has
// more than three points.
func (s *GeometryService) EditorRing(ctx context.Context, text string) (wkt.Ring, error) {
	res, err := s.Parse(ctx, text)
	if err != nil {
		return nil, err
	}
	ring := res.Geometry.Polygons[0].Outer
	if len(ring) > 3 && ring.Closed() {
		ring = ring[:len(ring)-1]
	}
	return ring, nil
}

// Envelope returns a POLYGON around a point, used for "near" rule searches.
func (s *GeometryService) Envelope(lat, lon, radiusMeters float64) (string, error) {
	minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(lat, lon, radiusMeters)
	env := wkt.EncodeRing(wkt.Ring{
		{Lat: minLat, Lon: minLon},
		{Lat: minLat, Lon: maxLon},
		{Lat: maxLat, Lon: maxLon},
		{Lat: maxLat, Lon: minLon},
	}, false)
	if env == "" {
		return "", fmt.Errorf("%w: no envelope around %v,%v radius %v", domain.ErrValidation, lat, lon, radiusMeters)
	}
	return env, nil
}

func perimeter(r wkt.Ring) float64 {
	lats := make([]float64, len(r))
	lons := make([]float64, len(r))
	for i, p := range r {
		lats[i], lons[i] = p.Lat, p.Lon
	}
	return geospatial.Perimeter(lats, lons)
}

package wkt

import (
	"context"
	"log/slog"
)

// AnomalyKind names a recoverable irregularity met while decoding or encoding.
type AnomalyKind string

const (
	AnomalyPairDropped     AnomalyKind = "pair_dropped"
	AnomalyLatClamped      AnomalyKind = "latitude_clamped"
	AnomalyLonOutOfRange   AnomalyKind = "longitude_out_of_range"
	AnomalySuspectedSwap   AnomalyKind = "suspected_axis_swap"
	AnomalyHoleDropped     AnomalyKind = "hole_dropped"
	AnomalyPolygonSkipped  AnomalyKind = "polygon_skipped"
	AnomalyUnclosedText    AnomalyKind = "unclosed_text"
	AnomalyNonFinitePoint  AnomalyKind = "non_finite_point"
	AnomalyRingTooShort    AnomalyKind = "ring_too_short"
	AnomalyUnsupportedMode AnomalyKind = "unsupported_mode"
)

// Anomaly is reported once per occurrence. Offset is the byte offset in the
// decoded text, or the point index when encoding.
type Anomaly struct {
	Kind   AnomalyKind `json:"kind"`
	Offset int         `json:"offset"`
	Detail string      `json:"detail"`
}

// Codec decodes and encodes WKT. The zero value logs to slog.Default() and
// has no anomaly hook. A Codec holds no per-call state and is safe for
// concurrent use as long as OnAnomaly is.
type Codec struct {
	Logger    *slog.Logger
	OnAnomaly func(Anomaly)
}

// NewCodec returns a Codec that logs to logger (nil means slog.Default()).
func NewCodec(logger *slog.Logger, onAnomaly func(Anomaly)) *Codec {
	return &Codec{Logger: logger, OnAnomaly: onAnomaly}
}

func (c *Codec) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// clamps are routine near the poles and stay at debug level.
func (c *Codec) report(a Anomaly) {
	level := slog.LevelWarn
	if a.Kind == AnomalyLatClamped {
		level = slog.LevelDebug
	}
	c.logger().LogAttrs(context.Background(), level, "wkt anomaly",
		slog.String("kind", string(a.Kind)),
		slog.Int("offset", a.Offset),
		slog.String("detail", a.Detail),
	)
	if c != nil && c.OnAnomaly != nil {
		c.OnAnomaly(a)
	}
}

func (c *Codec) rejected(op string, err error) {
	c.logger().Debug("wkt decode rejected", "op", op, "reason", Code(err), "error", err)
}

var defaultCodec Codec

// ParsePolygon decodes a POLYGON literal with the default codec.
func ParsePolygon(text string) (*PolygonWithHoles, error) {
	return defaultCodec.ParsePolygon(text)
}

// ParseMultiPolygon decodes a MULTIPOLYGON literal with the default codec.
func ParseMultiPolygon(text string) (*MultiPolygon, error) {
	return defaultCodec.ParseMultiPolygon(text)
}

// ParseGeometry decodes either literal with the default codec.
func ParseGeometry(text string) (*MultiPolygon, error) {
	return defaultCodec.ParseGeometry(text)
}

// Encode encodes rings with the default codec. See Codec.Encode.
func Encode(rings []Ring, multi, inverted bool) string {
	return defaultCodec.Encode(rings, multi, inverted)
}

// EncodeRing encodes one ring with the default codec.
func EncodeRing(r Ring, inverted bool) string {
	return defaultCodec.EncodeRing(r, inverted)
}

// EncodeRings encodes rings as a MULTIPOLYGON with the default codec.
func EncodeRings(rings []Ring) string {
	return defaultCodec.EncodeRings(rings)
}

// EncodePolygon encodes a polygon with holes with the default codec.
func EncodePolygon(p PolygonWithHoles) string {
	return defaultCodec.EncodePolygon(p)
}

// EncodeMultiPolygon encodes a multipolygon with holes with the default codec.
func EncodeMultiPolygon(m MultiPolygon) string {
	return defaultCodec.EncodeMultiPolygon(m)
}

// Normalize decodes text and re-encodes it in canonical form with the default codec.
func Normalize(text string) (string, error) {
	return defaultCodec.Normalize(text)
}

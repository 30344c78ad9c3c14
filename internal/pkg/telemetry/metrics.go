package telemetry

// Span names used by the use cases and workers.
const (
	// Geometry
	SpanGeometryParse     = "geometry.parse"
	SpanGeometryEncode    = "geometry.encode"
	SpanGeometryNormalize = "geometry.normalize"

	// Rules
	SpanRuleCreate = "rule.create"
	SpanRuleUpdate = "rule.update"
	SpanRuleDelete = "rule.delete"
	SpanRuleList   = "rule.list"
	SpanRuleVote   = "rule.vote"
	SpanRuleExport = "rule.export"

	// Workers
	SpanImportBatch       = "importer.batch"
	SpanRelayEvent        = "relay.event"
	SpanNormalizeActivity = "normalizer.activity"
)

// Span attribute keys.
const (
	AttrRuleID      = "rule.id"
	AttrTaxonKey    = "rule.taxon_key"
	AttrWKTBytes    = "wkt.bytes"
	AttrWKTPolygons = "wkt.polygons"
	AttrWKTReason   = "wkt.reason"
)

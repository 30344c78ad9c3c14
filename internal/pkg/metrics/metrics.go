package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotation",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "annotation",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "annotation",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// WKT codec metrics
	WKTDecodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotation",
		Subsystem: "wkt",
		Name:      "decode_total",
		Help:      "WKT decodes by result (ok or the failure reason)",
	}, []string{"result"})

	WKTAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotation",
		Subsystem: "wkt",
		Name:      "anomalies_total",
		Help:      "Recoverable irregularities met while decoding or encoding WKT",
	}, []string{"kind"})

	WKTEncodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotation",
		Subsystem: "wkt",
		Name:      "encode_total",
		Help:      "WKT encodes by mode",
	}, []string{"mode"})

	// Rule metrics
	RuleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotation",
		Subsystem: "rules",
		Name:      "events_total",
		Help:      "Rule changes by event type",
	}, []string{"type"})

	RulesImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotation",
		Subsystem: "rules",
		Name:      "imported_total",
		Help:      "Rules processed by the importer",
	}, []string{"result"})

	Normalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotation",
		Subsystem: "rules",
		Name:      "normalizations_total",
		Help:      "Geometry normalisation workflow outcomes",
	}, []string{"outcome"})

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "annotation",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotation",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotation",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "annotation",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "annotation",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "annotation",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// normalizePath keeps label cardinality bounded for requests that matched no
// route (fiber reports the raw path for those).
func normalizePath(path string) string {
	switch {
	case path == "/metrics" || path == "/graphql" || path == "/ws" || path == "/docs":
		return path
	case strings.HasPrefix(path, "/v1/"):
		return "/v1/unmatched"
	default:
		return "unmatched"
	}
}

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" || path == "/" {
			path = normalizePath(c.Path())
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics copies pool gauges from a *pgxpool.Stat. It takes an
// interface so this package does not import pgx.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}

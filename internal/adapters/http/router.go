package http

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/annotation/internal/pkg/metrics"
)

const (
	requestTimeout = 15 * time.Second

	// LegacyRulePath is where the first annotation clients expect the API.
	LegacyRulePath = "/occurrence/experimental/annotation/rule"
)

// legacySunset is when the LegacyRulePath routes go away.
var legacySunset = time.Date(2027, time.June, 30, 0, 0, 0, 0, time.UTC)

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	origins := "*"
	if len(deps.CORSOrigins) > 0 {
		origins = strings.Join(deps.CORSOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowHeaders:  "Origin, Content-Type, Accept, If-None-Match, " + UserHeader,
		ExposeHeaders: "ETag, Link, Location, X-Request-ID, Deprecation, Sunset",
	}))

	rate := deps.RateLimit
	if rate <= 0 {
		rate = 120
	}
	app.Use(limiter.New(limiter.Config{
		Max:        rate,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")

	geometry := v1.Group("/geometry")
	geometry.Post("/parse", withTimeout(ParseGeometryHandler(deps)))
	geometry.Post("/normalize", withTimeout(NormalizeGeometryHandler(deps)))
	geometry.Post("/encode", withTimeout(EncodeGeometryHandler(deps)))
	geometry.Post("/editor-ring", withTimeout(EditorRingHandler(deps)))

	rules := v1.Group("/rules")
	rules.Get("/", withTimeout(ListRulesHandler(deps)))
	rules.Post("/", withTimeout(CreateRuleHandler(deps)))
	// Fixed paths before /:id.
	rules.Get("/my", withTimeout(MyRulesHandler(deps)))
	rules.Get("/supported", withTimeout(SupportedRulesHandler(deps)))
	rules.Get("/contested", withTimeout(ContestedRulesHandler(deps)))
	rules.Get("/metrics", withTimeout(RuleMetricsHandler(deps)))
	rules.Get("/:id", withTimeout(GetRuleHandler(deps)))
	rules.Put("/:id", withTimeout(UpdateRuleHandler(deps)))
	rules.Delete("/:id", withTimeout(DeleteRuleHandler(deps)))
	rules.Post("/:id/support", withTimeout(SupportRuleHandler(deps)))
	rules.Delete("/:id/support", withTimeout(RemoveSupportHandler(deps)))
	rules.Post("/:id/contest", withTimeout(ContestRuleHandler(deps)))
	rules.Delete("/:id/contest", withTimeout(RemoveContestHandler(deps)))
	rules.Get("/:id/comments", withTimeout(ListCommentsHandler(deps)))
	rules.Post("/:id/comments", withTimeout(AddCommentHandler(deps)))
	rules.Delete("/:id/comments/:commentId", withTimeout(DeleteCommentHandler(deps)))
	rules.Get("/:id/geojson", withTimeout(RuleGeoJSONHandler(deps)))
	rules.Get("/:id/kml", withTimeout(RuleKMLHandler(deps)))

	setupLegacyRoutes(app, deps)

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket
	app.Use("/v1/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/v1/ws", websocket.New(WebSocketHandler(deps.NATS)))
}

func withTimeout(h fiber.Handler) fiber.Handler {
	return timeout.NewWithContext(h, requestTimeout)
}

// setupLegacyRoutes mounts the original route layout on the same handlers.
// Every response advertises its /v1 successor.
func setupLegacyRoutes(app *fiber.App, deps *Dependencies) {
	deprecated := []DeprecatedRoute{
		{Path: LegacyRulePath, SunsetDate: legacySunset, Alternative: "/v1/rules"},
		{Path: LegacyRulePath + "/my", SunsetDate: legacySunset, Alternative: "/v1/rules/my"},
		{Path: LegacyRulePath + "/supported", SunsetDate: legacySunset, Alternative: "/v1/rules/supported"},
		{Path: LegacyRulePath + "/contested", SunsetDate: legacySunset, Alternative: "/v1/rules/contested"},
		{Path: LegacyRulePath + "/metrics", SunsetDate: legacySunset, Alternative: "/v1/rules/metrics"},
		{Path: LegacyRulePath + "/:id", SunsetDate: legacySunset, Alternative: "/v1/rules/{id}"},
		{Path: LegacyRulePath + "/:id/:action", SunsetDate: legacySunset, Alternative: "/v1/rules/{id}"},
		{Path: LegacyRulePath + "/:id/comment/:commentId", SunsetDate: legacySunset, Alternative: "/v1/rules/{id}/comments/{commentId}"},
	}

	legacy := app.Group(LegacyRulePath, DeprecationMiddleware(deprecated))
	legacy.Get("/", withTimeout(ListRulesHandler(deps)))
	legacy.Post("/", withTimeout(CreateRuleHandler(deps)))
	legacy.Get("/my", withTimeout(MyRulesHandler(deps)))
	legacy.Get("/supported", withTimeout(SupportedRulesHandler(deps)))
	legacy.Get("/contested", withTimeout(ContestedRulesHandler(deps)))
	legacy.Get("/metrics", withTimeout(RuleMetricsHandler(deps)))
	legacy.Get("/:id", withTimeout(GetRuleHandler(deps)))
	legacy.Put("/:id", withTimeout(UpdateRuleHandler(deps)))
	legacy.Delete("/:id", withTimeout(DeleteRuleHandler(deps)))
	legacy.Post("/:id/support", withTimeout(SupportRuleHandler(deps)))
	legacy.Post("/:id/removeSupport", withTimeout(RemoveSupportHandler(deps)))
	legacy.Post("/:id/contest", withTimeout(ContestRuleHandler(deps)))
	legacy.Post("/:id/removeContest", withTimeout(RemoveContestHandler(deps)))
	legacy.Get("/:id/comment", withTimeout(ListCommentsHandler(deps)))
	legacy.Post("/:id/comment", withTimeout(AddCommentHandler(deps)))
	legacy.Delete("/:id/comment/:commentId", withTimeout(DeleteCommentHandler(deps)))
}

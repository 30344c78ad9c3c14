package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/annotation/internal/adapters/postgres"
	"github.com/samirrijal/annotation/internal/adapters/valkey"
	"github.com/samirrijal/annotation/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Rules    *usecases.RuleService
	Geometry *usecases.GeometryService
	NATS     *nats.Conn
	DB       *postgres.DB
	Cache    *valkey.Cache

	// RateLimit is requests per minute per client; 0 means 120.
	RateLimit   int
	CORSOrigins []string
}

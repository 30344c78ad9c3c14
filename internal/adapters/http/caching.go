package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses based on endpoint.
// Handlers that already set the header win.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet {
			return err
		}
		if existing := c.GetRespHeader("Cache-Control"); existing != "" {
			return err
		}
		if c.Response().StatusCode() >= 400 {
			return err
		}

		path := c.Path()
		var ttl string

		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "public, max-age=10"

		case path == "/metrics", path == "/v1/ws":
			ttl = "no-cache"

		case path == "/graphql":
			ttl = "private, max-age=0"

		// Votes and per-user listings change under the caller's feet.
		case strings.HasSuffix(path, "/my"), strings.HasSuffix(path, "/supported"),
			strings.HasSuffix(path, "/contested"), strings.HasSuffix(path, "/metrics"):
			ttl = "private, no-cache"

		case strings.HasSuffix(path, "/comments"), strings.HasSuffix(path, "/comment"):
			ttl = "public, max-age=30"

		case strings.HasSuffix(path, "/geojson"), strings.HasSuffix(path, "/kml"):
			ttl = "public, max-age=300"

		case strings.HasPrefix(path, "/v1/rules/"):
			ttl = "public, max-age=60"

		case strings.HasPrefix(path, "/v1/"):
			ttl = "public, max-age=30"
		}

		if ttl != "" {
			c.Set("Cache-Control", ttl)
		}

		return err
	}
}

package http

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	userKey      ctxKey = "user"
)

// UserHeader carries the acting user's name. Authentication happens upstream.
const UserHeader = "X-User"

// RequestIDLogMiddleware stores a request-scoped *slog.Logger, carrying the
// request ID and acting user, in the user context.
func RequestIDLogMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		reqLogger := slog.Default()

		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			reqLogger = reqLogger.With("request_id", rid)
			ctx = context.WithValue(ctx, requestIDKey, rid)
		}
		if user := strings.TrimSpace(c.Get(UserHeader)); user != "" {
			reqLogger = reqLogger.With("user", user)
			ctx = context.WithValue(ctx, userKey, user)
		}

		ctx = context.WithValue(ctx, ctxKey("logger"), reqLogger)
		c.SetUserContext(ctx)

		return c.Next()
	}
}

// LoggerFromCtx extracts the per-request slog.Logger from a context.
// Falls back to the default logger if none is set.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey("logger")).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// currentUser returns the acting user, or "" when the request is anonymous.
func currentUser(c *fiber.Ctx) string {
	if u, ok := c.UserContext().Value(userKey).(string); ok {
		return u
	}
	return strings.TrimSpace(c.Get(UserHeader))
}

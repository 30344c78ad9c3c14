package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/annotation/internal/core/domain"
	"github.com/samirrijal/annotation/internal/pkg/wkt"
)

// APIError is a structured error response.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`    // Error code: bad_request, not_found, insufficient_points, etc.
	Message   string `json:"message"` // Human-readable message
	RequestID string `json:"request_id,omitempty"`
}

// newError builds a JSON error response with a request ID.
func newError(c *fiber.Ctx, status int, code string, message string) error {
	reqID, _ := c.Locals("requestid").(string)
	return c.Status(status).JSON(APIError{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: reqID,
	})
}

// errBadRequest returns a 400 error.
func errBadRequest(c *fiber.Ctx, msg string) error {
	return newError(c, 400, "bad_request", msg)
}

// errNotFound returns a 404 error.
func errNotFound(c *fiber.Ctx, msg string) error {
	return newError(c, 404, "not_found", msg)
}

// errInternal returns a 500 error. The cause is logged, not returned.
func errInternal(c *fiber.Ctx, err error) error {
	LoggerFromCtx(c.UserContext()).Error("request failed", "path", c.Path(), "error", err)
	return newError(c, 500, "internal_error", "internal server error")
}

// errUnauthorized returns a 401 error.
func errUnauthorized(c *fiber.Ctx, msg string) error {
	return newError(c, 401, "unauthorized", msg)
}

// errForbidden returns a 403 error.
func errForbidden(c *fiber.Ctx, msg string) error {
	return newError(c, 403, "forbidden", msg)
}

// errConflict returns a 409 error.
func errConflict(c *fiber.Ctx, msg string) error {
	return newError(c, 409, "conflict", msg)
}

// errFromDomain maps service errors onto API errors. Geometry failures carry
// the decoder's reason as the code.
func errFromDomain(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidGeometry):
		code := wkt.Code(err)
		if code == "" {
			code = "invalid_geometry"
		}
		return newError(c, 400, code, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return errBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return errUnauthorized(c, "X-User header is required")
	case errors.Is(err, domain.ErrForbidden):
		return errForbidden(c, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return errNotFound(c, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return errConflict(c, err.Error())
	}
	return errInternal(c, err)
}

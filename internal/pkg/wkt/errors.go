package wkt

import (
	"errors"
	"fmt"
)

// Reasons a decode produces no geometry. Test with errors.Is.
var (
	ErrEmptyInput         = errors.New("empty input")
	ErrUnknownKeyword     = errors.New("unknown keyword")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrCoordinateParse    = errors.New("coordinate parse failure")
	ErrMalformed          = errors.New("malformed geometry text")
)

// ParseError describes why a decode failed and where.
type ParseError struct {
	Reason error
	Offset int
	Detail string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("wkt: %v at offset %d", e.Reason, e.Offset)
	}
	return fmt.Sprintf("wkt: %v at offset %d: %s", e.Reason, e.Offset, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Reason }

func parseErr(reason error, offset int, format string, args ...any) *ParseError {
	return &ParseError{Reason: reason, Offset: offset, Detail: fmt.Sprintf(format, args...)}
}

// Code maps a decode error to a stable snake_case identifier for APIs and
// metric labels. Errors that did not come from this package map to "".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrUnknownKeyword):
		return "unknown_keyword"
	case errors.Is(err, ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, ErrCoordinateParse):
		return "coordinate_parse_failure"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	}
	return ""
}

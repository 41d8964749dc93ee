// Package apperr holds the error kinds shared by stores and handlers.
package apperr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/mind-engage/psyportal/internal/breaker"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalid      = errors.New("invalid input")
	ErrIncomplete   = errors.New("incomplete")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalid)
}

// IncompleteError lists the ids of required items that were not supplied.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	ids := append([]string(nil), e.Missing...)
	sort.Strings(ids)
	return "missing answers for questions: " + strings.Join(ids, ", ")
}

func (e *IncompleteError) Unwrap() error { return ErrIncomplete }

// Status maps an error to the HTTP status a handler should answer with.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, breaker.ErrOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsClientError reports whether err was caused by the caller rather than the
// backing store. Such errors never count against the circuit breaker.
func IsClientError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalid),
		errors.Is(err, ErrIncomplete),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrForbidden),
		errors.Is(err, sql.ErrNoRows),
		errors.Is(err, context.Canceled):
		return true
	}
	return false
}

// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"
)

// Shared sentinels for failures detected at the HTTP edge.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrorMapping binds a domain sentinel to a problem status.
type ErrorMapping struct {
	Target error
	Status int
	Title  string
}

var edgeMappings = []ErrorMapping{
	{ErrNotFound, http.StatusNotFound, "Not Found"},
	{ErrValidation, http.StatusBadRequest, "Validation Failed"},
	{ErrForbidden, http.StatusForbidden, "Forbidden"},
	{ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
}

// Responder writes errors as RFC7807 problems through a mapping table. The
// first matching entry wins; unmatched errors are logged and hidden behind 500.
type Responder struct {
	logger   *slog.Logger
	mappings []ErrorMapping
}

// NewResponder builds a Responder from package mapping tables.
func NewResponder(logger *slog.Logger, tables ...[]ErrorMapping) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	mappings := append([]ErrorMapping(nil), edgeMappings...)
	for _, t := range tables {
		mappings = append(mappings, t...)
	}
	return &Responder{logger: logger, mappings: mappings}
}

// RespondError maps err onto a problem response.
func (rs *Responder) RespondError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range rs.mappings {
		if errors.Is(err, m.Target) {
			if m.Status >= http.StatusInternalServerError {
				rs.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
			}
			Problem(w, m.Status, m.Title, err.Error())
			return
		}
	}
	rs.logger.Error("unhandled error", slog.String("path", r.URL.Path), slog.Any("error", err))
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// StatusFromError maps a protocol error onto the HTTP status handlers
// respond with. Handlers send only the status and a generic body, never
// the error detail.
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrExpired):
		return http.StatusRequestTimeout
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrDuplicateRegistration):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrShareNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrInvalidInput),
		errors.Is(err, interfaces.ErrInvalidPoint),
		errors.Is(err, interfaces.ErrInvalidThreshold),
		errors.Is(err, interfaces.ErrSingularSet),
		errors.Is(err, interfaces.ErrSignatureMismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorFromStatus reverses StatusFromError on the client side so callers
// can match sentinels with errors.Is across the HTTP boundary.
func ErrorFromStatus(status int) error {
	switch status {
	case http.StatusRequestTimeout:
		return interfaces.ErrExpired
	case http.StatusUnauthorized:
		return interfaces.ErrUnauthorized
	case http.StatusConflict:
		return interfaces.ErrDuplicateRegistration
	case http.StatusNotFound:
		return interfaces.ErrShareNotFound
	case http.StatusBadRequest:
		return interfaces.ErrInvalidInput
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}

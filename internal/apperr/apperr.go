package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrForbidden means the request carries no valid session.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means there is no subscription or billing data to act on.
	ErrNotFound = errors.New("not found")
	// ErrSessionExpired means the access token could not be refreshed and
	// the session has been cleared.
	ErrSessionExpired = errors.New("session expired")
	// ErrUpstreamUnavailable covers network failures, timeouts and non-401
	// error replies from an external API.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrDataDrift means stored billing ids disagree with the payment
	// processor.
	ErrDataDrift = errors.New("billing data drift")
	// ErrInvalidRequest means the caller sent a malformed request.
	ErrInvalidRequest = errors.New("invalid request")
)

// Wrapf wraps err with context using fmt.Errorf. It returns nil for a nil err.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// HTTPStatus maps an error to the status code handlers reply with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

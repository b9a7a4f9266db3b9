package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("load record: %w", ErrNotFound), http.StatusNotFound},
		{ErrSessionExpired, http.StatusUnauthorized},
		{ErrInvalidRequest, http.StatusBadRequest},
		{Wrapf(ErrUpstreamUnavailable, "list subscriptions"), http.StatusBadGateway},
		{ErrDataDrift, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWrapfNil(t *testing.T) {
	if err := Wrapf(nil, "noop %d", 1); err != nil {
		t.Errorf("Wrapf(nil) = %v, want nil", err)
	}
}

func TestWrapfKeepsChain(t *testing.T) {
	err := Wrapf(ErrNotFound, "user %s", "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected ErrNotFound in chain")
	}
	if err.Error() != "user alice: not found" {
		t.Errorf("message = %q", err.Error())
	}
}

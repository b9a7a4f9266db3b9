// Package handler holds the HTTP handlers of the API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/likerland/api/internal/apperr"
	"github.com/likerland/api/internal/auth"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRaw relays an upstream JSON reply unchanged.
func writeRaw(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Wrapf(apperr.ErrInvalidRequest, "decode body: %v", err)
	}
	return nil
}

// responder turns service errors into HTTP replies.
type responder struct {
	logger  *slog.Logger
	cookies auth.Cookies
}

func (rs responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	switch {
	case errors.Is(err, apperr.ErrForbidden):
		w.WriteHeader(http.StatusForbidden)
		return
	case errors.Is(err, apperr.ErrSessionExpired):
		rs.cookies.ClearSession(w)
	}

	if status >= http.StatusInternalServerError {
		rs.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		rs.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	http.Error(w, http.StatusText(status), status)
}

// Package render writes JSON responses and maps service errors to HTTP statuses.
package render

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/webitel/roster-push-service/internal/domain/fanout"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"github.com/webitel/roster-push-service/internal/service"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error maps err onto a status code. Unknown errors become 500 without details.
func Error(w http.ResponseWriter, err error) {
	status, code := Status(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	JSON(w, status, errorBody{Error: msg, Code: code})
}

func Status(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "PERMISSION_DENIED"
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, fanout.ErrReservedKind),
		errors.Is(err, fanout.ErrNilEvent):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, registry.ErrIdentityLimit):
		return http.StatusTooManyRequests, "CONNECTION_LIMIT"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, registry.ErrShutdown):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

var ErrRateLimited = errors.New("too many connection attempts")

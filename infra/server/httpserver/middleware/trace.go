package middleware

import (
	"net/http"

	"github.com/webitel/roster-push-service/infra/logging"
)

const TraceHeader = "X-Request-ID"

// TraceID propagates or assigns the request trace id.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TraceHeader)
		if id == "" {
			id = logging.NewTraceID()
		}
		w.Header().Set(TraceHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(r.Context(), id)))
	})
}

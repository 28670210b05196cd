package middleware

import (
	"net/http"
	"strings"

	"github.com/webitel/roster-push-service/internal/handler/render"
	"github.com/webitel/roster-push-service/internal/service"
)

// BearerToken reads "Authorization: Bearer <token>", falling back to the
// access_token query parameter for browser transports that cannot set headers.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// Authenticate resolves the caller before the handler runs.
func Authenticate(auther service.Auther) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// [PRE_AUTH] Validate identity before allowing the stream to open
			id, err := auther.Inspect(r.Context(), BearerToken(r))
			if err != nil {
				render.Error(w, err)
				return
			}

			// [ENRICHMENT] Inject the identity into the context for downstream handlers
			next.ServeHTTP(w, r.WithContext(service.WithIdentity(r.Context(), id)))
		})
	}
}

// RequirePermission rejects authenticated callers lacking perm.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := service.IdentityFromContext(r.Context())
			if !ok {
				render.Error(w, service.ErrUnauthenticated)
				return
			}
			if !id.HasPermission(perm) {
				render.Error(w, service.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

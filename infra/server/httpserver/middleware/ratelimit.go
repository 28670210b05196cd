package middleware

import (
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/roster-push-service/internal/handler/render"
	"github.com/webitel/roster-push-service/internal/service"
	"golang.org/x/time/rate"
)

// HandshakeLimiter paces stream handshakes per user, so a reconnect storm of
// one caller cannot starve the others. Idle limiters fall out of the LRU.
type HandshakeLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

func NewHandshakeLimiter(perSecond float64, burst, size int) *HandshakeLimiter {
	if size <= 0 {
		size = 10000
	}
	cache, _ := lru.New[string, *rate.Limiter](size)
	return &HandshakeLimiter{
		limiters: cache,
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *HandshakeLimiter) Allow(userID string) bool {
	if l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	lim, ok := l.limiters.Get(userID)
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters.Add(userID, lim)
	}
	l.mu.Unlock()

	return lim.Allow()
}

// Middleware must run after Authenticate.
func (l *HandshakeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := service.IdentityFromContext(r.Context()); ok && !l.Allow(id.UserID) {
			w.Header().Set("Retry-After", "1")
			render.Error(w, render.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

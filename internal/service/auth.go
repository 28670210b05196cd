package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker"
	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/internal/domain/model"
	"golang.org/x/sync/singleflight"
)

// Permissions understood by the service itself.
const (
	PermissionPublish = "push:publish"
	PermissionAdmin   = "push:admin"
)

// Auther resolves a bearer token into the caller identity.
type Auther interface {
	Inspect(ctx context.Context, token string) (*model.Identity, error)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *model.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext is a helper to extract the identity from context safely.
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*model.Identity)
	return id, ok && id != nil
}

// StaticAuther serves a fixed token table from configuration.
type StaticAuther struct {
	tokens map[string]model.Identity
}

func NewStaticAuther(entries []config.StaticIdentity) *StaticAuther {
	tokens := make(map[string]model.Identity, len(entries))
	for _, e := range entries {
		tokens[e.Token] = model.Identity{
			SessionID:   e.SessionID,
			UserID:      e.UserID,
			FacultyID:   e.FacultyID,
			Permissions: e.Permissions,
		}
	}
	return &StaticAuther{tokens: tokens}
}

func (a *StaticAuther) Inspect(_ context.Context, token string) (*model.Identity, error) {
	id, ok := a.tokens[token]
	if !ok || token == "" {
		return nil, ErrUnauthenticated
	}
	return &id, nil
}

// RemoteAuther asks the roster application to introspect tokens.
// Results are cached per token; identical concurrent lookups share one call.
type RemoteAuther struct {
	url     string
	client  *http.Client
	cache   *expirable.LRU[string, *model.Identity]
	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group
	logger  *slog.Logger
}

type introspectRequest struct {
	Token string `json:"token"`
}

type introspectResponse struct {
	Active bool `json:"active"`
	model.Identity
}

func NewRemoteAuther(cfg config.AuthConfig, client *http.Client, logger *slog.Logger) *RemoteAuther {
	size := cfg.CacheSize
	if size <= 0 {
		size = 4096
	}

	a := &RemoteAuther{
		url:    cfg.IntrospectURL,
		client: client,
		// [MEMORY_MANAGEMENT] bounded cache of "hot" identities
		cache:  expirable.NewLRU[string, *model.Identity](size, nil, cfg.CacheTTL),
		logger: logger,
	}
	a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "identity-introspect",
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		// a rejected token is an answer, not an outage
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, ErrUnauthenticated) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("CIRCUIT_BREAKER_STATE_CHANGED",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return a
}

func (a *RemoteAuther) Inspect(ctx context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	// [HOT_PATH] cache first
	if id, ok := a.cache.Get(token); ok {
		return id, nil
	}

	v, err, _ := a.group.Do(token, func() (any, error) {
		return a.breaker.Execute(func() (any, error) {
			return a.introspect(ctx, token)
		})
	})
	if err != nil {
		return nil, err
	}

	id := v.(*model.Identity)
	a.cache.Add(token, id)
	return id, nil
}

func (a *RemoteAuther) introspect(ctx context.Context, token string) (*model.Identity, error) {
	body, err := json.Marshal(introspectRequest{Token: token})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthenticated
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("introspect: unexpected status %d", resp.StatusCode)
	}

	var out introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("introspect: decode: %w", err)
	}
	if !out.Active || !out.Identity.Valid() {
		return nil, ErrUnauthenticated
	}
	return &out.Identity, nil
}

// Invalidate purges every cached token of userID, so the next handshake
// sees the fresh permission set.
func (a *RemoteAuther) Invalidate(userID string) {
	for _, token := range a.cache.Keys() {
		if id, ok := a.cache.Peek(token); ok && id.UserID == userID {
			a.cache.Remove(token)
		}
	}
}

// AutherMiddleware implements [DECORATOR_PATTERN] to add observability
// to identity resolution without touching the resolvers.
type AutherMiddleware struct {
	Next   Auther
	Logger *slog.Logger
}

func (m *AutherMiddleware) Inspect(ctx context.Context, token string) (*model.Identity, error) {
	start := time.Now()
	id, err := m.Next.Inspect(ctx, token)

	if err != nil {
		lvl := slog.LevelWarn
		if errors.Is(err, ErrUnauthenticated) {
			lvl = slog.LevelDebug
		}
		m.Logger.Log(ctx, lvl, "IDENTITY_INSPECT_FAILED",
			"err", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	m.Logger.Debug("IDENTITY_RESOLVED",
		"user_id", id.UserID,
		"session_id", id.SessionID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return id, nil
}

// Invalidate is a no-op: static identities are never cached.
func (a *StaticAuther) Invalidate(string) {}

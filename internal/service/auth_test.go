package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/roster-push-service/config"
)

func TestStaticAuther(t *testing.T) {
	a := NewStaticAuther([]config.StaticIdentity{
		{Token: "t-1", SessionID: "s-1", UserID: "u-1", Permissions: []string{PermissionAdmin}},
	})

	id, err := a.Inspect(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.True(t, id.HasPermission(PermissionAdmin))

	_, err = a.Inspect(context.Background(), "nope")
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = a.Inspect(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func newIntrospectServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req introspectRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		switch req.Token {
		case "good":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"active":      true,
				"session_id":  "s-1",
				"user_id":     "u-1",
				"faculty_id":  "10",
				"permissions": []string{"roster:read"},
			})
		case "inactive":
			_ = json.NewEncoder(w).Encode(map[string]any{"active": false})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteAuther(t *testing.T) {
	var calls atomic.Int32
	srv := newIntrospectServer(t, &calls)

	a := NewRemoteAuther(config.AuthConfig{
		IntrospectURL: srv.URL,
		CacheTTL:      time.Minute,
		CacheSize:     16,
	}, srv.Client(), slog.New(slog.DiscardHandler))

	id, err := a.Inspect(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "10", id.FacultyID)
	assert.Equal(t, []string{"roster:read"}, id.Permissions)

	_, err = a.Inspect(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second lookup is served from cache")

	a.Invalidate("u-1")
	_, err = a.Inspect(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "invalidation forces a fresh introspection")

	_, err = a.Inspect(context.Background(), "inactive")
	require.ErrorIs(t, err, ErrUnauthenticated)
	_, err = a.Inspect(context.Background(), "bad")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRemoteAuther_RejectionsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := newIntrospectServer(t, &calls)

	a := NewRemoteAuther(config.AuthConfig{IntrospectURL: srv.URL, CacheTTL: time.Minute}, srv.Client(), slog.New(slog.DiscardHandler))
	for range 10 {
		_, err := a.Inspect(context.Background(), "bad")
		require.ErrorIs(t, err, ErrUnauthenticated)
	}

	_, err := a.Inspect(context.Background(), "good")
	require.NoError(t, err)
}

func TestIdentityContext(t *testing.T) {
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	a := NewStaticAuther([]config.StaticIdentity{{Token: "t", SessionID: "s", UserID: "u"}})
	id, err := a.Inspect(context.Background(), "t")
	require.NoError(t, err)

	got, ok := IdentityFromContext(WithIdentity(context.Background(), id))
	require.True(t, ok)
	assert.Same(t, id, got)
}

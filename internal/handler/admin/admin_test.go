package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/roster-push-service/config"
	"github.com/webitel/roster-push-service/internal/domain/fanout"
	"github.com/webitel/roster-push-service/internal/domain/model"
	"github.com/webitel/roster-push-service/internal/domain/registry"
	"github.com/webitel/roster-push-service/internal/service"
)

func newAdminRouter(t *testing.T) (chi.Router, *registry.Hub) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	hub := registry.NewHub(registry.WithClock(clock))
	t.Cleanup(hub.Shutdown)

	for i, faculty := range []string{"10", "10", "20"} {
		conn := model.NewConnector(context.Background(), model.Identity{
			SessionID: "s-" + string(rune('a'+i)), UserID: "u-" + string(rune('a'+i)), FacultyID: faculty,
		}, model.ConnectMetadata{Transport: "sse"}, hub.QueueSize(), clock.Now())
		require.NoError(t, hub.Register(conn))
	}

	auther := service.NewStaticAuther([]config.StaticIdentity{
		{Token: "op", SessionID: "s-op", UserID: "op", Permissions: []string{service.PermissionAdmin}},
		{Token: "user", SessionID: "s-u", UserID: "u"},
	})
	h := NewAdminHandler(service.NewAdminService(hub, fanout.NewEngine(hub, fanout.WithClock(clock)), clock), auther)

	r := chi.NewRouter()
	h.Mount(r)
	return r, hub
}

func call(r http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_Stats(t *testing.T) {
	r, _ := newAdminRouter(t)

	rec := call(r, http.MethodGet, "/v1/admin/stats", "op", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats model.HubStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.TotalConnections)
	assert.Equal(t, map[string]int{"10": 2, "20": 1}, stats.ByFaculty)
}

func TestAdmin_RequiresPermission(t *testing.T) {
	r, _ := newAdminRouter(t)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodGet, "/v1/admin/stats", "user", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(r, http.MethodPost, "/v1/admin/cleanup", "", "").Code)
}

func TestAdmin_Broadcast(t *testing.T) {
	r, hub := newAdminRouter(t)

	rec := call(r, http.MethodPost, "/v1/admin/broadcast", "op", `{"target":{"faculty_id":"10"},"message":"ping"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res fanout.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Delivered)

	queued := 0
	for _, c := range hub.Snapshot() {
		queued += c.QueueLen()
	}
	assert.Equal(t, 2, queued)

	assert.Equal(t, http.StatusBadRequest,
		call(r, http.MethodPost, "/v1/admin/broadcast", "op", `{"message":""}`).Code)
}

func TestAdmin_Cleanup(t *testing.T) {
	r, _ := newAdminRouter(t)

	rec := call(r, http.MethodPost, "/v1/admin/cleanup", "op", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"evicted":0}`, rec.Body.String())
}

package model

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/roster-push-service/internal/domain/event"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

func newTestConn(t *testing.T, queueSize int) Connector {
	t.Helper()
	id := Identity{SessionID: "s1", UserID: "1", FacultyID: "10", Permissions: []string{"attendance:read"}}
	c := NewConnector(context.Background(), id, ConnectMetadata{Transport: "sse"}, queueSize, time.Now())
	t.Cleanup(c.Close)
	return c
}

func ev(p protocol.Priority) event.Eventer {
	return event.New(protocol.KindRecordChanged, p, nil)
}

func drain(c Connector) []event.Eventer {
	var out []event.Eventer
	for {
		e, ok := c.Pop()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func TestSend_CriticalPreemptsLowerPriority(t *testing.T) {
	c := newTestConn(t, 3)

	low := ev(protocol.PriorityLow)
	n1, n2 := ev(protocol.PriorityNormal), ev(protocol.PriorityNormal)
	require.True(t, c.Send(n1))
	require.True(t, c.Send(low))
	require.True(t, c.Send(n2))

	crit := ev(protocol.PriorityCritical)
	assert.True(t, c.Send(crit))
	assert.Equal(t, uint64(1), c.Dropped())

	got := drain(c)
	require.Len(t, got, 3)
	assert.Equal(t, []string{n1.GetID(), n2.GetID(), crit.GetID()},
		[]string{got[0].GetID(), got[1].GetID(), got[2].GetID()}, "low entry is the victim")
}

func TestSend_CriticalAlwaysEnqueued(t *testing.T) {
	c := newTestConn(t, 2)

	first, second := ev(protocol.PriorityCritical), ev(protocol.PriorityCritical)
	require.True(t, c.Send(first))
	require.True(t, c.Send(second))

	third := ev(protocol.PriorityCritical)
	assert.True(t, c.Send(third))

	got := drain(c)
	require.Len(t, got, 2)
	assert.Equal(t, second.GetID(), got[0].GetID())
	assert.Equal(t, third.GetID(), got[1].GetID())
}

func TestSend_LowRejectedWhenQueueHoldsHigherPriority(t *testing.T) {
	c := newTestConn(t, 2)

	h1, h2 := ev(protocol.PriorityHigh), ev(protocol.PriorityNormal)
	require.True(t, c.Send(h1))
	require.True(t, c.Send(h2))

	assert.False(t, c.Send(ev(protocol.PriorityLow)))
	assert.Equal(t, uint64(1), c.Dropped())

	got := drain(c)
	require.Len(t, got, 2)
	assert.Equal(t, h1.GetID(), got[0].GetID())
	assert.Equal(t, h2.GetID(), got[1].GetID())
}

func TestSend_EqualNonCriticalFavorsFreshness(t *testing.T) {
	c := newTestConn(t, 2)

	old, mid := ev(protocol.PriorityNormal), ev(protocol.PriorityNormal)
	require.True(t, c.Send(old))
	require.True(t, c.Send(mid))

	fresh := ev(protocol.PriorityNormal)
	assert.True(t, c.Send(fresh))

	got := drain(c)
	require.Len(t, got, 2)
	assert.Equal(t, mid.GetID(), got[0].GetID())
	assert.Equal(t, fresh.GetID(), got[1].GetID())
}

func TestSend_HighDoesNotEvictHigh(t *testing.T) {
	c := newTestConn(t, 1)
	require.True(t, c.Send(ev(protocol.PriorityHigh)))
	assert.False(t, c.Send(ev(protocol.PriorityHigh)))
}

func TestNext_WaitsForSend(t *testing.T) {
	c := newTestConn(t, 4)

	want := ev(protocol.PriorityNormal)
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Send(want)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.GetID(), got.GetID())
}

func TestInvalidate_DrainsThenStops(t *testing.T) {
	c := newTestConn(t, 4)
	queued := ev(protocol.PriorityHigh)
	require.True(t, c.Send(queued))

	c.Invalidate("permission_updated")
	assert.False(t, c.Send(ev(protocol.PriorityCritical)), "no new events after invalidation")

	got, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queued.GetID(), got.GetID())

	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, ErrConnectionInvalidated)

	reason, ok := c.Invalidated()
	assert.True(t, ok)
	assert.Equal(t, "permission_updated", reason)
}

func TestClose_Idempotent(t *testing.T) {
	c := newTestConn(t, 1)
	c.Close()
	c.Close()

	_, err := c.Next(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.False(t, c.Send(ev(protocol.PriorityCritical)))
}

func TestTouch_IsMonotonic(t *testing.T) {
	c := newTestConn(t, 1)
	later := time.Now().Add(time.Minute)
	c.Touch(later)
	c.Touch(later.Add(-time.Hour))
	assert.True(t, c.GetLastSeenAt().Equal(later))
}

func TestPermissionsAreCopied(t *testing.T) {
	perms := []string{"a"}
	c := NewConnector(context.Background(), Identity{SessionID: "s", UserID: "u", Permissions: perms}, ConnectMetadata{}, 1, time.Now())
	defer c.Close()

	perms[0] = "b"
	assert.True(t, c.HasPermission("a"))
	assert.False(t, c.HasPermission("b"))
}

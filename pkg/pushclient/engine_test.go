package pushclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/roster-push-service/pkg/protocol"
)

const waitFor = 2 * time.Second

// fakeStream yields whatever the test pushes until it is closed.
type fakeStream struct {
	frames chan any
	once   sync.Once
	done   chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan any, 16), done: make(chan struct{})}
}

func (s *fakeStream) Next() (protocol.Frame, error) {
	select {
	case v := <-s.frames:
		if err, ok := v.(error); ok {
			return protocol.Frame{}, err
		}
		return v.(protocol.Frame), nil
	case <-s.done:
		return protocol.Frame{}, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) push(v any) { s.frames <- v }

// fakeDialer hands out streams or a fixed error, counting every attempt.
type fakeDialer struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
	lastIDs []string
	calls   atomic.Int32
}

func (d *fakeDialer) Dial(_ context.Context, _ Identity, lastEventID string) (Stream, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastIDs = append(d.lastIDs, lastEventID)
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) stream(i int) *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.streams) {
		return nil
	}
	return d.streams[i]
}

type harness struct {
	engine *Engine
	dialer *fakeDialer
	ids    *StaticIdentity
	clock  *clockwork.FakeClock

	mu     sync.Mutex
	frames []protocol.Frame
	errs   []error
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		dialer: &fakeDialer{},
		ids:    NewStaticIdentity(),
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	h.ids.Set(Identity{Token: "t-1", SessionID: "s-1", UserID: "u-1"})

	opts = append([]Option{
		WithClock(h.clock),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithBackoff(time.Second, 8*time.Second),
	}, opts...)
	h.engine = New(h.dialer, h.ids, opts...)
	t.Cleanup(h.engine.Close)

	h.engine.OnAny(func(f protocol.Frame) {
		h.mu.Lock()
		h.frames = append(h.frames, f)
		h.mu.Unlock()
	})
	h.engine.OnError(func(err error) {
		h.mu.Lock()
		h.errs = append(h.errs, err)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) received() []protocol.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]protocol.Frame(nil), h.frames...)
}

func (h *harness) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.engine.State() == s }, waitFor, time.Millisecond,
		"want %s, have %s", s, h.engine.State())
}

func (h *harness) waitFrames(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.received()) == n }, waitFor, time.Millisecond)
}

// connect brings the engine up on stream i.
func (h *harness) connect(t *testing.T, i int) *fakeStream {
	t.Helper()
	require.NoError(t, h.engine.Connect())
	h.waitState(t, StateConnected)
	s := h.dialer.stream(i)
	require.NotNil(t, s)
	return s
}

func frame(id string, kind protocol.Kind) protocol.Frame {
	return protocol.Frame{ID: id, Event: kind, Priority: protocol.PriorityNormal}
}

func TestEngine_ConnectRequiresIdentity(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ids.SignOut(context.Background()))

	assert.ErrorIs(t, h.engine.Connect(), ErrNoIdentity)
	assert.Equal(t, StateDisconnected, h.engine.State())
	assert.Zero(t, h.dialer.calls.Load())
}

func TestEngine_ConnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.connect(t, 0)

	require.NoError(t, h.engine.Connect())
	require.NoError(t, h.engine.Connect())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), h.dialer.calls.Load())
	assert.Equal(t, StateConnected, h.engine.State())
}

func TestEngine_DedupAndHeartbeatFiltering(t *testing.T) {
	h := newHarness(t)
	s := h.connect(t, 0)

	s.push(frame("m-1", protocol.KindRecordChanged))
	s.push(frame("hb-1", protocol.KindHeartbeat))
	s.push(frame("m-1", protocol.KindRecordChanged))
	s.push(frame("m-2", protocol.KindSystemAnnouncement))
	h.waitFrames(t, 2)

	got := h.received()
	assert.Equal(t, "m-1", got[0].ID)
	assert.Equal(t, "m-2", got[1].ID)
	for _, f := range got {
		assert.NotEqual(t, protocol.KindHeartbeat, f.Event)
	}
}

func TestEngine_KindListeners(t *testing.T) {
	h := newHarness(t)

	var announcements atomic.Int32
	off := h.engine.On(protocol.KindSystemAnnouncement, func(protocol.Frame) { announcements.Add(1) })
	h.engine.On(protocol.KindRecordChanged, func(protocol.Frame) { panic("listener bug") })

	s := h.connect(t, 0)
	s.push(frame("m-1", protocol.KindRecordChanged))
	s.push(frame("m-2", protocol.KindSystemAnnouncement))
	h.waitFrames(t, 2)
	assert.Equal(t, int32(1), announcements.Load())

	off()
	s.push(frame("m-3", protocol.KindSystemAnnouncement))
	h.waitFrames(t, 3)
	assert.Equal(t, int32(1), announcements.Load())
	assert.Equal(t, StateConnected, h.engine.State(), "a panicking listener must not take the stream down")
}

func TestEngine_MalformedFrameKeepsStream(t *testing.T) {
	h := newHarness(t)
	s := h.connect(t, 0)

	s.push(&protocol.MalformedError{Raw: []byte("{"), Err: errors.New("unexpected end")})
	s.push(frame("m-1", protocol.KindRecordChanged))
	h.waitFrames(t, 1)

	assert.Equal(t, StateConnected, h.engine.State())
	assert.Equal(t, int32(1), h.dialer.calls.Load())
}

func TestEngine_HeartbeatTimeout(t *testing.T) {
	h := newHarness(t, WithHeartbeatTimeout(90*time.Second))
	s := h.connect(t, 0)

	// t=0: heartbeat, then a marker frame proves the loop has seen it
	s.push(frame("hb-1", protocol.KindHeartbeat))
	s.push(frame("m-1", protocol.KindRecordChanged))
	h.waitFrames(t, 1)

	h.clock.Advance(89 * time.Second)
	assert.Equal(t, StateConnected, h.engine.State())

	h.clock.Advance(2 * time.Second)
	h.waitState(t, StateReconnecting)
}

func TestEngine_InboundTrafficRearmsHeartbeat(t *testing.T) {
	h := newHarness(t, WithHeartbeatTimeout(90*time.Second))
	s := h.connect(t, 0)

	h.clock.Advance(60 * time.Second)
	s.push(frame("m-1", protocol.KindRecordChanged))
	h.waitFrames(t, 1)

	h.clock.Advance(60 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateConnected, h.engine.State())

	h.clock.Advance(31 * time.Second)
	h.waitState(t, StateReconnecting)
}

func TestEngine_BackoffSchedule(t *testing.T) {
	h := newHarness(t, WithMaxAttempts(5))
	h.dialer.setErr(errors.New("connection refused"))

	require.NoError(t, h.engine.Connect())

	// 1s, 2s, 4s, 8s, 8s then the budget is spent
	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second} {
		h.waitState(t, StateReconnecting)
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
		cancel()

		calls := h.dialer.calls.Load()
		h.clock.Advance(delay - time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		require.Equal(t, calls, h.dialer.calls.Load(), "attempt %d fired early", i+1)

		h.clock.Advance(time.Millisecond)
		require.Eventually(t, func() bool { return h.dialer.calls.Load() == calls+1 }, waitFor, time.Millisecond)
	}

	h.waitState(t, StateError)
	require.Eventually(t, func() bool { return len(h.errors()) == 1 }, waitFor, time.Millisecond)
	assert.ErrorIs(t, h.errors()[0], ErrReconnectExhausted)
}

func TestEngine_BackoffResetsAfterConnect(t *testing.T) {
	h := newHarness(t)
	s := h.connect(t, 0)

	// two failures grow the delay to 2s
	h.dialer.setErr(errors.New("refused"))
	_ = s.Close()
	h.waitState(t, StateReconnecting)
	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return h.dialer.calls.Load() == 2 }, waitFor, time.Millisecond)
	h.waitState(t, StateReconnecting)

	h.dialer.setErr(nil)
	h.clock.Advance(2 * time.Second)
	h.waitState(t, StateConnected)

	// next loss starts over at the base delay
	h.dialer.stream(1).Close()
	h.waitState(t, StateReconnecting)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(time.Second)
	h.waitState(t, StateConnected)
	assert.Equal(t, int32(4), h.dialer.calls.Load())
}

func TestEngine_ResumesFromLastEventID(t *testing.T) {
	h := newHarness(t)
	s := h.connect(t, 0)

	s.push(frame("m-7", protocol.KindRecordChanged))
	h.waitFrames(t, 1)
	_ = s.Close()

	h.waitState(t, StateReconnecting)
	h.clock.Advance(time.Second)
	h.waitState(t, StateConnected)

	h.dialer.mu.Lock()
	defer h.dialer.mu.Unlock()
	assert.Equal(t, []string{"", "m-7"}, h.dialer.lastIDs)
}

func TestEngine_UnauthorizedDoesNotRetry(t *testing.T) {
	h := newHarness(t)
	h.dialer.setErr(ErrUnauthorized)

	require.NoError(t, h.engine.Connect())
	require.Eventually(t, func() bool { return len(h.errors()) == 1 }, waitFor, time.Millisecond)
	assert.ErrorIs(t, h.errors()[0], ErrUnauthorized)
	assert.Equal(t, StateDisconnected, h.engine.State())

	h.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), h.dialer.calls.Load())
}

func TestEngine_DisconnectCancelsRetry(t *testing.T) {
	h := newHarness(t)
	s := h.connect(t, 0)

	_ = s.Close()
	h.waitState(t, StateReconnecting)

	h.engine.Disconnect()
	h.waitState(t, StateDisconnected)

	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), h.dialer.calls.Load())
	assert.Equal(t, StateDisconnected, h.engine.State())
}

func TestEngine_SessionRevoked(t *testing.T) {
	var toLogin atomic.Int32
	h := newHarness(t, WithNavigator(NavigatorFunc(func() { toLogin.Add(1) })))
	s := h.connect(t, 0)

	s.push(frame("m-1", protocol.KindSessionRevoked))
	h.waitFrames(t, 1)
	h.waitState(t, StateDisconnected)

	require.Eventually(t, func() bool { return toLogin.Load() == 1 }, waitFor, time.Millisecond)
	_, ok := h.ids.Identity()
	assert.False(t, ok, "revocation signs the caller out")

	h.clock.Advance(time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), h.dialer.calls.Load())
}

func TestEngine_PermissionUpdatedRefreshesIdentity(t *testing.T) {
	h := newHarness(t)
	var refreshed atomic.Int32
	h.ids.RefreshFunc = func(context.Context) (Identity, error) {
		refreshed.Add(1)
		return Identity{Token: "t-2", SessionID: "s-1", UserID: "u-1"}, nil
	}
	s := h.connect(t, 0)

	s.push(frame("m-1", protocol.KindPermissionUpdated))
	h.waitFrames(t, 1)
	require.Eventually(t, func() bool { return refreshed.Load() >= 1 }, waitFor, time.Millisecond)

	id, ok := h.ids.Identity()
	require.True(t, ok)
	assert.Equal(t, "t-2", id.Token)
	assert.Equal(t, StateConnected, h.engine.State())
}

func TestBindIdentity(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ids.SignOut(context.Background()))

	unbind := BindIdentity(h.engine, h.ids)
	defer unbind()

	h.ids.Set(Identity{Token: "t-1", UserID: "u-1"})
	h.waitState(t, StateConnected)

	require.NoError(t, h.ids.SignOut(context.Background()))
	h.waitState(t, StateDisconnected)
}

func TestRoutes_CoverEveryKind(t *testing.T) {
	for k := protocol.KindUnknown + 1; k < protocol.KindCount; k++ {
		r := routes[k]
		assert.True(t, r.deliver || r.liveness, "kind %s has no route", k)
	}
	assert.False(t, routes[protocol.KindHeartbeat].deliver)
}

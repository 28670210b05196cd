// Package pushclient is the resilient client side of the push stream: a single
// event loop owns the connection state machine, heartbeat liveness, reconnect
// backoff, deduplication and typed dispatch.
package pushclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/webitel/roster-push-service/pkg/protocol"
	"golang.org/x/sync/singleflight"
)

// Stream is one open transport. Next returns a *protocol.MalformedError for a
// single bad frame and any other error once the stream is gone.
type Stream interface {
	Next() (protocol.Frame, error)
	Close() error
}

// Dialer opens streams. It returns ErrUnauthorized when the server refuses
// the identity.
type Dialer interface {
	Dial(ctx context.Context, id Identity, lastEventID string) (Stream, error)
}

type (
	Listener      func(protocol.Frame)
	ErrorListener func(error)
	StateListener func(State)
)

// transport events carry the generation of the dial that produced them;
// anything from an older generation is stale and ignored.
type (
	openedEvent struct {
		gen    uint64
		stream Stream
	}
	frameEvent struct {
		gen   uint64
		frame protocol.Frame
	}
	malformedEvent struct {
		gen uint64
		err error
	}
	closedEvent struct {
		gen uint64
		err error
	}
	timerEvent struct {
		heartbeat bool
		seq       uint64
	}
)

type listenerSet struct {
	mu      sync.RWMutex
	next    uint64
	byKind  [protocol.KindCount]map[uint64]Listener
	any     map[uint64]Listener
	onError map[uint64]ErrorListener
	onState map[uint64]StateListener
}

type Engine struct {
	dialer    Dialer
	ids       IdentityProvider
	navigator Navigator
	clock     clockwork.Clock
	logger    *slog.Logger
	cfg       config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// transport and timer events
	events chan any

	// commands queue without bound so Connect/Disconnect never block, even
	// when called from a listener running on the loop
	cmdMu   sync.Mutex
	cmds    []func()
	cmdWake chan struct{}

	state     atomic.Uint32
	listeners listenerSet
	refresh   singleflight.Group

	// loop-owned
	manual      bool
	gen         uint64
	stream      Stream
	cancelDial  context.CancelFunc
	heartbeat   clockwork.Timer
	hbSeq       uint64
	retry       clockwork.Timer
	retrySeq    uint64
	policy      *retryPolicy
	seen        *dedup
	lastEventID string
}

// New builds an engine and starts its loop. Close releases it.
func New(dialer Dialer, ids IdentityProvider, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		dialer:    dialer,
		ids:       ids,
		navigator: cfg.navigator,
		clock:     cfg.clock,
		logger:    cfg.logger,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan any, 64),
		cmdWake:   make(chan struct{}, 1),
		policy:    newRetryPolicy(cfg.baseDelay, cfg.maxDelay, cfg.maxAttempts),
		seen:      newDedup(cfg.dedupSize),
	}
	e.listeners.any = make(map[uint64]Listener)
	e.listeners.onError = make(map[uint64]ErrorListener)
	e.listeners.onState = make(map[uint64]StateListener)

	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Engine) State() State { return State(e.state.Load()) }

// Connect starts the stream for the current identity. It is a no-op while
// connecting or connected.
func (e *Engine) Connect() error {
	if e.ctx.Err() != nil {
		return ErrClosed
	}
	if id, ok := e.ids.Identity(); !ok || !id.Valid() {
		return ErrNoIdentity
	}
	e.command(e.connect)
	return nil
}

// Disconnect closes the stream and cancels pending timers. The engine stays
// down until the next Connect.
func (e *Engine) Disconnect() {
	e.command(e.disconnect)
}

// Close stops the loop for good.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// On registers fn for one event kind and returns its cancel func.
func (e *Engine) On(kind protocol.Kind, fn Listener) func() {
	l := &e.listeners
	l.mu.Lock()
	defer l.mu.Unlock()
	key := l.next
	l.next++
	if l.byKind[kind] == nil {
		l.byKind[kind] = make(map[uint64]Listener)
	}
	l.byKind[kind][key] = fn
	return func() {
		l.mu.Lock()
		delete(l.byKind[kind], key)
		l.mu.Unlock()
	}
}

// OnAny registers a wildcard listener.
func (e *Engine) OnAny(fn Listener) func() {
	return register(&e.listeners, e.listeners.any, fn)
}

func (e *Engine) OnError(fn ErrorListener) func() {
	return register(&e.listeners, e.listeners.onError, fn)
}

func (e *Engine) OnState(fn StateListener) func() {
	return register(&e.listeners, e.listeners.onState, fn)
}

func register[T any](l *listenerSet, m map[uint64]T, fn T) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := l.next
	l.next++
	m[key] = fn
	return func() {
		l.mu.Lock()
		delete(m, key)
		l.mu.Unlock()
	}
}

func (e *Engine) command(fn func()) {
	e.cmdMu.Lock()
	e.cmds = append(e.cmds, fn)
	e.cmdMu.Unlock()

	select {
	case e.cmdWake <- struct{}{}:
	default:
	}
}

func (e *Engine) post(ev any) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *Engine) loop() {
	defer e.wg.Done()
	defer e.teardown()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.cmdWake:
			e.cmdMu.Lock()
			cmds := e.cmds
			e.cmds = nil
			e.cmdMu.Unlock()
			for _, cmd := range cmds {
				cmd()
			}
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev any) {
	switch ev := ev.(type) {
	case openedEvent:
		if ev.gen != e.gen {
			_ = ev.stream.Close()
			return
		}
		e.stream = ev.stream
		e.policy.reset()
		e.armHeartbeat()
		e.setState(StateConnected)
		e.logger.Info("PUSH_CONNECTED", "generation", ev.gen)

	case frameEvent:
		if ev.gen != e.gen || e.State() != StateConnected {
			return
		}
		e.onFrame(ev.frame)

	case malformedEvent:
		if ev.gen != e.gen {
			return
		}
		// any inbound traffic proves liveness, even a bad frame
		e.armHeartbeat()
		e.logger.Warn("PUSH_FRAME_MALFORMED", "err", ev.err)

	case closedEvent:
		if ev.gen != e.gen {
			return
		}
		e.onTransportLost(ev.err)

	case timerEvent:
		switch {
		case ev.heartbeat && ev.seq == e.hbSeq && e.State() == StateConnected:
			e.logger.Warn("PUSH_HEARTBEAT_TIMEOUT", "timeout", e.cfg.heartbeatTimeout)
			e.onTransportLost(ErrHeartbeatTimeout)
		case !ev.heartbeat && ev.seq == e.retrySeq && e.State() == StateReconnecting && !e.manual:
			e.dial()
		}
	}
}

func (e *Engine) connect() {
	switch e.State() {
	case StateConnecting, StateConnected:
		return
	case StateReconnecting:
		e.stopRetry()
	default:
		e.policy.reset()
	}
	e.manual = false
	e.dial()
}

func (e *Engine) disconnect() {
	e.manual = true
	e.stopRetry()
	e.teardown()
	if e.State() != StateDisconnected {
		e.setState(StateDisconnected)
		e.logger.Info("PUSH_DISCONNECTED", "manual", true)
	}
}

func (e *Engine) dial() {
	id, ok := e.ids.Identity()
	if !ok || !id.Valid() {
		e.teardown()
		e.setState(StateDisconnected)
		e.emitError(ErrNoIdentity)
		return
	}

	e.teardown()
	e.gen++
	ctx, cancel := context.WithCancel(e.ctx)
	e.cancelDial = cancel
	e.setState(StateConnecting)

	e.wg.Add(1)
	go e.pump(ctx, e.gen, id, e.lastEventID)
}

// pump runs one dial and forwards everything the stream yields to the loop.
func (e *Engine) pump(ctx context.Context, gen uint64, id Identity, lastEventID string) {
	defer e.wg.Done()

	stream, err := e.dialer.Dial(ctx, id, lastEventID)
	if err != nil {
		e.post(closedEvent{gen: gen, err: err})
		return
	}
	if !e.post(openedEvent{gen: gen, stream: stream}) {
		_ = stream.Close()
		return
	}

	for {
		frame, err := stream.Next()
		switch {
		case err == nil:
			if !e.post(frameEvent{gen: gen, frame: frame}) {
				return
			}
		case protocol.IsMalformed(err):
			if !e.post(malformedEvent{gen: gen, err: err}) {
				return
			}
		default:
			e.post(closedEvent{gen: gen, err: err})
			return
		}
	}
}

func (e *Engine) onTransportLost(cause error) {
	e.teardown()

	if e.manual {
		return
	}
	if errors.Is(cause, ErrUnauthorized) {
		// no retry until a fresh identity arrives
		e.setState(StateDisconnected)
		e.logger.Warn("PUSH_UNAUTHORIZED")
		e.emitError(cause)
		return
	}

	delay, ok := e.policy.next()
	if !ok {
		e.setState(StateError)
		e.logger.Error("PUSH_RECONNECT_EXHAUSTED", "attempts", e.cfg.maxAttempts, "err", cause)
		e.emitError(fmt.Errorf("%w: %w", ErrReconnectExhausted, cause))
		return
	}

	e.retrySeq++
	seq := e.retrySeq
	e.retry = e.clock.AfterFunc(delay, func() {
		e.post(timerEvent{seq: seq})
	})

	e.setState(StateReconnecting)
	e.logger.Info("PUSH_RECONNECT_SCHEDULED",
		"attempt", e.policy.attempt,
		"delay", delay,
		"cause", cause,
	)
}

func (e *Engine) armHeartbeat() {
	if e.heartbeat != nil {
		e.heartbeat.Stop()
	}
	e.hbSeq++
	seq := e.hbSeq
	e.heartbeat = e.clock.AfterFunc(e.cfg.heartbeatTimeout, func() {
		e.post(timerEvent{heartbeat: true, seq: seq})
	})
}

func (e *Engine) stopRetry() {
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	e.retrySeq++
}

// teardown drops the current stream and its heartbeat; bumping the generation
// turns whatever the old pump still posts into stale events.
func (e *Engine) teardown() {
	if e.heartbeat != nil {
		e.heartbeat.Stop()
		e.heartbeat = nil
	}
	e.hbSeq++
	if e.cancelDial != nil {
		e.cancelDial()
		e.cancelDial = nil
	}
	if e.stream != nil {
		_ = e.stream.Close()
		e.stream = nil
	}
	e.gen++
}

func (e *Engine) setState(s State) {
	if State(e.state.Swap(uint32(s))) == s {
		return
	}

	e.listeners.mu.RLock()
	fns := make([]StateListener, 0, len(e.listeners.onState))
	for _, fn := range e.listeners.onState {
		fns = append(fns, fn)
	}
	e.listeners.mu.RUnlock()

	for _, fn := range fns {
		e.safely("state", func() { fn(s) })
	}
}

func (e *Engine) emitError(err error) {
	e.listeners.mu.RLock()
	fns := make([]ErrorListener, 0, len(e.listeners.onError))
	for _, fn := range e.listeners.onError {
		fns = append(fns, fn)
	}
	e.listeners.mu.RUnlock()

	for _, fn := range fns {
		e.safely("error", func() { fn(err) })
	}
}

func (e *Engine) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("PUSH_LISTENER_PANIC", "listener", kind, "panic", r)
		}
	}()
	fn()
}

package pushclient

import "github.com/webitel/roster-push-service/pkg/protocol"

// route is the fixed handling of one event kind.
type route struct {
	// deliver hands the frame to ordinary listeners
	deliver bool
	// liveness frames only re-arm the heartbeat timer
	liveness bool
	// effect runs on the loop after listeners
	effect func(e *Engine, f protocol.Frame)
}

// routes is indexed by kind, so a new kind needs an entry here before the
// table test passes.
var routes = [protocol.KindCount]route{
	protocol.KindUnknown:            {},
	protocol.KindConnected:          {deliver: true},
	protocol.KindDisconnected:       {deliver: true, effect: (*Engine).onServerClosing},
	protocol.KindHeartbeat:          {liveness: true},
	protocol.KindRecordChanged:      {deliver: true},
	protocol.KindPermissionUpdated:  {deliver: true, effect: (*Engine).onPermissionUpdated},
	protocol.KindSessionRevoked:     {deliver: true, effect: (*Engine).onSessionRevoked},
	protocol.KindSystemAnnouncement: {deliver: true},
}

func (e *Engine) onFrame(f protocol.Frame) {
	e.armHeartbeat()

	if !f.Event.Valid() {
		e.logger.Warn("PUSH_FRAME_UNKNOWN_KIND", "event", f.Event)
		return
	}
	r := routes[f.Event]
	if r.liveness {
		return
	}

	if f.ID != "" {
		e.lastEventID = f.ID
	}
	if !e.seen.observe(f.ID) {
		e.logger.Debug("PUSH_FRAME_DUPLICATE", "id", f.ID, "event", f.Event)
		return
	}

	if r.deliver {
		e.deliver(f)
	}
	if r.effect != nil {
		r.effect(e, f)
	}
}

func (e *Engine) deliver(f protocol.Frame) {
	e.listeners.mu.RLock()
	fns := make([]Listener, 0, len(e.listeners.byKind[f.Event])+len(e.listeners.any))
	for _, fn := range e.listeners.byKind[f.Event] {
		fns = append(fns, fn)
	}
	for _, fn := range e.listeners.any {
		fns = append(fns, fn)
	}
	e.listeners.mu.RUnlock()

	for _, fn := range fns {
		e.safely(f.Event.String(), func() { fn(f) })
	}
}

// onServerClosing only logs; the transport close that follows drives the
// state machine.
func (e *Engine) onServerClosing(f protocol.Frame) {
	e.logger.Info("PUSH_SERVER_CLOSING", "payload", string(f.Payload))
}

// onSessionRevoked signs the caller out. The identity callbacks may call back
// into the engine, so they run off the loop.
func (e *Engine) onSessionRevoked(protocol.Frame) {
	e.disconnect()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.ids.SignOut(e.ctx); err != nil {
			e.logger.Error("PUSH_SIGN_OUT_FAILED", "err", err)
		}
		if e.navigator != nil {
			e.navigator.ToLogin()
		}
	}()
}

// onPermissionUpdated refreshes the caller's own identity; bursts collapse
// into one in-flight refresh.
func (e *Engine) onPermissionUpdated(protocol.Frame) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_, err, _ := e.refresh.Do("identity", func() (any, error) {
			return nil, e.ids.Refresh(e.ctx)
		})
		if err != nil {
			e.logger.Error("PUSH_IDENTITY_REFRESH_FAILED", "err", err)
			e.command(func() { e.emitError(err) })
		}
	}()
}

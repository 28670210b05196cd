package pushclient

import (
	"context"
	"sync"
)

// Identity is the caller context a stream is opened with.
type Identity struct {
	Token     string
	SessionID string
	UserID    string
}

func (i Identity) Valid() bool { return i.Token != "" }

// IdentityProvider is the application's auth state as seen by the engine.
type IdentityProvider interface {
	// Identity returns the current identity, if any.
	Identity() (Identity, bool)
	// Refresh reloads the caller's own identity and permissions.
	Refresh(ctx context.Context) error
	// SignOut drops the local session.
	SignOut(ctx context.Context) error
	// OnChange registers fn for identity changes and returns its cancel func.
	OnChange(fn func(Identity, bool)) (cancel func())
}

// Navigator moves the application to its login surface.
type Navigator interface {
	ToLogin()
}

type NavigatorFunc func()

func (f NavigatorFunc) ToLogin() { f() }

// BindIdentity connects e whenever src gains an identity and disconnects it
// when the identity goes away. Call it once at startup; the returned func
// removes the binding.
func BindIdentity(e *Engine, src IdentityProvider) (unbind func()) {
	return src.OnChange(func(_ Identity, ok bool) {
		if !ok {
			e.Disconnect()
			return
		}
		if err := e.Connect(); err != nil {
			e.logger.Warn("PUSH_AUTO_CONNECT_FAILED", "err", err)
		}
	})
}

// StaticIdentity is an in-memory IdentityProvider for CLIs and tests.
type StaticIdentity struct {
	mu        sync.Mutex
	current   Identity
	ok        bool
	next      uint64
	listeners map[uint64]func(Identity, bool)

	// RefreshFunc, when set, runs on Refresh.
	RefreshFunc func(ctx context.Context) (Identity, error)
}

func NewStaticIdentity() *StaticIdentity {
	return &StaticIdentity{listeners: make(map[uint64]func(Identity, bool))}
}

func (s *StaticIdentity) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.ok
}

// Set replaces the identity and notifies listeners.
func (s *StaticIdentity) Set(id Identity) {
	s.update(id, id.Valid())
}

func (s *StaticIdentity) Refresh(ctx context.Context) error {
	if s.RefreshFunc == nil {
		return nil
	}
	id, err := s.RefreshFunc(ctx)
	if err != nil {
		return err
	}
	s.Set(id)
	return nil
}

func (s *StaticIdentity) SignOut(context.Context) error {
	s.update(Identity{}, false)
	return nil
}

func (s *StaticIdentity) OnChange(fn func(Identity, bool)) func() {
	s.mu.Lock()
	key := s.next
	s.next++
	s.listeners[key] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, key)
		s.mu.Unlock()
	}
}

func (s *StaticIdentity) update(id Identity, ok bool) {
	s.mu.Lock()
	s.current, s.ok = id, ok
	fns := make([]func(Identity, bool), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(id, ok)
	}
}

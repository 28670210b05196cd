package pushclient

import "errors"

var (
	// ErrNoIdentity is returned by Connect when no identity is available; the
	// engine never opens an anonymous stream.
	ErrNoIdentity = errors.New("pushclient: no identity")

	// ErrUnauthorized marks a handshake the server refused. The engine does not
	// retry it until a fresh identity arrives.
	ErrUnauthorized = errors.New("pushclient: unauthorized")

	// ErrReconnectExhausted is the only error meant for the end user: reload or
	// sign in again.
	ErrReconnectExhausted = errors.New("pushclient: connection lost, reload or sign in again")

	ErrHeartbeatTimeout = errors.New("pushclient: heartbeat timeout")
	ErrHandshake        = errors.New("pushclient: handshake failed")
	ErrClosed           = errors.New("pushclient: engine closed")
)

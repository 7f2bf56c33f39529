// Package transport defines the duplex channel abstraction the session core
// connects through. A Transport multiplexes named wire channels over one
// persistent connection, surfaces lifecycle transitions through the same
// handler registry as data events, and reconnects on its own according to
// the options it was opened with.
package transport

import (
	"context"
	"errors"
	"time"
)

// Lifecycle channels emitted by every Transport implementation.
const (
	ChannelConnect      = "connect"
	ChannelDisconnect   = "disconnect"
	ChannelConnectError = "connect_error"
)

// ErrNotConnected is returned by Emit when the transport has no live
// connection to the relay.
var ErrNotConnected = errors.New("transport: not connected")

// Handler receives the raw JSON payload delivered on a channel. Lifecycle
// channels carry a small JSON object (possibly empty) describing the
// transition.
type Handler func(data []byte)

// Transport is a reconnecting, event-based duplex channel to the relay.
// On supports multiple independent handlers per channel and returns a
// registration ID; Off is idempotent, so deregistering the same handler
// twice is harmless.
type Transport interface {
	Open(ctx context.Context, addr string, opts Options) error
	Close() error
	Emit(channel string, payload interface{}) error
	On(channel string, h Handler) string
	Off(channel string, id string)
	Connected() bool
}

// Factory produces a fresh Transport instance. The session tears down and
// recreates its transport on every initialization, so it holds a Factory
// rather than a single instance.
type Factory func() Transport

// Auth is the credential payload presented to the relay when opening a
// connection.
type Auth struct {
	Token  string
	UserID string
}

// Options holds connection settings shared by all Transport implementations.
type Options struct {
	Auth           Auth
	Reconnection   bool          // enable automatic reconnection
	MaxReconnects  int           // bounded attempt count per outage
	ReconnectWait  time.Duration // fixed delay between attempts
	ConnectTimeout time.Duration // per-attempt dial timeout
}

// DefaultOptions returns the relay's standard connection settings.
func DefaultOptions() Options {
	return Options{
		Reconnection:   true,
		MaxReconnects:  5,
		ReconnectWait:  1 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

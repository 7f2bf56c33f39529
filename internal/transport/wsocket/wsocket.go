// Package wsocket implements the relay transport contract over a persistent
// WebSocket connection using gobwas/ws. Wire channels are multiplexed as
// JSON text frames carrying a {channel, data} envelope; credentials are
// presented as query parameters on the connection URL.
package wsocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/murmur/chat-client/internal/transport"
)

// frame is the wire envelope: one JSON object per WebSocket text frame.
type frame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Transport is a WebSocket-backed implementation of transport.Transport.
// After a read failure it reconnects on its own, up to MaxReconnects
// attempts with a fixed delay, emitting connect / disconnect /
// connect_error lifecycle events through the handler registry.
type Transport struct {
	mu        sync.Mutex
	conn      net.Conn
	addr      string
	opts      transport.Options
	connected bool
	closed    bool
	epoch     int // increments per established connection; stales old read loops

	writeMu  sync.Mutex // serializes outbound frames
	handlers *transport.HandlerRegistry
}

// New creates an unopened WebSocket transport.
func New() *Transport {
	return &Transport{
		handlers: transport.NewHandlerRegistry(),
	}
}

// Factory returns New as a transport.Factory.
func Factory() transport.Transport {
	return New()
}

// Open dials the relay and starts the read loop. addr is a ws:// or wss://
// URL; the auth token and user ID are appended as query parameters. On
// success the connect lifecycle event is dispatched before Open returns.
func (t *Transport) Open(ctx context.Context, addr string, opts transport.Options) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("wsocket: transport is closed")
	}
	if t.connected {
		t.mu.Unlock()
		return fmt.Errorf("wsocket: already connected")
	}
	t.addr = addr
	t.opts = opts
	t.mu.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		t.dispatchError(err)
		return fmt.Errorf("wsocket: dial %s: %w", addr, err)
	}

	t.startConn(conn)
	return nil
}

// dial establishes one WebSocket connection using the configured timeout
// and auth parameters.
func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	u, err := url.Parse(t.addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	q := u.Query()
	q.Set("token", t.opts.Auth.Token)
	q.Set("user_id", t.opts.Auth.UserID)
	u.RawQuery = q.Encode()

	dialer := ws.Dialer{Timeout: t.opts.ConnectTimeout}
	conn, _, _, err := dialer.Dial(ctx, u.String())
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// startConn installs the connection, spawns its read loop, and announces
// the connect lifecycle event.
func (t *Transport) startConn(conn net.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.epoch++
	epoch := t.epoch
	t.mu.Unlock()

	go t.readLoop(conn, epoch)
	t.handlers.Dispatch(transport.ChannelConnect, []byte("{}"))
}

// readLoop reads frames until the connection fails or the transport is
// closed, then hands off to the reconnect loop if reconnection is enabled.
func (t *Transport) readLoop(conn net.Conn, epoch int) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			t.mu.Lock()
			stale := t.epoch != epoch || t.closed
			if !stale {
				t.connected = false
				t.conn = nil
			}
			closed := t.closed
			t.mu.Unlock()

			if stale {
				return
			}
			t.handlers.Dispatch(transport.ChannelDisconnect, []byte("{}"))
			if !closed && t.opts.Reconnection {
				go t.reconnectLoop()
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("[wsocket] malformed frame: %v", err)
			continue
		}
		if f.Channel == "" {
			log.Printf("[wsocket] frame missing channel")
			continue
		}
		t.handlers.Dispatch(f.Channel, f.Data)
	}
}

// reconnectLoop retries the dial up to MaxReconnects times with the fixed
// ReconnectWait delay. Each failed attempt dispatches connect_error; a
// successful attempt re-enters startConn and resets the attempt budget.
func (t *Transport) reconnectLoop() {
	for attempt := 1; attempt <= t.opts.MaxReconnects; attempt++ {
		time.Sleep(t.opts.ReconnectWait)

		t.mu.Lock()
		if t.closed || t.connected {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), t.opts.ConnectTimeout)
		conn, err := t.dial(ctx)
		cancel()
		if err != nil {
			log.Printf("[wsocket] reconnect attempt %d/%d failed: %v",
				attempt, t.opts.MaxReconnects, err)
			t.dispatchError(err)
			continue
		}

		log.Printf("[wsocket] reconnected after %d attempt(s)", attempt)
		t.startConn(conn)
		return
	}
	log.Printf("[wsocket] giving up after %d reconnect attempts", t.opts.MaxReconnects)
}

// Emit sends a payload on the named wire channel as one JSON text frame.
func (t *Transport) Emit(channel string, payload interface{}) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		return transport.ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wsocket: marshal payload: %w", err)
	}
	out, err := json.Marshal(frame{Channel: channel, Data: data})
	if err != nil {
		return fmt.Errorf("wsocket: marshal frame: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(conn, ws.OpText, out); err != nil {
		return fmt.Errorf("wsocket: write frame: %w", err)
	}
	return nil
}

// On registers a handler for a wire or lifecycle channel.
func (t *Transport) On(channel string, h transport.Handler) string {
	return t.handlers.Add(channel, h)
}

// Off deregisters a handler. It is idempotent.
func (t *Transport) Off(channel string, id string) {
	t.handlers.Remove(channel, id)
}

// Connected reports whether the transport currently has a live connection.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Close tears down the connection and disables reconnection. It is safe to
// call multiple times; a closed transport cannot be reopened.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// dispatchError emits the connect_error lifecycle event with the failure
// text as its payload.
func (t *Transport) dispatchError(err error) {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	t.handlers.Dispatch(transport.ChannelConnectError, payload)
}

package wsocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/murmur/chat-client/internal/transport"
)

// testServer is a minimal WebSocket relay stand-in: it accepts connections,
// performs the upgrade, and exposes each upgraded net.Conn on a channel.
type testServer struct {
	ln    net.Listener
	conns chan net.Conn
	uris  chan string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &testServer{ln: ln, conns: make(chan net.Conn, 4), uris: make(chan string, 4)}
	go s.acceptLoop()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *testServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		upgrader := ws.Upgrader{
			OnRequest: func(uri []byte) error {
				s.uris <- string(uri)
				return nil
			},
		}
		if _, err := upgrader.Upgrade(conn); err != nil {
			conn.Close()
			continue
		}
		s.conns <- conn
	}
}

func (s *testServer) addr() string {
	return fmt.Sprintf("ws://%s/relay", s.ln.Addr())
}

func (s *testServer) waitConn(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func testOptions() transport.Options {
	opts := transport.DefaultOptions()
	opts.Auth = transport.Auth{Token: "tok-123", UserID: "user-a"}
	opts.Reconnection = false
	opts.ConnectTimeout = 2 * time.Second
	return opts
}

func TestOpenDispatchesConnect(t *testing.T) {
	srv := newTestServer(t)
	tr := New()
	defer tr.Close()

	connects := 0
	tr.On(transport.ChannelConnect, func([]byte) { connects++ })

	if err := tr.Open(context.Background(), srv.addr(), testOptions()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if connects != 1 {
		t.Errorf("expected 1 connect event, got %d", connects)
	}
	if !tr.Connected() {
		t.Error("transport should report connected")
	}

	// Auth parameters travel as query parameters on the request URI.
	uri := <-srv.uris
	if !strings.Contains(uri, "token=tok-123") || !strings.Contains(uri, "user_id=user-a") {
		t.Errorf("auth params missing from request URI: %s", uri)
	}
}

func TestEmitWritesFrame(t *testing.T) {
	srv := newTestServer(t)
	tr := New()
	defer tr.Close()

	if err := tr.Open(context.Background(), srv.addr(), testOptions()); err != nil {
		t.Fatalf("open: %v", err)
	}
	conn := srv.waitConn(t)

	if err := tr.Emit("message", map[string]string{"content": "hello"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadClientText(conn)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if f.Channel != "message" {
		t.Errorf("expected channel 'message', got %q", f.Channel)
	}
	if !strings.Contains(string(f.Data), "hello") {
		t.Errorf("payload missing content: %s", f.Data)
	}
}

func TestInboundFrameDispatch(t *testing.T) {
	srv := newTestServer(t)
	tr := New()
	defer tr.Close()

	received := make(chan []byte, 1)
	tr.On("typing", func(data []byte) { received <- data })

	if err := tr.Open(context.Background(), srv.addr(), testOptions()); err != nil {
		t.Fatalf("open: %v", err)
	}
	conn := srv.waitConn(t)

	out := []byte(`{"channel":"typing","data":{"type":"typing","isTyping":true}}`)
	if err := wsutil.WriteServerMessage(conn, ws.OpText, out); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case data := <-received:
		if !strings.Contains(string(data), "isTyping") {
			t.Errorf("unexpected payload: %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched frame")
	}
}

func TestEmitNotConnected(t *testing.T) {
	tr := New()
	if err := tr.Emit("message", map[string]string{}); err != transport.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestOpenDialFailure(t *testing.T) {
	tr := New()
	defer tr.Close()

	errs := make(chan []byte, 1)
	tr.On(transport.ChannelConnectError, func(data []byte) { errs <- data })

	opts := testOptions()
	opts.ConnectTimeout = 200 * time.Millisecond
	// Reserved port with nothing listening.
	err := tr.Open(context.Background(), "ws://127.0.0.1:1", opts)
	if err == nil {
		t.Fatal("expected dial error")
	}
	select {
	case <-errs:
	default:
		t.Error("expected connect_error event on dial failure")
	}
	if tr.Connected() {
		t.Error("transport must not report connected after dial failure")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	srv := newTestServer(t)
	tr := New()
	defer tr.Close()

	connects := make(chan struct{}, 4)
	disconnects := make(chan struct{}, 4)
	tr.On(transport.ChannelConnect, func([]byte) { connects <- struct{}{} })
	tr.On(transport.ChannelDisconnect, func([]byte) { disconnects <- struct{}{} })

	opts := testOptions()
	opts.Reconnection = true
	opts.MaxReconnects = 5
	opts.ReconnectWait = 50 * time.Millisecond

	if err := tr.Open(context.Background(), srv.addr(), opts); err != nil {
		t.Fatalf("open: %v", err)
	}
	<-connects
	conn := srv.waitConn(t)

	// Server-side drop: the client must notice, emit disconnect, and dial
	// back in on its own.
	conn.Close()

	select {
	case <-disconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect event")
	}
	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect")
	}

	srv.waitConn(t)
	if !tr.Connected() {
		t.Error("transport should be connected after reconnect")
	}
}

func TestCloseIdempotent(t *testing.T) {
	srv := newTestServer(t)
	tr := New()

	if err := tr.Open(context.Background(), srv.addr(), testOptions()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if tr.Connected() {
		t.Error("closed transport must not report connected")
	}
}

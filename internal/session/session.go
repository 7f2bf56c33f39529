// Package session implements the ChannelSession: the client-side manager
// for one persistent connection to the Murmur relay. It owns the transport,
// a subscriber registry, the per-epoch dedup cache, and the typing
// auto-clear timer, and multiplexes chat text, presence, typing indicators,
// and call signaling over the one channel.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/murmur/chat-client/internal/auth"
	"github.com/murmur/chat-client/internal/dedup"
	"github.com/murmur/chat-client/internal/metrics"
	"github.com/murmur/chat-client/internal/protocol"
	"github.com/murmur/chat-client/internal/transport"
)

// State is the session connection state.
type State string

// Session states. Exactly one holder; mutated only by the session's own
// lifecycle handlers.
const (
	StateDisconnected State = protocol.StatusDisconnected
	StateConnecting   State = protocol.StatusConnecting
	StateConnected    State = protocol.StatusConnected
)

// dataChannels are the inbound wire channels the session listens on.
var dataChannels = []string{
	protocol.TypeMessage,
	protocol.TypeUserConnected,
	protocol.TypeTyping,
	protocol.TypeVoiceCall,
	protocol.TypeIceCandidate,
}

// Config holds session tuning parameters.
type Config struct {
	Addr      string            // relay address handed to the transport
	Transport transport.Options // connection settings (auth filled in per connect)

	TypingClearDelay time.Duration // auto "stopped typing" delay (default: 3s)
	OfferWait        time.Duration // AwaitOffer timeout (default: 5s)

	Cache dedup.Cache // dedup cache; in-memory LRU when nil
}

// DefaultConfig returns the standard session settings for the given relay
// address.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:             addr,
		Transport:        transport.DefaultOptions(),
		TypingClearDelay: 3 * time.Second,
		OfferWait:        5 * time.Second,
	}
}

// ChannelSession multiplexes the relay's logical message kinds over one
// transport connection and exposes a publish/subscribe surface to the
// application. Create one per authenticated context and Close it on
// logout; Close is idempotent and the session can be re-initialized after.
type ChannelSession struct {
	creds auth.Provider
	dial  transport.Factory
	cfg   Config
	seen  dedup.Cache

	mu           sync.Mutex
	tr           transport.Transport // nil until first successful Initialize
	pending      transport.Transport // transport being opened by Initialize
	state        State
	initializing bool
	subscribers  map[string]func(protocol.Event)
	typingTimer  *time.Timer
}

// New creates a ChannelSession using the given credential provider and
// transport factory. The session does not connect until Initialize.
func New(creds auth.Provider, dial transport.Factory, cfg Config) *ChannelSession {
	if cfg.TypingClearDelay <= 0 {
		cfg.TypingClearDelay = 3 * time.Second
	}
	if cfg.OfferWait <= 0 {
		cfg.OfferWait = 5 * time.Second
	}
	if cfg.Transport.ConnectTimeout <= 0 {
		cfg.Transport = transport.DefaultOptions()
	}
	seen := cfg.Cache
	if seen == nil {
		seen = dedup.NewMemoryCache(0)
	}
	return &ChannelSession{
		creds:       creds,
		dial:        dial,
		cfg:         cfg,
		seen:        seen,
		state:       StateDisconnected,
		subscribers: make(map[string]func(protocol.Event)),
	}
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// Initialize establishes the relay connection. It is a silent no-op when no
// identity is available or when the transport is already connected.
// Otherwise it tears down any prior transport, fetches the auth token, and
// opens a fresh transport instance. Failures force the session to
// disconnected, broadcast the status, and are returned to the caller.
func (s *ChannelSession) Initialize(ctx context.Context) error {
	if s.creds.UserID() == "" {
		return nil
	}

	s.mu.Lock()
	if s.initializing || (s.tr != nil && s.tr.Connected()) {
		s.mu.Unlock()
		return nil
	}
	s.initializing = true
	s.state = StateConnecting
	prev := s.tr
	s.tr = nil
	s.mu.Unlock()

	metrics.ConnectionState.Set(metrics.StateConnecting)
	s.broadcastStatus(protocol.StatusConnecting)

	if prev != nil {
		if err := prev.Close(); err != nil {
			log.Printf("[session] close prior transport: %v", err)
		}
	}

	token, err := s.creds.Token(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("session: fetch auth token: %w", err))
	}

	tr := s.dial()
	s.mu.Lock()
	s.pending = tr
	s.mu.Unlock()
	s.registerHandlers(tr)

	opts := s.cfg.Transport
	opts.Auth = transport.Auth{Token: token, UserID: s.creds.UserID()}
	if err := tr.Open(ctx, s.cfg.Addr, opts); err != nil {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		tr.Close()
		return s.fail(fmt.Errorf("session: open transport: %w", err))
	}

	s.mu.Lock()
	s.tr = tr
	s.pending = nil
	s.initializing = false
	s.mu.Unlock()
	return nil
}

// fail forces the session to disconnected, broadcasts the status, and
// propagates the error to the initializing caller.
func (s *ChannelSession) fail(err error) error {
	s.mu.Lock()
	s.state = StateDisconnected
	s.initializing = false
	s.mu.Unlock()

	metrics.ConnectionState.Set(metrics.StateDisconnected)
	s.broadcastStatus(protocol.StatusDisconnected)
	return err
}

// registerHandlers installs the lifecycle and data channel listeners on a
// freshly created transport. Handlers capture the transport so events from
// torn-down instances can be recognized and ignored.
func (s *ChannelSession) registerHandlers(tr transport.Transport) {
	tr.On(transport.ChannelConnect, func([]byte) { s.handleConnect(tr) })
	tr.On(transport.ChannelDisconnect, func([]byte) { s.handleDrop(tr, protocol.StatusDisconnected) })
	tr.On(transport.ChannelConnectError, func(data []byte) {
		if len(data) > 0 {
			log.Printf("[session] connection error: %s", data)
		}
		s.handleDrop(tr, protocol.StatusDisconnected)
	})

	for _, ch := range dataChannels {
		channel := ch
		tr.On(channel, func(data []byte) { s.route(channel, data) })
	}
}

// current reports whether tr is the session's live or in-flight transport.
func (s *ChannelSession) current(tr transport.Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tr == s.tr || tr == s.pending
}

// handleConnect starts a new connection epoch: the dedup cache is cleared
// (a new epoch may legitimately redeliver server state), presence is
// announced to the relay, and the status change is broadcast.
func (s *ChannelSession) handleConnect(tr transport.Transport) {
	if !s.current(tr) {
		return
	}

	s.mu.Lock()
	s.state = StateConnected
	s.mu.Unlock()
	s.seen.Clear()
	metrics.ConnectionState.Set(metrics.StateConnected)

	announce := protocol.Event{
		Type:      protocol.TypeUserConnected,
		UserID:    s.creds.UserID(),
		SenderID:  s.creds.UserID(),
		Timestamp: protocol.NowTimestamp(),
	}
	if err := tr.Emit(protocol.TypeUserConnected, announce); err != nil {
		log.Printf("[session] presence announce failed: %v", err)
	}

	s.broadcastStatus(protocol.StatusConnected)
}

// handleDrop records a transport-reported disconnect or connection error
// and re-broadcasts the status to all subscribers.
func (s *ChannelSession) handleDrop(tr transport.Transport, status string) {
	if !s.current(tr) {
		return
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()

	metrics.ConnectionState.Set(metrics.StateDisconnected)
	s.broadcastStatus(status)
}

// State returns the current session state.
func (s *ChannelSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close releases the transport, clears all subscribers and timers, and
// resets the state to disconnected. It is safe to call multiple times, and
// Initialize may be called again afterwards.
func (s *ChannelSession) Close() error {
	s.mu.Lock()
	tr := s.tr
	pending := s.pending
	s.tr = nil
	s.pending = nil
	s.initializing = false
	s.state = StateDisconnected
	s.subscribers = make(map[string]func(protocol.Event))
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()

	s.seen.Clear()
	metrics.ConnectionState.Set(metrics.StateDisconnected)

	var err error
	if pending != nil {
		err = pending.Close()
	}
	if tr != nil {
		err = tr.Close()
	}
	return err
}

// ---------------------------------------------------------------------------
// Inbound event routing
// ---------------------------------------------------------------------------

// route applies the delivery rules to one inbound event:
//
//  1. Self-originated events are dropped, except typing: self-typing
//     updates stay observable (multi-tab echo).
//  2. message / voice_call / ice-candidate events are deduplicated
//     per epoch before fan-out.
//  3. typing events bypass dedup entirely but are delivered only when
//     addressed to the local identity; a repeated "still typing" signal is
//     legitimate and must not be suppressed.
func (s *ChannelSession) route(channel string, data []byte) {
	ev, err := protocol.ParseEvent(data)
	if err != nil {
		log.Printf("[session] malformed event on %s: %v", channel, err)
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		return
	}

	localID := s.creds.UserID()
	if ev.SenderID == localID && ev.Type != protocol.TypeTyping {
		metrics.EventsDropped.WithLabelValues("self_echo").Inc()
		return
	}

	switch ev.Type {
	case protocol.TypeTyping:
		if ev.ReceiverID != localID {
			metrics.EventsDropped.WithLabelValues("not_receiver").Inc()
			return
		}
	case protocol.TypeMessage, protocol.TypeVoiceCall, protocol.TypeIceCandidate:
		if s.seen.Seen(ev.DedupKey()) {
			metrics.EventsDeduplicated.WithLabelValues(ev.Type).Inc()
			return
		}
	}

	s.fanout(ev)
}

// fanout delivers an event to every subscriber. Callbacks run outside the
// session lock so they may subscribe or unsubscribe freely.
func (s *ChannelSession) fanout(ev protocol.Event) {
	s.mu.Lock()
	subs := make([]func(protocol.Event), 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		subs = append(subs, cb)
	}
	s.mu.Unlock()

	metrics.EventsDelivered.WithLabelValues(ev.Type).Inc()
	for _, cb := range subs {
		cb(ev)
	}
}

// broadcastStatus fans a connection_status event out to all subscribers,
// stamped with the transition time.
func (s *ChannelSession) broadcastStatus(status string) {
	s.fanout(protocol.Event{
		Type:             protocol.TypeConnectionStatus,
		ConnectionStatus: status,
		Timestamp:        protocol.NowTimestamp(),
	})
}

// Subscribe registers a callback for every event the session delivers and
// returns its unsubscribe function.
func (s *ChannelSession) Subscribe(cb func(protocol.Event)) func() {
	id := uuid.NewString()
	s.mu.Lock()
	s.subscribers[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// ---------------------------------------------------------------------------
// Outbound sending
// ---------------------------------------------------------------------------

// Send transmits an event to the relay, fire-and-forget. While disconnected
// the event is dropped and a reconnect attempt is triggered instead.
// Non-typing events are deduplicated against this epoch's sent set, so a
// double-click or retry does not transmit twice; typing events always go
// out. Transmission errors are logged, never returned.
func (s *ChannelSession) Send(ev protocol.Event) {
	if ev.SenderID == "" {
		ev.SenderID = s.creds.UserID()
	}
	if ev.Timestamp == "" {
		ev.Timestamp = protocol.NowTimestamp()
	}

	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()

	if tr == nil || !tr.Connected() {
		metrics.EventsDropped.WithLabelValues("disconnected").Inc()
		go s.reconnect()
		return
	}

	if ev.Type != protocol.TypeTyping && s.seen.Seen(ev.DedupKey()) {
		metrics.EventsDeduplicated.WithLabelValues(ev.Type).Inc()
		return
	}

	if err := tr.Emit(ev.Type, ev); err != nil {
		log.Printf("[session] send %s failed: %v", ev.Type, err)
		if !tr.Connected() {
			go s.reconnect()
		}
		return
	}
	metrics.EventsSent.WithLabelValues(ev.Type).Inc()
}

// reconnect runs one fire-and-forget initialization attempt.
func (s *ChannelSession) reconnect() {
	metrics.ReconnectAttempts.Inc()

	timeout := s.cfg.Transport.ConnectTimeout + s.cfg.Transport.ReconnectWait
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Initialize(ctx); err != nil {
		log.Printf("[session] reconnect failed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Typing indicator
// ---------------------------------------------------------------------------

// SendTyping sends a typing indicator to the given receiver. When isTyping
// is true a timer is armed that sends the matching "stopped typing" signal
// after TypingClearDelay unless the caller refreshes it first. Each call
// cancels the previous timer, so at most one auto-clear is ever pending.
func (s *ChannelSession) SendTyping(receiverID string, isTyping bool) {
	s.mu.Lock()
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	s.mu.Unlock()

	s.Send(protocol.Event{
		Type:       protocol.TypeTyping,
		SenderID:   s.creds.UserID(),
		ReceiverID: receiverID,
		IsTyping:   isTyping,
		Timestamp:  protocol.NowTimestamp(),
	})

	if isTyping {
		s.mu.Lock()
		s.typingTimer = time.AfterFunc(s.cfg.TypingClearDelay, func() {
			s.SendTyping(receiverID, false)
		})
		s.mu.Unlock()
	}
}

// ---------------------------------------------------------------------------
// Pending offer lookup
// ---------------------------------------------------------------------------

// AwaitOffer waits for the next voice_call event from the given sender that
// carries an offer payload and returns its call data. It returns nil when
// no such event arrives within OfferWait, when the context is cancelled, or
// immediately when the session is not connected. The transient listener it
// registers does not interfere with the session's own routing: both receive
// the event.
func (s *ChannelSession) AwaitOffer(ctx context.Context, senderID string) *protocol.CallData {
	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()

	if tr == nil || !tr.Connected() {
		return nil
	}

	result := make(chan *protocol.CallData, 1)
	var once sync.Once

	id := tr.On(protocol.TypeVoiceCall, func(data []byte) {
		ev, err := protocol.ParseEvent(data)
		if err != nil {
			return
		}
		if ev.SenderID != senderID || ev.CallData == nil || ev.CallData.Offer == nil {
			return
		}
		once.Do(func() { result <- ev.CallData })
	})
	// Off is idempotent; both resolution paths below also deregister.
	defer tr.Off(protocol.TypeVoiceCall, id)

	timer := time.NewTimer(s.cfg.OfferWait)
	defer timer.Stop()

	select {
	case call := <-result:
		tr.Off(protocol.TypeVoiceCall, id)
		return call
	case <-timer.C:
		tr.Off(protocol.TypeVoiceCall, id)
		return nil
	case <-ctx.Done():
		return nil
	}
}

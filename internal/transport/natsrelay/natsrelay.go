// Package natsrelay implements the relay transport contract over NATS
// subjects. Each wire channel maps to a relay.<channel>.<target> subject,
// where the target is either a user ID for point-to-point delivery or "all"
// for broadcast. Reconnection is delegated to the NATS client, configured
// from the shared transport options.
package natsrelay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/murmur/chat-client/internal/transport"
)

// SubjectPrefix is the first token of every relay subject.
const SubjectPrefix = "relay"

// BroadcastTarget is the subject target token for events addressed to
// everyone rather than a single user.
const BroadcastTarget = "all"

// Transport is a NATS-backed implementation of transport.Transport.
type Transport struct {
	mu       sync.Mutex
	conn     *nats.Conn
	subs     []*nats.Subscription
	userID   string
	handlers *transport.HandlerRegistry
}

// New creates an unopened NATS transport.
func New() *Transport {
	return &Transport{
		handlers: transport.NewHandlerRegistry(),
	}
}

// Factory returns New as a transport.Factory.
func Factory() transport.Transport {
	return New()
}

// Open connects to the NATS relay at addr (nats://host:port), subscribes to
// the caller's point-to-point and broadcast subjects, and dispatches the
// connect lifecycle event. Reconnection settings from opts are mapped onto
// the NATS client options.
func (t *Transport) Open(ctx context.Context, addr string, opts transport.Options) error {
	maxReconnects := opts.MaxReconnects
	if !opts.Reconnection {
		maxReconnects = 0
	}

	natsOpts := []nats.Option{
		nats.Name("murmur-client-" + opts.Auth.UserID),
		nats.Token(opts.Auth.Token),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[natsrelay] disconnected: %v", err)
			}
			t.handlers.Dispatch(transport.ChannelDisconnect, []byte("{}"))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[natsrelay] reconnected to %s", nc.ConnectedUrl())
			t.handlers.Dispatch(transport.ChannelConnect, []byte("{}"))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[natsrelay] connection closed")
		}),
	}

	nc, err := nats.Connect(addr, natsOpts...)
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		t.handlers.Dispatch(transport.ChannelConnectError, payload)
		return fmt.Errorf("natsrelay: connect %s: %w", addr, err)
	}

	t.mu.Lock()
	t.conn = nc
	t.userID = opts.Auth.UserID
	t.mu.Unlock()

	for _, target := range []string{opts.Auth.UserID, BroadcastTarget} {
		subject := SubjectPrefix + ".*." + target
		sub, err := nc.Subscribe(subject, t.deliver)
		if err != nil {
			nc.Close()
			return fmt.Errorf("natsrelay: subscribe %s: %w", subject, err)
		}
		t.mu.Lock()
		t.subs = append(t.subs, sub)
		t.mu.Unlock()
	}

	t.handlers.Dispatch(transport.ChannelConnect, []byte("{}"))
	return nil
}

// deliver maps an inbound NATS message back to its wire channel and hands
// the payload to the registered handlers.
func (t *Transport) deliver(msg *nats.Msg) {
	channel, ok := channelFromSubject(msg.Subject)
	if !ok {
		log.Printf("[natsrelay] unexpected subject %q", msg.Subject)
		return
	}
	t.handlers.Dispatch(channel, msg.Data)
}

// Emit publishes the payload on the subject for the given wire channel. The
// payload's receiverId field, when present, selects point-to-point delivery;
// otherwise the event is broadcast.
func (t *Transport) Emit(channel string, payload interface{}) error {
	t.mu.Lock()
	nc := t.conn
	t.mu.Unlock()

	if nc == nil || !nc.IsConnected() {
		return transport.ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("natsrelay: marshal payload: %w", err)
	}

	var addr struct {
		ReceiverID string `json:"receiverId"`
	}
	_ = json.Unmarshal(data, &addr)

	if err := nc.Publish(subjectFor(channel, addr.ReceiverID), data); err != nil {
		return fmt.Errorf("natsrelay: publish %s: %w", channel, err)
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

// Connected reports whether the NATS connection is currently established.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	nc := t.conn
	t.mu.Unlock()
	return nc != nil && nc.IsConnected()
}

// Close drains the subscriptions and closes the NATS connection. It is safe
// to call multiple times.
func (t *Transport) Close() error {
	t.mu.Lock()
	nc := t.conn
	subs := t.subs
	t.conn = nil
	t.subs = nil
	t.mu.Unlock()

	if nc == nil {
		return nil
	}
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[natsrelay] drain %s: %v", sub.Subject, err)
		}
	}
	nc.Close()
	return nil
}

// subjectFor builds the publish subject for a wire channel and receiver.
// An empty receiver selects the broadcast target.
func subjectFor(channel, receiverID string) string {
	target := receiverID
	if target == "" {
		target = BroadcastTarget
	}
	return SubjectPrefix + "." + channel + "." + target
}

// channelFromSubject extracts the wire channel from a relay subject.
func channelFromSubject(subject string) (string, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != SubjectPrefix {
		return "", false
	}
	return parts[1], true
}

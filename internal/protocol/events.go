// Package protocol defines the event model exchanged between the Murmur
// relay and its clients. All events are serialized as JSON, carry a type
// discriminator, and follow a loose-union layout: which fields are populated
// depends on the event type.
package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Event types. The data event types double as the wire channel names the
// relay multiplexes over one connection.
const (
	TypeMessage          = "message"
	TypeConnectionStatus = "connection_status"
	TypeUserConnected    = "user_connected"
	TypeTyping           = "typing"
	TypeVoiceCall        = "voice_call"
	TypeIceCandidate     = "ice-candidate"
)

// Connection status values carried by connection_status events.
const (
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Call signaling subtypes carried in CallData.
const (
	CallRequest  = "request"
	CallAccepted = "accepted"
	CallRejected = "rejected"
	CallEnded    = "ended"
	CallBusy     = "busy"
)

// ---------------------------------------------------------------------------
// Event structs
// ---------------------------------------------------------------------------

// SessionDescription is an SDP payload attached to call signaling events.
type SessionDescription struct {
	Type string `json:"type,omitempty"` // "offer" or "answer"
	SDP  string `json:"sdp,omitempty"`
}

// CallData holds the call-signaling portion of a voice_call event: the
// signaling subtype plus optional SDP offer/answer payloads.
type CallData struct {
	Type   string              `json:"type"`
	Offer  *SessionDescription `json:"offer,omitempty"`
	Answer *SessionDescription `json:"answer,omitempty"`
}

// Event is the discriminated record exchanged with the relay. Exactly one
// type tag is set per event; the remaining fields are populated per variant:
//
//	message           Content, SenderID, ReceiverID, Timestamp
//	connection_status ConnectionStatus, Timestamp
//	user_connected    UserID, SenderID, Timestamp
//	typing            SenderID, ReceiverID, IsTyping, Timestamp
//	voice_call        SenderID, ReceiverID, CallData, Timestamp
//	ice-candidate     SenderID, ReceiverID, Candidate, Timestamp
type Event struct {
	Type             string          `json:"type"`
	Content          string          `json:"content,omitempty"`
	SenderID         string          `json:"senderId,omitempty"`
	ReceiverID       string          `json:"receiverId,omitempty"`
	Timestamp        string          `json:"timestamp,omitempty"` // ISO-8601
	ConnectionStatus string          `json:"connectionStatus,omitempty"`
	UserID           string          `json:"userId,omitempty"`
	IsTyping         bool            `json:"isTyping"`
	CallData         *CallData       `json:"callData,omitempty"`
	Candidate        json.RawMessage `json:"candidate,omitempty"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseEvent decodes raw wire bytes into an Event. An error is returned for
// malformed JSON or a missing type discriminator.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("protocol: failed to parse event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	return ev, nil
}

// DedupKey derives the deterministic fingerprint used as the identity of a
// logical event for at-most-once delivery. Two events with the same type,
// sender, receiver, timestamp and serialized call data have the same key
// regardless of arrival order or count.
func (e Event) DedupKey() string {
	var call []byte
	if e.CallData != nil {
		call, _ = json.Marshal(e.CallData)
	}
	h := sha256.New()
	h.Write([]byte(e.Type))
	h.Write([]byte{'|'})
	h.Write([]byte(e.SenderID))
	h.Write([]byte{'|'})
	h.Write([]byte(e.ReceiverID))
	h.Write([]byte{'|'})
	h.Write([]byte(e.Timestamp))
	h.Write([]byte{'|'})
	h.Write(call)
	return hex.EncodeToString(h.Sum(nil))
}

// NowTimestamp returns the current time as the ISO-8601 string the wire
// schema uses for all timestamps.
func NowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Package transport defines the capability the connection manager drives to talk to
// the chat network. The wire protocol lives behind it.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a transport that has been closed.
var ErrClosed = errors.New("transport: closed")

// Status is the transport's own view of the socket.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusPairing      Status = "pairing"
	StatusConnected    Status = "connected"
)

// ConnectResult is returned by Connect. Either PairingArtifact is set (fresh session
// needs a scan) or Status is StatusConnected (stored session was still valid).
type ConnectResult struct {
	Status          Status
	PairingArtifact string
	Self            Self
}

// Self holds the account's own addresses on the network.
type Self struct {
	Phone    string
	OpaqueID string
}

// ContentKind classifies the payload of an inbound protocol message.
type ContentKind string

const (
	ContentNone     ContentKind = ""
	ContentText     ContentKind = "text"
	ContentImage    ContentKind = "image"
	ContentVideo    ContentKind = "video"
	ContentDocument ContentKind = "document"
	ContentAudio    ContentKind = "audio"
	ContentSticker  ContentKind = "sticker"
	ContentLocation ContentKind = "location"
	ContentContact  ContentKind = "contact"
	ContentReaction ContentKind = "reaction"
	ContentProtocol ContentKind = "protocol"
)

// Content is the raw payload of an inbound message.
type Content struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Caption  string      `json:"caption,omitempty"`
	FileName string      `json:"file_name,omitempty"`
}

// MessageKey identifies a protocol message and where it came from.
type MessageKey struct {
	ID            string `json:"id"`
	RemoteAddress string `json:"remote_address"`
	Participant   string `json:"participant,omitempty"`
	FromMe        bool   `json:"from_me"`
}

// OutboundContent is what the dispatcher hands the transport.
type OutboundContent struct {
	Text string `json:"text"`
}

// SendResult carries the protocol id the network assigned. An empty ID means the
// send cannot be tracked and is treated as a failure by callers.
type SendResult struct {
	ID string `json:"id"`
}

// EventType discriminates Event.
type EventType string

const (
	EventMessage      EventType = "message"
	EventPairing      EventType = "pairing"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
)

// Event is one item on a transport's ordered event stream.
type Event struct {
	Type EventType

	// EventMessage
	Key         MessageKey
	PushName    string
	Content     Content
	Timestamp   time.Time
	SenderPhone string

	// EventPairing
	PairingArtifact string

	// EventConnected
	Self Self

	// EventDisconnected
	Recoverable bool
	Reason      string

	// EventError
	Err error
}

// Transport is a live protocol session for one connection instance.
type Transport interface {
	Connect(ctx context.Context) (ConnectResult, error)
	Status() Status
	Self() Self
	Send(ctx context.Context, address string, content OutboundContent) (SendResult, error)
	// Events is ordered per instance and closed when the transport is closed.
	Events() <-chan Event
	// Logout revokes the session on the network. Session material becomes unusable.
	Logout(ctx context.Context) error
	// Close drops the socket but keeps session material.
	Close() error
}

// ContactNameLookup is implemented by transports with a contact cache.
type ContactNameLookup interface {
	LookupContactName(ctx context.Context, address string) (string, bool)
}

// ChatSubjectLookup is implemented by transports with a chat metadata cache.
type ChatSubjectLookup interface {
	LookupChatSubject(ctx context.Context, address string) (string, bool)
}

// NumberChecker reports whether a phone number is registered on the network.
type NumberChecker interface {
	IsOnNetwork(ctx context.Context, phone string) (bool, error)
}

// Factory builds a transport for an instance whose session material lives at location.
type Factory interface {
	New(instanceID, sessionLocation string) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(instanceID, sessionLocation string) (Transport, error)

// New implements Factory.
func (f FactoryFunc) New(instanceID, sessionLocation string) (Transport, error) {
	return f(instanceID, sessionLocation)
}

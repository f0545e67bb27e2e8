// Package messaging ingests inbound chat messages and dispatches outbound ones.
package messaging

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/chatlink/internal/identity"
)

// Direction of a message relative to the connected account.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ContentKind is the stored classification of a message payload.
type ContentKind string

const (
	ContentText        ContentKind = "text"
	ContentImage       ContentKind = "image"
	ContentVideo       ContentKind = "video"
	ContentDocument    ContentKind = "document"
	ContentUnsupported ContentKind = "unsupported"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Message is a persisted chat message. Only Status, AutoReplied and the reply and
// protocol ids recorded on send change after creation.
type Message struct {
	ID                  uuid.UUID     `json:"id"`
	ConnectionID        string        `json:"connection_id"`
	ProtocolMessageID   string        `json:"protocol_message_id,omitempty"`
	Direction           Direction     `json:"direction"`
	AddressKind         identity.Kind `json:"address_kind"`
	CounterpartyAddress string        `json:"counterparty_address"`
	CounterpartyPhone   string        `json:"counterparty_phone,omitempty"`
	CounterpartyName    string        `json:"counterparty_name,omitempty"`
	ContentKind         ContentKind   `json:"content_kind"`
	Text                string        `json:"text"`
	Status              Status        `json:"status"`
	FailureReason       string        `json:"failure_reason,omitempty"`
	Timestamp           time.Time     `json:"timestamp"`
	AutoReplied         bool          `json:"auto_replied"`
	ReplyMessageID      *uuid.UUID    `json:"reply_message_id,omitempty"`
	ReplyToMessageID    *uuid.UUID    `json:"reply_to_message_id,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

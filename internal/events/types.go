package events

import "time"

// Event type names.
const (
	TypeConnectionStateChanged = "connection.state.changed.v1"
	TypeMessageReceived        = "messaging.message.received.v1"
	TypeMessageSent            = "messaging.message.sent.v1"
	TypeThreadEscalated        = "support.thread.escalated.v1"
	TypeThreadResolved         = "support.thread.resolved.v1"
)

// ConnectionStateChangedV1 is emitted on every connection instance transition.
type ConnectionStateChangedV1 struct {
	InstanceID      string    `json:"instance_id"`
	Status          string    `json:"status"`
	PreviousStatus  string    `json:"previous_status"`
	PhoneNumber     string    `json:"phone_number,omitempty"`
	PairingArtifact string    `json:"pairing_artifact,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	ChangedAt       time.Time `json:"changed_at"`
}

func (ConnectionStateChangedV1) EventType() string { return TypeConnectionStateChanged }

func (e ConnectionStateChangedV1) AggregateKey() string { return "connection:" + e.InstanceID }

// MessageReceivedV1 is emitted once an inbound message is persisted.
type MessageReceivedV1 struct {
	MessageID           string    `json:"message_id"`
	ConnectionID        string    `json:"connection_id"`
	ProtocolMessageID   string    `json:"protocol_message_id"`
	AddressKind         string    `json:"address_kind"`
	CounterpartyAddress string    `json:"counterparty_address"`
	CounterpartyName    string    `json:"counterparty_name,omitempty"`
	ContentKind         string    `json:"content_kind"`
	Text                string    `json:"text"`
	AutomationEnabled   bool      `json:"automation_enabled"`
	ReceivedAt          time.Time `json:"received_at"`
}

func (MessageReceivedV1) EventType() string { return TypeMessageReceived }

func (e MessageReceivedV1) AggregateKey() string { return "connection:" + e.ConnectionID }

// MessageSentV1 is emitted when the transport accepted an outbound message.
type MessageSentV1 struct {
	MessageID           string    `json:"message_id"`
	ConnectionID        string    `json:"connection_id"`
	ProtocolMessageID   string    `json:"protocol_message_id"`
	CounterpartyAddress string    `json:"counterparty_address"`
	Text                string    `json:"text"`
	ReplyToMessageID    string    `json:"reply_to_message_id,omitempty"`
	SentAt              time.Time `json:"sent_at"`
}

func (MessageSentV1) EventType() string { return TypeMessageSent }

func (e MessageSentV1) AggregateKey() string { return "connection:" + e.ConnectionID }

// ThreadEscalatedV1 signals that a conversation needs a human.
type ThreadEscalatedV1 struct {
	ConnectionID        string    `json:"connection_id"`
	CounterpartyAddress string    `json:"counterparty_address"`
	MessageID           string    `json:"message_id"`
	MatchedTerms        []string  `json:"matched_terms,omitempty"`
	EscalatedAt         time.Time `json:"escalated_at"`
}

func (ThreadEscalatedV1) EventType() string { return TypeThreadEscalated }

func (e ThreadEscalatedV1) AggregateKey() string {
	return "thread:" + e.ConnectionID + ":" + e.CounterpartyAddress
}

// ThreadResolvedV1 signals that a conversation was closed by the counterparty.
type ThreadResolvedV1 struct {
	ConnectionID        string    `json:"connection_id"`
	CounterpartyAddress string    `json:"counterparty_address"`
	MessageID           string    `json:"message_id"`
	MatchedTerms        []string  `json:"matched_terms,omitempty"`
	ResolvedAt          time.Time `json:"resolved_at"`
}

func (ThreadResolvedV1) EventType() string { return TypeThreadResolved }

func (e ThreadResolvedV1) AggregateKey() string {
	return "thread:" + e.ConnectionID + ":" + e.CounterpartyAddress
}

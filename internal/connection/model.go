// Package connection owns connection instances: their persisted records, their
// session material and the live transport handles that serve them.
package connection

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a connection instance.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

var (
	ErrDuplicateInstance = errors.New("connection: instance already exists")
	ErrNotFound          = errors.New("connection: instance not found")
	ErrTransport         = errors.New("connection: transport error")
)

// Instance is the persisted record of one account's chat network session.
type Instance struct {
	InstanceID        string    `json:"instance_id"`
	DisplayName       string    `json:"display_name"`
	PhoneNumber       string    `json:"phone_number,omitempty"`
	Status            Status    `json:"status"`
	PairingArtifact   string    `json:"pairing_artifact,omitempty"`
	LastActivityAt    time.Time `json:"last_activity_at,omitempty"`
	AutomationEnabled bool      `json:"automation_enabled"`
	MessagesReceived  int64     `json:"messages_received"`
	MessagesSent      int64     `json:"messages_sent"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ClaimsLiveSession reports whether the record says a session was active, which
// is what lazy reconnects and startup restore key off.
func (i Instance) ClaimsLiveSession() bool {
	return i.Status == StatusConnected || i.Status == StatusConnecting
}

// StateUpdate describes a transition. PhoneNumber is only written when non-empty;
// PairingArtifact is always written (empty clears it).
type StateUpdate struct {
	Status          Status
	PhoneNumber     string
	PairingArtifact string
	Reason          string
}

// Package memtransport is an in-memory chat network used in development mode and tests.
package memtransport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/chatlink/internal/transport"
)

// Sent records one outbound call.
type Sent struct {
	Address string
	Content transport.OutboundContent
	ID      string
}

// Network is a shared fake network. It owns session material keyed by location, so a
// second transport built for the same location resumes without pairing.
type Network struct {
	mu         sync.Mutex
	sessions   map[string]transport.Self
	transports map[string]*Transport
	created    map[string]int
	registered map[string]bool
	contacts   map[string]string
	subjects   map[string]string
	connectErr error
	seq        int
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		sessions:   make(map[string]transport.Self),
		transports: make(map[string]*Transport),
		created:    make(map[string]int),
		registered: make(map[string]bool),
		contacts:   make(map[string]string),
		subjects:   make(map[string]string),
	}
}

// New implements transport.Factory.
func (n *Network) New(instanceID, sessionLocation string) (transport.Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &Transport{
		net:        n,
		instanceID: instanceID,
		location:   sessionLocation,
		status:     transport.StatusDisconnected,
		events:     make(chan transport.Event, 256),
		done:       make(chan struct{}),
	}
	n.transports[instanceID] = t
	n.created[instanceID]++
	return t, nil
}

// Created reports how many transports were built for instanceID.
func (n *Network) Created(instanceID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.created[instanceID]
}

// Transport returns the most recent transport built for instanceID.
func (n *Network) Transport(instanceID string) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.transports[instanceID]
}

// SeedSession stores valid session material at location.
func (n *Network) SeedSession(location string, self transport.Self) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions[location] = self
}

// HasSession reports whether valid session material exists at location.
func (n *Network) HasSession(location string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.sessions[location]
	return ok
}

// FailConnects makes every subsequent Connect return err (nil clears it).
func (n *Network) FailConnects(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connectErr = err
}

// RegisterNumber marks a phone as present on the network.
func (n *Network) RegisterNumber(phone string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registered[phone] = true
}

// SetContactName seeds the contact cache.
func (n *Network) SetContactName(address, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.contacts[address] = name
}

// SetChatSubject seeds the chat metadata cache.
func (n *Network) SetChatSubject(address, subject string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects[address] = subject
}

func (n *Network) nextID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	return fmt.Sprintf("MEM%06d", n.seq)
}

// Transport is a single fake session.
type Transport struct {
	net        *Network
	instanceID string
	location   string

	mu           sync.Mutex
	status       transport.Status
	self         transport.Self
	sent         []Sent
	sendErr      error
	dropIDs      bool
	sendDelay    time.Duration
	connectCalls int
	pairings     int
	loggedOut    bool

	emitMu    sync.RWMutex
	events    chan transport.Event
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)
var _ transport.ContactNameLookup = (*Transport)(nil)
var _ transport.ChatSubjectLookup = (*Transport)(nil)
var _ transport.NumberChecker = (*Transport)(nil)

// Connect resumes stored session material or starts a pairing.
func (t *Transport) Connect(ctx context.Context) (transport.ConnectResult, error) {
	if err := ctx.Err(); err != nil {
		return transport.ConnectResult{}, err
	}
	if t.isClosed() {
		return transport.ConnectResult{}, transport.ErrClosed
	}
	t.net.mu.Lock()
	connectErr := t.net.connectErr
	self, ok := t.net.sessions[t.location]
	t.net.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectCalls++
	if connectErr != nil {
		return transport.ConnectResult{}, connectErr
	}
	if ok {
		t.status = transport.StatusConnected
		t.self = self
		return transport.ConnectResult{Status: transport.StatusConnected, Self: self}, nil
	}
	t.status = transport.StatusPairing
	t.pairings++
	return transport.ConnectResult{
		Status:          transport.StatusPairing,
		PairingArtifact: fmt.Sprintf("pair:%s:%d", t.instanceID, t.pairings),
	}, nil
}

// Status implements transport.Transport.
func (t *Transport) Status() transport.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Self implements transport.Transport.
func (t *Transport) Self() transport.Self {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.self
}

// Send records the message and returns a generated protocol id.
func (t *Transport) Send(ctx context.Context, address string, content transport.OutboundContent) (transport.SendResult, error) {
	t.mu.Lock()
	delay := t.sendDelay
	t.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return transport.SendResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != transport.StatusConnected {
		return transport.SendResult{}, errors.New("memtransport: not connected")
	}
	if t.sendErr != nil {
		err := t.sendErr
		t.sendErr = nil
		return transport.SendResult{}, err
	}
	id := t.net.nextID()
	if t.dropIDs {
		id = ""
	}
	t.sent = append(t.sent, Sent{Address: address, Content: content, ID: id})
	return transport.SendResult{ID: id}, nil
}

// Events implements transport.Transport.
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Logout wipes the session material this transport was using.
func (t *Transport) Logout(ctx context.Context) error {
	t.net.mu.Lock()
	delete(t.net.sessions, t.location)
	t.net.mu.Unlock()
	t.mu.Lock()
	t.status = transport.StatusDisconnected
	t.loggedOut = true
	t.mu.Unlock()
	return nil
}

// Close stops the event stream.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.emitMu.Lock()
		close(t.events)
		t.emitMu.Unlock()
		t.mu.Lock()
		if t.status != transport.StatusDisconnected {
			t.status = transport.StatusDisconnected
		}
		t.mu.Unlock()
	})
	return nil
}

// LookupContactName implements transport.ContactNameLookup.
func (t *Transport) LookupContactName(_ context.Context, address string) (string, bool) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	name, ok := t.net.contacts[address]
	return name, ok && name != ""
}

// LookupChatSubject implements transport.ChatSubjectLookup.
func (t *Transport) LookupChatSubject(_ context.Context, address string) (string, bool) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	subject, ok := t.net.subjects[address]
	return subject, ok && subject != ""
}

// IsOnNetwork implements transport.NumberChecker.
func (t *Transport) IsOnNetwork(_ context.Context, phone string) (bool, error) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	return t.net.registered[phone], nil
}

// CompletePairing simulates the user scanning the pairing artifact.
func (t *Transport) CompletePairing(self transport.Self) {
	t.net.SeedSession(t.location, self)
	t.mu.Lock()
	t.status = transport.StatusConnected
	t.self = self
	t.mu.Unlock()
	t.emit(transport.Event{Type: transport.EventConnected, Self: self})
}

// RefreshPairing emits a new pairing artifact.
func (t *Transport) RefreshPairing(artifact string) {
	t.emit(transport.Event{Type: transport.EventPairing, PairingArtifact: artifact})
}

// Drop simulates the socket closing.
func (t *Transport) Drop(recoverable bool, reason string) {
	if !recoverable {
		t.net.mu.Lock()
		delete(t.net.sessions, t.location)
		t.net.mu.Unlock()
	}
	t.mu.Lock()
	t.status = transport.StatusDisconnected
	t.mu.Unlock()
	t.emit(transport.Event{Type: transport.EventDisconnected, Recoverable: recoverable, Reason: reason})
}

// Fail emits a transport error event.
func (t *Transport) Fail(err error) {
	t.emit(transport.Event{Type: transport.EventError, Err: err})
}

// Inject delivers an inbound message event.
func (t *Transport) Inject(evt transport.Event) {
	evt.Type = transport.EventMessage
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	t.emit(evt)
}

// FailNextSend makes the next Send return err.
func (t *Transport) FailNextSend(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

// OmitSendIDs makes Send succeed without a protocol id.
func (t *Transport) OmitSendIDs(omit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropIDs = omit
}

// SetSendDelay slows every Send down.
func (t *Transport) SetSendDelay(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendDelay = d
}

// SentMessages returns a copy of everything sent so far.
func (t *Transport) SentMessages() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Sent, len(t.sent))
	copy(out, t.sent)
	return out
}

// ConnectCalls reports how many times Connect ran.
func (t *Transport) ConnectCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectCalls
}

// LoggedOut reports whether Logout ran.
func (t *Transport) LoggedOut() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loggedOut
}

// Closed reports whether Close ran.
func (t *Transport) Closed() bool {
	return t.isClosed()
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Transport) emit(evt transport.Event) {
	t.emitMu.RLock()
	defer t.emitMu.RUnlock()
	if t.isClosed() {
		return
	}
	select {
	case t.events <- evt:
	case <-t.done:
	}
}

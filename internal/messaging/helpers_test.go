package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/events"
	"github.com/wolfman30/chatlink/internal/transport"
	"github.com/wolfman30/chatlink/internal/transport/memtransport"
)

type activity struct {
	instanceID string
	inbound    bool
}

type fakeConns struct {
	mu         sync.Mutex
	instances  map[string]connection.Instance
	transports map[string]transport.Transport
	activity   []activity
}

func newFakeConns() *fakeConns {
	return &fakeConns{
		instances:  make(map[string]connection.Instance),
		transports: make(map[string]transport.Transport),
	}
}

func (f *fakeConns) Instance(_ context.Context, id string) (connection.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return connection.Instance{}, connection.ErrNotFound
	}
	return inst, nil
}

func (f *fakeConns) Transport(id string) (transport.Transport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.transports[id]
	return tr, ok
}

func (f *fakeConns) RecordActivity(_ context.Context, id string, inbound bool, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity = append(f.activity, activity{instanceID: id, inbound: inbound})
	return nil
}

func (f *fakeConns) setStatus(id string, status connection.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.instances[id]
	inst.Status = status
	f.instances[id] = inst
}

func (f *fakeConns) counts(id string) (received, sent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.activity {
		if a.instanceID != id {
			continue
		}
		if a.inbound {
			received++
		} else {
			sent++
		}
	}
	return received, sent
}

type recorder struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (r *recorder) Publish(_ context.Context, evt events.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) ofType(eventType string) []events.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.DomainEvent
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}

var selfAccount = transport.Self{Phone: "5511900000000", OpaqueID: "99999999@lid"}

// connectedFixture returns a Connected instance backed by a live memtransport.
func connectedFixture(t *testing.T, id string, automation bool) (*fakeConns, *memtransport.Network, *memtransport.Transport) {
	t.Helper()
	net := memtransport.NewNetwork()
	net.SeedSession("loc/"+id, selfAccount)
	raw, err := net.New(id, "loc/"+id)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if _, err := raw.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })

	conns := newFakeConns()
	conns.instances[id] = connection.Instance{
		InstanceID:        id,
		Status:            connection.StatusConnected,
		AutomationEnabled: automation,
	}
	conns.transports[id] = raw
	return conns, net, net.Transport(id)
}

func textEvent(id, remote, text string) transport.Event {
	return transport.Event{
		Type:      transport.EventMessage,
		Key:       transport.MessageKey{ID: id, RemoteAddress: remote},
		Content:   transport.Content{Kind: transport.ContentText, Text: text},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/events"
	"github.com/wolfman30/chatlink/internal/messaging"
	"github.com/wolfman30/chatlink/internal/transport"
	"github.com/wolfman30/chatlink/internal/transport/memtransport"
)

type fakeConns struct {
	mu         sync.Mutex
	instances  map[string]connection.Instance
	transports map[string]transport.Transport
	// onInstance runs before each Instance read, letting tests flip flags mid-flow.
	onInstance func(reads int)
	reads      int
}

func (f *fakeConns) Instance(_ context.Context, id string) (connection.Instance, error) {
	f.mu.Lock()
	f.reads++
	reads := f.reads
	hook := f.onInstance
	f.mu.Unlock()
	if hook != nil {
		hook(reads)
	}
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

func (f *fakeConns) RecordActivity(context.Context, string, bool, time.Time) error {
	return nil
}

func (f *fakeConns) setAutomation(id string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst := f.instances[id]
	inst.AutomationEnabled = enabled
	f.instances[id] = inst
}

type fakeProcessed struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeProcessed) MarkProcessed(_ context.Context, scope, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	k := scope + "/" + key
	if f.seen[k] {
		return false, nil
	}
	f.seen[k] = true
	return true, nil
}

type fakeThreads struct {
	mu        sync.Mutex
	blocked   map[string]bool
	escalated []ThreadSignal
	resolved  []ThreadSignal
}

func (f *fakeThreads) AutomationAllowed(_ context.Context, connectionID, counterparty string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.blocked[connectionID+"/"+counterparty], nil
}

func (f *fakeThreads) RequireHuman(_ context.Context, sig ThreadSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalated = append(f.escalated, sig)
	return nil
}

func (f *fakeThreads) MarkResolved(_ context.Context, sig ThreadSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, sig)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (r *recorder) handle(_ context.Context, evt events.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

// scriptedResponder records requests and replays canned results.
type scriptedResponder struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []Request
	// before runs inside Generate, before the result is returned.
	before func()
}

func (s *scriptedResponder) Generate(_ context.Context, req Request) (Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	before := s.before
	s.mu.Unlock()
	if before != nil {
		before()
	}
	if s.err != nil {
		return Response{}, s.err
	}
	return Response{Text: s.text}, nil
}

func (s *scriptedResponder) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

const instanceID = "acct"

type harness struct {
	conns     *fakeConns
	store     *messaging.MemoryStore
	tr        *memtransport.Transport
	raw       transport.Transport
	pipeline  *messaging.Pipeline
	queue     *MemoryQueue
	bus       *events.Bus
	rec       *recorder
	processed *fakeProcessed
	threads   *fakeThreads
	responder *scriptedResponder
	engine    *Engine
}

// newHarness wires the real pipeline and dispatcher to a connected memtransport
// instance with automation enabled.
func newHarness(t *testing.T) *harness {
	t.Helper()
	net := memtransport.NewNetwork()
	net.SeedSession("loc/"+instanceID, transport.Self{Phone: "5511900000000", OpaqueID: "99999999@lid"})
	raw, err := net.New(instanceID, "loc/"+instanceID)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if _, err := raw.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })

	h := &harness{
		conns: &fakeConns{
			instances: map[string]connection.Instance{
				instanceID: {InstanceID: instanceID, Status: connection.StatusConnected, AutomationEnabled: true},
			},
			transports: map[string]transport.Transport{instanceID: raw},
		},
		store:     messaging.NewMemoryStore(),
		tr:        net.Transport(instanceID),
		raw:       raw,
		queue:     NewMemoryQueue(16),
		bus:       events.NewBus(nil),
		rec:       &recorder{},
		processed: &fakeProcessed{},
		threads:   &fakeThreads{blocked: make(map[string]bool)},
		responder: &scriptedResponder{text: "Olá! Como posso ajudar?"},
	}
	h.bus.Subscribe(events.Wildcard, h.rec.handle)

	h.pipeline, err = messaging.NewPipeline(messaging.PipelineConfig{
		Repository:  h.store,
		Connections: h.conns,
		Publisher:   h.bus,
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	dispatcher, err := messaging.NewDispatcher(messaging.DispatcherConfig{
		Repository:  h.store,
		Connections: h.conns,
		Publisher:   h.bus,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	h.engine, err = NewEngine(EngineConfig{
		Messages:   h.store,
		Sender:     dispatcher,
		Instances:  h.conns,
		Responder:  h.responder,
		Queue:      h.queue,
		Processed:  h.processed,
		Threads:    h.threads,
		Publisher:  h.bus,
		WindowSize: 10,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine.Attach(h.bus)
	return h
}

// receive ingests a text message from remote and returns the stored row.
func (h *harness) receive(t *testing.T, protocolID, remote, text string) messaging.Message {
	t.Helper()
	msg, outcome, err := h.pipeline.Ingest(context.Background(), instanceID, h.raw, transport.Event{
		Type:      transport.EventMessage,
		Key:       transport.MessageKey{ID: protocolID, RemoteAddress: remote},
		Content:   transport.Content{Kind: transport.ContentText, Text: text},
		Timestamp: time.Now().UTC(),
	})
	if err != nil || outcome != messaging.OutcomeStored {
		t.Fatalf("ingest %s: outcome=%s err=%v", protocolID, outcome, err)
	}
	return msg
}

// drain processes every queued job and returns the outcomes in order.
func (h *harness) drain(t *testing.T) []Outcome {
	t.Helper()
	var outcomes []Outcome
	for h.queue.Len() > 0 {
		msgs, err := h.queue.Receive(context.Background(), 10, 0)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		for _, m := range msgs {
			job, err := decodeJob(m.Body)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			outcome, _ := h.engine.Process(context.Background(), job)
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/http/middleware"
	"github.com/wolfman30/chatlink/internal/messaging"
	"github.com/wolfman30/chatlink/internal/transport"
	"github.com/wolfman30/chatlink/internal/transport/memtransport"
)

// fakeManager is an in-memory ConnectionManager.
type fakeManager struct {
	mu        sync.Mutex
	instances map[string]connection.Instance
	connErr   error
}

func newFakeManager() *fakeManager {
	return &fakeManager{instances: make(map[string]connection.Instance)}
}

func (f *fakeManager) Create(_ context.Context, id, displayName, phone string) (connection.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[id]; ok {
		return connection.Instance{}, connection.ErrDuplicateInstance
	}
	if displayName == "" {
		displayName = id
	}
	inst := connection.Instance{
		InstanceID:      id,
		DisplayName:     displayName,
		PhoneNumber:     phone,
		Status:          connection.StatusConnecting,
		PairingArtifact: "pair:" + id + ":1",
	}
	f.instances[id] = inst
	return inst, nil
}

func (f *fakeManager) get(id string) (connection.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return connection.Instance{}, connection.ErrNotFound
	}
	return inst, nil
}

func (f *fakeManager) Connect(_ context.Context, id string) (connection.Instance, error) {
	inst, err := f.get(id)
	if err != nil {
		return inst, err
	}
	if f.connErr != nil {
		return connection.Instance{}, f.connErr
	}
	return inst, nil
}

func (f *fakeManager) GetStatus(_ context.Context, id string) (connection.Instance, error) {
	return f.get(id)
}

func (f *fakeManager) List(context.Context) ([]connection.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]connection.Instance, 0, len(f.instances))
	for _, inst := range f.instances {
		out = append(out, inst)
	}
	return out, nil
}

func (f *fakeManager) SetAutomation(_ context.Context, id string, enabled bool) (connection.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return connection.Instance{}, connection.ErrNotFound
	}
	inst.AutomationEnabled = enabled
	f.instances[id] = inst
	return inst, nil
}

func (f *fakeManager) Logout(_ context.Context, id string) (connection.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[id]
	if !ok {
		return connection.Instance{}, connection.ErrNotFound
	}
	inst.Status = connection.StatusDisconnected
	inst.PairingArtifact = ""
	f.instances[id] = inst
	return inst, nil
}

func (f *fakeManager) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, id)
	return nil
}

// liveConns serves one connected memtransport instance to the dispatcher.
type liveConns struct {
	inst connection.Instance
	tr   transport.Transport
}

func (c *liveConns) Instance(_ context.Context, id string) (connection.Instance, error) {
	if id != c.inst.InstanceID {
		return connection.Instance{}, connection.ErrNotFound
	}
	return c.inst, nil
}

func (c *liveConns) Transport(id string) (transport.Transport, bool) {
	if id != c.inst.InstanceID || c.tr == nil {
		return nil, false
	}
	return c.tr, true
}

func (c *liveConns) RecordActivity(context.Context, string, bool, time.Time) error { return nil }

type messagingFixture struct {
	store      *messaging.MemoryStore
	dispatcher *messaging.Dispatcher
	tr         *memtransport.Transport
	conns      *liveConns
}

// newMessagingFixture wires a real dispatcher to a connected memtransport instance "acct".
func newMessagingFixture(t *testing.T) *messagingFixture {
	t.Helper()
	net := memtransport.NewNetwork()
	net.SeedSession("loc/acct", transport.Self{Phone: "5511900000000"})
	raw, err := net.New("acct", "loc/acct")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	if _, err := raw.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })

	conns := &liveConns{
		inst: connection.Instance{InstanceID: "acct", Status: connection.StatusConnected},
		tr:   raw,
	}
	store := messaging.NewMemoryStore()
	dispatcher, err := messaging.NewDispatcher(messaging.DispatcherConfig{
		Repository:      store,
		Connections:     conns,
		BulkMaxContacts: 3,
		BulkMinDelay:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return &messagingFixture{store: store, dispatcher: dispatcher, tr: net.Transport("acct"), conns: conns}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func connectionRoutes(h *ConnectionsHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/connections", h.Create)
	r.Get("/connections", h.List)
	r.Get("/connections/{id}", h.Get)
	r.Post("/connections/{id}/connect", h.Connect)
	r.Post("/connections/{id}/logout", h.Logout)
	r.Delete("/connections/{id}", h.Delete)
	r.Put("/connections/{id}/automation", h.SetAutomation)
	return r
}

func messageRoutes(h *MessagesHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/connections/{id}/messages", h.Send)
	r.Post("/connections/{id}/messages/bulk", h.SendBulk)
	r.Get("/connections/{id}/conversations/{address}", h.Conversation)
	return r
}

const testSecret = "test-secret"

func operatorToken(t *testing.T, instances []string) string {
	t.Helper()
	claims := middleware.AdminClaims{
		Instances: instances,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

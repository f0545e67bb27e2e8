package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/chatlink/internal/http/middleware"
	"github.com/wolfman30/chatlink/pkg/logging"
)

type stubManager struct {
	instances map[string]connection.Instance
}

func (s *stubManager) Create(_ context.Context, id, name, phone string) (connection.Instance, error) {
	inst := connection.Instance{InstanceID: id, DisplayName: name, PhoneNumber: phone, Status: connection.StatusConnecting}
	s.instances[id] = inst
	return inst, nil
}

func (s *stubManager) get(id string) (connection.Instance, error) {
	inst, ok := s.instances[id]
	if !ok {
		return connection.Instance{}, connection.ErrNotFound
	}
	return inst, nil
}

func (s *stubManager) Connect(_ context.Context, id string) (connection.Instance, error) {
	return s.get(id)
}

func (s *stubManager) GetStatus(_ context.Context, id string) (connection.Instance, error) {
	return s.get(id)
}

func (s *stubManager) List(context.Context) ([]connection.Instance, error) {
	out := make([]connection.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	return out, nil
}

func (s *stubManager) SetAutomation(_ context.Context, id string, enabled bool) (connection.Instance, error) {
	inst, err := s.get(id)
	inst.AutomationEnabled = enabled
	return inst, err
}

func (s *stubManager) Logout(_ context.Context, id string) (connection.Instance, error) {
	return s.get(id)
}

func (s *stubManager) Delete(_ context.Context, id string) error {
	delete(s.instances, id)
	return nil
}

func newTestRouter(t *testing.T, secret string, checks map[string]func(context.Context) error) http.Handler {
	t.Helper()
	logger := logging.Default()
	mgr := &stubManager{instances: map[string]connection.Instance{
		"acct":  {InstanceID: "acct", Status: connection.StatusConnected},
		"other": {InstanceID: "other", Status: connection.StatusDisconnected},
	}}
	return New(&Config{
		Logger:          logger,
		Connections:     handlers.NewConnectionsHandler(mgr, logger),
		AdminAuthSecret: secret,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		ReadinessChecks: checks,
	})
}

func bearer(t *testing.T, secret string, instances []string) string {
	t.Helper()
	claims := httpmiddleware.AdminClaims{
		Instances: instances,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterReadiness(t *testing.T) {
	router := newTestRouter(t, "", map[string]func(context.Context) error{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Checks["postgres"] != "ok" || resp.Checks["redis"] != "connection refused" {
		t.Fatalf("unexpected checks: %+v", resp.Checks)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t, "", nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "# metrics") {
		t.Fatalf("unexpected metrics response: %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterConnectionsWithoutAuth(t *testing.T) {
	router := newTestRouter(t, "", nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/connections/acct", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/connections", strings.NewReader(`{"instance_id":"new"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterConnectionsRequireToken(t *testing.T) {
	const secret = "s3cret"
	router := newTestRouter(t, secret, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/connections", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/connections/acct", nil)
	req.Header.Set("Authorization", bearer(t, secret, []string{"acct"}))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for scoped instance, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/connections/other", nil)
	req.Header.Set("Authorization", bearer(t, secret, []string{"acct"}))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 outside token scope, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("health must stay public, got %d", rr.Code)
	}
}

func TestRouterUnknownInstance(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(t, "", nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/connections/ghost", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

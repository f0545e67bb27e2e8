package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/http/middleware"
	"github.com/wolfman30/chatlink/pkg/logging"
)

// ConnectionManager is the slice of connection.Manager the API drives.
type ConnectionManager interface {
	Create(ctx context.Context, instanceID, displayName, phone string) (connection.Instance, error)
	Connect(ctx context.Context, instanceID string) (connection.Instance, error)
	GetStatus(ctx context.Context, instanceID string) (connection.Instance, error)
	List(ctx context.Context) ([]connection.Instance, error)
	SetAutomation(ctx context.Context, instanceID string, enabled bool) (connection.Instance, error)
	Logout(ctx context.Context, instanceID string) (connection.Instance, error)
	Delete(ctx context.Context, instanceID string) error
}

// ConnectionsHandler serves connection instance lifecycle endpoints.
type ConnectionsHandler struct {
	manager ConnectionManager
	logger  *logging.Logger
}

func NewConnectionsHandler(manager ConnectionManager, logger *logging.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{
		manager: manager,
		logger:  logging.OrDefault(logger).Component("http.connections"),
	}
}

type createConnectionRequest struct {
	InstanceID  string `json:"instance_id"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
}

type automationRequest struct {
	Enabled *bool `json:"enabled"`
}

// Create handles POST /connections. The response carries the instance as it
// stands after the first connect attempt, including any pairing artifact.
func (h *ConnectionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.InstanceID = strings.TrimSpace(req.InstanceID)
	if req.InstanceID == "" {
		writeError(w, http.StatusBadRequest, "instance_id is required")
		return
	}
	if claims, ok := middleware.AdminClaimsFromContext(r.Context()); ok && !claims.CanAccess(req.InstanceID) {
		writeError(w, http.StatusForbidden, "instance not permitted")
		return
	}
	inst, err := h.manager.Create(r.Context(), req.InstanceID, strings.TrimSpace(req.DisplayName), strings.TrimSpace(req.Phone))
	if err != nil {
		writeDomainError(w, h.logger, "create connection", err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// List handles GET /connections, limited to the instances the caller's token covers.
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	instances, err := h.manager.List(r.Context())
	if err != nil {
		writeDomainError(w, h.logger, "list connections", err)
		return
	}
	out := make([]connection.Instance, 0, len(instances))
	claims, scoped := middleware.AdminClaimsFromContext(r.Context())
	for _, inst := range instances {
		if scoped && !claims.CanAccess(inst.InstanceID) {
			continue
		}
		out = append(out, inst)
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": out})
}

// Get handles GET /connections/{id}. A record that claims a live session but has
// no transport handle is reconnected before answering.
func (h *ConnectionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	inst, err := h.manager.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, "get connection", err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *ConnectionsHandler) Connect(w http.ResponseWriter, r *http.Request) {
	inst, err := h.manager.Connect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, "connect", err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *ConnectionsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	inst, err := h.manager.Logout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, "logout", err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *ConnectionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, h.logger, "delete connection", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAutomation handles PUT /connections/{id}/automation.
func (h *ConnectionsHandler) SetAutomation(w http.ResponseWriter, r *http.Request) {
	var req automationRequest
	if err := decodeJSON(r, &req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	inst, err := h.manager.SetAutomation(r.Context(), chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		writeDomainError(w, h.logger, "set automation", err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

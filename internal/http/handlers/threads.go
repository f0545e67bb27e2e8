package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/chatlink/internal/support"
	"github.com/wolfman30/chatlink/pkg/logging"
)

// ThreadService lists conversation threads and hands them back to automation.
type ThreadService interface {
	List(ctx context.Context, connectionID string, state support.State) ([]support.Thread, error)
	Reopen(ctx context.Context, connectionID, counterparty string) error
}

// ThreadsHandler serves the operator view of escalated and resolved threads.
type ThreadsHandler struct {
	threads ThreadService
	logger  *logging.Logger
}

func NewThreadsHandler(threads ThreadService, logger *logging.Logger) *ThreadsHandler {
	return &ThreadsHandler{
		threads: threads,
		logger:  logging.OrDefault(logger).Component("http.threads"),
	}
}

// List handles GET /connections/{id}/threads?state=needs_human.
func (h *ThreadsHandler) List(w http.ResponseWriter, r *http.Request) {
	state := support.State(strings.TrimSpace(r.URL.Query().Get("state")))
	switch state {
	case "", support.StateOpen, support.StateNeedsHuman, support.StateResolved:
	default:
		writeError(w, http.StatusBadRequest, "unknown state")
		return
	}
	threads, err := h.threads.List(r.Context(), chi.URLParam(r, "id"), state)
	if err != nil {
		writeDomainError(w, h.logger, "list threads", err)
		return
	}
	if threads == nil {
		threads = []support.Thread{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

// Reopen handles POST /connections/{id}/threads/{address}/reopen.
func (h *ThreadsHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	address, err := url.PathUnescape(chi.URLParam(r, "address"))
	if err != nil || strings.TrimSpace(address) == "" {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	if err := h.threads.Reopen(r.Context(), chi.URLParam(r, "id"), address); err != nil {
		writeDomainError(w, h.logger, "reopen thread", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

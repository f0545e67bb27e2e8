package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/chatlink/internal/support"
)

type fakeThreadService struct {
	threads  []support.Thread
	reopened []string
}

func (f *fakeThreadService) List(_ context.Context, connectionID string, state support.State) ([]support.Thread, error) {
	var out []support.Thread
	for _, t := range f.threads {
		if t.ConnectionID == connectionID && (state == "" || t.State == state) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeThreadService) Reopen(_ context.Context, connectionID, counterparty string) error {
	for _, t := range f.threads {
		if t.ConnectionID == connectionID && t.CounterpartyAddress == counterparty {
			f.reopened = append(f.reopened, counterparty)
			return nil
		}
	}
	return support.ErrThreadNotFound
}

func threadRoutes(h *ThreadsHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/connections/{id}/threads", h.List)
	r.Post("/connections/{id}/threads/{address}/reopen", h.Reopen)
	return r
}

func TestThreads_ListFiltersByState(t *testing.T) {
	svc := &fakeThreadService{threads: []support.Thread{
		{ConnectionID: "acct", CounterpartyAddress: "a@lid", State: support.StateNeedsHuman, AutomationDisabled: true},
		{ConnectionID: "acct", CounterpartyAddress: "b@lid", State: support.StateResolved},
		{ConnectionID: "other", CounterpartyAddress: "c@lid", State: support.StateNeedsHuman},
	}}
	h := threadRoutes(NewThreadsHandler(svc, nil))

	rec := doJSON(t, h, http.MethodGet, "/connections/acct/threads?state=needs_human", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Threads []support.Thread `json:"threads"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Threads, 1)
	assert.Equal(t, "a@lid", body.Threads[0].CounterpartyAddress)

	rec = doJSON(t, h, http.MethodGet, "/connections/empty/threads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"threads":[]}`, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/connections/acct/threads?state=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestThreads_Reopen(t *testing.T) {
	svc := &fakeThreadService{threads: []support.Thread{
		{ConnectionID: "acct", CounterpartyAddress: "a@lid", State: support.StateNeedsHuman},
	}}
	h := threadRoutes(NewThreadsHandler(svc, nil))

	rec := doJSON(t, h, http.MethodPost, "/connections/acct/threads/a@lid/reopen", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"a@lid"}, svc.reopened)

	rec = doJSON(t, h, http.MethodPost, "/connections/acct/threads/missing@lid/reopen", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Package handlers serves the operator REST API over connection instances and
// their messages.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/identity"
	"github.com/wolfman30/chatlink/internal/messaging"
	"github.com/wolfman30/chatlink/internal/support"
	"github.com/wolfman30/chatlink/pkg/logging"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads a bounded request body into out. An empty body leaves out untouched.
func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	var sendErr *messaging.SendError
	switch {
	case errors.Is(err, connection.ErrDuplicateInstance):
		return http.StatusConflict
	case errors.Is(err, connection.ErrNotFound),
		errors.Is(err, messaging.ErrNotFound),
		errors.Is(err, support.ErrThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, messaging.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, messaging.ErrBatchTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &sendErr), errors.Is(err, connection.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, messaging.ErrEmptyContent),
		errors.Is(err, messaging.ErrNoRecipients),
		errors.Is(err, identity.ErrInvalidDestination):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError logs unexpected failures and answers with the mapped status.
func writeDomainError(w http.ResponseWriter, logger *logging.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(op+" failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

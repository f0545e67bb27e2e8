package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/chatlink/internal/messaging"
	"github.com/wolfman30/chatlink/internal/transport"
	"github.com/wolfman30/chatlink/pkg/logging"
)

const (
	defaultConversationLimit = 50
	maxConversationLimit     = 500
)

// MessageSender is the outbound side of messaging.Dispatcher.
type MessageSender interface {
	Send(ctx context.Context, connectionID, destination string, content transport.OutboundContent, opts ...messaging.SendOption) (messaging.Message, error)
	SendBulk(ctx context.Context, connectionID string, contacts []string, text string, delay time.Duration) (messaging.BulkResult, error)
}

// ConversationReader lists stored messages for one counterparty.
type ConversationReader interface {
	ListConversation(ctx context.Context, connectionID, counterparty string, limit int) ([]messaging.Message, error)
}

// MessagesHandler serves manual sends, bulk sends and conversation history.
type MessagesHandler struct {
	sender MessageSender
	reader ConversationReader
	logger *logging.Logger
}

func NewMessagesHandler(sender MessageSender, reader ConversationReader, logger *logging.Logger) *MessagesHandler {
	return &MessagesHandler{
		sender: sender,
		reader: reader,
		logger: logging.OrDefault(logger).Component("http.messages"),
	}
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type bulkContact struct {
	Address string `json:"address"`
}

type bulkSendRequest struct {
	Contacts []bulkContact `json:"contacts"`
	Text     string        `json:"text"`
	DelayMS  int64         `json:"delay_ms"`
}

// Send handles POST /connections/{id}/messages. A send the transport refused
// answers 502 with the Failed record so the caller can see what was stored.
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.To) == "" {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}
	msg, err := h.sender.Send(r.Context(), chi.URLParam(r, "id"), req.To, transport.OutboundContent{Text: req.Text})
	if err != nil {
		if statusFor(err) == http.StatusBadGateway && msg.ConnectionID != "" {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "message": msg})
			return
		}
		writeDomainError(w, h.logger, "send message", err)
		return
	}
	writeJSON(w, http.StatusAccepted, msg)
}

// SendBulk handles POST /connections/{id}/messages/bulk. The request stays open
// for the whole batch; per-contact failures are reported in the body.
func (h *MessagesHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkSendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DelayMS < 0 {
		writeError(w, http.StatusBadRequest, "delay_ms must not be negative")
		return
	}
	contacts := make([]string, 0, len(req.Contacts))
	for _, c := range req.Contacts {
		contacts = append(contacts, c.Address)
	}
	delay := time.Duration(req.DelayMS) * time.Millisecond
	result, err := h.sender.SendBulk(r.Context(), chi.URLParam(r, "id"), contacts, req.Text, delay)
	if err != nil && len(result.Outcomes) == 0 {
		writeDomainError(w, h.logger, "bulk send", err)
		return
	}
	if err != nil {
		h.logger.Warn("bulk send interrupted", "instance_id", chi.URLParam(r, "id"), "error", err)
	}
	writeJSON(w, http.StatusOK, result)
}

// Conversation handles GET /connections/{id}/conversations/{address}?limit=.
func (h *MessagesHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	address, err := url.PathUnescape(chi.URLParam(r, "address"))
	if err != nil || strings.TrimSpace(address) == "" {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	limit := defaultConversationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxConversationLimit)
	}
	msgs, err := h.reader.ListConversation(r.Context(), chi.URLParam(r, "id"), address, limit)
	if err != nil {
		writeDomainError(w, h.logger, "list conversation", err)
		return
	}
	if msgs == nil {
		msgs = []messaging.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

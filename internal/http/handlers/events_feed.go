package handlers

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/chatlink/internal/events"
	"github.com/wolfman30/chatlink/pkg/logging"
)

const defaultFeedBuffer = 64

// EventSubscriber is the subscription side of events.Bus.
type EventSubscriber interface {
	Subscribe(eventType string, h events.Handler) func()
}

// FeedFrame is one websocket frame sent to a feed client.
type FeedFrame struct {
	Type  string           `json:"type"` // "subscribed", "event", "pong"
	Event *events.Envelope `json:"event,omitempty"`
}

type feedRequest struct {
	Type string `json:"type"` // "ping"
}

// EventFeedHandler streams one instance's domain events to websocket clients.
// Events are pushed from the bus without blocking it; a client that falls behind
// loses events rather than stalling publishers.
type EventFeedHandler struct {
	bus    EventSubscriber
	logger *logging.Logger
	buffer int
}

func NewEventFeedHandler(bus EventSubscriber, logger *logging.Logger) *EventFeedHandler {
	return &EventFeedHandler{
		bus:    bus,
		logger: logging.OrDefault(logger).Component("http.events"),
		buffer: defaultFeedBuffer,
	}
}

// Serve handles GET /connections/{id}/events as a websocket upgrade.
func (h *EventFeedHandler) Serve(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "id")
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(r.Context(), conn, instanceID)
	}).ServeHTTP(w, r)
}

func (h *EventFeedHandler) serveWS(ctx context.Context, conn *websocket.Conn, instanceID string) {
	log := h.logger.With("instance_id", instanceID)
	frames := make(chan FeedFrame, h.buffer)
	var dropped atomic.Int64

	unsubscribe := h.bus.Subscribe(events.Wildcard, func(_ context.Context, evt events.DomainEvent) {
		if connectionOf(evt) != instanceID {
			return
		}
		env, err := events.NewEnvelope(evt)
		if err != nil {
			log.Warn("event feed: envelope failed", "event_type", evt.EventType(), "error", err)
			return
		}
		select {
		case frames <- FeedFrame{Type: "event", Event: &env}:
		default:
			dropped.Add(1)
		}
	})
	defer unsubscribe()

	if err := websocket.JSON.Send(conn, FeedFrame{Type: "subscribed"}); err != nil {
		return
	}
	log.Info("event feed opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var req feedRequest
			if err := websocket.JSON.Receive(conn, &req); err != nil {
				return
			}
			if req.Type == "ping" {
				select {
				case frames <- FeedFrame{Type: "pong"}:
				default:
				}
			}
		}
	}()

	defer func() {
		log.Info("event feed closed", "dropped", dropped.Load())
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case frame := <-frames:
			if err := websocket.JSON.Send(conn, frame); err != nil {
				log.Debug("event feed: send failed", "error", err)
				return
			}
		}
	}
}

// connectionOf returns the instance an event belongs to.
func connectionOf(evt events.DomainEvent) string {
	switch e := evt.(type) {
	case events.ConnectionStateChangedV1:
		return e.InstanceID
	case events.MessageReceivedV1:
		return e.ConnectionID
	case events.MessageSentV1:
		return e.ConnectionID
	case events.ThreadEscalatedV1:
		return e.ConnectionID
	case events.ThreadResolvedV1:
		return e.ConnectionID
	default:
		return ""
	}
}

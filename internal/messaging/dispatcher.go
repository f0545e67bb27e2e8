package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/chatlink/internal/connection"
	"github.com/wolfman30/chatlink/internal/events"
	"github.com/wolfman30/chatlink/internal/identity"
	"github.com/wolfman30/chatlink/internal/observability/metrics"
	"github.com/wolfman30/chatlink/internal/transport"
	"github.com/wolfman30/chatlink/pkg/logging"
)

// Send origins, used as a metrics label.
const (
	OriginManual     = "manual"
	OriginBulk       = "bulk"
	OriginAutomation = "automation"
)

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Repository      Repository
	Connections     Connections
	Publisher       events.Publisher
	Metrics         *metrics.MessagingMetrics
	Logger          *logging.Logger
	BulkMaxContacts int
	BulkMinDelay    time.Duration
}

// Dispatcher sends outbound messages through an instance's live transport and
// tracks each one from Pending to Sent or Failed.
type Dispatcher struct {
	repo         Repository
	conns        Connections
	publisher    events.Publisher
	metrics      *metrics.MessagingMetrics
	logger       *logging.Logger
	bulkMax      int
	bulkMinDelay time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Repository == nil {
		return nil, errors.New("messaging: dispatcher repository required")
	}
	if cfg.Connections == nil {
		return nil, errors.New("messaging: dispatcher connections required")
	}
	if cfg.BulkMaxContacts <= 0 {
		cfg.BulkMaxContacts = 100
	}
	if cfg.BulkMinDelay <= 0 {
		cfg.BulkMinDelay = 2 * time.Second
	}
	return &Dispatcher{
		repo:         cfg.Repository,
		conns:        cfg.Connections,
		publisher:    cfg.Publisher,
		metrics:      cfg.Metrics,
		logger:       logging.OrDefault(cfg.Logger).Component("dispatcher"),
		bulkMax:      cfg.BulkMaxContacts,
		bulkMinDelay: cfg.BulkMinDelay,
		now:          time.Now,
		sleep:        sleepContext,
	}, nil
}

type sendOptions struct {
	replyTo *uuid.UUID
	origin  string
}

// SendOption customizes a single Send.
type SendOption func(*sendOptions)

// WithReplyTo links the outbound message to the inbound message it answers.
func WithReplyTo(messageID uuid.UUID) SendOption {
	return func(o *sendOptions) {
		id := messageID
		o.replyTo = &id
	}
}

// WithOrigin labels the send for metrics.
func WithOrigin(origin string) SendOption {
	return func(o *sendOptions) {
		o.origin = origin
	}
}

// Send delivers text to destination over the instance's transport. A destination
// that already carries an address marker is used verbatim; a raw phone string is
// reduced to digits in the direct form. A Pending record is written before the
// transport is called and is moved to Sent or Failed afterwards. Transport
// failures come back as *SendError and are not retried.
func (d *Dispatcher) Send(ctx context.Context, connectionID, destination string, content transport.OutboundContent, opts ...SendOption) (Message, error) {
	o := sendOptions{origin: OriginManual}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := tracer.Start(ctx, "messaging.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("connection.id", connectionID),
		attribute.String("send.origin", o.origin),
	)

	msg, err := d.send(ctx, connectionID, destination, content, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return msg, err
}

func (d *Dispatcher) send(ctx context.Context, connectionID, destination string, content transport.OutboundContent, o sendOptions) (Message, error) {
	content.Text = strings.TrimSpace(content.Text)
	if content.Text == "" {
		return Message{}, ErrEmptyContent
	}
	address, err := identity.NormalizeDestination(destination)
	if err != nil {
		return Message{}, err
	}
	tr, err := d.liveTransport(ctx, connectionID)
	if err != nil {
		return Message{}, err
	}

	kind := identity.Classify(address)
	phone, _ := identity.PhoneFromAddress(address)
	pending, err := d.repo.InsertPending(ctx, Message{
		ConnectionID:        connectionID,
		Direction:           DirectionOutbound,
		AddressKind:         kind,
		CounterpartyAddress: identity.CleanAddress(address),
		CounterpartyPhone:   phone,
		ContentKind:         ContentText,
		Text:                content.Text,
		Status:              StatusPending,
		Timestamp:           d.now(),
		ReplyToMessageID:    o.replyTo,
	})
	if err != nil {
		d.metrics.ObserveOutbound("error", o.origin)
		return Message{}, err
	}

	log := d.logger.With("instance_id", connectionID, "message_id", pending.ID, "origin", o.origin)
	started := d.now()
	res, sendErr := tr.Send(ctx, address, content)
	if sendErr == nil && strings.TrimSpace(res.ID) == "" {
		sendErr = errMissingProtocolID
	}
	d.metrics.ObserveSendLatency(sendStatus(sendErr), d.now().Sub(started).Seconds())

	if sendErr != nil {
		if err := d.repo.MarkFailed(ctx, pending.ID, sendErr.Error()); err != nil {
			log.Error("failed to mark message failed", "error", err)
		}
		pending.Status = StatusFailed
		pending.FailureReason = sendErr.Error()
		d.metrics.ObserveOutbound(string(StatusFailed), o.origin)
		log.Warn("outbound send failed", "error", sendErr)
		return pending, &SendError{Cause: sendErr}
	}

	sentAt := d.now()
	if err := d.repo.MarkSent(ctx, pending.ID, res.ID, sentAt); err != nil {
		log.Error("failed to mark message sent", "protocol_message_id", res.ID, "error", err)
	}
	pending.Status = StatusSent
	pending.ProtocolMessageID = res.ID
	pending.Timestamp = sentAt
	if err := d.conns.RecordActivity(ctx, connectionID, false, sentAt); err != nil {
		log.Warn("failed to record outbound activity", "error", err)
	}
	d.metrics.ObserveOutbound(string(StatusSent), o.origin)

	if d.publisher != nil {
		evt := events.MessageSentV1{
			MessageID:           pending.ID.String(),
			ConnectionID:        connectionID,
			ProtocolMessageID:   res.ID,
			CounterpartyAddress: pending.CounterpartyAddress,
			Text:                pending.Text,
			SentAt:              sentAt,
		}
		if o.replyTo != nil {
			evt.ReplyToMessageID = o.replyTo.String()
		}
		d.publisher.Publish(ctx, evt)
	}
	log.Info("outbound message sent", "protocol_message_id", res.ID)
	return pending, nil
}

// liveTransport returns the transport of a Connected instance or ErrNotConnected.
func (d *Dispatcher) liveTransport(ctx context.Context, connectionID string) (transport.Transport, error) {
	inst, err := d.conns.Instance(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if inst.Status != connection.StatusConnected {
		return nil, fmt.Errorf("%w: status %s", ErrNotConnected, inst.Status)
	}
	tr, ok := d.conns.Transport(connectionID)
	if !ok || tr.Status() != transport.StatusConnected {
		return nil, ErrNotConnected
	}
	return tr, nil
}

func sendStatus(err error) string {
	if err != nil {
		return string(StatusFailed)
	}
	return string(StatusSent)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
